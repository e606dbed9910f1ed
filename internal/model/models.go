package model

import (
	"time"
)

// AutomaticTransactionGeneratorConfig holds the per-station parameters that
// drive synthetic transaction generation. Delays and durations are expressed
// in seconds, StopAfterHours in hours.
type AutomaticTransactionGeneratorConfig struct {
	Enable                         bool    `yaml:"enable" json:"enable"`
	StopAfterHours                 float64 `yaml:"stopAfterHours" json:"stopAfterHours"`
	MinDelayBetweenTwoTransactions float64 `yaml:"minDelayBetweenTwoTransactions" json:"minDelayBetweenTwoTransactions"`
	MaxDelayBetweenTwoTransactions float64 `yaml:"maxDelayBetweenTwoTransactions" json:"maxDelayBetweenTwoTransactions"`
	MinDuration                    float64 `yaml:"minDuration" json:"minDuration"`
	MaxDuration                    float64 `yaml:"maxDuration" json:"maxDuration"`
	ProbabilityOfStart             float64 `yaml:"probabilityOfStart" json:"probabilityOfStart" validate:"gte=0,lte=1"`
	RequireAuthorize               bool    `yaml:"requireAuthorize" json:"requireAuthorize"`
}

// StationInfo describes one simulated charging station, expanded from a
// station template.
type StationInfo struct {
	Name                     string                              `json:"name"`
	ChargePointVendor        string                              `json:"chargePointVendor"`
	ChargePointModel         string                              `json:"chargePointModel"`
	ChargePointSerialNumber  string                              `json:"chargePointSerialNumber,omitempty"`
	FirmwareVersion          string                              `json:"firmwareVersion,omitempty"`
	NumberOfConnectors       int                                 `json:"numberOfConnectors"`
	MaximumPower             int                                 `json:"maximumPower"` // W
	AuthorizationTags        []string                            `json:"authorizationTags,omitempty"`
	SupervisionURL           string                              `json:"supervisionUrl"`
	HeartbeatInterval        int                                 `json:"heartbeatInterval"`        // seconds
	MeterValueSampleInterval int                                 `json:"meterValueSampleInterval"` // seconds
	AutomaticTransactionGenerator AutomaticTransactionGeneratorConfig `json:"automaticTransactionGenerator"`
}

// Connector represents one charging socket of a station. Id 0 denotes the
// station itself and never carries transactions.
type Connector struct {
	ID                         int       `json:"id"`
	Available                  bool      `json:"available"`
	Status                     string    `json:"status"`
	TransactionStarted         bool      `json:"transactionStarted"`
	TransactionID              int       `json:"transactionId"`
	TransactionIDTag           string    `json:"transactionIdTag,omitempty"`
	TransactionBegin           time.Time `json:"transactionBegin,omitempty"`
	EnergyActiveImportRegister int       `json:"energyActiveImportRegister"` // Wh, cumulative
	LastEnergyUpdate           time.Time `json:"-"`
}
