package station

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/albertkur/ocpp-charger-simulator/internal/atg"
	"github.com/albertkur/ocpp-charger-simulator/internal/model"
)

// Template describes a family of identical simulated stations.
type Template struct {
	NamePrefix               string   `yaml:"namePrefix" validate:"required"`
	Count                    int      `yaml:"count" validate:"gte=1"`
	ChargePointVendor        string   `yaml:"chargePointVendor" validate:"required"`
	ChargePointModel         string   `yaml:"chargePointModel" validate:"required"`
	FirmwareVersion          string   `yaml:"firmwareVersion"`
	NumberOfConnectors       int      `yaml:"numberOfConnectors"`
	MaximumPower             int      `yaml:"maximumPower"` // W
	AuthorizationTags        []string `yaml:"authorizationTags"`
	SupervisionURL           string   `yaml:"supervisionUrl"`
	HeartbeatInterval        int      `yaml:"heartbeatInterval"`        // seconds
	MeterValueSampleInterval int      `yaml:"meterValueSampleInterval"` // seconds

	AutomaticTransactionGenerator model.AutomaticTransactionGeneratorConfig `yaml:"automaticTransactionGenerator"`
}

type templateFile struct {
	Templates []Template `yaml:"templates" validate:"required,min=1,dive"`
}

var templateValidator = validator.New()

// LoadTemplates reads and validates the station template file.
func LoadTemplates(path string) ([]Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read station template file: %w", err)
	}
	var file templateFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("unmarshal station template file: %w", err)
	}
	for i := range file.Templates {
		applyTemplateDefaults(&file.Templates[i])
	}
	if err := templateValidator.Struct(&file); err != nil {
		return nil, fmt.Errorf("validate station template file: %w", err)
	}
	return file.Templates, nil
}

func applyTemplateDefaults(t *Template) {
	if t.Count == 0 {
		t.Count = 1
	}
	if t.NumberOfConnectors == 0 {
		t.NumberOfConnectors = 2
	}
	if t.MaximumPower == 0 {
		t.MaximumPower = 22000
	}
	// A template that omits stopAfterHours gets the contractual default; a
	// zero budget is only meaningful when set programmatically.
	if t.AutomaticTransactionGenerator.StopAfterHours == 0 {
		t.AutomaticTransactionGenerator.StopAfterHours = atg.DefaultStopAfterHours
	}
}

// Expand materializes the template into per-station infos, suffixing the
// template name with the station index. Unset template fields fall back to
// the simulator-wide defaults.
func (t Template) Expand(supervisionURL string, heartbeatInterval, meterValueSampleInterval int) []model.StationInfo {
	url := t.SupervisionURL
	if url == "" {
		url = supervisionURL
	}
	heartbeat := t.HeartbeatInterval
	if heartbeat == 0 {
		heartbeat = heartbeatInterval
	}
	sampleInterval := t.MeterValueSampleInterval
	if sampleInterval == 0 {
		sampleInterval = meterValueSampleInterval
	}

	infos := make([]model.StationInfo, 0, t.Count)
	for i := 1; i <= t.Count; i++ {
		infos = append(infos, model.StationInfo{
			Name:                          fmt.Sprintf("%s-%d", t.NamePrefix, i),
			ChargePointVendor:             t.ChargePointVendor,
			ChargePointModel:              t.ChargePointModel,
			FirmwareVersion:               t.FirmwareVersion,
			NumberOfConnectors:            t.NumberOfConnectors,
			MaximumPower:                  t.MaximumPower,
			AuthorizationTags:             append([]string(nil), t.AuthorizationTags...),
			SupervisionURL:                url,
			HeartbeatInterval:             heartbeat,
			MeterValueSampleInterval:      sampleInterval,
			AutomaticTransactionGenerator: t.AutomaticTransactionGenerator,
		})
	}
	return infos
}
