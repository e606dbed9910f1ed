package station

import (
	"crypto/sha256"
	"encoding/hex"
	"math/rand"
	"sort"
	"strconv"
	"sync"
	"time"

	ocpp16 "github.com/lorenzodonini/ocpp-go/ocpp1.6"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/types"
	"github.com/sirupsen/logrus"

	"github.com/albertkur/ocpp-charger-simulator/internal/atg"
	"github.com/albertkur/ocpp-charger-simulator/internal/model"
	"github.com/albertkur/ocpp-charger-simulator/internal/ocpp"
	"github.com/albertkur/ocpp-charger-simulator/internal/stats"
)

// newChargePoint builds the ocpp-go client for a station. Tests swap this
// out to avoid real websocket connections.
var newChargePoint = func(name string) ocpp16.ChargePoint {
	return ocpp16.NewChargePoint(name, nil, nil)
}

// ChargingStation simulates one OCPP 1.6 charging station: it owns the
// websocket session, the connector table and the transaction generator.
type ChargingStation struct {
	info   model.StationInfo
	hashID string
	log    *logrus.Entry

	collector *stats.Collector

	mu                sync.RWMutex
	connectors        map[int]*model.Connector
	registered        bool
	started           bool
	supervisionURL    string
	heartbeatInterval time.Duration
	bootRequest       core.BootNotificationRequest
	configurationKeys map[string]string

	chargePoint    ocpp16.ChargePoint
	requestService *ocpp.RequestService

	heartbeatStop chan struct{}

	generator *atg.Controller
}

// NewChargingStation builds a station from its expanded template info.
func NewChargingStation(info model.StationInfo, collector *stats.Collector) *ChargingStation {
	sum := sha256.Sum256([]byte(info.Name))
	hashID := hex.EncodeToString(sum[:])[:16]

	connectors := make(map[int]*model.Connector, info.NumberOfConnectors+1)
	for id := 0; id <= info.NumberOfConnectors; id++ {
		connectors[id] = &model.Connector{
			ID:        id,
			Available: true,
			Status:    string(core.ChargePointStatusAvailable),
		}
	}

	s := &ChargingStation{
		info:      info,
		hashID:    hashID,
		log:       logrus.WithField("station", info.Name),
		collector: collector,

		connectors:        connectors,
		supervisionURL:    info.SupervisionURL,
		heartbeatInterval: time.Duration(info.HeartbeatInterval) * time.Second,
		bootRequest: core.BootNotificationRequest{
			ChargePointModel:        info.ChargePointModel,
			ChargePointVendor:       info.ChargePointVendor,
			ChargePointSerialNumber: info.ChargePointSerialNumber,
			FirmwareVersion:         info.FirmwareVersion,
		},
		configurationKeys: map[string]string{
			"HeartbeatInterval":        strconv.Itoa(info.HeartbeatInterval),
			"MeterValueSampleInterval": strconv.Itoa(info.MeterValueSampleInterval),
			"NumberOfConnectors":       strconv.Itoa(info.NumberOfConnectors),
		},
	}
	s.generator = atg.NewController(s, collector)
	return s
}

// HashID returns the station's stable identifier on the worker channel.
func (s *ChargingStation) HashID() string {
	return s.hashID
}

// Name returns the station name used on the OCPP session.
func (s *ChargingStation) Name() string {
	return s.info.Name
}

// Info returns the station's template metadata.
func (s *ChargingStation) Info() model.StationInfo {
	return s.info
}

// Started reports whether the station lifecycle is running.
func (s *ChargingStation) Started() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started
}

// IsRegistered reports whether the last BootNotification was accepted.
func (s *ChargingStation) IsRegistered() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.registered
}

// IsChargingStationAvailable reports the availability of the station
// itself, i.e. connector 0.
func (s *ChargingStation) IsChargingStationAvailable() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	connector, ok := s.connectors[0]
	return ok && connector.Available
}

// IsConnectorAvailable reports the availability of a positive connector id.
func (s *ChargingStation) IsConnectorAvailable(connectorID int) bool {
	if connectorID <= 0 {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	connector, ok := s.connectors[connectorID]
	return ok && connector.Available
}

// ConnectorIDs returns the positive connector ids in ascending order.
func (s *ChargingStation) ConnectorIDs() []int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]int, 0, len(s.connectors))
	for id := range s.connectors {
		if id > 0 {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids
}

// Connectors returns a snapshot of the connector table.
func (s *ChargingStation) Connectors() []model.Connector {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := make([]model.Connector, 0, len(s.connectors))
	for _, id := range s.sortedConnectorIDsLocked() {
		connector := s.connectors[id]
		s.accrueEnergyLocked(connector)
		snapshot = append(snapshot, *connector)
	}
	return snapshot
}

func (s *ChargingStation) sortedConnectorIDsLocked() []int {
	ids := make([]int, 0, len(s.connectors))
	for id := range s.connectors {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// HasAuthorizedTags reports whether the station carries id tags.
func (s *ChargingStation) HasAuthorizedTags() bool {
	return len(s.info.AuthorizationTags) > 0
}

// RandomIDTag picks one of the station's authorized id tags.
func (s *ChargingStation) RandomIDTag() string {
	tags := s.info.AuthorizationTags
	if len(tags) == 0 {
		return ""
	}
	return tags[rand.Intn(len(tags))]
}

// RequireAuthorize reports whether the generator must authorize before
// starting a transaction.
func (s *ChargingStation) RequireAuthorize() bool {
	return s.info.AutomaticTransactionGenerator.RequireAuthorize
}

// AutomaticTransactionGeneratorConfig returns the station's ATG parameters.
func (s *ChargingStation) AutomaticTransactionGeneratorConfig() model.AutomaticTransactionGeneratorConfig {
	return s.info.AutomaticTransactionGenerator
}

// RequestService returns the OCPP send surface, nil until the websocket is
// open.
func (s *ChargingStation) RequestService() ocpp.Requester {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.requestService == nil {
		return nil
	}
	return s.requestService
}

// BootNotificationRequest returns a copy of the station's boot defaults.
func (s *ChargingStation) BootNotificationRequest() core.BootNotificationRequest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bootRequest
}

// ConnectorTransaction reports whether a transaction runs on the connector
// and its id.
func (s *ChargingStation) ConnectorTransaction(connectorID int) (bool, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	connector, ok := s.connectors[connectorID]
	if !ok {
		return false, 0
	}
	return connector.TransactionStarted, connector.TransactionID
}

// ActiveTransactionID returns the transaction running on the connector, 0
// when idle.
func (s *ChargingStation) ActiveTransactionID(connectorID int) int {
	_, transactionID := s.ConnectorTransaction(connectorID)
	return transactionID
}

// EnergyActiveImportRegister returns the cumulative energy register of the
// connector carrying the given transaction, in Wh.
func (s *ChargingStation) EnergyActiveImportRegister(transactionID int, final bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	connector := s.connectorByTransactionLocked(transactionID)
	if connector == nil {
		return 0
	}
	if final || connector.TransactionStarted {
		s.accrueEnergyLocked(connector)
	}
	return connector.EnergyActiveImportRegister
}

// TransactionIDTag returns the id tag that authorized the transaction.
func (s *ChargingStation) TransactionIDTag(transactionID int) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	connector := s.connectorByTransactionLocked(transactionID)
	if connector == nil {
		return ""
	}
	return connector.TransactionIDTag
}

func (s *ChargingStation) connectorByTransactionLocked(transactionID int) *model.Connector {
	if transactionID == 0 {
		return nil
	}
	for _, connector := range s.connectors {
		if connector.TransactionID == transactionID {
			return connector
		}
	}
	return nil
}

// accrueEnergyLocked advances the energy register of a charging connector
// by the elapsed wall clock at the station's maximum power.
func (s *ChargingStation) accrueEnergyLocked(connector *model.Connector) {
	if !connector.TransactionStarted {
		return
	}
	now := time.Now()
	last := connector.LastEnergyUpdate
	if last.IsZero() {
		last = connector.TransactionBegin
	}
	elapsedHours := now.Sub(last).Hours()
	if elapsedHours > 0 {
		connector.EnergyActiveImportRegister += int(float64(s.info.MaximumPower) * elapsedHours)
	}
	connector.LastEnergyUpdate = now
}

// SampledMeterValue builds one Energy.Active.Import.Register sample for the
// connector.
func (s *ChargingStation) SampledMeterValue(connectorID int) types.MeterValue {
	s.mu.Lock()
	connector, ok := s.connectors[connectorID]
	var register int
	if ok {
		s.accrueEnergyLocked(connector)
		register = connector.EnergyActiveImportRegister
	}
	s.mu.Unlock()

	return types.MeterValue{
		Timestamp: types.NewDateTime(time.Now()),
		SampledValue: []types.SampledValue{{
			Value:     strconv.Itoa(register),
			Context:   types.ReadingContextSamplePeriodic,
			Measurand: types.MeasurandEnergyActiveImportRegister,
			Unit:      types.UnitOfMeasureWh,
		}},
	}
}

// Start brings the station online: websocket, boot handshake, connector
// status reports, heartbeat, and the transaction generator when enabled.
func (s *ChargingStation) Start() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		s.log.Warn("Charging station is already started")
		return nil
	}
	s.started = true
	s.mu.Unlock()

	if err := s.OpenWSConnection(); err != nil {
		s.mu.Lock()
		s.started = false
		s.mu.Unlock()
		return err
	}

	service := s.RequestService()
	boot := s.BootNotificationRequest()
	if _, err := service.SendBootNotification(&boot); err != nil {
		s.log.WithError(err).Error("Boot notification failed")
	}

	for _, id := range append([]int{0}, s.ConnectorIDs()...) {
		if _, err := service.SendStatusNotification(id, core.NoError, core.ChargePointStatusAvailable); err != nil {
			s.log.WithError(err).WithField("connectorId", id).Error("Status notification failed")
		}
	}

	s.startHeartbeat()

	if s.info.AutomaticTransactionGenerator.Enable {
		s.generator.Start()
	}

	s.log.Info("Charging station started")
	return nil
}

// Stop takes the station offline, closing any running transaction first.
func (s *ChargingStation) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		s.log.Warn("Charging station is already stopped")
		return nil
	}
	s.started = false
	s.mu.Unlock()

	s.generator.Stop()
	s.stopHeartbeat()

	if service := s.RequestService(); service != nil {
		for _, id := range s.ConnectorIDs() {
			started, transactionID := s.ConnectorTransaction(id)
			if !started {
				continue
			}
			meterStop := s.EnergyActiveImportRegister(transactionID, true)
			idTag := s.TransactionIDTag(transactionID)
			if _, err := service.SendStopTransaction(transactionID, meterStop, idTag, core.ReasonLocal); err != nil {
				s.log.WithError(err).WithField("transactionId", transactionID).Error("Failed to stop transaction on shutdown")
			}
		}
	}

	if err := s.CloseWSConnection(); err != nil {
		s.log.WithError(err).Error("Failed to close websocket connection")
	}

	s.log.Info("Charging station stopped")
	return nil
}

// Delete stops the station and optionally drops its configuration keys.
func (s *ChargingStation) Delete(deleteConfiguration bool) error {
	if err := s.Stop(); err != nil {
		return err
	}
	if deleteConfiguration {
		s.mu.Lock()
		s.configurationKeys = make(map[string]string)
		s.mu.Unlock()
	}
	s.log.Info("Charging station deleted")
	return nil
}

// OpenWSConnection connects to the CSMS and initializes the OCPP request
// service.
func (s *ChargingStation) OpenWSConnection() error {
	s.mu.Lock()
	if s.chargePoint != nil && s.chargePoint.IsConnected() {
		s.mu.Unlock()
		s.log.Warn("Websocket connection is already open")
		return nil
	}
	url := s.supervisionURL
	s.mu.Unlock()

	chargePoint := newChargePoint(s.info.Name)
	handler := &chargePointHandler{station: s}
	chargePoint.SetCoreHandler(handler)
	chargePoint.SetRemoteTriggerHandler(handler)
	chargePoint.SetFirmwareManagementHandler(handler)

	if err := chargePoint.Start(url); err != nil {
		return ocpp.NewError("InternalError", "failed to open websocket connection: "+err.Error(), map[string]interface{}{"url": url})
	}

	s.mu.Lock()
	s.chargePoint = chargePoint
	s.requestService = ocpp.NewRequestService(chargePoint, s, s.info.Name)
	s.mu.Unlock()

	s.log.WithField("url", url).Info("Websocket connection opened")
	return nil
}

// CloseWSConnection tears down the websocket session; the request service
// becomes unavailable until the next open.
func (s *ChargingStation) CloseWSConnection() error {
	s.mu.Lock()
	chargePoint := s.chargePoint
	s.chargePoint = nil
	s.requestService = nil
	s.mu.Unlock()

	if chargePoint == nil {
		s.log.Warn("Websocket connection is not open")
		return nil
	}
	chargePoint.Stop()
	s.log.Info("Websocket connection closed")
	return nil
}

// SetSupervisionURL updates the CSMS endpoint used on the next connect.
func (s *ChargingStation) SetSupervisionURL(url string) {
	s.mu.Lock()
	s.supervisionURL = url
	s.mu.Unlock()
	s.log.WithField("url", url).Info("Supervision URL updated")
}

// StartAutomaticTransactionGenerator starts the generator, scoped to the
// given connectors when any are named.
func (s *ChargingStation) StartAutomaticTransactionGenerator(connectorIDs ...int) {
	s.generator.Start(connectorIDs...)
}

// StopAutomaticTransactionGenerator stops the generator, scoped to the
// given connectors when any are named.
func (s *ChargingStation) StopAutomaticTransactionGenerator(connectorIDs ...int) {
	s.generator.Stop(connectorIDs...)
}

// Generator exposes the transaction generator, mainly for inspection.
func (s *ChargingStation) Generator() *atg.Controller {
	return s.generator
}

// ApplyBootNotification records the registration verdict of the CSMS.
func (s *ChargingStation) ApplyBootNotification(confirmation *core.BootNotificationConfirmation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registered = confirmation.Status == core.RegistrationStatusAccepted
	if confirmation.Interval > 0 {
		s.heartbeatInterval = time.Duration(confirmation.Interval) * time.Second
	}
}

// ApplyStartTransaction opens the transaction on the connector state.
func (s *ChargingStation) ApplyStartTransaction(connectorID int, idTag string, confirmation *core.StartTransactionConfirmation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	connector, ok := s.connectors[connectorID]
	if !ok {
		return
	}
	now := time.Now()
	connector.TransactionStarted = true
	connector.TransactionID = confirmation.TransactionId
	connector.TransactionIDTag = idTag
	connector.TransactionBegin = now
	connector.LastEnergyUpdate = now
	connector.Status = string(core.ChargePointStatusCharging)
}

// ApplyStopTransaction clears the transaction from the connector state.
func (s *ChargingStation) ApplyStopTransaction(transactionID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	connector := s.connectorByTransactionLocked(transactionID)
	if connector == nil {
		return
	}
	s.accrueEnergyLocked(connector)
	connector.TransactionStarted = false
	connector.TransactionID = 0
	connector.TransactionIDTag = ""
	connector.TransactionBegin = time.Time{}
	connector.Status = string(core.ChargePointStatusAvailable)
}

// MeterStart returns the meter reading at transaction start.
func (s *ChargingStation) MeterStart(connectorID int) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	connector, ok := s.connectors[connectorID]
	if !ok {
		return 0
	}
	return connector.EnergyActiveImportRegister
}

func (s *ChargingStation) startHeartbeat() {
	s.mu.Lock()
	if s.heartbeatStop != nil {
		s.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	s.heartbeatStop = stop
	interval := s.heartbeatInterval
	s.mu.Unlock()

	if interval <= 0 {
		interval = 60 * time.Second
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				service := s.RequestService()
				if service == nil {
					continue
				}
				if _, err := service.SendHeartbeat(); err != nil {
					s.log.WithError(err).Error("Heartbeat failed")
				}
			case <-stop:
				return
			}
		}
	}()
}

func (s *ChargingStation) stopHeartbeat() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.heartbeatStop != nil {
		close(s.heartbeatStop)
		s.heartbeatStop = nil
	}
}
