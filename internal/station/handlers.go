package station

import (
	"time"

	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/firmware"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/remotetrigger"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/types"
	"github.com/sirupsen/logrus"
)

// chargePointHandler answers CSMS-initiated OCPP requests on behalf of the
// station.
type chargePointHandler struct {
	station *ChargingStation
}

// OnChangeAvailability flips the availability of a connector, or of the
// whole station for connector 0. Taking a connector with a running
// transaction out of service is answered Scheduled and leaves its
// availability unchanged; the change is not recorded and is not applied when
// the transaction ends.
func (h *chargePointHandler) OnChangeAvailability(request *core.ChangeAvailabilityRequest) (*core.ChangeAvailabilityConfirmation, error) {
	s := h.station
	available := request.Type == core.AvailabilityTypeOperative

	s.mu.Lock()
	connector, ok := s.connectors[request.ConnectorId]
	if !ok {
		s.mu.Unlock()
		return core.NewChangeAvailabilityConfirmation(core.AvailabilityStatusRejected), nil
	}
	status := core.AvailabilityStatusAccepted
	if connector.TransactionStarted && !available {
		status = core.AvailabilityStatusScheduled
	} else {
		connector.Available = available
	}
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{
		"connectorId": request.ConnectorId,
		"type":        request.Type,
		"status":      status,
	}).Info("Availability change requested")
	return core.NewChangeAvailabilityConfirmation(status), nil
}

// OnChangeConfiguration updates a known configuration key.
func (h *chargePointHandler) OnChangeConfiguration(request *core.ChangeConfigurationRequest) (*core.ChangeConfigurationConfirmation, error) {
	s := h.station
	s.mu.Lock()
	_, known := s.configurationKeys[request.Key]
	if known {
		s.configurationKeys[request.Key] = request.Value
	}
	s.mu.Unlock()

	if !known {
		return core.NewChangeConfigurationConfirmation(core.ConfigurationStatusNotSupported), nil
	}
	s.log.WithFields(logrus.Fields{
		"key":   request.Key,
		"value": request.Value,
	}).Info("Configuration changed")
	return core.NewChangeConfigurationConfirmation(core.ConfigurationStatusAccepted), nil
}

func (h *chargePointHandler) OnClearCache(request *core.ClearCacheRequest) (*core.ClearCacheConfirmation, error) {
	h.station.log.Info("Authorization cache cleared")
	return core.NewClearCacheConfirmation(core.ClearCacheStatusAccepted), nil
}

func (h *chargePointHandler) OnDataTransfer(request *core.DataTransferRequest) (*core.DataTransferConfirmation, error) {
	h.station.log.WithFields(logrus.Fields{
		"vendorId":  request.VendorId,
		"messageId": request.MessageId,
	}).Info("Data transfer received")
	return core.NewDataTransferConfirmation(core.DataTransferStatusAccepted), nil
}

// OnGetConfiguration reports the requested configuration keys; with no keys
// named, all known keys are returned.
func (h *chargePointHandler) OnGetConfiguration(request *core.GetConfigurationRequest) (*core.GetConfigurationConfirmation, error) {
	s := h.station
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []core.ConfigurationKey
	var unknown []string
	if len(request.Key) == 0 {
		for key, value := range s.configurationKeys {
			value := value
			keys = append(keys, core.ConfigurationKey{Key: key, Readonly: false, Value: &value})
		}
	} else {
		for _, key := range request.Key {
			value, ok := s.configurationKeys[key]
			if !ok {
				unknown = append(unknown, key)
				continue
			}
			keys = append(keys, core.ConfigurationKey{Key: key, Readonly: false, Value: &value})
		}
	}

	confirmation := core.NewGetConfigurationConfirmation(keys)
	confirmation.UnknownKey = unknown
	return confirmation, nil
}

// OnRemoteStartTransaction opens a transaction on the requested connector,
// or the first idle one.
func (h *chargePointHandler) OnRemoteStartTransaction(request *core.RemoteStartTransactionRequest) (*core.RemoteStartTransactionConfirmation, error) {
	s := h.station

	connectorID := 0
	if request.ConnectorId != nil {
		connectorID = *request.ConnectorId
	} else {
		for _, id := range s.ConnectorIDs() {
			if started, _ := s.ConnectorTransaction(id); !started && s.IsConnectorAvailable(id) {
				connectorID = id
				break
			}
		}
	}

	started, _ := s.ConnectorTransaction(connectorID)
	if connectorID <= 0 || started || !s.IsConnectorAvailable(connectorID) {
		return core.NewRemoteStartTransactionConfirmation(types.RemoteStartStopStatusRejected), nil
	}

	go func() {
		service := s.RequestService()
		if service == nil {
			return
		}
		if _, err := service.SendStartTransaction(connectorID, request.IdTag); err != nil {
			s.log.WithError(err).WithField("connectorId", connectorID).Error("Remote transaction start failed")
		}
	}()
	return core.NewRemoteStartTransactionConfirmation(types.RemoteStartStopStatusAccepted), nil
}

// OnRemoteStopTransaction closes the named transaction if it is running.
func (h *chargePointHandler) OnRemoteStopTransaction(request *core.RemoteStopTransactionRequest) (*core.RemoteStopTransactionConfirmation, error) {
	s := h.station

	s.mu.RLock()
	connector := s.connectorByTransactionLocked(request.TransactionId)
	s.mu.RUnlock()
	if connector == nil {
		return core.NewRemoteStopTransactionConfirmation(types.RemoteStartStopStatusRejected), nil
	}

	transactionID := request.TransactionId
	go func() {
		service := s.RequestService()
		if service == nil {
			return
		}
		meterStop := s.EnergyActiveImportRegister(transactionID, true)
		idTag := s.TransactionIDTag(transactionID)
		if _, err := service.SendStopTransaction(transactionID, meterStop, idTag, core.ReasonRemote); err != nil {
			s.log.WithError(err).WithField("transactionId", transactionID).Error("Remote transaction stop failed")
		}
	}()
	return core.NewRemoteStopTransactionConfirmation(types.RemoteStartStopStatusAccepted), nil
}

// OnReset restarts the station lifecycle.
func (h *chargePointHandler) OnReset(request *core.ResetRequest) (*core.ResetConfirmation, error) {
	s := h.station
	s.log.WithField("type", request.Type).Info("Reset requested")
	go func() {
		if err := s.Stop(); err != nil {
			s.log.WithError(err).Error("Reset stop failed")
			return
		}
		if err := s.Start(); err != nil {
			s.log.WithError(err).Error("Reset start failed")
		}
	}()
	return core.NewResetConfirmation(core.ResetStatusAccepted), nil
}

// OnUnlockConnector unlocks a connector. A running transaction is stopped in
// the background; the Unlocked answer does not wait for that stop.
func (h *chargePointHandler) OnUnlockConnector(request *core.UnlockConnectorRequest) (*core.UnlockConnectorConfirmation, error) {
	s := h.station

	if !s.IsConnectorAvailable(request.ConnectorId) {
		return core.NewUnlockConnectorConfirmation(core.UnlockStatusNotSupported), nil
	}

	if started, transactionID := s.ConnectorTransaction(request.ConnectorId); started {
		go func() {
			service := s.RequestService()
			if service == nil {
				return
			}
			meterStop := s.EnergyActiveImportRegister(transactionID, true)
			idTag := s.TransactionIDTag(transactionID)
			if _, err := service.SendStopTransaction(transactionID, meterStop, idTag, core.ReasonUnlockCommand); err != nil {
				s.log.WithError(err).WithField("transactionId", transactionID).Error("Unlock transaction stop failed")
			}
		}()
	}
	return core.NewUnlockConnectorConfirmation(core.UnlockStatusUnlocked), nil
}

// OnTriggerMessage replays the requested message towards the CSMS.
func (h *chargePointHandler) OnTriggerMessage(request *remotetrigger.TriggerMessageRequest) (*remotetrigger.TriggerMessageConfirmation, error) {
	s := h.station
	service := s.RequestService()
	if service == nil {
		return remotetrigger.NewTriggerMessageConfirmation(remotetrigger.TriggerMessageStatusRejected), nil
	}

	connectorID := 0
	if request.ConnectorId != nil {
		connectorID = *request.ConnectorId
	}

	var replay func() error
	switch string(request.RequestedMessage) {
	case core.BootNotificationFeatureName:
		replay = func() error {
			boot := s.BootNotificationRequest()
			_, err := service.SendBootNotification(&boot)
			return err
		}
	case core.HeartbeatFeatureName:
		replay = func() error {
			_, err := service.SendHeartbeat()
			return err
		}
	case core.StatusNotificationFeatureName:
		replay = func() error {
			_, err := service.SendStatusNotification(connectorID, core.NoError, core.ChargePointStatus(s.connectorStatus(connectorID)))
			return err
		}
	case core.MeterValuesFeatureName:
		replay = func() error {
			_, err := service.SendMeterValues(connectorID, s.ActiveTransactionID(connectorID), []types.MeterValue{s.SampledMeterValue(connectorID)})
			return err
		}
	case firmware.DiagnosticsStatusNotificationFeatureName:
		replay = func() error {
			_, err := service.SendDiagnosticsStatusNotification(firmware.DiagnosticsStatusIdle)
			return err
		}
	case firmware.FirmwareStatusNotificationFeatureName:
		replay = func() error {
			_, err := service.SendFirmwareStatusNotification(firmware.FirmwareStatusIdle)
			return err
		}
	default:
		return remotetrigger.NewTriggerMessageConfirmation(remotetrigger.TriggerMessageStatusNotImplemented), nil
	}

	go func() {
		if err := replay(); err != nil {
			s.log.WithError(err).WithField("message", request.RequestedMessage).Error("Triggered message failed")
		}
	}()
	return remotetrigger.NewTriggerMessageConfirmation(remotetrigger.TriggerMessageStatusAccepted), nil
}

// OnGetDiagnostics pretends to upload a diagnostics archive and reports the
// upload lifecycle.
func (h *chargePointHandler) OnGetDiagnostics(request *firmware.GetDiagnosticsRequest) (*firmware.GetDiagnosticsConfirmation, error) {
	s := h.station
	fileName := s.info.Name + "-diagnostics.tar.gz"

	go func() {
		service := s.RequestService()
		if service == nil {
			return
		}
		for _, status := range []firmware.DiagnosticsStatus{firmware.DiagnosticsStatusUploading, firmware.DiagnosticsStatusUploaded} {
			if _, err := service.SendDiagnosticsStatusNotification(status); err != nil {
				s.log.WithError(err).Error("Diagnostics status notification failed")
				return
			}
			time.Sleep(time.Second)
		}
	}()

	confirmation := firmware.NewGetDiagnosticsConfirmation()
	confirmation.FileName = fileName
	return confirmation, nil
}

// OnUpdateFirmware pretends to download and install a firmware image,
// reporting each phase.
func (h *chargePointHandler) OnUpdateFirmware(request *firmware.UpdateFirmwareRequest) (*firmware.UpdateFirmwareConfirmation, error) {
	s := h.station
	s.log.WithField("location", request.Location).Info("Firmware update requested")

	go func() {
		service := s.RequestService()
		if service == nil {
			return
		}
		phases := []firmware.FirmwareStatus{
			firmware.FirmwareStatusDownloading,
			firmware.FirmwareStatusDownloaded,
			firmware.FirmwareStatusInstalling,
			firmware.FirmwareStatusInstalled,
		}
		for _, status := range phases {
			if _, err := service.SendFirmwareStatusNotification(status); err != nil {
				s.log.WithError(err).Error("Firmware status notification failed")
				return
			}
			time.Sleep(time.Second)
		}
	}()
	return firmware.NewUpdateFirmwareConfirmation(), nil
}

func (s *ChargingStation) connectorStatus(connectorID int) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if connector, ok := s.connectors[connectorID]; ok {
		return connector.Status
	}
	return string(core.ChargePointStatusAvailable)
}
