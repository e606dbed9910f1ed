package ocpp

import (
	"time"

	ocpp16 "github.com/lorenzodonini/ocpp-go/ocpp1.6"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/firmware"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/types"
	"github.com/sirupsen/logrus"
)

// Requester is the typed OCPP send surface consumed by the transaction
// generator and the worker command handlers.
type Requester interface {
	SendBootNotification(request *core.BootNotificationRequest) (*core.BootNotificationConfirmation, error)
	SendAuthorize(connectorID int, idTag string) (*core.AuthorizeConfirmation, error)
	SendStartTransaction(connectorID int, idTag string) (*core.StartTransactionConfirmation, error)
	SendStopTransaction(transactionID, meterStop int, idTag string, reason core.Reason) (*core.StopTransactionConfirmation, error)
	SendHeartbeat() (*core.HeartbeatConfirmation, error)
	SendStatusNotification(connectorID int, errorCode core.ChargePointErrorCode, status core.ChargePointStatus) (*core.StatusNotificationConfirmation, error)
	SendMeterValues(connectorID, transactionID int, meterValues []types.MeterValue) (*core.MeterValuesConfirmation, error)
	SendDataTransfer(vendorID, messageID, data string) (*core.DataTransferConfirmation, error)
	SendDiagnosticsStatusNotification(status firmware.DiagnosticsStatus) (*firmware.DiagnosticsStatusNotificationConfirmation, error)
	SendFirmwareStatusNotification(status firmware.FirmwareStatus) (*firmware.FirmwareStatusNotificationConfirmation, error)
}

// StationHooks lets the request service apply OCPP responses back onto the
// owning station's state. Connector state is only mutated through these.
type StationHooks interface {
	ApplyBootNotification(confirmation *core.BootNotificationConfirmation)
	ApplyStartTransaction(connectorID int, idTag string, confirmation *core.StartTransactionConfirmation)
	ApplyStopTransaction(transactionID int)
	MeterStart(connectorID int) int
}

// RequestService sends typed OCPP 1.6 requests on a station's websocket
// session and applies the confirmations to the station state.
type RequestService struct {
	chargePoint ocpp16.ChargePoint
	hooks       StationHooks
	logger      *OCPPLogger
}

// NewRequestService creates a request service bound to an open charge point
// session.
func NewRequestService(chargePoint ocpp16.ChargePoint, hooks StationHooks, stationName string) *RequestService {
	return &RequestService{
		chargePoint: chargePoint,
		hooks:       hooks,
		logger:      NewOCPPLogger(stationName),
	}
}

// SendBootNotification sends a BootNotification and records the resulting
// registration status on the station.
func (s *RequestService) SendBootNotification(request *core.BootNotificationRequest) (*core.BootNotificationConfirmation, error) {
	s.logger.LogRequest(core.BootNotificationFeatureName, request)
	confirmation, err := s.chargePoint.BootNotification(request.ChargePointModel, request.ChargePointVendor, func(r *core.BootNotificationRequest) {
		r.ChargeBoxSerialNumber = request.ChargeBoxSerialNumber
		r.ChargePointSerialNumber = request.ChargePointSerialNumber
		r.FirmwareVersion = request.FirmwareVersion
		r.Iccid = request.Iccid
		r.Imsi = request.Imsi
		r.MeterSerialNumber = request.MeterSerialNumber
		r.MeterType = request.MeterType
	})
	if err != nil {
		return nil, wrapRequestError(core.BootNotificationFeatureName, err)
	}
	s.logger.LogResponse(core.BootNotificationFeatureName, confirmation)
	s.hooks.ApplyBootNotification(confirmation)
	return confirmation, nil
}

// SendAuthorize asks the CSMS whether idTag may charge on the given
// connector.
func (s *RequestService) SendAuthorize(connectorID int, idTag string) (*core.AuthorizeConfirmation, error) {
	s.logger.LogRequest(core.AuthorizeFeatureName, idTag)
	confirmation, err := s.chargePoint.Authorize(idTag)
	if err != nil {
		return nil, wrapRequestError(core.AuthorizeFeatureName, err)
	}
	s.logger.LogResponse(core.AuthorizeFeatureName, confirmation)
	logrus.WithFields(logrus.Fields{
		"connectorId": connectorID,
		"idTag":       idTag,
		"status":      confirmation.IdTagInfo.Status,
	}).Debug("Authorize response")
	return confirmation, nil
}

// SendStartTransaction opens a transaction on the connector. An accepted
// confirmation is applied to the connector state.
func (s *RequestService) SendStartTransaction(connectorID int, idTag string) (*core.StartTransactionConfirmation, error) {
	meterStart := s.hooks.MeterStart(connectorID)
	confirmation, err := s.chargePoint.StartTransaction(connectorID, idTag, meterStart, types.NewDateTime(time.Now()))
	if err != nil {
		return nil, wrapRequestError(core.StartTransactionFeatureName, err)
	}
	s.logger.LogResponse(core.StartTransactionFeatureName, confirmation)
	if confirmation.IdTagInfo != nil && confirmation.IdTagInfo.Status == types.AuthorizationStatusAccepted {
		s.hooks.ApplyStartTransaction(connectorID, idTag, confirmation)
	}
	return confirmation, nil
}

// SendStopTransaction closes the transaction. The connector state is cleared
// regardless of the CSMS verdict, since the charge has physically ended.
func (s *RequestService) SendStopTransaction(transactionID, meterStop int, idTag string, reason core.Reason) (*core.StopTransactionConfirmation, error) {
	confirmation, err := s.chargePoint.StopTransaction(meterStop, types.NewDateTime(time.Now()), transactionID, func(r *core.StopTransactionRequest) {
		r.IdTag = idTag
		r.Reason = reason
	})
	if err != nil {
		return nil, wrapRequestError(core.StopTransactionFeatureName, err)
	}
	s.logger.LogResponse(core.StopTransactionFeatureName, confirmation)
	s.hooks.ApplyStopTransaction(transactionID)
	return confirmation, nil
}

// SendHeartbeat sends a Heartbeat request.
func (s *RequestService) SendHeartbeat() (*core.HeartbeatConfirmation, error) {
	confirmation, err := s.chargePoint.Heartbeat()
	if err != nil {
		return nil, wrapRequestError(core.HeartbeatFeatureName, err)
	}
	s.logger.LogResponse(core.HeartbeatFeatureName, confirmation)
	return confirmation, nil
}

// SendStatusNotification reports a connector status to the CSMS.
func (s *RequestService) SendStatusNotification(connectorID int, errorCode core.ChargePointErrorCode, status core.ChargePointStatus) (*core.StatusNotificationConfirmation, error) {
	confirmation, err := s.chargePoint.StatusNotification(connectorID, errorCode, status)
	if err != nil {
		return nil, wrapRequestError(core.StatusNotificationFeatureName, err)
	}
	s.logger.LogResponse(core.StatusNotificationFeatureName, confirmation)
	return confirmation, nil
}

// SendMeterValues reports sampled meter values for the connector.
func (s *RequestService) SendMeterValues(connectorID, transactionID int, meterValues []types.MeterValue) (*core.MeterValuesConfirmation, error) {
	confirmation, err := s.chargePoint.MeterValues(connectorID, meterValues, func(r *core.MeterValuesRequest) {
		if transactionID != 0 {
			r.TransactionId = &transactionID
		}
	})
	if err != nil {
		return nil, wrapRequestError(core.MeterValuesFeatureName, err)
	}
	s.logger.LogResponse(core.MeterValuesFeatureName, confirmation)
	return confirmation, nil
}

// SendDataTransfer sends a vendor-specific DataTransfer request.
func (s *RequestService) SendDataTransfer(vendorID, messageID, data string) (*core.DataTransferConfirmation, error) {
	confirmation, err := s.chargePoint.DataTransfer(vendorID, func(r *core.DataTransferRequest) {
		r.MessageId = messageID
		if data != "" {
			r.Data = data
		}
	})
	if err != nil {
		return nil, wrapRequestError(core.DataTransferFeatureName, err)
	}
	s.logger.LogResponse(core.DataTransferFeatureName, confirmation)
	return confirmation, nil
}

// SendDiagnosticsStatusNotification reports the diagnostics upload status.
func (s *RequestService) SendDiagnosticsStatusNotification(status firmware.DiagnosticsStatus) (*firmware.DiagnosticsStatusNotificationConfirmation, error) {
	confirmation, err := s.chargePoint.DiagnosticsStatusNotification(status)
	if err != nil {
		return nil, wrapRequestError(firmware.DiagnosticsStatusNotificationFeatureName, err)
	}
	s.logger.LogResponse(firmware.DiagnosticsStatusNotificationFeatureName, confirmation)
	return confirmation, nil
}

// SendFirmwareStatusNotification reports the firmware update status.
func (s *RequestService) SendFirmwareStatusNotification(status firmware.FirmwareStatus) (*firmware.FirmwareStatusNotificationConfirmation, error) {
	confirmation, err := s.chargePoint.FirmwareStatusNotification(status)
	if err != nil {
		return nil, wrapRequestError(firmware.FirmwareStatusNotificationFeatureName, err)
	}
	s.logger.LogResponse(firmware.FirmwareStatusNotificationFeatureName, confirmation)
	return confirmation, nil
}
