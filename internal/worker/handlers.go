package worker

import (
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/firmware"
	ocpptypes "github.com/lorenzodonini/ocpp-go/ocpp1.6/types"

	"github.com/albertkur/ocpp-charger-simulator/internal/ocpp"
)

// buildHandlerTable maps every broadcast channel procedure to its handler.
// The table is static and exhaustive; an unknown command never reaches it.
func (e *Endpoint) buildHandlerTable() map[ProcedureName]commandHandler {
	return map[ProcedureName]commandHandler{
		ProcedureStartChargingStation: func(p RequestPayload) (interface{}, error) {
			return nil, e.station.Start()
		},
		ProcedureStopChargingStation: func(p RequestPayload) (interface{}, error) {
			return nil, e.station.Stop()
		},
		ProcedureDeleteChargingStations: func(p RequestPayload) (interface{}, error) {
			return nil, e.station.Delete(p.Bool("deleteConfiguration"))
		},
		ProcedureOpenConnection: func(p RequestPayload) (interface{}, error) {
			return nil, e.station.OpenWSConnection()
		},
		ProcedureCloseConnection: func(p RequestPayload) (interface{}, error) {
			return nil, e.station.CloseWSConnection()
		},
		ProcedureStartAutomaticTransactionGenerator: func(p RequestPayload) (interface{}, error) {
			e.station.StartAutomaticTransactionGenerator(p.ConnectorIDs()...)
			return nil, nil
		},
		ProcedureStopAutomaticTransactionGenerator: func(p RequestPayload) (interface{}, error) {
			e.station.StopAutomaticTransactionGenerator(p.ConnectorIDs()...)
			return nil, nil
		},
		ProcedureSetSupervisionURL: func(p RequestPayload) (interface{}, error) {
			e.station.SetSupervisionURL(p.String("url"))
			return nil, nil
		},
		ProcedureBootNotification:              e.handleBootNotification,
		ProcedureStartTransaction:              e.handleStartTransaction,
		ProcedureStopTransaction:               e.handleStopTransaction,
		ProcedureAuthorize:                     e.handleAuthorize,
		ProcedureStatusNotification:            e.handleStatusNotification,
		ProcedureHeartbeat:                     e.handleHeartbeat,
		ProcedureMeterValues:                   e.handleMeterValues,
		ProcedureDataTransfer:                  e.handleDataTransfer,
		ProcedureDiagnosticsStatusNotification: e.handleDiagnosticsStatusNotification,
		ProcedureFirmwareStatusNotification:    e.handleFirmwareStatusNotification,
	}
}

func (e *Endpoint) requestService() (ocpp.Requester, error) {
	service := e.station.RequestService()
	if service == nil {
		return nil, ocpp.ErrServiceNotInitialized
	}
	return service, nil
}

func (e *Endpoint) handleBootNotification(p RequestPayload) (interface{}, error) {
	service, err := e.requestService()
	if err != nil {
		return nil, err
	}
	// Payload fields override the station's boot defaults.
	request := e.station.BootNotificationRequest()
	if v := p.String("chargePointModel"); v != "" {
		request.ChargePointModel = v
	}
	if v := p.String("chargePointVendor"); v != "" {
		request.ChargePointVendor = v
	}
	if v := p.String("chargePointSerialNumber"); v != "" {
		request.ChargePointSerialNumber = v
	}
	if v := p.String("firmwareVersion"); v != "" {
		request.FirmwareVersion = v
	}
	return service.SendBootNotification(&request)
}

func (e *Endpoint) handleStartTransaction(p RequestPayload) (interface{}, error) {
	service, err := e.requestService()
	if err != nil {
		return nil, err
	}
	connectorID, _ := p.Int("connectorId")
	return service.SendStartTransaction(connectorID, p.String("idTag"))
}

func (e *Endpoint) handleStopTransaction(p RequestPayload) (interface{}, error) {
	service, err := e.requestService()
	if err != nil {
		return nil, err
	}
	transactionID, _ := p.Int("transactionId")
	meterStop := e.station.EnergyActiveImportRegister(transactionID, true)
	idTag := e.station.TransactionIDTag(transactionID)
	return service.SendStopTransaction(transactionID, meterStop, idTag, "")
}

func (e *Endpoint) handleAuthorize(p RequestPayload) (interface{}, error) {
	service, err := e.requestService()
	if err != nil {
		return nil, err
	}
	connectorID, _ := p.Int("connectorId")
	return service.SendAuthorize(connectorID, p.String("idTag"))
}

func (e *Endpoint) handleStatusNotification(p RequestPayload) (interface{}, error) {
	service, err := e.requestService()
	if err != nil {
		return nil, err
	}
	connectorID, _ := p.Int("connectorId")
	errorCode := core.ChargePointErrorCode(p.StringDefault("errorCode", string(core.NoError)))
	status := core.ChargePointStatus(p.StringDefault("status", string(core.ChargePointStatusAvailable)))
	return service.SendStatusNotification(connectorID, errorCode, status)
}

func (e *Endpoint) handleHeartbeat(p RequestPayload) (interface{}, error) {
	service, err := e.requestService()
	if err != nil {
		return nil, err
	}
	return service.SendHeartbeat()
}

func (e *Endpoint) handleMeterValues(p RequestPayload) (interface{}, error) {
	service, err := e.requestService()
	if err != nil {
		return nil, err
	}
	connectorID, _ := p.Int("connectorId")
	transactionID := e.station.ActiveTransactionID(connectorID)
	meterValue := e.station.SampledMeterValue(connectorID)
	return service.SendMeterValues(connectorID, transactionID, []ocpptypes.MeterValue{meterValue})
}

func (e *Endpoint) handleDataTransfer(p RequestPayload) (interface{}, error) {
	service, err := e.requestService()
	if err != nil {
		return nil, err
	}
	return service.SendDataTransfer(p.String("vendorId"), p.String("messageId"), p.String("data"))
}

func (e *Endpoint) handleDiagnosticsStatusNotification(p RequestPayload) (interface{}, error) {
	service, err := e.requestService()
	if err != nil {
		return nil, err
	}
	status := firmware.DiagnosticsStatus(p.StringDefault("status", string(firmware.DiagnosticsStatusIdle)))
	return service.SendDiagnosticsStatusNotification(status)
}

func (e *Endpoint) handleFirmwareStatusNotification(p RequestPayload) (interface{}, error) {
	service, err := e.requestService()
	if err != nil {
		return nil, err
	}
	status := firmware.FirmwareStatus(p.StringDefault("status", string(firmware.FirmwareStatusIdle)))
	return service.SendFirmwareStatusNotification(status)
}
