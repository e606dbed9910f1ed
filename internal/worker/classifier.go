package worker

import (
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/types"
)

// Classify turns a typed OCPP confirmation into the envelope verdict. A
// response of an unexpected shape is always a failure.
func Classify(command ProcedureName, response interface{}) ResponseStatus {
	switch command {
	case ProcedureStartTransaction:
		if c, ok := response.(*core.StartTransactionConfirmation); ok && c != nil {
			return idTagVerdict(c.IdTagInfo)
		}
	case ProcedureStopTransaction:
		if c, ok := response.(*core.StopTransactionConfirmation); ok && c != nil {
			return idTagVerdict(c.IdTagInfo)
		}
	case ProcedureAuthorize:
		if c, ok := response.(*core.AuthorizeConfirmation); ok && c != nil {
			return idTagVerdict(c.IdTagInfo)
		}
	case ProcedureBootNotification:
		if c, ok := response.(*core.BootNotificationConfirmation); ok && c != nil &&
			c.Status == core.RegistrationStatusAccepted {
			return StatusSuccess
		}
	case ProcedureDataTransfer:
		if c, ok := response.(*core.DataTransferConfirmation); ok && c != nil &&
			c.Status == core.DataTransferStatusAccepted {
			return StatusSuccess
		}
	case ProcedureStatusNotification:
		// These calls return an empty confirmation on success.
		if c, ok := response.(*core.StatusNotificationConfirmation); ok && c != nil {
			return StatusSuccess
		}
	case ProcedureMeterValues:
		if c, ok := response.(*core.MeterValuesConfirmation); ok && c != nil {
			return StatusSuccess
		}
	case ProcedureHeartbeat:
		if c, ok := response.(*core.HeartbeatConfirmation); ok && c != nil && c.CurrentTime != nil {
			return StatusSuccess
		}
	}
	return StatusFailure
}

func idTagVerdict(info *types.IdTagInfo) ResponseStatus {
	if info != nil && info.Status == types.AuthorizationStatusAccepted {
		return StatusSuccess
	}
	return StatusFailure
}
