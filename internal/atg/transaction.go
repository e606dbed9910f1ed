package atg

import (
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/types"
	"github.com/sirupsen/logrus"

	"github.com/albertkur/ocpp-charger-simulator/internal/ocpp"
)

const (
	measureStartTransaction = "StartTransaction with ATG"
	measureStopTransaction  = "StopTransaction with ATG"
)

// StartResult is the outcome of a transaction start attempt. Exactly one of
// Start or Authorize is set: Authorize carries the rejection when the CSMS
// refused the id tag before StartTransaction was ever sent.
type StartResult struct {
	Start     *core.StartTransactionConfirmation
	Authorize *core.AuthorizeConfirmation
}

// Accepted reports whether a transaction was actually opened.
func (r *StartResult) Accepted() bool {
	if r == nil || r.Authorize != nil || r.Start == nil {
		return false
	}
	return r.Start.IdTagInfo != nil && r.Start.IdTagInfo.Status == types.AuthorizationStatusAccepted
}

// Status returns the authorization status carried by the outcome.
func (r *StartResult) Status() types.AuthorizationStatus {
	switch {
	case r == nil:
		return ""
	case r.Authorize != nil && r.Authorize.IdTagInfo != nil:
		return r.Authorize.IdTagInfo.Status
	case r.Start != nil && r.Start.IdTagInfo != nil:
		return r.Start.IdTagInfo.Status
	}
	return ""
}

// TransactionID returns the id the CSMS assigned, 0 when no transaction was
// opened.
func (r *StartResult) TransactionID() int {
	if r == nil || r.Start == nil {
		return 0
	}
	return r.Start.TransactionId
}

// StopResult is the outcome of a transaction stop attempt. Skipped marks that
// no StopTransaction confirmation was obtained: the connector had no
// transaction running, the request service was gone, or the request failed
// (the failure is logged). Callers treat it as a well-defined outcome, not an
// error.
type StopResult struct {
	Confirmation *core.StopTransactionConfirmation
	Skipped      bool
}

// startTransaction opens a transaction on the connector, authorizing first
// when the station is configured to require it.
func (c *Controller) startTransaction(connectorID int) (*StartResult, error) {
	token := c.collector.BeginMeasure(measureStartTransaction)
	defer c.collector.EndMeasure(measureStartTransaction, token)

	service := c.station.RequestService()
	if service == nil {
		return nil, ocpp.ErrServiceNotInitialized
	}

	if !c.station.HasAuthorizedTags() {
		confirmation, err := service.SendStartTransaction(connectorID, "")
		if err != nil {
			return nil, err
		}
		return &StartResult{Start: confirmation}, nil
	}

	idTag := c.station.RandomIDTag()
	if c.station.RequireAuthorize() {
		authorization, err := service.SendAuthorize(connectorID, idTag)
		if err != nil {
			return nil, err
		}
		if authorization.IdTagInfo == nil || authorization.IdTagInfo.Status != types.AuthorizationStatusAccepted {
			return &StartResult{Authorize: authorization}, nil
		}
	}

	confirmation, err := service.SendStartTransaction(connectorID, idTag)
	if err != nil {
		return nil, err
	}
	return &StartResult{Start: confirmation}, nil
}

// stopTransaction closes the connector's running transaction. When no
// transaction is active, or the request service is gone, it logs a warning
// and returns the explicit no-op outcome; a failed request is logged and also
// returns a Skipped outcome.
func (c *Controller) stopTransaction(connectorID int, reason core.Reason) *StopResult {
	token := c.collector.BeginMeasure(measureStopTransaction)
	defer c.collector.EndMeasure(measureStopTransaction, token)

	started, transactionID := c.station.ConnectorTransaction(connectorID)
	if !started || transactionID == 0 {
		c.log.WithField("connectorId", connectorID).Warn("Trying to stop a transaction that was never started")
		return &StopResult{Skipped: true}
	}

	service := c.station.RequestService()
	if service == nil {
		c.log.WithField("connectorId", connectorID).Warn("OCPP request service gone before transaction stop")
		return &StopResult{Skipped: true}
	}

	meterStop := c.station.EnergyActiveImportRegister(transactionID, true)
	idTag := c.station.TransactionIDTag(transactionID)

	confirmation, err := service.SendStopTransaction(transactionID, meterStop, idTag, reason)
	if err != nil {
		c.log.WithError(err).WithFields(logrus.Fields{
			"connectorId":   connectorID,
			"transactionId": transactionID,
		}).Error("Failed to stop transaction")
		return &StopResult{Skipped: true}
	}
	return &StopResult{Confirmation: confirmation}
}
