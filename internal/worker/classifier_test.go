package worker

import (
	"testing"
	"time"

	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/types"
	"github.com/stretchr/testify/assert"
)

func acceptedIdTagInfo() *types.IdTagInfo {
	return &types.IdTagInfo{Status: types.AuthorizationStatusAccepted}
}

func TestClassifyIdTagCommands(t *testing.T) {
	tests := []struct {
		name     string
		command  ProcedureName
		response interface{}
		want     ResponseStatus
	}{
		{
			name:     "accepted start transaction",
			command:  ProcedureStartTransaction,
			response: &core.StartTransactionConfirmation{IdTagInfo: acceptedIdTagInfo(), TransactionId: 7},
			want:     StatusSuccess,
		},
		{
			name:     "blocked start transaction",
			command:  ProcedureStartTransaction,
			response: &core.StartTransactionConfirmation{IdTagInfo: &types.IdTagInfo{Status: types.AuthorizationStatusBlocked}},
			want:     StatusFailure,
		},
		{
			name:     "start transaction without id tag info",
			command:  ProcedureStartTransaction,
			response: &core.StartTransactionConfirmation{},
			want:     StatusFailure,
		},
		{
			name:     "accepted stop transaction",
			command:  ProcedureStopTransaction,
			response: &core.StopTransactionConfirmation{IdTagInfo: acceptedIdTagInfo()},
			want:     StatusSuccess,
		},
		{
			name:     "accepted authorize",
			command:  ProcedureAuthorize,
			response: &core.AuthorizeConfirmation{IdTagInfo: acceptedIdTagInfo()},
			want:     StatusSuccess,
		},
		{
			name:     "expired authorize",
			command:  ProcedureAuthorize,
			response: &core.AuthorizeConfirmation{IdTagInfo: &types.IdTagInfo{Status: types.AuthorizationStatusExpired}},
			want:     StatusFailure,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.command, tt.response))
		})
	}
}

func TestClassifyBootNotification(t *testing.T) {
	accepted := &core.BootNotificationConfirmation{
		CurrentTime: types.NewDateTime(time.Now()),
		Interval:    60,
		Status:      core.RegistrationStatusAccepted,
	}
	assert.Equal(t, StatusSuccess, Classify(ProcedureBootNotification, accepted))

	rejected := &core.BootNotificationConfirmation{
		CurrentTime: types.NewDateTime(time.Now()),
		Interval:    60,
		Status:      core.RegistrationStatusRejected,
	}
	assert.Equal(t, StatusFailure, Classify(ProcedureBootNotification, rejected))

	pending := &core.BootNotificationConfirmation{Status: core.RegistrationStatusPending}
	assert.Equal(t, StatusFailure, Classify(ProcedureBootNotification, pending))
}

func TestClassifyDataTransfer(t *testing.T) {
	assert.Equal(t, StatusSuccess, Classify(ProcedureDataTransfer, &core.DataTransferConfirmation{Status: core.DataTransferStatusAccepted}))
	assert.Equal(t, StatusFailure, Classify(ProcedureDataTransfer, &core.DataTransferConfirmation{Status: core.DataTransferStatusRejected}))
}

func TestClassifyEmptyConfirmations(t *testing.T) {
	assert.Equal(t, StatusSuccess, Classify(ProcedureStatusNotification, &core.StatusNotificationConfirmation{}))
	assert.Equal(t, StatusSuccess, Classify(ProcedureMeterValues, &core.MeterValuesConfirmation{}))

	// A response of the wrong shape never classifies as success.
	assert.Equal(t, StatusFailure, Classify(ProcedureMeterValues, &core.HeartbeatConfirmation{}))
	assert.Equal(t, StatusFailure, Classify(ProcedureStatusNotification, map[string]interface{}{"anyField": "v"}))
}

func TestClassifyHeartbeat(t *testing.T) {
	assert.Equal(t, StatusSuccess, Classify(ProcedureHeartbeat, &core.HeartbeatConfirmation{CurrentTime: types.NewDateTime(time.Now())}))
	assert.Equal(t, StatusFailure, Classify(ProcedureHeartbeat, &core.HeartbeatConfirmation{}))
}

func TestClassifyUnknownCommand(t *testing.T) {
	assert.Equal(t, StatusFailure, Classify(ProcedureStartChargingStation, &core.HeartbeatConfirmation{}))
	assert.Equal(t, StatusFailure, Classify(ProcedureName("bogus"), nil))
}
