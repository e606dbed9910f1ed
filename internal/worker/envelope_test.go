package worker

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestEnvelopeRoundTrip(t *testing.T) {
	envelope := RequestEnvelope{
		UUID:    "u-1",
		Command: ProcedureHeartbeat,
		Payload: RequestPayload{"hashIds": []interface{}{"a", "b"}},
	}

	data, err := json.Marshal(envelope)
	require.NoError(t, err)

	request, response, err := DecodeMessage(data)
	require.NoError(t, err)
	require.NotNil(t, request)
	assert.Nil(t, response)
	assert.Equal(t, "u-1", request.UUID)
	assert.Equal(t, ProcedureHeartbeat, request.Command)
	assert.Equal(t, []string{"a", "b"}, request.Payload.HashIDs())
}

func TestResponseEnvelopeRoundTrip(t *testing.T) {
	envelope := ResponseEnvelope{
		UUID: "u-2",
		Payload: ResponsePayload{
			HashID: "abc",
			Status: StatusSuccess,
		},
	}

	data, err := json.Marshal(envelope)
	require.NoError(t, err)

	request, response, err := DecodeMessage(data)
	require.NoError(t, err)
	assert.Nil(t, request)
	require.NotNil(t, response)
	assert.Equal(t, "u-2", response.UUID)
	assert.Equal(t, "abc", response.Payload.HashID)
	assert.Equal(t, StatusSuccess, response.Payload.Status)
}

func TestDecodeMessageRejectsMalformedInput(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "not json", data: "{"},
		{name: "not a tuple", data: `{"uuid":"u"}`},
		{name: "wrong arity", data: `["u"]`},
		{name: "four elements", data: `["u","c",{},{}]`},
		{name: "empty uuid", data: `["","heartbeat",{}]`},
		{name: "empty command", data: `["u","",{}]`},
		{name: "numeric uuid", data: `[1,"heartbeat",{}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			request, response, err := DecodeMessage([]byte(tt.data))
			assert.Error(t, err)
			assert.Nil(t, request)
			assert.Nil(t, response)
		})
	}
}

func TestRequestPayloadAccessors(t *testing.T) {
	payload := RequestPayload{
		"hashIds":             []interface{}{"a"},
		"hashId":              "legacy",
		"connectorIds":        []interface{}{float64(1), float64(2)},
		"connectorId":         float64(2),
		"transactionId":       float64(42),
		"url":                 "ws://example/ocpp",
		"deleteConfiguration": true,
	}

	assert.Equal(t, []string{"a"}, payload.HashIDs())
	assert.True(t, payload.HasLegacyHashID())
	assert.Equal(t, []int{1, 2}, payload.ConnectorIDs())

	connectorID, ok := payload.Int("connectorId")
	assert.True(t, ok)
	assert.Equal(t, 2, connectorID)

	_, ok = payload.Int("missing")
	assert.False(t, ok)

	assert.Equal(t, "ws://example/ocpp", payload.String("url"))
	assert.Equal(t, "fallback", payload.StringDefault("missing", "fallback"))
	assert.True(t, payload.Bool("deleteConfiguration"))

	payload.Strip("hashId", "hashIds", "connectorIds")
	assert.False(t, payload.HasLegacyHashID())
	assert.Empty(t, payload.HashIDs())
	assert.Empty(t, payload.ConnectorIDs())
	assert.Equal(t, "ws://example/ocpp", payload.String("url"))
}
