package worker

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// ProcedureName is a command on the worker broadcast channel.
type ProcedureName string

const (
	ProcedureStartChargingStation                 ProcedureName = "startChargingStation"
	ProcedureStopChargingStation                  ProcedureName = "stopChargingStation"
	ProcedureDeleteChargingStations               ProcedureName = "deleteChargingStations"
	ProcedureOpenConnection                       ProcedureName = "openConnection"
	ProcedureCloseConnection                      ProcedureName = "closeConnection"
	ProcedureStartAutomaticTransactionGenerator   ProcedureName = "startAutomaticTransactionGenerator"
	ProcedureStopAutomaticTransactionGenerator    ProcedureName = "stopAutomaticTransactionGenerator"
	ProcedureSetSupervisionURL                    ProcedureName = "setSupervisionUrl"
	ProcedureStartTransaction                     ProcedureName = "startTransaction"
	ProcedureStopTransaction                      ProcedureName = "stopTransaction"
	ProcedureAuthorize                            ProcedureName = "authorize"
	ProcedureBootNotification                     ProcedureName = "bootNotification"
	ProcedureStatusNotification                   ProcedureName = "statusNotification"
	ProcedureHeartbeat                            ProcedureName = "heartbeat"
	ProcedureMeterValues                          ProcedureName = "meterValues"
	ProcedureDataTransfer                         ProcedureName = "dataTransfer"
	ProcedureDiagnosticsStatusNotification        ProcedureName = "diagnosticsStatusNotification"
	ProcedureFirmwareStatusNotification           ProcedureName = "firmwareStatusNotification"
)

// ResponseStatus is the verdict carried by a response envelope.
type ResponseStatus string

const (
	StatusSuccess ResponseStatus = "success"
	StatusFailure ResponseStatus = "failure"
)

// RequestPayload carries the procedure-specific fields of a request
// envelope plus the targeting fields stripped before dispatch.
type RequestPayload map[string]interface{}

// HashIDs returns the target filter, empty when the request is broadcast.
func (p RequestPayload) HashIDs() []string {
	raw, ok := p["hashIds"].([]interface{})
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			ids = append(ids, s)
		}
	}
	return ids
}

// HasLegacyHashID reports whether the deprecated single-target field is set.
func (p RequestPayload) HasLegacyHashID() bool {
	_, ok := p["hashId"]
	return ok
}

// ConnectorIDs returns the connector scoping of an ATG start/stop request.
func (p RequestPayload) ConnectorIDs() []int {
	raw, ok := p["connectorIds"].([]interface{})
	if !ok {
		return nil
	}
	ids := make([]int, 0, len(raw))
	for _, v := range raw {
		if f, ok := v.(float64); ok {
			ids = append(ids, int(f))
		}
	}
	return ids
}

// Int reads a numeric payload field. JSON numbers arrive as float64.
func (p RequestPayload) Int(key string) (int, bool) {
	f, ok := p[key].(float64)
	if !ok {
		return 0, false
	}
	return int(f), true
}

// String reads a string payload field, empty when absent.
func (p RequestPayload) String(key string) string {
	s, _ := p[key].(string)
	return s
}

// StringDefault reads a string payload field with a fallback.
func (p RequestPayload) StringDefault(key, fallback string) string {
	if s, ok := p[key].(string); ok && s != "" {
		return s
	}
	return fallback
}

// Bool reads a boolean payload field, false when absent.
func (p RequestPayload) Bool(key string) bool {
	b, _ := p[key].(bool)
	return b
}

// Strip removes the given fields from the payload.
func (p RequestPayload) Strip(keys ...string) {
	for _, key := range keys {
		delete(p, key)
	}
}

// ResponsePayload is the body of a response envelope. The failure fields are
// only populated on the failure path.
type ResponsePayload struct {
	HashID          string                 `json:"hashId"`
	Status          ResponseStatus         `json:"status"`
	Command         ProcedureName          `json:"command,omitempty"`
	RequestPayload  RequestPayload         `json:"requestPayload,omitempty"`
	CommandResponse interface{}            `json:"commandResponse,omitempty"`
	ErrorMessage    string                 `json:"errorMessage,omitempty"`
	ErrorStack      string                 `json:"errorStack,omitempty"`
	ErrorDetails    map[string]interface{} `json:"errorDetails,omitempty"`
}

// RequestEnvelope is the [uuid, command, payload] tuple published by an
// orchestrator.
type RequestEnvelope struct {
	UUID    string
	Command ProcedureName
	Payload RequestPayload
}

// MarshalJSON encodes the envelope as a JSON tuple.
func (e RequestEnvelope) MarshalJSON() ([]byte, error) {
	payload := e.Payload
	if payload == nil {
		payload = RequestPayload{}
	}
	return json.Marshal([]interface{}{e.UUID, e.Command, payload})
}

// ResponseEnvelope is the [uuid, payload] tuple published back to the
// orchestrator.
type ResponseEnvelope struct {
	UUID    string
	Payload ResponsePayload
}

// MarshalJSON encodes the envelope as a JSON tuple.
func (e ResponseEnvelope) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{e.UUID, e.Payload})
}

var validate = validator.New()

type envelopeRules struct {
	UUID    string `validate:"required"`
	Command string `validate:"required"`
}

// DecodeMessage parses a raw channel message into either a request or a
// response envelope. Exactly one of the returns is non-nil on success.
func DecodeMessage(data []byte) (*RequestEnvelope, *ResponseEnvelope, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return nil, nil, fmt.Errorf("malformed channel message: %w", err)
	}

	switch len(parts) {
	case 3:
		request := &RequestEnvelope{Payload: RequestPayload{}}
		if err := json.Unmarshal(parts[0], &request.UUID); err != nil {
			return nil, nil, fmt.Errorf("malformed request uuid: %w", err)
		}
		if err := json.Unmarshal(parts[1], &request.Command); err != nil {
			return nil, nil, fmt.Errorf("malformed request command: %w", err)
		}
		if err := json.Unmarshal(parts[2], &request.Payload); err != nil {
			return nil, nil, fmt.Errorf("malformed request payload: %w", err)
		}
		if err := validate.Struct(envelopeRules{UUID: request.UUID, Command: string(request.Command)}); err != nil {
			return nil, nil, fmt.Errorf("invalid request envelope: %w", err)
		}
		return request, nil, nil
	case 2:
		response := &ResponseEnvelope{}
		if err := json.Unmarshal(parts[0], &response.UUID); err != nil {
			return nil, nil, fmt.Errorf("malformed response uuid: %w", err)
		}
		if err := json.Unmarshal(parts[1], &response.Payload); err != nil {
			return nil, nil, fmt.Errorf("malformed response payload: %w", err)
		}
		return nil, response, nil
	default:
		return nil, nil, fmt.Errorf("channel message has %d elements, want 2 or 3", len(parts))
	}
}
