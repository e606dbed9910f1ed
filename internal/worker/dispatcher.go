package worker

import (
	"encoding/json"
	"fmt"

	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
	ocpptypes "github.com/lorenzodonini/ocpp-go/ocpp1.6/types"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/albertkur/ocpp-charger-simulator/internal/ocpp"
)

// ChargingStation is the station surface the command handlers drive. It is
// satisfied by *station.ChargingStation.
type ChargingStation interface {
	HashID() string
	Name() string
	Start() error
	Stop() error
	Delete(deleteConfiguration bool) error
	OpenWSConnection() error
	CloseWSConnection() error
	SetSupervisionURL(url string)
	StartAutomaticTransactionGenerator(connectorIDs ...int)
	StopAutomaticTransactionGenerator(connectorIDs ...int)
	RequestService() ocpp.Requester
	BootNotificationRequest() core.BootNotificationRequest
	ActiveTransactionID(connectorID int) int
	EnergyActiveImportRegister(transactionID int, final bool) int
	TransactionIDTag(transactionID int) string
	SampledMeterValue(connectorID int) ocpptypes.MeterValue
}

type commandHandler func(payload RequestPayload) (interface{}, error)

// Endpoint is one station's end of the worker broadcast channel: it
// receives request envelopes, routes them to the handler table and
// publishes exactly one response per accepted request.
type Endpoint struct {
	station      ChargingStation
	subscription *Subscription
	handlers     map[ProcedureName]commandHandler
	log          *logrus.Entry
}

// NewEndpoint attaches a station to the broadcast channel.
func NewEndpoint(bus *Bus, station ChargingStation) *Endpoint {
	e := &Endpoint{
		station: station,
		log: logrus.WithFields(logrus.Fields{
			"station": station.Name(),
			"hashId":  station.HashID(),
		}),
	}
	e.handlers = e.buildHandlerTable()
	e.subscription = bus.Subscribe()
	e.subscription.OnMessage(e.handleMessage)
	e.subscription.OnMessageError(e.handleMessageError)
	return e
}

// Close detaches the endpoint from the channel.
func (e *Endpoint) Close() {
	e.subscription.Close()
}

func (e *Endpoint) handleMessage(data []byte) {
	request, response, err := DecodeMessage(data)
	if err != nil {
		e.handleMessageError(err)
		return
	}
	// Responses loop back to their originator; never re-handle them.
	if response != nil {
		e.log.WithField("uuid", response.UUID).Trace("Ignoring response envelope")
		return
	}

	payload := request.Payload
	if targets := payload.HashIDs(); len(targets) > 0 && !containsString(targets, e.station.HashID()) {
		return
	}
	if payload.HasLegacyHashID() {
		e.log.WithField("command", request.Command).Error("Deprecated 'hashId' field used to target charging station, dropping request")
		return
	}

	e.handleRequest(request.UUID, request.Command, payload)
}

func (e *Endpoint) handleMessageError(err error) {
	e.log.WithError(err).Error("Failed to handle worker channel message")
}

// handleRequest runs one accepted request. The response envelope is
// published from the deferred finalizer on success and failure alike, so the
// one-response-per-request invariant holds on every path.
func (e *Endpoint) handleRequest(uuid string, command ProcedureName, payload RequestPayload) {
	response := ResponsePayload{
		HashID: e.station.HashID(),
		Status: StatusSuccess,
	}
	defer func() {
		e.publishResponse(uuid, response)
	}()

	handler, known := e.handlers[command]
	if !known {
		err := errors.Errorf("Unknown worker broadcast channel command: '%s'", command)
		e.log.WithError(err).Error("Command dispatch failed")
		response = e.failureFromError(command, payload, err)
		return
	}

	payload.Strip("hashId", "hashIds")
	if command != ProcedureStartAutomaticTransactionGenerator && command != ProcedureStopAutomaticTransactionGenerator {
		payload.Strip("connectorIds")
	}

	commandResponse, err := e.invoke(handler, payload)
	if err != nil {
		e.log.WithError(err).WithField("command", command).Error("Command handler failed")
		response = e.failureFromError(command, payload, err)
		return
	}
	if commandResponse == nil {
		return
	}
	if Classify(command, commandResponse) == StatusFailure {
		response = ResponsePayload{
			HashID:          e.station.HashID(),
			Status:          StatusFailure,
			Command:         command,
			RequestPayload:  payload,
			CommandResponse: commandResponse,
		}
	}
}

// invoke shields the dispatcher from handler panics; a panicking handler
// still yields a failure response.
func (e *Endpoint) invoke(handler commandHandler, payload RequestPayload) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("command handler panic: %v", r)
		}
	}()
	return handler(payload)
}

func (e *Endpoint) failureFromError(command ProcedureName, payload RequestPayload, err error) ResponsePayload {
	response := ResponsePayload{
		HashID:         e.station.HashID(),
		Status:         StatusFailure,
		Command:        command,
		RequestPayload: payload,
		ErrorMessage:   err.Error(),
		ErrorStack:     fmt.Sprintf("%+v", err),
	}
	if ocppErr, ok := ocpp.AsError(err); ok {
		if ocppErr.Description != "" {
			response.ErrorMessage = ocppErr.Description
		}
		response.ErrorDetails = ocppErr.Details
	}
	return response
}

func (e *Endpoint) publishResponse(uuid string, payload ResponsePayload) {
	data, err := json.Marshal(ResponseEnvelope{UUID: uuid, Payload: payload})
	if err != nil {
		e.log.WithError(err).Error("Failed to marshal response envelope")
		return
	}
	e.subscription.PostMessage(data)
}

func containsString(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}

func recoveredError(r interface{}) error {
	if err, ok := r.(error); ok {
		return err
	}
	return errors.Errorf("%v", r)
}
