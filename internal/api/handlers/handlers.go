package handlers

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/albertkur/ocpp-charger-simulator/internal/service"
	"github.com/albertkur/ocpp-charger-simulator/internal/worker"
)

const commandResponseTimeout = 10 * time.Second

// Handler handles API requests
type Handler struct {
	simulator    *service.Simulator
	subscription *worker.Subscription

	mu      sync.Mutex
	pending map[string]chan worker.ResponsePayload
}

// NewHandler creates a new API handler attached to the worker channel
func NewHandler(simulator *service.Simulator) *Handler {
	h := &Handler{
		simulator: simulator,
		pending:   make(map[string]chan worker.ResponsePayload),
	}
	h.subscription = simulator.Bus().Subscribe()
	h.subscription.OnMessage(h.handleChannelMessage)
	return h
}

// handleChannelMessage routes response envelopes to the HTTP request
// waiting on their uuid.
func (h *Handler) handleChannelMessage(data []byte) {
	_, response, err := worker.DecodeMessage(data)
	if err != nil || response == nil {
		return
	}

	h.mu.Lock()
	waiter, ok := h.pending[response.UUID]
	h.mu.Unlock()
	if !ok {
		return
	}
	select {
	case waiter <- response.Payload:
	default:
		logrus.WithField("uuid", response.UUID).Warn("Command response channel full, dropping response")
	}
}

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// StationView is the station summary exposed by the API
type StationView struct {
	HashID     string `json:"hashId"`
	Name       string `json:"name"`
	Started    bool   `json:"started"`
	Registered bool   `json:"registered"`
	Connectors int    `json:"connectors"`
}

func stationView(cs interface {
	HashID() string
	Name() string
	Started() bool
	IsRegistered() bool
	ConnectorIDs() []int
}) StationView {
	return StationView{
		HashID:     cs.HashID(),
		Name:       cs.Name(),
		Started:    cs.Started(),
		Registered: cs.IsRegistered(),
		Connectors: len(cs.ConnectorIDs()),
	}
}

// GetStations returns all simulated stations
func (h *Handler) GetStations(w http.ResponseWriter, r *http.Request) {
	stations := h.simulator.Stations()
	views := make([]StationView, 0, len(stations))
	for _, cs := range stations {
		views = append(views, stationView(cs))
	}
	sendResponse(w, Response{Success: true, Data: views})
}

// GetStation returns a specific station
func (h *Handler) GetStation(w http.ResponseWriter, r *http.Request) {
	hashID := chi.URLParam(r, "hashId")
	cs, ok := h.simulator.Station(hashID)
	if !ok {
		sendErrorResponse(w, "Charging station not found", http.StatusNotFound)
		return
	}
	sendResponse(w, Response{Success: true, Data: stationView(cs)})
}

// GetConnectors returns the connector table of a station
func (h *Handler) GetConnectors(w http.ResponseWriter, r *http.Request) {
	hashID := chi.URLParam(r, "hashId")
	cs, ok := h.simulator.Station(hashID)
	if !ok {
		sendErrorResponse(w, "Charging station not found", http.StatusNotFound)
		return
	}
	sendResponse(w, Response{Success: true, Data: cs.Connectors()})
}

// GetStatistics returns the performance measurement snapshot
func (h *Handler) GetStatistics(w http.ResponseWriter, r *http.Request) {
	sendResponse(w, Response{Success: true, Data: h.simulator.Statistics()})
}

// CommandRequest is the body of a command submission
type CommandRequest struct {
	Command worker.ProcedureName   `json:"command"`
	HashIDs []string               `json:"hashIds,omitempty"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// CommandResult is the outcome of a command submission
type CommandResult struct {
	UUID      string                   `json:"uuid"`
	Responses []worker.ResponsePayload `json:"responses"`
}

// PostCommand publishes a request envelope on the worker channel and
// collects the station responses.
func (h *Handler) PostCommand(w http.ResponseWriter, r *http.Request) {
	var request CommandRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		sendErrorResponse(w, "Invalid command body", http.StatusBadRequest)
		return
	}
	if request.Command == "" {
		sendErrorResponse(w, "Command is required", http.StatusBadRequest)
		return
	}

	payload := worker.RequestPayload{}
	for key, value := range request.Payload {
		payload[key] = value
	}
	if len(request.HashIDs) > 0 {
		targets := make([]interface{}, 0, len(request.HashIDs))
		for _, id := range request.HashIDs {
			targets = append(targets, id)
		}
		payload["hashIds"] = targets
	}

	envelopeUUID := uuid.New().String()
	data, err := json.Marshal(worker.RequestEnvelope{
		UUID:    envelopeUUID,
		Command: request.Command,
		Payload: payload,
	})
	if err != nil {
		sendErrorResponse(w, "Failed to encode command envelope", http.StatusInternalServerError)
		return
	}

	expected := len(request.HashIDs)
	if expected == 0 {
		expected = len(h.simulator.Stations())
	}

	waiter := make(chan worker.ResponsePayload, expected)
	h.mu.Lock()
	h.pending[envelopeUUID] = waiter
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.pending, envelopeUUID)
		h.mu.Unlock()
	}()

	h.subscription.PostMessage(data)

	responses := make([]worker.ResponsePayload, 0, expected)
	timeout := time.After(commandResponseTimeout)
	for len(responses) < expected {
		select {
		case payload := <-waiter:
			responses = append(responses, payload)
		case <-timeout:
			logrus.WithFields(logrus.Fields{
				"uuid":     envelopeUUID,
				"received": len(responses),
				"expected": expected,
			}).Warn("Timed out waiting for command responses")
			sendResponse(w, Response{Success: true, Data: CommandResult{UUID: envelopeUUID, Responses: responses}})
			return
		}
	}
	sendResponse(w, Response{Success: true, Data: CommandResult{UUID: envelopeUUID, Responses: responses}})
}

func sendResponse(w http.ResponseWriter, response Response) {
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		logrus.WithError(err).Error("Failed to encode API response")
	}
}

func sendErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(ErrorResponse{Success: false, Error: message}); err != nil {
		logrus.WithError(err).Error("Failed to encode API error response")
	}
}
