package ocpp

import (
	"encoding/json"

	"github.com/sirupsen/logrus"
)

// OCPPLogger traces OCPP exchanges on a station's session
type OCPPLogger struct {
	station string
}

// NewOCPPLogger creates a new OCPP message logger
func NewOCPPLogger(station string) *OCPPLogger {
	return &OCPPLogger{
		station: station,
	}
}

// LogRequest logs an outgoing OCPP request
func (l *OCPPLogger) LogRequest(action string, payload interface{}) {
	l.logMessage("Request", action, payload)
}

// LogResponse logs an OCPP response
func (l *OCPPLogger) LogResponse(action string, payload interface{}) {
	l.logMessage("Response", action, payload)
}

func (l *OCPPLogger) logMessage(messageType, action string, payload interface{}) {
	if !logrus.IsLevelEnabled(logrus.DebugLevel) {
		return
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		logrus.WithError(err).Error("Failed to marshal OCPP message payload")
		payloadJSON = []byte("{}")
	}

	logrus.WithFields(logrus.Fields{
		"station":     l.station,
		"messageType": messageType,
		"action":      action,
		"payload":     string(payloadJSON),
	}).Debug("OCPP message")
}
