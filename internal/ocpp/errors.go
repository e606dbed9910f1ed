package ocpp

import (
	"fmt"

	ocppgo "github.com/lorenzodonini/ocpp-go/ocpp"
	"github.com/pkg/errors"
)

// Error is a typed OCPP request failure surfaced by the request service.
type Error struct {
	Code        string
	Description string
	Details     map[string]interface{}
}

func (e *Error) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Description)
	}
	return e.Code
}

// ErrServiceNotInitialized is returned when a send is attempted before the
// websocket session and codec are up.
var ErrServiceNotInitialized = &Error{Code: "InternalError", Description: "OCPP request service is not initialized"}

// NewError creates a typed OCPP error carrying a stack trace.
func NewError(code, description string, details map[string]interface{}) error {
	return errors.WithStack(&Error{
		Code:        code,
		Description: description,
		Details:     details,
	})
}

// AsError unwraps err into a typed OCPP error, if it carries one.
func AsError(err error) (*Error, bool) {
	var ocppErr *Error
	if errors.As(err, &ocppErr) {
		return ocppErr, true
	}
	return nil, false
}

// wrapRequestError converts a transport or protocol failure into a typed
// OCPP error attributed to the given action.
func wrapRequestError(action string, err error) error {
	if err == nil {
		return nil
	}
	if protoErr, ok := err.(*ocppgo.Error); ok {
		return errors.WithStack(&Error{
			Code:        string(protoErr.Code),
			Description: protoErr.Description,
			Details:     map[string]interface{}{"action": action, "messageId": protoErr.MessageId},
		})
	}
	return errors.WithStack(&Error{
		Code:        "InternalError",
		Description: err.Error(),
		Details:     map[string]interface{}{"action": action},
	})
}
