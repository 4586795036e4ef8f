// Package protocol defines the event envelope exchanged with connected sessions
// and the closed set of inbound requests and outbound pushes it can carry.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"

	"telecare/internal/domain"
)

var validate = validator.New()

// Envelope is the wire frame: {"event": "...", "data": {...}}.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Request is implemented only by the inbound variants in this package.
type Request interface {
	Event() string
	request()
}

// Push is implemented only by the outbound variants in this package.
type Push interface {
	Event() string
	push()
}

// Decode parses one inbound frame into its typed request and validates it.
func Decode(raw []byte) (Request, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: malformed frame: %v", domain.ErrValidation, err)
	}

	var req Request
	switch env.Event {
	case EventSendMessage:
		req = &SendMessage{}
	case EventGetConversations:
		req = &GetConversations{}
	case EventGetChatHistory:
		req = &GetChatHistory{}
	case EventMarkMessagesRead:
		req = &MarkMessagesRead{}
	case EventSendInvitation:
		req = &SendInvitation{}
	case EventAccept:
		req = &AcceptCall{}
	case EventReject:
		req = &RejectCall{}
	case EventCancel:
		req = &CancelCall{}
	case EventGetUserStatus:
		req = &GetUserStatus{}
	default:
		return nil, fmt.Errorf("%w: unknown event %q", domain.ErrValidation, env.Event)
	}

	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, req); err != nil {
			return nil, fmt.Errorf("%w: %s payload: %v", domain.ErrValidation, env.Event, err)
		}
	}
	if err := Validate(req); err != nil {
		return nil, err
	}
	return req, nil
}

// Validate runs the struct tag rules of a payload and reports them as ErrValidation.
func Validate(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		fields := lo.Map(fieldErrs, func(fe validator.FieldError, _ int) string {
			return fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
		})
		return fmt.Errorf("%w: %s", domain.ErrValidation, strings.Join(fields, ", "))
	}
	return fmt.Errorf("%w: %v", domain.ErrValidation, err)
}

type frame struct {
	Event string `json:"event"`
	Data  Push   `json:"data"`
}

// Encode wraps a push into its envelope.
func Encode(p Push) ([]byte, error) {
	return json.Marshal(frame{Event: p.Event(), Data: p})
}

// EncodeRequest is the client-side counterpart of Decode.
func EncodeRequest(r Request) ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: r.Event(), Data: data})
}

// NewError builds the error push for a rejected request.
func NewError(event string, err error) *Error {
	return &Error{Request: event, Code: domain.ErrorCode(err), Message: err.Error()}
}

// EventOf returns the event name of a raw frame, or "" when it cannot be read.
func EventOf(raw []byte) string {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return ""
	}
	return env.Event
}
