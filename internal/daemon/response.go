package daemon

import (
	"encoding/json"
	"fmt"
	"log/slog"
)

// Message levels mirrored into the client's log output.
const (
	MsgInfo  = "INFO"
	MsgWarn  = "WARN"
	MsgError = "ERROR"
)

// Response is the envelope every socket command answers with: leveled
// messages for the operator plus an optional payload the client decodes
// into the command's typed result (ServerStatus list, OpResult, ...).
type Response struct {
	Messages []ResponseMessage `json:"messages"`
	Data     json.RawMessage   `json:"data,omitempty"`
}

type ResponseMessage struct {
	Message string `json:"message"`
	Status  string `json:"status"`
}

func (r *Response) AddMessage(level, message string) {
	r.Messages = append(r.Messages, ResponseMessage{
		Message: message,
		Status:  level,
	})
}

func (r *Response) AddMessagef(level, format string, args ...any) {
	r.AddMessage(level, fmt.Sprintf(format, args...))
}

// AddData encodes the payload eagerly so a value that cannot be
// marshaled surfaces as an error message instead of a broken envelope.
func (r *Response) AddData(data any) {
	encoded, err := json.Marshal(data)
	if err != nil {
		r.AddMessagef(MsgError, "Failed to encode response data: %v", err)
		return
	}
	r.Data = encoded
}

// DecodeData unmarshals the payload into v. A response without a
// payload leaves v untouched.
func (r *Response) DecodeData(v any) error {
	if len(r.Data) == 0 {
		return nil
	}
	return json.Unmarshal(r.Data, v)
}

// Encode renders the envelope for the wire.
func (r *Response) Encode() ([]byte, error) {
	encoded, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to encode response: %w", err)
	}
	return encoded, nil
}

// LogMessages replays the daemon's messages through the client's logger
// at their recorded levels.
func (r *Response) LogMessages() {
	for _, message := range r.Messages {
		switch message.Status {
		case MsgWarn:
			slog.Warn(message.Message)
		case MsgError:
			slog.Error(message.Message)
		default:
			slog.Info(message.Message)
		}
	}
}
