package worker

import (
	"encoding/json"
	"errors"

	"github.com/apsjohn/pianovision-fingerings/internal/codec"
	apperrors "github.com/apsjohn/pianovision-fingerings/internal/errors"
)

// Message is the inbound request on message boundaries (WebSocket, AMQP).
// MIDI travels as transit-encoded text.
type Message struct {
	ID       string `json:"id"`
	MIDI     string `json:"midi"`
	HandSize string `json:"hand_size,omitempty"`
	Mode     string `json:"mode,omitempty"`
}

// Request decodes the message into a worker request
func (m Message) Request() (Request, error) {
	mode, err := ParseMode(m.Mode)
	if err != nil {
		return Request{}, apperrors.NewEngineError(apperrors.KindInvalidRequest, "mode", err.Error(), err)
	}
	data, err := codec.Decode(m.MIDI)
	if err != nil {
		return Request{}, err
	}
	return Request{ID: m.ID, MIDI: data, HandSize: m.HandSize, Mode: mode}, nil
}

// ErrorBody is the transport form of a failure
type ErrorBody struct {
	Kind    apperrors.Kind `json:"kind"`
	Message string         `json:"message"`
}

// NewErrorBody classifies err for transport
func NewErrorBody(err error) ErrorBody {
	body := ErrorBody{Kind: apperrors.KindOf(err), Message: err.Error()}
	var ee *apperrors.EngineError
	if errors.As(err, &ee) && ee.Message != "" {
		body.Message = ee.Message
	}
	return body
}

// Reply is the outbound response on message boundaries. A failed reply
// carries Error and nothing else.
type Reply struct {
	ID       string          `json:"id"`
	OK       bool            `json:"ok"`
	Mode     Mode            `json:"mode,omitempty"`
	HandSize string          `json:"hand_size,omitempty"`
	Cached   bool            `json:"cached,omitempty"`
	Result   json.RawMessage `json:"result,omitempty"`
	MIDI     string          `json:"midi,omitempty"`
	Error    *ErrorBody      `json:"error,omitempty"`
}

// NewReply renders a response for transport
func NewReply(resp Response) Reply {
	if resp.Err != nil {
		body := NewErrorBody(resp.Err)
		return Reply{ID: resp.ID, Error: &body}
	}

	reply := Reply{
		ID:       resp.ID,
		OK:       true,
		Mode:     resp.Mode,
		HandSize: string(resp.HandSize),
		Cached:   resp.Cached,
	}
	if resp.Mode == ModeMIDI {
		reply.MIDI = resp.Payload
	} else {
		reply.Result = json.RawMessage(resp.Payload)
	}
	return reply
}

// ErrorReply builds a failed reply for a message that never reached the
// worker
func ErrorReply(id string, err error) Reply {
	body := NewErrorBody(err)
	return Reply{ID: id, Error: &body}
}
