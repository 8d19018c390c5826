package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	apperrors "github.com/apsjohn/pianovision-fingerings/internal/errors"
	"github.com/apsjohn/pianovision-fingerings/internal/worker"
)

const (
	// writeTimeout is the deadline for a single write to a client
	writeTimeout = 10 * time.Second

	// pendingDepth bounds requests a client may have in flight
	pendingDepth = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleWS serves the message boundary: each text frame is a
// worker.Message, each reply a worker.Reply. Replies are written in the
// order the requests arrived.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response
		return
	}
	defer conn.Close()

	maxBytes := int64(s.config.MaxUploadMB) << 20
	conn.SetReadLimit(maxBytes * 2) // base64 overhead

	pending := make(chan (<-chan worker.Response), pendingDepth)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeReplies(conn, pending)
	}()

	ctx := r.Context()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}

		var msg worker.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			pending <- failed("", apperrors.NewEngineError(apperrors.KindInvalidRequest, "decode", "invalid message: "+err.Error(), err))
			continue
		}
		req, err := msg.Request()
		if err != nil {
			pending <- failed(msg.ID, err)
			continue
		}

		reply, err := s.worker.Post(ctx, req)
		if err != nil {
			pending <- failed(msg.ID, err)
			continue
		}
		pending <- reply
	}

	close(pending)
	<-writerDone
}

func (s *Server) writeReplies(conn *websocket.Conn, pending <-chan (<-chan worker.Response)) {
	broken := false
	for ch := range pending {
		resp := <-ch
		if broken {
			continue
		}
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(worker.NewReply(resp)); err != nil {
			s.logger.Debug("ws write failed", "id", resp.ID, "error", err)
			broken = true
		}
	}
}

// failed wraps an error as an already-resolved response
func failed(id string, err error) <-chan worker.Response {
	ch := make(chan worker.Response, 1)
	ch <- worker.Response{ID: id, Err: err}
	return ch
}
