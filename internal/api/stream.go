// File: internal/api/stream.go
package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/samuelvinay91/uniauto/api/schemas"
	"github.com/samuelvinay91/uniauto/internal/tracker"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The API is same-host tooling; origin restriction is left to a
	// fronting proxy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second
	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// How often the tracker is polled for a fresh snapshot.
	streamPollInterval = 250 * time.Millisecond
)

// handleExecutionStream pushes execution status snapshots over a
// WebSocket until the run reaches a terminal state. A snapshot is sent
// on every state transition; the final one carries the full record.
func (s *Server) handleExecutionStream(w http.ResponseWriter, r *http.Request) {
	executionID := chi.URLParam(r, "executionID")

	if _, err := s.handlers.engine.ExecutionStatus(executionID); err != nil {
		if errors.Is(err, tracker.ErrUnknownExecution) {
			http.Error(w, "execution not found", http.StatusNotFound)
			return
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade connection to WebSocket", zap.Error(err))
		return
	}
	defer conn.Close()

	s.logger.Debug("Execution stream opened",
		zap.String("execution_id", executionID),
		zap.String("remote_addr", r.RemoteAddr))

	// Drain incoming control frames so pongs and close messages are
	// processed; client payloads are ignored.
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(512)
		if err := conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			return
		}
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	poll := time.NewTicker(streamPollInterval)
	defer poll.Stop()
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	var lastState schemas.ExecutionState
	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case <-ping.C:
			if err := s.writeControl(conn, websocket.PingMessage); err != nil {
				return
			}
		case <-poll.C:
			status, err := s.handlers.engine.ExecutionStatus(executionID)
			if err != nil {
				// Reaped from the tracker while we were streaming.
				s.writeControl(conn, websocket.CloseMessage)
				return
			}
			if status.State == lastState {
				continue
			}
			lastState = status.State
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := conn.WriteJSON(status); err != nil {
				s.logger.Debug("Execution stream write failed", zap.Error(err))
				return
			}
			if status.State.Terminal() {
				s.writeControl(conn, websocket.CloseMessage)
				return
			}
		}
	}
}

func (s *Server) writeControl(conn *websocket.Conn, messageType int) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteMessage(messageType, nil)
}
