package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"nhooyr.io/websocket"

	"stabled/core/events"
)

const wsWriteTimeout = 10 * time.Second

// handleWS streams ledger events to the client. The optional ?after=<seq>
// cursor replays the retained backlog before live events, so a reconnecting
// indexer resumes without gaps inside the retention window.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s == nil || s.bus == nil {
		http.Error(w, "event stream unavailable", http.StatusServiceUnavailable)
		return
	}
	cursor := events.ParseCursor(r.URL.Query().Get("after"))
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	s.metrics.WSClientConnected(1)
	defer s.metrics.WSClientConnected(-1)

	if err := s.streamEvents(r.Context(), conn, cursor); err != nil {
		if status := websocket.CloseStatus(err); status == -1 {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *Server) streamEvents(ctx context.Context, conn *websocket.Conn, cursor uint64) error {
	updates, cancel, backlog, err := s.bus.Subscribe(ctx, cursor)
	if err != nil {
		return err
	}
	defer cancel()

	for _, evt := range backlog {
		if err := writeStreamEvent(ctx, conn, evt); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-updates:
			if !ok {
				return nil
			}
			if err := writeStreamEvent(ctx, conn, evt); err != nil {
				return err
			}
		}
	}
}

func writeStreamEvent(ctx context.Context, conn *websocket.Conn, evt events.StreamEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
