package server

import (
	"context"
	"net/http"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/aristath/darwin/internal/events"
)

// streamBuffer bounds the per-connection event queue; a slow client drops
// events rather than blocking the generation loop.
const streamBuffer = 100

// handleRunStream upgrades to a websocket and pushes every run event to
// the client until it disconnects.
func (s *Server) handleRunStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream closed")

	eventChan := make(chan *events.Event, streamBuffer)
	cancel := s.bus.SubscribeAll(func(event *events.Event) {
		select {
		case eventChan <- event:
		default:
			s.log.Warn().
				Str("event_type", string(event.Type)).
				Msg("Event channel full, dropping event")
		}
	})
	defer cancel()

	s.log.Info().Str("remote", r.RemoteAddr).Msg("Client connected to run stream")

	// Send the current status first so clients do not start blind.
	writeCtx, writeCancel := context.WithTimeout(r.Context(), 10*time.Second)
	err = wsjson.Write(writeCtx, conn, map[string]any{"type": "STATUS", "data": s.engine.Status()})
	writeCancel()
	if err != nil {
		return
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case event := <-eventChan:
			writeCtx, writeCancel := context.WithTimeout(ctx, 10*time.Second)
			err := wsjson.Write(writeCtx, conn, event)
			writeCancel()
			if err != nil {
				s.log.Debug().Err(err).Msg("run stream write failed, closing")
				return
			}
		}
	}
}
