package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"go-quizagent/pkg/events"
	"go-quizagent/pkg/logger"
	"go-quizagent/pkg/models"
)

type wsWriter interface {
	Write(ctx context.Context, msgType websocket.MessageType, data []byte) error
}

// handleEventsWS streams a chain's progress until the chain ends or the
// client goes away.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	idParam := chi.URLParam(r, "id")
	id, err := uuid.Parse(idParam)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, errorResponse{Error: "unable to parse id"})
		return
	}
	pid, ok := s.state.get(id)
	if !ok || s.hub == nil {
		w.WriteHeader(http.StatusNotFound)
		render.JSON(w, r, errorResponse{Error: "unknown chain"})
		return
	}

	// same-origin and non-browser clients are always accepted
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.origins,
	})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusInternalError, "closed")
	ctx := conn.CloseRead(r.Context())

	sub, cancel := s.hub.Subscribe(idParam)
	defer cancel()

	// a chain that ended before the client subscribed gets one closing event
	if status, err := s.status(pid); err == nil {
		if e, done := finalEvent(status.Chain, s.now); done {
			if err := writeEvent(ctx, conn, e); err != nil {
				return
			}
			_ = conn.Close(websocket.StatusNormalClosure, "chain ended")
			return
		}
	}

	if err := streamEvents(ctx, sub, conn); err != nil {
		log.Debug().Err(err).Str(logger.ChainField, idParam).Msg("event stream closed")
		_ = conn.Close(websocket.StatusInternalError, "stream error")
		return
	}
	_ = conn.Close(websocket.StatusNormalClosure, "chain ended")
}

func streamEvents(ctx context.Context, sub <-chan events.Event, writer wsWriter) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-sub:
			if !ok {
				return nil
			}
			if err := writeEvent(ctx, writer, evt); err != nil {
				return err
			}
			if evt.Terminal() {
				return nil
			}
		}
	}
}

func writeEvent(ctx context.Context, writer wsWriter, evt events.Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return writer.Write(ctx, websocket.MessageText, payload)
}

func finalEvent(chain models.Chain, now func() time.Time) (events.Event, bool) {
	e := events.Event{Chain: chain.ID, Time: now(), Detail: map[string]any{"tasks": len(chain.Tasks)}}
	switch chain.State {
	case models.Finished:
		e.Type = events.ChainFinished
	case models.Failed:
		e.Type = events.ChainFailed
		if chain.Errs != nil && chain.Errs.Err != nil {
			e.Detail["error"] = chain.Errs.Err.Error()
		}
	default:
		return events.Event{}, false
	}
	return e, true
}
