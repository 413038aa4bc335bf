package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"github.com/justinas/alice"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"

	"go-quizagent/pkg/events"
	"go-quizagent/pkg/logger"
	"go-quizagent/pkg/messages"
	"go-quizagent/pkg/models"
)

type solveRequest struct {
	URL    string `json:"url"`
	Secret string `json:"secret"`
	Email  string `json:"email,omitempty"`
}

type solveResponse struct {
	Status string `json:"status"`
	URL    string `json:"url"`
	ID     string `json:"id"`
}

type getStatus struct {
	Status models.Status `json:"status"`
}

type health struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type Options struct {
	Address string
	Secret  string
	Root    *actor.RootContext
	// Chain spawns the actor that runs one chain.
	Chain *actor.Props
	Hub   *events.Hub
	// OriginPatterns lists the browser origins allowed to open the event
	// stream besides the server's own.
	OriginPatterns []string
	Now            func() time.Time
}

type Server struct {
	ac      *actor.RootContext
	server  *http.Server
	state   *requestsCache
	hub     *events.Hub
	origins []string
	now     func() time.Time
}

func New(opts Options) *Server {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Server{
		ac:      opts.Root,
		state:   newRequestsCache(),
		hub:     opts.Hub,
		origins: opts.OriginPatterns,
		now:     opts.Now,
	}

	r := chi.NewRouter()
	r.Use(logMiddleware())
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, health{Status: "healthy", Timestamp: s.now().UTC().Format(time.RFC3339)})
	})

	r.Get("/status/{id}", func(w http.ResponseWriter, r *http.Request) {
		log.Debug().Msg("status request")
		idParam := chi.URLParam(r, "id")
		id, err := uuid.Parse(idParam)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			log.Debug().Msg("cannot parse id")
			render.JSON(w, r, errorResponse{Error: "unable to parse id"})
			return
		}
		pid, ok := s.state.get(id)
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			log.Debug().Str(logger.ChainField, idParam).Msg("cannot find id")
			render.JSON(w, r, errorResponse{Error: "unknown chain"})
			return
		}

		status, err := s.status(pid)
		if err != nil {
			s.state.remove(id)
			w.WriteHeader(http.StatusInternalServerError)
			log.Error().Str(logger.ChainField, idParam).Err(err).Msg("unable to get status from actor")
			return
		}
		render.JSON(w, r, getStatus{status})
	})

	r.Get("/chains/{id}/events", s.handleEventsWS)

	r.Post("/solve", func(w http.ResponseWriter, r *http.Request) {
		log.Debug().Msg("solve request")
		if opts.Secret == "" {
			log.Error().Msg("SECRET is not configured")
			w.WriteHeader(http.StatusInternalServerError)
			render.JSON(w, r, errorResponse{Error: "server configuration error"})
			return
		}

		req := solveRequest{}
		if err := unmarshalRequestBody(r, &req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			log.Debug().Err(err).Msg("cannot parse body")
			render.JSON(w, r, errorResponse{Error: "unable to parse body"})
			return
		}
		req.URL = strings.TrimSpace(req.URL)
		if req.URL == "" {
			w.WriteHeader(http.StatusBadRequest)
			render.JSON(w, r, errorResponse{Error: "url is required"})
			return
		}
		if subtle.ConstantTimeCompare([]byte(req.Secret), []byte(opts.Secret)) != 1 {
			log.Warn().Str("secret", logger.Mask(req.Secret)).Msg("rejected solve request")
			w.WriteHeader(http.StatusForbidden)
			render.JSON(w, r, errorResponse{Error: "invalid secret"})
			return
		}

		pid := s.ac.Spawn(opts.Chain)
		id := uuid.New()
		s.state.add(id, pid)
		s.ac.Send(pid, messages.StartChain{ChainID: id.String(), URL: req.URL})

		log.Info().Str(logger.ChainField, id.String()).Str(logger.TaskField, req.URL).Msg("chain has been started")
		render.JSON(w, r, solveResponse{Status: "started", URL: req.URL, ID: id.String()})
	})

	s.server = &http.Server{
		Addr:    opts.Address,
		Handler: r,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) status(pid *actor.PID) (models.Status, error) {
	future := s.ac.RequestFuture(pid, messages.GetStatus{}, time.Minute) // blocking
	res, err := future.Result()
	if err != nil {
		return models.Status{}, err
	}
	if err, ok := res.(error); ok {
		return models.Status{}, err
	}
	status, ok := res.(models.Status)
	if !ok {
		return models.Status{}, fmt.Errorf("unknown status from actor: %T", res)
	}
	return status, nil
}

func (s *Server) Start() error {
	log.Info().Str("address", s.server.Addr).Msg("http server starting")
	err := s.server.ListenAndServe()
	if err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	err := s.server.Shutdown(ctx)
	if err != nil {
		return fmt.Errorf("http server: %w", err)
	}

	return nil
}

func logMiddleware() func(http.Handler) http.Handler {
	c := alice.New()
	c = c.Append(hlog.NewHandler(log.Logger))
	c = c.Append(hlog.RemoteAddrHandler("ip"))
	c = c.Append(hlog.UserAgentHandler("agent"))
	c = c.Append(hlog.RefererHandler("referer"))
	c = c.Append(hlog.RequestIDHandler("req_id", "Request-Id"))
	c = c.Append(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("verb", r.Method).
			Stringer("url", r.URL).
			Int("size", size).
			Int("status", status).
			Int64("duration", duration.Milliseconds()).
			Msg("REQ")
	}))

	return c.Then
}

func unmarshalRequestBody(req *http.Request, output interface{}) error {
	if req.Body == nil {
		return errors.New("invalid body in request")
	}

	body, err := io.ReadAll(req.Body)
	if err != nil {
		return err
	}
	if err = req.Body.Close(); err != nil {
		return err
	}
	if err = json.Unmarshal(body, &output); err != nil {
		return err
	}

	return nil
}
