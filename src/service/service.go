package service

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mosaicnetworks/walkie/src/call"
	"github.com/mosaicnetworks/walkie/src/common"
	"github.com/mosaicnetworks/walkie/src/identity"
	"github.com/sirupsen/logrus"
)

// Controller is the command and query surface of a call machine.
type Controller interface {
	ID() string
	State() call.State
	Snapshot() (call.CallSession, bool, error)
	StartCall(peerID string) error
	AcceptCall() error
	RejectCall() error
	Hangup() error
	ToggleMicLock() (bool, error)
	StartTalking() error
	StopTalking() error
	EnteredBackground() error
	ReturnedToForeground() error
}

// StatsProvider reports the number of relay records per topic.
type StatsProvider interface {
	Stats() (map[string]int, error)
}

// Service is the HTTP bridge between a UI shell and a call machine. On a relay
// server it only exposes statistics.
type Service struct {
	bindAddress string
	controller  Controller
	stats       StatsProvider
	router      chi.Router
	httpServer  *http.Server

	subMu  sync.Mutex
	subs   map[uint64]chan []byte
	nextID uint64

	shutdownCh   chan struct{}
	shutdownOnce sync.Once

	logger *logrus.Entry
}

// NewService creates a Service. controller and stats can be nil, in which case
// the corresponding routes are not registered.
func NewService(bindAddress string,
	controller Controller,
	stats StatsProvider,
	logger *logrus.Entry) *Service {

	service := &Service{
		bindAddress: bindAddress,
		controller:  controller,
		stats:       stats,
		subs:        make(map[uint64]chan []byte),
		shutdownCh:  make(chan struct{}),
		logger:      logger.WithField("prefix", "service"),
	}

	service.registerHandlers()

	service.httpServer = &http.Server{
		Addr:    bindAddress,
		Handler: service.router,
	}

	return service
}

func (s *Service) registerHandlers() {
	s.logger.Debug("Registering API handlers")

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)
	r.Use(cors)

	if s.controller != nil {
		r.Get("/state", s.GetState)
		r.Get("/events", s.GetEvents)
		r.Post("/call/{peer}", s.PostCall)
		r.Post("/accept", s.command(s.controller.AcceptCall))
		r.Post("/reject", s.command(s.controller.RejectCall))
		r.Post("/hangup", s.command(s.controller.Hangup))
		r.Post("/mic/lock", s.PostMicLock)
		r.Post("/talk/start", s.command(s.controller.StartTalking))
		r.Post("/talk/stop", s.command(s.controller.StopTalking))
		r.Post("/background", s.command(s.controller.EnteredBackground))
		r.Post("/foreground", s.command(s.controller.ReturnedToForeground))
	}

	if s.stats != nil {
		r.Get("/stats", s.GetStats)
	}

	s.router = r
}

// Handler returns the router of the Service, for use with another server.
func (s *Service) Handler() http.Handler {
	return s.router
}

// Serve calls ListenAndServe. This is a blocking call.
func (s *Service) Serve() {
	s.logger.WithField("bind_address", s.bindAddress).Debug("Serving API")

	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		s.logger.WithError(err).Error("Serve")
	}
}

// Shutdown stops the http server and closes the event streams.
func (s *Service) Shutdown() {
	s.shutdownOnce.Do(func() {
		close(s.shutdownCh)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.WithError(err).Error("Shutting down http server")
		}
	})
}

/*******************************************************************************
Handlers
*******************************************************************************/

type sessionView struct {
	call.CallSession
	Role             string `codec:"role"`
	State            string `codec:"state"`
}

type stateView struct {
	ID      string       `codec:"id"`
	State   string       `codec:"state"`
	Session *sessionView `codec:"session,omitempty"`
}

// GetState returns the identity, the call state and the current session.
func (s *Service) GetState(w http.ResponseWriter, r *http.Request) {
	snap, ok, err := s.controller.Snapshot()
	if err != nil {
		s.fail(w, err)
		return
	}

	res := stateView{
		ID:    s.controller.ID(),
		State: s.controller.State().String(),
	}

	if ok {
		res.Session = &sessionView{
			CallSession: snap,
			Role:        snap.Role.String(),
			State:       snap.State.String(),
		}
	}

	s.reply(w, http.StatusOK, res)
}

// PostCall starts a call to the peer in the path.
func (s *Service) PostCall(w http.ResponseWriter, r *http.Request) {
	peer := chi.URLParam(r, "peer")

	if err := s.controller.StartCall(peer); err != nil {
		s.fail(w, err)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// PostMicLock toggles the microphone lock and returns the new value.
func (s *Service) PostMicLock(w http.ResponseWriter, r *http.Request) {
	locked, err := s.controller.ToggleMicLock()
	if err != nil {
		s.fail(w, err)
		return
	}

	s.reply(w, http.StatusOK, map[string]bool{"locked": locked})
}

// GetStats returns the number of relay records per topic.
func (s *Service) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.stats.Stats()
	if err != nil {
		s.fail(w, err)
		return
	}

	s.reply(w, http.StatusOK, stats)
}

func (s *Service) command(fn func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(); err != nil {
			s.fail(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Service) reply(w http.ResponseWriter, status int, v interface{}) {
	data, err := common.EncodeJSON(v)
	if err != nil {
		s.logger.WithError(err).Error("Encoding response")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

func (s *Service) fail(w http.ResponseWriter, err error) {
	status := statusOf(err)

	if status == http.StatusInternalServerError {
		s.logger.WithError(err).Error("Request failed")
	} else {
		s.logger.WithError(err).Debug("Request rejected")
	}

	s.reply(w, status, map[string]string{"error": err.Error()})
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, call.ErrSelfCall),
		errors.Is(err, identity.ErrInvalidIdentity):
		return http.StatusBadRequest
	case errors.Is(err, call.ErrBusy),
		errors.Is(err, call.ErrNoActiveCall),
		errors.Is(err, call.ErrNoIncomingCall):
		return http.StatusConflict
	case errors.Is(err, call.ErrShutdown):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

/*******************************************************************************
Middleware
*******************************************************************************/

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		next.ServeHTTP(w, r)
	})
}

func (s *Service) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		s.logger.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   ww.Status(),
			"duration": time.Since(start),
		}).Debug("Request")
	})
}
