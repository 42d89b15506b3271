package gui

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

type Server struct {
	addr     string
	bus      *Bus
	log      *zap.Logger
	commands chan Command
}

func NewServer(addr string, bus *Bus, log *zap.Logger) *Server {
	return &Server{
		addr:     addr,
		bus:      bus,
		log:      log.Named("gui"),
		commands: make(chan Command, 1),
	}
}

// Commands yields commands posted by the user interface.
func (s *Server) Commands() <-chan Command { return s.commands }

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.healthz)

	r.Route("/api", func(r chi.Router) {
		r.Get("/events", EventsHandler(s.bus, s.log))

		r.Post("/connect", postJSON[Connect](s))
		r.Post("/cancel", postEmpty(s, Cancel{}))
		r.Post("/quit", postEmpty(s, Quit{}))
		r.Post("/balance/refresh", postEmpty(s, RefreshBalance{}))
		r.Post("/chat", postJSON[SendChat](s))
		r.Post("/kick", postJSON[Kick](s))
		r.Post("/hostmode", postJSON[HostMode](s))

		r.Post("/rooms", postJSON[CreateRoom](s))
		r.Post("/rooms/{room}/join", roomCommand(s, func(room string, r *http.Request) (Command, error) {
			var body JoinRoom
			if err := decodeOptional(r, &body); err != nil {
				return nil, err
			}
			body.Room = room
			return body, nil
		}))
		r.Post("/rooms/{room}/leave", roomCommand(s, func(room string, _ *http.Request) (Command, error) {
			return LeaveRoom{Room: room}, nil
		}))
		r.Post("/rooms/{room}/ready", roomCommand(s, func(room string, _ *http.Request) (Command, error) {
			return Ready{Room: room}, nil
		}))
		r.Post("/rooms/{room}/start", roomCommand(s, func(room string, _ *http.Request) (Command, error) {
			return ForceStart{Room: room}, nil
		}))
	})

	return r
}

// Run serves the routes on addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	s.log.Info("listening", zap.Stringer("addr", ln.Addr()))

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		if e := <-errc; !errors.Is(e, http.ErrServerClosed) && err == nil {
			err = e
		}
		return err
	}
}

type health struct {
	UIClients      int `json:"ui_clients"`
	DroppedClients int `json:"dropped_clients"`
}

// healthz reports the signal bus state; it fails once the bus is gone.
func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	reply := make(chan View, 1)
	if !s.bus.Send(GetState{Reply: reply}) {
		http.Error(w, "signal bus stopped", http.StatusServiceUnavailable)
		return
	}
	select {
	case v := <-reply:
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(health{UIClients: v.NumClients, DroppedClients: v.Dropped})
	case <-r.Context().Done():
	}
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request, cmd Command) {
	select {
	case s.commands <- cmd:
		w.WriteHeader(http.StatusAccepted)
	case <-r.Context().Done():
		http.Error(w, "connector busy", http.StatusServiceUnavailable)
	}
}

func postJSON[T Command](s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var cmd T
		if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		s.submit(w, r, cmd)
	}
}

func postEmpty(s *Server, cmd Command) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.submit(w, r, cmd)
	}
}

func roomCommand(s *Server, build func(room string, r *http.Request) (Command, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		room := chi.URLParam(r, "room")
		if room == "" {
			http.Error(w, "missing room", http.StatusBadRequest)
			return
		}
		cmd, err := build(room, r)
		if err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		s.submit(w, r, cmd)
	}
}

// decodeOptional decodes a JSON body if one was sent.
func decodeOptional(r *http.Request, v any) error {
	if r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
