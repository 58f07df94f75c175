package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"runtime"
	"strings"
	"sync"
	"time"

	rtsup "worksrelay/internal/runtime/supervisor"
	logx "worksrelay/pkg/logx"
)

const defaultAddr = ":8000"

// Server owns the listener and http.Server for the gin router.
type Server struct {
	mu  sync.Mutex
	log logx.Logger
	cfg Config

	handler  http.Handler
	ln       net.Listener
	srv      *http.Server
	sup      *rtsup.Supervisor
	stopDone chan struct{}
}

// NewServer builds a server around deps. Debug settings follow ApplyDebug.
func NewServer(cfg Config, deps Deps) *Server {
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Server{cfg: cfg, log: log.With(logx.String("comp", "http"))}
	s.handler = NewRouter(deps, s.Debug)
	applyRuntimeRates(cfg.Debug)
	return s
}

// Handler exposes the router (tests drive it with httptest).
func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) Debug() DebugConfig {
	s.mu.Lock()
	d := s.cfg.Debug
	s.mu.Unlock()
	return d
}

// ApplyDebug swaps the /debug gate settings at runtime.
func (s *Server) ApplyDebug(d DebugConfig) {
	s.mu.Lock()
	s.cfg.Debug = d
	s.mu.Unlock()
	applyRuntimeRates(d)
}

// Supervisor returns the server's internal supervisor (nil if not started).
func (s *Server) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	sup := s.sup
	s.mu.Unlock()
	return sup
}

// Wait blocks until the serve loop exits and returns its failure, if any.
// A graceful Stop yields nil.
func (s *Server) Wait(ctx context.Context) error {
	sup := s.Supervisor()
	if sup == nil {
		return nil
	}
	return sup.Wait(ctx)
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Start binds the listener synchronously (so a busy port fails startup) and
// serves in the background.
func (s *Server) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.sup != nil {
		s.mu.Unlock()
		return nil
	}
	cur := s.cfg
	s.mu.Unlock()

	addr := strings.TrimSpace(cur.Addr)
	if addr == "" {
		addr = defaultAddr
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.handler,
		ReadTimeout:       cur.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cur.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	sup := rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(s.log),
		rtsup.WithCancelOnError(false),
	)
	s.mu.Lock()
	s.ln = ln
	s.srv = srv
	s.sup = sup
	s.mu.Unlock()

	sup.Go("http.serve", func(c context.Context) error {
		err := srv.Serve(ln)
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		s.log.Error("http server failed", logx.Err(err))
		return err
	})
	s.log.Info("http server started", logx.String("addr", ln.Addr().String()), logx.Bool("debug", cur.Debug.Enabled))
	return nil
}

// Stop shuts the server down gracefully until ctx expires, then closes it.
func (s *Server) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	if s.sup == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	s.stopDone = done
	srv := s.srv
	sup := s.sup
	s.mu.Unlock()

	go func() {
		defer close(done)
		if err := srv.Shutdown(ctx); err != nil {
			_ = srv.Close()
		}
		sup.Cancel()
		_ = sup.Wait(context.Background())

		s.mu.Lock()
		s.ln = nil
		s.srv = nil
		s.sup = nil
		s.stopDone = nil
		s.mu.Unlock()
		s.log.Info("http server stopped")
	}()

	select {
	case <-done:
	case <-ctx.Done():
		_ = srv.Close()
	}
}

func applyRuntimeRates(d DebugConfig) {
	// 0 keeps Go default; negative values are ignored.
	if d.MutexProfileFraction > 0 {
		runtime.SetMutexProfileFraction(d.MutexProfileFraction)
	}
	if d.BlockProfileRate > 0 {
		runtime.SetBlockProfileRate(d.BlockProfileRate)
	}
}
