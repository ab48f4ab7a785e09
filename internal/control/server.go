// Package control exposes reload and list to operators over local HTTP.
package control

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/amariwan/cronexec/internal/models"
	"github.com/amariwan/cronexec/internal/report"
	"github.com/amariwan/cronexec/internal/util"
)

// Usage is returned for requests that name no operation.
const Usage = "Usage: cronexec <reload|list>"

// Target is the part of the scheduler the control surface drives.
type Target interface {
	Reload() int
	List() string
	Rules() models.RuleSet
}

// Server serves the control endpoints
type Server struct {
	addr   string
	token  string
	target Target
	logger util.Logger
}

// NewServer creates a control server. An empty token disables auth.
func NewServer(addr, token string, target Target, logger util.Logger) *Server {
	return &Server{
		addr:   addr,
		token:  token,
		target: target,
		logger: logger,
	}
}

// Handler returns the routed, authenticated handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/reload", s.handleReload)
	mux.HandleFunc("/list", s.handleList)
	mux.HandleFunc("/", s.handleUsage)
	return s.authenticate(mux)
}

// Serve listens until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener serves on an existing listener until ctx is cancelled.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("Control server listening", "addr", ln.Addr().String(), "auth", s.token != "")
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	if s.token == "" {
		return next
	}
	want := []byte("Bearer " + s.token)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := []byte(r.Header.Get("Authorization"))
		if subtle.ConstantTimeCompare(got, want) != 1 {
			s.logger.Warn("Rejected control request", "path", r.URL.Path, "remote", r.RemoteAddr)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	n := s.target.Reload()
	s.logger.Debug("Reload requested", "remote", r.RemoteAddr, "tasks", n)
	fmt.Fprintf(w, "Reloaded crontab with %d tasks\n", n)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	format := r.URL.Query().Get("format")
	if format == "" || strings.EqualFold(format, "text") {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintln(w, s.target.List())
		return
	}
	renderer, err := report.ForFormat(format)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	body, err := renderer.Render(s.target.Rules())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", renderer.ContentType())
	w.Write(body)
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	fmt.Fprintln(w, Usage)
}
