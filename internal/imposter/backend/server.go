package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"stagehand/internal/imposter"
	"stagehand/pkg/logging"
)

const subsystem = "Backend"

// Server is the backend's admin API plus the imposters it runs.
type Server struct {
	host string

	mu        sync.Mutex
	imposters map[int]*liveImposter

	mux *http.ServeMux
}

// New creates a backend whose imposters listen on host.
func New(host string) *Server {
	if host == "" {
		host = "127.0.0.1"
	}
	s := &Server{
		host:      host,
		imposters: make(map[int]*liveImposter),
		mux:       http.NewServeMux(),
	}
	s.mux.HandleFunc("POST /imposters", s.handleCreate)
	s.mux.HandleFunc("GET /imposters", s.handleList)
	s.mux.HandleFunc("DELETE /imposters", s.handleDeleteAll)
	s.mux.HandleFunc("GET /imposters/{port}", s.handleGet)
	s.mux.HandleFunc("DELETE /imposters/{port}", s.handleDelete)
	return s
}

// Handler returns the admin API handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Count returns the number of live imposters.
func (s *Server) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.imposters)
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, format string, args ...interface{}) {
	writeJSON(w, status, map[string][]apiError{
		"errors": {{Code: code, Message: fmt.Sprintf(format, args...)}},
	})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var spec imposter.Spec
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&spec); err != nil {
		writeError(w, http.StatusBadRequest, "bad data", "invalid imposter definition: %v", err)
		return
	}
	if spec.Protocol == "" {
		spec.Protocol = "http"
	}
	if spec.Protocol != "http" {
		writeError(w, http.StatusBadRequest, "bad data", "unsupported protocol %q", spec.Protocol)
		return
	}

	li, err := startImposter(s.host, spec)
	if err != nil {
		writeError(w, http.StatusBadRequest, "resource conflict", "cannot bind imposter: %v", err)
		return
	}

	s.mu.Lock()
	s.imposters[li.spec.Port] = li
	s.mu.Unlock()

	logging.Info(subsystem, "Created imposter %q on port %d with %d stub(s)", li.spec.Name, li.spec.Port, len(li.spec.Stubs))
	w.Header().Set("Location", fmt.Sprintf("/imposters/%d", li.spec.Port))
	writeJSON(w, http.StatusCreated, li.state(true))
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	list := make([]imposter.State, 0, len(s.imposters))
	for _, li := range s.imposters {
		list = append(list, li.state(false))
	}
	s.mu.Unlock()

	sort.Slice(list, func(i, j int) bool { return list[i].Port < list[j].Port })
	writeJSON(w, http.StatusOK, map[string]interface{}{"imposters": list})
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (int, bool) {
	port, err := strconv.Atoi(r.PathValue("port"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad data", "invalid port %q", r.PathValue("port"))
		return 0, false
	}
	return port, true
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	port, ok := s.lookup(w, r)
	if !ok {
		return
	}

	s.mu.Lock()
	li, exists := s.imposters[port]
	s.mu.Unlock()

	if !exists {
		writeError(w, http.StatusNotFound, "no such resource", "no imposter on port %d", port)
		return
	}
	writeJSON(w, http.StatusOK, li.state(true))
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	port, ok := s.lookup(w, r)
	if !ok {
		return
	}

	s.mu.Lock()
	li, exists := s.imposters[port]
	delete(s.imposters, port)
	s.mu.Unlock()

	if !exists {
		writeJSON(w, http.StatusOK, map[string]interface{}{})
		return
	}

	state := li.state(true)
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	li.stop(ctx)

	logging.Info(subsystem, "Deleted imposter on port %d", port)
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleDeleteAll(w http.ResponseWriter, r *http.Request) {
	removed := s.removeAll(r.Context())
	writeJSON(w, http.StatusOK, map[string]interface{}{"imposters": removed})
}

func (s *Server) removeAll(ctx context.Context) []imposter.State {
	s.mu.Lock()
	all := s.imposters
	s.imposters = make(map[int]*liveImposter)
	s.mu.Unlock()

	states := make([]imposter.State, 0, len(all))
	for _, li := range all {
		states = append(states, li.state(false))
		stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		li.stop(stopCtx)
		cancel()
	}
	sort.Slice(states, func(i, j int) bool { return states[i].Port < states[j].Port })
	return states
}

// Close stops every imposter.
func (s *Server) Close(ctx context.Context) {
	removed := s.removeAll(ctx)
	if len(removed) > 0 {
		logging.Info(subsystem, "Stopped %d imposter(s)", len(removed))
	}
}

// Serve runs the admin API on ln until ctx is done, then stops the imposters.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: s.mux, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	logging.Info(subsystem, "Backend admin API listening on %s", ln.Addr())

	select {
	case err := <-errCh:
		s.Close(context.Background())
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.Close(shutdownCtx)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Embedded is a backend running in the current process.
type Embedded struct {
	*Server
	URL    string
	cancel context.CancelFunc
	done   chan error

	stopOnce sync.Once
	stopErr  error
}

// StartEmbedded serves a backend on an OS-assigned port of host.
func StartEmbedded(host string) (*Embedded, error) {
	s := New(host)
	ln, err := net.Listen("tcp", net.JoinHostPort(s.host, "0"))
	if err != nil {
		return nil, fmt.Errorf("failed to listen for embedded backend: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Embedded{
		Server: s,
		URL:    "http://" + ln.Addr().String(),
		cancel: cancel,
		done:   make(chan error, 1),
	}
	go func() {
		e.done <- s.Serve(ctx, ln)
	}()
	return e, nil
}

// Stop shuts the embedded backend down and waits for it. Later calls return
// the first result.
func (e *Embedded) Stop() error {
	e.stopOnce.Do(func() {
		e.cancel()
		e.stopErr = <-e.done
	})
	return e.stopErr
}
