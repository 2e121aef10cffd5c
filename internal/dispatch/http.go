package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/perimeterd/perimeterd/internal/platform/timeouts"
)

// maxBodyBytes bounds one HTTP envelope.
const maxBodyBytes = 1024 * 1024

// HTTPServer exposes the dispatcher over HTTP: POST /rpc for envelopes and
// GET /healthz for liveness.
type HTTPServer struct {
	addr       string
	apiToken   string
	dispatcher *Dispatcher
	logger     *log.Logger
}

// NewHTTPServer builds an HTTP front-end. A non-empty apiToken gates /rpc
// behind a bearer token check.
func NewHTTPServer(addr, apiToken string, d *Dispatcher, logger *log.Logger) *HTTPServer {
	return &HTTPServer{
		addr:       addr,
		apiToken:   strings.TrimSpace(apiToken),
		dispatcher: d,
		logger:     logger,
	}
}

// Handler returns the route table, split out so tests can serve it directly.
func (s *HTTPServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/rpc", s.handleRPC)
	mux.HandleFunc("/healthz", s.handleHealth)
	return mux
}

// Serve runs the server until ctx is canceled, then shuts down gracefully.
func (s *HTTPServer) Serve(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: timeouts.ReadHeader,
	}

	s.logger.Printf("starting HTTP server on %s", s.addr)

	errChan := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Printf("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown HTTP server: %w", err)
		}
		return nil
	case err := <-errChan:
		return fmt.Errorf("HTTP server error: %w", err)
	}
}

func (s *HTTPServer) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	token := bearerToken(r)
	if s.apiToken != "" && token != s.apiToken {
		w.Header().Set("WWW-Authenticate", `Bearer realm="perimeterd"`)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "read request", http.StatusBadRequest)
		return
	}

	resp := s.dispatcher.Handle(r.Context(), body, token)
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Printf("write response: %v", err)
	}
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintln(w, `{"status":"ok"}`)
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}
