package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const (
	MetricsPath = "/metrics"
	HealthPath  = "/healthz"
)

// HTTPService serves metrics, a health probe and any extra routes as a supervised service.
type HTTPService struct {
	addr            string
	mux             *http.ServeMux
	shutdownTimeout time.Duration
	listening       chan net.Addr
	logger          zerolog.Logger
}

// HTTPOption customizes the HTTP service.
type HTTPOption func(*HTTPService)

// WithAccessLogger logs every request at debug level.
func WithAccessLogger(logger zerolog.Logger) HTTPOption {
	return func(s *HTTPService) {
		s.logger = logger
	}
}

// NewHTTPService exposes gatherer on addr. A nil gatherer uses the default registry.
func NewHTTPService(addr string, gatherer prometheus.Gatherer, opts ...HTTPOption) (*HTTPService, error) {
	if addr == "" {
		return nil, errors.New("http service: empty address")
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux := http.NewServeMux()
	mux.Handle(MetricsPath, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc(HealthPath, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	s := &HTTPService{
		addr:            addr,
		mux:             mux,
		shutdownTimeout: 5 * time.Second,
		listening:       make(chan net.Addr, 1),
		logger:          zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Handle mounts an extra route. Call before Serve.
func (s *HTTPService) Handle(pattern string, handler http.Handler) {
	s.mux.Handle(pattern, handler)
}

// Listening yields the bound address once per successful listen.
func (s *HTTPService) Listening() <-chan net.Addr {
	return s.listening
}

// Serve listens until ctx is cancelled, then shuts down gracefully. Every call
// uses a fresh server so the supervisor can restart it.
func (s *HTTPService) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("http service: listen %s: %w", s.addr, err)
	}
	server := &http.Server{Handler: loggingMiddleware(s.mux, s.logger), ReadHeaderTimeout: 5 * time.Second}
	select {
	case s.listening <- ln.Addr():
	default:
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http service: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http service: shutdown: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

func (s *HTTPService) String() string { return "http-server" }

func loggingMiddleware(next http.Handler, logger zerolog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", resp.status).
			Dur("elapsed", time.Since(start)).
			Msg("http request")
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
