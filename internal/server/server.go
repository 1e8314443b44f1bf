// Package server exposes the bill pipeline over HTTP.
//
// Form endpoints accept bill uploads from the web client; the Connect
// ExpenseService serves history, balances and friends on the same router.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"connectrpc.com/connect"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/mmynk/splitscribe/internal/auth"
	"github.com/mmynk/splitscribe/internal/images"
	"github.com/mmynk/splitscribe/internal/metrics"
	"github.com/mmynk/splitscribe/internal/middleware"
	"github.com/mmynk/splitscribe/internal/pipeline"
	"github.com/mmynk/splitscribe/pkg/api/apiconnect"
)

// Processor runs one bill submission.
type Processor interface {
	Process(ctx context.Context, in pipeline.Input) (*pipeline.Output, error)
}

// Config controls request limits and browser access.
type Config struct {
	MaxUploadBytes int64
	RequestTimeout time.Duration
	CORSOrigins    []string
}

// Server routes HTTP requests to the pipeline and the RPC services.
type Server struct {
	cfg         Config
	processor   Processor
	bucket      *images.Bucket
	expenses    apiconnect.ExpenseServiceHandler
	metrics     *metrics.Metrics
	jwt         *auth.JWTManager
	requireAuth bool
	logger      *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithBucket enables POST /process-stored-bill/.
func WithBucket(b *images.Bucket) Option {
	return func(s *Server) { s.bucket = b }
}

// WithExpenseService mounts the Connect ExpenseService.
func WithExpenseService(h apiconnect.ExpenseServiceHandler) Option {
	return func(s *Server) { s.expenses = h }
}

// WithMetrics enables GET /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithAuth verifies bearer tokens. With required set, anonymous requests are refused.
func WithAuth(jwtManager *auth.JWTManager, required bool) Option {
	return func(s *Server) {
		s.jwt = jwtManager
		s.requireAuth = required
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New creates a Server.
func New(cfg Config, processor Processor, opts ...Option) *Server {
	s := &Server{cfg: cfg, processor: processor, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	if s.cfg.MaxUploadBytes <= 0 {
		s.cfg.MaxUploadBytes = 10 << 20
	}
	return s
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(s.cors)

	r.Get("/", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		if s.cfg.RequestTimeout > 0 {
			r.Use(chimw.Timeout(s.cfg.RequestTimeout))
		}
		if s.jwt != nil {
			r.Use(middleware.Authenticate(s.jwt, s.requireAuth))
		}
		r.Post("/upload-bill/", s.handleUploadBill)
		r.Post("/process-stored-bill/", s.handleProcessStoredBill)
	})

	if s.expenses != nil {
		var interceptors []connect.Interceptor
		if s.jwt != nil {
			if s.requireAuth {
				interceptors = append(interceptors, middleware.RequireAuth(s.jwt))
			} else {
				interceptors = append(interceptors, middleware.OptionalAuth(s.jwt))
			}
		}
		interceptors = append(interceptors, middleware.LoggingInterceptor(s.logger))

		path, handler := apiconnect.NewExpenseServiceHandler(s.expenses,
			connect.WithInterceptors(interceptors...),
		)
		r.Handle(path+"*", handler)
	}

	return r
}

// cors adds CORS headers for the configured browser origins.
func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && (slices.Contains(s.cfg.CORSOrigins, origin) || slices.Contains(s.cfg.CORSOrigins, "*")) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, Connect-Protocol-Version, Connect-Timeout-Ms")
			h.Set("Access-Control-Expose-Headers", "Connect-Protocol-Version, Connect-Timeout-Ms")
			h.Add("Vary", "Origin")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
