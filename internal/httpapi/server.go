package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/openkey-lms/keyledger/internal/keyledger/service"
	"github.com/openkey-lms/keyledger/internal/keyledger/store"
)

type Dependencies struct {
	Logger  *slog.Logger
	Addr    string
	Ledger  *service.Ledger
	Reports *service.Reports
	// Watermarks answers GET /v1/watermarks/{item}; defaults to the
	// ledger store.
	Watermarks store.LedgerReader
	// MetricsHandler is mounted at /metrics when set.
	MetricsHandler http.Handler

	RateLimitPerMinute int // 0 disables rate limiting
	CORSOrigins        []string
}

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	router     chi.Router
	ledger     *service.Ledger
	reports    *service.Reports
	watermarks store.LedgerReader
}

func NewServer(d Dependencies) *Server {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Watermarks == nil && d.Ledger != nil {
		d.Watermarks = d.Ledger.Store()
	}

	s := &Server{
		logger:     d.Logger,
		ledger:     d.Ledger,
		reports:    d.Reports,
		watermarks: d.Watermarks,
	}

	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(requestLogger(d.Logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	if len(d.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: d.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
			ExposedHeaders: []string{"X-Request-ID"},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", s.handleHealthz)
	if d.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", d.MetricsHandler)
	}

	r.Route("/v1", func(r chi.Router) {
		if d.RateLimitPerMinute > 0 {
			r.Use(httprate.LimitByIP(d.RateLimitPerMinute, time.Minute))
		}

		r.Post("/credentials", s.handleIssue)
		r.Route("/credentials/{credentialID}", func(r chi.Router) {
			r.Post("/cancel", s.handleCancel)
			r.Get("/state", s.handleState)
			r.Get("/holder", s.handleHolder)
		})

		r.Route("/rooms/{roomID}", func(r chi.Router) {
			r.Post("/checkout", s.handleCheckout)
			r.Post("/checkout/complete", s.handleCompleteCheckout)
			r.Get("/active", s.handleActive)
			r.Get("/upcoming", s.handleUpcoming)
			r.Get("/key-count", s.handleKeyCount)
		})

		r.Get("/reports/{report}", s.handleReport)
		r.Get("/watermarks/{item}", s.handleWatermark)
	})

	s.router = r
	s.httpServer = &http.Server{
		Addr:              d.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
