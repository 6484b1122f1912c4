package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"livefeed-service/config"
	"livefeed-service/pkg/business"
	"livefeed-service/pkg/common"
	"livefeed-service/pkg/feed"
	"livefeed-service/pkg/health"
)

// FeedReader opens one viewer subscription per call.
type FeedReader interface {
	Subscribe(ctx context.Context, matchID string) (*feed.Subscription, error)
}

type Server struct {
	config     *config.Config
	logger     common.Logger
	matches    business.MatchService
	live       business.LiveService
	reader     FeedReader
	health     *health.Checker
	wsHub      *Hub
	rateLimit  *stdlib.Middleware
	httpServer *http.Server
	upgrader   websocket.Upgrader
}

// NewServer 创建HTTP服务. Operator write routes share one per-IP rate limit
// parsed from cfg.OperatorRateLimit (ulule format, e.g. "60-M").
func NewServer(
	cfg *config.Config,
	logger common.Logger,
	matches business.MatchService,
	live business.LiveService,
	reader FeedReader,
	checker *health.Checker,
) (*Server, error) {
	rate, err := limiter.NewRateFromFormatted(cfg.OperatorRateLimit)
	if err != nil {
		return nil, fmt.Errorf("invalid operator rate limit %q: %w", cfg.OperatorRateLimit, err)
	}

	s := &Server{
		config:  cfg,
		logger:  logger,
		matches: matches,
		live:    live,
		reader:  reader,
		health:  checker,
		wsHub:   NewHub(logger),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // 观众端为公开只读流
			},
		},
	}
	s.rateLimit = stdlib.NewMiddleware(
		limiter.New(memory.NewStore(), rate),
		stdlib.WithLimitReachedHandler(s.handleLimitReached),
	)
	return s, nil
}

// Hub returns the viewer connection hub.
func (s *Server) Hub() *Hub {
	return s.wsHub
}

// Handler builds the full router wrapped in CORS.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()

	// API路由
	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	api.HandleFunc("/matches", s.handleListMatches).Methods(http.MethodGet)
	api.Handle("/matches", s.limited(s.handleCreateMatch)).Methods(http.MethodPost)
	api.HandleFunc("/matches/{id}", s.handleGetMatch).Methods(http.MethodGet)
	api.Handle("/matches/{id}", s.limited(s.handleDeleteMatch)).Methods(http.MethodDelete)
	api.Handle("/matches/{id}/lineup", s.limited(s.handleSetLineup)).Methods(http.MethodPut)
	api.Handle("/matches/{id}/start", s.limited(s.handleStartMatch)).Methods(http.MethodPost)
	api.Handle("/matches/{id}/end", s.limited(s.handleEndMatch)).Methods(http.MethodPost)
	api.HandleFunc("/matches/{id}/events", s.handleGetEvents).Methods(http.MethodGet)
	api.Handle("/matches/{id}/events", s.limited(s.handlePostEvent)).Methods(http.MethodPost)

	// WebSocket路由
	router.HandleFunc("/ws", s.handleWebSocket)

	// CORS配置
	if len(s.config.CORSAllowedOrigins) == 0 {
		return router
	}
	c := cors.New(cors.Options{
		AllowedOrigins:   s.config.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", IdempotencyKeyHeader},
		AllowCredentials: !allowsAnyOrigin(s.config.CORSAllowedOrigins),
	})

	return c.Handler(router)
}

func allowsAnyOrigin(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}

func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         ":" + s.config.Port,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("HTTP server listening on :%s", s.config.Port)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop 关闭服务. Viewer connections are hijacked and not covered by
// Shutdown, so the hub closes them explicitly.
func (s *Server) Stop() {
	s.wsHub.CloseAll()

	if s.httpServer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("Server shutdown error: %v", err)
	}
}

func (s *Server) limited(fn http.HandlerFunc) http.Handler {
	return s.rateLimit.Handler(fn)
}

func (s *Server) handleLimitReached(w http.ResponseWriter, r *http.Request) {
	s.logger.Warn("Rate limit reached for %s %s from %s", r.Method, r.URL.Path, r.RemoteAddr)
	writeJSON(w, http.StatusTooManyRequests, errorResponse{
		Error:   "rate_limited",
		Message: "Too many updates in a short time. Please wait a moment and resubmit.",
	})
}

// handleHealth 健康检查
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.health.Check(r.Context())

	code := http.StatusOK
	if status.Status != health.StatusHealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}
