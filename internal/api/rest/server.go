package rest

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/gaveldrop/auction-backend/internal/infrastructure/config"
	"github.com/gaveldrop/auction-backend/internal/metrics"
)

// Server is the HTTP front of the auction backend
type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
}

func NewServer(cfg *config.ServerConfig, handler *Handler, logger *zap.Logger) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/auctions",
		metrics.InstrumentHTTPHandler("create_auction", handler.CreateAuction))
	mux.HandleFunc("POST /api/v1/auctions/{id}/bids",
		metrics.InstrumentHTTPHandler("place_bid", handler.PlaceBid))
	mux.HandleFunc("GET /api/v1/auctions/{id}/bids",
		metrics.InstrumentHTTPHandler("list_bids", handler.ListBids))
	mux.HandleFunc("GET /api/v1/auctions/{id}",
		metrics.InstrumentHTTPHandler("get_auction", handler.GetAuction))
	mux.HandleFunc("POST /api/v1/auctions/{id}/decision/accept",
		metrics.InstrumentHTTPHandler("accept_bid", handler.AcceptBid))
	mux.HandleFunc("POST /api/v1/auctions/{id}/decision/reject",
		metrics.InstrumentHTTPHandler("reject_bid", handler.RejectBid))
	mux.HandleFunc("POST /api/v1/auctions/{id}/decision/counter",
		metrics.InstrumentHTTPHandler("counter_offer", handler.CounterOffer))
	mux.HandleFunc("POST /api/v1/auctions/{id}/counter-response",
		metrics.InstrumentHTTPHandler("counter_response", handler.RespondToCounter))

	mux.HandleFunc("GET /ws", handler.ServeWS)
	mux.HandleFunc("GET /healthz", handler.Health)
	mux.Handle("GET /metrics", metrics.Handler())

	limiter := newIPRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.BurstSize)

	var root http.Handler = mux
	root = rateLimitMiddleware(limiter)(root)
	root = loggingMiddleware(logger)(root)
	root = recoveryMiddleware(logger)(root)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      root,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		logger: logger,
	}
}

// Start blocks serving HTTP until the listener closes
func (s *Server) Start() error {
	s.logger.Info("http server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
