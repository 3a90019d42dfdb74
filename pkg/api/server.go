package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/Mindburn-Labs/proofpay/pkg/node"
)

// Server exposes a node over HTTP.
type Server struct {
	node    *node.Node
	auth    *Authenticator
	limiter Limiter
	logger  *slog.Logger
}

type Option func(*Server)

func WithAuthenticator(a *Authenticator) Option { return func(s *Server) { s.auth = a } }

func WithLimiter(l Limiter) Option { return func(s *Server) { s.limiter = l } }

func WithLogger(logger *slog.Logger) Option { return func(s *Server) { s.logger = logger } }

func New(n *node.Node, opts ...Option) *Server {
	s := &Server{node: n, logger: slog.Default().With("component", "api")}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterRoutes registers every API route on mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	auth := s.auth.Authenticated

	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("POST /v1/receipts", auth(s.handleRecordReceipt))
	mux.HandleFunc("GET /v1/receipts", s.handleListReceipts)
	mux.HandleFunc("GET /v1/receipts/{id}", s.handleGetReceipt)
	mux.HandleFunc("GET /v1/receipts/{id}/feedback", s.handleReceiptFeedback)
	mux.HandleFunc("GET /v1/content/{contentID}", s.handleContent)

	mux.HandleFunc("POST /v1/payments", auth(s.handleProcessPayment))
	mux.HandleFunc("GET /v1/payments", s.handleListPayments)
	mux.HandleFunc("GET /v1/payments/{id}", s.handleGetPayment)

	mux.HandleFunc("POST /v1/feedback", auth(s.handleSubmitFeedback))
	mux.HandleFunc("GET /v1/feedback", s.handleListFeedback)
	mux.HandleFunc("GET /v1/feedback/{id}", s.handleGetFeedback)
	mux.HandleFunc("GET /v1/rewards/pool", s.handlePool)

	mux.HandleFunc("POST /v1/admin/rewards/fund", auth(s.handleFundPool))
	mux.HandleFunc("POST /v1/admin/rewards/withdraw", auth(s.handleWithdrawPool))
	mux.HandleFunc("POST /v1/admin/payments/merchant", auth(s.handleUpdateMerchant))
	mux.HandleFunc("POST /v1/admin/payments/withdraw", auth(s.handleEmergencyWithdraw))
	mux.HandleFunc("POST /v1/admin/{component}/owner", auth(s.handleTransferOwnership))

	mux.HandleFunc("POST /v1/tokens/{token}/approve", auth(s.handleApprove))
	mux.HandleFunc("POST /v1/tokens/{token}/transfer", auth(s.handleTransfer))
	mux.HandleFunc("GET /v1/tokens/{token}/balances/{account}", s.handleBalance)
	mux.HandleFunc("GET /v1/tokens/{token}/allowances/{owner}/{spender}", s.handleAllowance)

	mux.HandleFunc("GET /v1/chain/head", s.handleHead)
	mux.HandleFunc("GET /v1/chain/txs", s.handleTxs)
}

// Handler returns the routed API with request ids, access logs and rate
// limiting applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	var h http.Handler = mux
	h = RateLimitMiddleware(s.limiter, s.logger)(h)
	h = LoggingMiddleware(s.logger)(h)
	return RequestIDMiddleware(h)
}

// Serve listens on addr until ctx is cancelled, then drains in-flight
// requests.
func (s *Server) Serve(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.serve(ctx, lis)
}

func (s *Server) serve(ctx context.Context, lis net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api listening", "addr", lis.Addr().String())
		errCh <- srv.Serve(lis)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
