// Package server exposes the manager's entry points over a JSON API. Handlers
// are transport-thin: they parse input, delegate to the ledger, journal the
// outcome, and translate sentinel errors into HTTP results.
//
// Caller identity comes from the X-Caller-Address header. The API is expected
// to sit behind an authenticating proxy that binds that header; the ledger's
// role gate is still enforced on every call.
package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"rwa-manager/internal/config"
	"rwa-manager/internal/ledger"
	"rwa-manager/internal/storage"
)

// Server wires the ledger into an HTTP API.
type Server struct {
	manager *ledger.Manager
	journal storage.RequestJournal
	logger  zerolog.Logger
}

// New constructs the API server. journal may be nil when persistence is not
// configured.
func New(manager *ledger.Manager, journal storage.RequestJournal, logger zerolog.Logger) *Server {
	return &Server{
		manager: manager,
		journal: journal,
		logger:  logger.With().Str("component", "server").Logger(),
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	{
		v1.POST("/subscriptions", s.requestSubscription)
		v1.POST("/redemptions", s.requestRedemption)
		v1.POST("/offchain/subscriptions", s.requestSubscriptionServicedOffchain)
		v1.POST("/offchain/redemptions", s.requestRedemptionServicedOffchain)

		v1.POST("/prices/deposits", s.setPriceIDForDeposits)
		v1.POST("/prices/redemptions", s.setPriceIDForRedemptions)
		v1.POST("/prices/claimable", s.setClaimableTimestamp)

		v1.POST("/claims/mint", s.claimMint)
		v1.POST("/claims/redemption", s.claimRedemption)

		v1.PUT("/limits/deposit", s.setMaximumDeposit)
		v1.PUT("/limits/redemption", s.setMaximumRedemption)
		v1.PUT("/limits/interval", s.setEpochInterval)

		v1.POST("/pause", s.pause)
		v1.POST("/unpause", s.unpause)
		v1.POST("/roles/grant", s.grantRole)
		v1.POST("/roles/revoke", s.revokeRole)

		v1.GET("/epoch", s.epochStatus)
		v1.GET("/requests/:kind/:id", s.getRequest)
	}

	return r
}

// ListenAndServe runs the API until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, cfg config.ServerConfig) error {
	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.Router(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	s.logger.Info().Str("addr", cfg.Addr).Msg("http api listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return ctx.Err()
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
