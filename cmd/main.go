package main

import (
	"context"
	"errors"
	"fmt"
	"github.com/asaskevich/EventBus"
	"github.com/moin0420/hybrid-app/internal/config"
	"github.com/moin0420/hybrid-app/internal/logger"
	"github.com/moin0420/hybrid-app/internal/metrics"
	"github.com/moin0420/hybrid-app/internal/repositories"
	"github.com/moin0420/hybrid-app/internal/server"
	"github.com/moin0420/hybrid-app/internal/services"
	log "github.com/sirupsen/logrus"
	"net/http"
	"os/signal"
	"syscall"
)

func runAuditor(cfg *config.Config, requirements *repositories.Requirements,
	coordinator *services.ClaimCoordinator) *services.ClaimsAuditor {

	if cfg.Audit.Schedule == "" {
		log.Info("claims auditor disabled")
		return nil
	}

	// audit against the store itself, never the cached list
	auditor, err := services.NewClaimsAuditor(requirements, coordinator, cfg.Audit.Schedule)
	if err != nil {
		log.Fatalf("can't create claims auditor: %v", err)
	}
	auditor.Start()
	return auditor
}

func main() {

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.Get()

	logger.Setup(ctx, cfg.Logger)
	defer logger.Cleanup()

	metrics.Register()

	dbContext, err := repositories.NewDbContext(cfg.DB.ConnectionString)
	if err != nil {
		log.Fatalf("can't create db context: %v", err)
	}
	defer dbContext.Close()

	err = dbContext.Migrate()
	if err != nil {
		log.Fatalf("can't migrate db context: %v", err)
	}

	requirements := repositories.NewRequirementsRepository(dbContext.DB)
	cached := repositories.NewCachedRequirements(requirements, cfg.Server.ListCacheTTL)
	bus := EventBus.New()

	journal, err := services.NewClaimJournal(bus)
	if err != nil {
		log.Fatalf("can't create claim journal: %v", err)
	}
	defer journal.Close()

	service, err := services.NewRequirementsService(cached, bus)
	if err != nil {
		log.Fatalf("can't create requirements service: %v", err)
	}

	auditor := runAuditor(cfg, requirements, service.Coordinator())
	if auditor != nil {
		defer auditor.Stop()
	}

	handler, err := server.New(service, cfg.Server.PollInterval,
		server.WithMetrics(metrics.Handler()),
		server.WithUpdateRateLimit(cfg.Server.MaxUpdatesPerSecond, cfg.Server.UpdateBurst),
		server.WithStaticDir(cfg.Server.StaticDir),
	)
	if err != nil {
		log.Fatalf("can't create http server: %v", err)
	}

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: handler,
	}

	go func() {
		log.Infof("Backend running on port %d", cfg.Server.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server failed: %v", err)
		}
	}()

	<-ctx.Done()

	log.Info("Shutting down services...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err = httpServer.Shutdown(shutdownCtx); err != nil {
		log.Errorf("http server shutdown: %v", err)
	}
	log.Info("Services stopped.")
}
