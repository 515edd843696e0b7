// Command agent-manager is the control-plane process: it wires the
// persistence layer, event bus, sandbox supervisor, and the session/task/
// hierarchy/workflow services together, then serves the thin HTTP surface
// described in spec §6. Full route handlers are not this module's concern
// (§1 non-goals); this binary stops at constructing the services a real
// router would call into, plus the one health endpoint a deployment needs.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kandev/agentcore/internal/common/config"
	"github.com/kandev/agentcore/internal/common/httpmw"
	"github.com/kandev/agentcore/internal/common/logger"
	"github.com/kandev/agentcore/internal/db"
	"github.com/kandev/agentcore/internal/eventbus"
	"github.com/kandev/agentcore/internal/hierarchy"
	"github.com/kandev/agentcore/internal/sandbox"
	"github.com/kandev/agentcore/internal/session"
	"github.com/kandev/agentcore/internal/store"
	"github.com/kandev/agentcore/internal/store/sqlstore"
	"github.com/kandev/agentcore/internal/taskboard"
	"github.com/kandev/agentcore/internal/workflow"
	"github.com/kandev/agentcore/internal/workflow/engine"
	"github.com/kandev/agentcore/internal/workflow/proposal"
)

const serverName = "agent-manager"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("starting agentcore control plane")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := openStore(cfg)
	if err != nil {
		log.Fatal("failed to open store", zap.Error(err))
	}
	defer st.Close()
	log.Info("store ready", zap.String("driver", cfg.Database.Driver))

	bus, err := openEventBus(cfg, log)
	if err != nil {
		log.Fatal("failed to open event bus", zap.Error(err))
	}
	defer bus.Close()

	sb, err := openSandboxSupervisor(cfg, log)
	if err != nil {
		log.Fatal("failed to initialize sandbox supervisor", zap.Error(err))
	}

	sessionRegistry := session.NewRegistry(st, bus, sb, log)
	hier := hierarchy.New(st, sessionRegistry, log)
	tasks := taskboard.New(st, log)
	wfEngine := engine.New(st, log)
	wfRuns := workflow.NewRegistry(st, wfEngine)
	proposals := proposal.New(st, log)

	log.Info("core services wired",
		zap.Bool("hierarchy", hier != nil),
		zap.Bool("taskboard", tasks != nil),
		zap.Bool("workflow_runs", wfRuns != nil),
		zap.Bool("proposals", proposals != nil),
	)

	go runProposalSweep(ctx, proposals, log)

	server := newHTTPServer(cfg, log)
	go func() {
		log.Info("HTTP server listening", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("failed to start HTTP server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down agentcore control plane")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}
}

// newHTTPServer builds the thin HTTP surface spec §6 still permits without
// route handlers: request logging, OTel tracing, and a liveness check.
func newHTTPServer(cfg *config.Config, log *logger.Logger) *http.Server {
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(httpmw.RequestLogger(log, serverName))
	router.Use(httpmw.OtelTracing(serverName))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}
}

// runProposalSweep periodically expires draft proposals past their
// expiresAt, the background half of the proposal lifecycle (§4.G).
func runProposalSweep(ctx context.Context, p *proposal.Pipeline, log *logger.Logger) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.SweepExpired(ctx, time.Now().UTC())
			if err != nil {
				log.Warn("proposal sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				log.Info("expired stale proposals", zap.Int("count", n))
			}
		}
	}
}

func openStore(cfg *config.Config) (store.Store, error) {
	var writer, reader *sql.DB
	var err error

	switch cfg.Database.Driver {
	case "postgres":
		writer, err = db.OpenPostgres(cfg.Database.DSN(), cfg.Database.MaxConns, cfg.Database.MinConns)
		if err != nil {
			return nil, err
		}
		reader = writer
	default:
		writer, err = db.OpenSQLite(cfg.Database.Path)
		if err != nil {
			return nil, err
		}
		reader, err = db.OpenSQLiteReader(cfg.Database.Path)
		if err != nil {
			return nil, err
		}
	}

	driverName := "sqlite3"
	if cfg.Database.Driver == "postgres" {
		driverName = "pgx"
	}
	return sqlstore.Open(writer, reader, driverName)
}

func openEventBus(cfg *config.Config, log *logger.Logger) (eventbus.Bus, error) {
	if cfg.NATS.URL == "" {
		return eventbus.NewMemoryBus(), nil
	}
	return eventbus.NewNATSBus(cfg.NATS, cfg.Events, log)
}

func openSandboxSupervisor(cfg *config.Config, log *logger.Logger) (*sandbox.Supervisor, error) {
	switch cfg.Sandbox.Driver {
	case "docker":
		driver, err := sandbox.NewDockerDriver(cfg.Sandbox.DockerHost, cfg.Sandbox.DockerAPIVersion, cfg.Sandbox.DockerNetwork, "", log)
		if err != nil {
			return nil, err
		}
		return sandbox.New(driver, log), nil
	default:
		driver := sandbox.NewSpritesDriver(cfg.Sandbox.SpritesAPIToken, log)
		return sandbox.New(driver, log), nil
	}
}
