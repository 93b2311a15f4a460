package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/powledger/internal/ledger"
	"github.com/jmerrifield20/powledger/internal/node/audit"
	"github.com/jmerrifield20/powledger/internal/node/handler"
	"github.com/jmerrifield20/powledger/internal/node/service"
	"github.com/jmerrifield20/powledger/internal/pow"
	"github.com/jmerrifield20/powledger/pkg/client"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func main() {
	if err := loadConfig(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger, err := newLogger()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(logger); err != nil {
		logger.Fatal("ledgerd exited with error", zap.Error(err))
	}
}

// loadConfig reads ledgerd.yaml (if any) over the defaults; environment
// variables such as POW_DIFFICULTY override both.
func loadConfig() error {
	viper.SetConfigName("ledgerd")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("configs")
	viper.AddConfigPath(".")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.cors_origins", []string{"http://localhost:3000"})
	viper.SetDefault("server.rate_limit_rps", 20)
	viper.SetDefault("pow.difficulty", pow.DefaultDifficulty)
	viper.SetDefault("pow.check_interval", pow.DefaultCheckInterval)
	viper.SetDefault("pow.solve_timeout", "5m")
	viper.SetDefault("node.id", "")
	viper.SetDefault("node.reward", service.DefaultReward)
	viper.SetDefault("audit.interval", "1m")
	viper.SetDefault("audit.fail_threshold", 3)
	viper.SetDefault("audit.peers", []string{})
	viper.SetDefault("log.development", false)

	if err := viper.ReadInConfig(); err != nil {
		var cfgNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgNotFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}

func newLogger() (*zap.Logger, error) {
	if viper.GetBool("log.development") {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(logger *zap.Logger) error {
	if used := viper.ConfigFileUsed(); used != "" {
		logger.Info("config loaded", zap.String("file", used))
	} else {
		logger.Warn("no config file found, using defaults and env vars")
	}

	// ── Proof of work ─────────────────────────────────────────────────────────
	p, err := pow.New(pow.Config{
		Difficulty:    viper.GetInt("pow.difficulty"),
		CheckInterval: viper.GetUint64("pow.check_interval"),
	})
	if err != nil {
		return fmt.Errorf("proof of work: %w", err)
	}

	solveTimeout, err := time.ParseDuration(viper.GetString("pow.solve_timeout"))
	if err != nil {
		return fmt.Errorf("parse pow.solve_timeout: %w", err)
	}

	// ── Ledger ────────────────────────────────────────────────────────────────
	l := ledger.New(p, ledger.WithLogger(logger))
	if err := l.Verify(); err != nil {
		return fmt.Errorf("genesis self-check: %w", err)
	}
	genesis, _ := l.LastBlock()
	logger.Info("ledger initialised",
		zap.Int("difficulty", p.Difficulty()),
		zap.String("genesis_hash", l.Hash(genesis)),
	)

	// ── Node service ──────────────────────────────────────────────────────────
	svc := service.New(l, service.Config{
		NodeID:       viper.GetString("node.id"),
		Reward:       viper.GetFloat64("node.reward"),
		SolveTimeout: solveTimeout,
	}, logger)
	svc.SetMinedRecorder(handler.RecordBlockMined)
	svc.SetPoolRecorder(handler.SetPoolGauges)
	logger.Info("node ready",
		zap.String("node_id", svc.NodeID()),
		zap.Float64("reward", svc.Reward()),
		zap.Duration("solve_timeout", solveTimeout),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Chain auditor ─────────────────────────────────────────────────────────
	auditInterval, err := time.ParseDuration(viper.GetString("audit.interval"))
	if err != nil {
		return fmt.Errorf("parse audit.interval: %w", err)
	}
	auditor := audit.New(p, audit.Config{
		Interval:      auditInterval,
		FailThreshold: viper.GetInt("audit.fail_threshold"),
	}, logger)
	auditor.AddSource("local", audit.LedgerSource(l))
	for _, peer := range viper.GetStringSlice("audit.peers") {
		c, err := client.New(peer)
		if err != nil {
			return fmt.Errorf("audit peer %q: %w", peer, err)
		}
		auditor.AddSource(peer, c)
	}
	auditor.SetMetricsRecord(handler.RecordAudit)
	auditor.SetDegradedCallback(func(name string, err error) {
		logger.Error("chain audit failing", zap.String("source", name), zap.Error(err))
	})
	go auditor.Start(ctx)
	logger.Info("chain auditor started", zap.Duration("interval", auditInterval))

	// ── HTTP Router ───────────────────────────────────────────────────────────
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := handler.NewRouter(ctx, svc, handler.RouterConfig{
		CORSOrigins:  viper.GetStringSlice("server.cors_origins"),
		RateLimitRPS: viper.GetInt("server.rate_limit_rps"),
	}, logger)

	httpPort := viper.GetInt("server.port")
	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", httpPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		// No WriteTimeout: mining requests run for up to the solve timeout.
		// Request contexts derive from ctx so shutdown aborts searches.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("ledgerd HTTP listening", zap.Int("port", httpPort))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// ── Graceful shutdown ──────────────────────────────────────────────────────
	select {
	case <-quit:
	case err := <-serveErr:
		return fmt.Errorf("HTTP listen: %w", err)
	}
	logger.Info("shutting down ledgerd...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}

	logger.Info("ledgerd stopped",
		zap.Int("blocks", l.Len()),
		zap.Int("pending", len(l.PendingTransactions())),
	)
	return nil
}
