// Command bridgeserver is the multi-tenant biometric attendance bridge's
// entry point: it loads configuration, wires the repositories, the
// session pool, the broadcast hub, the outbound event queue, the control
// loops and the ingress server into one internal/runtime.Runtime, and
// runs until an interrupt or SIGTERM asks it to shut down gracefully.
package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"school-attendance-bridge/internal/broadcast"
	"school-attendance-bridge/internal/config"
	"school-attendance-bridge/internal/control"
	"school-attendance-bridge/internal/device"
	"school-attendance-bridge/internal/eventqueue"
	"school-attendance-bridge/internal/ingestion"
	"school-attendance-bridge/internal/ingress"
	"school-attendance-bridge/internal/logging"
	"school-attendance-bridge/internal/pool"
	"school-attendance-bridge/internal/repository"
	"school-attendance-bridge/internal/repository/postgres"
	"school-attendance-bridge/internal/repository/sqlite"
	"school-attendance-bridge/internal/runtime"
	"school-attendance-bridge/internal/seal"
	"school-attendance-bridge/internal/simulator"
	"school-attendance-bridge/internal/types"
)

var (
	configFile string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "bridgeserver",
	Short: "Multi-tenant biometric attendance bridge server",
	Long: `bridgeserver manages one fleet of ZKTeco fingerprint terminals across
many tenants: device sessions, enrollment, attendance ingestion, and the
HTTP/WebSocket surface a host application talks to.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	logger := logging.Initialize(logLevel)
	log := logging.NewServiceLogger(logger, "bridgeserver")

	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(lvl)
	}
	if cfg.LogFile != "" {
		if err := logging.SetupFileLogging(logger, cfg.LogFile); err != nil {
			log.WithError(err).Warn("file logging unavailable, continuing on stdout")
		}
	}
	log.WithField("simulation_mode", cfg.SimulationMode).Info("configuration loaded")

	sealer, err := buildSealer(cfg)
	if err != nil {
		return fmt.Errorf("build sealer: %w", err)
	}

	repos, closeRepos, err := openRepositories(cfg)
	if err != nil {
		return fmt.Errorf("open repositories: %w", err)
	}
	defer closeRepos()

	hub := broadcast.New(log)

	var relay ingestion.EventRelay
	if cfg.RedisAddr != "" {
		r, err := eventqueue.New(cfg.RedisAddr, "", 0, log)
		if err != nil {
			log.WithError(err).Warn("outbound event queue unavailable, continuing without it")
		} else {
			relay = r
			defer r.Close()
		}
	}

	sessionPool := buildPool(cfg, logger)
	defer sessionPool.CloseAll()
	cache := ingestion.NewProcessedScanCache(cfg.ProcessedKeysMaxPerDevice)
	duplicateWindow := time.Duration(cfg.AttendanceDuplicateWindow) * time.Minute
	pipeline := ingestion.New(repos, hub, cache, relay, cfg.AttendanceTimezone, duplicateWindow, log)

	controller := control.New(control.Config{
		HealthInterval:         time.Duration(cfg.HealthInterval) * time.Second,
		InfoSyncInterval:       time.Duration(cfg.InfoSyncInterval) * time.Second,
		AttendancePollInterval: time.Duration(cfg.AttendancePollInterval) * time.Second,
		AttendanceConcurrency:  cfg.AttendancePollConcurrency,
	}, repos, sessionPool, hub, pipeline, log)

	rt := runtime.New(repos, sessionPool, hub, pipeline, sealer, log)

	ingressCfg := ingress.DefaultConfig()
	ingressCfg.Addr = cfg.HTTPAddr
	ingressCfg.JWTSecret = cfg.JWTSigningKey
	server := ingress.NewServer(rt, ingressCfg, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	controller.Start(ctx)
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		if err := controller.Stop(stopCtx); err != nil {
			log.WithError(err).Warn("control loops did not stop cleanly")
		}
	}()

	serverDone := make(chan error, 1)
	go func() { serverDone <- server.Start(ctx) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.WithField("signal", sig).Info("received shutdown signal")
		cancel()
		<-serverDone
		return nil
	case err := <-serverDone:
		if err != nil {
			return fmt.Errorf("ingress server error: %w", err)
		}
		return nil
	}
}

// buildSealer decodes the configured base64 AES-256 key into the template
// at-rest encryption primitive internal/runtime seals templates with
// before they are persisted.
func buildSealer(cfg *config.Config) (seal.Sealer, error) {
	if cfg.SealKeyBase64 == "" {
		return nil, fmt.Errorf("seal_key_base64 is required")
	}
	key, err := base64.StdEncoding.DecodeString(cfg.SealKeyBase64)
	if err != nil {
		return nil, fmt.Errorf("decode seal_key_base64: %w", err)
	}
	return seal.NewAESGCMSealer(key)
}

// openRepositories selects Postgres or SQLite per cfg.UsesPostgres.
func openRepositories(cfg *config.Config) (repository.Repositories, func(), error) {
	if cfg.UsesPostgres() {
		store, err := postgres.Open(cfg.DatabaseURL)
		if err != nil {
			return repository.Repositories{}, nil, err
		}
		return store.Repositories(), func() { store.Close() }, nil
	}
	store, err := sqlite.Open(cfg.SQLitePath)
	if err != nil {
		return repository.Repositories{}, nil, err
	}
	return store.Repositories(), func() { store.Close() }, nil
}

// buildPool wires the real internal/device.Session against every device
// unless simulation_mode is set, in which case internal/simulator's
// in-memory stub stands in.
func buildPool(cfg *config.Config, logger *logrus.Logger) *pool.Pool {
	opTimeout := time.Duration(cfg.DefaultDeviceTimeoutSeconds) * time.Second
	if cfg.SimulationMode {
		return pool.NewWithFactory(opTimeout, logger, func(d types.Device, t time.Duration, log *logrus.Entry) pool.Session {
			return simulator.New(d, t, log)
		})
	}
	return pool.NewWithFactory(opTimeout, logger, func(d types.Device, t time.Duration, log *logrus.Entry) pool.Session {
		return device.New(d, t, log)
	})
}
