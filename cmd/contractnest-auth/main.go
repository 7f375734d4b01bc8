package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/kamalcharan/contractnest-auth/internal/app"
	"github.com/kamalcharan/contractnest-auth/internal/config"
	"github.com/kamalcharan/contractnest-auth/internal/database"
	"github.com/kamalcharan/contractnest-auth/pkg/repository"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

func main() {
	// Load .env file if present (ignore error if not found)
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	root := &cobra.Command{
		Use:           "contractnest-auth",
		Short:         "ContractNest authentication service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			return serve(cmd.Context(), cfg, logger)
		},
	}

	var steps int
	migrateCmd := &cobra.Command{
		Use:   "migrate [up|down]",
		Short: "Apply or roll back database migrations",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			dsn := dbConfig(cfg).DSN()

			direction := "up"
			if len(args) == 1 {
				direction = args[0]
			}
			switch direction {
			case "up":
				err = database.RunMigrations(dsn)
			case "down":
				err = database.RollbackMigrations(dsn, steps)
			default:
				return fmt.Errorf("unknown migrate direction %q", direction)
			}
			if err != nil {
				return err
			}
			logger.Info("migrations complete", "direction", direction)
			return nil
		},
	}
	migrateCmd.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")

	root.AddCommand(serveCmd, migrateCmd)

	if err := root.ExecuteContext(context.Background()); err != nil {
		logger.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func dbConfig(cfg *config.Config) repository.Config {
	return repository.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		DBName:   cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	db, err := repository.NewDB(dbConfig(cfg))
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()
	logger.Info("connected to database")

	deps := app.Deps{DB: db, Logger: logger, Registry: prometheus.NewRegistry()}
	deps.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	if cfg.HasRedis() {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		deps.Redis = rdb
		logger.Info("using redis for shared state", "addr", cfg.Redis.Addr)
	}

	service, err := app.New(cfg, deps)
	if err != nil {
		return err
	}
	if err := service.CheckSchema(ctx); err != nil {
		return err
	}
	router := service.Router()

	addr := fmt.Sprintf("%s:%d", cfg.ServerAddr, cfg.ServerPort)
	// No WriteTimeout: lock event streams stay open until shutdown cancels
	// the base context.
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	server := &http.Server{
		Addr:        addr,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
		BaseContext: func(net.Listener) context.Context { return baseCtx },
	}
	server.RegisterOnShutdown(cancelBase)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	logger.Info("server stopped")
	return nil
}
