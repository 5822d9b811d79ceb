package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/afoley587/coding-challenges-2025/grpc-user-service/internal/auth"
	"github.com/afoley587/coding-challenges-2025/grpc-user-service/internal/config"
	"github.com/afoley587/coding-challenges-2025/grpc-user-service/internal/logging"
	"github.com/afoley587/coding-challenges-2025/grpc-user-service/internal/server"
	"github.com/afoley587/coding-challenges-2025/grpc-user-service/internal/store"
)

// serverFlags receives the values given on the command line.  They are
// merged over the environment when the command runs.
var serverFlags config.Server

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the gRPC server",
	Long:  "Commands related to running the gRPC server.",
}

var runServerCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the gRPC server",
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		cfg, err := loadServerConfig(cmd.Flags(), &serverFlags)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		st, closeStore, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer func() { err = multierr.Append(err, closeStore()) }()

		if cfg.SeedFile != "" {
			if _, err := server.NewSeeder(st, logger).SeedFile(ctx, cfg.SeedFile); err != nil {
				return err
			}
		}

		opts := server.Options{
			Store:  st,
			Keys:   auth.NewKeySet(cfg.APIKeys...),
			Logger: logger,
		}
		if cfg.EnableMTLS {
			creds, err := server.MTLSOption(cfg.CertFile, cfg.KeyFile, cfg.CAFile)
			if err != nil {
				return err
			}
			opts.ServerOptions = []grpc.ServerOption{creds}
		}

		logger.Info("starting user service",
			zap.String("addr", cfg.ListenAddr),
			zap.String("store", cfg.Backend),
			zap.Bool("mtls", cfg.EnableMTLS),
			zap.Int("api_keys", opts.Keys.Len()),
		)
		return server.Run(ctx, cfg.ListenAddr, server.New(opts), cfg.ShutdownTimeout, logger)
	},
}

// openStore connects to the configured backend and returns it with a
// function releasing its resources.
func openStore(ctx context.Context, cfg *config.Server) (store.UserStore, func() error, error) {
	switch cfg.Backend {
	case config.StoreMemory:
		return store.NewMemoryStore(), func() error { return nil }, nil
	case config.StoreRedis:
		rs, err := store.NewRedisStore(ctx, cfg.RedisAddr, cfg.RedisPassword, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("redis connection failed: %w", err)
		}
		return rs, rs.Close, nil
	case config.StorePostgres:
		ps, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres connection failed: %w", err)
		}
		if err := ps.Migrate(ctx); err != nil {
			return nil, nil, multierr.Append(err, ps.Close())
		}
		return ps, ps.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

func bindServerFlags(fs *pflag.FlagSet, f *config.Server) {
	fs.StringVarP(&f.ListenAddr, "addr", "a", "", "Address to listen on (env LISTEN_ADDR, default 0.0.0.0:9090)")
	fs.StringVarP(&f.Backend, "store", "s", "", "Store backend: memory, redis or postgres (env STORE_BACKEND, default redis)")
	fs.StringVarP(&f.RedisAddr, "redis-address", "r", "", "Redis address (env REDIS_ADDR, default 127.0.0.1:6379)")
	fs.StringVarP(&f.RedisPassword, "redis-password", "p", "", "Redis password (env REDIS_PASSWORD)")
	fs.StringVar(&f.DatabaseURL, "database-url", "", "PostgreSQL connection string (env DATABASE_URL)")
	fs.StringVar(&f.SeedFile, "seed", "", "JSON file of users inserted at startup (env SEED_FILE)")
	fs.StringSliceVarP(&f.APIKeys, "api-key", "k", nil, "Accepted API key, repeatable (env API_KEYS)")
	fs.StringVar(&f.LogLevel, "log-level", "", "Log level: debug, info, warn, error (env LOG_LEVEL, default info)")
	fs.StringVar(&f.LogFormat, "log-format", "", "Log format: json or console (env LOG_FORMAT, default json)")
	fs.DurationVar(&f.ShutdownTimeout, "shutdown-timeout", 0, "Time allowed for in-flight calls on shutdown (env SHUTDOWN_TIMEOUT, default 10s)")
	fs.BoolVar(&f.EnableMTLS, "mtls", false, "Enable mutual TLS, requires --cert, --key, --ca (env MTLS_ENABLED)")
	fs.StringVar(&f.CertFile, "cert", "", "Path to server certificate, PEM (env TLS_CERT_FILE)")
	fs.StringVar(&f.KeyFile, "key", "", "Path to server private key, PEM (env TLS_KEY_FILE)")
	fs.StringVar(&f.CAFile, "ca", "", "Path to CA certificate for verifying client certificates, PEM (env TLS_CA_FILE)")
}

// loadServerConfig reads the environment and applies the flags that were
// set explicitly on top of it.
func loadServerConfig(fs *pflag.FlagSet, f *config.Server) (*config.Server, error) {
	cfg, err := config.LoadServer()
	if err != nil {
		return nil, err
	}
	override(fs, "addr", &cfg.ListenAddr, f.ListenAddr)
	override(fs, "store", &cfg.Backend, f.Backend)
	override(fs, "redis-address", &cfg.RedisAddr, f.RedisAddr)
	override(fs, "redis-password", &cfg.RedisPassword, f.RedisPassword)
	override(fs, "database-url", &cfg.DatabaseURL, f.DatabaseURL)
	override(fs, "seed", &cfg.SeedFile, f.SeedFile)
	override(fs, "api-key", &cfg.APIKeys, f.APIKeys)
	override(fs, "log-level", &cfg.LogLevel, f.LogLevel)
	override(fs, "log-format", &cfg.LogFormat, f.LogFormat)
	override(fs, "shutdown-timeout", &cfg.ShutdownTimeout, f.ShutdownTimeout)
	override(fs, "mtls", &cfg.EnableMTLS, f.EnableMTLS)
	override(fs, "cert", &cfg.CertFile, f.CertFile)
	override(fs, "key", &cfg.KeyFile, f.KeyFile)
	override(fs, "ca", &cfg.CAFile, f.CAFile)
	return cfg, nil
}

// override replaces *dst with v when the named flag was given.
func override[T any](fs *pflag.FlagSet, name string, dst *T, v T) {
	if fs.Changed(name) {
		*dst = v
	}
}

func init() {
	bindServerFlags(runServerCmd.Flags(), &serverFlags)

	serverCmd.AddCommand(runServerCmd)
	rootCmd.AddCommand(serverCmd)
}
