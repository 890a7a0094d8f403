package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/wolfeidau/qrtrack/internal/identity"
	"github.com/wolfeidau/qrtrack/internal/lifecycle"
	"github.com/wolfeidau/qrtrack/internal/logger"
	"github.com/wolfeidau/qrtrack/internal/server"
	"github.com/wolfeidau/qrtrack/internal/store"
	memorystore "github.com/wolfeidau/qrtrack/internal/store/memory"
	postgresstore "github.com/wolfeidau/qrtrack/internal/store/postgres"
	sqlitestore "github.com/wolfeidau/qrtrack/internal/store/sqlite"
	"github.com/wolfeidau/qrtrack/internal/telemetry"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

type ServeCmd struct {
	// Server configuration
	Listen string `help:"HTTP server listen address" default:"0.0.0.0:8080" env:"QRTRACK_LISTEN"`
	Cert   string `help:"path to TLS cert file, serves cleartext HTTP/2 when empty" default:"" env:"QRTRACK_TLS_CERT"`
	Key    string `help:"path to TLS key file" default:"" env:"QRTRACK_TLS_KEY"`

	ShutdownTimeout time.Duration `help:"time allowed for in-flight requests on shutdown" default:"15s" env:"QRTRACK_SHUTDOWN_TIMEOUT"`

	// CORS configuration
	CORSOrigins []string `help:"allowed CORS origins for API requests" default:"https://localhost" env:"QRTRACK_CORS_ORIGINS"`
	TrustProxy  bool     `help:"trust X-Forwarded-For and X-Real-IP for client addresses" default:"false" env:"QRTRACK_TRUST_PROXY"`

	// Identity configuration
	JWTIssuer  string   `help:"expected issuer of access tokens" default:"qrtrack" env:"QRTRACK_JWT_ISSUER"`
	JWTSecrets []string `help:"HMAC secrets accepted for access tokens, first is current" env:"QRTRACK_JWT_SECRETS"`

	// Telemetry
	Tracing     bool    `help:"enable OpenTelemetry export" default:"false" env:"QRTRACK_TRACING"`
	SampleRatio float64 `help:"fraction of traces sampled" default:"1" env:"QRTRACK_TRACE_SAMPLE_RATIO"`

	// Store configuration
	StoreType     string             `help:"store type (memory, sqlite or postgres)" default:"memory" env:"QRTRACK_STORE_TYPE" enum:"memory,sqlite,postgres"`
	PostgresStore PostgresStoreFlags `embed:"" prefix:"postgres-"`
	SQLiteStore   SQLiteStoreFlags   `embed:"" prefix:"sqlite-"`
}

type PostgresStoreFlags struct {
	// Connection Configuration
	ConnString string `help:"PostgreSQL connection string" env:"POSTGRES_CONNECTION_STRING"`

	// Store Configuration
	QueryTimeout int32 `help:"per call query timeout in seconds" default:"10" env:"QRTRACK_POSTGRES_QUERY_TIMEOUT"`

	// Connection Pool Configuration
	MaxConns        int32 `help:"maximum number of connections in pool" default:"20"`
	MinConns        int32 `help:"minimum number of connections in pool" default:"5"`
	MaxConnLifetime int32 `help:"maximum connection lifetime in seconds" default:"3600"`
	MaxConnIdleTime int32 `help:"maximum connection idle time in seconds" default:"1800"`
	StartupTimeout  int32 `help:"seconds to keep retrying the first connection" default:"60" env:"QRTRACK_POSTGRES_STARTUP_TIMEOUT"`

	// Migration Configuration
	AutoMigrate bool `help:"run database migrations on startup" default:"false" env:"QRTRACK_POSTGRES_AUTO_MIGRATE"`
}

type SQLiteStoreFlags struct {
	Path string `help:"SQLite database file" default:"qrtrack.db" env:"QRTRACK_SQLITE_PATH"`
}

func (c *ServeCmd) Validate() error {
	if len(c.JWTSecrets) == 0 {
		return errors.New("at least one JWT secret is required (--jwt-secrets or QRTRACK_JWT_SECRETS)")
	}
	for _, secret := range c.JWTSecrets {
		if len(secret) < identity.MinSecretLength {
			return fmt.Errorf("JWT secrets must be at least %d bytes (256 bits) for HMAC-SHA256", identity.MinSecretLength)
		}
	}
	if (c.Cert == "") != (c.Key == "") {
		return errors.New("TLS certificate and key must be set together (--cert and --key)")
	}
	if c.StoreType == "postgres" && c.PostgresStore.ConnString == "" {
		return errors.New("PostgreSQL connection string is required (--postgres-conn-string or POSTGRES_CONNECTION_STRING)")
	}
	if c.StoreType == "sqlite" && c.SQLiteStore.Path == "" {
		return errors.New("SQLite path is required (--sqlite-path or QRTRACK_SQLITE_PATH)")
	}
	return nil
}

func (c *ServeCmd) Run(ctx context.Context, globals *Globals) error {
	log := logger.Setup(globals.Debug)
	logger.Install(log)

	log.Info().Str("version", globals.Version).Bool("debug", globals.Debug).Msg("Starting server")

	// Setup telemetry if enabled
	if c.Tracing {
		log.Info().Msg("Tracing is enabled")
		shutdown, err := telemetry.InitTelemetry(ctx, telemetry.Config{
			ServiceName: "qrtrack-server",
			Version:     globals.Version,
			SampleRatio: c.SampleRatio,
		})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without metrics")
			shutdown = func(ctx context.Context) error { return nil }
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("Failed to shutdown telemetry")
			}
		}()
	}

	assetStore, err := c.openStore(ctx, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := assetStore.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close store")
		}
	}()

	secrets := make([][]byte, 0, len(c.JWTSecrets))
	for _, secret := range c.JWTSecrets {
		secrets = append(secrets, []byte(secret))
	}
	verifier, err := identity.NewVerifier(c.JWTIssuer, secrets...)
	if err != nil {
		return fmt.Errorf("failed to create token verifier: %w", err)
	}

	srv := server.NewServer(lifecycle.NewService(assetStore), assetStore, verifier, server.Config{
		CORSOrigins: c.CORSOrigins,
		TrustProxy:  c.TrustProxy,
	})
	handler := srv.Handler(log)

	tlsEnabled := c.Cert != ""
	if tlsEnabled {
		if _, err := os.Stat(c.Cert); err != nil {
			return fmt.Errorf("TLS certificate not found at %s: %w", c.Cert, err)
		}
		if _, err := os.Stat(c.Key); err != nil {
			return fmt.Errorf("TLS key not found at %s: %w", c.Key, err)
		}
	} else {
		handler = h2c.NewHandler(handler, &http2.Server{})
	}

	httpServer := configureHTTPServer(c.Listen, handler)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", c.Listen).Bool("tls", tlsEnabled).Str("store", c.StoreType).Msg("Starting HTTP server")
		if tlsEnabled {
			errCh <- httpServer.ListenAndServeTLS(c.Cert, c.Key)
			return
		}
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	log.Info().Dur("timeout", c.ShutdownTimeout).Msg("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), c.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown http server: %w", err)
	}
	return nil
}

func (c *ServeCmd) openStore(ctx context.Context, log zerolog.Logger) (store.AssetStore, error) {
	switch c.StoreType {
	case "postgres":
		pool, err := postgresstore.NewPool(ctx, &postgresstore.PoolConfig{
			ConnString:      c.PostgresStore.ConnString,
			MaxConns:        c.PostgresStore.MaxConns,
			MinConns:        c.PostgresStore.MinConns,
			MaxConnLifetime: c.PostgresStore.MaxConnLifetime,
			MaxConnIdleTime: c.PostgresStore.MaxConnIdleTime,
			StartupTimeout:  c.PostgresStore.StartupTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create connection pool: %w", err)
		}

		assetStore, err := postgresstore.NewAssetStore(ctx, pool, &postgresstore.AssetStoreConfig{
			QueryTimeoutSeconds: c.PostgresStore.QueryTimeout,
			AutoMigrate:         c.PostgresStore.AutoMigrate,
		})
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to create asset store: %w", err)
		}
		log.Info().Bool("auto_migrate", c.PostgresStore.AutoMigrate).Msg("Using PostgreSQL asset store")
		return assetStore, nil

	case "sqlite":
		assetStore, err := sqlitestore.Open(ctx, c.SQLiteStore.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		log.Info().Str("path", c.SQLiteStore.Path).Msg("Using SQLite asset store")
		return assetStore, nil

	default:
		log.Warn().Msg("Using in-memory asset store, data is lost on restart")
		return memorystore.NewAssetStore(), nil
	}
}
