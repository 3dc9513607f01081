package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/wolfeidau/tenancy/internal/api"
	"github.com/wolfeidau/tenancy/internal/auth"
	"github.com/wolfeidau/tenancy/internal/logger"
	"github.com/wolfeidau/tenancy/internal/preference"
	"github.com/wolfeidau/tenancy/internal/telemetry"
	"github.com/wolfeidau/tenancy/internal/tenancy"
)

type ServeCmd struct {
	// Server configuration
	Listen string `help:"HTTP server listen address" default:"0.0.0.0:8080" env:"TENANCY_LISTEN"`
	Cert   string `help:"path to TLS cert file" default:"" env:"TENANCY_TLS_CERT"`
	Key    string `help:"path to TLS key file" default:"" env:"TENANCY_TLS_KEY"`

	// CORS configuration
	CORSOrigins    []string `help:"allowed CORS origins for API requests" default:"https://localhost" env:"TENANCY_CORS_ORIGINS"`
	TrustedOrigins []string `help:"origins allowed to make cross-origin mutations" env:"TENANCY_TRUSTED_ORIGINS"`

	// Token verification
	JWTPublicKey string `help:"PEM encoded ES256 public key used to verify bearer tokens" env:"TENANCY_JWT_PUBLIC_KEY"`
	JWTIssuer    string `help:"expected token issuer" default:"tenancy" env:"TENANCY_JWT_ISSUER"`

	// Tenancy behaviour
	CacheTTL         time.Duration `help:"how long resolved tenant lists are cached per principal" default:"30s" env:"TENANCY_CACHE_TTL"`
	AnomalyThreshold int           `help:"tenant count per principal above which a warning is logged" default:"50" env:"TENANCY_ANOMALY_THRESHOLD"`
	ConsistencyWait  time.Duration `help:"maximum wait for a created tenant to become readable" default:"5s" env:"TENANCY_CONSISTENCY_WAIT"`
	PreferenceFile   string        `help:"YAML file for tenant selection preferences (in-memory if empty)" env:"TENANCY_PREFERENCE_FILE"`

	// Development and operational modes
	Tracing bool `help:"enable tracing" default:"false" env:"TENANCY_TRACING"`

	Store StoreFlags `embed:""`
}

func (c *ServeCmd) Validate() error {
	if c.JWTPublicKey == "" {
		return errors.New("JWT public key is required (--jwt-public-key or TENANCY_JWT_PUBLIC_KEY)")
	}
	if (c.Cert == "") != (c.Key == "") {
		return errors.New("--cert and --key must be provided together")
	}
	return nil
}

func (c *ServeCmd) Run(globals *Globals) error {
	log := logger.Setup(globals.Debug)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Str("version", globals.Version).Bool("debug", globals.Debug).Msg("Starting server")

	shutdown, err := telemetry.InitTelemetry(ctx, telemetry.Config{
		ServiceName: "tenancy-server",
		Version:     globals.Version,
		Traces:      c.Tracing,
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

	docs, closeStore, err := c.Store.Open(ctx, log)
	if err != nil {
		return err
	}
	defer closeStore()

	var prefs preference.Store = preference.NewMemoryStore()
	if c.PreferenceFile != "" {
		prefs, err = preference.NewFileStore(c.PreferenceFile)
		if err != nil {
			return fmt.Errorf("failed to open preference file: %w", err)
		}
	}

	verifier, err := auth.NewVerifierFromPEM(c.JWTPublicKey, c.JWTIssuer)
	if err != nil {
		return fmt.Errorf("failed to load JWT public key: %w", err)
	}

	svc := tenancy.NewService(docs, tenancy.Config{
		Preferences:      prefs,
		CacheTTL:         c.CacheTTL,
		AnomalyThreshold: c.AnomalyThreshold,
		Consistency:      tenancy.ConsistencyConfig{MaxElapsed: c.ConsistencyWait},
	})

	handler, err := api.NewRouter(svc, api.Config{
		Logger:         log,
		Authenticate:   verifier.Middleware(),
		CORSOrigins:    c.CORSOrigins,
		TrustedOrigins: c.TrustedOrigins,
	})
	if err != nil {
		return err
	}

	if c.Tracing {
		handler = otelhttp.NewHandler(handler, "tenancy-api")
	}

	srv := configureHTTPServer(c.Listen, handler)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", c.Listen).Bool("tls", c.Cert != "").Msg("Starting HTTP server")
		if c.Cert != "" {
			errCh <- srv.ListenAndServeTLS(c.Cert, c.Key)
			return
		}
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
