package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/apikeyd/internal/domain/apikey"
	"github.com/xenking/apikeyd/internal/handler"
	"github.com/xenking/apikeyd/internal/storage"
	"github.com/xenking/apikeyd/pkg/health"
	"github.com/xenking/apikeyd/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("store", cfg.Store.Driver),
	)

	policy, err := cfg.Policy()
	if err != nil {
		return errors.Wrap(err, "access policy")
	}
	codec := cfg.Codec()

	db, err := storage.Open(ctx, lg, cfg.Store)
	if err != nil {
		return errors.Wrap(err, "open store")
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := db.Close(closeCtx); err != nil {
			lg.Error("Close store", zap.Error(err))
		}
	}()

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("store", cfg.Store.Timeout, health.StoreCheck(db.Store))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.Start(ctx, 10*time.Second)
	defer healthSvc.Stop()

	// Domain services.
	issuer := apikey.NewIssuer(db.Store, codec, policy,
		apikey.WithIssueAttempts(cfg.Keys.IssueAttempts),
		apikey.WithIssuerTimeout(cfg.Store.Timeout),
	)
	validator, err := apikey.NewValidator(db.Store, codec, policy,
		apikey.WithValidatorTimeout(cfg.Store.Timeout),
		apikey.WithMeterProvider(m.MeterProvider()),
	)
	if err != nil {
		return errors.Wrap(err, "create validator")
	}

	h := handler.NewHandler(handler.Config{
		StoreTimeout: cfg.Store.Timeout,
		RetryAfter:   time.Second,
		AdminLevel:   apikey.AccessLevel(cfg.Keys.AdminLevel),
	}, policy, validator, issuer, db.Store)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("GET /readyz", healthSvc.ReadyEndpoint)
	h.Register(mux)

	middlewares := []httpmiddleware.Middleware{
		httpmiddleware.InjectLogger(lg),
		httpmiddleware.Recovery(),
		httpmiddleware.RequestID(),
		httpmiddleware.LogRequests(),
	}
	if cfg.RateLimit.RPS > 0 {
		middlewares = append(middlewares, httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
			RPS:        cfg.RateLimit.RPS,
			Burst:      cfg.RateLimit.Burst,
			TrustProxy: cfg.RateLimit.TrustProxy,
		}))
	}

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: otelhttp.NewHandler(
			httpmiddleware.Wrap(mux, middlewares...),
			"apikeyd",
			otelhttp.WithTracerProvider(m.TracerProvider()),
			otelhttp.WithMeterProvider(m.MeterProvider()),
		),
	}

	healthSvc.SetReady(true)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})
	g.Go(func() error {
		// Graceful shutdown: stop advertising readiness, drain, then stop.
		<-gCtx.Done()
		healthSvc.SetReady(false)
		if ctx.Err() != nil {
			lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
			time.Sleep(cfg.Graceful.ReadinessDelay)
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "shutdown")
		}
		return nil
	})

	return g.Wait()
}
