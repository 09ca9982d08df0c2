package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/cookmart/internal/domain/chat"
	"github.com/xenking/cookmart/internal/domain/coupon"
	"github.com/xenking/cookmart/internal/handler"
	"github.com/xenking/cookmart/internal/realtime"
	"github.com/xenking/cookmart/pkg/health"
	"github.com/xenking/cookmart/pkg/httpmiddleware"
)

const serviceName = "cookmart-api"

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("storage", cfg.Storage),
	)
	ctx = zctx.Base(ctx, lg)

	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.close()

	// Health check service.
	healthSvc := health.New()
	if st.db != nil {
		healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(st.db))
	}
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(50000))
	healthSvc.AddLivenessCheck("gc_pause", time.Second, health.GCMaxPauseCheck(time.Second))

	// Realtime hub, optionally relayed through Redis.
	policy, err := coupon.ParseUnknownRulePolicy(cfg.Coupon.UnknownRulePolicy)
	if err != nil {
		return errors.Wrap(err, "parse unknown rule policy")
	}
	hubOpts := []realtime.Option{
		// Membership lookups only read the repository and never publish.
		realtime.WithMembership(chat.NewService(st.chat, nil)),
		realtime.WithOriginCheck(httpmiddleware.OriginAllowed(cfg.Realtime.AllowedOrigins)),
		realtime.WithSendBuffer(cfg.Realtime.SendBuffer),
		realtime.WithPingInterval(cfg.Realtime.PingInterval),
		realtime.WithWriteTimeout(cfg.Realtime.WriteTimeout),
		realtime.WithMeterProvider(m.MeterProvider()),
	}
	var relay *realtime.Relay
	if cfg.Realtime.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Realtime.RedisAddr})
		defer func() { _ = rdb.Close() }()

		relay = realtime.NewRelay(rdb, cfg.Realtime.RedisChannel)
		hubOpts = append(hubOpts, realtime.WithBroker(relay))
		healthSvc.AddReadinessCheck("redis", 2*time.Second, health.RedisCheck(rdb))
	}
	hub := realtime.NewHub(hubOpts...)

	// Domain services.
	stats := coupon.NewAggregator(st.stats)
	validator := coupon.NewValidator(st.coupons, st.usage, stats, coupon.NewRegistry(policy),
		coupon.WithTracerProvider(m.TracerProvider()),
		coupon.WithMeterProvider(m.MeterProvider()),
	)
	h := handler.New(handler.Deps{
		Validator: validator,
		Stats:     stats,
		Ranker:    coupon.NewRanker(st.coupons, st.usage),
		Redeemer:  coupon.NewRedeemer(st.coupons, st.usage, validator),
		Wallet:    coupon.NewWallet(st.coupons, st.usage),
		Chat:      chat.NewService(st.chat, hub),
		Realtime:  hub,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("/readyz", healthSvc.ReadyEndpoint)
	h.Register(mux)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", handler.UserIDHeader, httpmiddleware.RequestIDHeader},
				ExposeHeaders:    []string{httpmiddleware.RequestIDHeader},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				RPS:   cfg.RateLimit.RPS,
				Burst: cfg.RateLimit.Burst,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(lg),
			httpmiddleware.Instrument(serviceName, m.TracerProvider(), m.MeterProvider()),
			httpmiddleware.LogRequests(),
		),
	}

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	g, gctx := errgroup.WithContext(ctx)
	if relay != nil {
		g.Go(func() error {
			if err := relay.Run(gctx, hub); err != nil {
				return errors.Wrap(err, "realtime relay")
			}
			return nil
		})
	}

	// Graceful shutdown: wait for cancellation, drain, then stop.
	g.Go(func() error {
		<-gctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		// Shutdown does not wait for hijacked websocket connections.
		hub.Close()
		healthSvc.Stop()
		return nil
	})

	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})

	return g.Wait()
}
