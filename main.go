package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fasthttp/router"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/valyala/fasthttp"

	"vidbranch/internal/access"
	"vidbranch/internal/blob"
	"vidbranch/internal/config"
	"vidbranch/internal/conversion"
	"vidbranch/internal/db"
	"vidbranch/internal/events"
	"vidbranch/internal/http/handlers"
	appmw "vidbranch/internal/http/middleware"
	"vidbranch/internal/logging"
	"vidbranch/internal/metrics"
	"vidbranch/internal/session"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sqlDB, err := db.Connect(ctx, cfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to connect database")
	}
	if err := db.EnsureBootstrapAdmin(sqlDB, cfg); err != nil {
		logging.Fatal().Err(err).Msg("failed to ensure bootstrap admin")
	}

	metrics.Register(prometheus.DefaultRegisterer)

	blobs, local := openBlobStore(ctx, cfg)

	store := db.NewStore(sqlDB)
	guard := access.NewGuard(store, cfg.Production())
	sessions := session.NewManager(store)
	evaluator := conversion.NewEvaluator(store, conversion.BreakerSettings{
		Failures: cfg.BreakerFailures,
		Timeout:  cfg.BreakerTimeout,
	})
	recorder := events.NewRecorder(store, sessions, evaluator)

	widget := &handlers.Widget{
		Store:    store,
		Guard:    guard,
		Sessions: sessions,
		Recorder: recorder,
		Blobs:    blobs,
		Cfg:      cfg,
	}
	admin := &handlers.Admin{Store: store, Blobs: blobs, Cfg: cfg}

	limiter := appmw.NewRateLimiter(cfg.WidgetRatePerMinute)
	defer limiter.Stop()
	widgetChain := func(h fasthttp.RequestHandler) fasthttp.RequestHandler {
		return appmw.WidgetCORS(limiter.Middleware(h))
	}
	auth := appmw.AdminAuth(sqlDB, cfg)

	r := router.New()
	r.SaveMatchedRoutePath = true

	r.GET("/healthz", func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusOK)
		ctx.SetBodyString("ok")
	})

	if local != nil {
		r.ServeFS("/media/{filepath:*}", os.DirFS(local.Dir))
	}

	for _, path := range []string{"/widget/init", "/widget/navigate", "/widget/events", "/widget/config/{projectId}"} {
		r.OPTIONS(path, appmw.WidgetCORS(func(*fasthttp.RequestCtx) {}))
	}
	r.POST("/widget/init", widgetChain(handlers.WidgetInit(widget)))
	r.POST("/widget/navigate", widgetChain(handlers.WidgetNavigate(widget)))
	r.POST("/widget/events", widgetChain(handlers.WidgetEvents(widget)))
	r.GET("/widget/config/{projectId}", widgetChain(handlers.WidgetConfig(widget)))

	r.POST("/login", handlers.LoginSubmit(sqlDB, cfg))
	r.POST("/logout", handlers.Logout(sqlDB))
	r.POST("/settings/password", auth(handlers.ChangePasswordSelf(sqlDB, cfg)))

	r.POST("/admin/users", auth(handlers.CreateUser(sqlDB)))
	r.POST("/admin/users/{id}/reset-password", auth(handlers.ResetPassword(sqlDB, cfg)))
	r.DELETE("/admin/users/{id}", auth(handlers.DeleteUser(sqlDB, cfg)))

	r.POST("/admin/organizations", auth(handlers.CreateOrganization(admin)))
	r.POST("/admin/organizations/{id}/rotate-key", auth(handlers.RotateWidgetKey(admin)))

	r.POST("/admin/projects", auth(handlers.CreateProject(admin)))
	r.GET("/admin/projects/{id}", auth(handlers.GetProject(admin)))
	r.DELETE("/admin/projects/{id}", auth(handlers.DeleteProject(admin)))
	r.GET("/admin/projects/{id}/analytics", auth(handlers.ProjectAnalytics(admin)))

	r.POST("/admin/projects/{id}/videos", auth(handlers.UploadVideo(admin)))
	r.DELETE("/admin/videos/{id}", auth(handlers.DeleteVideo(admin)))

	r.POST("/admin/projects/{id}/slots", auth(handlers.CreateSlot(admin)))
	r.POST("/admin/slots/{id}/entry", auth(handlers.SetEntrySlot(admin)))
	r.DELETE("/admin/slots/{id}", auth(handlers.DeleteSlot(admin)))

	r.POST("/admin/projects/{id}/transitions", auth(handlers.CreateTransition(admin)))
	r.DELETE("/admin/transitions/{id}", auth(handlers.DeleteTransition(admin)))

	r.POST("/admin/projects/{id}/rules", auth(handlers.CreateRule(admin)))
	r.POST("/admin/rules/{id}/active", auth(handlers.SetRuleActive(admin)))
	r.DELETE("/admin/rules/{id}", auth(handlers.DeleteRule(admin)))

	r.GET("/admin/sessions/{id}", auth(handlers.SessionDetail(admin)))

	r.GET("/v1/metrics", handlers.ProjectMetricsHandler(store, prometheus.DefaultGatherer))

	db.StartAggregationWorker(ctx, sqlDB)
	db.StartRetentionWorker(ctx, sqlDB)

	server := &fasthttp.Server{
		Handler:            appmw.RequestLogger(r.Handler),
		Name:               "vidbranch",
		MaxRequestBodySize: cfg.MaxUploadBytes + 1<<20,
		ReadTimeout:        2 * time.Minute,
		IdleTimeout:        time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", cfg.ListenAddr).Str("env", cfg.Env).Msg("vidbranch listening")
		errCh <- server.ListenAndServe(cfg.ListenAddr)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logging.Fatal().Err(err).Msg("server error")
		}
	case <-ctx.Done():
	}

	logging.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.ShutdownWithContext(shutdownCtx); err != nil {
		logging.Error().Err(err).Msg("graceful shutdown failed")
	}
}

// openBlobStore returns S3 when a bucket is configured, otherwise a local
// directory served under /media.
func openBlobStore(ctx context.Context, cfg *config.Config) (blob.Store, *blob.Local) {
	if cfg.S3Bucket != "" {
		s3Store, err := blob.NewS3(ctx, blob.S3Options{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			UsePathStyle:    cfg.S3PathStyle,
		})
		if err != nil {
			logging.Fatal().Err(err).Msg("failed to configure s3 blob store")
		}
		return s3Store, nil
	}
	if err := os.MkdirAll(cfg.MediaDir, 0o755); err != nil {
		logging.Fatal().Err(err).Str("dir", cfg.MediaDir).Msg("failed to create media dir")
	}
	logging.Warn().Str("dir", cfg.MediaDir).Msg("no s3 bucket configured, serving videos from local disk")
	local := &blob.Local{Dir: cfg.MediaDir, BaseURL: cfg.PublicMediaURL}
	return local, local
}
