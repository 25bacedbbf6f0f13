package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"familybook/config"
	"familybook/database"
	adminapi "familybook/internal/api/admin"
	"familybook/internal/api/billing"
	groupsapi "familybook/internal/api/groups"
	postsapi "familybook/internal/api/posts"
	rendererapi "familybook/internal/api/renderer"
	stripewebhooks "familybook/internal/api/stripewebhook"
	"familybook/internal/api/users"
	routes "familybook/internal/app/http"
	"familybook/internal/app/http/middleware"
	"familybook/internal/infra/assets"
	"familybook/internal/infra/mailjet"
	"familybook/internal/infra/renderer"
	"familybook/internal/infra/stripe"
	"familybook/internal/logging"
	billingsvc "familybook/internal/service/billing"
	"familybook/internal/service/grouplock"
	"familybook/internal/service/lifecycle"
	"familybook/internal/service/scheduler"
	"familybook/internal/service/teardown"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

func main() {
	// gin.SetMode(gin.ReleaseMode) uncomment only in production
	config.LoadEnv()
	logging.Setup(config.LOG_LEVEL)
	database.InitDB()
	db := database.DB

	loc, err := time.LoadLocation(config.TIMEZONE)
	if err != nil {
		logging.Logger.Fatalf("❌ Invalid TIMEZONE %q: %v", config.TIMEZONE, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := assets.NewGCS(ctx, config.ASSET_BUCKET)
	if err != nil {
		logging.Logger.Fatalf("❌ Asset store: %v", err)
	}
	defer store.Close()

	// one keyed mutex per process for every service writing a group's rows
	locks := grouplock.New()
	notifier := mailjet.New(db, config.MAILJET_PUBLIC_KEY, config.MAILJET_PRIVATE_KEY, config.NOTIFY_SENDER)
	coord := billingsvc.New(db, stripe.New(config.STRIPE_SECRET_KEY),
		billingsvc.WithTimeout(config.GATEWAY_TIMEOUT),
		billingsvc.WithLocation(loc),
		billingsvc.WithLocker(locks),
	)
	lc := lifecycle.New(db, renderer.New(config.RENDERER_URL, config.RENDERER_TOKEN, config.RENDERER_TIMEOUT), notifier,
		lifecycle.WithLocation(loc),
		lifecycle.WithLocker(locks),
	)
	td := teardown.New(db, coord, store, notifier, teardown.WithLocker(locks))

	sched, err := scheduler.New(scheduler.Config{
		Location:     loc,
		DeadlineSpec: config.DEADLINE_CRON,
		BillingSpec:  config.BILLING_CRON,
	}, lc, coord)
	if err != nil {
		logging.Logger.Fatalf("❌ Scheduler: %v", err)
	}
	sched.Start()
	defer sched.Stop()

	r := gin.Default()

	// ✅ Add CORS middleware BEFORE registering routes
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{config.CORS_ORIGIN},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	routes.RegisterRoutes(r, routes.Handlers{
		Admin:    adminapi.NewHandler(db, lc, loc),
		Billing:  billing.NewHandler(db),
		Groups:   groupsapi.NewHandler(lc, td),
		Posts:    postsapi.NewHandler(db, lc, store),
		Renderer: rendererapi.NewHandler(lc, config.RENDERER_TOKEN),
		Webhook:  stripewebhooks.NewHandler(coord, config.STRIPE_WEBHOOK_SECRET),
		Users:    users.NewHandler(db, coord, loc),
		Auth:     middleware.AuthMiddleware(),
		Billable: coord,
	})

	srv := &http.Server{Addr: ":" + config.PORT, Handler: r}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Logger.Fatalf("❌ Server: %v", err)
		}
	}()
	logging.Logger.Infof("✅ Listening on :%s", config.PORT)

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Logger.WithError(err).Warn("server shutdown")
	}
}
