package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"finresearch_backend/internal/controller"
	"finresearch_backend/internal/middleware"
	"finresearch_backend/internal/model"
	"finresearch_backend/pkg/cache"
	"finresearch_backend/pkg/config"
	"finresearch_backend/pkg/cron"
	"finresearch_backend/pkg/database"
	"finresearch_backend/pkg/email"
	"finresearch_backend/pkg/payment"
	"finresearch_backend/pkg/plan"
	"finresearch_backend/pkg/seed"
	"finresearch_backend/pkg/utils/cloudflare"
	"finresearch_backend/pkg/utils/jwt"
)

type controllers struct {
	auth       *controller.AuthController
	settings   *controller.SettingsController
	newsletter *controller.NewsletterController
	payments   *controller.PaymentController
}

func setupRoutes(app *fiber.App, ctl controllers, tokens *jwt.Manager) {
	api := app.Group("/api")
	auth := middleware.Protected(tokens)

	// Auth Routes
	authRoutes := api.Group("/auth")
	authRoutes.Post("/register", ctl.auth.Register)
	authRoutes.Post("/login", ctl.auth.Login)

	api.Get("/me", auth, ctl.auth.GetMe)

	// Settings routes
	settings := api.Group("/settings", auth)
	settings.Get("/profile", ctl.settings.GetProfile)
	settings.Put("/profile", ctl.settings.UpdateProfile)
	settings.Post("/avatar", ctl.settings.UploadAvatar)

	// Newsletter routes
	newsletter := api.Group("/newsletter")
	newsletter.Post("/subscribe", ctl.newsletter.Subscribe)
	newsletter.Post("/unsubscribe", ctl.newsletter.Unsubscribe)
	newsletter.Get("/subscribers", auth, middleware.RequireRole(model.RoleAdmin), ctl.newsletter.GetSubscribers)
	newsletter.Get("/stats", auth, middleware.RequireRole(model.RoleAdmin), ctl.newsletter.GetStats)

	// Payment routes; the webhook authenticates by signature, not bearer token
	payments := api.Group("/payments")
	payments.Post("/webhook", ctl.payments.Webhook)
	payments.Post("/create-checkout-session", auth, ctl.payments.CreateCheckoutSession)
	payments.Post("/cancel-subscription", auth, ctl.payments.CancelSubscription)
	payments.Get("/verify-session", auth, ctl.payments.VerifySession)
	payments.Get("/subscription", auth, ctl.payments.GetSubscription)
	payments.Get("/payment-method", auth, ctl.payments.GetPaymentMethod)
	payments.Post("/setup-intent", auth, ctl.payments.CreateSetupIntent)
}

func errorHandler(production bool) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		var fe *fiber.Error
		if errors.As(err, &fe) {
			code = fe.Code
			return c.Status(code).JSON(fiber.Map{"error": fe.Message})
		}

		log.Errorf("%s %s: %v", c.Method(), c.Path(), err)
		body := fiber.Map{"error": "Internal server error"}
		if !production {
			body["details"] = err.Error()
		}
		return c.Status(code).JSON(body)
	}
}

func newLocker(cfg config.RedisConfig) (payment.Locker, func()) {
	client, err := cache.Connect(context.Background(), cache.Config{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err != nil {
		log.Warnf("Webhook event locks are process-local: %v", err)
		return payment.NewMemoryLocker(), func() {}
	}
	return payment.NewRedisLocker(client, 0), func() { client.Close() }
}

func newDispatcher(cfg config.MailConfig) email.Dispatcher {
	d, err := email.NewMailjetDispatcher(cfg.PublicKey, cfg.PrivateKey, cfg.Sender, cfg.SenderName)
	if err != nil {
		log.Warnf("Mailjet disabled, emails will only be logged: %v", err)
		return email.LogDispatcher{}
	}
	if cfg.CheckoutConfirmedTemplate == 0 {
		log.Warn("MAILJET_TEMPLATE_CHECKOUT_CONFIRMED is not set, checkout confirmation emails will fail to send")
	}
	if cfg.SubscriptionExpiringTemplate == 0 {
		log.Warn("MAILJET_TEMPLATE_SUBSCRIPTION_EXPIRING is not set, expiry warnings are disabled")
	}
	return d
}

func newAvatarStore(cfg config.R2Config) controller.AvatarStore {
	store, err := cloudflare.NewStorage(context.Background(), cloudflare.Config{
		AccountID: cfg.AccountID,
		AccessKey: cfg.AccessKey,
		SecretKey: cfg.SecretKey,
		Bucket:    cfg.Bucket,
		PublicURL: cfg.PublicURL,
	})
	if err != nil {
		log.Warnf("Avatar uploads disabled: %v", err)
		return nil
	}
	return store
}

func main() {
	cfg := config.Load()

	if cfg.Database.URL == "" {
		log.Fatal("DATABASE_URL is not set")
	}
	if cfg.Stripe.WebhookSecret == "" {
		log.Warn("STRIPE_WEBHOOK_SECRET is not set, every webhook delivery will be rejected")
	}

	db, err := database.Open(cfg.Database.URL)
	if err != nil {
		log.Fatal(err)
	}
	err = database.Migrate(db,
		&model.UserProfile{},
		&model.Subscription{},
		&model.Payment{},
		&model.NewsletterSubscriber{},
		&model.WebhookEvent{},
	)
	if err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
	if err := seed.EnsureAdmin(db, cfg.Admin.Email, cfg.Admin.Password); err != nil {
		log.Errorf("Admin seed: %v", err)
	}

	tokens, err := jwt.NewManager(cfg.JWT.Secret, cfg.JWT.TTL)
	if err != nil {
		log.Fatal(err)
	}

	mailQueue := email.NewQueue(newDispatcher(cfg.Mail), cfg.Mail.QueueSize, 2)
	mailQueue.Start()

	locker, closeLocker := newLocker(cfg.Redis)
	defer closeLocker()

	paymentService := payment.NewService(payment.Options{
		Gateway:                   payment.NewStripeGateway(cfg.Stripe.SecretKey),
		Repository:                payment.NewRepository(db),
		Mailer:                    mailQueue,
		Locker:                    locker,
		Plans:                     plan.NewCatalog(cfg.Plans.MonthlyPriceID, cfg.Plans.YearlyPriceID),
		WebhookSecret:             cfg.Stripe.WebhookSecret,
		SuccessURL:                cfg.Stripe.SuccessURL,
		CancelURL:                 cfg.Stripe.CancelURL,
		CheckoutConfirmedTemplate: cfg.Mail.CheckoutConfirmedTemplate,
	})

	scheduler, err := cron.NewScheduler(
		(&cron.ExpiryWarnings{DB: db, Mailer: mailQueue, Template: cfg.Mail.SubscriptionExpiringTemplate}).Job(),
		(&cron.WebhookRetention{DB: db}).Job(),
	)
	if err != nil {
		log.Fatal(err)
	}
	scheduler.Start()

	app := fiber.New(fiber.Config{
		ErrorHandler: errorHandler(cfg.IsProduction()),
		BodyLimit:    6 * 1024 * 1024,
	})

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.Server.FrontendURL,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
	}))

	setupRoutes(app, controllers{
		auth:       controller.NewAuthController(db, tokens, paymentService),
		settings:   controller.NewSettingsController(db, newAvatarStore(cfg.R2)),
		newsletter: controller.NewNewsletterController(db, mailQueue, cfg.Mail.NewsletterWelcomeTemplate),
		payments:   controller.NewPaymentController(paymentService, cfg.IsProduction()),
	}, tokens)

	go func() {
		log.Infof("Server is running on port %s", cfg.Server.Port)
		if err := app.Listen(":" + cfg.Server.Port); err != nil {
			log.Errorf("Server stopped: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Errorf("HTTP shutdown: %v", err)
	}
	if err := scheduler.Stop(ctx); err != nil {
		log.Errorf("Cron shutdown: %v", err)
	}
	if err := mailQueue.Stop(ctx); err != nil {
		log.Errorf("Mail queue shutdown: %v", err)
	}
}
