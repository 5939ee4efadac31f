package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	JWT      JWTConfig
	Stripe   StripeConfig
	Mail     MailConfig
	Redis    RedisConfig
	R2       R2Config
	Plans    PlansConfig
	Admin    AdminConfig
}

type ServerConfig struct {
	Port        string
	Environment string
	FrontendURL string
}

type DatabaseConfig struct {
	URL string
}

type JWTConfig struct {
	Secret string
	TTL    time.Duration
}

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	SuccessURL    string
	CancelURL     string
}

type MailConfig struct {
	PublicKey  string
	PrivateKey string
	Sender     string
	SenderName string
	QueueSize  int

	// Template ids configured at the email provider.
	CheckoutConfirmedTemplate    int64
	SubscriptionExpiringTemplate int64
	NewsletterWelcomeTemplate    int64
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type R2Config struct {
	AccountID string
	AccessKey string
	SecretKey string
	Bucket    string
	PublicURL string
}

type PlansConfig struct {
	MonthlyPriceID string
	YearlyPriceID  string
}

// AdminConfig seeds the first admin account on startup. Empty email disables it.
type AdminConfig struct {
	Email    string
	Password string
}

func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

func Load() *Config {
	godotenv.Load() // .env optional outside local development

	frontend := getEnv("FRONTEND_URL", "http://localhost:3000")

	return &Config{
		Server: ServerConfig{
			Port:        getEnv("PORT", "4000"),
			Environment: getEnv("APP_ENV", "development"),
			FrontendURL: frontend,
		},
		Database: DatabaseConfig{
			URL: getEnv("DATABASE_URL", ""),
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", ""),
			TTL:    getDuration("JWT_TTL", 24*time.Hour),
		},
		Stripe: StripeConfig{
			SecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
			WebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
			SuccessURL:    getEnv("STRIPE_SUCCESS_URL", frontend+"/subscribe/success?session_id={CHECKOUT_SESSION_ID}"),
			CancelURL:     getEnv("STRIPE_CANCEL_URL", frontend+"/subscribe"),
		},
		Mail: MailConfig{
			PublicKey:                    getEnv("MAILJET_PUBLIC_KEY", ""),
			PrivateKey:                   getEnv("MAILJET_PRIVATE_KEY", ""),
			Sender:                       getEnv("MAIL_SENDER", "research@finresearch.io"),
			SenderName:                   getEnv("MAIL_SENDER_NAME", "FinResearch"),
			CheckoutConfirmedTemplate:    getInt64("MAILJET_TEMPLATE_CHECKOUT_CONFIRMED", 0),
			SubscriptionExpiringTemplate: getInt64("MAILJET_TEMPLATE_SUBSCRIPTION_EXPIRING", 0),
			NewsletterWelcomeTemplate:    getInt64("MAILJET_TEMPLATE_NEWSLETTER_WELCOME", 0),
			QueueSize:                    int(getInt64("MAIL_QUEUE_SIZE", 100)),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       int(getInt64("REDIS_DB", 0)),
		},
		R2: R2Config{
			AccountID: getEnv("R2_ACCOUNT_ID", ""),
			AccessKey: getEnv("R2_ACCESS_KEY", ""),
			SecretKey: getEnv("R2_SECRET_KEY", ""),
			Bucket:    getEnv("R2_BUCKET_NAME", ""),
			PublicURL: getEnv("R2_PUBLIC_URL", "https://cdn.finresearch.io"),
		},
		Plans: PlansConfig{
			MonthlyPriceID: getEnv("STRIPE_PRICE_MONTHLY", ""),
			YearlyPriceID:  getEnv("STRIPE_PRICE_YEARLY", ""),
		},
		Admin: AdminConfig{
			Email:    getEnv("ADMIN_EMAIL", ""),
			Password: getEnv("ADMIN_PASSWORD", ""),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt64(key string, defaultValue int64) int64 {
	v, err := strconv.ParseInt(os.Getenv(key), 10, 64)
	if err != nil {
		return defaultValue
	}
	return v
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	d, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return d
}
