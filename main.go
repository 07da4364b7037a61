package main

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"webnova-backend/billing"
	"webnova-backend/common"
	"webnova-backend/db"
	"webnova-backend/sections"
	sectionsbilling "webnova-backend/sections/billing"
	"webnova-backend/sections/common/auth"
	"webnova-backend/sections/models"
	"webnova-backend/services"
	"webnova-backend/storage"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func main() {
	ctx := context.Background()

	// Set up structured logging with debug level
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})))

	// Load environment variables
	if _, err := os.Stat(common.PRIVATE_CREDENTIALS_DOTENV); err == nil {
		if err := godotenv.Load(common.PRIVATE_CREDENTIALS_DOTENV); err != nil {
			slog.Error("Failed to load .env.private file", "error", err)
			os.Exit(1)
		}
	}

	cfgDir := getEnv("CONFIG_DIR", common.DEFAULT_CONFIG_DIR)

	// Load configuration
	cfg, err := common.LoadConfig(cfgDir)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	if cfg.StripeSecretKey == "" || cfg.StripeWebhookSecret == "" {
		slog.Error("Stripe credentials are required (STRIPE_SECRET_KEY, STRIPE_WEBHOOK_SECRET)")
		os.Exit(1)
	}

	// Load plan catalog
	plans, err := common.LoadPlans(cfgDir)
	if err != nil {
		slog.Error("Failed to load plans", "error", err)
		os.Exit(1)
	}
	slog.Info("Plan catalog loaded", "count", len(plans))

	// Connect to the database and migrate billing models
	database, err := db.Connect(os.Getenv("DATABASE_URL"))
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer database.Close()

	if err := database.Migrate(
		&models.User{},
		&models.WebhookLog{},
		&models.Subscription{},
		&models.Payment{},
		&models.PaymentRetry{},
		&models.SubscriptionEvent{},
		&models.Refund{},
		&models.Notification{},
	); err != nil {
		slog.Error("Failed to migrate database", "error", err)
		os.Exit(1)
	}

	// Initialize Redis client for notification fan-out
	redisClient, err := storage.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisPrefix, 0)
	if err != nil {
		slog.Error("Failed to initialize Redis client", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	// Initialize JWT manager
	jwtManager, err := auth.NewJWTManager(os.Getenv("JWT_PRIVATE_KEY"), getEnv("JWT_ISSUER", "webnova"), 72)
	if err != nil {
		slog.Error("Failed to initialize JWT manager", "error", err)
		os.Exit(1)
	}

	// Stripe service, billing engine and retry scheduler
	stripeSvc := services.NewStripeService(plans, cfg)
	store := billing.NewGormStore(database.DB)
	engine := billing.NewEngine(store, cfg, plans, redisClient)

	scheduler := billing.NewRetryScheduler(store, stripeSvc, cfg)
	go scheduler.Run(ctx)

	deps := sections.NewDependencies(cfg, plans, database, redisClient)

	// Initialize Gin router
	r := gin.Default()

	env := getEnv("APP_ENV", "production")
	trustedProxies := getEnv("TRUSTED_PROXIES", "")
	corsOrigins := getEnv("CORS_ORIGINS", "")

	if env != "development" && trustedProxies == "" {
		slog.Error("In production mode, TRUSTED_PROXIES must be set")
		os.Exit(1)
	} else if trustedProxies != "" {
		slog.Info("Setting trusted proxies", "proxies", trustedProxies)
		proxies := strings.Split(trustedProxies, ",")
		if err := r.SetTrustedProxies(proxies); err != nil {
			slog.Error("Failed to set trusted proxies", "error", err)
			os.Exit(1)
		}
	} else {
		slog.Warn("No trusted proxies set (TRUSTED_PROXIES not defined)")
	}

	// Configure CORS
	corsConfig := cors.DefaultConfig()

	if env != "development" && corsOrigins == "" {
		slog.Error("In production mode, CORS_ORIGINS must be set")
		os.Exit(1)
	} else if corsOrigins != "" {
		slog.Info("CORS origins set from CORS_ORIGINS")
		corsConfig.AllowOrigins = strings.Split(corsOrigins, ",")
	} else {
		slog.Warn("Using default origin function in non-production mode (CORS_ORIGINS not defined)")
		corsConfig.AllowOriginFunc = func(origin string) bool {
			if origin == "http://localhost" || strings.HasPrefix(origin, "http://localhost:") {
				return true
			}
			return false
		}
	}

	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization"}
	r.Use(cors.New(corsConfig))

	// Register billing routes. The webhook callback group receives the raw
	// request body; no JSON parsing middleware runs ahead of it.
	frontendRoutes := r.Group("/")
	callbackRoutes := r.Group("/callbacks")
	sectionsbilling.RegisterRoutes(frontendRoutes, callbackRoutes, deps, jwtManager, stripeSvc, engine, store)

	slog.Info("Server starting", "addr", cfg.ListenAddr)
	if err := r.Run(cfg.ListenAddr); err != nil {
		slog.Error("Failed to start server", "error", err)
		os.Exit(1)
	}
}
