package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/pagelift/billing/internal/config"
	"github.com/pagelift/billing/internal/handler"
	appMiddleware "github.com/pagelift/billing/internal/middleware"
	"github.com/pagelift/billing/internal/repository"
	"github.com/pagelift/billing/internal/service"
	"github.com/pagelift/billing/internal/ws"
	"github.com/pagelift/billing/pkg/billing"
)

func main() {
	// Load .env file if present (for local development)
	_ = godotenv.Load()

	// Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Config error: %v", err)
	}

	ctx := context.Background()

	// Initialize database
	db, err := repository.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("❌ Database error: %v", err)
	}
	defer db.Close()

	// Run migrations
	if err := repository.RunMigrations(ctx, db); err != nil {
		log.Fatalf("❌ Migration error: %v", err)
	}
	log.Println("✅ Database connected & migrated")

	// Repositories
	tenantRepo := repository.NewTenantRepository(db)
	subRepo := repository.NewSubscriptionRepository(db)
	eventRepo := repository.NewWebhookEventRepository(db)

	// Billing provider & reconciliation
	provider := billing.NewStripeProvider(cfg.StripeSecretKey, cfg.StripeWebhookSecret)
	provisioner := service.NewAccountProvisioner(cfg.ProvisionURL, cfg.ProvisionToken)
	statusHub := ws.NewStatusHub(cfg.JWTSecret)
	reconcileSvc := service.NewReconcileService(tenantRepo, subRepo, eventRepo, provider, provisioner, statusHub)
	subSvc := service.NewSubscriptionService(subRepo, tenantRepo, provider, cfg.SiteURL)

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(db)
	plansHandler := handler.NewPlansHandler()
	webhookHandler := handler.NewWebhookHandler(provider, reconcileSvc)
	subHandler := handler.NewSubscriptionHandler(subSvc)

	// Build router
	r := chi.NewRouter()

	// Global middleware
	r.Use(appMiddleware.Recovery)
	r.Use(appMiddleware.Logger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Stripe-Signature"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Global rate limiter (20 req/sec per IP, burst of 40)
	globalRL := appMiddleware.NewRateLimiter(20, 40)
	r.Use(globalRL.Middleware())

	// Health check and public routes (no auth)
	r.Get("/health", healthHandler.Check)
	r.Get("/api/plans", plansHandler.List)
	r.Post("/api/billing/webhook", webhookHandler.HandleStripe) // Verified by signature, not JWT

	// Protected API routes
	r.Group(func(r chi.Router) {
		r.Use(appMiddleware.Auth(cfg.JWTSecret))

		r.Get("/api/billing/subscription", subHandler.Check)
		r.Post("/api/billing/checkout", subHandler.CreateCheckout)
		r.Post("/api/billing/portal", subHandler.CreatePortal)
	})

	// WebSocket status push (auth via query param)
	r.HandleFunc("/api/billing/status/ws", statusHub.Handle)

	// Start server
	addr := fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	server := &http.Server{
		Addr:        addr,
		Handler:     r,
		ReadTimeout: 30 * time.Second,
		// WriteTimeout must be 0 for WebSocket connections (they are long-lived)
		IdleTimeout: 120 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		log.Println("🛑 Shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	}()

	log.Printf("🚀 Pagelift Billing (Go) listening at http://%s", addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("❌ Server error: %v", err)
	}
}
