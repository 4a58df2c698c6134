package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Port                int
	DatabaseURL         string
	JWTSecret           string
	StripeSecretKey     string
	StripeWebhookSecret string
	ProvisionURL        string
	ProvisionToken      string
	SiteURL             string
	CORSOrigins         []string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	port, _ := strconv.Atoi(getEnv("PORT", "4010"))

	dbURL := getEnv("DATABASE_URL", "")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	stripeKey := getEnv("STRIPE_SECRET_KEY", "")
	if stripeKey == "" {
		return nil, fmt.Errorf("STRIPE_SECRET_KEY is required")
	}

	webhookSecret := getEnv("STRIPE_WEBHOOK_SECRET", "")
	if webhookSecret == "" {
		return nil, fmt.Errorf("STRIPE_WEBHOOK_SECRET is required")
	}

	provisionURL := getEnv("PROVISION_URL", "")
	if provisionURL == "" {
		return nil, fmt.Errorf("PROVISION_URL is required (account-creation endpoint of the main app)")
	}

	origins := strings.Split(getEnv("CORS_ORIGINS", "http://localhost:3000,https://pagelift.io"), ",")
	for i := range origins {
		origins[i] = strings.TrimSpace(origins[i])
	}

	return &Config{
		Port:                port,
		DatabaseURL:         dbURL,
		JWTSecret:           jwtSecret,
		StripeSecretKey:     stripeKey,
		StripeWebhookSecret: webhookSecret,
		ProvisionURL:        provisionURL,
		ProvisionToken:      getEnv("PROVISION_TOKEN", ""),
		SiteURL:             getEnv("SITE_URL", "https://pagelift.io"),
		CORSOrigins:         origins,
	}, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
