// Package config loads runtime configuration for the DailyFuel backend.
//
// Configuration comes from environment variables. A local .env file is
// loaded automatically when present, which is how the CLI commands pick up
// store credentials and Stripe secrets during development and deploys.
package config

import (
	"fmt"
	"strings"

	// Loads .env from the working directory before viper reads the environment.
	_ "github.com/joho/godotenv/autoload"
	"github.com/spf13/viper"
)

// Plan describes a purchasable subscription plan. The webhook handler uses
// the catalog to validate that a completed checkout refers to a price we
// actually sell.
type Plan struct {
	Name    string
	PriceID string
}

// Stripe holds payment provider credentials and the plan catalog.
type Stripe struct {
	SecretKey     string
	WebhookSecret string
	Plans         []Plan
}

// Supabase holds the hosted auth/database provider credentials. The service
// role key is required for admin operations such as provisioning accounts.
type Supabase struct {
	URL            string
	ServiceRoleKey string
}

// Config is the fully resolved application configuration.
type Config struct {
	DatabaseURL   string
	ListenAddr    string
	MigrationsDir string
	Stripe        Stripe
	Supabase      Supabase
}

const (
	defaultListenAddr    = ":8080"
	defaultMigrationsDir = "migrations"
)

// Load reads configuration from the environment and validates the values
// every command depends on. Component-specific values (Stripe keys, Supabase
// credentials) are validated by the commands that need them, so the
// migration CLI works with nothing but DATABASE_URL set.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("LISTEN_ADDR", defaultListenAddr)
	v.SetDefault("MIGRATIONS_DIR", defaultMigrationsDir)

	cfg := &Config{
		DatabaseURL:   v.GetString("DATABASE_URL"),
		ListenAddr:    v.GetString("LISTEN_ADDR"),
		MigrationsDir: v.GetString("MIGRATIONS_DIR"),
		Stripe: Stripe{
			SecretKey:     v.GetString("STRIPE_SECRET_KEY"),
			WebhookSecret: v.GetString("STRIPE_WEBHOOK_SECRET"),
			Plans:         parsePlans(v.GetString("STRIPE_PRICE_IDS")),
		},
		Supabase: Supabase{
			URL:            v.GetString("SUPABASE_URL"),
			ServiceRoleKey: v.GetString("SUPABASE_SERVICE_ROLE_KEY"),
		},
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is not set")
	}

	return cfg, nil
}

// parsePlans parses the STRIPE_PRICE_IDS value, a comma-separated list of
// "name=price_id" pairs. A bare price id is accepted and doubles as the plan
// name:
//
//	STRIPE_PRICE_IDS="Monthly=price_123,Yearly=price_456"
func parsePlans(raw string) []Plan {
	var plans []Plan
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, priceID, found := strings.Cut(entry, "=")
		if !found {
			plans = append(plans, Plan{Name: entry, PriceID: entry})
			continue
		}
		plans = append(plans, Plan{Name: strings.TrimSpace(name), PriceID: strings.TrimSpace(priceID)})
	}
	return plans
}

// FindPlan returns the configured plan matching the given price id.
func (c *Config) FindPlan(priceID string) (Plan, bool) {
	for _, p := range c.Stripe.Plans {
		if p.PriceID == priceID {
			return p, true
		}
	}
	return Plan{}, false
}
