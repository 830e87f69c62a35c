package config

import (
	"fmt"
	"strings"
	"time"

	"agrifin-backend/internal/application/loans"
	"agrifin-backend/internal/application/scoring"

	"github.com/spf13/viper"
)

// Config holds application configuration (env + Viper).
type Config struct {
	Env                 string
	Port                string
	DatabaseURL         string
	RedisURL            string
	StripeSecretKey     string
	StripeWebhookSecret string
	FrontendURLEndsWith string
	DevPassword         string
	HealthAdminKey      string
	Currency            string
	SweepInterval       time.Duration
	SweepBatchSize      int
	LoanPolicy          loans.Policy
	ScoringPolicy       scoring.Policy
}

func (c *Config) IsProduction() bool { return c.Env == "production" }

// Load loads config from env and optional .env file.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig()

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("PORT", "8080")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("DATABASE_URL", "sqlite:agrifin.db")
	v.SetDefault("REDIS_URL", "redis://localhost:6379/0")
	v.SetDefault("CURRENCY", "kes")
	v.SetDefault("SWEEP_INTERVAL", "15m")
	v.SetDefault("SWEEP_BATCH_SIZE", 100)

	return FromViper(v)
}

// FromViper builds a Config from an already populated viper instance.
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Env:                 strings.ToLower(v.GetString("APP_ENV")),
		Port:                v.GetString("PORT"),
		DatabaseURL:         v.GetString("DATABASE_URL"),
		RedisURL:            v.GetString("REDIS_URL"),
		StripeSecretKey:     v.GetString("STRIPE_SECRET_KEY"),
		StripeWebhookSecret: v.GetString("STRIPE_WEBHOOK_SECRET"),
		FrontendURLEndsWith: v.GetString("FRONTEND_URL_ENDS_WITH"),
		DevPassword:         v.GetString("DEV_PASSWORD"),
		HealthAdminKey:      v.GetString("HEALTH_ADMIN_KEY"),
		Currency:            strings.ToLower(v.GetString("CURRENCY")),
		SweepInterval:       v.GetDuration("SWEEP_INTERVAL"),
		SweepBatchSize:      v.GetInt("SWEEP_BATCH_SIZE"),
	}
	if cfg.Env == "" {
		cfg.Env = "development"
	}
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 15 * time.Minute
	}

	lp, err := loanPolicy(v)
	if err != nil {
		return nil, err
	}
	cfg.LoanPolicy = lp

	sp, err := scoringPolicy(v)
	if err != nil {
		return nil, err
	}
	cfg.ScoringPolicy = sp
	return cfg, nil
}

func loanPolicy(v *viper.Viper) (loans.Policy, error) {
	p := loans.DefaultPolicy()
	if s := v.GetString("LOAN_MILESTONES"); s != "" {
		specs, err := loans.ParseMilestones(s)
		if err != nil {
			return p, fmt.Errorf("LOAN_MILESTONES: %w", err)
		}
		p.Milestones = specs
	}
	if v.IsSet("LOAN_INTEREST_RATE_BPS") {
		p.InterestRateBps = v.GetInt64("LOAN_INTEREST_RATE_BPS")
	}
	if v.IsSet("LOAN_MAX_TERM_MONTHS") {
		p.MaxTermMonths = v.GetInt("LOAN_MAX_TERM_MONTHS")
	}
	if v.IsSet("LOAN_GRACE_PERIOD") {
		p.GracePeriod = v.GetDuration("LOAN_GRACE_PERIOD")
	}
	if err := p.Validate(); err != nil {
		return p, fmt.Errorf("loan policy: %w", err)
	}
	return p, nil
}

func scoringPolicy(v *viper.Viper) (scoring.Policy, error) {
	p := scoring.DefaultPolicy()
	weights := map[string]*int{
		"SCORING_WEIGHT_CROP_HEALTH": &p.Weights.CropHealth,
		"SCORING_WEIGHT_CROP_RISK":   &p.Weights.CropRisk,
		"SCORING_WEIGHT_YIELD":       &p.Weights.Yield,
		"SCORING_WEIGHT_REPAYMENT":   &p.Weights.Repayment,
	}
	for key, w := range weights {
		if v.IsSet(key) {
			*w = v.GetInt(key)
		}
	}
	if s := v.GetString("SCORING_TIERS"); s != "" {
		tiers, err := scoring.ParseTiers(s)
		if err != nil {
			return p, fmt.Errorf("SCORING_TIERS: %w", err)
		}
		p.Tiers = tiers
	}
	if v.IsSet("SCORING_NEUTRAL_REPAYMENT") {
		p.NeutralRepaymentScore = v.GetInt("SCORING_NEUTRAL_REPAYMENT")
	}
	if err := p.Validate(); err != nil {
		return p, fmt.Errorf("scoring policy: %w", err)
	}
	return p, nil
}
