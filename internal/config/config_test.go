package config

import (
	"testing"
	"time"

	"agrifin-backend/internal/domain"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromViper_Defaults(t *testing.T) {
	cfg, err := FromViper(viper.New())
	require.NoError(t, err)
	assert.Equal(t, "development", cfg.Env)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 15*time.Minute, cfg.SweepInterval)
	assert.Len(t, cfg.LoanPolicy.Milestones, 3)
	assert.Equal(t, 35, cfg.ScoringPolicy.Weights.CropHealth)
	assert.False(t, cfg.IsProduction())
}

func TestFromViper_Policies(t *testing.T) {
	v := viper.New()
	v.Set("APP_ENV", "Production")
	v.Set("LOAN_MILESTONES", "inputs:50, harvest:50")
	v.Set("LOAN_GRACE_PERIOD", "72h")
	v.Set("LOAN_INTEREST_RATE_BPS", 1200)
	v.Set("SCORING_WEIGHT_CROP_HEALTH", 40)
	v.Set("SCORING_WEIGHT_CROP_RISK", 20)
	v.Set("SCORING_TIERS", "basic:30:10000,elite:90:900000")

	cfg, err := FromViper(v)
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, []domain.MilestoneSpec{{Name: "inputs", Percentage: 50}, {Name: "harvest", Percentage: 50}}, cfg.LoanPolicy.Milestones)
	assert.Equal(t, 72*time.Hour, cfg.LoanPolicy.GracePeriod)
	assert.Equal(t, int64(1200), cfg.LoanPolicy.InterestRateBps)
	require.Len(t, cfg.ScoringPolicy.Tiers, 2)
	assert.Equal(t, domain.TierElite, cfg.ScoringPolicy.Tiers[0].Tier)
}

func TestFromViper_RejectsBadPolicy(t *testing.T) {
	v := viper.New()
	v.Set("LOAN_MILESTONES", "a:50,b:40")
	_, err := FromViper(v)
	assert.ErrorContains(t, err, "LOAN_MILESTONES")

	v = viper.New()
	v.Set("SCORING_WEIGHT_REPAYMENT", 50)
	_, err = FromViper(v)
	assert.ErrorContains(t, err, "scoring policy")
}
