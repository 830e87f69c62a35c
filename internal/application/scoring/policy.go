package scoring

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"agrifin-backend/internal/domain"
)

// Component names reported on a CreditAssessment.
const (
	ComponentCropHealth = "crop_health"
	ComponentCropRisk   = "crop_risk"
	ComponentYield      = "yield_outlook"
	ComponentRepayment  = "repayment_history"
)

// Weights are percentages and must sum to 100.
type Weights struct {
	CropHealth int
	CropRisk   int
	Yield      int
	Repayment  int
}

func (w Weights) sum() int {
	return w.CropHealth + w.CropRisk + w.Yield + w.Repayment
}

// TierRule grants Tier (and up to MaxAmount) to scores at or above MinScore.
type TierRule struct {
	Tier      domain.Tier
	MinScore  int
	MaxAmount int64
}

// Policy holds the scoring weights and the tier table.
type Policy struct {
	Weights Weights
	Tiers   []TierRule
	// NeutralRepaymentScore is used for borrowers without a closed loan.
	NeutralRepaymentScore int
}

// DefaultPolicy is used when no scoring configuration is supplied.
func DefaultPolicy() Policy {
	return Policy{
		Weights: Weights{CropHealth: 35, CropRisk: 25, Yield: 20, Repayment: 20},
		Tiers: []TierRule{
			{Tier: domain.TierElite, MinScore: 85, MaxAmount: 1_000_000},
			{Tier: domain.TierPremium, MinScore: 70, MaxAmount: 500_000},
			{Tier: domain.TierStandard, MinScore: 55, MaxAmount: 200_000},
			{Tier: domain.TierBasic, MinScore: 40, MaxAmount: 50_000},
		},
		NeutralRepaymentScore: 50,
	}
}

// Validate checks weights and tiers; it also sorts tiers from the highest threshold down.
func (p *Policy) Validate() error {
	if p.Weights.sum() != 100 {
		return fmt.Errorf("scoring weights sum to %d, want 100", p.Weights.sum())
	}
	if len(p.Tiers) == 0 {
		return fmt.Errorf("scoring policy has no tiers")
	}
	for _, t := range p.Tiers {
		switch t.Tier {
		case domain.TierElite, domain.TierPremium, domain.TierStandard, domain.TierBasic:
		default:
			return fmt.Errorf("scoring tier %q is not assignable", t.Tier)
		}
		if t.MinScore < 0 || t.MinScore > 100 {
			return fmt.Errorf("tier %s threshold %d outside 0-100", t.Tier, t.MinScore)
		}
		if t.MaxAmount <= 0 {
			return fmt.Errorf("tier %s max amount must be positive", t.Tier)
		}
	}
	sort.SliceStable(p.Tiers, func(i, j int) bool { return p.Tiers[i].MinScore > p.Tiers[j].MinScore })
	if p.NeutralRepaymentScore < 0 || p.NeutralRepaymentScore > 100 {
		return fmt.Errorf("neutral repayment score %d outside 0-100", p.NeutralRepaymentScore)
	}
	return nil
}

// ParseTiers reads "tier:min_score:max_amount" triples separated by commas.
func ParseTiers(s string) ([]TierRule, error) {
	var rules []TierRule
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.Split(part, ":")
		if len(fields) != 3 {
			return nil, fmt.Errorf("tier %q: want tier:min_score:max_amount", part)
		}
		minScore, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, fmt.Errorf("tier %q: %w", part, err)
		}
		maxAmount, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("tier %q: %w", part, err)
		}
		rules = append(rules, TierRule{Tier: domain.Tier(fields[0]), MinScore: minScore, MaxAmount: maxAmount})
	}
	return rules, nil
}

func (p Policy) tierFor(score int) (domain.Tier, int64) {
	for _, t := range p.Tiers {
		if score >= t.MinScore {
			return t.Tier, t.MaxAmount
		}
	}
	return domain.TierIneligible, 0
}
