package loans

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"agrifin-backend/internal/domain"
)

// Policy is the lending configuration applied to new loans.
type Policy struct {
	Milestones      []domain.MilestoneSpec
	InterestRateBps int64
	MaxTermMonths   int
	// GracePeriod is added to a loan's due date before it may be marked defaulted.
	GracePeriod time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		Milestones: []domain.MilestoneSpec{
			{Name: "land_preparation", Percentage: 30},
			{Name: "planting", Percentage: 40},
			{Name: "harvest", Percentage: 30},
		},
		InterestRateBps: 1000,
		MaxTermMonths:   36,
	}
}

func (p Policy) Validate() error {
	if err := domain.ValidateSchedule(p.Milestones); err != nil {
		return err
	}
	if p.InterestRateBps < 0 {
		return fmt.Errorf("interest rate %d bps is negative", p.InterestRateBps)
	}
	if p.MaxTermMonths <= 0 {
		return fmt.Errorf("max term must be positive")
	}
	if p.GracePeriod < 0 {
		return fmt.Errorf("grace period is negative")
	}
	return nil
}

// ParseMilestones reads a "name:pct,name:pct" schedule.
func ParseMilestones(s string) ([]domain.MilestoneSpec, error) {
	var specs []domain.MilestoneSpec
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, pct, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("milestone %q: want name:percentage", part)
		}
		n, err := strconv.Atoi(strings.TrimSpace(pct))
		if err != nil {
			return nil, fmt.Errorf("milestone %q: %w", part, err)
		}
		specs = append(specs, domain.MilestoneSpec{Name: strings.TrimSpace(name), Percentage: n})
	}
	if err := domain.ValidateSchedule(specs); err != nil {
		return nil, err
	}
	return specs, nil
}
