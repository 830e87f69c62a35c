package scoring

import (
	"context"
	"errors"
	"time"

	"agrifin-backend/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RepaymentHistory summarises a borrower's closed loans.
type RepaymentHistory struct {
	Completed int
	Defaulted int
}

// Score turns a crop assessment and repayment history into an eligibility decision.
// It is a pure function of its arguments.
func Score(p Policy, borrowerID uuid.UUID, a *domain.CropAssessment, h RepaymentHistory) (*domain.CreditAssessment, error) {
	if a == nil {
		return nil, domain.Fail(domain.ErrNoAssessmentAvailable, "borrower", borrowerID.String(), "no crop assessment on file")
	}
	repayment := p.NeutralRepaymentScore
	if closed := h.Completed + h.Defaulted; closed > 0 {
		repayment = h.Completed * 100 / closed
	}

	inputs := []struct {
		name   string
		score  int
		weight int
	}{
		{ComponentCropHealth, clamp(a.HealthScore), p.Weights.CropHealth},
		{ComponentCropRisk, 100 - clamp(a.RiskScore), p.Weights.CropRisk},
		{ComponentYield, clamp(a.YieldScore), p.Weights.Yield},
		{ComponentRepayment, repayment, p.Weights.Repayment},
	}

	components := make(map[string]domain.ScoreComponent, len(inputs))
	weighted := 0
	for _, in := range inputs {
		weighted += in.score * in.weight
		components[in.name] = domain.ScoreComponent{
			Score:        in.score,
			Weight:       in.weight,
			Contribution: float64(in.score*in.weight) / 100,
		}
	}
	total := (weighted + 50) / 100
	tier, maxAmount := p.tierFor(total)

	id := a.AssessmentID
	return &domain.CreditAssessment{
		BorrowerID:   borrowerID,
		AssessmentID: &id,
		TotalScore:   total,
		Components:   components,
		Tier:         tier,
		MaxAmount:    maxAmount,
	}, nil
}

func clamp(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// Service loads scoring inputs from storage.
type Service struct {
	DB     *gorm.DB
	Policy Policy
}

// Assess scores the borrower against a specific assessment, or the latest one when assessmentID is nil.
func (s *Service) Assess(ctx context.Context, borrowerID uuid.UUID, assessmentID *uuid.UUID) (*domain.CreditAssessment, error) {
	db := s.DB.WithContext(ctx)
	assessment, err := s.findAssessment(db, borrowerID, assessmentID)
	if err != nil {
		return nil, err
	}
	history, err := repaymentHistory(db, borrowerID)
	if err != nil {
		return nil, err
	}
	return Score(s.Policy, borrowerID, assessment, history)
}

// ScoreUser scores a borrower against their latest crop assessment.
func (s *Service) ScoreUser(ctx context.Context, userID uuid.UUID) (*domain.CreditAssessment, error) {
	return s.Assess(ctx, userID, nil)
}

func (s *Service) findAssessment(db *gorm.DB, borrowerID uuid.UUID, assessmentID *uuid.UUID) (*domain.CropAssessment, error) {
	var a domain.CropAssessment
	q := db.Where("borrower_id = ?", borrowerID)
	if assessmentID != nil {
		q = q.Where("assessment_id = ?", *assessmentID)
	}
	err := q.Order("assessed_at DESC").Take(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if assessmentID != nil {
			return nil, domain.Fail(domain.ErrNoAssessmentAvailable, "assessment", assessmentID.String(), "not on file for this borrower")
		}
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func repaymentHistory(db *gorm.DB, borrowerID uuid.UUID) (RepaymentHistory, error) {
	var rows []struct {
		Status domain.LoanStatus
		N      int
	}
	err := db.Model(&domain.Loan{}).
		Select("status, COUNT(*) AS n").
		Where("borrower_id = ? AND status IN ?", borrowerID, []domain.LoanStatus{domain.LoanCompleted, domain.LoanDefaulted}).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return RepaymentHistory{}, err
	}
	var h RepaymentHistory
	for _, r := range rows {
		switch r.Status {
		case domain.LoanCompleted:
			h.Completed = r.N
		case domain.LoanDefaulted:
			h.Defaulted = r.N
		}
	}
	return h, nil
}

// RecordAssessmentInput is the payload of the external crop assessment model.
type RecordAssessmentInput struct {
	BorrowerID  uuid.UUID
	FarmID      string
	HealthScore int
	RiskScore   int
	YieldScore  int
	Source      string
	AssessedAt  time.Time
}

// RecordAssessment stores an assessment produced outside this service.
func (s *Service) RecordAssessment(ctx context.Context, in RecordAssessmentInput) (*domain.CropAssessment, error) {
	if in.BorrowerID == uuid.Nil {
		return nil, domain.Invalid("assessment", "", "borrower_id is required")
	}
	for name, v := range map[string]int{"health_score": in.HealthScore, "risk_score": in.RiskScore, "yield_score": in.YieldScore} {
		if v < 0 || v > 100 {
			return nil, domain.Invalid("assessment", in.BorrowerID.String(), "%s must be within 0-100", name)
		}
	}
	if in.AssessedAt.IsZero() {
		in.AssessedAt = time.Now()
	}
	in.AssessedAt = in.AssessedAt.UTC()
	a := &domain.CropAssessment{
		BorrowerID:  in.BorrowerID,
		FarmID:      in.FarmID,
		HealthScore: in.HealthScore,
		RiskScore:   in.RiskScore,
		YieldScore:  in.YieldScore,
		Source:      in.Source,
		AssessedAt:  in.AssessedAt,
	}
	if err := s.DB.WithContext(ctx).Create(a).Error; err != nil {
		return nil, err
	}
	return a, nil
}
