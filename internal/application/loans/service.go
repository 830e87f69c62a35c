package loans

import (
	"context"
	"errors"
	"fmt"
	"time"

	"agrifin-backend/internal/application/events"
	"agrifin-backend/internal/application/ledger"
	"agrifin-backend/internal/domain"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Scorer produces the credit assessment a loan application is judged against.
type Scorer interface {
	Assess(ctx context.Context, borrowerID uuid.UUID, assessmentID *uuid.UUID) (*domain.CreditAssessment, error)
}

type Service struct {
	DB     *gorm.DB
	Ledger *ledger.Service
	Scorer Scorer
	Policy Policy
	Now    func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC().Truncate(time.Microsecond)
	}
	return time.Now().UTC().Truncate(time.Microsecond)
}

type ApplyInput struct {
	Borrower        domain.Actor
	AmountRequested int64
	TermMonths      int
	// AssessmentID pins a specific crop assessment; nil uses the latest on file.
	AssessmentID *uuid.UUID
}

// Apply scores the borrower and opens a pending loan with the policy's milestone schedule.
func (s *Service) Apply(ctx context.Context, in ApplyInput) (*domain.Loan, error) {
	if err := in.Borrower.Require(domain.PermApplyLoan); err != nil {
		return nil, err
	}
	borrowerID := in.Borrower.UserID
	if in.AmountRequested < domain.MinLoanAmount {
		return nil, domain.Invalid("loan", "", "amount_requested must be at least %d", domain.MinLoanAmount)
	}
	if in.TermMonths <= 0 || in.TermMonths > s.Policy.MaxTermMonths {
		return nil, domain.Invalid("loan", "", "term_months must be within 1-%d", s.Policy.MaxTermMonths)
	}

	assessment, err := s.Scorer.Assess(ctx, borrowerID, in.AssessmentID)
	if err != nil {
		return nil, err
	}
	if assessment.Tier == domain.TierIneligible {
		return nil, domain.Fail(domain.ErrIneligibleBorrower, "borrower", borrowerID.String(),
			"credit score %d is below every tier", assessment.TotalScore)
	}
	if in.AmountRequested > assessment.MaxAmount {
		return nil, domain.Fail(domain.ErrIneligibleBorrower, "borrower", borrowerID.String(),
			"requested %d exceeds %s tier maximum %d", in.AmountRequested, assessment.Tier, assessment.MaxAmount)
	}

	loan := &domain.Loan{
		BorrowerID:               borrowerID,
		AmountRequested:          in.AmountRequested,
		InterestRateBps:          s.Policy.InterestRateBps,
		TermMonths:               in.TermMonths,
		CreditScoreAtApplication: assessment.TotalScore,
		TierAtApplication:        assessment.Tier,
		MaxAmountAtApplication:   assessment.MaxAmount,
		AssessmentID:             assessment.AssessmentID,
		Status:                   domain.LoanPending,
	}
	for i, m := range s.Policy.Milestones {
		loan.Milestones = append(loan.Milestones, domain.LoanMilestone{
			Position:   i,
			Name:       m.Name,
			Percentage: m.Percentage,
		})
	}

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := ledger.Wallet(tx, in.Borrower); err != nil {
			return err
		}
		if err := tx.Create(loan).Error; err != nil {
			return err
		}
		return events.Record(tx, domain.EntityLoan, loan.LoanID, "applied", &in.Borrower, map[string]interface{}{
			"amount_requested": loan.AmountRequested,
			"term_months":      loan.TermMonths,
			"credit_score":     loan.CreditScoreAtApplication,
			"tier":             loan.TierAtApplication,
			"max_amount":       loan.MaxAmountAtApplication,
		})
	})
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("loan_id", loan.LoanID.String()).
		Str("borrower_id", borrowerID.String()).
		Int64("amount_requested", loan.AmountRequested).
		Str("tier", string(loan.TierAtApplication)).
		Msg("loan applied")
	return loan, nil
}

type ApproveInput struct {
	LoanID uuid.UUID
	Actor  domain.Actor
	Notes  string
	// AmountOverride approves less (or more, up to the tier maximum) than requested.
	AmountOverride *int64
}

func (s *Service) Approve(ctx context.Context, in ApproveInput) (*domain.Loan, error) {
	if err := in.Actor.Require(domain.PermDecideLoan); err != nil {
		return nil, err
	}
	loan, err := s.mutate(ctx, in.LoanID, func(tx *gorm.DB, loan *domain.Loan) error {
		if loan.Status != domain.LoanPending {
			return transitionError(loan, "approve")
		}
		amount := loan.AmountRequested
		if in.AmountOverride != nil {
			amount = *in.AmountOverride
			if amount < domain.MinLoanAmount || amount > loan.MaxAmountAtApplication {
				return domain.Invalid("loan", loan.LoanID.String(),
					"approved amount must be within %d-%d", domain.MinLoanAmount, loan.MaxAmountAtApplication)
			}
		}
		loan.AmountApproved = amount
		loan.ApproverNotes = in.Notes
		loan.Status = domain.LoanApproved
		return events.Record(tx, domain.EntityLoan, loan.LoanID, "approved", &in.Actor, map[string]interface{}{
			"amount_approved": amount,
			"notes":           in.Notes,
		})
	})
	if err != nil {
		return nil, err
	}
	log.Info().Str("loan_id", loan.LoanID.String()).Int64("amount_approved", loan.AmountApproved).Msg("loan approved")
	return loan, nil
}

// Reject closes a pending loan. Rejecting an already rejected loan returns it unchanged.
func (s *Service) Reject(ctx context.Context, loanID uuid.UUID, actor domain.Actor, reason string) (*domain.Loan, error) {
	if err := actor.Require(domain.PermDecideLoan); err != nil {
		return nil, err
	}
	loan, err := s.mutate(ctx, loanID, func(tx *gorm.DB, loan *domain.Loan) error {
		if loan.Status == domain.LoanRejected {
			return errUnchanged
		}
		if loan.Status != domain.LoanPending {
			return transitionError(loan, "reject")
		}
		loan.Status = domain.LoanRejected
		loan.RejectionReason = reason
		return events.Record(tx, domain.EntityLoan, loan.LoanID, "rejected", &actor, map[string]interface{}{
			"reason": reason,
		})
	})
	if err != nil {
		return nil, err
	}
	log.Info().Str("loan_id", loan.LoanID.String()).Str("reason", reason).Msg("loan rejected")
	return loan, nil
}

// ReleaseResult describes one disbursed tranche.
type ReleaseResult struct {
	Loan      *domain.Loan
	Milestone domain.LoanMilestone
	Tranche   int64
	Entry     *domain.LedgerEntry
}

// ReleaseMilestone disburses the next milestone from the loan pool to the borrower's wallet.
// Tranches are computed on cumulative percentages so AmountDisbursed never drifts from
// AmountApproved * released% / 100.
func (s *Service) ReleaseMilestone(ctx context.Context, loanID uuid.UUID, actor domain.Actor) (*ReleaseResult, error) {
	if err := actor.Require(domain.PermDisburseLoan); err != nil {
		return nil, err
	}
	res := &ReleaseResult{}
	loan, err := s.mutate(ctx, loanID, func(tx *gorm.DB, loan *domain.Loan) error {
		if loan.Status != domain.LoanApproved && loan.Status != domain.LoanActive {
			return transitionError(loan, "release a milestone of")
		}
		idx := loan.CurrentMilestoneIndex
		if idx >= len(loan.Milestones) {
			return domain.Fail(domain.ErrNoMilestonesRemaining, "loan", loan.LoanID.String(),
				"all %d milestones released", len(loan.Milestones))
		}
		m := &loan.Milestones[idx]
		if m.Released {
			return domain.Fail(domain.ErrConcurrentModification, "loan", loan.LoanID.String(),
				"milestone %d already released", idx)
		}

		before := loan.ReleasedPercentage()
		tranche := loan.DisbursedAt(before+m.Percentage) - loan.DisbursedAt(before)

		pool, err := ledger.Platform(tx, domain.LoanPoolCode)
		if err != nil {
			return err
		}
		wallet, err := ledger.ExistingWallet(tx, loan.BorrowerID)
		if err != nil {
			return err
		}
		entry, _, err := s.Ledger.TransferTx(tx, ledger.TransferInput{
			From:        pool.AccountID,
			To:          wallet.AccountID,
			Amount:      tranche,
			Reason:      domain.ReasonLoanDisbursement,
			ReferenceID: fmt.Sprintf("%s:%d", loan.LoanID, idx),
		})
		if err != nil {
			return err
		}

		now := s.now()
		m.Released = true
		m.ReleasedAt = &now
		m.LedgerEntryID = &entry.SequenceNo
		if err := tx.Model(&domain.LoanMilestone{}).
			Where("milestone_id = ?", m.MilestoneID).
			Updates(map[string]interface{}{
				"released":        true,
				"released_at":     now,
				"ledger_entry_id": entry.SequenceNo,
			}).Error; err != nil {
			return err
		}

		loan.AmountDisbursed += tranche
		loan.CurrentMilestoneIndex++
		if loan.Status == domain.LoanApproved {
			due := now.AddDate(0, loan.TermMonths, 0)
			loan.Status = domain.LoanActive
			loan.FirstDisbursedAt = &now
			loan.DueAt = &due
		}

		res.Milestone = *m
		res.Tranche = tranche
		res.Entry = entry
		return events.Record(tx, domain.EntityLoan, loan.LoanID, "milestone_released", &actor, map[string]interface{}{
			"milestone":        m.Name,
			"position":         idx,
			"tranche_amount":   tranche,
			"amount_disbursed": loan.AmountDisbursed,
			"ledger_entry":     entry.SequenceNo,
		})
	})
	if err != nil {
		return nil, err
	}
	res.Loan = loan
	log.Info().
		Str("loan_id", loan.LoanID.String()).
		Str("milestone", res.Milestone.Name).
		Int64("tranche", res.Tranche).
		Int64("amount_disbursed", loan.AmountDisbursed).
		Msg("loan milestone released")
	return res, nil
}

type RepayInput struct {
	LoanID uuid.UUID
	Actor  domain.Actor
	Amount int64
	// IdempotencyKey makes a client retry safe; empty uses the next repayment number.
	IdempotencyKey string
}

// RepayResult is the loan after a repayment. Replayed is set when the key had
// already been applied and nothing moved.
type RepayResult struct {
	Loan     *domain.Loan
	Entry    *domain.LedgerEntry
	Replayed bool
}

// Repay moves funds from the borrower's wallet to the loan pool and completes the loan
// once the amount due has been repaid.
func (s *Service) Repay(ctx context.Context, in RepayInput) (*RepayResult, error) {
	if err := in.Actor.Require(domain.PermRepayLoan); err != nil {
		return nil, err
	}
	if in.Amount <= 0 {
		return nil, domain.Invalid("loan", in.LoanID.String(), "repayment amount must be positive")
	}
	res := &RepayResult{}
	loan, err := s.mutate(ctx, in.LoanID, func(tx *gorm.DB, loan *domain.Loan) error {
		if loan.BorrowerID != in.Actor.UserID && !in.Actor.IsAdmin() {
			return domain.Fail(domain.ErrForbidden, "loan", loan.LoanID.String(), "only the borrower may repay")
		}
		if in.IdempotencyKey != "" {
			prior, err := ledger.FindByReference(tx, domain.ReasonLoanRepayment, repayReference(loan.LoanID, in.IdempotencyKey))
			if err != nil {
				return err
			}
			if prior != nil {
				if prior.Amount != in.Amount {
					return domain.Invalid("loan", loan.LoanID.String(), "idempotency key reused with a different amount")
				}
				res.Entry = prior
				res.Replayed = true
				return errUnchanged
			}
		}
		if loan.Status != domain.LoanActive {
			return transitionError(loan, "repay")
		}
		outstanding := loan.AmountDue() - loan.AmountRepaid
		if in.Amount > outstanding {
			return domain.Invalid("loan", loan.LoanID.String(), "repayment %d exceeds outstanding %d", in.Amount, outstanding)
		}

		ref := repayReference(loan.LoanID, in.IdempotencyKey)
		if in.IdempotencyKey == "" {
			ref = autoRepayReference(loan.LoanID, loan.RepaymentCount+1)
		}
		pool, err := ledger.Platform(tx, domain.LoanPoolCode)
		if err != nil {
			return err
		}
		wallet, err := ledger.ExistingWallet(tx, loan.BorrowerID)
		if err != nil {
			return err
		}
		entry, applied, err := s.Ledger.TransferTx(tx, ledger.TransferInput{
			From:        wallet.AccountID,
			To:          pool.AccountID,
			Amount:      in.Amount,
			Reason:      domain.ReasonLoanRepayment,
			ReferenceID: ref,
		})
		if err != nil {
			return err
		}
		if !applied {
			res.Entry = entry
			res.Replayed = true
			return errUnchanged
		}

		loan.AmountRepaid += in.Amount
		loan.RepaymentCount++
		eventType := "repayment_received"
		if loan.AmountRepaid >= loan.AmountDue() {
			now := s.now()
			loan.Status = domain.LoanCompleted
			loan.CompletedAt = &now
			eventType = "completed"
		}
		res.Entry = entry
		return events.Record(tx, domain.EntityLoan, loan.LoanID, eventType, &in.Actor, map[string]interface{}{
			"amount":        in.Amount,
			"amount_repaid": loan.AmountRepaid,
			"amount_due":    loan.AmountDue(),
			"ledger_entry":  entry.SequenceNo,
		})
	})
	if err != nil {
		return nil, err
	}
	res.Loan = loan
	if !res.Replayed {
		log.Info().
			Str("loan_id", loan.LoanID.String()).
			Int64("amount", in.Amount).
			Int64("amount_repaid", loan.AmountRepaid).
			Str("status", string(loan.Status)).
			Msg("loan repayment")
	}
	return res, nil
}

func repayReference(loanID uuid.UUID, key string) string {
	return fmt.Sprintf("%s:repay:%s", loanID, key)
}

// autoRepayReference numbers repayments sent without a key. The "#" separator keeps
// these apart from every client key reference.
func autoRepayReference(loanID uuid.UUID, n int) string {
	return fmt.Sprintf("%s:repay#%d", loanID, n)
}

// MarkOverdue defaults an active loan whose due date plus grace period has passed.
// A nil actor is the scheduled sweeper.
func (s *Service) MarkOverdue(ctx context.Context, loanID uuid.UUID, actor *domain.Actor) (*domain.Loan, error) {
	if actor != nil {
		if err := actor.Require(domain.PermMarkOverdue); err != nil {
			return nil, err
		}
	}
	loan, err := s.mutate(ctx, loanID, func(tx *gorm.DB, loan *domain.Loan) error {
		if loan.Status != domain.LoanActive || loan.DueAt == nil {
			return transitionError(loan, "mark overdue")
		}
		now := s.now()
		deadline := loan.DueAt.Add(s.Policy.GracePeriod)
		if now.Before(deadline) {
			return domain.Fail(domain.ErrInvalidStateTransition, "loan", loan.LoanID.String(),
				"not overdue until %s", deadline.Format(time.RFC3339))
		}
		if loan.AmountRepaid >= loan.AmountDue() {
			return transitionError(loan, "mark overdue")
		}
		loan.Status = domain.LoanDefaulted
		loan.DefaultedAt = &now
		return events.Record(tx, domain.EntityLoan, loan.LoanID, "defaulted", actor, map[string]interface{}{
			"due_at":        loan.DueAt,
			"amount_repaid": loan.AmountRepaid,
			"amount_due":    loan.AmountDue(),
		})
	})
	if err != nil {
		return nil, err
	}
	log.Warn().
		Str("loan_id", loan.LoanID.String()).
		Int64("outstanding", loan.AmountDue()-loan.AmountRepaid).
		Msg("loan defaulted")
	return loan, nil
}

// Get returns a loan with its milestones in schedule order.
func (s *Service) Get(ctx context.Context, loanID uuid.UUID) (*domain.Loan, error) {
	return loadLoan(s.DB.WithContext(ctx), loanID, false)
}

// ListByBorrower returns the borrower's loans, newest first.
func (s *Service) ListByBorrower(ctx context.Context, borrowerID uuid.UUID) ([]domain.Loan, error) {
	var loans []domain.Loan
	err := s.DB.WithContext(ctx).
		Preload("Milestones", orderedMilestones).
		Where("borrower_id = ?", borrowerID).
		Order("created_at DESC").
		Find(&loans).Error
	return loans, err
}

// ListOverdueCandidates returns active loans whose grace period has run out.
func (s *Service) ListOverdueCandidates(ctx context.Context, limit int) ([]domain.Loan, error) {
	cutoff := s.now().Add(-s.Policy.GracePeriod)
	var loans []domain.Loan
	q := s.DB.WithContext(ctx).
		Where("status = ? AND due_at IS NOT NULL AND due_at <= ?", domain.LoanActive, cutoff).
		Order("due_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&loans).Error
	return loans, err
}

// SweepOverdue marks every overdue candidate defaulted and returns how many were.
// Loans that changed underneath the sweep are skipped.
func (s *Service) SweepOverdue(ctx context.Context, limit int) (int, error) {
	candidates, err := s.ListOverdueCandidates(ctx, limit)
	if err != nil {
		return 0, err
	}
	defaulted := 0
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return defaulted, err
		}
		_, err := s.MarkOverdue(ctx, c.LoanID, nil)
		switch {
		case err == nil:
			defaulted++
		case errors.Is(err, domain.ErrInvalidStateTransition), errors.Is(err, domain.ErrConcurrentModification):
			log.Debug().Str("loan_id", c.LoanID.String()).Err(err).Msg("overdue sweep skipped loan")
		default:
			return defaulted, err
		}
	}
	return defaulted, nil
}

// errUnchanged ends a mutation without writing; the loan is returned as loaded.
var errUnchanged = errors.New("loan unchanged")

// mutate loads and locks the loan, applies fn and writes the loan back with an
// optimistic version check, all in one transaction.
func (s *Service) mutate(ctx context.Context, loanID uuid.UUID, fn func(tx *gorm.DB, loan *domain.Loan) error) (*domain.Loan, error) {
	var out *domain.Loan
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		loan, err := loadLoan(tx, loanID, true)
		if err != nil {
			return err
		}
		prev := loan.Version
		wasTerminal := loan.Status.Terminal()
		if err := fn(tx, loan); err != nil {
			if errors.Is(err, errUnchanged) {
				out = loan
				return nil
			}
			return err
		}
		if wasTerminal {
			return transitionError(loan, "change")
		}
		loan.Version = prev + 1
		loan.UpdatedAt = s.now()
		result := tx.Model(&domain.Loan{}).
			Where("loan_id = ? AND version = ?", loan.LoanID, prev).
			Updates(map[string]interface{}{
				"amount_approved":         loan.AmountApproved,
				"amount_disbursed":        loan.AmountDisbursed,
				"amount_repaid":           loan.AmountRepaid,
				"status":                  loan.Status,
				"current_milestone_index": loan.CurrentMilestoneIndex,
				"repayment_count":         loan.RepaymentCount,
				"approver_notes":          loan.ApproverNotes,
				"rejection_reason":        loan.RejectionReason,
				"first_disbursed_at":      loan.FirstDisbursedAt,
				"due_at":                  loan.DueAt,
				"completed_at":            loan.CompletedAt,
				"defaulted_at":            loan.DefaultedAt,
				"version":                 loan.Version,
				"updated_at":              loan.UpdatedAt,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return domain.Fail(domain.ErrConcurrentModification, "loan", loan.LoanID.String(), "version %d is stale", prev)
		}
		out = loan
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func loadLoan(db *gorm.DB, loanID uuid.UUID, lock bool) (*domain.Loan, error) {
	var loan domain.Loan
	q := db
	if lock {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	err := q.Where("loan_id = ?", loanID).Take(&loan).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.Fail(domain.ErrNotFound, "loan", loanID.String(), "")
	}
	if err != nil {
		return nil, err
	}
	if err := orderedMilestones(db).Where("loan_id = ?", loanID).Find(&loan.Milestones).Error; err != nil {
		return nil, err
	}
	return &loan, nil
}

func orderedMilestones(db *gorm.DB) *gorm.DB {
	return db.Order("position ASC")
}

func transitionError(loan *domain.Loan, op string) error {
	return domain.Fail(domain.ErrInvalidStateTransition, "loan", loan.LoanID.String(),
		"cannot %s a %s loan", op, loan.Status)
}
