package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type LoanStatus string

const (
	LoanPending   LoanStatus = "pending"
	LoanApproved  LoanStatus = "approved"
	LoanActive    LoanStatus = "active"
	LoanCompleted LoanStatus = "completed"
	LoanRejected  LoanStatus = "rejected"
	LoanDefaulted LoanStatus = "defaulted"
)

// Terminal states are final; nothing on the loan changes afterwards.
func (s LoanStatus) Terminal() bool {
	return s == LoanCompleted || s == LoanRejected || s == LoanDefaulted
}

// MinLoanAmount keeps every milestone tranche at least one minor unit.
const MinLoanAmount int64 = 100

// Loan is owned by the loan engine. AmountDisbursed always equals
// AmountApproved * (sum of released milestone percentages) / 100, floored.
type Loan struct {
	LoanID                   uuid.UUID       `gorm:"column:loan_id;type:uuid;primaryKey" json:"id"`
	BorrowerID               uuid.UUID       `gorm:"column:borrower_id;type:uuid;not null;index" json:"borrower_id"`
	AmountRequested          int64           `gorm:"column:amount_requested;not null" json:"amount_requested"`
	AmountApproved           int64           `gorm:"column:amount_approved;not null;default:0" json:"amount_approved"`
	AmountDisbursed          int64           `gorm:"column:amount_disbursed;not null;default:0" json:"amount_disbursed"`
	AmountRepaid             int64           `gorm:"column:amount_repaid;not null;default:0" json:"amount_repaid"`
	InterestRateBps          int64           `gorm:"column:interest_rate_bps;not null" json:"interest_rate_bps"`
	TermMonths               int             `gorm:"column:term_months;not null" json:"term_months"`
	CreditScoreAtApplication int             `gorm:"column:credit_score_at_application;not null" json:"credit_score_at_application"`
	TierAtApplication        Tier            `gorm:"column:tier_at_application;type:varchar(20);not null" json:"tier_at_application"`
	MaxAmountAtApplication   int64           `gorm:"column:max_amount_at_application;not null" json:"max_amount_at_application"`
	AssessmentID             *uuid.UUID      `gorm:"column:assessment_id;type:uuid" json:"assessment_used"`
	Status                   LoanStatus      `gorm:"column:status;type:varchar(20);not null;index" json:"status"`
	CurrentMilestoneIndex    int             `gorm:"column:current_milestone_index;not null;default:0" json:"current_milestone_index"`
	Milestones               []LoanMilestone `gorm:"foreignKey:LoanID;references:LoanID" json:"milestones"`
	RepaymentCount           int             `gorm:"column:repayment_count;not null;default:0" json:"repayment_count"`
	ApproverNotes            string          `gorm:"column:approver_notes" json:"approver_notes,omitempty"`
	RejectionReason          string          `gorm:"column:rejection_reason" json:"rejection_reason,omitempty"`
	FirstDisbursedAt         *time.Time      `gorm:"column:first_disbursed_at" json:"first_disbursed_at,omitempty"`
	DueAt                    *time.Time      `gorm:"column:due_at;index" json:"due_at,omitempty"`
	CompletedAt              *time.Time      `gorm:"column:completed_at" json:"completed_at,omitempty"`
	DefaultedAt              *time.Time      `gorm:"column:defaulted_at" json:"defaulted_at,omitempty"`
	Version                  int64           `gorm:"column:version;not null;default:0" json:"version"`
	CreatedAt                time.Time       `gorm:"column:created_at" json:"created_at"`
	UpdatedAt                time.Time       `gorm:"column:updated_at" json:"updated_at"`
}

func (Loan) TableName() string {
	return "loans"
}

func (l *Loan) BeforeCreate(tx *gorm.DB) error {
	if l.LoanID == uuid.Nil {
		l.LoanID = uuid.New()
	}
	return nil
}

// AmountDue is principal plus simple per-term interest.
func (l *Loan) AmountDue() int64 {
	return l.AmountApproved + l.AmountApproved*l.InterestRateBps/10000
}

// ReleasedPercentage sums the percentages of released milestones.
func (l *Loan) ReleasedPercentage() int {
	total := 0
	for _, m := range l.Milestones {
		if m.Released {
			total += m.Percentage
		}
	}
	return total
}

// DisbursedAt returns the cumulative disbursement once pct percent has been released.
func (l *Loan) DisbursedAt(pct int) int64 {
	return l.AmountApproved * int64(pct) / 100
}

// LoanMilestone is one tranche of a loan's disbursement schedule.
type LoanMilestone struct {
	MilestoneID   uuid.UUID  `gorm:"column:milestone_id;type:uuid;primaryKey" json:"id"`
	LoanID        uuid.UUID  `gorm:"column:loan_id;type:uuid;not null;uniqueIndex:idx_milestone_loan_position" json:"-"`
	Position      int        `gorm:"column:position;not null;uniqueIndex:idx_milestone_loan_position" json:"position"`
	Name          string     `gorm:"column:name;not null" json:"name"`
	Percentage    int        `gorm:"column:percentage;not null" json:"percentage"`
	Released      bool       `gorm:"column:released;not null;default:false" json:"released"`
	ReleasedAt    *time.Time `gorm:"column:released_at" json:"released_at,omitempty"`
	LedgerEntryID *int64     `gorm:"column:ledger_entry_id" json:"ledger_entry_id,omitempty"`
}

func (LoanMilestone) TableName() string {
	return "loan_milestones"
}

func (m *LoanMilestone) BeforeCreate(tx *gorm.DB) error {
	if m.MilestoneID == uuid.Nil {
		m.MilestoneID = uuid.New()
	}
	return nil
}

// MilestoneSpec is one entry of a disbursement policy.
type MilestoneSpec struct {
	Name       string `json:"name"`
	Percentage int    `json:"percentage"`
}

// ValidateSchedule checks that a schedule is non-empty, every tranche is positive
// and the percentages sum to exactly 100.
func ValidateSchedule(specs []MilestoneSpec) error {
	if len(specs) == 0 {
		return Invalid("milestones", "", "schedule is empty")
	}
	sum := 0
	for _, s := range specs {
		if s.Name == "" {
			return Invalid("milestones", "", "milestone name is required")
		}
		if s.Percentage <= 0 {
			return Invalid("milestones", s.Name, "percentage must be positive")
		}
		sum += s.Percentage
	}
	if sum != 100 {
		return Invalid("milestones", "", "percentages sum to %d, want 100", sum)
	}
	return nil
}
