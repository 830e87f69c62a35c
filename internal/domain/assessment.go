package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Tier string

const (
	TierElite      Tier = "elite"
	TierPremium    Tier = "premium"
	TierStandard   Tier = "standard"
	TierBasic      Tier = "basic"
	TierIneligible Tier = "ineligible"
)

// CropAssessment is the opaque output of the external crop assessment model.
type CropAssessment struct {
	AssessmentID uuid.UUID `gorm:"column:assessment_id;type:uuid;primaryKey" json:"id"`
	BorrowerID   uuid.UUID `gorm:"column:borrower_id;type:uuid;not null;index" json:"borrower_id"`
	FarmID       string    `gorm:"column:farm_id" json:"farm_id,omitempty"`
	HealthScore  int       `gorm:"column:health_score;not null" json:"health_score"`
	RiskScore    int       `gorm:"column:risk_score;not null" json:"risk_score"`
	YieldScore   int       `gorm:"column:yield_score;not null" json:"yield_score"`
	Source       string    `gorm:"column:source" json:"source,omitempty"`
	AssessedAt   time.Time `gorm:"column:assessed_at;not null;index" json:"assessed_at"`
	CreatedAt    time.Time `gorm:"column:created_at" json:"created_at"`
}

func (CropAssessment) TableName() string {
	return "crop_assessments"
}

func (a *CropAssessment) BeforeCreate(tx *gorm.DB) error {
	if a.AssessmentID == uuid.Nil {
		a.AssessmentID = uuid.New()
	}
	return nil
}

// ScoreComponent is one weighted input of a credit assessment.
type ScoreComponent struct {
	Score        int     `json:"score"`
	Weight       int     `json:"weight"`
	Contribution float64 `json:"contribution"`
}

// CreditAssessment is the scoring adapter's decision, frozen onto a loan at application.
type CreditAssessment struct {
	BorrowerID   uuid.UUID                 `json:"borrower_id"`
	AssessmentID *uuid.UUID                `json:"assessment_id,omitempty"`
	TotalScore   int                       `json:"total_score"`
	Components   map[string]ScoreComponent `json:"components"`
	Tier         Tier                      `json:"tier"`
	MaxAmount    int64                     `json:"max_amount"`
}
