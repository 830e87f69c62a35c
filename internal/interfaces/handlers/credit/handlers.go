package credit

import (
	"time"

	"agrifin-backend/internal/application/scoring"
	"agrifin-backend/internal/domain"
	"agrifin-backend/internal/pkg/request"
	"agrifin-backend/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type Handlers struct {
	Service *scoring.Service
}

// ScoreUser GET /api/v1/credit-score/user/:id: the user themself or an admin.
func (h *Handlers) ScoreUser(c *fiber.Ctx) error {
	actor, err := request.Actor(c)
	if err != nil {
		return response.FromError(c, err)
	}
	id, err := request.UUIDParam(c, "id")
	if err != nil {
		return response.FromError(c, err)
	}
	if id != actor.UserID && !actor.IsAdmin() {
		return response.FromError(c, domain.Fail(domain.ErrForbidden, "credit_score", id.String(), "may only view your own score"))
	}
	assessment, err := h.Service.ScoreUser(c.UserContext(), id)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Credit score computed", assessment, nil)
}

type assessmentBody struct {
	BorrowerID  string     `json:"borrower_id" validate:"required,uuid"`
	FarmID      string     `json:"farm_id" validate:"max=80"`
	HealthScore *int       `json:"health_score" validate:"required,min=0,max=100"`
	RiskScore   *int       `json:"risk_score" validate:"required,min=0,max=100"`
	YieldScore  *int       `json:"yield_score" validate:"required,min=0,max=100"`
	Source      string     `json:"source" validate:"max=80"`
	AssessedAt  *time.Time `json:"assessed_at"`
}

// RecordAssessment POST /api/v1/credit-score/assessments: ingest of the crop assessment model's output.
func (h *Handlers) RecordAssessment(c *fiber.Ctx) error {
	actor, err := request.Actor(c)
	if err != nil {
		return response.FromError(c, err)
	}
	if err := actor.Require(domain.PermIngestScores); err != nil {
		return response.FromError(c, err)
	}
	var body assessmentBody
	if err := request.Bind(c, &body); err != nil {
		return response.FromError(c, err)
	}
	in := scoring.RecordAssessmentInput{
		BorrowerID:  uuid.MustParse(body.BorrowerID),
		FarmID:      body.FarmID,
		HealthScore: *body.HealthScore,
		RiskScore:   *body.RiskScore,
		YieldScore:  *body.YieldScore,
		Source:      body.Source,
	}
	if body.AssessedAt != nil {
		in.AssessedAt = *body.AssessedAt
	}
	a, err := h.Service.RecordAssessment(c.UserContext(), in)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.SuccessCreated(c, "Assessment recorded", a, nil)
}
