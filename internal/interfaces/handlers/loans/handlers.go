package loans

import (
	"agrifin-backend/internal/application/events"
	loansvc "agrifin-backend/internal/application/loans"
	"agrifin-backend/internal/domain"
	"agrifin-backend/internal/pkg/request"
	"agrifin-backend/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type Handlers struct {
	Service *loansvc.Service
	Events  *events.Service
}

type applyBody struct {
	AmountRequested int64  `json:"amount_requested" validate:"gt=0"`
	TermMonths      int    `json:"term_months" validate:"gt=0"`
	AssessmentID    string `json:"assessment_id" validate:"omitempty,uuid"`
}

// Apply POST /api/v1/loans
func (h *Handlers) Apply(c *fiber.Ctx) error {
	actor, err := request.Actor(c)
	if err != nil {
		return response.FromError(c, err)
	}
	var body applyBody
	if err := request.Bind(c, &body); err != nil {
		return response.FromError(c, err)
	}
	assessmentID, err := request.OptionalUUID("assessment_id", body.AssessmentID)
	if err != nil {
		return response.FromError(c, err)
	}
	loan, err := h.Service.Apply(c.UserContext(), loansvc.ApplyInput{
		Borrower:        actor,
		AmountRequested: body.AmountRequested,
		TermMonths:      body.TermMonths,
		AssessmentID:    assessmentID,
	})
	if err != nil {
		return response.FromError(c, err)
	}
	return response.SuccessCreated(c, "Loan application submitted", loan, nil)
}

// Get GET /api/v1/loans/:id (borrower or admin)
func (h *Handlers) Get(c *fiber.Ctx) error {
	_, loan, err := h.visibleLoan(c)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Loan fetched successfully", loan, nil)
}

// List GET /api/v1/loans: the caller's own loans; admins may pass ?borrower_id=.
func (h *Handlers) List(c *fiber.Ctx) error {
	actor, err := request.Actor(c)
	if err != nil {
		return response.FromError(c, err)
	}
	borrowerID := actor.UserID
	if q := c.Query("borrower_id"); q != "" && actor.IsAdmin() {
		id, err := uuid.Parse(q)
		if err != nil {
			return response.FromError(c, domain.Invalid("borrower_id", q, "Invalid UUID format for borrower_id"))
		}
		borrowerID = id
	}
	loans, err := h.Service.ListByBorrower(c.UserContext(), borrowerID)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Loans fetched successfully", loans, fiber.Map{"count": len(loans)})
}

type approveBody struct {
	Notes          string `json:"notes" validate:"max=500"`
	AmountApproved *int64 `json:"amount_approved" validate:"omitempty,gt=0"`
}

// Approve POST /api/v1/loans/:id/approve
func (h *Handlers) Approve(c *fiber.Ctx) error {
	actor, id, err := actorAndID(c)
	if err != nil {
		return response.FromError(c, err)
	}
	var body approveBody
	if err := request.Bind(c, &body); err != nil {
		return response.FromError(c, err)
	}
	loan, err := h.Service.Approve(c.UserContext(), loansvc.ApproveInput{
		LoanID: id, Actor: actor, Notes: body.Notes, AmountOverride: body.AmountApproved,
	})
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Loan approved", loan, nil)
}

type rejectBody struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

// Reject POST /api/v1/loans/:id/reject
func (h *Handlers) Reject(c *fiber.Ctx) error {
	actor, id, err := actorAndID(c)
	if err != nil {
		return response.FromError(c, err)
	}
	var body rejectBody
	if err := request.Bind(c, &body); err != nil {
		return response.FromError(c, err)
	}
	loan, err := h.Service.Reject(c.UserContext(), id, actor, body.Reason)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Loan rejected", loan, nil)
}

// ReleaseMilestone POST /api/v1/loans/:id/release_milestone
func (h *Handlers) ReleaseMilestone(c *fiber.Ctx) error {
	actor, id, err := actorAndID(c)
	if err != nil {
		return response.FromError(c, err)
	}
	res, err := h.Service.ReleaseMilestone(c.UserContext(), id, actor)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Milestone released", fiber.Map{
		"message":        "Released milestone " + res.Milestone.Name,
		"tranche_amount": res.Tranche,
		"milestone":      res.Milestone,
		"ledger_entry":   res.Entry,
		"loan":           res.Loan,
	}, nil)
}

type repayBody struct {
	Amount         int64  `json:"amount" validate:"gt=0"`
	IdempotencyKey string `json:"idempotency_key" validate:"omitempty,max=64"`
}

// Repay POST /api/v1/loans/:id/repay. The Idempotency-Key header is used when the body has none.
func (h *Handlers) Repay(c *fiber.Ctx) error {
	actor, id, err := actorAndID(c)
	if err != nil {
		return response.FromError(c, err)
	}
	var body repayBody
	if err := request.Bind(c, &body); err != nil {
		return response.FromError(c, err)
	}
	key := body.IdempotencyKey
	if key == "" {
		key = c.Get("Idempotency-Key")
	}
	res, err := h.Service.Repay(c.UserContext(), loansvc.RepayInput{
		LoanID: id, Actor: actor, Amount: body.Amount, IdempotencyKey: key,
	})
	if err != nil {
		return response.FromError(c, err)
	}
	msg := "Repayment recorded"
	if res.Replayed {
		msg = "Repayment already recorded"
	}
	return response.Success(c, msg, fiber.Map{
		"loan":         res.Loan,
		"ledger_entry": res.Entry,
		"replayed":     res.Replayed,
		"outstanding":  res.Loan.AmountDue() - res.Loan.AmountRepaid,
	}, nil)
}

// MarkOverdue POST /api/v1/loans/:id/mark_overdue (admin)
func (h *Handlers) MarkOverdue(c *fiber.Ctx) error {
	actor, id, err := actorAndID(c)
	if err != nil {
		return response.FromError(c, err)
	}
	loan, err := h.Service.MarkOverdue(c.UserContext(), id, &actor)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Loan marked as defaulted", loan, nil)
}

// ListEvents GET /api/v1/loans/:id/events (borrower or admin)
func (h *Handlers) ListEvents(c *fiber.Ctx) error {
	_, loan, err := h.visibleLoan(c)
	if err != nil {
		return response.FromError(c, err)
	}
	evs, err := h.Events.ForEntity(c.UserContext(), domain.EntityLoan, loan.LoanID)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Loan events fetched successfully", evs, fiber.Map{"count": len(evs)})
}

func (h *Handlers) visibleLoan(c *fiber.Ctx) (domain.Actor, *domain.Loan, error) {
	actor, id, err := actorAndID(c)
	if err != nil {
		return actor, nil, err
	}
	loan, err := h.Service.Get(c.UserContext(), id)
	if err != nil {
		return actor, nil, err
	}
	if !actor.IsAdmin() && loan.BorrowerID != actor.UserID {
		return actor, nil, domain.Fail(domain.ErrForbidden, "loan", id.String(), "not your loan")
	}
	return actor, loan, nil
}

func actorAndID(c *fiber.Ctx) (domain.Actor, uuid.UUID, error) {
	actor, err := request.Actor(c)
	if err != nil {
		return actor, uuid.Nil, err
	}
	id, err := request.UUIDParam(c, "id")
	return actor, id, err
}
