package wallet

import (
	"strconv"

	"agrifin-backend/internal/application/ledger"
	walletsvc "agrifin-backend/internal/application/wallet"
	"agrifin-backend/internal/domain"
	"agrifin-backend/internal/pkg/request"
	"agrifin-backend/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/paymentintent"
)

type Handlers struct {
	Service       *walletsvc.Service
	Ledger        *ledger.Service
	StripeCreator StripePaymentIntentCreator
}

// StripePaymentIntentCreator abstracts Stripe PaymentIntent creation for testability.
type StripePaymentIntentCreator interface {
	Create(amountMinor int64, currency string, metadata map[string]string) (*StripePaymentIntentResult, error)
}

type StripePaymentIntentResult struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
}

// RealStripeCreator uses the Stripe Go SDK to create PaymentIntents.
type RealStripeCreator struct {
	SecretKey string
}

func (r *RealStripeCreator) Create(amountMinor int64, currency string, metadata map[string]string) (*StripePaymentIntentResult, error) {
	if r.SecretKey == "" {
		return nil, fiber.NewError(fiber.StatusNotImplemented, "Card top-ups are not configured")
	}
	stripe.Key = r.SecretKey
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amountMinor),
		Currency: stripe.String(currency),
		Metadata: metadata,
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	pi, err := paymentintent.New(params)
	if err != nil {
		return nil, err
	}
	return &StripePaymentIntentResult{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
	}, nil
}

// Summary GET /api/v1/wallet
func (h *Handlers) Summary(c *fiber.Ctx) error {
	actor, err := request.Actor(c)
	if err != nil {
		return response.FromError(c, err)
	}
	sum, err := h.Service.Summary(c.UserContext(), actor)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Wallet fetched successfully", sum, nil)
}

// History GET /api/v1/wallet/history?after=<sequence_no>&limit=
func (h *Handlers) History(c *fiber.Ctx) error {
	actor, err := request.Actor(c)
	if err != nil {
		return response.FromError(c, err)
	}
	after, err := queryInt(c, "after")
	if err != nil {
		return response.FromError(c, err)
	}
	limit, err := queryInt(c, "limit")
	if err != nil {
		return response.FromError(c, err)
	}
	lines, err := h.Service.History(c.UserContext(), actor, after, int(limit))
	if err != nil {
		return response.FromError(c, err)
	}
	meta := fiber.Map{"count": len(lines)}
	if n := len(lines); n > 0 {
		meta["next_after"] = lines[n-1].SequenceNo
	}
	return response.Success(c, "Wallet history fetched successfully", lines, meta)
}

type topUpBody struct {
	Amount int64 `json:"amount" validate:"gt=0"`
}

// TopUp POST /api/v1/wallet/top-up: only creates the PaymentIntent; the webhook credits the wallet.
func (h *Handlers) TopUp(c *fiber.Ctx) error {
	actor, err := request.Actor(c)
	if err != nil {
		return response.FromError(c, err)
	}
	var body topUpBody
	if err := request.Bind(c, &body); err != nil {
		return response.FromError(c, err)
	}
	pi, err := h.StripeCreator.Create(body.Amount, h.Service.Currency, map[string]string{
		"purpose": walletsvc.TopUpPurpose,
		"user_id": actor.UserID.String(),
		"role":    string(actor.Role),
	})
	if err != nil {
		log.Error().Err(err).Str("user_id", actor.UserID.String()).Msg("payment intent creation failed")
		return response.FromError(c, err)
	}
	return response.Success(c, "Payment intent created", fiber.Map{
		"payment_intent_id": pi.ID,
		"client_secret":     pi.ClientSecret,
		"amount":            body.Amount,
		"currency":          h.Service.Currency,
	}, nil)
}

type depositBody struct {
	UserID      string `json:"user_id" validate:"required,uuid"`
	Role        string `json:"role" validate:"omitempty,oneof=farmer buyer admin"`
	Amount      int64  `json:"amount" validate:"gt=0"`
	ReferenceID string `json:"reference_id" validate:"required,max=120"`
}

// Deposit POST /api/v1/wallet/deposit (admin)
func (h *Handlers) Deposit(c *fiber.Ctx) error {
	actor, err := request.Actor(c)
	if err != nil {
		return response.FromError(c, err)
	}
	var body depositBody
	if err := request.Bind(c, &body); err != nil {
		return response.FromError(c, err)
	}
	entry, err := h.Service.Deposit(c.UserContext(), walletsvc.DepositInput{
		Actor: actor, UserID: uuid.MustParse(body.UserID), Role: domain.Role(body.Role),
		Amount: body.Amount, ReferenceID: body.ReferenceID,
	})
	if err != nil {
		return response.FromError(c, err)
	}
	return response.SuccessCreated(c, "Deposit recorded", entry, nil)
}

type fundBody struct {
	Amount      int64  `json:"amount" validate:"gt=0"`
	ReferenceID string `json:"reference_id" validate:"required,max=120"`
}

// FundPool POST /api/v1/admin/pools/:code/fund
func (h *Handlers) FundPool(c *fiber.Ctx) error {
	actor, err := request.Actor(c)
	if err != nil {
		return response.FromError(c, err)
	}
	var body fundBody
	if err := request.Bind(c, &body); err != nil {
		return response.FromError(c, err)
	}
	entry, err := h.Service.FundPool(c.UserContext(), actor, c.Params("code"), body.Amount, body.ReferenceID)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.SuccessCreated(c, "Pool funded", entry, nil)
}

// LedgerTotals GET /api/v1/admin/ledger: whole-ledger totals.
func (h *Handlers) LedgerTotals(c *fiber.Ctx) error {
	totals, err := h.Ledger.Totals(c.UserContext())
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Ledger totals", totals, fiber.Map{"conserved": totals.Net == 0})
}

// Reconcile GET /api/v1/admin/accounts/:id/reconcile
func (h *Handlers) Reconcile(c *fiber.Ctx) error {
	id, err := request.UUIDParam(c, "id")
	if err != nil {
		return response.FromError(c, err)
	}
	r, err := h.Ledger.Reconcile(c.UserContext(), id)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Account reconciled", r, fiber.Map{"consistent": r.Consistent()})
}

func queryInt(c *fiber.Ctx, name string) (int64, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0, domain.Invalid(name, raw, "%s must be a non-negative integer", name)
	}
	return n, nil
}
