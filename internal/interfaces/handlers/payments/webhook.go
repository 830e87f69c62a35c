package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	walletsvc "agrifin-backend/internal/application/wallet"
	"agrifin-backend/internal/domain"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
)

// TopUpCompleter credits a wallet for a succeeded payment.
type TopUpCompleter interface {
	CompleteTopUp(ctx context.Context, in walletsvc.TopUp) (*domain.WalletTopUp, bool, error)
}

type WebhookHandler struct {
	Wallet        TopUpCompleter
	WebhookSecret string
}

// HandleWebhook POST /api/v1/stripe/webhook: raw body, signature verification, then process.
func (wh *WebhookHandler) HandleWebhook(c *fiber.Ctx) error {
	rawBody := c.BodyRaw()
	sig := c.Get("Stripe-Signature")

	if len(rawBody) == 0 {
		log.Warn().Msg("Stripe webhook received empty body (ensure no global body parser consumes the webhook body)")
		return c.Status(400).SendString("Webhook Error: empty body")
	}
	if sig == "" || wh.WebhookSecret == "" {
		log.Warn().Bool("has_sig", sig != "").Bool("has_secret", wh.WebhookSecret != "").Msg("Stripe webhook missing signature or secret")
		return c.Status(400).SendString("Webhook Error: missing signature or secret")
	}

	event, err := webhook.ConstructEventWithOptions(rawBody, sig, wh.WebhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		log.Warn().Err(err).Msg("Stripe webhook signature verification failed")
		return c.Status(400).SendString(fmt.Sprintf("Webhook Error: %s", err.Error()))
	}

	if string(event.Type) != "payment_intent.succeeded" {
		return c.Status(200).SendString("ok")
	}

	var pi stripe.PaymentIntent
	if event.Data == nil || json.Unmarshal(event.Data.Raw, &pi) != nil {
		log.Warn().Str("event_id", event.ID).Msg("Stripe webhook payment intent unreadable")
		return c.Status(200).SendString("ok")
	}

	if err := wh.handlePaymentIntentSucceeded(c.UserContext(), &pi, event.ID, event.Data.Raw); err != nil {
		// Bad metadata will never succeed on retry; anything else should be redelivered.
		if errors.Is(err, domain.ErrValidation) {
			log.Warn().Err(err).Str("payment_intent", pi.ID).Msg("Stripe top-up rejected")
			return c.Status(200).SendString("ok")
		}
		log.Error().Err(err).Str("payment_intent", pi.ID).Msg("Stripe top-up failed")
		return c.Status(500).SendString("Webhook Error: processing failed")
	}
	return c.Status(200).SendString("ok")
}

func (wh *WebhookHandler) handlePaymentIntentSucceeded(ctx context.Context, pi *stripe.PaymentIntent, eventID string, raw []byte) error {
	if pi.Metadata["purpose"] != walletsvc.TopUpPurpose {
		return nil
	}
	userID, err := uuid.Parse(pi.Metadata["user_id"])
	if err != nil {
		return domain.Invalid("top_up", pi.ID, "metadata user_id %q is not a uuid", pi.Metadata["user_id"])
	}
	var role domain.Role
	if r := pi.Metadata["role"]; r != "" {
		if role, err = domain.ParseRole(r); err != nil {
			return domain.Invalid("top_up", pi.ID, "metadata role %q is unknown", r)
		}
	}
	if pi.AmountReceived <= 0 {
		return domain.Invalid("top_up", pi.ID, "nothing was received")
	}
	_, _, err = wh.Wallet.CompleteTopUp(ctx, walletsvc.TopUp{
		PaymentIntentID: pi.ID,
		EventID:         eventID,
		UserID:          userID,
		Role:            role,
		Amount:          pi.AmountReceived,
		Currency:        string(pi.Currency),
		Status:          string(pi.Status),
		Raw:             raw,
	})
	return err
}
