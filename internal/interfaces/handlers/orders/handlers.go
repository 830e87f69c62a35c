package orders

import (
	"context"

	"agrifin-backend/internal/application/events"
	ordersvc "agrifin-backend/internal/application/orders"
	"agrifin-backend/internal/domain"
	"agrifin-backend/internal/pkg/request"
	"agrifin-backend/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type Handlers struct {
	Service *ordersvc.Service
	Events  *events.Service
}

type createBody struct {
	ListingID       string `json:"listing_id" validate:"required,uuid"`
	Quantity        int64  `json:"quantity" validate:"gt=0"`
	DeliveryAddress string `json:"delivery_address" validate:"max=300"`
}

// Create POST /api/v1/orders
func (h *Handlers) Create(c *fiber.Ctx) error {
	actor, err := request.Actor(c)
	if err != nil {
		return response.FromError(c, err)
	}
	var body createBody
	if err := request.Bind(c, &body); err != nil {
		return response.FromError(c, err)
	}
	order, err := h.Service.Create(c.UserContext(), ordersvc.CreateInput{
		ListingID:       uuid.MustParse(body.ListingID),
		Buyer:           actor,
		Quantity:        body.Quantity,
		DeliveryAddress: body.DeliveryAddress,
	})
	if err != nil {
		return response.FromError(c, err)
	}
	return response.SuccessCreated(c, "Order created", order, nil)
}

// Get GET /api/v1/orders/:id (buyer, farmer or admin)
func (h *Handlers) Get(c *fiber.Ctx) error {
	actor, id, err := actorAndID(c)
	if err != nil {
		return response.FromError(c, err)
	}
	order, err := h.Service.Get(c.UserContext(), id, actor)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Order fetched successfully", order, nil)
}

// List GET /api/v1/orders?status=
func (h *Handlers) List(c *fiber.Ctx) error {
	actor, err := request.Actor(c)
	if err != nil {
		return response.FromError(c, err)
	}
	orders, err := h.Service.List(c.UserContext(), actor, domain.OrderStatus(c.Query("status")))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Orders fetched successfully", orders, fiber.Map{"count": len(orders)})
}

type transition func(ctx context.Context, id uuid.UUID, actor domain.Actor) (*domain.Order, error)

func (h *Handlers) run(c *fiber.Ctx, op transition, message string) error {
	actor, id, err := actorAndID(c)
	if err != nil {
		return response.FromError(c, err)
	}
	order, err := op(c.UserContext(), id, actor)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, message, order, nil)
}

// Pay POST /api/v1/orders/:id/pay
func (h *Handlers) Pay(c *fiber.Ctx) error {
	return h.run(c, h.Service.Pay, "Payment held in escrow")
}

// Dispatch POST /api/v1/orders/:id/dispatch
func (h *Handlers) Dispatch(c *fiber.Ctx) error {
	return h.run(c, h.Service.Dispatch, "Order dispatched")
}

// Receive POST /api/v1/orders/:id/receive
func (h *Handlers) Receive(c *fiber.Ctx) error {
	return h.run(c, h.Service.Receive, "Order received and escrow released")
}

// Refund POST /api/v1/orders/:id/refund (admin)
func (h *Handlers) Refund(c *fiber.Ctx) error {
	return h.run(c, h.Service.Refund, "Escrow refunded to buyer")
}

// Release POST /api/v1/orders/:id/release (admin)
func (h *Handlers) Release(c *fiber.Ctx) error {
	return h.run(c, h.Service.Release, "Escrow released to farmer")
}

// Cancel POST /api/v1/orders/:id/cancel
func (h *Handlers) Cancel(c *fiber.Ctx) error {
	return h.run(c, h.Service.Cancel, "Order cancelled")
}

type disputeBody struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

// Dispute POST /api/v1/orders/:id/dispute
func (h *Handlers) Dispute(c *fiber.Ctx) error {
	actor, id, err := actorAndID(c)
	if err != nil {
		return response.FromError(c, err)
	}
	var body disputeBody
	if err := request.Bind(c, &body); err != nil {
		return response.FromError(c, err)
	}
	order, err := h.Service.Dispute(c.UserContext(), id, actor, body.Reason)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Dispute opened", order, nil)
}

// ListEvents GET /api/v1/orders/:id/events (buyer, farmer or admin)
func (h *Handlers) ListEvents(c *fiber.Ctx) error {
	actor, id, err := actorAndID(c)
	if err != nil {
		return response.FromError(c, err)
	}
	if _, err := h.Service.Get(c.UserContext(), id, actor); err != nil {
		return response.FromError(c, err)
	}
	evs, err := h.Events.ForEntity(c.UserContext(), domain.EntityOrder, id)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Order events fetched successfully", evs, fiber.Map{"count": len(evs)})
}

func actorAndID(c *fiber.Ctx) (domain.Actor, uuid.UUID, error) {
	actor, err := request.Actor(c)
	if err != nil {
		return actor, uuid.Nil, err
	}
	id, err := request.UUIDParam(c, "id")
	return actor, id, err
}
