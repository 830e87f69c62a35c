package listings

import (
	"agrifin-backend/internal/application/events"
	listsvc "agrifin-backend/internal/application/listings"
	"agrifin-backend/internal/domain"
	"agrifin-backend/internal/pkg/request"
	"agrifin-backend/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
)

type Handlers struct {
	Service *listsvc.Service
	Events  *events.Service
}

type createBody struct {
	Title     string `json:"title" validate:"required,max=120"`
	Unit      string `json:"unit" validate:"omitempty,max=20"`
	UnitPrice int64  `json:"unit_price" validate:"gt=0"`
	Quantity  int64  `json:"quantity" validate:"gt=0"`
}

// CreateListing POST /api/v1/listings
func (h *Handlers) CreateListing(c *fiber.Ctx) error {
	actor, err := request.Actor(c)
	if err != nil {
		return response.FromError(c, err)
	}
	var body createBody
	if err := request.Bind(c, &body); err != nil {
		return response.FromError(c, err)
	}
	listing, err := h.Service.CreateListing(c.UserContext(), listsvc.CreateListingInput{
		Farmer: actor, Title: body.Title, Unit: body.Unit, UnitPrice: body.UnitPrice, Quantity: body.Quantity,
	})
	if err != nil {
		return response.FromError(c, err)
	}
	return response.SuccessCreated(c, "Listing created successfully", listing, nil)
}

// GetAllActiveListings GET /api/v1/listings
func (h *Handlers) GetAllActiveListings(c *fiber.Ctx) error {
	listings, err := h.Service.GetAllActiveListings(c.UserContext())
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Active listings fetched successfully", listings, fiber.Map{"count": len(listings)})
}

// GetMyListings GET /api/v1/listings/mine
func (h *Handlers) GetMyListings(c *fiber.Ctx) error {
	actor, err := request.Actor(c)
	if err != nil {
		return response.FromError(c, err)
	}
	listings, err := h.Service.GetFarmerListings(c.UserContext(), actor.UserID)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Listings fetched successfully", listings, fiber.Map{"count": len(listings)})
}

// GetListingByID GET /api/v1/listings/:id
func (h *Handlers) GetListingByID(c *fiber.Ctx) error {
	id, err := request.UUIDParam(c, "id")
	if err != nil {
		return response.FromError(c, err)
	}
	listing, err := h.Service.GetListingByID(c.UserContext(), id)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Listing fetched successfully", listing, nil)
}

type editBody struct {
	UnitPrice *int64 `json:"unit_price" validate:"omitempty,gt=0"`
	Quantity  *int64 `json:"quantity" validate:"omitempty,gte=0"`
}

// EditListing PATCH /api/v1/listings/:id
func (h *Handlers) EditListing(c *fiber.Ctx) error {
	actor, err := request.Actor(c)
	if err != nil {
		return response.FromError(c, err)
	}
	id, err := request.UUIDParam(c, "id")
	if err != nil {
		return response.FromError(c, err)
	}
	var body editBody
	if err := request.Bind(c, &body); err != nil {
		return response.FromError(c, err)
	}
	if body.UnitPrice == nil && body.Quantity == nil {
		return response.FromError(c, domain.Invalid("listing", id.String(), "Nothing to update"))
	}
	listing, err := h.Service.EditListing(c.UserContext(), listsvc.EditListingInput{
		ListingID: id, Farmer: actor, NewPrice: body.UnitPrice, NewQuantity: body.Quantity,
	})
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Listing updated successfully", listing, nil)
}

// CancelListing POST /api/v1/listings/:id/cancel
func (h *Handlers) CancelListing(c *fiber.Ctx) error {
	actor, err := request.Actor(c)
	if err != nil {
		return response.FromError(c, err)
	}
	id, err := request.UUIDParam(c, "id")
	if err != nil {
		return response.FromError(c, err)
	}
	listing, err := h.Service.CancelListing(c.UserContext(), id, actor)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Listing cancelled successfully", listing, nil)
}

// ListEvents GET /api/v1/listings/:id/events
func (h *Handlers) ListEvents(c *fiber.Ctx) error {
	id, err := request.UUIDParam(c, "id")
	if err != nil {
		return response.FromError(c, err)
	}
	if _, err := h.Service.GetListingByID(c.UserContext(), id); err != nil {
		return response.FromError(c, err)
	}
	evs, err := h.Events.ForEntity(c.UserContext(), domain.EntityListing, id)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Listing events fetched successfully", evs, fiber.Map{"count": len(evs)})
}
