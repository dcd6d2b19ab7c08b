package listingevents

import (
	lesvc "autolist-backend/internal/application/listingevents"
	"autolist-backend/internal/middleware"
	"autolist-backend/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
)

type Handlers struct {
	Service *lesvc.Service
}

// GET /api/v1/listing-events/:listing_id
func (h *Handlers) GetListingEvents(c *fiber.Ctx) error {
	events, err := h.Service.GetListingEvents(c.UserContext(), c.Params("listing_id"))
	if err != nil {
		return middleware.WriteError(c, err)
	}
	return response.Success(c, "Listing events fetched successfully", events, fiber.Map{"count": len(events)})
}
