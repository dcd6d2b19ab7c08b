package listings

import (
	"encoding/json"

	catalogsvc "autolist-backend/internal/application/catalog"
	"autolist-backend/internal/infrastructure/repository"
	"autolist-backend/internal/middleware"
	"autolist-backend/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
)

type Handlers struct {
	Service *catalogsvc.Service
}

// GET /api/v1/listings/:id
func (h *Handlers) GetListing(c *fiber.Ctx) error {
	listing, err := h.Service.ListingDetail(c.UserContext(), c.Params("id"))
	if err != nil {
		return middleware.WriteError(c, err)
	}
	return response.Success(c, "Listing fetched successfully", listing, nil)
}

// GET /api/v1/listings/stats?where={"isNew":true}
func (h *Handlers) Stats(c *fiber.Ctx) error {
	var where repository.Where
	if raw := c.Query("where"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &where); err != nil {
			return response.Error(c, "where must be a JSON object", fiber.StatusBadRequest, fiber.Map{"code": "VALIDATION_ERROR"})
		}
	}
	stats, err := h.Service.ListingStats(c.UserContext(), where)
	if err != nil {
		return middleware.WriteError(c, err)
	}
	return response.Success(c, "Listing stats fetched successfully", stats, nil)
}

// POST /api/v1/listings/:id/price, body {price, priceCurrency?, recordedAt?}
func (h *Handlers) RecordPrice(c *fiber.Ctx) error {
	var body map[string]json.RawMessage
	if err := json.Unmarshal(c.Body(), &body); err != nil {
		return response.Error(c, "Invalid request body", fiber.StatusBadRequest, nil)
	}
	if _, ok := body["price"]; !ok {
		return response.Error(c, "Missing required field: price", fiber.StatusBadRequest, nil)
	}
	var in catalogsvc.PriceInput
	if err := json.Unmarshal(c.Body(), &in); err != nil {
		return response.Error(c, "Invalid request body", fiber.StatusBadRequest, nil)
	}
	res, err := h.Service.RecordPrice(c.UserContext(), c.Params("id"), in)
	if err != nil {
		return middleware.WriteError(c, err)
	}
	if !res.Changed {
		return response.Success(c, "Price unchanged", res, nil)
	}
	return response.SuccessCreated(c, "Price recorded", res, nil)
}
