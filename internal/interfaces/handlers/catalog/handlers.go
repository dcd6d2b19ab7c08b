package catalog

import (
	"encoding/json"
	"fmt"
	"time"

	catalogsvc "autolist-backend/internal/application/catalog"
	"autolist-backend/internal/infrastructure/database"
	"autolist-backend/internal/infrastructure/repository"
	"autolist-backend/internal/middleware"
	"autolist-backend/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
)

type Handlers struct {
	Service *catalogsvc.Service
}

// POST /api/v1/:model/:action, body = args
func (h *Handlers) Operation(c *fiber.Ctx) error {
	op := catalogsvc.Operation{
		Model:  c.Params("model"),
		Action: c.Params("action"),
		Args:   json.RawMessage(c.Body()),
	}
	out, err := h.Service.Execute(c.UserContext(), op)
	if err != nil {
		return middleware.WriteError(c, err)
	}
	msg := fmt.Sprintf("%s %s succeeded", op.Model, op.Action)
	if op.Action == catalogsvc.ActionCreate || op.Action == catalogsvc.ActionCreateMany {
		return response.SuccessCreated(c, msg, out, nil)
	}
	return response.Success(c, msg, out, nil)
}

// TransactionRequest is the body of POST /api/v1/transaction. Durations
// are milliseconds.
type TransactionRequest struct {
	Operations     []catalogsvc.Operation `json:"operations"`
	IsolationLevel string                 `json:"isolationLevel,omitempty"`
	MaxWait        int64                  `json:"maxWait,omitempty"`
	Timeout        int64                  `json:"timeout,omitempty"`
}

func (r TransactionRequest) options() ([]database.TxOption, error) {
	var opts []database.TxOption
	if r.IsolationLevel != "" {
		lvl, err := database.ParseIsolation(r.IsolationLevel)
		if err != nil {
			return nil, err
		}
		opts = append(opts, database.WithIsolation(lvl))
	}
	if r.MaxWait < 0 || r.Timeout < 0 {
		return nil, &repository.ValidationError{Model: "transaction", Field: "timeout", Err: repository.ErrInvalidValue}
	}
	if r.MaxWait > 0 {
		opts = append(opts, database.WithMaxWait(time.Duration(r.MaxWait)*time.Millisecond))
	}
	if r.Timeout > 0 {
		opts = append(opts, database.WithTimeout(time.Duration(r.Timeout)*time.Millisecond))
	}
	return opts, nil
}

// POST /api/v1/transaction. All operations commit together or none do.
func (h *Handlers) Transaction(c *fiber.Ctx) error {
	var req TransactionRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return response.Error(c, "Invalid request body", fiber.StatusBadRequest, nil)
	}
	if len(req.Operations) == 0 {
		return response.Error(c, "operations is required", fiber.StatusBadRequest, nil)
	}
	opts, err := req.options()
	if err != nil {
		return middleware.WriteError(c, err)
	}
	results, err := h.Service.ExecuteBatch(c.UserContext(), req.Operations, opts...)
	if err != nil {
		return middleware.WriteError(c, err)
	}
	return response.Success(c, "Transaction committed", results, fiber.Map{"operations": len(results)})
}

// RawRequest carries a parameterized statement; placeholders are "?".
type RawRequest struct {
	Query  string        `json:"query"`
	Params []interface{} `json:"params,omitempty"`
}

func parseRaw(c *fiber.Ctx) (*RawRequest, error) {
	var req RawRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil || req.Query == "" {
		return nil, fiber.NewError(fiber.StatusBadRequest, "query is required")
	}
	return &req, nil
}

// POST /api/v1/raw/query
func (h *Handlers) RawQuery(c *fiber.Ctx) error {
	req, err := parseRaw(c)
	if err != nil {
		return middleware.WriteError(c, err)
	}
	rows, err := h.Service.QueryRaw(c.UserContext(), req.Query, req.Params...)
	if err != nil {
		return middleware.WriteError(c, err)
	}
	return response.Success(c, "Query executed", rows, fiber.Map{"rows": len(rows)})
}

// POST /api/v1/raw/execute
func (h *Handlers) RawExecute(c *fiber.Ctx) error {
	req, err := parseRaw(c)
	if err != nil {
		return middleware.WriteError(c, err)
	}
	n, err := h.Service.ExecuteRaw(c.UserContext(), req.Query, req.Params...)
	if err != nil {
		return middleware.WriteError(c, err)
	}
	return response.Success(c, "Statement executed", fiber.Map{"count": n}, nil)
}
