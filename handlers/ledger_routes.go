// handlers/ledger_routes.go
package handlers

import (
	"errors"

	"arena-ledger-system/middleware"
	"arena-ledger-system/models"
	"arena-ledger-system/services"

	"github.com/gofiber/fiber/v2"
)

// statusFor maps the core's typed error kinds to HTTP statuses. Business
// rejections surface as-is for user-facing messaging; lock timeouts are 503 so
// clients know a retry is safe; invariant violations are never shown raw.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, services.ErrAlreadyReserved):
		return fiber.StatusConflict, err.Error()
	case errors.Is(err, services.ErrCapacityExceeded):
		return fiber.StatusConflict, err.Error()
	case errors.Is(err, services.ErrInvalidState):
		return fiber.StatusConflict, err.Error()
	case errors.Is(err, services.ErrInsufficientBalance):
		return fiber.StatusPaymentRequired, err.Error()
	case services.IsRetryable(err):
		return fiber.StatusServiceUnavailable, "resource busy, retry with backoff"
	case errors.Is(err, services.ErrAccountNotFound),
		errors.Is(err, services.ErrResourceNotFound),
		errors.Is(err, services.ErrReservationNotFound):
		return fiber.StatusNotFound, err.Error()
	default:
		return fiber.StatusInternalServerError, "internal error"
	}
}

func fail(c *fiber.Ctx, err error) error {
	status, msg := statusFor(err)
	return c.Status(status).JSON(fiber.Map{"error": msg})
}

// SetupLedgerRoutes wires the reservation and reward endpoints.
func SetupLedgerRoutes(app *fiber.App, arbiter *services.ArbiterService, distributor *services.DistributorService, ledger *services.LedgerService) {
	secured := app.Group("/", middleware.UserContextMiddleware())

	secured.Post("/resources/:id/reserve", func(c *fiber.Ctx) error {
		var req struct {
			HolderID  string `json:"holder_id"`
			Amount    *int64 `json:"amount,omitempty"` // defaults to the resource's unit cost
			Reference string `json:"reference" validate:"required"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON"})
		}
		holderID := req.HolderID
		if holderID == "" {
			if v, ok := c.Locals("user_id").(string); ok {
				holderID = v
			}
		}
		if holderID == "" || req.Reference == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "holder_id and reference are required"})
		}

		var amount int64
		if req.Amount != nil {
			if *req.Amount < 0 {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "amount must be non-negative"})
			}
			amount = *req.Amount
		} else {
			// Absent amount defaults to the resource's unit cost.
			var res models.Resource
			if err := arbiter.DB.Where("id = ?", c.Params("id")).First(&res).Error; err != nil {
				return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "resource not found"})
			}
			amount = res.UnitCost
		}

		resv, err := arbiter.Reserve(c.Params("id"), holderID, amount, req.Reference)
		if err != nil {
			return fail(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(resv)
	})

	secured.Post("/reservations/:id/cancel", func(c *fiber.Ctx) error {
		var req struct {
			Reference string `json:"reference,omitempty"`
		}
		if err := c.BodyParser(&req); err != nil && len(c.Body()) > 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON"})
		}
		result, err := arbiter.Cancel(c.Params("id"), req.Reference)
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(result)
	})

	secured.Post("/reservations/:id/consume", func(c *fiber.Ctx) error {
		resv, err := arbiter.Consume(c.Params("id"))
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(resv)
	})

	secured.Post("/tournaments/:id/distribute-rewards", func(c *fiber.Ctx) error {
		report, err := distributor.DistributeRewards(c.Params("id"))
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(report)
	})

	secured.Get("/balances/:holder_id", func(c *fiber.Ctx) error {
		balance, err := ledger.GetBalance(c.Params("holder_id"))
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(balance)
	})

	secured.Get("/balances/:holder_id/history", func(c *fiber.Ctx) error {
		limit := c.QueryInt("limit", 50)
		entries, err := ledger.GetHistory(c.Params("holder_id"), limit)
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(entries)
	})

	// Admin compensating adjustment. The ledger is append-only: mistakes are
	// corrected by a new entry, never by editing history.
	secured.Post("/accounts/:holder_id/adjustments", func(c *fiber.Ctx) error {
		adminID, _ := c.Locals("user_id").(string)
		if adminID == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "admin identity required"})
		}
		var req struct {
			Amount    int64  `json:"amount" validate:"required"` // signed: positive credits, negative debits
			Reference string `json:"reference" validate:"required"`
			Reason    string `json:"reason" validate:"required"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON"})
		}
		if req.Amount == 0 || req.Reference == "" || req.Reason == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "amount, reference and reason are required"})
		}

		var entry *models.LedgerEntry
		var err error
		if req.Amount > 0 {
			entry, err = ledger.Credit(c.Params("holder_id"), req.Amount, models.EntryTypeAdjustment, req.Reference, adminID, req.Reason)
		} else {
			entry, err = ledger.Debit(c.Params("holder_id"), -req.Amount, models.EntryTypeAdjustment, req.Reference, adminID, req.Reason)
		}
		if err != nil {
			return fail(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(entry)
	})
}
