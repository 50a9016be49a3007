package handlers

import (
	"points-reward-system/middleware"
	"points-reward-system/models"
	"points-reward-system/services"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

func SetupAdminRoutes(app *fiber.App, wallet *services.WalletService, tasks *services.TaskService, ledger *services.LedgerService, db *gorm.DB) {
	admin := app.Group("/admin", middleware.UserContextMiddleware(), middleware.AdminOnly())

	adjust := func(kind models.EntryKind, sign int64) fiber.Handler {
		return func(c *fiber.Ctx) error {
			var req struct {
				Username string `json:"username"`
				Amount   int64  `json:"amount"`
			}
			if err := c.BodyParser(&req); err != nil || req.Amount <= 0 {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "InvalidAmount"})
			}
			balance, err := wallet.AdminAdjust(req.Username, sign*req.Amount, kind)
			if err != nil {
				return errJSON(c, err)
			}
			return c.JSON(fiber.Map{"balance": balance})
		}
	}
	admin.Post("/points/add", adjust(models.EntryAdminAdd, 1))
	admin.Post("/points/deduct", adjust(models.EntryAdminDeduct, -1))

	admin.Post("/points/reward-leaderboard", func(c *fiber.Ctx) error {
		var req struct {
			Amount  int64 `json:"amount"`
			Winners int   `json:"winners"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "InvalidAmount"})
		}
		winners, err := wallet.RewardLeaderboard(req.Amount, req.Winners)
		if err != nil {
			return errJSON(c, err)
		}
		return c.JSON(fiber.Map{
			"rewarded": len(winners),
			"winners":  winners,
		})
	})

	admin.Get("/users", func(c *fiber.Ctx) error {
		var accounts []models.Account
		if err := db.Order("created_at DESC").Find(&accounts).Error; err != nil {
			return errJSON(c, err)
		}
		return c.JSON(accounts)
	})

	admin.Post("/tasks/promote", func(c *fiber.Ctx) error {
		var req struct {
			TaskID   string `json:"taskId"`
			Promoted *bool  `json:"promoted"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "InvalidTask"})
		}
		promoted := true
		if req.Promoted != nil {
			promoted = *req.Promoted
		}
		if err := tasks.SetPromoted(req.TaskID, promoted); err != nil {
			return errJSON(c, err)
		}
		return c.JSON(fiber.Map{"message": "OK"})
	})

	// Account deletion is a soft-disable; the ledger history stays.
	admin.Post("/users/:id/disable", func(c *fiber.Ctx) error {
		if err := ledger.Disable(c.Params("id")); err != nil {
			return errJSON(c, err)
		}
		return c.JSON(fiber.Map{"message": "Account disabled"})
	})

	admin.Delete("/tasks/:id", func(c *fiber.Ctx) error {
		if err := tasks.Remove(c.Params("id")); err != nil {
			return errJSON(c, err)
		}
		return c.JSON(fiber.Map{"message": "Task removed"})
	})
}
