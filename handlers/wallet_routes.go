package handlers

import (
	"points-reward-system/middleware"
	"points-reward-system/services"

	"github.com/gofiber/fiber/v2"
)

func SetupWalletRoutes(app *fiber.App, wallet *services.WalletService, ledger *services.LedgerService, rateLimit fiber.Handler) {
	secured := app.Group("/", middleware.UserContextMiddleware())

	secured.Get("/wallet", func(c *fiber.Ctx) error {
		acct, err := currentAccount(c, ledger)
		if err != nil {
			return errJSON(c, err)
		}
		balance, history, err := wallet.Wallet(acct.ID)
		if err != nil {
			return errJSON(c, err)
		}
		return c.JSON(fiber.Map{
			"balance": balance,
			"history": history,
		})
	})

	secured.Post("/wallet/redeem", rateLimit, func(c *fiber.Ctx) error {
		var req struct {
			Amount int64 `json:"amount"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "InvalidAmount"})
		}
		acct, err := currentAccount(c, ledger)
		if err != nil {
			return errJSON(c, err)
		}
		balance, err := wallet.Redeem(acct.ID, req.Amount)
		if err != nil {
			return errJSON(c, err)
		}
		return c.JSON(fiber.Map{"balance": balance})
	})

	secured.Post("/wallet/transfer", rateLimit, func(c *fiber.Ctx) error {
		var req struct {
			Recipient string `json:"recipient"`
			Amount    int64  `json:"amount"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "InvalidAmount"})
		}
		acct, err := currentAccount(c, ledger)
		if err != nil {
			return errJSON(c, err)
		}
		balance, err := wallet.Transfer(acct.ID, req.Recipient, req.Amount)
		if err != nil {
			return errJSON(c, err)
		}
		return c.JSON(fiber.Map{"balance": balance})
	})

	secured.Post("/wallet/daily-login", func(c *fiber.Ctx) error {
		acct, err := currentAccount(c, ledger)
		if err != nil {
			return errJSON(c, err)
		}
		balance, err := wallet.ClaimDailyLogin(acct.ID)
		if err != nil {
			return errJSON(c, err)
		}
		return c.JSON(fiber.Map{
			"balance": balance,
			"bonus":   wallet.DailyBonus,
		})
	})

	secured.Get("/users/leaderboard", func(c *fiber.Ctx) error {
		top, err := wallet.Leaderboard(c.QueryInt("limit", 10))
		if err != nil {
			return errJSON(c, err)
		}
		return c.JSON(top)
	})
}
