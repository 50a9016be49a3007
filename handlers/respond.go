package handlers

import (
	"points-reward-system/models"
	"points-reward-system/services"
	"points-reward-system/utils"

	"github.com/gofiber/fiber/v2"
)

// errJSON turns a domain error into the stable {error: kind} body the
// front-end switches on. Infrastructure errors are not leaked.
func errJSON(c *fiber.Ctx, err error) error {
	status := services.HTTPStatus(err)
	kind := err.Error()
	if status == fiber.StatusInternalServerError {
		utils.Sugar.Errorw("request failed", "path", c.Path(), "err", err)
		kind = "InternalError"
	}
	return c.Status(status).JSON(fiber.Map{"error": kind})
}

// currentAccount resolves the gateway identity to the local account,
// creating it (with the signup bonus) on first touch.
func currentAccount(c *fiber.Ctx, ledger *services.LedgerService) (*models.Account, error) {
	userID, _ := c.Locals("user_id").(string)
	username, _ := c.Locals("username").(string)
	if username == "" {
		username = userID
	}
	return ledger.EnsureAccount(userID, username)
}
