package handlers

import (
	"points-reward-system/middleware"
	"points-reward-system/models"
	"points-reward-system/services"

	"github.com/gofiber/fiber/v2"
)

func SetupTaskRoutes(app *fiber.App, tasks *services.TaskService, verifier *services.VerifierService, ledger *services.LedgerService) {
	secured := app.Group("/", middleware.UserContextMiddleware())

	// --- Task submission ---

	secured.Post("/tasks/video", func(c *fiber.Ctx) error {
		var req struct {
			URL      string `json:"url"`
			Platform string `json:"platform"`
			Duration int    `json:"duration"`
			Watches  int    `json:"watches"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "InvalidTask"})
		}
		acct, err := currentAccount(c, ledger)
		if err != nil {
			return errJSON(c, err)
		}
		task, remaining, err := tasks.CreateVideoTask(acct.ID, req.URL, req.Platform, req.Duration, req.Watches)
		if err != nil {
			return errJSON(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{
			"task":            task,
			"remainingPoints": remaining,
		})
	})

	secured.Post("/tasks/social", func(c *fiber.Ctx) error {
		var req struct {
			URL      string `json:"url"`
			Platform string `json:"platform"`
			Actions  []struct {
				Type  string `json:"type"`
				Count int    `json:"count"`
			} `json:"actions"`
		}
		if err := c.BodyParser(&req); err != nil || len(req.Actions) == 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "InvalidTask"})
		}
		acct, err := currentAccount(c, ledger)
		if err != nil {
			return errJSON(c, err)
		}

		var created []*models.Task
		var remaining int64
		for _, a := range req.Actions {
			count := a.Count
			if count == 0 {
				count = 1
			}
			task, bal, err := tasks.CreateSocialTask(acct.ID, req.URL, req.Platform, models.ActionKind(a.Type), count)
			if err != nil {
				return errJSON(c, err)
			}
			created = append(created, task)
			remaining = bal
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{
			"task":            created[0],
			"tasks":           created,
			"remainingPoints": remaining,
			"message":         "Task submitted for promotion",
		})
	})

	// --- Feeds ---

	secured.Get("/tasks/video", func(c *fiber.Ctx) error {
		return listTasks(c, tasks, ledger, models.TaskTypeVideoWatch)
	})
	secured.Get("/tasks/social", func(c *fiber.Ctx) error {
		return listTasks(c, tasks, ledger, models.TaskTypeSocialAction)
	})

	secured.Get("/tasks/mine", func(c *fiber.Ctx) error {
		acct, err := currentAccount(c, ledger)
		if err != nil {
			return errJSON(c, err)
		}
		list, err := tasks.ListByOwner(acct.ID)
		if err != nil {
			return errJSON(c, err)
		}
		return c.JSON(list)
	})

	secured.Get("/tasks/promoted/:type/:platform", func(c *fiber.Ctx) error {
		acct, err := currentAccount(c, ledger)
		if err != nil {
			return errJSON(c, err)
		}
		taskType := models.TaskTypeVideoWatch
		if c.Params("type") != "watch" {
			taskType = models.TaskTypeSocialAction
		}
		task, err := tasks.SelectActiveTask(taskType, c.Params("platform"), acct.ID)
		if err != nil {
			return errJSON(c, err)
		}
		if task == nil {
			return c.JSON(fiber.Map{"task": nil})
		}
		return c.JSON(fiber.Map{"task": task})
	})

	secured.Get("/tasks/promoted-counts", func(c *fiber.Ctx) error {
		counts, err := tasks.PromotedCounts()
		if err != nil {
			return errJSON(c, err)
		}
		return c.JSON(fiber.Map{"counts": counts})
	})

	secured.Post("/tasks/promote/self", func(c *fiber.Ctx) error {
		var req struct {
			TaskID string `json:"taskId"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "InvalidTask"})
		}
		acct, err := currentAccount(c, ledger)
		if err != nil {
			return errJSON(c, err)
		}
		if err := tasks.SelfPromote(acct.ID, req.TaskID); err != nil {
			return errJSON(c, err)
		}
		return c.JSON(fiber.Map{"message": "Task promoted"})
	})

	// --- Completion flow ---

	start := func(c *fiber.Ctx) error {
		acct, err := currentAccount(c, ledger)
		if err != nil {
			return errJSON(c, err)
		}
		attempt, err := verifier.Start(acct.ID, c.Params("id"))
		if err != nil {
			return errJSON(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{
			"attemptId": attempt.ID,
			"deadline":  attempt.Deadline,
		})
	}
	secured.Post("/tasks/watch/:id/start", start)
	secured.Post("/tasks/social/:id/start", start)

	secured.Post("/tasks/watch/:id/complete", func(c *fiber.Ctx) error {
		var req struct {
			ElapsedSeconds int `json:"elapsedSeconds"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "NotVerifiable"})
		}
		acct, err := currentAccount(c, ledger)
		if err != nil {
			return errJSON(c, err)
		}
		attempt, newBalance, err := verifier.Complete(acct.ID, c.Params("id"), req.ElapsedSeconds, false)
		if err != nil {
			return errJSON(c, err)
		}
		task, err := tasks.ByID(attempt.TaskID)
		if err != nil {
			return errJSON(c, err)
		}
		return c.JSON(fiber.Map{
			"newBalance":   newBalance,
			"earnedPoints": task.RewardAmount,
		})
	})

	secured.Post("/tasks/social/:id/complete", func(c *fiber.Ctx) error {
		var req struct {
			ActionType string `json:"actionType"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "NotVerifiable"})
		}
		acct, err := currentAccount(c, ledger)
		if err != nil {
			return errJSON(c, err)
		}
		task, err := tasks.ByID(c.Params("id"))
		if err != nil {
			return errJSON(c, err)
		}
		if task.Action != models.ActionKind(req.ActionType) {
			return errJSON(c, services.ErrNotVerifiable)
		}
		_, newBalance, err := verifier.Complete(acct.ID, task.ID, 0, true)
		if err != nil {
			return errJSON(c, err)
		}
		return c.JSON(fiber.Map{
			"newBalance":   newBalance,
			"pointsEarned": task.RewardAmount,
		})
	})
}

func listTasks(c *fiber.Ctx, tasks *services.TaskService, ledger *services.LedgerService, taskType models.TaskType) error {
	acct, err := currentAccount(c, ledger)
	if err != nil {
		return errJSON(c, err)
	}
	list, err := tasks.ListActive(taskType, c.Query("platform"), acct.ID)
	if err != nil {
		return errJSON(c, err)
	}
	return c.JSON(list)
}
