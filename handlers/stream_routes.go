package handlers

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"points-reward-system/middleware"
	"points-reward-system/services"
	"points-reward-system/utils"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
)

// walletUpdatedFrame is the WS payload the front-end listens for.
type walletUpdatedFrame struct {
	Event string                `json:"event"`
	Data  services.BalanceEvent `json:"data"`
}

func SetupStreamRoutes(app *fiber.App, relay *services.Relay, ledger *services.LedgerService) {
	streamAuth := middleware.StreamAuthMiddleware(os.Getenv("POINTS_SERVICE_TOKEN"))

	// SSE stream of balance changes for the connected user.
	app.Get("/wallet/stream", streamAuth, func(c *fiber.Ctx) error {
		acct, err := currentAccount(c, ledger)
		if err != nil {
			return errJSON(c, err)
		}

		c.Set("Content-Type", "text/event-stream")
		c.Set("Cache-Control", "no-cache")
		c.Set("Connection", "keep-alive")
		c.Set("X-Accel-Buffering", "no") // nginx

		ctx := c.Context()
		events := relay.Subscribe(acct.ID)

		ctx.SetBodyStreamWriter(func(w *bufio.Writer) {
			defer relay.Unsubscribe(acct.ID, events)

			keepalive := time.NewTicker(15 * time.Second)
			defer keepalive.Stop()

			// Initial keepalive (comment event)
			w.WriteString(":\n\n")
			w.Flush()

			for {
				select {
				case ev := <-events:
					payload, _ := json.Marshal(ev)
					fmt.Fprintf(w, "event: walletUpdated\ndata: %s\n\n", payload)
					if err := w.Flush(); err != nil {
						// Client disconnected
						return
					}
				case <-keepalive.C:
					w.WriteString(":\n\n")
					if err := w.Flush(); err != nil {
						return
					}
				case <-ctx.Done():
					return
				}
			}
		})
		return nil
	})

	// WebSocket variant emitting walletUpdated frames.
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/wallet", streamAuth, websocket.New(func(conn *websocket.Conn) {
		userID, _ := conn.Locals("user_id").(string)
		username, _ := conn.Locals("username").(string)
		if username == "" {
			username = userID
		}
		acct, err := ledger.EnsureAccount(userID, username)
		if err != nil {
			utils.Sugar.Errorw("ws account resolve failed", "user_id", userID, "err", err)
			return
		}

		events := relay.Subscribe(acct.ID)
		defer relay.Unsubscribe(acct.ID, events)

		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case ev := <-events:
				if err := conn.WriteJSON(walletUpdatedFrame{Event: "walletUpdated", Data: ev}); err != nil {
					return
				}
			case <-closed:
				return
			}
		}
	}))
}
