// Package status exposes a minimal machine-readable operational surface: liveness,
// readiness, and a point-in-time snapshot of online state, enumeration watermarks,
// and child-supervisor activity.
package status

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/helmet"
)

// Snapshot is the data source the status server reads on every request; callers
// provide a closure so the server never has to know about provider.Context directly.
type Snapshot struct {
	Online             bool
	WentOffline        time.Time
	LastEnumRun        time.Time
	MaxUserModstamp    string
	MaxGroupModstamp   string
	ActiveChildren     int64
	StoreOpen          bool
	EnumerationEnabled bool
}

// SnapshotFunc produces a fresh Snapshot on demand.
type SnapshotFunc func() Snapshot

// New builds the status app. snapshot is called once per request to /debug/status
// and /health/ready.
func New(snapshot SnapshotFunc) *fiber.App {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})

	app.Use(helmet.New())

	app.Get("/health/live", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "alive"})
	})

	app.Get("/health/ready", func(c *fiber.Ctx) error {
		snap := snapshot()

		if !snap.StoreOpen || (snap.EnumerationEnabled && snap.LastEnumRun.IsZero()) {
			c.Status(fiber.StatusServiceUnavailable)

			return c.JSON(fiber.Map{
				"status":     "not ready",
				"store_open": snap.StoreOpen,
				"enumerated": !snap.LastEnumRun.IsZero(),
			})
		}

		return c.JSON(fiber.Map{"status": "ready"})
	})

	app.Get("/debug/status", func(c *fiber.Ctx) error {
		snap := snapshot()

		return c.JSON(fiber.Map{
			"online":             snap.Online,
			"went_offline":       snap.WentOffline,
			"last_enum_run":      snap.LastEnumRun,
			"max_user_modstamp":  snap.MaxUserModstamp,
			"max_group_modstamp": snap.MaxGroupModstamp,
			"active_children":    snap.ActiveChildren,
		})
	})

	return app
}
