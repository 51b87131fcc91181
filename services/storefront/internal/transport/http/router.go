package http

import (
	"net/http"
	"time"

	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/sakashimaa/media-store/services/storefront/internal/transport/http/handler"
)

type Handlers struct {
	Purchase *handler.PurchaseHandler
	Download *handler.DownloadHandler
}

type LimiterConfig struct {
	Max        int
	Expiration time.Duration
}

func NewApp(lc LimiterConfig) *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	app.Use(otelfiber.Middleware())

	if lc.Max > 0 {
		app.Use(limiter.New(limiter.Config{
			Max:        lc.Max,
			Expiration: lc.Expiration,
			KeyGenerator: func(c *fiber.Ctx) string {
				return c.IP()
			},
			LimitReached: func(c *fiber.Ctx) error {
				return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
					"error": "Too many requests. Try again later.",
				})
			},
		}))
	}

	return app
}

func RegisterRoutes(app *fiber.App, h *Handlers, metricsHandler http.Handler) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.SendString("Storefront is alive!")
	})

	if metricsHandler != nil {
		app.Get("/metrics", adaptor.HTTPHandler(metricsHandler))
	}

	app.Get("/download", h.Download.Download)

	api := app.Group("/api")
	api.Get("/products", h.Purchase.ListProducts)

	purchases := api.Group("/purchases")
	purchases.Post("", h.Purchase.Start)
	purchases.Post("/:orderID/capture", h.Purchase.Complete)
}
