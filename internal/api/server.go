package api

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v3"
)

// NewServer builds the fiber app serving every API route.
func NewServer(handler *Handler) *fiber.App {
	app := fiber.New()

	app.Get("/health", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "healthy"})
	})

	for _, r := range routes {
		fn := func(c fiber.Ctx) error {
			p := params{}
			for _, seg := range segments(r.pattern) {
				if name, ok := strings.CutPrefix(seg, ":"); ok {
					p[name] = c.Params(name)
				}
			}
			resp := r.handle(handler, c.Context(), p, c.Body())
			return c.Status(resp.Status).JSON(resp.Body)
		}

		switch r.method {
		case http.MethodGet:
			app.Get(r.pattern, fn)
		case http.MethodPost:
			app.Post(r.pattern, fn)
		}
	}

	app.Use(func(c fiber.Ctx) error {
		return c.Status(http.StatusNotFound).JSON(ErrorResponse{
			Error:   http.StatusText(http.StatusNotFound),
			Message: "route not found",
		})
	})

	return app
}
