// Package httpapi exposes weather, tracking and report operations over HTTP.
package httpapi

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/shamanicyogi/insurance-compliance-web-sub000/internal/logger"
)

const serviceName = "snowlog"

// Options configures the Fiber app.
type Options struct {
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	BodyLimit    int // bytes; zero keeps Fiber's default
}

// NewApp builds a Fiber app with centralized JSON errors, panic recovery
// and request logging, and registers every route.
//
// Immutable is required: params, query values and bodies end up inside
// stored events and cache keys, and must not alias Fiber's request buffers.
func NewApp(opts Options, svc Services) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               serviceName,
		DisableStartupMessage: true,
		Immutable:             true,
		ReadTimeout:           opts.ReadTimeout,
		WriteTimeout:          opts.WriteTimeout,
		BodyLimit:             opts.BodyLimit,
		ErrorHandler:          errorHandler,
	})

	app.Use(recover.New())
	app.Use(requestLogger)

	RegisterRoutes(app, svc)
	return app
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}

	message := err.Error()
	if code >= fiber.StatusInternalServerError && fe == nil {
		logger.LogStructuredError(err, map[string]any{
			"method": c.Method(),
			"path":   c.Path(),
		})
		message = "internal error"
	}

	return c.Status(code).JSON(fiber.Map{
		"error":   true,
		"message": message,
	})
}

func requestLogger(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()

	status := c.Response().StatusCode()
	if err != nil {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			status = fe.Code
		} else {
			status = fiber.StatusInternalServerError
		}
	}
	logger.LogAPIResponse(c.Method(), c.OriginalURL(), status, time.Since(start), len(c.Response().Body()))
	return err
}
