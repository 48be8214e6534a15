package main

import (
	"context"
	"errors"
	"log"

	"github.com/gofiber/fiber/v3"
	"github.com/spf13/cobra"

	"github.com/triagekit/malguard/pkg/config"
	"github.com/triagekit/malguard/pkg/ml"
	"github.com/triagekit/malguard/pkg/triage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP classification API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if serveAddr != "" {
			cfg.ListenAddr = serveAddr
		}

		engine, cleanup, err := newEngine(cfg)
		if err != nil {
			return err
		}
		defer cleanup()

		return runServer(cfg, engine)
	},
}

func runServer(cfg *config.Config, engine *triage.Engine) error {
	app := fiber.New(fiber.Config{
		AppName: "MalGuard",
	})

	app.Get("/health", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "version": Version})
	})

	app.Post("/v1/classify/url", func(c fiber.Ctx) error {
		var req struct {
			URL string `json:"url"`
		}
		if err := c.Bind().Body(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid request"})
		}
		if req.URL == "" {
			return c.Status(400).JSON(fiber.Map{"error": "url field is required"})
		}

		ctx, cancel := context.WithTimeout(c.Context(), cfg.RequestTimeout)
		defer cancel()

		res, err := engine.ClassifyURL(ctx, req.URL)
		if err != nil {
			return classifyError(c, err)
		}
		return c.JSON(res)
	})

	app.Post("/v1/classify/command", func(c fiber.Ctx) error {
		var req struct {
			Command string `json:"command"`
			Unsafe  bool   `json:"unsafe"`
		}
		if err := c.Bind().Body(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid request"})
		}
		if req.Command == "" {
			return c.Status(400).JSON(fiber.Map{"error": "command field is required"})
		}

		ctx, cancel := context.WithTimeout(c.Context(), cfg.RequestTimeout)
		defer cancel()

		res, err := engine.ClassifyCommand(ctx, req.Command,
			triage.CommandOptions{Unsafe: req.Unsafe})
		if err != nil {
			return classifyError(c, err)
		}
		return c.JSON(res)
	})

	log.Printf("MalGuard HTTP server starting on %s", cfg.ListenAddr)
	log.Printf("Endpoints:")
	log.Printf("  GET  /health               - Health check")
	log.Printf("  POST /v1/classify/url      - URL classification")
	log.Printf("  POST /v1/classify/command  - Command classification")

	return app.Listen(cfg.ListenAddr)
}

// classifyError maps pipeline errors onto HTTP statuses: rejected input is
// the caller's problem, a missing model is the deployment's.
func classifyError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, triage.ErrEmptyInput), triage.IsValidationError(err):
		return c.Status(422).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, ml.ErrModelUnavailable):
		return c.Status(503).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, context.DeadlineExceeded):
		return c.Status(504).JSON(fiber.Map{"error": "classification timed out"})
	default:
		return c.Status(500).JSON(fiber.Map{"error": err.Error()})
	}
}
