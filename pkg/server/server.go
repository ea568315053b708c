package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/DIMO-Network/nsm-phony/pkg/attest"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// CreateWebServer creates a fiber app that serves attestation endpoints and renders errors as JSON.
// Handlers read the logger with zerolog.Ctx(ctx.UserContext()).
func CreateWebServer(logger *zerolog.Logger) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			return ErrorHandler(c, err, logger)
		},
		DisableStartupMessage: true,
	})
	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))
	app.Use(func(ctx *fiber.Ctx) error {
		ctx.SetUserContext(logger.WithContext(ctx.UserContext()))
		return ctx.Next()
	})
	app.Get("/", HealthCheck)
	return app
}

// HealthCheck godoc
// @Summary Show the status of the attestation service.
// @Description get the status of the attestation service.
// @Tags root
// @Accept */*
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router / [get]
func HealthCheck(ctx *fiber.Ctx) error {
	return ctx.JSON(map[string]any{
		"data": "Attestation service is up and running",
	})
}

// ErrorHandler logs failed requests and renders them as JSON. Attestation failures are logged
// with the same result label the verification metrics use.
func ErrorHandler(ctx *fiber.Ctx, err error, logger *zerolog.Logger) error {
	code := fiber.StatusInternalServerError
	message := "Internal error."

	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
		message = e.Message
	}

	if code == fiber.StatusNotFound {
		return ctx.Status(code).JSON(codeResp{Code: code, Message: message})
	}

	event := logger.Err(err).Int("httpStatusCode", code).
		Str("httpPath", strings.TrimPrefix(ctx.Path(), "/")).
		Str("httpMethod", ctx.Method())
	var attestErr attest.AttestError
	if errors.As(err, &attestErr) {
		event = event.Str("result", attest.ResultLabel(err))
	}
	event.Msg("Request failed.")

	return ctx.Status(code).JSON(codeResp{Code: code, Message: message})
}

type codeResp struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// RunFiberWithListener serves fiberApp on listener in group and shuts it down when ctx is done.
func RunFiberWithListener(ctx context.Context, fiberApp *fiber.App, listener net.Listener, group *errgroup.Group, logger *zerolog.Logger) {
	group.Go(func() error {
		logger.Info().Str("addr", listener.Addr().String()).Msg("Serving attestation endpoints.")
		if err := fiberApp.Listener(listener); err != nil {
			return fmt.Errorf("failed to serve on %s: %w", listener.Addr(), err)
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		logger.Info().Msg("Shutting down attestation endpoints.")
		if err := fiberApp.Shutdown(); err != nil {
			return fmt.Errorf("failed to shut down server: %w", err)
		}
		return nil
	})
}
