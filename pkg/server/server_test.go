package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DIMO-Network/nsm-phony/pkg/attest"
	"github.com/DIMO-Network/nsm-phony/pkg/server"
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestDefaultLogger(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger := server.DefaultLogger("nsm-phony", &buf)
	logger.Info().Msg("hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "nsm-phony", entry["app"])
	require.Equal(t, "hello", entry["message"])
	require.Contains(t, entry, "time")
}

func TestSetLevel(t *testing.T) {
	prev := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(prev) })

	require.NoError(t, server.SetLevel(""))
	require.Equal(t, prev, zerolog.GlobalLevel())
	require.NoError(t, server.SetLevel("warn"))
	require.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())
	require.Error(t, server.SetLevel("loud"))
}

func TestWebServer(t *testing.T) {
	t.Parallel()
	logger := zerolog.New(zerolog.NewTestWriter(t))
	app := server.CreateWebServer(&logger)
	app.Get("/bad", func(*fiber.Ctx) error {
		return fiber.NewError(fiber.StatusBadRequest, "bad input")
	})
	app.Get("/boom", func(*fiber.Ctx) error {
		panic("boom")
	})
	app.Get("/logger", func(ctx *fiber.Ctx) error {
		if zerolog.Ctx(ctx.UserContext()).GetLevel() == zerolog.Disabled {
			return fiber.NewError(fiber.StatusInternalServerError, "no logger in context")
		}
		return ctx.SendStatus(fiber.StatusNoContent)
	})

	tests := []struct {
		path    string
		code    int
		message string
	}{
		{"/", fiber.StatusOK, ""},
		{"/bad", fiber.StatusBadRequest, "bad input"},
		{"/boom", fiber.StatusInternalServerError, "Internal error."},
		{"/missing", fiber.StatusNotFound, "Cannot GET /missing"},
		{"/logger", fiber.StatusNoContent, ""},
	}
	for _, tt := range tests {
		res, err := app.Test(httptest.NewRequest(http.MethodGet, tt.path, nil))
		require.NoError(t, err)
		require.Equal(t, tt.code, res.StatusCode, tt.path)
		if tt.message == "" {
			continue
		}
		var body struct {
			Message string `json:"message"`
			Code    int    `json:"code"`
		}
		require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
		require.Equal(t, tt.message, body.Message)
		require.Equal(t, tt.code, body.Code)
	}
}

func TestErrorHandlerAttestationResult(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	app := server.CreateWebServer(&logger)
	app.Get("/attestation", func(*fiber.Ctx) error {
		return fmt.Errorf("%w: %w", fiber.NewError(fiber.StatusInternalServerError, "Failed to get NSM attestation"), attest.ErrChainInvalid)
	})
	app.Get("/plain", func(*fiber.Ctx) error {
		return fiber.NewError(fiber.StatusBadRequest, "nonce too long")
	})

	res, err := app.Test(httptest.NewRequest(http.MethodGet, "/attestation", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusInternalServerError, res.StatusCode)
	var body struct {
		Message string `json:"message"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	require.Equal(t, "Failed to get NSM attestation", body.Message)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "chain_invalid", entry["result"])
	require.Equal(t, "attestation", entry["httpPath"])

	buf.Reset()
	res, err = app.Test(httptest.NewRequest(http.MethodGet, "/plain", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusBadRequest, res.StatusCode)
	entry = nil
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.NotContains(t, entry, "result")
}

func TestMonitoringServer(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	metrics, err := attest.NewMetrics(reg)
	require.NoError(t, err)
	metrics.Verifications("ok").Inc()

	app := server.CreateMonitoringServer(reg)
	res, err := app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), `nsm_attestation_verifications_total{result="ok"} 1`)
}

func TestRunFiberWithListener(t *testing.T) {
	t.Parallel()
	logger := zerolog.New(zerolog.NewTestWriter(t))
	app := server.CreateWebServer(&logger)
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	group, gCtx := errgroup.WithContext(ctx)
	server.RunFiberWithListener(gCtx, app, listener, group, &logger)

	client := &http.Client{Timeout: 5 * time.Second}
	require.Eventually(t, func() bool {
		res, err := client.Get("http://" + listener.Addr().String() + "/")
		if err != nil {
			return false
		}
		_ = res.Body.Close()
		return res.StatusCode == http.StatusOK
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	require.NoError(t, group.Wait())
}
