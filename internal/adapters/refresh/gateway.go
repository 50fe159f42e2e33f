// Package refresh triggers a gateway's route refresh over HTTP.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/melih/lighthouse-migrator/internal/core/domain"
	"go.uber.org/zap"
)

// DefaultURL is the Spring Cloud actuator refresh endpoint of a local gateway.
const DefaultURL = "http://localhost:9999/actuator/refresh"

const defaultTimeout = 10 * time.Second

// Gateway implements ports.Reloader for a gateway exposing a refresh endpoint.
type Gateway struct {
	url     string
	timeout time.Duration
	log     *zap.Logger
}

func NewGateway(url string, timeout time.Duration, log *zap.Logger) *Gateway {
	if url == "" {
		url = DefaultURL
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Gateway{url: url, timeout: timeout, log: log}
}

// Reload POSTs an empty JSON request to the refresh endpoint and returns the
// response body. Persisted routes are not rolled back when this fails.
func (g *Gateway) Reload(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", domain.ReloadError("refresh "+g.url, err)
	}
	timeout := g.timeout
	if deadline, ok := ctx.Deadline(); ok {
		left := time.Until(deadline)
		if left <= 0 {
			return "", domain.ReloadError("refresh "+g.url, context.DeadlineExceeded)
		}
		if left < timeout {
			timeout = left
		}
	}

	agent := fiber.Post(g.url).
		ContentType("application/json; charset=utf-8").
		Set(fiber.HeaderAccept, fiber.MIMEApplicationJSON).
		Timeout(timeout)
	if err := agent.Parse(); err != nil {
		fiber.ReleaseAgent(agent)
		return "", domain.ReloadError("refresh "+g.url, err)
	}

	code, body, errs := agent.Bytes()
	if len(errs) > 0 {
		return "", domain.ReloadError("refresh "+g.url, errors.Join(errs...))
	}
	resp := strings.TrimSpace(string(body))
	if code < 200 || code > 299 {
		return resp, domain.ReloadError("refresh "+g.url, fmt.Errorf("unexpected status %d: %s", code, resp))
	}

	g.log.Info("gateway routes refreshed", zap.String("url", g.url), zap.String("response", resp))
	return resp, nil
}
