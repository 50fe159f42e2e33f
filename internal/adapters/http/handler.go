package http

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/melih/lighthouse-migrator/internal/core/domain"
	"github.com/melih/lighthouse-migrator/internal/core/ports"
	"go.uber.org/zap"
)

type MigrationHandler struct {
	service ports.MigrationService
	log     *zap.Logger
}

func NewMigrationHandler(service ports.MigrationService, log *zap.Logger) *MigrationHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &MigrationHandler{service: service, log: log}
}

// Register mounts the admin API under /api/v1 and, when given, the metrics handler at /metrics.
func (h *MigrationHandler) Register(app *fiber.App, metrics http.Handler) {
	api := app.Group("/api")
	v1 := api.Group("/v1")

	containers := v1.Group("/containers")
	containers.Get("/", h.ListContainers)
	containers.Delete("/:id", h.Decommission)
	containers.Patch("/:id/resources", h.UpdateResources)

	migrations := v1.Group("/migrations")
	migrations.Post("/clone", h.MoveToNewContainer)
	migrations.Post("/redirect", h.MoveToExistingContainer)
	migrations.Get("/:id", h.GetMigration)

	upstreams := v1.Group("/upstreams")
	upstreams.Post("/", h.Balance)
	upstreams.Delete("/:name", h.Unbalance)

	v1.Post("/sweep", h.Sweep)

	if metrics != nil {
		// Fiber <-> Net/HTTP Adaptor
		app.Get("/metrics", adaptor.HTTPHandler(metrics))
	}
}

func (h *MigrationHandler) ListContainers(c *fiber.Ctx) error {
	containers, err := h.service.ListContainers(c.UserContext())
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(containers)
}

func (h *MigrationHandler) MoveToNewContainer(c *fiber.Ctx) error {
	var req ports.MoveRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	res, err := h.service.MoveToNewContainer(c.UserContext(), req)
	return h.result(c, fiber.StatusCreated, res, err)
}

func (h *MigrationHandler) MoveToExistingContainer(c *fiber.Ctx) error {
	var req ports.RedirectRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	res, err := h.service.MoveToExistingContainer(c.UserContext(), req)
	return h.result(c, fiber.StatusOK, res, err)
}

func (h *MigrationHandler) GetMigration(c *fiber.Ctx) error {
	res, err := h.service.Migration(c.UserContext(), c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(res)
}

// Decommission unroutes, stops and removes a container. Proxy routing needs
// ?fallback=host:port for the locations that pointed at it.
func (h *MigrationHandler) Decommission(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Container ID is required")
	}
	req := ports.DecommissionRequest{ContainerID: id}
	if fb := c.Query("fallback"); fb != "" {
		backend, err := domain.ParseBackend(fb)
		if err != nil {
			return badRequest(c, "Invalid fallback: "+err.Error())
		}
		req.Fallback = &backend
	}
	res, err := h.service.Decommission(c.UserContext(), req)
	return h.result(c, fiber.StatusOK, res, err)
}

func (h *MigrationHandler) UpdateResources(c *fiber.Ctx) error {
	var res domain.Resources
	if err := c.BodyParser(&res); err != nil {
		return badRequest(c, "Invalid request body")
	}
	upd, err := h.service.UpdateResources(c.UserContext(), c.Params("id"), res)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(upd)
}

func (h *MigrationHandler) Balance(c *fiber.Ctx) error {
	var req ports.BalanceRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	res, err := h.service.Balance(c.UserContext(), req)
	return h.result(c, fiber.StatusCreated, res, err)
}

func (h *MigrationHandler) Unbalance(c *fiber.Ctx) error {
	target := c.Query("target")
	if target == "" {
		return badRequest(c, "Query parameter target is required")
	}
	res, err := h.service.Unbalance(c.UserContext(), ports.UnbalanceRequest{Group: c.Params("name"), Target: target})
	return h.result(c, fiber.StatusOK, res, err)
}

func (h *MigrationHandler) Sweep(c *fiber.Ctx) error {
	report, err := h.service.Sweep(c.UserContext())
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(report)
}

// result writes a workflow result. A partial outcome is reported as 207 so
// callers notice the side effects that did happen.
func (h *MigrationHandler) result(c *fiber.Ctx, okStatus int, res domain.Result, err error) error {
	if err == nil {
		return c.Status(okStatus).JSON(res)
	}
	h.log.Warn("workflow failed",
		zap.String("migration_id", res.ID),
		zap.String("workflow", res.Workflow),
		zap.String("outcome", string(res.Outcome)),
		zap.Error(err))

	status := statusFor(err)
	if res.Outcome == domain.OutcomePartial {
		status = fiber.StatusMultiStatus
	}
	return c.Status(status).JSON(fiber.Map{
		"error":  err.Error(),
		"kind":   domain.KindOf(err).String(),
		"result": res,
	})
}

func (h *MigrationHandler) fail(c *fiber.Ctx, err error) error {
	status := statusFor(err)
	if status >= fiber.StatusInternalServerError {
		h.log.Error("request failed", zap.String("path", c.Path()), zap.Error(err))
	}
	return c.Status(status).JSON(fiber.Map{
		"error": err.Error(),
		"kind":  domain.KindOf(err).String(),
	})
}

func statusFor(err error) int {
	if errors.Is(err, domain.ErrNotFound) {
		return fiber.StatusNotFound
	}
	switch domain.KindOf(err) {
	case domain.KindValidation:
		return fiber.StatusBadRequest
	case domain.KindRuntime, domain.KindReload:
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error": msg,
	})
}
