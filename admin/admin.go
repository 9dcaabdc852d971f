// Package admin exposes the operator surface over HTTP: health, failed-work
// triage, and the skip / requeue resolutions of the failure cascade.
package admin

import (
	"github.com/CorventLabs/corvent/common"
	cn "github.com/CorventLabs/corvent/common/constant"
	"github.com/CorventLabs/corvent/common/mlog"
	"github.com/CorventLabs/corvent/coordination"
	"github.com/gofiber/fiber/v2"
)

// Handler serves the operator endpoints.
type Handler struct {
	Repo   coordination.Repository
	Logger mlog.Logger
}

// NewRouter builds the operator fiber app.
func NewRouter(logger mlog.Logger, repo coordination.Repository) *fiber.App {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})

	handler := &Handler{Repo: repo, Logger: logger}

	app.Get("/health", handler.Health)
	app.Get("/v1/work/failed", handler.ListFailed)
	app.Post("/v1/work/:source/:message_id/skip", handler.Skip)
	app.Post("/v1/work/:source/:message_id/requeue", handler.Requeue)

	return app
}

// Health reports liveness.
func (h *Handler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// ListFailed returns the failed rows of a source.
func (h *Handler) ListFailed(c *fiber.Ctx) error {
	source := cn.WorkSource(c.Query("source", string(cn.SourceOutbox)))
	if source != cn.SourceOutbox && source != cn.SourceInbox {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "source must be outbox or inbox"})
	}

	limit := c.QueryInt("limit", 100)

	items, err := h.Repo.ListFailedWork(c.UserContext(), source, limit)
	if err != nil {
		h.Logger.Errorf("failed to list failed work: %v", err)

		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	return c.JSON(fiber.Map{"items": items})
}

// Skip resolves a failed row as skipped: the stream unblocks without
// re-processing the message.
func (h *Handler) Skip(c *fiber.Ctx) error {
	return h.resolve(c, cn.ResolveSkip)
}

// Requeue resolves a failed row back to pending for a fresh attempt.
func (h *Handler) Requeue(c *fiber.Ctx) error {
	return h.resolve(c, cn.ResolveRequeue)
}

func (h *Handler) resolve(c *fiber.Ctx, action string) error {
	source := cn.WorkSource(c.Params("source"))
	if source != cn.SourceOutbox && source != cn.SourceInbox {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "source must be outbox or inbox"})
	}

	messageID := c.Params("message_id")

	err := h.Repo.ResolveFailedWork(c.UserContext(), source, messageID, action)
	if err != nil {
		switch err.(type) {
		case common.EntityNotFoundError:
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
		case common.ValidationError:
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		default:
			h.Logger.Errorf("failed to resolve %s/%s: %v", source, messageID, err)

			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": err.Error()})
		}
	}

	return c.JSON(fiber.Map{"status": action})
}
