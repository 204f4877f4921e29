package api

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"order-messenger/internal/engine"
	"order-messenger/internal/queue"
	"order-messenger/internal/resilience"
	"order-messenger/internal/transport"
)

type Handlers struct {
	logger    *zap.Logger
	engine    *engine.Engine
	exec      *resilience.Executor
	queue     queue.Queue
	transport transport.Transport
}

func NewHandlers(logger *zap.Logger, eng *engine.Engine, exec *resilience.Executor, q queue.Queue, t transport.Transport) *Handlers {
	return &Handlers{
		logger:    logger,
		engine:    eng,
		exec:      exec,
		queue:     q,
		transport: t,
	}
}

// HealthCheck handles GET /healthz
func (h *Handlers) HealthCheck(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	})
}

// ReadyCheck handles GET /readyz. The service is ready once its queue
// backend is selected; transport liveness is reported but not required,
// since jobs queue while the session is down.
func (h *Handlers) ReadyCheck(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":              "ready",
		"queue_backend":       h.queue.Backend(),
		"transport_connected": h.transport.Connected(c.Context()),
	})
}

// StartAutomation handles POST /v1/automation/start
func (h *Handlers) StartAutomation(c *fiber.Ctx) error {
	h.engine.Start()
	return c.JSON(fiber.Map{"status": "started"})
}

// StopAutomation handles POST /v1/automation/stop
func (h *Handlers) StopAutomation(c *fiber.Ctx) error {
	h.engine.Stop()
	return c.JSON(fiber.Map{"status": "stopped"})
}

// TriggerAutomation handles POST /v1/automation/trigger
func (h *Handlers) TriggerAutomation(c *fiber.Ctx) error {
	if err := h.engine.TriggerOnce(c.Context()); err != nil {
		h.logger.Error("manual cycle failed", zap.Error(err))
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(fiber.Map{"status": "triggered"})
}

// ForceProcess handles POST /v1/automation/force-process
func (h *Handlers) ForceProcess(c *fiber.Ctx) error {
	if err := h.engine.ForceProcessNewOrders(c.Context()); err != nil {
		h.logger.Error("force-process failed", zap.Error(err))
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(fiber.Map{"status": "forced"})
}

type resetRequest struct {
	ClearDurable bool `json:"clear_durable"`
}

// ResetTracking handles POST /v1/automation/reset-tracking. The durable
// sent-key set is only cleared on an explicit clear_durable=true.
func (h *Handlers) ResetTracking(c *fiber.Ctx) error {
	var req resetRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "invalid request body",
			})
		}
	}

	if err := h.engine.ResetTracking(c.Context(), req.ClearDurable); err != nil {
		h.logger.Error("reset tracking failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(fiber.Map{
		"status":          "reset",
		"cleared_durable": req.ClearDurable,
	})
}

// AutomationStatus handles GET /v1/automation/status
func (h *Handlers) AutomationStatus(c *fiber.Ctx) error {
	status := h.engine.Status()
	return c.JSON(fiber.Map{
		"is_running":          status.Running,
		"last_check":          status.LastCheck,
		"next_check":          status.NextCheck,
		"stats":               status.Stats,
		"queue_backend":       h.queue.Backend(),
		"transport_connected": h.transport.Connected(c.Context()),
	})
}

// ResilienceStats handles GET /v1/resilience/stats
func (h *Handlers) ResilienceStats(c *fiber.Ctx) error {
	return c.JSON(h.exec.Stats())
}

// ResilienceReset handles POST /v1/resilience/reset
func (h *Handlers) ResilienceReset(c *fiber.Ctx) error {
	h.exec.ResetStats()
	return c.JSON(fiber.Map{"status": "reset"})
}

// ResilienceHealth handles GET /v1/resilience/health
func (h *Handlers) ResilienceHealth(c *fiber.Ctx) error {
	health := h.exec.HealthCheck()
	code := fiber.StatusOK
	if health.Overall == resilience.StatusCritical {
		code = fiber.StatusServiceUnavailable
	}
	return c.Status(code).JSON(health)
}
