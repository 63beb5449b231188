package rest

import (
	"github.com/flaviokalleu/whaticket/pkg/mediaworker"
	"github.com/flaviokalleu/whaticket/pkg/telemetry"
	"github.com/gofiber/fiber/v2"
)

type MonitoringHandler struct {
	recorder  *telemetry.Recorder
	mediaPool *mediaworker.MediaPool
	audioPool *mediaworker.AudioPool
}

// InitRestMonitoring registra los endpoints de monitoreo del pipeline
func InitRestMonitoring(app fiber.Router, recorder *telemetry.Recorder, mediaPool *mediaworker.MediaPool, audioPool *mediaworker.AudioPool) {
	h := &MonitoringHandler{recorder: recorder, mediaPool: mediaPool, audioPool: audioPool}

	g := app.Group("/monitoring")

	g.Get("/telemetry", h.GetTelemetry)
	g.Get("/pools", h.GetPools)
	g.Get("/alerts", h.GetAlerts)
}

func (h *MonitoringHandler) GetTelemetry(c *fiber.Ctx) error {
	return c.JSON(h.recorder.GetSnapshot())
}

func (h *MonitoringHandler) GetPools(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"media": h.mediaPool.GetStats(),
		"audio": h.audioPool.GetStats(),
	})
}

func (h *MonitoringHandler) GetAlerts(c *fiber.Ctx) error {
	return c.JSON(h.recorder.GetAlerts())
}
