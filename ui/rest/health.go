package rest

import (
	"github.com/flaviokalleu/whaticket/pkg/utils"
	"github.com/gofiber/fiber/v2"
)

// HealthPinger reports whether an optional backing service is reachable.
type HealthPinger interface {
	IsConnected() bool
}

type Health struct {
	Version string
	Pinger  HealthPinger
}

func InitRestHealth(app fiber.Router, version string, pinger HealthPinger) Health {
	rest := Health{Version: version, Pinger: pinger}
	app.Get("/health", rest.Status)

	return rest
}

func (handler *Health) Status(c *fiber.Ctx) error {
	valkeyStatus := "disabled"
	if handler.Pinger != nil {
		if handler.Pinger.IsConnected() {
			valkeyStatus = "connected"
		} else {
			valkeyStatus = "unreachable"
		}
	}

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Service healthy",
		Results: fiber.Map{
			"version": handler.Version,
			"valkey":  valkeyStatus,
		},
	})
}
