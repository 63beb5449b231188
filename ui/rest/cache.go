package rest

import (
	"github.com/flaviokalleu/whaticket/infrastructure/mediacache"
	"github.com/flaviokalleu/whaticket/pkg/utils"
	"github.com/gofiber/fiber/v2"
)

type Cache struct {
	Store *mediacache.Store
}

func InitRestCache(app fiber.Router, store *mediacache.Store) Cache {
	rest := Cache{Store: store}
	app.Get("/cache/stats", rest.GetStats)
	app.Post("/cache/clear", rest.Clear)
	app.Post("/cache/reconcile", rest.Reconcile)

	return rest
}

func (handler *Cache) GetStats(c *fiber.Ctx) error {
	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Media cache stats retrieved",
		Results: handler.Store.GetStats(),
	})
}

func (handler *Cache) Clear(c *fiber.Ctx) error {
	handler.Store.Clear()

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Media cache cleared successfully",
	})
}

func (handler *Cache) Reconcile(c *fiber.Ctx) error {
	handler.Store.ReconcileOrphans()

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Orphan reconciliation completed",
		Results: handler.Store.GetStats(),
	})
}
