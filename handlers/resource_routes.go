package handlers

import (
	"arena-ledger-system/middleware"
	"arena-ledger-system/services"

	"github.com/gofiber/fiber/v2"
)

func SetupResourceRoutes(app *fiber.App, resourceService *services.ResourceService) {
	secured := app.Group("/", middleware.UserContextMiddleware())

	// Resource provisioning (Admin/Manager only)
	secured.Post("/resources", resourceService.CreateResource)
	secured.Get("/resources/:id", resourceService.GetResource)
	secured.Get("/resources/:id/reservations", resourceService.ListReservations)

	// Tournament registration & lifecycle
	secured.Post("/tournaments", resourceService.CreateTournament)
	secured.Patch("/tournaments/:id/status", resourceService.UpdateTournamentStatus)
	secured.Put("/tournaments/:id/standings", resourceService.UpsertStandings)
}
