package http

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/receipt-cashback/internal/application/auth"
	"github.com/jhoicas/receipt-cashback/internal/application/verification"
	pkgfns "github.com/jhoicas/receipt-cashback/pkg/fns"
	"github.com/jhoicas/receipt-cashback/pkg/jwt"
)

// RouterDeps dependencias para el router.
type RouterDeps struct {
	Decoder     *pkgfns.QRDecoder
	Coordinator *verification.Coordinator
	Reporter    *verification.Reporter
	Auth        *auth.AuthUseCase // nil = sin login (tokens emitidos fuera)
	Location    *time.Location
	JWTSecret   string
}

// Router registra las rutas de la API.
func Router(app *fiber.App, deps RouterDeps) {
	api := app.Group("/api")

	// Tickets (público: lo consume la app del cliente)
	receipts := api.Group("/receipts")
	receiptHandler := NewReceiptHandler(deps.Decoder, deps.Coordinator, deps.Location)
	receipts.Post("/parse", receiptHandler.Parse)
	receipts.Post("/verify", receiptHandler.Verify)
	receipts.Get("/verify/:id", receiptHandler.Status)

	if deps.Auth != nil {
		api.Post("/auth/login", NewAuthHandler(deps.Auth).Login)
	}

	// Reportes (Bearer Token + rol admin)
	admin := api.Group("/admin", AuthMiddleware(deps.JWTSecret), RequireRole(jwt.RoleAdmin))
	adminHandler := NewAdminHandler(deps.Reporter)
	verif := admin.Group("/verification")
	verif.Get("/stats", adminHandler.Stats)
	verif.Get("/quota", adminHandler.Quota)
	verif.Get("/:id", adminHandler.Get)
	verif.Get("/:id/events", adminHandler.Events)
}
