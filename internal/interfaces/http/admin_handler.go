package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/receipt-cashback/internal/application/dto"
	"github.com/jhoicas/receipt-cashback/internal/application/verification"
)

// AdminHandler reportes del ledger (protegido, rol admin).
type AdminHandler struct {
	reporter *verification.Reporter
}

// NewAdminHandler construye el handler.
func NewAdminHandler(reporter *verification.Reporter) *AdminHandler {
	return &AdminHandler{reporter: reporter}
}

// Stats conteo por estado del día en curso.
// GET /api/admin/verification/stats
func (h *AdminHandler) Stats(c *fiber.Ctx) error {
	day, stats, err := h.reporter.Stats(c.Context())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(dto.Stats(day, stats))
}

// Quota uso de la cuota diaria.
// GET /api/admin/verification/quota
func (h *AdminHandler) Quota(c *fiber.Ctx) error {
	q, err := h.reporter.Quota(c.Context())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(dto.Quota(q))
}

// Get devuelve un request sin consultar a la Autoridad.
// GET /api/admin/verification/:id
func (h *AdminHandler) Get(c *fiber.Ctx) error {
	req, err := h.reporter.Get(c.Context(), c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(dto.Verification(req))
}

// Events log de transiciones de un request.
// GET /api/admin/verification/:id/events
func (h *AdminHandler) Events(c *fiber.Ctx) error {
	evs, err := h.reporter.Events(c.Context(), c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(dto.Events(evs))
}
