package http

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/receipt-cashback/internal/application/dto"
	"github.com/jhoicas/receipt-cashback/internal/application/verification"
	"github.com/jhoicas/receipt-cashback/internal/domain"
	"github.com/jhoicas/receipt-cashback/internal/domain/entity"
	domainfns "github.com/jhoicas/receipt-cashback/internal/domain/fns"
	pkgfns "github.com/jhoicas/receipt-cashback/pkg/fns"
)

// ReceiptHandler decodificación y verificación de tickets fiscales.
type ReceiptHandler struct {
	decoder *pkgfns.QRDecoder
	coord   *verification.Coordinator
	loc     *time.Location
}

// NewReceiptHandler construye el handler. loc es la zona civil de la Autoridad.
func NewReceiptHandler(decoder *pkgfns.QRDecoder, coord *verification.Coordinator, loc *time.Location) *ReceiptHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &ReceiptHandler{decoder: decoder, coord: coord, loc: loc}
}

// Parse decodifica el QR sin contactar a la Autoridad.
// POST /api/receipts/parse
func (h *ReceiptHandler) Parse(c *fiber.Ctx) error {
	var in dto.ParseReceiptRequest
	if err := c.BodyParser(&in); err != nil || strings.TrimSpace(in.QR) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_BODY", Message: "qr requerido"})
	}
	data, err := h.decoder.Decode(in.QR)
	if err != nil {
		var decErr *domainfns.DecodeError
		if errors.As(err, &decErr) {
			return c.Status(fiber.StatusUnprocessableEntity).JSON(dto.ParseReceiptResponse{
				Success:       false,
				Error:         decErr.Error(),
				MissingFields: decErr.MissingFields,
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Code: "INTERNAL", Message: err.Error()})
	}
	receipt := dto.ReceiptData(data)
	return c.JSON(dto.ParseReceiptResponse{Success: true, Data: &receipt})
}

// Verify admite el ticket y lo envía a la Autoridad. Devuelve 202 mientras la
// verificación está en curso y 200 si ya es final (reutilizada o rechazada por cuota).
// POST /api/receipts/verify
func (h *ReceiptHandler) Verify(c *fiber.Ctx) error {
	var in dto.VerifyReceiptRequest
	if err := c.BodyParser(&in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_BODY", Message: "cuerpo inválido"})
	}
	data, err := h.fiscalData(in)
	if err != nil {
		var decErr *domainfns.DecodeError
		if errors.As(err, &decErr) {
			return c.Status(fiber.StatusUnprocessableEntity).JSON(dto.ParseReceiptResponse{
				Success:       false,
				Error:         decErr.Error(),
				MissingFields: decErr.MissingFields,
			})
		}
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: err.Error()})
	}

	req, err := h.coord.Submit(c.Context(), data)
	if err != nil {
		return writeError(c, err)
	}
	status := fiber.StatusAccepted
	if req.State.IsTerminal() {
		status = fiber.StatusOK
	}
	return c.Status(status).JSON(dto.Verification(req))
}

// Status consulta (a lo sumo una vez) a la Autoridad y devuelve el estado actual.
// GET /api/receipts/verify/:id
func (h *ReceiptHandler) Status(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: "id requerido"})
	}
	req, err := h.coord.Poll(c.Context(), id)
	if err != nil && !(errors.Is(err, domain.ErrConflict) && req != nil) {
		return writeError(c, err)
	}
	return c.JSON(dto.Verification(req))
}

// fiscalData arma los datos desde el QR o desde los campos explícitos.
func (h *ReceiptHandler) fiscalData(in dto.VerifyReceiptRequest) (entity.ReceiptFiscalData, error) {
	if strings.TrimSpace(in.QR) != "" {
		return h.decoder.Decode(in.QR)
	}
	sum := in.Sum
	if in.Amount.Valid {
		minor, err := pkgfns.ParseAmount(in.Amount.Decimal.String())
		if err != nil {
			return entity.ReceiptFiscalData{}, err
		}
		sum = minor
	}
	var date time.Time
	if in.Date != "" {
		d, err := time.ParseInLocation(entity.FiscalDateLayout, in.Date, h.loc)
		if err != nil {
			return entity.ReceiptFiscalData{}, errors.New("date debe tener formato YYYY-MM-DDTHH:MM:SS")
		}
		date = d
	}
	return entity.ReceiptFiscalData{
		FN:            strings.TrimSpace(in.FN),
		FD:            strings.TrimSpace(in.FD),
		FP:            strings.TrimSpace(in.FP),
		Sum:           sum,
		Date:          date,
		TypeOperation: entity.OperationType(in.TypeOperation),
	}, nil
}

// writeError traduce errores de dominio a respuestas HTTP.
func writeError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: err.Error()})
	case errors.Is(err, domain.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Code: "NOT_FOUND", Message: "verificación no encontrada"})
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrInvalidTransition):
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Code: "CONFLICT", Message: err.Error()})
	case errors.Is(err, domain.ErrForbidden):
		return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{Code: "FORBIDDEN", Message: "acceso denegado"})
	}
	if domainfns.KindOf(err) != "" {
		return c.Status(fiber.StatusBadGateway).JSON(dto.ErrorResponse{Code: "AUTHORITY_ERROR", Message: err.Error()})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Code: "INTERNAL", Message: err.Error()})
}
