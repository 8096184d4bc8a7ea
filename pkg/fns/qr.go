// Package fns decodifica el QR impreso en los tickets fiscales y valida los
// identificadores fiscales antes de enviarlos a la Autoridad.
package fns

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jhoicas/receipt-cashback/internal/domain/entity"
	domainfns "github.com/jhoicas/receipt-cashback/internal/domain/fns"
)

// Tags del QR del ticket fiscal.
const (
	TagTimestamp = "t"
	TagSum       = "s"
	TagFN        = "fn"
	TagFD        = "i"
	TagFP        = "fp"
	TagOperation = "n"
)

// requiredTags en el orden en que se reportan cuando faltan.
var requiredTags = []string{TagTimestamp, TagSum, TagFN, TagFD, TagFP}

// Formatos compactos del tag "t". El QR estándar no lleva segundos;
// algunos registradores los incluyen.
const (
	compactLayout        = "20060102T1504"
	compactLayoutSeconds = "20060102T150405"
)

var hundred = decimal.NewFromInt(100)

// QRDecoder convierte el contenido del QR en ReceiptFiscalData.
// Es una función pura: no hace I/O ni guarda estado.
type QRDecoder struct {
	loc *time.Location
}

// NewQRDecoder construye el decodificador. loc es la zona civil de la Autoridad;
// la hora del QR se interpreta como hora local de pared en esa zona (sin conversión).
func NewQRDecoder(loc *time.Location) *QRDecoder {
	if loc == nil {
		loc = time.UTC
	}
	return &QRDecoder{loc: loc}
}

// Decode acepta "t=...&s=...&fn=...&i=...&fp=...&n=..." o una URL que lo contenga como query.
// Reporta todos los campos obligatorios ausentes, no solo el primero.
func (d *QRDecoder) Decode(raw string) (entity.ReceiptFiscalData, error) {
	values := parsePayload(raw)

	var missing []string
	for _, tag := range requiredTags {
		if strings.TrimSpace(values.Get(tag)) == "" {
			missing = append(missing, tag)
		}
	}
	if len(missing) > 0 {
		return entity.ReceiptFiscalData{}, &domainfns.DecodeError{MissingFields: missing}
	}

	decErr := &domainfns.DecodeError{}
	sum, err := ParseAmount(values.Get(TagSum))
	if err != nil {
		decErr.MalformedAmount = true
	}
	date, err := d.parseTimestamp(values.Get(TagTimestamp))
	if err != nil {
		decErr.MalformedTimestamp = true
	}
	op := entity.OperationSale
	if n := strings.TrimSpace(values.Get(TagOperation)); n != "" {
		v, convErr := strconv.Atoi(n)
		if convErr != nil || !entity.OperationType(v).Valid() {
			decErr.Detail = fmt.Sprintf("tipo de operación %q inválido", n)
		} else {
			op = entity.OperationType(v)
		}
	}
	if decErr.MalformedAmount || decErr.MalformedTimestamp || decErr.Detail != "" {
		return entity.ReceiptFiscalData{}, decErr
	}

	return entity.ReceiptFiscalData{
		FN:            strings.TrimSpace(values.Get(TagFN)),
		FD:            strings.TrimSpace(values.Get(TagFD)),
		FP:            strings.TrimSpace(values.Get(TagFP)),
		Sum:           sum,
		Date:          date,
		TypeOperation: op,
	}, nil
}

// ParseAmount convierte un monto decimal en unidades mayores ("2400.00") a unidades
// menores, redondeando al entero más cercano. Rechaza montos no positivos.
func ParseAmount(s string) (int64, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("fns: monto %q inválido: %w", s, err)
	}
	minor := amount.Mul(hundred).Round(0)
	if !minor.IsPositive() {
		return 0, fmt.Errorf("fns: monto %q debe ser positivo", s)
	}
	if !minor.BigInt().IsInt64() {
		return 0, fmt.Errorf("fns: monto %q fuera de rango", s)
	}
	return minor.IntPart(), nil
}

// FormatAmount representa unidades menores como monto decimal en unidades mayores ("2400.00").
func FormatAmount(minor int64) string {
	return decimal.New(minor, -2).StringFixed(2)
}

func (d *QRDecoder) parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	layout := compactLayout
	if len(s) == len(compactLayoutSeconds) {
		layout = compactLayoutSeconds
	}
	t, err := time.ParseInLocation(layout, s, d.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("fns: fecha %q inválida: %w", s, err)
	}
	return t, nil
}

// parsePayload quita el prefijo URL (si lo hay) y parsea la query restante.
// Ignora errores de escape: los pares válidos se conservan.
func parsePayload(raw string) url.Values {
	s := strings.TrimSpace(raw)
	if i := strings.Index(s, "?"); i >= 0 {
		s = s[i+1:]
	}
	if i := strings.Index(s, "#"); i >= 0 {
		s = s[:i]
	}
	values := url.Values{}
	for _, pair := range strings.Split(s, "&") {
		if pair == "" {
			continue
		}
		key, value, _ := strings.Cut(pair, "=")
		if k, err := url.QueryUnescape(key); err == nil {
			key = k
		}
		if v, err := url.QueryUnescape(value); err == nil {
			value = v
		}
		key = strings.ToLower(strings.TrimSpace(key))
		if _, dup := values[key]; dup {
			continue // primer valor gana
		}
		values.Set(key, value)
	}
	return values
}
