// Package fns define la taxonomía de errores del protocolo con la Autoridad fiscal.
package fns

import (
	"errors"
	"fmt"
	"strings"
)

// Kind clasificación estable de un error de la Autoridad o del transporte.
type Kind string

// Errores de autenticación.
const (
	KindIPNotAllowlisted  Kind = "IpNotAllowlisted"
	KindInvalidCredential Kind = "InvalidCredential"
	KindTimeout           Kind = "Timeout"
	KindNetwork           Kind = "Network"
	KindMalformedResponse Kind = "MalformedResponse"
)

// Errores de protocolo.
const (
	KindTokenRejected             Kind = "TokenRejected"
	KindMissingHeaders            Kind = "MissingHeaders"
	KindMessageNotFound           Kind = "MessageNotFound"
	KindRateLimited               Kind = "RateLimited"
	KindInvalidXML                Kind = "InvalidXml"
	KindUnmarshalling             Kind = "UnmarshallingError"
	KindDuplicateOrExcessiveBatch Kind = "DuplicateOrExcessiveBatch"
	KindInternalAuthority         Kind = "InternalAuthorityError"
)

// Retryable política de reintento de cada clase.
// TokenRejected se reintenta una sola vez tras renovar el token; lo decide el coordinador.
func (k Kind) Retryable() bool {
	switch k {
	case KindTimeout, KindNetwork, KindMalformedResponse, KindRateLimited, KindInternalAuthority, KindTokenRejected:
		return true
	}
	return false
}

// Error error clasificado de una llamada a la Autoridad.
type Error struct {
	Kind   Kind
	Op     string // authenticate, submitMessage, fetchMessage, fetchMessages
	Detail string // faultstring o descripción
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("fns")
	if e.Op != "" {
		b.WriteString(" " + e.Op)
	}
	b.WriteString(": " + string(e.Kind))
	if e.Detail != "" {
		b.WriteString(": " + e.Detail)
	}
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable atajo sobre Kind.Retryable.
func (e *Error) Retryable() bool { return e.Kind.Retryable() }

// NewError construye un error clasificado.
func NewError(kind Kind, op, detail string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Detail: detail, Err: cause}
}

// KindOf devuelve la clase de err o "" si no es un error de la Autoridad.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// IsKind indica si err es un *Error de la clase k.
func IsKind(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}

// DecodeError error local al decodificar el QR. Nunca se reintenta.
type DecodeError struct {
	MissingFields      []string
	MalformedAmount    bool
	MalformedTimestamp bool
	Detail             string
}

func (e *DecodeError) Error() string {
	var parts []string
	if len(e.MissingFields) > 0 {
		parts = append(parts, fmt.Sprintf("faltan campos: %s", strings.Join(e.MissingFields, ", ")))
	}
	if e.MalformedAmount {
		parts = append(parts, "monto inválido")
	}
	if e.MalformedTimestamp {
		parts = append(parts, "fecha inválida")
	}
	if e.Detail != "" {
		parts = append(parts, e.Detail)
	}
	if len(parts) == 0 {
		return "qr: inválido"
	}
	return "qr: " + strings.Join(parts, "; ")
}

// Missing indica si field figura entre los campos ausentes.
func (e *DecodeError) Missing(field string) bool {
	for _, f := range e.MissingFields {
		if f == field {
			return true
		}
	}
	return false
}
