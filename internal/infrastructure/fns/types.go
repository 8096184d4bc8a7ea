// Package fns implementa el cliente SOAP del servicio de verificación de tickets
// de la Autoridad fiscal (autenticación, envío asíncrono y consulta de mensajes).
package fns

import (
	"context"

	"github.com/jhoicas/receipt-cashback/internal/domain/entity"
)

// ── Constantes de entorno ──────────────────────────────────────────────────────

const (
	// AppEnvDev no contacta a la Autoridad: usa el simulador local.
	AppEnvDev = "dev"
	// AppEnvTest ambiente de pruebas de la Autoridad.
	AppEnvTest = "test"
	// AppEnvProd ambiente de producción.
	AppEnvProd = "prod"

	DefaultAuthURL  = "https://openapi.nalog.ru:8090/open-api/AuthService/0.1"
	DefaultAsyncURL = "https://openapi.nalog.ru:8090/open-api/ais3/KktService/0.1"

	// DefaultMaxBatch máximo de identificadores por GetMessagesRequest.
	DefaultMaxBatch = 100
)

// Namespaces publicados en los XSD de la Autoridad.
const (
	nsSOAP       = "http://schemas.xmlsoap.org/soap/envelope/"
	nsAuthBase   = "urn://x-artefacts-gnivc-ru/inplat/servin/OpenApiMessageConsumerService/types/1.0"
	nsAsyncBase  = "urn://x-artefacts-gnivc-ru/inplat/servin/OpenApiAsyncMessageConsumerService/types/1.0"
	nsAuthSvc    = "urn://x-artefacts-gnivc-ru/ais3/kkt/AuthService/types/1.0"
	nsTicketSvc  = "urn://x-artefacts-gnivc-ru/ais3/kkt/KktTicketService/types/1.0"
	actionGetMsg = "urn:GetMessageRequest"
	actionSend   = "urn:SendMessageRequest"
	actionGetAll = "urn:GetMessagesRequest"

	headerToken     = "FNS-OpenApi-Token"
	headerUserToken = "FNS-OpenApi-UserToken"
	contentType     = "text/xml;charset=UTF-8"
)

// Operaciones (para logs y errores clasificados).
const (
	OpAuthenticate  = "authenticate"
	OpSubmitMessage = "submitMessage"
	OpFetchMessage  = "fetchMessage"
	OpFetchMessages = "fetchMessages"
)

// MessageStatus estado de procesamiento reportado por la Autoridad.
type MessageStatus string

const (
	MessagePending    MessageStatus = "PENDING"
	MessageProcessing MessageStatus = "PROCESSING"
	MessageCompleted  MessageStatus = "COMPLETED"
)

// Códigos de negocio de GetTicketResponse.
const (
	TicketCodeFound = 200
)

// TicketAnswer contenido de GetTicketResponse una vez COMPLETED.
type TicketAnswer struct {
	Code    int
	Message string
	Ticket  *entity.ConfirmedTicket // nil si la Autoridad no devolvió el ticket
}

// Found indica si la Autoridad confirma la existencia del ticket.
func (a *TicketAnswer) Found() bool { return a != nil && a.Code == TicketCodeFound }

// FetchResult resultado de consultar un identificador de correlación.
// En la variante por lotes, Err lleva el error clasificado de ese identificador.
type FetchResult struct {
	MessageID string
	Status    MessageStatus
	Answer    *TicketAnswer
	Err       error
}

// Client puerto de salida hacia la Autoridad. La implementación real usa SOAP;
// en dev se inyecta el simulador y en tests un fake.
type Client interface {
	Authenticate(ctx context.Context, masterToken string) (*entity.AuthorityToken, error)
	SubmitMessage(ctx context.Context, data entity.ReceiptFiscalData, token string) (string, error)
	FetchMessage(ctx context.Context, messageID, token string) (*FetchResult, error)
	FetchMessages(ctx context.Context, messageIDs []string, token string) ([]FetchResult, error)
}
