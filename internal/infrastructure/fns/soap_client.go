package fns

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/rs/zerolog"

	"github.com/jhoicas/receipt-cashback/internal/domain/entity"
	domainfns "github.com/jhoicas/receipt-cashback/internal/domain/fns"
)

// SOAPConfig parámetros del cliente SOAP.
type SOAPConfig struct {
	AuthURL   string
	AsyncURL  string
	UserToken string         // opcional: FNS-OpenApi-UserToken
	Timeout   time.Duration  // por llamada; 30 s por defecto
	MaxBatch  int            // máximo de MessageId por GetMessagesRequest
	Location  *time.Location // zona civil de la Autoridad
}

// SOAPClient implementa Client sobre el WS SOAP 1.1 de la Autoridad.
type SOAPClient struct {
	httpClient *http.Client
	cfg        SOAPConfig
	log        zerolog.Logger
}

var _ Client = (*SOAPClient)(nil)

// NewSOAPClient construye el cliente. Si httpClient es nil se crea uno con el timeout configurado.
func NewSOAPClient(cfg SOAPConfig, httpClient *http.Client, log zerolog.Logger) *SOAPClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = DefaultMaxBatch
	}
	if cfg.AuthURL == "" {
		cfg.AuthURL = DefaultAuthURL
	}
	if cfg.AsyncURL == "" {
		cfg.AsyncURL = DefaultAsyncURL
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &SOAPClient{httpClient: httpClient, cfg: cfg, log: log.With().Str("component", "fns-soap").Logger()}
}

// ── Authenticate ──────────────────────────────────────────────────────────────

// Authenticate intercambia el MasterToken por un token de sesión con vencimiento.
func (c *SOAPClient) Authenticate(ctx context.Context, masterToken string) (*entity.AuthorityToken, error) {
	if strings.TrimSpace(masterToken) == "" {
		return nil, domainfns.NewError(domainfns.KindInvalidCredential, OpAuthenticate, "master token vacío", nil)
	}
	payload, err := buildAuthEnvelope(masterToken)
	if err != nil {
		return nil, domainfns.NewError(domainfns.KindInvalidXML, OpAuthenticate, "serializar envelope", err)
	}
	body, err := c.call(ctx, OpAuthenticate, c.cfg.AuthURL, actionGetMsg, "", payload)
	if err != nil {
		return nil, err
	}
	result := findLocal(body, "AuthResponse")
	if result == nil {
		return nil, domainfns.NewError(domainfns.KindMalformedResponse, OpAuthenticate, "respuesta sin AuthResponse", nil)
	}
	if fault := extractFault(result); fault != nil {
		return nil, classifyFault(OpAuthenticate, fault)
	}
	token := textOf(result, "Token")
	expire := textOf(result, "ExpireTime")
	if token == "" || expire == "" {
		return nil, domainfns.NewError(domainfns.KindMalformedResponse, OpAuthenticate, "respuesta sin Token/ExpireTime", nil)
	}
	expiresAt, err := parseExpireTime(expire, c.cfg.Location)
	if err != nil {
		return nil, domainfns.NewError(domainfns.KindMalformedResponse, OpAuthenticate, "ExpireTime inválido", err)
	}
	c.log.Debug().Time("expires_at", expiresAt).Msg("token de sesión obtenido")
	return &entity.AuthorityToken{Value: token, ExpiresAt: expiresAt}, nil
}

// ── SubmitMessage ─────────────────────────────────────────────────────────────

// SubmitMessage envía GetTicketRequest de forma asíncrona y devuelve el MessageId.
func (c *SOAPClient) SubmitMessage(ctx context.Context, data entity.ReceiptFiscalData, token string) (string, error) {
	if token == "" {
		return "", domainfns.NewError(domainfns.KindMissingHeaders, OpSubmitMessage, "token de sesión vacío", nil)
	}
	payload, err := buildSendTicketEnvelope(data)
	if err != nil {
		return "", domainfns.NewError(domainfns.KindInvalidXML, OpSubmitMessage, "serializar envelope", err)
	}
	body, err := c.call(ctx, OpSubmitMessage, c.cfg.AsyncURL, actionSend, token, payload)
	if err != nil {
		return "", err
	}
	resp := findLocal(body, "SendMessageResponse")
	if resp == nil {
		return "", domainfns.NewError(domainfns.KindMalformedResponse, OpSubmitMessage, "respuesta sin SendMessageResponse", nil)
	}
	messageID := textOf(resp, "MessageId")
	if messageID == "" {
		return "", domainfns.NewError(domainfns.KindMalformedResponse, OpSubmitMessage, "respuesta sin MessageId", nil)
	}
	return messageID, nil
}

// ── FetchMessage / FetchMessages ──────────────────────────────────────────────

// FetchMessage consulta el estado de un mensaje enviado.
func (c *SOAPClient) FetchMessage(ctx context.Context, messageID, token string) (*FetchResult, error) {
	if token == "" {
		return nil, domainfns.NewError(domainfns.KindMissingHeaders, OpFetchMessage, "token de sesión vacío", nil)
	}
	payload, err := buildGetMessageEnvelope(messageID)
	if err != nil {
		return nil, domainfns.NewError(domainfns.KindInvalidXML, OpFetchMessage, "serializar envelope", err)
	}
	body, err := c.call(ctx, OpFetchMessage, c.cfg.AsyncURL, actionGetMsg, token, payload)
	if err != nil {
		return nil, err
	}
	resp := findLocal(body, "GetMessageResponse")
	if resp == nil {
		return nil, domainfns.NewError(domainfns.KindMalformedResponse, OpFetchMessage, "respuesta sin GetMessageResponse", nil)
	}
	res := c.parseMessageInfo(OpFetchMessage, resp)
	if res.MessageID == "" {
		res.MessageID = messageID
	}
	if res.Err != nil {
		return nil, res.Err
	}
	return &res, nil
}

// FetchMessages consulta varios mensajes en una sola llamada. Rechaza lotes con
// identificadores duplicados o que excedan el máximo, igual que la Autoridad.
func (c *SOAPClient) FetchMessages(ctx context.Context, messageIDs []string, token string) ([]FetchResult, error) {
	if err := ValidateBatch(messageIDs, c.cfg.MaxBatch); err != nil {
		return nil, err
	}
	if token == "" {
		return nil, domainfns.NewError(domainfns.KindMissingHeaders, OpFetchMessages, "token de sesión vacío", nil)
	}
	payload, err := buildGetMessagesEnvelope(messageIDs)
	if err != nil {
		return nil, domainfns.NewError(domainfns.KindInvalidXML, OpFetchMessages, "serializar envelope", err)
	}
	body, err := c.call(ctx, OpFetchMessages, c.cfg.AsyncURL, actionGetAll, token, payload)
	if err != nil {
		return nil, err
	}
	resp := findLocal(body, "GetMessagesResponse")
	if resp == nil {
		return nil, domainfns.NewError(domainfns.KindMalformedResponse, OpFetchMessages, "respuesta sin GetMessagesResponse", nil)
	}
	byID := make(map[string]FetchResult, len(messageIDs))
	for _, info := range findAllLocal(resp, "MessageInfo") {
		res := c.parseMessageInfo(OpFetchMessages, info)
		if res.MessageID != "" {
			byID[res.MessageID] = res
		}
	}
	// Un resultado por identificador solicitado, en el mismo orden. Un id omitido
	// es una respuesta de lote mal formada, no un mensaje vencido.
	out := make([]FetchResult, len(messageIDs))
	for i, id := range messageIDs {
		res, ok := byID[id]
		if !ok {
			res = FetchResult{
				MessageID: id,
				Err:       domainfns.NewError(domainfns.KindMalformedResponse, OpFetchMessages, "identificador ausente en la respuesta", nil),
			}
		}
		out[i] = res
	}
	return out, nil
}

// ValidateBatch replica la validación de GetMessagesRequest de la Autoridad.
func ValidateBatch(messageIDs []string, max int) error {
	if len(messageIDs) == 0 {
		return domainfns.NewError(domainfns.KindDuplicateOrExcessiveBatch, OpFetchMessages, "lote vacío", nil)
	}
	if max > 0 && len(messageIDs) > max {
		return domainfns.NewError(domainfns.KindDuplicateOrExcessiveBatch, OpFetchMessages,
			fmt.Sprintf("%d identificadores, máximo %d", len(messageIDs), max), nil)
	}
	seen := make(map[string]struct{}, len(messageIDs))
	for _, id := range messageIDs {
		if _, dup := seen[id]; dup {
			return domainfns.NewError(domainfns.KindDuplicateOrExcessiveBatch, OpFetchMessages,
				fmt.Sprintf("identificador duplicado %q", id), nil)
		}
		seen[id] = struct{}{}
	}
	return nil
}

// parseMessageInfo interpreta GetMessageResponse o un MessageInfo del lote.
func (c *SOAPClient) parseMessageInfo(op string, node *etree.Element) FetchResult {
	res := FetchResult{MessageID: textOf(node, "MessageId")}
	status := MessageStatus(strings.ToUpper(textOf(node, "ProcessingStatus")))
	switch status {
	case MessagePending, MessageProcessing:
		res.Status = status
		return res
	case MessageCompleted:
		res.Status = status
	default:
		if fault := extractFault(node); fault != nil {
			res.Err = classifyFault(op, fault)
			return res
		}
		res.Err = domainfns.NewError(domainfns.KindMalformedResponse, op, fmt.Sprintf("ProcessingStatus %q desconocido", status), nil)
		return res
	}
	ticketResp := findLocal(node, "GetTicketResponse")
	if ticketResp == nil {
		if fault := extractFault(node); fault != nil {
			res.Err = classifyFault(op, fault)
			return res
		}
		res.Err = domainfns.NewError(domainfns.KindMalformedResponse, op, "COMPLETED sin GetTicketResponse", nil)
		return res
	}
	answer, err := parseTicketAnswer(ticketResp, c.cfg.Location)
	if err != nil {
		res.Err = domainfns.NewError(domainfns.KindMalformedResponse, op, "GetTicketResponse ilegible", err)
		return res
	}
	res.Answer = answer
	return res
}

// ── Transporte ────────────────────────────────────────────────────────────────

// call envía el envelope y devuelve el Body ya parseado. Los SOAP Fault se
// devuelven como error clasificado.
func (c *SOAPClient) call(ctx context.Context, op, url, action, token string, payload []byte) (*etree.Element, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, domainfns.NewError(domainfns.KindNetwork, op, "crear request", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("SOAPAction", action)
	if token != "" {
		req.Header.Set(headerToken, token)
		if c.cfg.UserToken != "" {
			req.Header.Set(headerUserToken, c.cfg.UserToken)
		}
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Warn().Err(err).Str("op", op).Dur("elapsed", time.Since(start)).Msg("llamada a la Autoridad fallida")
		return nil, classifyTransport(ctx, op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20)) // max 1 MB
	if err != nil {
		return nil, classifyTransport(ctx, op, err)
	}
	c.log.Debug().Str("op", op).Int("status", resp.StatusCode).Dur("elapsed", time.Since(start)).Msg("respuesta de la Autoridad")

	body, parseErr := parseDocument(raw)
	if parseErr != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, classifyStatus(op, resp.StatusCode, snippet(raw))
		}
		return nil, domainfns.NewError(domainfns.KindMalformedResponse, op, snippet(raw), parseErr)
	}
	if fault := findChild(body, "Fault"); fault != nil {
		return nil, classifyFault(op, extractFault(body))
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, classifyStatus(op, resp.StatusCode, snippet(raw))
	}
	if resp.StatusCode >= 500 {
		return nil, classifyStatus(op, resp.StatusCode, snippet(raw))
	}
	return body, nil
}

// parseExpireTime acepta RFC3339 con o sin fracción; sin zona se interpreta en loc.
func parseExpireTime(s string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02T15:04:05.999999999", s, loc); err == nil {
		return t, nil
	}
	return time.ParseInLocation(entity.FiscalDateLayout, s, loc)
}

func snippet(raw []byte) string {
	const max = 256
	s := strings.TrimSpace(string(raw))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
