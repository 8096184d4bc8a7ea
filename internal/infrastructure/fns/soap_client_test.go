package fns_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"

	"github.com/jhoicas/receipt-cashback/internal/domain/entity"
	domainfns "github.com/jhoicas/receipt-cashback/internal/domain/fns"
	infrafns "github.com/jhoicas/receipt-cashback/internal/infrastructure/fns"
)

// ──────────────────────────────────────────────────────────────────────────────
// Helpers: servidor SOAP falso que responde según el SOAPAction recibido.
// ──────────────────────────────────────────────────────────────────────────────

type soapHandler func(action string, header http.Header, body string) (int, string)

func newTestServer(t *testing.T, h soapHandler) (*httptest.Server, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		raw, _ := io.ReadAll(r.Body)
		status, resp := h(r.Header.Get("SOAPAction"), r.Header, string(raw))
		w.Header().Set("Content-Type", "text/xml;charset=UTF-8")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, resp)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func newClient(srv *httptest.Server, timeout time.Duration) *infrafns.SOAPClient {
	return infrafns.NewSOAPClient(infrafns.SOAPConfig{
		AuthURL:   srv.URL + "/auth",
		AsyncURL:  srv.URL + "/async",
		UserToken: "user-1",
		Timeout:   timeout,
		MaxBatch:  3,
		Location:  time.FixedZone("MSK", 3*60*60),
	}, nil, zerolog.Nop())
}

func envelope(body string) string {
	return `<?xml version="1.0" encoding="UTF-8"?>` +
		`<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/"><soap:Body>` +
		body + `</soap:Body></soap:Envelope>`
}

func fault(text string) string {
	return envelope(`<soap:Fault><faultcode>soap:Server</faultcode><faultstring>` + text + `</faultstring></soap:Fault>`)
}

func testData() entity.ReceiptFiscalData {
	return entity.ReceiptFiscalData{
		FN: "9287440300090728", FD: "77133", FP: "1482926127", Sum: 240000,
		Date:          time.Date(2019, 4, 9, 16, 38, 0, 0, time.FixedZone("MSK", 3*60*60)),
		TypeOperation: entity.OperationSale,
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Authenticate
// ──────────────────────────────────────────────────────────────────────────────

func TestAuthenticate_ExtraeTokenYVencimiento(t *testing.T) {
	var gotBody, gotAction, gotCT string
	srv, _ := newTestServer(t, func(action string, h http.Header, body string) (int, string) {
		gotAction, gotBody, gotCT = action, body, h.Get("Content-Type")
		return http.StatusOK, envelope(`<ns2:GetMessageResponse xmlns:ns2="urn:x"><ns2:Message>` +
			`<tns:AuthResponse xmlns:tns="urn:y"><tns:Result><tns:Token>tok-123</tns:Token>` +
			`<tns:ExpireTime>2019-04-10T15:23:44.000+03:00</tns:ExpireTime></tns:Result></tns:AuthResponse>` +
			`</ns2:Message></ns2:GetMessageResponse>`)
	})
	c := newClient(srv, time.Second)

	tok, err := c.Authenticate(context.Background(), "master-secret")
	require.NoError(t, err)
	assert.Equal(t, "tok-123", tok.Value)
	assert.Equal(t, time.Date(2019, 4, 10, 12, 23, 44, 0, time.UTC), tok.ExpiresAt.UTC())
	assert.Equal(t, "urn:GetMessageRequest", gotAction)
	assert.Equal(t, "text/xml;charset=UTF-8", gotCT)
	assert.Contains(t, gotBody, "<tns:MasterToken>master-secret</tns:MasterToken>")
	assert.Contains(t, gotBody, "urn://x-artefacts-gnivc-ru/ais3/kkt/AuthService/types/1.0")
}

func TestAuthenticate_SinPrefijos(t *testing.T) {
	srv, _ := newTestServer(t, func(string, http.Header, string) (int, string) {
		return http.StatusOK, `<Envelope><Body><GetMessageResponse><Message><AuthResponse><Result>` +
			`<Token>abc</Token><ExpireTime>2019-04-10T15:23:44Z</ExpireTime>` +
			`</Result></AuthResponse></Message></GetMessageResponse></Body></Envelope>`
	})
	tok, err := newClient(srv, time.Second).Authenticate(context.Background(), "m")
	require.NoError(t, err)
	assert.Equal(t, "abc", tok.Value)
}

func TestAuthenticate_IPNoPermitida(t *testing.T) {
	srv, _ := newTestServer(t, func(string, http.Header, string) (int, string) {
		return http.StatusInternalServerError, fault("Доступ к сервису для переданного IP, запрещен")
	})
	_, err := newClient(srv, time.Second).Authenticate(context.Background(), "m")
	require.Error(t, err)
	assert.True(t, domainfns.IsKind(err, domainfns.KindIPNotAllowlisted))
	assert.False(t, domainfns.KindOf(err).Retryable())
}

func TestAuthenticate_FaultDeNegocio(t *testing.T) {
	srv, _ := newTestServer(t, func(string, http.Header, string) (int, string) {
		return http.StatusOK, envelope(`<GetMessageResponse><Message><AuthResponse>` +
			`<Fault><Message>Неверный мастер-токен</Message></Fault></AuthResponse></Message></GetMessageResponse>`)
	})
	_, err := newClient(srv, time.Second).Authenticate(context.Background(), "m")
	assert.True(t, domainfns.IsKind(err, domainfns.KindInvalidCredential), "err=%v", err)
}

func TestAuthenticate_MasterVacio(t *testing.T) {
	srv, calls := newTestServer(t, func(string, http.Header, string) (int, string) { return http.StatusOK, "" })
	_, err := newClient(srv, time.Second).Authenticate(context.Background(), "")
	assert.True(t, domainfns.IsKind(err, domainfns.KindInvalidCredential))
	assert.Equal(t, int32(0), atomic.LoadInt32(calls))
}

// ──────────────────────────────────────────────────────────────────────────────
// SubmitMessage
// ──────────────────────────────────────────────────────────────────────────────

func TestSubmitMessage_DevuelveMessageId(t *testing.T) {
	var header http.Header
	var body string
	srv, _ := newTestServer(t, func(action string, h http.Header, b string) (int, string) {
		header, body = h, b
		assert.Equal(t, "urn:SendMessageRequest", action)
		return http.StatusOK, envelope(`<ns3:SendMessageResponse xmlns:ns3="urn:z"><ns3:MessageId>msg-1</ns3:MessageId></ns3:SendMessageResponse>`)
	})
	id, err := newClient(srv, time.Second).SubmitMessage(context.Background(), testData(), "tok")
	require.NoError(t, err)
	assert.Equal(t, "msg-1", id)
	assert.Equal(t, "tok", header.Get("FNS-OpenApi-Token"))
	assert.Equal(t, "user-1", header.Get("FNS-OpenApi-UserToken"))
	assert.Contains(t, body, "<tns:Sum>240000</tns:Sum>")
	assert.Contains(t, body, "<tns:Date>2019-04-09T16:38:00</tns:Date>")
	assert.Contains(t, body, "<tns:FiscalDocumentId>77133</tns:FiscalDocumentId>")
	assert.Contains(t, body, "<tns:FiscalSign>1482926127</tns:FiscalSign>")
	assert.Contains(t, body, "<tns:TypeOperation>1</tns:TypeOperation>")
}

func TestSubmitMessage_SinTokenNoLlamaALaAutoridad(t *testing.T) {
	srv, calls := newTestServer(t, func(string, http.Header, string) (int, string) { return http.StatusOK, "" })
	_, err := newClient(srv, time.Second).SubmitMessage(context.Background(), testData(), "")
	assert.True(t, domainfns.IsKind(err, domainfns.KindMissingHeaders))
	assert.Equal(t, int32(0), atomic.LoadInt32(calls))
}

func TestSubmitMessage_Clasificacion(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		kind   domainfns.Kind
	}{
		{"token rechazado", 500, fault("Access for token abc denied"), domainfns.KindTokenRejected},
		{"rate limit", 500, fault("Превышено максимальное количество запросов"), domainfns.KindRateLimited},
		{"headers", 500, fault("Missing required header FNS-OpenApi-Token"), domainfns.KindMissingHeaders},
		{"xml inválido", 500, fault("Invalid XML: element Sum"), domainfns.KindInvalidXML},
		{"unmarshal", 500, fault("Unmarshalling Error: unexpected element"), domainfns.KindUnmarshalling},
		{"interno", 500, fault("java.lang.NullPointerException"), domainfns.KindInternalAuthority},
		{"http 429", 429, "slow down", domainfns.KindRateLimited},
		{"http 502 sin xml", 502, "<html>bad gateway</html>", domainfns.KindInternalAuthority},
		{"200 no xml", 200, "not xml at all", domainfns.KindMalformedResponse},
		{"200 sin MessageId", 200, envelope(`<SendMessageResponse/>`), domainfns.KindMalformedResponse},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv, _ := newTestServer(t, func(string, http.Header, string) (int, string) { return tc.status, tc.body })
			_, err := newClient(srv, time.Second).SubmitMessage(context.Background(), testData(), "tok")
			require.Error(t, err)
			assert.Equal(t, tc.kind, domainfns.KindOf(err), "err=%v", err)
		})
	}
}

func TestSubmitMessage_TimeoutReintentable(t *testing.T) {
	srv, _ := newTestServer(t, func(string, http.Header, string) (int, string) {
		time.Sleep(300 * time.Millisecond)
		return http.StatusOK, envelope(`<SendMessageResponse><MessageId>late</MessageId></SendMessageResponse>`)
	})
	_, err := newClient(srv, 50*time.Millisecond).SubmitMessage(context.Background(), testData(), "tok")
	require.Error(t, err)
	assert.Equal(t, domainfns.KindTimeout, domainfns.KindOf(err))
	assert.True(t, domainfns.KindOf(err).Retryable())
}

// ──────────────────────────────────────────────────────────────────────────────
// FetchMessage
// ──────────────────────────────────────────────────────────────────────────────

func TestFetchMessage_Processing(t *testing.T) {
	srv, _ := newTestServer(t, func(action string, _ http.Header, body string) (int, string) {
		assert.Contains(t, body, "<ns:MessageId>msg-1</ns:MessageId>")
		return http.StatusOK, envelope(`<GetMessageResponse><ProcessingStatus>PROCESSING</ProcessingStatus></GetMessageResponse>`)
	})
	res, err := newClient(srv, time.Second).FetchMessage(context.Background(), "msg-1", "tok")
	require.NoError(t, err)
	assert.Equal(t, infrafns.MessageProcessing, res.Status)
	assert.Equal(t, "msg-1", res.MessageID)
	assert.Nil(t, res.Answer)
}

func TestFetchMessage_CompletedConTicket(t *testing.T) {
	ticket := `{"content":{"totalSum":240000,"dateTime":1554827880,"operationType":1}}`
	srv, _ := newTestServer(t, func(string, http.Header, string) (int, string) {
		return http.StatusOK, envelope(`<ns2:GetMessageResponse xmlns:ns2="urn:a"><ns2:ProcessingStatus>COMPLETED</ns2:ProcessingStatus>` +
			`<ns2:Message><tns:GetTicketResponse xmlns:tns="urn:b"><tns:Result><tns:Code>200</tns:Code>` +
			`<tns:Ticket>` + ticket + `</tns:Ticket></tns:Result></tns:GetTicketResponse></ns2:Message></ns2:GetMessageResponse>`)
	})
	res, err := newClient(srv, time.Second).FetchMessage(context.Background(), "msg-1", "tok")
	require.NoError(t, err)
	assert.Equal(t, infrafns.MessageCompleted, res.Status)
	require.NotNil(t, res.Answer)
	assert.True(t, res.Answer.Found())
	require.NotNil(t, res.Answer.Ticket)
	assert.Equal(t, int64(240000), res.Answer.Ticket.Sum)
	assert.Equal(t, entity.OperationSale, res.Answer.Ticket.OperationType)
	assert.Equal(t, "2019-04-09T16:38:00", res.Answer.Ticket.DateTime.Format(entity.FiscalDateLayout))
}

func TestFetchMessage_CompletedNoEncontrado(t *testing.T) {
	srv, _ := newTestServer(t, func(string, http.Header, string) (int, string) {
		return http.StatusOK, envelope(`<GetMessageResponse><ProcessingStatus>COMPLETED</ProcessingStatus><Message>` +
			`<GetTicketResponse><Result><Code>400</Code><Message>Чек не найден</Message></Result></GetTicketResponse>` +
			`</Message></GetMessageResponse>`)
	})
	res, err := newClient(srv, time.Second).FetchMessage(context.Background(), "m", "tok")
	require.NoError(t, err)
	assert.False(t, res.Answer.Found())
	assert.Equal(t, 400, res.Answer.Code)
	assert.Equal(t, "Чек не найден", res.Answer.Message)
}

func TestFetchMessage_MensajeNoEncontrado(t *testing.T) {
	srv, _ := newTestServer(t, func(string, http.Header, string) (int, string) {
		return http.StatusInternalServerError, fault("Message not found for id m")
	})
	_, err := newClient(srv, time.Second).FetchMessage(context.Background(), "m", "tok")
	assert.Equal(t, domainfns.KindMessageNotFound, domainfns.KindOf(err))
	assert.False(t, domainfns.KindOf(err).Retryable())
}

func TestFetchMessage_Windows1251(t *testing.T) {
	doc := `<?xml version="1.0" encoding="windows-1251"?>` +
		`<Envelope><Body><GetMessageResponse><ProcessingStatus>COMPLETED</ProcessingStatus><Message>` +
		`<GetTicketResponse><Result><Code>406</Code><Message>Чек не найден</Message></Result></GetTicketResponse>` +
		`</Message></GetMessageResponse></Body></Envelope>`
	encoded, err := charmap.Windows1251.NewEncoder().String(doc)
	require.NoError(t, err)
	srv, _ := newTestServer(t, func(string, http.Header, string) (int, string) { return http.StatusOK, encoded })

	res, err := newClient(srv, time.Second).FetchMessage(context.Background(), "m", "tok")
	require.NoError(t, err)
	assert.Equal(t, 406, res.Answer.Code)
	assert.Equal(t, "Чек не найден", res.Answer.Message)
}

// ──────────────────────────────────────────────────────────────────────────────
// FetchMessages (lote)
// ──────────────────────────────────────────────────────────────────────────────

func TestFetchMessages_RechazaDuplicadosSinLlamar(t *testing.T) {
	srv, calls := newTestServer(t, func(string, http.Header, string) (int, string) { return http.StatusOK, "" })
	c := newClient(srv, time.Second)

	_, err := c.FetchMessages(context.Background(), []string{"a", "b", "a"}, "tok")
	assert.Equal(t, domainfns.KindDuplicateOrExcessiveBatch, domainfns.KindOf(err))

	_, err = c.FetchMessages(context.Background(), []string{"a", "b", "c", "d"}, "tok")
	assert.Equal(t, domainfns.KindDuplicateOrExcessiveBatch, domainfns.KindOf(err))

	_, err = c.FetchMessages(context.Background(), nil, "tok")
	assert.Equal(t, domainfns.KindDuplicateOrExcessiveBatch, domainfns.KindOf(err))

	assert.Equal(t, int32(0), atomic.LoadInt32(calls))
}

func TestFetchMessages_UnResultadoPorIdentificador(t *testing.T) {
	srv, _ := newTestServer(t, func(action string, _ http.Header, body string) (int, string) {
		assert.Equal(t, "urn:GetMessagesRequest", action)
		assert.Equal(t, 2, strings.Count(body, "<ns:MessageId>"))
		return http.StatusOK, envelope(`<GetMessagesResponse><Messages>` +
			`<MessageInfo><MessageId>b</MessageId><ProcessingStatus>PROCESSING</ProcessingStatus></MessageInfo>` +
			`<MessageInfo><MessageId>a</MessageId><ProcessingStatus>COMPLETED</ProcessingStatus><Result><Message>` +
			`<GetTicketResponse><Result><Code>200</Code></Result></GetTicketResponse></Message></Result></MessageInfo>` +
			`</Messages></GetMessagesResponse>`)
	})
	out, err := newClient(srv, time.Second).FetchMessages(context.Background(), []string{"a", "b"}, "tok")
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0].MessageID)
	assert.Equal(t, infrafns.MessageCompleted, out[0].Status)
	assert.True(t, out[0].Answer.Found())
	assert.Equal(t, "b", out[1].MessageID)
	assert.Equal(t, infrafns.MessageProcessing, out[1].Status)
}

func TestFetchMessages_IdentificadorAusente(t *testing.T) {
	srv, _ := newTestServer(t, func(string, http.Header, string) (int, string) {
		return http.StatusOK, envelope(`<GetMessagesResponse><Messages/></GetMessagesResponse>`)
	})
	out, err := newClient(srv, time.Second).FetchMessages(context.Background(), []string{"x"}, "tok")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "x", out[0].MessageID)
	assert.Equal(t, domainfns.KindMalformedResponse, domainfns.KindOf(out[0].Err))
	assert.True(t, domainfns.KindOf(out[0].Err).Retryable())
}
