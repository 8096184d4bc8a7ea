package fns

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	domainfns "github.com/jhoicas/receipt-cashback/internal/domain/fns"
)

// faultRule asocia fragmentos del texto del Fault a una clase de error.
// La Autoridad responde en ruso o en inglés según el entorno; se revisan ambos.
type faultRule struct {
	kind      domainfns.Kind
	fragments []string
}

// faultRules en orden de prioridad: la primera coincidencia gana.
var faultRules = []faultRule{
	{domainfns.KindIPNotAllowlisted, []string{"для переданного ip", "ip address", "ip-адрес", "ip is not allowed", "ip not allowed"}},
	{domainfns.KindTokenRejected, []string{"access for token", "token denied", "доступ для токена", "токен не найден", "token not found", "token expired", "истек срок действия токена"}},
	{domainfns.KindMissingHeaders, []string{"missing header", "missing required header", "отсутствует заголовок", "не передан заголовок"}},
	{domainfns.KindMessageNotFound, []string{"message not found", "сообщение не найдено", "не найдено сообщение"}},
	{domainfns.KindRateLimited, []string{"превышено", "превышен лимит", "rate limit", "too many requests", "limit exceeded"}},
	{domainfns.KindDuplicateOrExcessiveBatch, []string{"duplicate messageid", "дублирующиеся", "max messages", "максимальное количество идентификаторов"}},
	{domainfns.KindUnmarshalling, []string{"unmarshal", "десериализац"}},
	{domainfns.KindInvalidXML, []string{"invalid xml", "xml is not valid", "не соответствует схеме", "schema validation"}},
	{domainfns.KindInvalidCredential, []string{"mastertoken", "master token", "мастер-токен", "invalid credential"}},
}

// classifyFault convierte un Fault de la Autoridad en un error clasificado.
// Los Fault no reconocidos se tratan como error interno de la Autoridad.
func classifyFault(op string, f *soapFault) *domainfns.Error {
	text := f.Text()
	lower := strings.ToLower(text)
	for _, rule := range faultRules {
		for _, frag := range rule.fragments {
			if strings.Contains(lower, frag) {
				return domainfns.NewError(rule.kind, op, text, nil)
			}
		}
	}
	if op == OpAuthenticate && strings.Contains(strings.ToLower(f.Code), "client") {
		return domainfns.NewError(domainfns.KindInvalidCredential, op, text, nil)
	}
	return domainfns.NewError(domainfns.KindInternalAuthority, op, text, nil)
}

// classifyTransport distingue timeout de otros errores de red. Ambos son reintentables.
func classifyTransport(ctx context.Context, op string, err error) *domainfns.Error {
	if errors.Is(err, context.DeadlineExceeded) || (ctx != nil && errors.Is(ctx.Err(), context.DeadlineExceeded)) {
		return domainfns.NewError(domainfns.KindTimeout, op, "tiempo de espera agotado", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domainfns.NewError(domainfns.KindTimeout, op, "tiempo de espera agotado", err)
	}
	return domainfns.NewError(domainfns.KindNetwork, op, "llamada HTTP fallida", err)
}

// classifyStatus clasifica respuestas HTTP sin Fault interpretable.
func classifyStatus(op string, status int, snippet string) *domainfns.Error {
	switch {
	case status == http.StatusTooManyRequests:
		return domainfns.NewError(domainfns.KindRateLimited, op, snippet, nil)
	case status == http.StatusForbidden && op == OpAuthenticate:
		return domainfns.NewError(domainfns.KindIPNotAllowlisted, op, snippet, nil)
	case status >= 500:
		return domainfns.NewError(domainfns.KindInternalAuthority, op, snippet, nil)
	}
	return domainfns.NewError(domainfns.KindMalformedResponse, op, snippet, nil)
}
