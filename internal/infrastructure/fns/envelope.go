package fns

import (
	"strconv"

	"github.com/beevik/etree"

	"github.com/jhoicas/receipt-cashback/internal/domain/entity"
)

// newEnvelope crea <soapenv:Envelope> con Header vacío y devuelve el documento y el nodo Body.
// baseNS es el namespace del servicio de mensajes (prefijo "ns").
func newEnvelope(baseNS string) (*etree.Document, *etree.Element) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	env := doc.CreateElement("soapenv:Envelope")
	env.CreateAttr("xmlns:soapenv", nsSOAP)
	env.CreateAttr("xmlns:ns", baseNS)
	env.CreateElement("soapenv:Header")
	body := env.CreateElement("soapenv:Body")
	return doc, body
}

// buildAuthEnvelope GetMessageRequest → AuthRequest con el MasterToken.
func buildAuthEnvelope(masterToken string) ([]byte, error) {
	doc, body := newEnvelope(nsAuthBase)
	msg := body.CreateElement("ns:GetMessageRequest").CreateElement("ns:Message")
	auth := msg.CreateElement("tns:AuthRequest")
	auth.CreateAttr("xmlns:tns", nsAuthSvc)
	auth.CreateElement("tns:AuthAppInfo").CreateElement("tns:MasterToken").SetText(masterToken)
	return doc.WriteToBytes()
}

// buildSendTicketEnvelope SendMessageRequest → GetTicketRequest con los datos fiscales.
// Sum se envía en unidades menores (kopecks), como exige el servicio KktTicketService.
func buildSendTicketEnvelope(d entity.ReceiptFiscalData) ([]byte, error) {
	doc, body := newEnvelope(nsAsyncBase)
	msg := body.CreateElement("ns:SendMessageRequest").CreateElement("ns:Message")
	req := msg.CreateElement("tns:GetTicketRequest")
	req.CreateAttr("xmlns:tns", nsTicketSvc)
	info := req.CreateElement("tns:GetTicketInfo")
	op := d.TypeOperation
	if op == 0 {
		op = entity.OperationSale
	}
	info.CreateElement("tns:Sum").SetText(strconv.FormatInt(d.Sum, 10))
	info.CreateElement("tns:Date").SetText(d.DateString())
	info.CreateElement("tns:Fn").SetText(d.FN)
	info.CreateElement("tns:TypeOperation").SetText(strconv.Itoa(int(op)))
	info.CreateElement("tns:FiscalDocumentId").SetText(d.FD)
	info.CreateElement("tns:FiscalSign").SetText(d.FP)
	info.CreateElement("tns:RawData").SetText("true")
	return doc.WriteToBytes()
}

// buildGetMessageEnvelope GetMessageRequest con un MessageId.
func buildGetMessageEnvelope(messageID string) ([]byte, error) {
	doc, body := newEnvelope(nsAsyncBase)
	body.CreateElement("ns:GetMessageRequest").CreateElement("ns:MessageId").SetText(messageID)
	return doc.WriteToBytes()
}

// buildGetMessagesEnvelope GetMessagesRequest con varios MessageId.
func buildGetMessagesEnvelope(messageIDs []string) ([]byte, error) {
	doc, body := newEnvelope(nsAsyncBase)
	expr := body.CreateElement("ns:GetMessagesRequest").CreateElement("ns:Expressions")
	for _, id := range messageIDs {
		expr.CreateElement("ns:MessageId").SetText(id)
	}
	return doc.WriteToBytes()
}
