package fns

import (
	"fmt"
	"io"
	"strings"

	"github.com/beevik/etree"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

// soapFault contenido de <Fault> (SOAP 1.1) o de un Fault de negocio dentro de Message.
type soapFault struct {
	Code   string
	String string
	Detail string
}

// Text concatena las partes no vacías para clasificar.
func (f *soapFault) Text() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{f.String, f.Detail, f.Code} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " | ")
}

// parseDocument lee la respuesta con soporte de windows-1251 (algunos entornos
// de la Autoridad no responden en UTF-8) y devuelve el nodo Body.
func parseDocument(raw []byte) (*etree.Element, error) {
	doc := etree.NewDocument()
	doc.ReadSettings.CharsetReader = charsetReader
	if err := doc.ReadFromBytes(raw); err != nil {
		return nil, fmt.Errorf("parsear XML: %w", err)
	}
	root := doc.Root()
	if root == nil {
		return nil, fmt.Errorf("documento sin raíz")
	}
	if root.Tag != "Envelope" {
		return nil, fmt.Errorf("raíz inesperada <%s>", root.FullTag())
	}
	body := findChild(root, "Body")
	if body == nil {
		return nil, fmt.Errorf("envelope sin Body")
	}
	return body, nil
}

func charsetReader(label string, input io.Reader) (io.Reader, error) {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "", "utf-8", "utf8":
		return input, nil
	case "windows-1251", "cp1251":
		return transform.NewReader(input, charmap.Windows1251.NewDecoder()), nil
	case "iso-8859-1", "iso8859-1", "latin1":
		return transform.NewReader(input, charmap.ISO8859_1.NewDecoder()), nil
	}
	return nil, fmt.Errorf("charset %q no soportado", label)
}

// findChild busca un hijo directo por nombre local, ignorando el prefijo.
func findChild(e *etree.Element, local string) *etree.Element {
	if e == nil {
		return nil
	}
	for _, c := range e.ChildElements() {
		if c.Tag == local {
			return c
		}
	}
	return nil
}

// findLocal busca en profundidad (preorden) el primer descendiente con ese nombre local.
func findLocal(e *etree.Element, local string) *etree.Element {
	if e == nil {
		return nil
	}
	for _, c := range e.ChildElements() {
		if c.Tag == local {
			return c
		}
		if found := findLocal(c, local); found != nil {
			return found
		}
	}
	return nil
}

// findAllLocal devuelve todos los descendientes con ese nombre local sin entrar en ellos.
func findAllLocal(e *etree.Element, local string) []*etree.Element {
	var out []*etree.Element
	if e == nil {
		return out
	}
	for _, c := range e.ChildElements() {
		if c.Tag == local {
			out = append(out, c)
			continue
		}
		out = append(out, findAllLocal(c, local)...)
	}
	return out
}

// textOf texto recortado del primer descendiente con ese nombre local.
func textOf(e *etree.Element, local string) string {
	if found := findLocal(e, local); found != nil {
		return strings.TrimSpace(found.Text())
	}
	return ""
}

// extractFault busca un SOAP Fault o un Fault de negocio (con <Message>) bajo e.
func extractFault(e *etree.Element) *soapFault {
	node := findLocal(e, "Fault")
	if node == nil {
		return nil
	}
	f := &soapFault{
		Code:   textOf(node, "faultcode"),
		String: textOf(node, "faultstring"),
	}
	if detail := findLocal(node, "detail"); detail != nil {
		f.Detail = collectText(detail)
	}
	if f.String == "" {
		f.String = textOf(node, "Message")
	}
	if f.String == "" && f.Detail == "" {
		f.String = collectText(node)
	}
	return f
}

// collectText concatena todo el texto descendiente.
func collectText(e *etree.Element) string {
	var b strings.Builder
	var walk func(*etree.Element)
	walk = func(n *etree.Element) {
		if t := strings.TrimSpace(n.Text()); t != "" {
			if b.Len() > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(t)
		}
		for _, c := range n.ChildElements() {
			walk(c)
		}
	}
	walk(e)
	return b.String()
}
