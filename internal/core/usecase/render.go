package usecase

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/bsmart-pg/Mail-Stadtwerke-Tool-sub000/internal/core/domain"
)

// RenderSubject builds "{number_}{cat1+cat2}{ [i/n]} FWD: {original}".
func RenderSubject(action domain.ForwardingAction, originalSubject string) string {
	var prefix strings.Builder
	if action.CustomerNumber != "" {
		prefix.WriteString(action.CustomerNumber)
		prefix.WriteString("_")
	}
	prefix.WriteString(strings.Join(action.Categories, "+"))
	if action.Tagged() {
		fmt.Fprintf(&prefix, " [%d/%d]", action.SequenceIndex, action.Total)
	}

	head := strings.TrimSpace(prefix.String())
	if head == "" {
		return "FWD: " + originalSubject
	}
	return head + " FWD: " + originalSubject
}

// RenderBody renders the metadata block followed by the original body.
func RenderBody(action domain.ForwardingAction, record *domain.AnalysisRecord, msg *domain.Message) string {
	var b strings.Builder
	b.WriteString(`<div style="font-family:sans-serif;font-size:13px;border:1px solid #ccc;padding:8px;margin-bottom:12px">`)
	b.WriteString("<table>")
	writeMetaRow(&b, "From", msg.From)
	if !msg.ReceivedAt.IsZero() {
		writeMetaRow(&b, "Received", msg.ReceivedAt.Format("2006-01-02 15:04:05 MST"))
	}
	writeMetaRow(&b, "Subject", msg.Subject)
	writeMetaRow(&b, "Customer number", action.CustomerNumber)
	writeMetaRow(&b, "Categories", strings.Join(action.Categories, ", "))
	if action.Tagged() {
		writeMetaRow(&b, "Forward", fmt.Sprintf("%d of %d", action.SequenceIndex, action.Total))
	}
	b.WriteString("</table>")

	if record != nil && len(record.Reconciled.ExtractedInformation) > 0 {
		for _, group := range record.Reconciled.ExtractedInformation {
			b.WriteString("<p><b>")
			b.WriteString(html.EscapeString(group.Name))
			b.WriteString("</b></p><table>")
			for _, field := range group.Fields {
				writeMetaRow(&b, field.Key, field.Value)
			}
			b.WriteString("</table>")
		}
	}
	b.WriteString("</div>")

	if msg.IsHTML() {
		b.WriteString(bodyInnerHTML(msg.HTMLBody))
	} else {
		b.WriteString(`<pre style="white-space:pre-wrap">`)
		b.WriteString(html.EscapeString(msg.TextBody))
		b.WriteString("</pre>")
	}
	return b.String()
}

func writeMetaRow(b *strings.Builder, label, value string) {
	if strings.TrimSpace(value) == "" {
		return
	}
	b.WriteString("<tr><td><b>")
	b.WriteString(html.EscapeString(label))
	b.WriteString(":</b></td><td>")
	b.WriteString(html.EscapeString(value))
	b.WriteString("</td></tr>")
}

// bodyInnerHTML returns the markup inside <body> so a full document can be embedded.
func bodyInnerHTML(document string) string {
	root, err := html.Parse(strings.NewReader(document))
	if err != nil {
		return document
	}
	body := findElement(root, atom.Body)
	if body == nil {
		return document
	}

	var b strings.Builder
	for child := body.FirstChild; child != nil; child = child.NextSibling {
		if err := html.Render(&b, child); err != nil {
			return document
		}
	}
	return b.String()
}

// PlainText returns the text body, or the visible text of the HTML body.
func PlainText(msg *domain.Message) string {
	if strings.TrimSpace(msg.TextBody) != "" || !msg.IsHTML() {
		return strings.TrimSpace(msg.TextBody)
	}

	root, err := html.Parse(strings.NewReader(msg.HTMLBody))
	if err != nil {
		return strings.TrimSpace(msg.HTMLBody)
	}

	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.DataAtom == atom.Script || n.DataAtom == atom.Style || n.DataAtom == atom.Head) {
			return
		}
		if n.Type == html.TextNode {
			if text := strings.TrimSpace(n.Data); text != "" {
				b.WriteString(text)
				b.WriteString("\n")
			}
		}
		if n.Type == html.ElementNode && n.DataAtom == atom.Br {
			b.WriteString("\n")
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(root)
	return strings.TrimSpace(b.String())
}

func findElement(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if found := findElement(child, a); found != nil {
			return found
		}
	}
	return nil
}
