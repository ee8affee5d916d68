package extract

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
)

// Document is a simplified representation of extracted page content.
type Document struct {
	Title string
	Text  string
}

// Page extracts readable prose from HTML. Boilerplate containers (<nav>,
// <footer>, <header>, <aside>) and non-content nodes (script/style/noscript,
// images, svg, iframes) are skipped; link text is kept. Structured-data
// summaries found in ld+json scripts are appended to the prose so they ride
// along into chunking.
func Page(input []byte) Document {
	node, err := html.Parse(bytes.NewReader(input))
	if err != nil || node == nil {
		return Document{}
	}

	title := strings.TrimSpace(findTitle(node))
	content := findFirst(node, "body")
	if content == nil {
		content = node
	}
	var b strings.Builder
	collectText(&b, content, false)
	text := normalizeWhitespace(b.String())

	if sd := StructuredData(input); sd != "" {
		if text != "" {
			text += "\n\n"
		}
		text += sd
	}
	return Document{Title: title, Text: text}
}

func findTitle(n *html.Node) string {
	head := findFirst(n, "head")
	if head == nil {
		return ""
	}
	t := findFirst(head, "title")
	if t == nil || t.FirstChild == nil {
		return ""
	}
	return t.FirstChild.Data
}

func findFirst(n *html.Node, tag string) *html.Node {
	var res *html.Node
	var dfs func(*html.Node)
	dfs = func(cur *html.Node) {
		if res != nil {
			return
		}
		if cur.Type == html.ElementNode && strings.EqualFold(cur.Data, tag) {
			res = cur
			return
		}
		for c := cur.FirstChild; c != nil; c = c.NextSibling {
			dfs(c)
			if res != nil {
				return
			}
		}
	}
	dfs(n)
	return res
}

func collectText(b *strings.Builder, n *html.Node, inPre bool) {
	if n.Type == html.ElementNode {
		name := strings.ToLower(n.Data)
		switch name {
		case "script", "style", "noscript", "nav", "footer", "header", "aside", "iframe", "svg", "img", "template":
			return
		case "pre", "code":
			inPre = true
		case "br", "hr":
			b.WriteString("\n")
		case "p", "h1", "h2", "h3", "h4", "h5", "h6", "li", "ul", "ol", "tr", "div", "section", "article":
			b.WriteString("\n")
		}
	}

	if n.Type == html.TextNode {
		data := n.Data
		if !inPre {
			data = strings.ReplaceAll(data, "\t", " ")
			data = strings.ReplaceAll(data, "\r", " ")
		}
		b.WriteString(data)
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(b, c, inPre)
	}

	if n.Type == html.ElementNode {
		switch strings.ToLower(n.Data) {
		case "p", "h1", "h2", "h3", "h4", "h5", "h6", "div", "section", "article":
			b.WriteString("\n\n")
		case "li", "tr":
			b.WriteString("\n")
		case "pre", "code":
			b.WriteString("\n")
		}
	}
}

func normalizeWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			// Keep at most one consecutive blank
			if len(out) > 0 && out[len(out)-1] == "" {
				continue
			}
			if len(out) == 0 {
				continue
			}
			out = append(out, "")
			continue
		}
		out = append(out, collapseSpaces(trimmed))
	}
	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	return strings.Join(out, "\n")
}

func collapseSpaces(s string) string {
	var b strings.Builder
	lastSpace := false
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
			continue
		}
		b.WriteRune(r)
		lastSpace = false
	}
	return b.String()
}
