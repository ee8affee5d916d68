package extract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// structuredDataCap bounds the total structured-data summary appended to a
// page's prose.
const structuredDataCap = 2000

// Tables returns one block per <table>, each a newline-joined list of rows
// with cells joined by " | ". A page that cannot be parsed yields no blocks.
func Tables(input []byte) []string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(input))
	if err != nil {
		return nil
	}
	var blocks []string
	doc.Find("table").Each(func(_ int, table *goquery.Selection) {
		var rows []string
		table.Find("tr").Each(func(_ int, tr *goquery.Selection) {
			var cells []string
			tr.Find("th, td").Each(func(_ int, cell *goquery.Selection) {
				if txt := collapseSpaces(strings.TrimSpace(cell.Text())); txt != "" {
					cells = append(cells, txt)
				}
			})
			if len(cells) > 0 {
				rows = append(rows, strings.Join(cells, " | "))
			}
		})
		if len(rows) > 0 {
			blocks = append(blocks, strings.Join(rows, "\n"))
		}
	})
	return blocks
}

// Lists returns one block per top-level <ul>/<ol>, each item rendered as a
// "- item" line.
func Lists(input []byte) []string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(input))
	if err != nil {
		return nil
	}
	var blocks []string
	doc.Find("ul, ol").Each(func(_ int, list *goquery.Selection) {
		// Nested lists are covered by their outermost ancestor's items.
		if list.ParentsFiltered("ul, ol").Length() > 0 {
			return
		}
		var items []string
		list.Find("li").Each(func(_ int, li *goquery.Selection) {
			if txt := collapseSpaces(strings.TrimSpace(li.Text())); txt != "" {
				items = append(items, "- "+txt)
			}
		})
		if len(items) > 0 {
			blocks = append(blocks, strings.Join(items, "\n"))
		}
	})
	return blocks
}

// StructuredData extracts application/ld+json payloads and summarizes each
// object into one line of type/name/description/offer details. Malformed
// JSON is skipped rather than failing the page. Output is capped at
// structuredDataCap characters.
func StructuredData(input []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(input))
	if err != nil {
		return ""
	}
	var lines []string
	total := 0
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var raw any
		if err := json.Unmarshal([]byte(s.Text()), &raw); err != nil {
			return true
		}
		for _, obj := range flattenJSONLD(raw) {
			line := summarizeJSONLD(obj)
			if line == "" {
				continue
			}
			if total+len(line) > structuredDataCap {
				return false
			}
			lines = append(lines, line)
			total += len(line)
		}
		return true
	})
	return strings.Join(lines, "\n")
}

// flattenJSONLD unwraps top-level arrays and @graph containers into a flat
// list of candidate objects.
func flattenJSONLD(raw any) []map[string]any {
	var out []map[string]any
	switch v := raw.(type) {
	case []any:
		for _, item := range v {
			out = append(out, flattenJSONLD(item)...)
		}
	case map[string]any:
		if graph, ok := v["@graph"].([]any); ok {
			for _, item := range graph {
				out = append(out, flattenJSONLD(item)...)
			}
			return out
		}
		out = append(out, v)
	}
	return out
}

func summarizeJSONLD(obj map[string]any) string {
	var parts []string
	if t := jsonldString(obj["@type"]); t != "" {
		parts = append(parts, t)
	}
	if name := jsonldString(obj["name"]); name != "" {
		parts = append(parts, name)
	}
	if desc := jsonldString(obj["description"]); desc != "" {
		parts = append(parts, desc)
	}
	if offer, ok := obj["offers"].(map[string]any); ok {
		price := jsonldString(offer["price"])
		currency := jsonldString(offer["priceCurrency"])
		if price != "" {
			parts = append(parts, strings.TrimSpace(price+" "+currency))
		}
		if avail := jsonldString(offer["availability"]); avail != "" {
			parts = append(parts, strings.TrimPrefix(avail, "https://schema.org/"))
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, ": ")
}

// jsonldString coerces the loosely typed values seen in real-world JSON-LD
// (strings, numbers, single-element arrays) into a display string.
func jsonldString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.2f", t), "0"), ".")
	case []any:
		if len(t) > 0 {
			return jsonldString(t[0])
		}
	}
	return ""
}
