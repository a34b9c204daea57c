package ingest

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
)

func parseDoc(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		t.Fatal(err)
	}
	return doc
}

func TestExtractLabelValuesTableAndDl(t *testing.T) {
	doc := parseDoc(t, `
		<table>
			<tr><th>Stav</th><td>Neukončen</td></tr>
			<tr><th>Měna</th><td>CZK</td></tr>
			<tr><td>no header</td></tr>
		</table>
		<dl>
			<dt>Region</dt><dd>Praha</dd>
			<dt>orphan</dt>
		</dl>`)

	lv := extractLabelValues(doc)
	if got := lv.m["Stav"]; got != "Neukončen" {
		t.Errorf("Stav = %q", got)
	}
	if got := lv.m["Měna"]; got != "CZK" {
		t.Errorf("Měna = %q", got)
	}
	if got := lv.m["Region"]; got != "Praha" {
		t.Errorf("Region = %q", got)
	}
}

func TestExtractLabelValuesGenericSiblings(t *testing.T) {
	doc := parseDoc(t, `
		<div>
			<span>Druh řízení</span>
			<div>Otevřené řízení</div>
		</div>`)

	lv := extractLabelValues(doc)
	if got := lv.m["Druh řízení"]; got != "Otevřené řízení" {
		t.Errorf("generic tier = %q, want the next sibling's text", got)
	}
}

func TestExtractLabelValuesFirstWriterWins(t *testing.T) {
	doc := parseDoc(t, `
		<table><tr><th>Stav</th><td>Neukončen</td></tr></table>
		<div><span>Stav</span><div>Zrušeno</div></div>`)

	lv := extractLabelValues(doc)
	if got := lv.m["Stav"]; got != "Neukončen" {
		t.Errorf("Stav = %q, structured source must win", got)
	}
}

func TestFirstMatchPatternOrder(t *testing.T) {
	lv := newLabelValues()
	lv.put("Místo plnění", "Brno")
	lv.put("Hlavní místo plnění", "Praha")

	if got := lv.firstMatch([]string{"Hlavní místo plnění", "Místo plnění"}); got != "Praha" {
		t.Errorf("firstMatch = %q, pattern order must decide", got)
	}
	if got := lv.firstMatch([]string{`^\s*Stav\s*$`}); got != "" {
		t.Errorf("firstMatch = %q, want no match", got)
	}
}

func TestValueAfterLabelHeaderCell(t *testing.T) {
	doc := parseDoc(t, `
		<table><tr><th>Lhůta pro nabídky</th><td>17. 06. 2025</td></tr></table>`)

	if got := valueAfterLabel(doc, []string{"Lhůta pro nabídky"}); got != "17. 06. 2025" {
		t.Errorf("valueAfterLabel = %q", got)
	}
}

func TestValueAfterLabelDefinitionTerm(t *testing.T) {
	doc := parseDoc(t, `<dl><dt>Zadavatel</dt><dd>Město Písek</dd></dl>`)

	if got := valueAfterLabel(doc, []string{"Zadavatel"}); got != "Město Písek" {
		t.Errorf("valueAfterLabel = %q", got)
	}
}

func TestValueAfterLabelSibling(t *testing.T) {
	doc := parseDoc(t, `<div><span>Stav zakázky</span><strong>Zadáno</strong></div>`)

	if got := valueAfterLabel(doc, []string{`\bStav zakázky\b`}); got != "Zadáno" {
		t.Errorf("valueAfterLabel = %q", got)
	}
}

func TestValueAfterLabelNextTextNode(t *testing.T) {
	doc := parseDoc(t, `<p><b>Počet účastníků:</b> 4</p>`)

	if got := valueAfterLabel(doc, []string{"Počet účastníků"}); got != "4" {
		t.Errorf("valueAfterLabel = %q", got)
	}
}

func TestValueAfterLabelMissing(t *testing.T) {
	doc := parseDoc(t, `<p>nothing relevant here</p>`)

	if got := valueAfterLabel(doc, []string{"Stav"}); got != "" {
		t.Errorf("valueAfterLabel = %q, want empty", got)
	}
}
