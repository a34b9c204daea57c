package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const nenBase = "https://nen.nipez.cz"

// externalIDPattern is the NEN system number grammar, e.g. N006/24/V00012345.
var externalIDPattern = regexp.MustCompile(`^N\d{3}/\d{2}/V\d{8}$`)

var (
	onclickHrefPattern = regexp.MustCompile(`['"](/verejne-zakazky/detail-zakazky/[^'"]+)['"]`)
	cpvCodePattern     = regexp.MustCompile(`\d{8}`)
	cpvWordPattern     = regexp.MustCompile(`\b\d{8}\b`)
	descrLabelPrefix   = regexp.MustCompile(`(?i)^\s*(Popis předmětu|Předmět zakázky|Stručný popis|Popis)\s*[:\-]\s*`)
	descrCutPattern    = regexp.MustCompile(`(?i)\bZákladní\s+informace\b`)
)

var (
	regionLabels    = []string{"Hlavní místo plnění", "Místo plnění", `\bRegion\b`, "Místo realizace"}
	statusLabels    = []string{"Aktuální stav ZP", `\bStav zakázky\b`, `^\s*Stav\s*$`}
	descrLabels     = []string{"Popis předmětu", "Předmět zakázky", "Stručný popis", `^\s*Popis\s*$`}
	cpvLabels       = []string{`Kód.*CPV`, `\bCPV\b`}
	procedureLabels = []string{"Druh řízení", "Typ řízení", "Způsob zadání", "Druh zadávacího řízení"}
	budgetLabels    = []string{`Předpokládaná hodnota`, `Odhadovaná hodnota`, `^\s*Cena\s*$`, `Rozpočet`}
	currencyLabels  = []string{`^\s*Měna\s*$`, `\bMěna\b`}
)

// NENConfig carries the per-source settings loaded from the registry.
// MaxDetailPerRun is a pointer because an explicit 0 (no detail fetches at
// all) must stay distinguishable from an absent value.
type NENConfig struct {
	StartURL        string  `yaml:"start_url"`
	MaxPages        int     `yaml:"max_pages"`
	DelayMin        float64 `yaml:"delay_min"`
	DelayMax        float64 `yaml:"delay_max"`
	MaxRetries      int     `yaml:"max_retries"`
	BackoffBase     float64 `yaml:"backoff_base"`
	MaxDetailPerRun *int    `yaml:"max_detail_per_run"`
	DetailLogEvery  int     `yaml:"detail_log_every"`
	UserAgent       string  `yaml:"user_agent"`
	FetchEngine     string  `yaml:"fetch_engine"`
}

// NENAdapter scrapes the NEN public procurement register (nen.nipez.cz).
type NENAdapter struct {
	cfg       NENConfig
	maxDetail int
	fetcher   Fetcher
	logger    *slog.Logger
}

// NewNENAdapter builds an adapter with defaults filled for unset config
// fields. The fetch engine is the plain HTTP client unless the config names
// colly.
func NewNENAdapter(cfg NENConfig, logger *slog.Logger) *NENAdapter {
	if cfg.StartURL == "" {
		cfg.StartURL = nenBase + "/verejne-zakazky"
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 5
	}
	if cfg.DelayMin <= 0 {
		cfg.DelayMin = 0.5
	}
	if cfg.DelayMax <= 0 {
		cfg.DelayMax = 1.0
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 0.6
	}
	if cfg.DetailLogEvery <= 0 {
		cfg.DetailLogEvery = 10
	}
	maxDetail := 150
	if cfg.MaxDetailPerRun != nil {
		maxDetail = *cfg.MaxDetailPerRun
	}

	var fetcher Fetcher
	if cfg.FetchEngine == "colly" {
		cf := NewCollyFetcher(logger)
		cf.MaxRetries = cfg.MaxRetries
		if cfg.BackoffBase > 0 {
			cf.BackoffBase = cfg.BackoffBase
		}
		cf.DomainDelay = secondsToDuration(cfg.DelayMin)
		cf.RandomDelay = secondsToDuration(cfg.DelayMax - cfg.DelayMin)
		if cfg.UserAgent != "" {
			cf.UserAgent = cfg.UserAgent
		}
		fetcher = cf
	} else {
		hf := NewHTTPFetcher(logger)
		hf.DelayMin = secondsToDuration(cfg.DelayMin)
		hf.DelayMax = secondsToDuration(cfg.DelayMax)
		hf.MaxRetries = cfg.MaxRetries
		hf.BackoffBase = cfg.BackoffBase
		if cfg.UserAgent != "" {
			hf.UserAgent = cfg.UserAgent
		}
		fetcher = hf
	}

	return &NENAdapter{cfg: cfg, maxDetail: maxDetail, fetcher: fetcher, logger: logger}
}

func (a *NENAdapter) SourceID() string { return "NEN" }

// SetFetcher swaps the fetch engine, used by tests to inject a mock.
func (a *NENAdapter) SetFetcher(f Fetcher) { a.fetcher = f }

func (a *NENAdapter) pageURL(n int) string {
	if n == 1 {
		return nenBase + "/verejne-zakazky"
	}
	return fmt.Sprintf("%s/verejne-zakazky/p:vz:page=%d", nenBase, n)
}

func resolveURL(href string) string {
	base, err := url.Parse(nenBase)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

// extractNoticeURL resolves a row's detail link, trying the dedicated anchor
// selectors, row data attributes, an inline onclick handler, and finally any
// anchor whose href mentions the detail path.
func extractNoticeURL(tr *goquery.Selection) string {
	for _, sel := range []string{
		`a[href*="/verejne-zakazky/detail-zakazky/"]`,
		"a.gov-table__link",
		`a[href*="detail-zakazky"]`,
	} {
		if a := tr.Find(sel).First(); a.Length() > 0 {
			if href, ok := a.Attr("href"); ok && href != "" {
				return resolveURL(href)
			}
		}
	}
	if href, ok := tr.Attr("data-href"); ok && href != "" {
		return resolveURL(href)
	}
	if href, ok := tr.Attr("data-url"); ok && href != "" {
		return resolveURL(href)
	}
	if onclick, ok := tr.Attr("onclick"); ok {
		if m := onclickHrefPattern.FindStringSubmatch(onclick); m != nil {
			return resolveURL(m[1])
		}
	}
	if a := tr.Find("a[href]").First(); a.Length() > 0 {
		if href, ok := a.Attr("href"); ok && strings.Contains(href, "detail-zakazky") {
			return resolveURL(href)
		}
	}
	return ""
}

// detailURLFromID derives the canonical detail URL from a well-formed system
// number (slashes become dashes in the path).
func detailURLFromID(externalID string) string {
	if !externalIDPattern.MatchString(externalID) {
		return ""
	}
	return nenBase + "/verejne-zakazky/detail-zakazky/" + strings.ReplaceAll(externalID, "/", "-")
}

// ParseTenderList extracts listing rows from a result page. Rows with fewer
// than five cells are navigation chrome and get skipped.
func (a *NENAdapter) ParseTenderList(htmlText string) []map[string]any {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlText))
	if err != nil {
		return nil
	}
	table := doc.Find("table.gov-table").First()
	if table.Length() == 0 {
		return nil
	}

	var rows []map[string]any
	table.Find("tr.gov-table__row").Each(func(_ int, tr *goquery.Selection) {
		noticeURL := extractNoticeURL(tr)
		tds := tr.Find("td.gov-table__cell")
		if tds.Length() < 5 {
			return
		}
		externalID := strings.ReplaceAll(strings.TrimSpace(tds.Eq(1).Text()), " ", " ")
		title := strings.TrimSpace(tds.Eq(2).Text())
		buyer := strings.TrimSpace(tds.Eq(4).Text())
		deadline := strings.TrimSpace(tds.Eq(tds.Length() - 2).Text())

		if noticeURL == "" {
			noticeURL = detailURLFromID(externalID)
		}
		if noticeURL == "" {
			a.logger.Warn("[NEN] missing notice_url",
				"external_id", externalID, "title", truncateRunes(title, 80))
		}
		if externalID == "" {
			externalID = noticeURL
		}
		if title == "" {
			title = "(bez názvu)"
		}
		rows = append(rows, map[string]any{
			"external_id": externalID,
			"title":       title,
			"buyer":       buyer,
			"deadline":    deadline,
			"notice_url":  noticeURL,
			"country":     "CZ",
		})
	})
	return rows
}

// extractBudgetTile reads the estimated-value grid tile and the neighbouring
// currency tile. Returns the value text and a currency hint, both possibly
// empty.
func extractBudgetTile(doc *goquery.Document) (string, string) {
	tile := doc.Find(`div.gov-grid-tile[title*="Předpokládaná hodnota"]`).First()
	if tile.Length() == 0 {
		return "", ""
	}
	p := tile.Find("p.text.gov-note").First()
	if p.Length() == 0 {
		return "", ""
	}
	valueText, ok := p.Attr("title")
	if !ok || valueText == "" {
		valueText = normalizeSpace(p.Text())
	}
	var currencyHint string
	if ct := doc.Find(`div.gov-grid-tile[title*="Měna"]`).First(); ct.Length() > 0 {
		currencyHint = normalizeSpace(ct.Text())
	}
	return valueText, currencyHint
}

// FetchTenderDetail downloads and parses a notice detail page into the
// enrichment payload.
func (a *NENAdapter) FetchTenderDetail(ctx context.Context, noticeURL string) (map[string]any, error) {
	if noticeURL == "" {
		return map[string]any{}, nil
	}
	htmlText, err := a.fetcher.FetchText(ctx, noticeURL)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlText))
	if err != nil {
		return nil, fmt.Errorf("parse detail %s: %w", noticeURL, err)
	}

	out := map[string]any{
		"cpv":            []string{},
		"procedure_type": "",
		"budget_value":   nil,
		"currency":       "",
		"attachments":    []Attachment{},
		"region":         "",
		"status":         "",
		"description":    "",
	}

	kv := extractLabelValues(doc)

	region := kv.firstMatch(regionLabels)
	if region == "" {
		region = valueAfterLabel(doc, regionLabels)
	}
	out["region"] = region

	statusRaw := kv.firstMatch(statusLabels)
	if statusRaw == "" {
		statusRaw = valueAfterLabel(doc, statusLabels)
	}
	// the original label is stored; the normalized form stays derivable
	_, origStatus := NormalizeStatus(statusRaw)
	out["status"] = origStatus

	descr := kv.firstMatch(descrLabels)
	if descr == "" {
		descr = valueAfterLabel(doc, descrLabels)
	}
	if descr == "" {
		if content, ok := doc.Find(`meta[name="description"]`).First().Attr("content"); ok {
			descr = normalizeSpace(content)
		}
	}
	if descr != "" {
		descr = descrLabelPrefix.ReplaceAllString(descr, "")
		if loc := descrCutPattern.FindStringIndex(descr); loc != nil {
			descr = strings.TrimSpace(descr[:loc[0]])
		}
		descr = sanitizeText(descr)
	}
	out["description"] = descr

	var cpv []string
	if v := kv.firstMatch(cpvLabels); v != "" {
		cpv = uniqueSorted(cpvCodePattern.FindAllString(v, -1))
	}
	if len(cpv) == 0 {
		var all strings.Builder
		doc.Find("*").Each(func(_ int, s *goquery.Selection) {
			all.WriteString(normalizeSpace(s.Text()))
			all.WriteByte(' ')
		})
		cpv = uniqueSorted(cpvWordPattern.FindAllString(all.String(), -1))
	}
	if len(cpv) > 0 {
		out["cpv"] = cpv
	}

	out["procedure_type"] = kv.firstMatch(procedureLabels)

	valText, currencyHint := extractBudgetTile(doc)
	if valText == "" {
		valText = kv.firstMatch(budgetLabels)
	}
	if currencyHint == "" {
		currencyHint = kv.firstMatch(currencyLabels)
	}
	val, cur := NormalizeMoney(valText, currencyHint)
	if val != nil {
		f, _ := val.Float64()
		out["budget_value"] = f
	}
	if cur == "" {
		// NEN is overwhelmingly CZK
		cur = "CZK"
	}
	out["currency"] = cur

	var atts []Attachment
	doc.Find(`a[href*="stahnout"], a[href*="download"], `+
		`a[href$=".pdf"], a[href$=".doc"], a[href$=".docx"], `+
		`a[href$=".xls"], a[href$=".xlsx"]`).Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok || href == "" {
			return
		}
		atts = append(atts, Attachment{
			Name: truncateRunes(sanitizeText(s.Text()), 200),
			URL:  resolveURL(href),
		})
	})
	if len(atts) > 0 {
		out["attachments"] = atts
	}

	out["_detail_html_len"] = len(htmlText)
	return out, nil
}

// NormalizeTender maps a listing row to a canonical unit. Only list-level
// fields are filled here; detail enrichment is merged by the caller. The
// hash identity is fixed at this point from the raw deadline text.
func (a *NENAdapter) NormalizeTender(raw map[string]any) *TenderUnit {
	ext := stringField(raw, "external_id")
	notice := stringField(raw, "notice_url")
	if notice == "" {
		notice = detailURLFromID(ext)
	}
	title := stringField(raw, "title")
	if title == "" {
		title = "(bez názvu)"
	}
	buyer := stringField(raw, "buyer")
	deadlineText := stringField(raw, "deadline")
	country := stringField(raw, "country")
	if country == "" {
		country = "CZ"
	}
	externalID := ext
	if externalID == "" {
		externalID = notice
	}
	return &TenderUnit{
		SourceID:   a.SourceID(),
		ExternalID: externalID,
		Title:      title,
		Buyer:      buyer,
		Country:    country,
		Deadline:   ParseDeadline(deadlineText),
		NoticeURL:  notice,
		HashID:     ComputeHashID(title, buyer, deadlineText, ext),
	}
}

func stringField(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

// detailHasData reports whether a detail payload carries anything worth
// recording.
func detailHasData(detail map[string]any) bool {
	if len(detail) == 0 {
		return false
	}
	if cpv, ok := detail["cpv"].([]string); ok && len(cpv) > 0 {
		return true
	}
	if atts, ok := detail["attachments"].([]Attachment); ok && len(atts) > 0 {
		return true
	}
	if detail["budget_value"] != nil {
		return true
	}
	for _, key := range []string{"procedure_type", "currency", "region", "status", "description"} {
		if s, ok := detail[key].(string); ok && s != "" {
			return true
		}
	}
	return false
}

// mergeDetail copies non-empty enrichment fields onto the unit. Empty detail
// values never overwrite list-derived data.
func mergeDetail(unit *TenderUnit, detail map[string]any) {
	if cpv, ok := detail["cpv"].([]string); ok && len(cpv) > 0 {
		unit.CPV = cpv
	}
	if s, ok := detail["procedure_type"].(string); ok && s != "" {
		unit.ProcedureType = s
	}
	if f, ok := detail["budget_value"].(float64); ok {
		unit.BudgetValue = &f
	}
	if s, ok := detail["currency"].(string); ok && s != "" {
		unit.Currency = s
	}
	if atts, ok := detail["attachments"].([]Attachment); ok && len(atts) > 0 {
		unit.Attachments = atts
	}
	if s, ok := detail["region"].(string); ok && s != "" {
		unit.Region = s
	}
	if s, ok := detail["status"].(string); ok && s != "" {
		unit.Status = s
	}
	if s, ok := detail["description"].(string); ok && s != "" {
		unit.Description = s
	}
}

// FetchTenders walks the paginated listing, enriches rows with detail pages
// up to the per-run cap, and returns everything gathered. A failed page ends
// the walk but keeps the partial results; a failed detail only records an
// error and moves on.
func (a *NENAdapter) FetchTenders(ctx context.Context) (*ScrapeRun, error) {
	run := &ScrapeRun{SourceID: a.SourceID()}
	detailsFetched := 0

	a.logger.Info("[NEN] start scraping",
		"max_pages", a.cfg.MaxPages, "detail_cap", a.maxDetail)

	for page := 1; page <= a.cfg.MaxPages; page++ {
		pageURL := a.pageURL(page)
		a.logger.Info("[NEN] page", "page", page, "url", pageURL)

		htmlText, err := a.fetcher.FetchText(ctx, pageURL)
		if err != nil {
			a.logger.Error("[NEN] page failed", "page", page, "error", err)
			run.Errors = append(run.Errors, fmt.Sprintf("page %d: %v", page, err))
			break
		}
		rows := a.ParseTenderList(htmlText)
		a.logger.Info("[NEN] page parsed", "page", page, "rows", len(rows))

		for _, r := range rows {
			var detail map[string]any
			noticeURL := stringField(r, "notice_url")
			if noticeURL != "" && detailsFetched < a.maxDetail {
				d, derr := a.FetchTenderDetail(ctx, noticeURL)
				if derr != nil {
					a.logger.Warn("[NEN] detail error",
						"external_id", r["external_id"], "error", derr)
					run.Errors = append(run.Errors, fmt.Sprintf("detail error: %v", derr))
				} else {
					detail = d
					detailsFetched++
					if detailsFetched == 1 || detailsFetched%a.cfg.DetailLogEvery == 0 {
						a.logger.Info("[NEN] detail progress",
							"fetched", detailsFetched, "cap", a.maxDetail,
							"external_id", r["external_id"])
					}
				}
			}

			payload := make(map[string]any, len(r)+1)
			for k, v := range r {
				payload[k] = v
			}
			if detailHasData(detail) {
				payload["detail"] = detail
			}
			run.RawRecords = append(run.RawRecords, RawRecord{
				SourceID:   a.SourceID(),
				ExternalID: stringField(r, "external_id"),
				Payload:    payload,
			})

			unit := a.NormalizeTender(r)
			if detail != nil {
				mergeDetail(unit, detail)
			}
			run.Units = append(run.Units, unit)
		}

		run.Stats.PagesScraped++
	}

	run.Stats.DetailsFetched = detailsFetched
	a.logger.Info("[NEN] finished",
		"pages_scraped", run.Stats.PagesScraped, "details_fetched", detailsFetched)
	return run, nil
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
