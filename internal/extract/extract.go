package extract

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/marketplace-scraper/internal/models"
)

// ErrEmptyDocument is returned when the snapshot has no usable document.
var ErrEmptyDocument = errors.New("empty document")

// maxFragmentLength bounds what counts as a short text fragment when looking
// for availability phrases.
const maxFragmentLength = 120

var (
	pricePattern      = regexp.MustCompile(`\d[\d,]*(?:\.\d+)?`)
	stockCountPattern = regexp.MustCompile(`(?i)(\d+)\s*(in stock|available)`)
	onlyLeftPattern   = regexp.MustCompile(`(?i)only\s+(\d+)\s+left`)
	inStockPattern    = regexp.MustCompile(`(?i)\bin stock\b`)
	outOfStockPattern = regexp.MustCompile(`(?i)out of stock|currently unavailable|sold out|no longer available|\b(?:not|no longer)\s+in stock\b`)
)

// Snapshot is the rendered state of a page at extraction time.
type Snapshot struct {
	URL  string
	HTML string
}

// Rules describes how to read one marketplace's product page. Every selector
// list is tried in order and the first usable match wins.
type Rules struct {
	Site              string
	IdentifierPattern *regexp.Regexp
	TitleSelectors    []string
	PriceSelectors    []string
	StockSelectors    []string
}

// Extract reads a Record from the snapshot. Missing fields are left nil; an
// error is only returned when the snapshot itself is unusable.
func (r *Rules) Extract(s Snapshot) (*models.Record, error) {
	if strings.TrimSpace(s.HTML) == "" {
		return nil, ErrEmptyDocument
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s.HTML))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	doc.Find("script, style, noscript, template").Remove()

	record := &models.Record{
		URL:  s.URL,
		Site: r.Site,
	}

	record.ItemNumber = r.extractIdentifier(doc, s.URL)
	record.Title = r.extractTitle(doc)
	record.Price = r.extractPrice(doc)

	fragments := r.stockFragments(doc)
	fullText := doc.Find("body").Text()
	record.StockState, record.StockCount = ParseStock(fragments, fullText)

	return record, nil
}

func (r *Rules) extractIdentifier(doc *goquery.Document, pageURL string) *string {
	if r.IdentifierPattern == nil {
		return nil
	}

	candidates := []string{pageURL}
	if canonical, ok := doc.Find(`link[rel="canonical"]`).First().Attr("href"); ok {
		candidates = append(candidates, canonical)
	}

	for _, candidate := range candidates {
		matches := r.IdentifierPattern.FindStringSubmatch(candidate)
		if len(matches) >= 2 {
			return models.String(matches[len(matches)-1])
		}
	}

	return nil
}

func (r *Rules) extractTitle(doc *goquery.Document) *string {
	var title string
	for _, selector := range r.TitleSelectors {
		doc.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			title = normalizeSpace(s.Text())
			return title == ""
		})
		if title != "" {
			return models.String(title)
		}
	}
	return nil
}

func (r *Rules) extractPrice(doc *goquery.Document) *float64 {
	for _, selector := range r.PriceSelectors {
		sel := doc.Find(selector).First()
		if sel.Length() == 0 {
			continue
		}
		if price, ok := ParsePrice(sel.Text()); ok {
			return models.Float(price)
		}
	}
	return nil
}

// stockFragments collects the short, non-hidden text fragments matched by
// the stock selectors, in document order.
func (r *Rules) stockFragments(doc *goquery.Document) []string {
	var fragments []string
	seen := make(map[string]bool)

	for _, selector := range r.StockSelectors {
		doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
			if isHidden(s) {
				return
			}
			text := normalizeSpace(s.Text())
			if text == "" || len(text) > maxFragmentLength || seen[text] {
				return
			}
			seen[text] = true
			fragments = append(fragments, text)
		})
	}

	return fragments
}

// ParsePrice returns the first numeric token in text with thousands
// separators removed.
func ParsePrice(text string) (float64, bool) {
	match := pricePattern.FindString(text)
	if match == "" {
		return 0, false
	}

	price, err := strconv.ParseFloat(strings.ReplaceAll(match, ",", ""), 64)
	if err != nil {
		return 0, false
	}

	return price, true
}

// ParseStock applies the availability passes in order: explicit counts in
// short fragments, "only N left" in the full text, out of stock phrases and
// finally a bare "in stock" without a quantity.
func ParseStock(fragments []string, fullText string) (models.StockState, *int) {
	for _, fragment := range fragments {
		if m := stockCountPattern.FindStringSubmatch(fragment); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil {
				return models.StockCounted, models.Int(n)
			}
		}
	}

	if m := onlyLeftPattern.FindStringSubmatch(fullText); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			return models.StockCounted, models.Int(n)
		}
	}

	for _, fragment := range fragments {
		if outOfStockPattern.MatchString(fragment) {
			return models.StockOutOfStock, nil
		}
	}

	for _, fragment := range fragments {
		if inStockPattern.MatchString(fragment) {
			return models.StockInStock, nil
		}
	}

	return "", nil
}

// isHidden reports whether s or any ancestor below body is hidden.
func isHidden(s *goquery.Selection) bool {
	hidden := false
	s.ParentsUntil("body").AddBack().EachWithBreak(func(_ int, n *goquery.Selection) bool {
		hidden = hiddenNode(n)
		return !hidden
	})
	return hidden
}

func hiddenNode(s *goquery.Selection) bool {
	if _, ok := s.Attr("hidden"); ok {
		return true
	}
	if v, _ := s.Attr("aria-hidden"); v == "true" {
		return true
	}
	style, _ := s.Attr("style")
	style = strings.ReplaceAll(strings.ToLower(style), " ", "")
	return strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden")
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
