// Package transform turns scraped item markup into notification text.
//
// Utility announcements (outages) keep their full text and are optionally
// passed through a reformatting service. Everything else is flattened to
// plain text and bounded to the caption limit of the delivery channel,
// using a summarization service when one is configured.
package transform

import (
	"context"
	"html"
	"log/slog"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"news_bot/internal/fetcher"
	"news_bot/internal/filter"
	"news_bot/internal/metrics"
)

// MaxLength is the rune ceiling for regular-mode text.
const MaxLength = 1024

const ellipsis = "..."

// Rewriter is a text service such as the summarizer or the reformatter.
type Rewriter interface {
	Rewrite(ctx context.Context, text string) (string, error)
}

// Result is the transformed content of one item.
type Result struct {
	Text         string
	WasShortened bool
	Images       []string
	Utility      bool
}

// Body returns the text stored for the item: Text followed by the image
// block when there are images.
func (r Result) Body() string {
	return r.Text + ImageBlock(r.Images)
}

// ImageBlock renders the list of image links appended to stored bodies and
// live messages. It is empty when there are no images.
func ImageBlock(images []string) string {
	if len(images) == 0 {
		return ""
	}
	return "\n\n📷 Изображения:\n" + strings.Join(images, "\n")
}

// Pipeline applies the transform rules. The zero value has no enrichment
// services and uses local fallbacks only.
type Pipeline struct {
	summarizer  Rewriter
	reformatter Rewriter
	log         *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithSummarizer sets the service used to shorten long regular items.
func WithSummarizer(r Rewriter) Option {
	return func(p *Pipeline) { p.summarizer = r }
}

// WithReformatter sets the service used to format utility items.
func WithReformatter(r Rewriter) Option {
	return func(p *Pipeline) { p.reformatter = r }
}

// New creates a Pipeline.
func New(log *slog.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{log: log}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Process transforms the detail page of an item titled title.
func (p *Pipeline) Process(ctx context.Context, title string, d fetcher.Detail) Result {
	res := Result{
		Images:  d.Images,
		Utility: filter.IsUtility(title),
	}

	if res.Utility {
		res.Text = p.utilityText(ctx, d.HTML)
		return res
	}

	res.Text, res.WasShortened = p.bound(ctx, RegularText(d))
	return res
}

func (p *Pipeline) utilityText(ctx context.Context, raw string) string {
	local := NormalizeLines(Flatten(raw))
	if p.reformatter == nil || strings.TrimSpace(raw) == "" {
		return local
	}

	out, err := p.reformatter.Rewrite(ctx, CompactHTML(raw))
	if err != nil {
		p.log.Warn("reformat failed, using local text", "error", err)
		metrics.ObserveEnrichFallback("format")
		return local
	}
	return out
}

// bound enforces MaxLength and reports whether the text came from the
// summarizer.
func (p *Pipeline) bound(ctx context.Context, text string) (string, bool) {
	if utf8.RuneCountInString(text) <= MaxLength {
		return text, false
	}

	if p.summarizer != nil {
		summary, err := p.summarizer.Rewrite(ctx, text)
		if err == nil {
			return Truncate(summary, MaxLength), true
		}
		p.log.Warn("summarize failed, truncating", "error", err)
	}
	metrics.ObserveEnrichFallback("summary")
	return Truncate(text, MaxLength), false
}

// Truncate cuts s to at most limit runes, ending it with "..." when cut.
func Truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	r := []rune(s)
	return string(r[:limit-len(ellipsis)]) + ellipsis
}

var (
	brRe         = regexp.MustCompile(`(?i)<br\s*/?>`)
	blankLinesRe = regexp.MustCompile(`\n\s*\n`)
	tagRe        = regexp.MustCompile(`<[^>]*>`)
	commaNLRe    = regexp.MustCompile(`,\s*\n`)
	semiDashRe   = regexp.MustCompile(`;\s*-\s*`)
	leadDashRe   = regexp.MustCompile(`(?m)^[ \t]*-[ \t]*`)
	wsRe         = regexp.MustCompile(`\s+`)
)

// RegularText flattens the detail markup. When the description had
// paragraphs, each one is flattened separately and joined with a blank
// line.
func RegularText(d fetcher.Detail) string {
	if len(d.Paragraphs) == 0 {
		return NormalizeLines(Flatten(d.HTML))
	}

	var parts []string
	for _, p := range d.Paragraphs {
		if t := Flatten(p); t != "" {
			parts = append(parts, t)
		}
	}
	return NormalizeLines(strings.Join(parts, "\n\n"))
}

// Flatten converts a markup fragment to plain text. The rules run in a
// fixed order: line breaks, blank line collapsing, tag stripping, entity
// decoding, comma line joins, list markers, trim.
func Flatten(fragment string) string {
	s := brRe.ReplaceAllString(fragment, "\n")
	s = blankLinesRe.ReplaceAllString(s, "\n\n")
	s = tagRe.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "&nbsp;", " ")
	s = html.UnescapeString(s)
	s = strings.ReplaceAll(s, "\u00a0", " ")
	s = commaNLRe.ReplaceAllString(s, ", ")
	s = semiDashRe.ReplaceAllString(s, ";\n• ")
	s = leadDashRe.ReplaceAllString(s, "• ")
	return strings.TrimSpace(s)
}

// NormalizeLines trims every line, drops empty ones and separates the rest
// with a blank line.
func NormalizeLines(s string) string {
	var lines []string
	for _, l := range strings.Split(s, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	return strings.Join(lines, "\n\n")
}

// strippedAttrs are removed from every element before markup is sent to the
// reformatter, together with all data-* attributes.
var strippedAttrs = map[string]bool{
	"class": true, "id": true, "style": true, "title": true, "tabindex": true, "href": true,
}

// CompactHTML reduces markup to its structure: presentation attributes are
// dropped, empty divs removed, divs holding a single line break collapsed to
// that break, and whitespace collapsed.
func CompactHTML(fragment string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader("<body>" + fragment + "</body>"))
	if err != nil {
		return wsRe.ReplaceAllString(fragment, " ")
	}
	body := doc.Find("body")

	body.Find("*").Each(func(_ int, s *goquery.Selection) {
		for _, n := range s.Nodes {
			kept := n.Attr[:0]
			for _, a := range n.Attr {
				if strippedAttrs[a.Key] || strings.HasPrefix(a.Key, "data-") {
					continue
				}
				kept = append(kept, a)
			}
			n.Attr = kept
		}
	})

	body.Find("div").Each(func(_ int, s *goquery.Selection) {
		if strings.TrimSpace(s.Text()) != "" {
			return
		}
		children := s.Children()
		switch {
		case children.Length() == 0:
			s.Remove()
		case children.Length() == 1 && children.Is("br"):
			s.ReplaceWithHtml("<br>")
		}
	})

	out, err := body.Html()
	if err != nil {
		return wsRe.ReplaceAllString(fragment, " ")
	}
	out = strings.ReplaceAll(out, "\u00a0", " ")
	return strings.TrimSpace(wsRe.ReplaceAllString(out, " "))
}
