// Package fetcher downloads and parses the news listing and detail pages of
// the source site.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"
)

const maxBodySize = 5 * 1024 * 1024

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Candidate is a listing entry that has not been ingested yet.
type Candidate struct {
	ExternalID    int64
	Title         string
	Link          string
	RawDate       string
	PublishedDate time.Time
}

// Detail is the extracted content of an item page.
type Detail struct {
	// HTML is the inner markup of the description container.
	HTML string
	// Paragraphs holds the inner markup of each paragraph. It is empty when
	// the description has no direct paragraph children.
	Paragraphs []string
	Images     []string
}

// Fetcher downloads pages from the source site.
type Fetcher struct {
	client  HTTPClient
	base    *url.URL
	limiter *rate.Limiter
	timeout time.Duration
	log     *slog.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithLimiter shares l between all outbound requests.
func WithLimiter(l *rate.Limiter) Option {
	return func(f *Fetcher) { f.limiter = l }
}

// WithTimeout bounds each request.
func WithTimeout(d time.Duration) Option {
	return func(f *Fetcher) { f.timeout = d }
}

// New creates a Fetcher for the site at baseURL.
func New(client HTTPClient, baseURL string, log *slog.Logger, opts ...Option) (*Fetcher, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", baseURL)
	}
	f := &Fetcher{
		client:  client,
		base:    base,
		limiter: rate.NewLimiter(rate.Inf, 1),
		timeout: 30 * time.Second,
		log:     log,
	}
	for _, o := range opts {
		o(f)
	}
	return f, nil
}

// PageURL returns the listing URL for page. Page 0 and below address the
// root listing.
func (f *Fetcher) PageURL(page int) string {
	if page <= 0 {
		return f.base.String() + "/news"
	}
	return f.base.String() + "/news/index/MNews_page/" + strconv.Itoa(page)
}

// ListPage downloads a listing page and returns its entries in page order.
// The page is fetched eagerly; entries are parsed as they are consumed, and
// malformed ones are skipped with a warning.
func (f *Fetcher) ListPage(ctx context.Context, page int) (iter.Seq[Candidate], error) {
	doc, err := f.get(ctx, f.PageURL(page))
	if err != nil {
		return nil, fmt.Errorf("list page %d: %w", page, err)
	}

	return func(yield func(Candidate) bool) {
		doc.Find(".list-item").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			c, ok := f.parseCandidate(s)
			if !ok {
				return true
			}
			return yield(c)
		})
	}, nil
}

func (f *Fetcher) parseCandidate(s *goquery.Selection) (Candidate, bool) {
	a := s.Find(".caption a.item").First()
	href, ok := a.Attr("href")
	if !ok || strings.TrimSpace(href) == "" {
		f.log.Warn("listing entry without link")
		return Candidate{}, false
	}

	link, err := f.resolve(href)
	if err != nil {
		f.log.Warn("invalid listing link", "href", href, "error", err)
		return Candidate{}, false
	}

	id, err := ParseExternalID(link)
	if err != nil {
		f.log.Warn("invalid external id", "link", link, "error", err)
		return Candidate{}, false
	}

	raw := strings.TrimSpace(s.Find(".date").First().Text())
	date, err := ParseDate(raw)
	if err != nil {
		f.log.Warn("invalid listing date", "external_id", id, "date", raw, "error", err)
		return Candidate{}, false
	}

	return Candidate{
		ExternalID:    id,
		Title:         strings.Join(strings.Fields(a.Text()), " "),
		Link:          link,
		RawDate:       raw,
		PublishedDate: date,
	}, true
}

// Detail downloads an item page and extracts its description markup,
// paragraphs and gallery images.
func (f *Fetcher) Detail(ctx context.Context, link string) (Detail, error) {
	doc, err := f.get(ctx, link)
	if err != nil {
		return Detail{}, fmt.Errorf("detail %s: %w", link, err)
	}

	var d Detail
	desc := doc.Find(".description").First()
	if d.HTML, err = desc.Html(); err != nil {
		return Detail{}, fmt.Errorf("render description: %w", err)
	}

	if desc.ChildrenFiltered("p").Length() > 0 {
		desc.Find("p").Each(func(_ int, p *goquery.Selection) {
			if h, err := p.Html(); err == nil {
				d.Paragraphs = append(d.Paragraphs, h)
			}
		})
	}

	doc.Find(`a[rel="images-gallery"]`).Each(func(_ int, a *goquery.Selection) {
		href, ok := a.Attr("href")
		if !ok || href == "" {
			return
		}
		if u, err := f.resolve(href); err == nil {
			d.Images = append(d.Images, u)
		}
	})

	return d, nil
}

func (f *Fetcher) get(ctx context.Context, target string) (*goquery.Document, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("wait for rate limit: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "NewsNotifyBot/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, nil
}

func (f *Fetcher) resolve(href string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", err
	}
	return f.base.ResolveReference(u).String(), nil
}

// ParseExternalID returns the trailing path segment of link as an integer.
func ParseExternalID(link string) (int64, error) {
	u, err := url.Parse(link)
	if err != nil {
		return 0, fmt.Errorf("parse link: %w", err)
	}
	seg := path.Base(strings.TrimRight(u.Path, "/"))
	id, err := strconv.ParseInt(seg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse id %q: %w", seg, err)
	}
	return id, nil
}

// ParseDate parses a DD.MM.YY listing date. Two-digit years are taken to be
// in the 2000s; four-digit years are accepted as is.
func ParseDate(s string) (time.Time, error) {
	parts := strings.Split(strings.TrimSpace(s), ".")
	if len(parts) != 3 {
		return time.Time{}, fmt.Errorf("unexpected date format %q", s)
	}
	if len(parts[2]) == 2 {
		parts[2] = "20" + parts[2]
	}
	t, err := time.Parse("2.1.2006", strings.Join(parts, "."))
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return t, nil
}
