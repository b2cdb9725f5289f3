package backup

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"news_bot/internal/model"
)

// Column formats, matching what the store writes.
const (
	timeLayout = "2006-01-02T15:04:05Z"
	dateLayout = "2006-01-02"
)

// DumpItems renders items as INSERT statements.
func DumpItems(items []model.Item) []byte {
	var b strings.Builder
	for _, it := range items {
		fmt.Fprintf(&b, "INSERT INTO items (id, external_id, title, source_link, body, published_date, created_at) VALUES (%d, %d, %s, %s, %s, %s, %s);\n",
			it.ID, it.ExternalID, quote(it.Title), quote(it.SourceLink), quote(it.Body),
			quote(it.PublishedDate.Format(dateLayout)), quoteTime(it.CreatedAt))
	}
	return []byte(b.String())
}

// DumpSubscribers renders subscribers and their category rows as INSERT
// statements.
func DumpSubscribers(subs []model.Subscriber) []byte {
	var b strings.Builder
	for _, s := range subs {
		pending := 0
		if s.AddressPending {
			pending = 1
		}
		fmt.Fprintf(&b, "INSERT INTO subscribers (recipient_id, address, latitude, longitude, address_pending, created_at) VALUES (%d, %s, %s, %s, %d, %s);\n",
			s.RecipientID, quote(s.Address), float(s.Latitude), float(s.Longitude), pending, quoteTime(s.CreatedAt))
		for _, c := range s.Categories {
			fmt.Fprintf(&b, "INSERT INTO subscriber_categories (recipient_id, category) VALUES (%d, %s);\n",
				s.RecipientID, quote(string(c)))
		}
	}
	return []byte(b.String())
}

// DumpReactions renders reactions as INSERT statements.
func DumpReactions(rs []model.Reaction) []byte {
	var b strings.Builder
	for _, r := range rs {
		fmt.Fprintf(&b, "INSERT INTO reactions (item_id, recipient_id, kind, created_at) VALUES (%d, %d, %s, %s);\n",
			r.ItemID, r.RecipientID, quote(string(r.Kind)), quoteTime(r.CreatedAt))
	}
	return []byte(b.String())
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func quoteTime(t time.Time) string {
	return quote(t.UTC().Format(timeLayout))
}

func float(f *float64) string {
	if f == nil {
		return "NULL"
	}
	return strconv.FormatFloat(*f, 'f', -1, 64)
}
