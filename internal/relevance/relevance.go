// Package relevance decides whether a notification concerns a subscriber's
// registered address.
package relevance

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	spaceRe     = regexp.MustCompile(`\s+`)
	splitRe     = regexp.MustCompile(`[,\s]+`)
	houseRe     = regexp.MustCompile(`^(\d+)`)
	streetRe    = regexp.MustCompile(`^(?:улица\.?\s+|ул\.\s*|ул\s+)`)
	houseListRe = regexp.MustCompile(`дома\s+(\d+)\s*[-–,\s]\s*(\d+)`)
	hyphenRe    = regexp.MustCompile(`(\d+)\s*[-–]\s*(\d+)`)
	urlRe       = regexp.MustCompile(`https?://\S+`)
	clockRe     = regexp.MustCompile(`\d{1,2}[.:]\d{2}`)
)

// streetPrefixes are the accepted spellings of the street-type word.
var streetPrefixes = []string{"ул", "улица"}

// Address is a parsed subscriber address.
type Address struct {
	Street string
	House  string
	number int
}

// ParseAddress normalizes a free-text address into a street token and an
// optional house number. ok is false when no street token remains.
func ParseAddress(address string) (Address, bool) {
	s := streetRe.ReplaceAllString(normalize(address), "")
	var parts []string
	for _, p := range splitRe.Split(s, -1) {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return Address{}, false
	}

	a := Address{Street: parts[0]}
	if len(parts) > 1 {
		if m := houseRe.FindStringSubmatch(parts[1]); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil {
				a.House = parts[1]
				a.number = n
			}
		}
	}
	return a, true
}

// StreetVariants returns the spellings under which the street may appear in
// a notification.
func (a Address) StreetVariants() []string {
	variants := []string{a.Street}
	for _, p := range streetPrefixes {
		for _, dot := range []string{"", "."} {
			for _, sep := range []string{"", " "} {
				variants = append(variants, p+dot+sep+a.Street)
			}
		}
	}
	return variants
}

// Match reports whether text concerns address. An empty address never
// matches. Without a house number the street alone decides; with one, the
// street must match and the number must appear either literally or inside a
// house range. Links and clock times are ignored.
func Match(text, address string) bool {
	if strings.TrimSpace(address) == "" {
		return false
	}
	a, ok := ParseAddress(address)
	if !ok {
		return false
	}

	t := normalize(urlRe.ReplaceAllString(text, " "))
	if !a.matchStreet(t) {
		return false
	}
	if a.House == "" {
		return true
	}
	t = clockRe.ReplaceAllString(t, " ")
	return a.matchHouse(t) || a.inRange(t)
}

func (a Address) matchStreet(text string) bool {
	for _, v := range a.StreetVariants() {
		if strings.Contains(text, v) {
			return true
		}
	}
	return false
}

// matchHouse looks for the house number as a standalone token, so "10" does
// not match "110" or "105".
func (a Address) matchHouse(text string) bool {
	re, err := regexp.Compile(`(^|\D)` + regexp.QuoteMeta(a.House) + `($|[^\d])`)
	if err != nil {
		return false
	}
	return re.MatchString(text)
}

func (a Address) inRange(text string) bool {
	for _, r := range Ranges(text) {
		if a.number >= r[0] && a.number <= r[1] {
			return true
		}
	}
	return false
}

// Ranges extracts house-number ranges from normalized text: "дома N-M",
// "дома N, M", "дома N M" and bare hyphenated "N-M" pairs. A bare pair
// touching '.', ':' or another digit is part of a time or date, not a house
// range. Inverted ranges are dropped.
func Ranges(text string) [][2]int {
	var out [][2]int
	add := func(lo, hi string) {
		l, err1 := strconv.Atoi(lo)
		h, err2 := strconv.Atoi(hi)
		if err1 != nil || err2 != nil || l > h {
			return
		}
		out = append(out, [2]int{l, h})
	}

	for _, m := range houseListRe.FindAllStringSubmatch(text, -1) {
		add(m[1], m[2])
	}
	for _, m := range hyphenRe.FindAllStringSubmatchIndex(text, -1) {
		if timeAdjacent(text, m[0], m[1]) {
			continue
		}
		add(text[m[2]:m[3]], text[m[4]:m[5]])
	}
	return out
}

// timeAdjacent reports whether text[start:end] is glued to a time or date
// separator.
func timeAdjacent(text string, start, end int) bool {
	isSep := func(c byte) bool { return c == '.' || c == ':' || (c >= '0' && c <= '9') }
	return (start > 0 && isSep(text[start-1])) || (end < len(text) && isSep(text[end]))
}

func normalize(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, "ё", "е")
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}
