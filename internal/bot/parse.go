package bot

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"news_bot/internal/ingest"
	"news_bot/internal/model"
)

const (
	prefixToggle = "toggle"
	prefixReact  = "react"
)

func toggleCallback(c model.Category) string {
	return prefixToggle + ":" + string(c)
}

func reactCallback(itemID int64, k model.ReactionKind) string {
	return fmt.Sprintf("%s:%d:%s", prefixReact, itemID, k)
}

// ParseToggleCallback extracts the category from "toggle:<category>".
func ParseToggleCallback(data string) (model.Category, bool) {
	rest, ok := strings.CutPrefix(data, prefixToggle+":")
	if !ok {
		return "", false
	}
	return model.ParseCategory(rest)
}

// ParseReactCallback extracts the item and kind from
// "react:<itemID>:<kind>".
func ParseReactCallback(data string) (int64, model.ReactionKind, bool) {
	parts := strings.Split(data, ":")
	if len(parts) != 3 || parts[0] != prefixReact {
		return 0, "", false
	}
	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || id <= 0 {
		return 0, "", false
	}
	return id, model.ReactionKind(parts[2]), true
}

// ParseBackfillArgs parses "[start end]". Without arguments the default
// range is returned.
func ParseBackfillArgs(args string) (int, int, error) {
	parts := strings.Fields(args)
	switch len(parts) {
	case 0:
		return ingest.DefaultBackfillStart, ingest.DefaultBackfillEnd, nil
	case 2:
	default:
		return 0, 0, errors.New("использование: /backfill [начало конец]")
	}

	start, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("неверный номер страницы %q", parts[0])
	}
	end, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("неверный номер страницы %q", parts[1])
	}
	if start < 1 || end < start {
		return 0, 0, fmt.Errorf("неверный диапазон %d-%d", start, end)
	}
	return start, end, nil
}
