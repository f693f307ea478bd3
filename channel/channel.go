package channel

import (
	"fmt"
	"strings"
)

// Prefix is the public URL prefix for Telegram channels.
const Prefix = "https://t.me/"

var urlPrefixes = []string{
	"https://t.me/s/",
	"http://t.me/s/",
	"t.me/s/",
	"https://t.me/",
	"http://t.me/",
	"t.me/",
	"https://telegram.me/",
	"telegram.me/",
}

// Normalize returns the canonical channel name for a raw name, @handle or t.me URL.
func Normalize(raw string) string {
	name := strings.TrimSpace(raw)
	lower := strings.ToLower(name)
	for _, prefix := range urlPrefixes {
		if strings.HasPrefix(lower, prefix) {
			name = name[len(prefix):]
			break
		}
	}
	name = strings.TrimPrefix(name, "@")
	if idx := strings.IndexAny(name, "/?#"); idx != -1 {
		name = name[:idx]
	}
	return strings.TrimSpace(name)
}

// Link returns the permalink of a single message.
func Link(name string, id int) string {
	return fmt.Sprintf("%s%s/%d", Prefix, Normalize(name), id)
}

// Same reports whether two entries refer to the same channel.
func Same(a, b string) bool {
	na, nb := Normalize(a), Normalize(b)
	return na != "" && strings.EqualFold(na, nb)
}

// Match resolves requested aliases against configured entries. Matched entries
// are returned in the form they are configured, without duplicates.
func Match(configured, requested []string) (matched, unknown []string) {
	seen := make(map[string]bool)
	for _, req := range requested {
		req = strings.TrimSpace(req)
		if req == "" {
			continue
		}
		found := false
		for _, entry := range configured {
			if !Same(entry, req) {
				continue
			}
			found = true
			key := strings.ToLower(Normalize(entry))
			if !seen[key] {
				seen[key] = true
				matched = append(matched, entry)
			}
			break
		}
		if !found {
			unknown = append(unknown, req)
		}
	}
	return matched, unknown
}

// Contains reports whether list holds an entry for the channel.
func Contains(list []string, raw string) bool {
	for _, entry := range list {
		if Same(entry, raw) {
			return true
		}
	}
	return false
}

// Remove drops every entry for the channel and reports whether anything was removed.
func Remove(list []string, raw string) ([]string, bool) {
	out := make([]string, 0, len(list))
	removed := false
	for _, entry := range list {
		if Same(entry, raw) {
			removed = true
			continue
		}
		out = append(out, entry)
	}
	return out, removed
}

// Clean trims entries and drops blanks.
func Clean(list []string) []string {
	out := make([]string, 0, len(list))
	for _, entry := range list {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		out = append(out, entry)
	}
	return out
}
