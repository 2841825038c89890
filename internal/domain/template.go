package domain

import (
	"regexp"
	"time"
)

// Template is a tenant-owned message template for one channel. Name is
// conventionally the event type it serves.
type Template struct {
	ID           string            `json:"id"`
	TenantID     string            `json:"tenant_id"`
	Name         string            `json:"name"`
	Channel      ChannelType       `json:"channel"`
	Subject      string            `json:"subject,omitempty"`
	Body         string            `json:"body"`
	Data         map[string]string `json:"data,omitempty"`
	Version      int               `json:"version"`
	Placeholders []string          `json:"placeholders"`
	Active       bool              `json:"active"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// placeholderPattern matches {name} and {{name}} markers.
var placeholderPattern = regexp.MustCompile(`\{\{?\s*([a-zA-Z0-9_.]+)\s*\}?\}`)

// ReferencedPlaceholders returns the distinct placeholder names used in
// the template's subject, body and data values.
func (t *Template) ReferencedPlaceholders() []string {
	seen := make(map[string]bool)
	var names []string

	collect := func(s string) {
		for _, m := range placeholderPattern.FindAllStringSubmatch(s, -1) {
			if !seen[m[1]] {
				seen[m[1]] = true
				names = append(names, m[1])
			}
		}
	}

	collect(t.Subject)
	collect(t.Body)
	for _, v := range t.Data {
		collect(v)
	}
	return names
}

// UndeclaredPlaceholders returns referenced placeholders missing from the
// declared set. A non-empty result makes the template invalid.
func (t *Template) UndeclaredPlaceholders() []string {
	declared := make(map[string]bool, len(t.Placeholders))
	for _, p := range t.Placeholders {
		declared[p] = true
	}

	var missing []string
	for _, name := range t.ReferencedPlaceholders() {
		if !declared[name] {
			missing = append(missing, name)
		}
	}
	return missing
}
