package notifier

import (
	"sort"

	"github.com/pisafe/pisafe/internal/config"
)

// Recipient is someone notified about alerts in their areas
type Recipient struct {
	Name      string
	Phone     string
	PushTopic string
	Areas     []string
}

// Directory resolves recipients for an area. It is read-only after
// construction.
type Directory struct {
	recipients []Recipient
}

// NewDirectory creates a directory from configuration
func NewDirectory(cfg []config.RecipientConfig) *Directory {
	rs := make([]Recipient, 0, len(cfg))
	for _, r := range cfg {
		rs = append(rs, Recipient{
			Name:      r.Name,
			Phone:     r.Phone,
			PushTopic: r.PushTopic,
			Areas:     append([]string(nil), r.Areas...),
		})
	}
	return &Directory{recipients: rs}
}

// Resolve returns recipients registered for area, or everyone when area is empty
func (d *Directory) Resolve(area string) []Recipient {
	if area == "" {
		return append([]Recipient(nil), d.recipients...)
	}
	var out []Recipient
	for _, r := range d.recipients {
		for _, a := range r.Areas {
			if a == area {
				out = append(out, r)
				break
			}
		}
	}
	return out
}

// Len returns the number of recipients
func (d *Directory) Len() int {
	return len(d.recipients)
}

// areasOf returns the distinct areas of the given recipients, sorted
func areasOf(rs []Recipient) []string {
	seen := make(map[string]struct{})
	for _, r := range rs {
		for _, a := range r.Areas {
			seen[a] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for a := range seen {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}
