// Package decoder turns raw alert payloads into the human-readable text
// that is validated, dispatched and audited.
package decoder

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const samePrefix = "ZCZC-"

var (
	// ErrEmptyMessage is returned for payloads with no printable content
	ErrEmptyMessage = errors.New("empty alert message")
	// ErrMalformedHeader is returned for a SAME header that cannot be parsed
	ErrMalformedHeader = errors.New("malformed SAME header")
)

var originators = map[string]string{
	"EAS": "Broadcast station or cable system",
	"CIV": "Civil authorities",
	"WXR": "National Weather Service",
	"PEP": "Primary Entry Point System",
}

var events = map[string]string{
	"ADR": "Administrative Message",
	"CAE": "Child Abduction Emergency",
	"CEM": "Civil Emergency Message",
	"DMO": "Practice/Demo Warning",
	"EAN": "Emergency Action Notification",
	"EQW": "Earthquake Warning",
	"EVI": "Evacuation Immediate",
	"FFW": "Flash Flood Warning",
	"FLW": "Flood Warning",
	"FRW": "Fire Warning",
	"HMW": "Hazardous Materials Warning",
	"HUW": "Hurricane Warning",
	"RMT": "Required Monthly Test",
	"RWT": "Required Weekly Test",
	"SPW": "Shelter in Place Warning",
	"SVR": "Severe Thunderstorm Warning",
	"TOR": "Tornado Warning",
	"TSW": "Tsunami Warning",
	"WSW": "Winter Storm Warning",
}

// Decoder normalizes free text and expands SAME headers
type Decoder struct{}

// New creates a new decoder
func New() *Decoder {
	return &Decoder{}
}

// Decode returns the canonical text for a raw payload
func (d *Decoder) Decode(raw string) (string, error) {
	text := Normalize(raw)
	if text == "" {
		return "", ErrEmptyMessage
	}
	if strings.HasPrefix(strings.ToUpper(text), samePrefix) {
		return decodeSAME(text)
	}
	return text, nil
}

// Normalize applies NFC, drops control characters and collapses whitespace
func Normalize(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Cc)), norm.NFC)
	res, _, err := transform.String(t, s)
	if err != nil {
		res = s
	}
	return strings.Join(strings.Fields(res), " ")
}

// decodeSAME expands ZCZC-ORG-EEE-PSSCCC[-PSSCCC...]+TTTT-JJJHHMM-LLLLLLLL-
func decodeSAME(header string) (string, error) {
	body := strings.TrimSuffix(strings.ToUpper(header[len(samePrefix):]), "-")
	plus := strings.Index(body, "+")
	if plus == -1 {
		return "", fmt.Errorf("%w: missing purge time", ErrMalformedHeader)
	}

	head := strings.Split(body[:plus], "-")
	if len(head) < 3 {
		return "", fmt.Errorf("%w: expected originator, event and locations", ErrMalformedHeader)
	}
	org, event, locations := head[0], head[1], head[2:]
	for _, loc := range locations {
		if len(loc) != 6 || !isDigits(loc) {
			return "", fmt.Errorf("%w: bad location code %q", ErrMalformedHeader, loc)
		}
	}

	tail := strings.SplitN(body[plus+1:], "-", 3)
	if len(tail) < 3 {
		return "", fmt.Errorf("%w: expected purge, issue time and sender", ErrMalformedHeader)
	}
	purge, issued, sender := tail[0], tail[1], tail[2]
	if len(purge) != 4 || !isDigits(purge) {
		return "", fmt.Errorf("%w: bad purge time %q", ErrMalformedHeader, purge)
	}
	if len(issued) != 7 || !isDigits(issued) {
		return "", fmt.Errorf("%w: bad issue time %q", ErrMalformedHeader, issued)
	}

	return fmt.Sprintf("%s: %s has issued a %s for locations %s beginning day %s at %s:%s UTC for %s:%s. Sender: %s",
		event,
		lookup(originators, org),
		lookup(events, event),
		strings.Join(locations, ", "),
		issued[:3], issued[3:5], issued[5:7],
		purge[:2], purge[2:],
		sender,
	), nil
}

func lookup(table map[string]string, code string) string {
	if name, ok := table[code]; ok {
		return name
	}
	return "unknown (" + code + ")"
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
