package logger

import (
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"
)

// maxLogValue caps how much of one user-supplied value reaches a log line.
// Source handles are often long signed URLs.
const maxLogValue = 256

// SanitizeForLog escapes control characters (newlines, tabs, NUL, ANSI
// escapes) so a title or path cannot forge log lines, and cuts values longer
// than maxLogValue bytes. Printable Unicode passes through.
func SanitizeForLog(s string) string {
	cut := 0
	if len(s) > maxLogValue {
		n := maxLogValue
		for n > 0 && !utf8.RuneStart(s[n]) {
			n--
		}
		cut = len(s) - n
		s = s[:n]
	}

	var b strings.Builder
	b.Grow(len(s) + 16)
	for _, r := range s {
		switch r {
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			if r < 0x20 || r == 0x7f {
				fmt.Fprintf(&b, `\x%02x`, r)
			} else {
				b.WriteRune(r)
			}
		}
	}
	if cut > 0 {
		fmt.Fprintf(&b, "...(+%d bytes)", cut)
	}
	return b.String()
}

// SanitizeSource is SanitizeForLog for media source handles. Query strings and
// fragments of remote URLs are dropped; they usually carry signatures.
func SanitizeSource(handle string) string {
	u, err := url.Parse(handle)
	if err != nil || u.Host == "" {
		return SanitizeForLog(handle)
	}
	if u.RawQuery != "" || u.Fragment != "" {
		u.RawQuery, u.Fragment = "", ""
		return SanitizeForLog(u.String() + "?[redacted]")
	}
	return SanitizeForLog(u.String())
}
