package logger

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeForLog(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "plain title", input: "Cat jumps off table", want: "Cat jumps off table"},
		{name: "path", input: "/home/me/Videos/clip.mp4", want: "/home/me/Videos/clip.mp4"},
		{name: "empty", input: "", want: ""},
		{name: "unicode kept", input: "café 猫 🎬", want: "café 猫 🎬"},
		{name: "newline", input: "a\nb", want: `a\nb`},
		{name: "CRLF forging a line", input: "ok\r\n[ERROR] fake", want: `ok\r\n[ERROR] fake`},
		{name: "tab", input: "a\tb", want: `a\tb`},
		{name: "NUL", input: "a\x00b", want: `a\x00b`},
		{name: "ANSI escape", input: "\x1b[31mred", want: `\x1b[31mred`},
		{name: "DEL", input: "a\x7fb", want: `a\x7fb`},
		{name: "bell", input: "a\x07b", want: `a\x07b`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeForLog(tt.input))
		})
	}
}

func TestSanitizeForLog_NoRawControlChars(t *testing.T) {
	for r := rune(0); r < 0x20; r++ {
		out := SanitizeForLog("x" + string(r) + "y")
		for _, c := range out {
			assert.False(t, c < 0x20, "control %#x survived as %q", r, out)
		}
	}
}

func TestSanitizeForLog_Truncates(t *testing.T) {
	t.Run("ascii", func(t *testing.T) {
		out := SanitizeForLog(strings.Repeat("a", maxLogValue+44))
		assert.Equal(t, strings.Repeat("a", maxLogValue)+"...(+44 bytes)", out)
	})

	t.Run("never splits a rune", func(t *testing.T) {
		// 3-byte runes do not divide maxLogValue evenly.
		out := SanitizeForLog(strings.Repeat("猫", 200))
		assert.True(t, utf8.ValidString(out))
		assert.Contains(t, out, "...(+")
	})

	t.Run("at the limit", func(t *testing.T) {
		in := strings.Repeat("b", maxLogValue)
		assert.Equal(t, in, SanitizeForLog(in))
	})
}

func TestSanitizeSource(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "local path", input: "/videos/clip.mp4", want: "/videos/clip.mp4"},
		{name: "url without query", input: "https://cdn.example.com/v.webm", want: "https://cdn.example.com/v.webm"},
		{
			name:  "signed url",
			input: "https://rr1.example.com/videoplayback?expire=1&sig=ABCDEF",
			want:  "https://rr1.example.com/videoplayback?[redacted]",
		},
		{name: "fragment", input: "https://example.com/v.mp4#t=10", want: "https://example.com/v.mp4?[redacted]"},
		{name: "control chars in path", input: "/tmp/a\nb.mp4", want: `/tmp/a\nb.mp4`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeSource(tt.input))
		})
	}
}

func BenchmarkSanitizeForLog(b *testing.B) {
	in := "A normal clip title with a\nnewline"
	for i := 0; i < b.N; i++ {
		SanitizeForLog(in)
	}
}
