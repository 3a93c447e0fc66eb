package voice

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	speechURLPattern        = regexp.MustCompile(`https?://\S+`)
	speechFencedCodePattern = regexp.MustCompile("(?s)```.*?```")
	speechSymbolReplacer    = strings.NewReplacer(
		"*", " ",
		"_", " ",
		"\\", " ",
		"|", " ",
		"#", " ",
		"~", " ",
		"<", " ",
		">", " ",
	)
)

// speakableText prepares a coach reply for synthesis. The transcript keeps the
// reply as generated; only the spoken copy drops URLs, code and emoji.
func speakableText(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	raw = speechFencedCodePattern.ReplaceAllString(raw, " ")
	raw = speechURLPattern.ReplaceAllString(raw, " ")
	raw = speechSymbolReplacer.Replace(raw)

	var b strings.Builder
	b.Grow(len(raw))
	prevSpace := true
	for _, r := range raw {
		switch {
		case r == '\u200d' || r == '\ufe0f' || r == '\u20e3':
			continue
		case unicode.IsSpace(r):
			if !prevSpace {
				b.WriteByte(' ')
				prevSpace = true
			}
		case unicode.IsControl(r), unicode.In(r, unicode.So, unicode.Sk):
			continue
		default:
			b.WriteRune(r)
			prevSpace = false
		}
	}
	return strings.TrimSpace(b.String())
}
