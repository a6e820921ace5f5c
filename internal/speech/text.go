package speech

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	codeFence  = regexp.MustCompile("(?s)```.*?```")
	inlineCode = regexp.MustCompile("`([^`]*)`")
	mdLink     = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	bareURL    = regexp.MustCompile(`https?://\S+`)

	// Narrated actions such as "*takes a slow breath*", "(pauses)" or
	// "[gently]".
	stageDirection = regexp.MustCompile(`(?i)(\*|\(|\[)\s*(pauses?|sighs?|smiles?|nods?|softly|gently|warmly|calmly|takes? a [^*)\]]*|breathes?[^*)\]]*|in a [^*)\]]*voice)\s*(\*|\)|\])`)
	emphasis       = regexp.MustCompile(`(\*{1,3}|_{1,3})([^*_\n]+)(\*{1,3}|_{1,3})`)

	listMarker = regexp.MustCompile(`^\s*(?:[-*+•]|\d{1,2}[.)])\s+`)
	heading    = regexp.MustCompile(`^\s*#{1,6}\s*`)
	quote      = regexp.MustCompile(`^\s*>\s?`)
	speaker    = regexp.MustCompile(`(?i)^\s*(?:therapist|serene|assistant|ai)\s*:\s*`)
)

// Sanitize turns a reply into plain sentences for the speech engine. Markup,
// stage directions and list formatting are dropped, and each list item or
// heading becomes its own sentence so the voice pauses between them.
func Sanitize(raw string) string {
	raw = codeFence.ReplaceAllString(raw, "\n")
	raw = mdLink.ReplaceAllString(raw, "$1")
	raw = bareURL.ReplaceAllString(raw, " ")
	raw = inlineCode.ReplaceAllString(raw, "$1")
	raw = stageDirection.ReplaceAllString(raw, " ")
	raw = emphasis.ReplaceAllString(raw, "$2")

	var sentences []string
	for _, line := range strings.Split(raw, "\n") {
		structured := listMarker.MatchString(line) || heading.MatchString(line)
		line = listMarker.ReplaceAllString(line, "")
		line = heading.ReplaceAllString(line, "")
		line = quote.ReplaceAllString(line, "")
		line = speaker.ReplaceAllString(line, "")
		line = spokenRunes(line)
		if line == "" {
			continue
		}
		if structured && !endsSentence(line) {
			line += "."
		}
		sentences = append(sentences, line)
	}
	return strings.Join(sentences, " ")
}

// spokenRunes keeps letters, digits and the punctuation a speech engine
// uses for phrasing. Everything else collapses into single spaces.
func spokenRunes(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	gap := false
	for _, r := range s {
		switch {
		case r == '\u200d' || r == '\ufe0f' || r == '\u20e3':
		case unicode.IsLetter(r) || unicode.IsDigit(r) || phrasing(r):
			if gap && b.Len() > 0 {
				b.WriteByte(' ')
			}
			gap = false
			b.WriteRune(r)
		case unicode.In(r, unicode.So, unicode.Sk, unicode.Cf):
		default:
			gap = true
		}
	}
	return b.String()
}

func phrasing(r rune) bool {
	return strings.ContainsRune(".,!?:;'\"-()\u2019", r)
}

func endsSentence(s string) bool {
	return strings.ContainsRune(".!?:;", rune(s[len(s)-1]))
}
