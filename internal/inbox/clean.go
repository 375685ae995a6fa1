package inbox

import (
	"regexp"
	"strings"
)

var (
	horizontalSpaceRe = regexp.MustCompile(`[^\S\n]+`)
	newlineRunRe      = regexp.MustCompile(` ?\n[ \n]*`)
	crlfReplacer      = strings.NewReplacer("\r\n", "\n", "\r", "\n")
)

// CleanContent normalises message text. Runs of blank lines collapse to a
// single newline, runs of horizontal whitespace collapse to one space, and the
// result is trimmed. Interior newlines survive. ok is false when nothing but
// whitespace remains.
func CleanContent(text string) (string, bool) {
	if text == "" {
		return "", false
	}
	out := crlfReplacer.Replace(text)
	out = horizontalSpaceRe.ReplaceAllString(out, " ")
	out = newlineRunRe.ReplaceAllString(out, "\n")
	out = strings.TrimSpace(out)
	if out == "" {
		return "", false
	}
	return out, true
}

// HasContent reports whether text survives cleaning.
func HasContent(text string) bool {
	_, ok := CleanContent(text)
	return ok
}
