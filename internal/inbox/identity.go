package inbox

import (
	"regexp"
	"strings"

	"github.com/onmp21/glamour-chat-center-34-sub000/internal/channels"
)

// UnknownContactName is returned by Name when a session id carries nothing
// usable.
const UnknownContactName = "Contato"

var digitRunRe = regexp.MustCompile(`\d+`)

// IdentityExtractor derives contact phone and display name from session ids.
// Besides the generic hyphen and digit-run rules it only knows the legacy
// exceptions it was built with.
type IdentityExtractor struct {
	rules []channels.IdentityRule
}

// NewIdentityExtractor copies the legacy rule table.
func NewIdentityExtractor(rules []channels.IdentityRule) *IdentityExtractor {
	copied := make([]channels.IdentityRule, 0, len(rules))
	for _, rule := range rules {
		if rule.SuffixMarker == "" && len(rule.BrandLiterals) == 0 {
			continue
		}
		copied = append(copied, rule)
	}
	return &IdentityExtractor{rules: copied}
}

// Phone returns the contact phone encoded in a session id. It falls back to the
// session id itself when no phone-looking digits exist.
func (e *IdentityExtractor) Phone(sessionID string) string {
	s := strings.TrimSpace(sessionID)
	if before, _, ok := e.matchSuffix(s); ok {
		return before
	}
	if rule, ok := e.matchBrand(s); ok {
		if run := firstPhoneRun(s); run != "" {
			return run
		}
		if rule.FallbackPhone != "" {
			return rule.FallbackPhone
		}
		return sessionID
	}
	if head, _, found := strings.Cut(s, "-"); found {
		if head = strings.TrimSpace(head); isPhoneDigits(head) {
			return head
		}
	}
	if run := firstPhoneRun(s); run != "" {
		return run
	}
	return sessionID
}

// Name returns a display name for the contact behind a session id.
func (e *IdentityExtractor) Name(sessionID string) string {
	name, _ := e.name(sessionID)
	return name
}

// name reports found=false when the id holds no name beyond a phone number,
// so callers can substitute a better default.
func (e *IdentityExtractor) name(sessionID string) (string, bool) {
	s := strings.TrimSpace(sessionID)
	// Same rule order as Phone, so both halves of an identity come from one rule.
	if before, _, ok := e.matchSuffix(s); ok {
		digits := strings.Join(digitRunRe.FindAllString(before, -1), "")
		if len(digits) > 4 {
			digits = digits[len(digits)-4:]
		}
		if digits == "" {
			return "Cliente", true
		}
		return "Cliente " + digits, true
	}
	if rule, ok := e.matchBrand(s); ok {
		if rule.BrandName != "" {
			return rule.BrandName, true
		}
		return rule.BrandLiterals[0], true
	}
	if _, tail, found := strings.Cut(s, "-"); found {
		if tail = strings.TrimSpace(tail); tail != "" {
			return tail, true
		}
	}
	if s == "" {
		return UnknownContactName, false
	}
	if isPhoneLike(s) {
		return s, false
	}
	return s, true
}

func (e *IdentityExtractor) matchSuffix(s string) (string, channels.IdentityRule, bool) {
	if e == nil {
		return "", channels.IdentityRule{}, false
	}
	for _, rule := range e.rules {
		if rule.SuffixMarker == "" {
			continue
		}
		idx := strings.Index(s, rule.SuffixMarker)
		if idx <= 0 {
			continue
		}
		before := strings.TrimSpace(s[:idx])
		if before == "" {
			continue
		}
		return before, rule, true
	}
	return "", channels.IdentityRule{}, false
}

func (e *IdentityExtractor) matchBrand(s string) (channels.IdentityRule, bool) {
	if e == nil || s == "" {
		return channels.IdentityRule{}, false
	}
	lower := strings.ToLower(s)
	for _, rule := range e.rules {
		for _, literal := range rule.BrandLiterals {
			if literal != "" && strings.Contains(lower, strings.ToLower(literal)) {
				return rule, true
			}
		}
	}
	return channels.IdentityRule{}, false
}

// firstPhoneRun returns the first maximal digit run of 10 to 15 digits.
func firstPhoneRun(s string) string {
	for _, run := range digitRunRe.FindAllString(s, -1) {
		if len(run) >= 10 && len(run) <= 15 {
			return run
		}
	}
	return ""
}

func isPhoneDigits(s string) bool {
	if len(s) < 10 || len(s) > 15 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func isPhoneLike(s string) bool {
	hasDigit := false
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			hasDigit = true
		case r == '+' || r == ' ' || r == '(' || r == ')' || r == '.':
		default:
			return false
		}
	}
	return hasDigit
}
