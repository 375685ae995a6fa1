package messaging

import (
	"regexp"
	"strings"
)

var nonDigitRe = regexp.MustCompile(`\D+`)

// PhoneFromJID extracts the phone digits of a WhatsApp JID such as
// "5577999887766@s.whatsapp.net" or "5577999887766:12@s.whatsapp.net".
// Group and broadcast JIDs yield "".
func PhoneFromJID(jid string) string {
	jid = strings.TrimSpace(jid)
	if jid == "" {
		return ""
	}
	user, server, found := strings.Cut(jid, "@")
	if found {
		switch server {
		case "g.us", "broadcast", "newsletter":
			return ""
		}
	}
	if device := strings.IndexByte(user, ':'); device >= 0 {
		user = user[:device]
	}
	return NormalizePhone(user)
}

// NormalizePhone keeps the digits of a phone number.
func NormalizePhone(value string) string {
	return nonDigitRe.ReplaceAllString(strings.TrimSpace(value), "")
}
