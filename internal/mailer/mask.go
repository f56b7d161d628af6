package mailer

import (
	"strings"
	"unicode/utf8"
)

// MaskAddress hides the mailbox part of a recipient address before it goes
// into logs or task results. The domain stays readable.
func MaskAddress(addr string) string {
	at := strings.LastIndexByte(addr, '@')
	if at <= 0 || at == len(addr)-1 {
		return "(invalid address)"
	}
	local, domain := addr[:at], addr[at+1:]
	first, size := utf8.DecodeRuneInString(local)
	if size == len(local) {
		return "*@" + domain
	}
	return string(first) + strings.Repeat("*", utf8.RuneCountInString(local)-1) + "@" + domain
}
