package email

import "strings"

// RedactEmail masks the local part of an address for log output, keeping
// the first character and the domain. "reader@example.com" becomes
// "r***@example.com". Malformed addresses are fully masked.
func RedactEmail(addr string) string {
	at := strings.LastIndex(addr, "@")
	if at <= 0 || at == len(addr)-1 {
		return "***"
	}
	return addr[:1] + "***" + addr[at:]
}
