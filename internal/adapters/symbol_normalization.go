package adapters

import (
	"fmt"
	"regexp"
	"strings"
)

var validSecurityID = regexp.MustCompile(`^[A-Z0-9.-]+$`)

// exchangePrefixes are stripped from identifiers like "NASDAQ:AAPL"
var exchangePrefixes = []string{"NYSE:", "NASDAQ:", "NMS:", "SSE:", "SZSE:"}

// NormalizeSecurityID converts the forms callers commonly pass into the
// identifier every adapter expects: upper-case US tickers and bare six digit
// A-share codes. "sh600519", "600519.SS" and "600519.SH" all become "600519".
func NormalizeSecurityID(id string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(id))
	if s == "" {
		return "", fmt.Errorf("empty security id")
	}

	for _, prefix := range exchangePrefixes {
		if strings.HasPrefix(s, prefix) {
			s = strings.TrimPrefix(s, prefix)
			break
		}
	}
	s = strings.TrimSuffix(s, ".US")

	if code, ok := aShareCode(s); ok {
		return code, nil
	}

	if len(s) > 12 {
		return "", fmt.Errorf("security id too long: %s", id)
	}
	if !validSecurityID.MatchString(s) {
		return "", fmt.Errorf("invalid security id format: %s", id)
	}
	return s, nil
}

// aShareCode recognizes exchange-qualified six digit codes
func aShareCode(s string) (string, bool) {
	for _, prefix := range []string{"SH", "SZ", "BJ"} {
		if len(s) == 8 && strings.HasPrefix(s, prefix) && isDigits(s[2:]) {
			return s[2:], true
		}
	}
	for _, suffix := range []string{".SS", ".SH", ".SZ", ".BJ"} {
		if len(s) == 9 && strings.HasSuffix(s, suffix) && isDigits(s[:6]) {
			return s[:6], true
		}
	}
	return "", false
}
