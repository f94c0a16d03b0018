package profile

import (
	"strconv"
	"strings"
	"unicode/utf16"
)

const userIDDigits = 9

// FormatUserID derives the public XXX-XXX-XXX number of uid: each UTF-16 code
// unit contributes its value mod 10, right-padded with zeros.
func FormatUserID(uid string) string {
	if uid == "" {
		return "000-000-000"
	}
	var digits strings.Builder
	for _, unit := range utf16.Encode([]rune(uid)) {
		if digits.Len() == userIDDigits {
			break
		}
		digits.WriteByte(byte('0' + unit%10))
	}
	for digits.Len() < userIDDigits {
		digits.WriteByte('0')
	}
	s := digits.String()
	return s[0:3] + "-" + s[3:6] + "-" + s[6:9]
}

// FormatCount renders a follower count: 999, 1.2K, 3.4M.
func FormatCount(n int) string {
	switch {
	case n >= 1_000_000:
		return strconv.FormatFloat(float64(n)/1_000_000, 'f', 1, 64) + "M"
	case n >= 1_000:
		return strconv.FormatFloat(float64(n)/1_000, 'f', 1, 64) + "K"
	default:
		return strconv.Itoa(n)
	}
}
