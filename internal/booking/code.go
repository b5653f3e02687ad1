package booking

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultCodePrefix is prepended to every human-facing booking code.
const DefaultCodePrefix = "RMM"

// FormatCode builds the human-facing code: prefix, two-digit year, two-digit
// month, then the last four hex characters of the id.
func FormatCode(prefix string, id uuid.UUID, at time.Time) string {
	if prefix == "" {
		prefix = DefaultCodePrefix
	}
	hex := strings.ReplaceAll(id.String(), "-", "")
	return fmt.Sprintf("%s%02d%02d%s", prefix, at.Year()%100, int(at.Month()), hex[len(hex)-4:])
}

// NormalizeCode trims whitespace and upper-cases the prefix part of a code
// typed into an SMS. The hex suffix is lower-cased to match FormatCode.
func NormalizeCode(code string) string {
	code = strings.TrimSpace(code)
	if len(code) <= 4 {
		return strings.ToUpper(code)
	}
	head, tail := code[:len(code)-4], code[len(code)-4:]
	return strings.ToUpper(head) + strings.ToLower(tail)
}
