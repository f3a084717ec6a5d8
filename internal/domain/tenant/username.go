package tenant

import (
	"fmt"
	"strings"

	"github.com/Strob0t/TenantForge/internal/domain"
)

// MaxUsernameLength bounds normalized usernames so that derived names such as
// "n8n-data-<username>" stay within the 63 character DNS label limit.
const MaxUsernameLength = 40

// Separator replaces every run of characters outside [a-z0-9].
const Separator = '-'

// Normalize maps a raw username to its canonical form: lowercased, each run of
// non-alphanumeric characters replaced by a single Separator, leading and
// trailing separators trimmed, and the result truncated to MaxUsernameLength.
// Normalize is deterministic and idempotent.
func Normalize(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	pendingSep := false
	for _, r := range strings.ToLower(raw) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingSep && b.Len() > 0 {
				b.WriteRune(Separator)
			}
			pendingSep = false
			b.WriteRune(r)
			continue
		}
		pendingSep = true
	}
	s := b.String()
	if len(s) > MaxUsernameLength {
		s = strings.TrimRight(s[:MaxUsernameLength], string(Separator))
	}
	return s
}

// NormalizeUsername normalizes raw and rejects input that is empty before or
// after normalization.
func NormalizeUsername(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", fmt.Errorf("%w: Username is required", domain.ErrValidation)
	}
	u := Normalize(raw)
	if u == "" {
		return "", fmt.Errorf("%w: username %q contains no alphanumeric characters", domain.ErrValidation, raw)
	}
	return u, nil
}
