package messagequeue

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Strob0t/TenantForge/internal/domain/event"
)

// Validate checks whether data is a well-formed message for subject. Tenant
// event subjects require a TenantEvent whose type matches the subject.
// Unknown subjects only need to be valid JSON.
func Validate(subject string, data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("invalid JSON on subject %s", subject)
	}
	if !strings.HasPrefix(subject, SubjectTenantPrefix) || strings.HasSuffix(subject, SubjectDLQSuffix) {
		return nil
	}

	var ev event.TenantEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return fmt.Errorf("schema validation failed for %s: %w", subject, err)
	}
	if ev.Username == "" {
		return errors.New("schema validation failed for " + subject + ": username is required")
	}
	if ev.Subject() != subject {
		return fmt.Errorf("schema validation failed for %s: event type %q does not match", subject, ev.Type)
	}
	return nil
}
