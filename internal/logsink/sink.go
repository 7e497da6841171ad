// Package logsink appends processing-outcome rows to the log stores.
package logsink

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/Lllllllleong/documentocr/internal/models"
)

// MaxMessageLength caps the message column.
const MaxMessageLength = 4000

// Sink appends one record to a processing log.
type Sink interface {
	Append(ctx context.Context, rec models.LogRecord) error
}

// Multi appends every record to all of its sinks.
type Multi []Sink

// Append writes to each sink in order and joins the failures.
func (m Multi) Append(ctx context.Context, rec models.LogRecord) error {
	var errs []error
	for _, s := range m {
		if err := s.Append(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SanitizeMessage makes free text safe for a single log column: newlines are
// dropped, double quotes become single quotes and the result is capped at
// MaxMessageLength runes.
func SanitizeMessage(msg string) string {
	msg = strings.NewReplacer("\r", "", "\n", "", `"`, "'").Replace(msg)
	msg = strings.TrimSpace(msg)
	if utf8.RuneCountInString(msg) <= MaxMessageLength {
		return msg
	}
	runes := []rune(msg)
	return string(runes[:MaxMessageLength])
}
