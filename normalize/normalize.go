// Package normalize turns provider messages into flat, size-bounded records.
package normalize

import (
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jessdabre/gmail-to-sheets/model"
	"github.com/jessdabre/gmail-to-sheets/provider"
)

const (
	// SafetyMargin keeps the body ceiling below the store's cell limit.
	SafetyMargin = 5000
	// Ceiling is the longest body, in characters, kept without truncation.
	Ceiling = provider.CellLimit - SafetyMargin
	// LargeBodyWarning is the body length above which a warning is logged.
	LargeBodyWarning = 40000

	// TimestampLayout is the canonical form of the Date column.
	TimestampLayout = "2006-01-02 15:04:05"
)

// ErrMalformedMessage is returned when a message has no header list.
var ErrMalformedMessage = errors.New("message has no headers")

// Normalizer turns raw messages into flat records.
type Normalizer struct {
	logger  *slog.Logger
	ceiling int
}

// New returns a Normalizer; a nil logger discards its warnings.
func New(logger *slog.Logger) *Normalizer {
	return &Normalizer{logger: logger, ceiling: Ceiling}
}

// Normalize converts raw into a FlatRecord. Only a missing payload or header
// list fails; every other problem degrades to an empty or raw value.
func (n *Normalizer) Normalize(raw model.RawMessage) (model.FlatRecord, error) {
	if raw.Payload == nil || raw.Payload.Headers == nil {
		return model.FlatRecord{}, fmt.Errorf("message %s: %w", raw.ID, ErrMalformedMessage)
	}

	headers := raw.Payload.Headers
	sender := Header(headers, "From")
	timestamp, receivedAt := ParseTimestamp(Header(headers, "Date"))

	body := ExtractBody(raw.Payload)
	if length := utf8.RuneCountInString(body); length > LargeBodyWarning && n.logger != nil {
		n.logger.Warn("large message body", "id", raw.ID, "from", sender, "chars", length)
	}

	return model.FlatRecord{
		ID:         raw.ID,
		Sender:     sender,
		Subject:    Header(headers, "Subject"),
		Timestamp:  timestamp,
		Body:       Truncate(body, n.ceiling),
		ReceivedAt: receivedAt,
	}, nil
}

// Header returns the value of the first header named name, compared
// case-insensitively, or "" when absent.
func Header(headers []model.Header, name string) string {
	for _, h := range headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// ParseTimestamp reformats an RFC 5322 date into TimestampLayout. Unparseable
// input is returned unchanged with a zero time.
func ParseTimestamp(raw string) (string, time.Time) {
	t, err := mail.ParseDate(strings.TrimSpace(raw))
	if err != nil {
		return raw, time.Time{}
	}
	return t.Format(TimestampLayout), t
}
