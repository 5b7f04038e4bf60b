// Package syncer appends normalized records to a store exactly once per
// synced-id set, persisting ids only after the store acknowledged the rows.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/jessdabre/gmail-to-sheets/model"
	"github.com/jessdabre/gmail-to-sheets/normalize"
	"github.com/jessdabre/gmail-to-sheets/provider"
	"github.com/jessdabre/gmail-to-sheets/state"
)

// LimitMarker is appended to any field cut down by the last-resort guard.
const LimitMarker = "\n\n[Content truncated - exceeded character limit]"

// ErrPersistIDs means rows were appended but their ids could not be
// recorded. The next run may append them again.
var ErrPersistIDs = errors.New("rows appended but synced ids not persisted")

type Syncer struct {
	store  provider.Store
	set    state.Set
	target model.Target
	logger *slog.Logger

	limit int
	keep  int
}

func New(store provider.Store, set state.Set, target model.Target, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{
		store:  store,
		set:    set,
		target: target,
		logger: logger,
		limit:  provider.CellLimit,
		keep:   normalize.Ceiling,
	}
}

// Pending returns the records whose ids are not yet synced, in batch order,
// and the records skipped as duplicates. An id repeated within records is a
// duplicate of its first occurrence. Records whose id the state cannot hold
// are logged and left out of both.
func (s *Syncer) Pending(ctx context.Context, records []model.FlatRecord) ([]model.FlatRecord, []model.FlatRecord, error) {
	existing, err := s.set.Load(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("load synced ids: %w", err)
	}

	seen := make(map[string]struct{}, len(records))
	var fresh, dupes []model.FlatRecord
	for _, rec := range records {
		if err := state.ValidateID(rec.ID); err != nil {
			s.logger.Warn("skipping message with unstorable id", "from", rec.Sender, "subject", rec.Subject, "err", err)
			continue
		}
		if _, ok := seen[rec.ID]; ok || existing.Contains(rec.ID) {
			dupes = append(dupes, rec)
			continue
		}
		seen[rec.ID] = struct{}{}
		fresh = append(fresh, rec)
	}
	return fresh, dupes, nil
}

// Sync appends every not-yet-synced record as one batch and returns how many
// rows were appended. When the append fails nothing is persisted and the
// count is 0.
func (s *Syncer) Sync(ctx context.Context, records []model.FlatRecord) (int, error) {
	fresh, dupes, err := s.Pending(ctx, records)
	if err != nil {
		return 0, err
	}
	for _, rec := range dupes {
		s.logger.Debug("skipping already synced message", "id", rec.ID)
	}
	if len(fresh) == 0 {
		return 0, nil
	}

	rows := make([][]string, 0, len(fresh))
	ids := make([]string, 0, len(fresh))
	for _, rec := range fresh {
		rows = append(rows, s.guard(rec).Row())
		ids = append(ids, rec.ID)
	}

	if err := s.store.AppendRows(ctx, s.target, rows); err != nil {
		if provider.IsCellLimit(err) {
			s.logger.Error("store rejected rows over the cell limit", "target", s.target.String(), "rows", len(rows), "err", err)
		} else {
			s.logger.Error("append rows failed", "target", s.target.String(), "rows", len(rows), "err", err)
		}
		return 0, fmt.Errorf("append %d rows: %w", len(rows), err)
	}

	if err := s.set.Append(ctx, ids); err != nil {
		s.logger.Error("persist synced ids failed; rows may be appended again", "rows", len(rows), "err", err)
		return len(rows), fmt.Errorf("%w: %w", ErrPersistIDs, err)
	}

	s.logger.Info("appended rows", "target", s.target.String(), "rows", len(rows))
	return len(rows), nil
}

// guard re-checks every field against the absolute cell limit.
func (s *Syncer) guard(rec model.FlatRecord) model.FlatRecord {
	rec.Sender = s.limitField(rec, "sender", rec.Sender)
	rec.Subject = s.limitField(rec, "subject", rec.Subject)
	rec.Timestamp = s.limitField(rec, "timestamp", rec.Timestamp)
	rec.Body = s.limitField(rec, "body", rec.Body)
	return rec
}

func (s *Syncer) limitField(rec model.FlatRecord, field, value string) string {
	n := utf8.RuneCountInString(value)
	if n <= s.limit {
		return value
	}
	s.logger.Warn("truncating field over cell limit", "id", rec.ID, "field", field, "chars", n)
	return normalize.Cut(value, s.keep) + LimitMarker
}
