// Package provider declares the mailbox and tabular-store capabilities the
// sync depends on, and the error type every provider returns.
package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/jessdabre/gmail-to-sheets/model"
)

// CellLimit is the store's absolute per-cell character limit.
const CellLimit = 50000

// Mailbox is the message source.
type Mailbox interface {
	ListUnread(ctx context.Context) ([]string, error)
	GetFull(ctx context.Context, id string) (model.RawMessage, error)
	MarkRead(ctx context.Context, ids []string) error
}

// Store is the tabular sink. AppendRows must be all-or-nothing.
type Store interface {
	AppendRows(ctx context.Context, target model.Target, rows [][]string) error
	WriteHeader(ctx context.Context, target model.Target) error
}

// ErrCredentials marks a failure of the credentials themselves, such as a
// refreshed token that could not be stored.
var ErrCredentials = errors.New("credentials unusable")

// Kind classifies provider failures.
type Kind string

const (
	KindUnknown   Kind = "unknown"
	KindAuth      Kind = "auth"
	KindInvalid   Kind = "invalid"
	KindNotFound  Kind = "not_found"
	KindRateLimit Kind = "rate_limit"
	KindServer    Kind = "server"
	KindCellLimit Kind = "cell_limit"
)

// Error is returned by every provider implementation.
type Error struct {
	Provider string
	Kind     Kind
	Op       string
	Err      error
}

func NewError(providerName string, kind Kind, op string, err error) *Error {
	return &Error{Provider: providerName, Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s (%s): %v", e.Provider, e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Fatal reports whether retrying on the next run cannot help without
// operator action (bad credentials or target identifiers).
func (e *Error) Fatal() bool {
	return e.Kind == KindAuth || e.Kind == KindInvalid
}

// KindOf returns the Kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}
	return KindUnknown
}

// IsFatal reports whether err carries a fatal provider error.
func IsFatal(err error) bool {
	var perr *Error
	return errors.As(err, &perr) && perr.Fatal()
}

// IsCellLimit reports whether the store rejected a write over the cell limit.
func IsCellLimit(err error) bool {
	return KindOf(err) == KindCellLimit
}
