// Package gmail reads unread messages through the Gmail REST API.
package gmail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/jessdabre/gmail-to-sheets/model"
	"github.com/jessdabre/gmail-to-sheets/provider"
)

const (
	ProviderName = "gmail"

	DefaultUser     = "me"
	DefaultQuery    = "is:unread in:inbox"
	DefaultPageSize = 100

	labelUnread = "UNREAD"
	// BatchModify accepts at most 1000 ids per call.
	maxBatchModify = 1000
)

type Options struct {
	User     string
	Query    string
	PageSize int64

	ClientOptions []option.ClientOption
}

func (o Options) withDefaults() Options {
	if o.User == "" {
		o.User = DefaultUser
	}
	if o.Query == "" {
		o.Query = DefaultQuery
	}
	if o.PageSize <= 0 {
		o.PageSize = DefaultPageSize
	}
	return o
}

// Mailbox implements provider.Mailbox on top of the Gmail API. Calls go
// through a circuit breaker so a watch loop stops hammering a failing API.
type Mailbox struct {
	svc    *gmailapi.Service
	opts   Options
	cb     *gobreaker.CircuitBreaker
	logger *slog.Logger
}

func New(ctx context.Context, opts Options, logger *slog.Logger) (*Mailbox, error) {
	opts = opts.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	svc, err := gmailapi.NewService(ctx, opts.ClientOptions...)
	if err != nil {
		return nil, provider.NewError(ProviderName, provider.KindInvalid, "new service", err)
	}

	settings := gobreaker.Settings{
		Name:        "gmail-api",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		IsSuccessful: isSuccessful,
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	}

	return &Mailbox{
		svc:    svc,
		opts:   opts,
		cb:     gobreaker.NewCircuitBreaker(settings),
		logger: logger,
	}, nil
}

// ListUnread returns at most one page of ids matching the configured query.
func (m *Mailbox) ListUnread(ctx context.Context) ([]string, error) {
	result, err := m.cb.Execute(func() (interface{}, error) {
		return m.svc.Users.Messages.List(m.opts.User).
			Q(m.opts.Query).
			MaxResults(m.opts.PageSize).
			Context(ctx).
			Do()
	})
	if err != nil {
		return nil, m.wrap("list messages", err)
	}

	resp := result.(*gmailapi.ListMessagesResponse)
	ids := make([]string, 0, len(resp.Messages))
	for _, msg := range resp.Messages {
		if msg == nil || msg.Id == "" {
			continue
		}
		ids = append(ids, msg.Id)
	}

	m.logger.Debug("listed unread messages", "count", len(ids), "estimate", resp.ResultSizeEstimate, "query", m.opts.Query)
	return ids, nil
}

func (m *Mailbox) GetFull(ctx context.Context, id string) (model.RawMessage, error) {
	result, err := m.cb.Execute(func() (interface{}, error) {
		return m.svc.Users.Messages.Get(m.opts.User, id).
			Format("full").
			Context(ctx).
			Do()
	})
	if err != nil {
		return model.RawMessage{}, m.wrap(fmt.Sprintf("get message %s", id), err)
	}

	msg := result.(*gmailapi.Message)
	return model.RawMessage{ID: msg.Id, Payload: convertPayload(msg.Payload)}, nil
}

// MarkRead removes the UNREAD label from ids.
func (m *Mailbox) MarkRead(ctx context.Context, ids []string) error {
	for start := 0; start < len(ids); start += maxBatchModify {
		end := min(start+maxBatchModify, len(ids))
		req := &gmailapi.BatchModifyMessagesRequest{
			Ids:            ids[start:end],
			RemoveLabelIds: []string{labelUnread},
		}

		_, err := m.cb.Execute(func() (interface{}, error) {
			return nil, m.svc.Users.Messages.BatchModify(m.opts.User, req).Context(ctx).Do()
		})
		if err != nil {
			return m.wrap("batch modify", err)
		}
	}
	return nil
}

func (m *Mailbox) wrap(op string, err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return provider.NewError(ProviderName, provider.KindServer, op, err)
	}
	return provider.FromGoogleAPI(ProviderName, op, err)
}

// isSuccessful keeps client errors other than throttling from tripping the
// breaker.
func isSuccessful(err error) bool {
	if err == nil {
		return true
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code >= 400 && apiErr.Code < 500 && apiErr.Code != http.StatusTooManyRequests
	}
	return false
}

func convertPayload(p *gmailapi.MessagePart) *model.Payload {
	if p == nil {
		return nil
	}

	var headers []model.Header
	if p.Headers != nil {
		headers = make([]model.Header, 0, len(p.Headers))
		for _, h := range p.Headers {
			if h == nil {
				continue
			}
			headers = append(headers, model.Header{Name: h.Name, Value: h.Value})
		}
	}

	return &model.Payload{
		Headers:  headers,
		MimeType: p.MimeType,
		Body:     convertBody(p.Body),
		Parts:    convertParts(p.Parts),
	}
}

func convertParts(parts []*gmailapi.MessagePart) []model.Part {
	if len(parts) == 0 {
		return nil
	}
	out := make([]model.Part, 0, len(parts))
	for _, part := range parts {
		if part == nil {
			continue
		}
		out = append(out, model.Part{
			MimeType: part.MimeType,
			Body:     convertBody(part.Body),
			Parts:    convertParts(part.Parts),
		})
	}
	return out
}

func convertBody(b *gmailapi.MessagePartBody) model.Body {
	if b == nil {
		return model.Body{}
	}
	return model.Body{Data: b.Data}
}
