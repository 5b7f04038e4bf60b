// Package rfc822 converts MIME messages into the provider-neutral
// model.RawMessage shape used by the Gmail API.
package rfc822

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"

	"github.com/jessdabre/gmail-to-sheets/model"
)

const defaultMimeType = "text/plain"

// Parse reads a MIME message. Leaf bodies are transfer-decoded, converted to
// UTF-8 where the charset is known and stored as base64url. Unknown charsets
// and encodings are tolerated; the raw bytes are kept.
func Parse(id string, r io.Reader) (model.RawMessage, error) {
	entity, err := message.Read(r)
	if err != nil && !tolerable(err) {
		return model.RawMessage{}, fmt.Errorf("parse message %s: %w", id, err)
	}

	payload := &model.Payload{
		Headers:  headers(entity.Header),
		MimeType: mimeType(entity.Header),
	}

	if mr := entity.MultipartReader(); mr != nil {
		parts, err := readParts(mr)
		if err != nil {
			return model.RawMessage{}, fmt.Errorf("parse message %s: %w", id, err)
		}
		payload.Parts = parts
	} else {
		data, err := readBody(entity)
		if err != nil {
			return model.RawMessage{}, fmt.Errorf("read body of %s: %w", id, err)
		}
		payload.Body = model.Body{Data: data}
	}

	return model.RawMessage{ID: id, Payload: payload}, nil
}

// ParseBytes is Parse over an in-memory message.
func ParseBytes(id string, raw []byte) (model.RawMessage, error) {
	return Parse(id, bytes.NewReader(raw))
}

func readParts(mr message.MultipartReader) ([]model.Part, error) {
	var parts []model.Part
	for {
		child, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return parts, nil
		}
		if err != nil && !tolerable(err) {
			return parts, fmt.Errorf("next part: %w", err)
		}

		part := model.Part{MimeType: mimeType(child.Header)}
		if nested := child.MultipartReader(); nested != nil {
			if part.Parts, err = readParts(nested); err != nil {
				return parts, err
			}
		} else {
			data, err := readBody(child)
			if err != nil {
				return parts, err
			}
			part.Body = model.Body{Data: data}
		}
		parts = append(parts, part)
	}
}

func readBody(e *message.Entity) (string, error) {
	body, err := io.ReadAll(e.Body)
	if err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(body), nil
}

func headers(h message.Header) []model.Header {
	out := make([]model.Header, 0, h.Len())
	fields := h.Fields()
	for fields.Next() {
		value, err := fields.Text()
		if err != nil {
			value = fields.Value()
		}
		out = append(out, model.Header{Name: fields.Key(), Value: value})
	}
	return out
}

func mimeType(h message.Header) string {
	t, _, err := h.ContentType()
	if err != nil || t == "" {
		return defaultMimeType
	}
	return t
}

func tolerable(err error) bool {
	return message.IsUnknownCharset(err) || message.IsUnknownEncoding(err)
}
