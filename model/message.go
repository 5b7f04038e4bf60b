package model

import "time"

// Header is a single name/value pair from a message header block.
type Header struct {
	Name  string
	Value string
}

// Body carries a leaf payload as base64url-encoded bytes.
type Body struct {
	Data string
}

// Part is one node of a multipart body. Leaves carry Body, containers carry Parts.
type Part struct {
	MimeType string
	Body     Body
	Parts    []Part
}

// Payload is the top-level structure of a message as returned by a mailbox provider.
type Payload struct {
	Headers  []Header
	MimeType string
	Body     Body
	Parts    []Part
}

// Multipart reports whether the payload carries a sequence of parts
// instead of a single body.
func (p *Payload) Multipart() bool {
	return p != nil && len(p.Parts) > 0
}

// RawMessage is a provider message before normalization. It is never mutated.
type RawMessage struct {
	ID      string
	Payload *Payload
}

// FlatRecord is a message reduced to the scalar fields written to the store.
type FlatRecord struct {
	ID        string
	Sender    string
	Subject   string
	Timestamp string
	Body      string

	// ReceivedAt is the parsed Date header, zero when parsing failed.
	// It is never written to the store.
	ReceivedAt time.Time
}

// Columns is the fixed column order of every row written to the store.
var Columns = []string{"From", "Subject", "Date", "Content"}

// Row returns the record's fields in column order.
func (r FlatRecord) Row() []string {
	return []string{r.Sender, r.Subject, r.Timestamp, r.Body}
}

// Target identifies the sheet a batch of rows is appended to.
type Target struct {
	SpreadsheetID string
	Sheet         string
}

func (t Target) String() string {
	return t.SpreadsheetID + "/" + t.Sheet
}
