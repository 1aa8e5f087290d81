package core

import (
	"context"
	"time"
)

// Store is the storage collaborator. The ingestion core never issues
// persistence queries itself; it goes through this interface.
type Store interface {
	// FindExistingByNaturalKey returns the stored record with the given
	// natural key, or nil when none exists.
	FindExistingByNaturalKey(ctx context.Context, t DomainType, key string) (*ExistingRecord, error)

	// Persist writes records, merging into existing rows by natural key.
	Persist(ctx context.Context, records []*Record) (PersistResult, error)
}

// Publisher is the transport collaborator. It receives a finished report
// and the accepted records as one opaque message.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// Message is the payload handed to a Publisher.
type Message struct {
	ReportID    string    `json:"report_id"`
	Filename    string    `json:"filename"`
	Status      Status    `json:"status"`
	Report      any       `json:"report"`
	Records     []*Record `json:"records"`
	PublishedAt time.Time `json:"published_at"`
}

type submitterKey struct{}

// Submitter identifies who submitted a file.
type Submitter struct {
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

// WithSubmitter returns a context carrying submitter metadata.
func WithSubmitter(ctx context.Context, s Submitter) context.Context {
	return context.WithValue(ctx, submitterKey{}, s)
}

// SubmitterFromContext extracts submitter metadata, if any.
func SubmitterFromContext(ctx context.Context) Submitter {
	if s, ok := ctx.Value(submitterKey{}).(Submitter); ok {
		return s
	}
	return Submitter{}
}
