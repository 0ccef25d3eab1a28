package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var (
	ErrInvalidSignature      = errors.New("invalid_signature")
	ErrInvalidPayload        = errors.New("invalid_payload")
	ErrInvalidEvent          = errors.New("invalid_event")
	ErrMissingMetadata       = errors.New("missing_metadata")
	ErrEventAlreadyProcessed = errors.New("event_already_processed")
	ErrNotConfigured         = errors.New("webhook_not_configured")
)

// Parser authenticates a raw delivery and decodes it. Verification failures
// return ErrInvalidSignature before the body is looked at.
type Parser interface {
	Provider() string
	Parse(payload []byte, signatureHeader string) (*Envelope, error)
}

type Service interface {
	Ingest(ctx context.Context, payload []byte, signatureHeader string) error
}

type Repository interface {
	InsertEvent(ctx context.Context, db *gorm.DB, event *EventRecord) (bool, error)
	FindEvent(ctx context.Context, db *gorm.DB, provider string, providerEventID string) (*EventRecord, error)
	MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time) error
}
