// Package archive keeps a copy of messages the pump could not decode
// before they are deleted from the queue. Each pump cycle with poison
// messages produces one parquet object, partitioned by hour.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/baldanca/queue-pump/logging"
	"github.com/baldanca/queue-pump/pump"
)

// PoisonRecord is one archived message.
type PoisonRecord struct {
	MessageID    string `parquet:"message_id"`
	Queue        string `parquet:"queue"`
	Body         string `parquet:"body"`
	Attributes   string `parquet:"attributes"` // JSON object
	ReceiveCount int64  `parquet:"receive_count"`
	SentAtMs     int64  `parquet:"sent_at_ms"`
	Error        string `parquet:"error"`
	ArchivedAtMs int64  `parquet:"archived_at_ms"`
}

// Store persists one encoded object and returns its final key.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// Archiver implements pump.PoisonArchiver.
type Archiver struct {
	store  Store
	enc    ParquetEncoder[PoisonRecord]
	logger logrus.FieldLogger
	now    func() time.Time
}

type Option func(*Archiver)

func WithCompression(name string) Option {
	return func(a *Archiver) { a.enc.Compression = name }
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(a *Archiver) {
		if l != nil {
			a.logger = l
		}
	}
}

func withClock(now func() time.Time) Option {
	return func(a *Archiver) { a.now = now }
}

// New returns an Archiver writing to store. It fails on an unknown
// compression name.
func New(store Store, opts ...Option) (*Archiver, error) {
	if store == nil {
		return nil, fmt.Errorf("archive: nil store")
	}
	a := &Archiver{store: store, logger: logging.Discard(), now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	if _, err := compressionOptions(a.enc.Compression); err != nil {
		return nil, err
	}
	return a, nil
}

var _ pump.PoisonArchiver = (*Archiver)(nil)

func (a *Archiver) ArchivePoison(ctx context.Context, queueName string, msgs []pump.PoisonMessage) error {
	if len(msgs) == 0 {
		return nil
	}

	now := a.now().UTC()
	rows := make([]PoisonRecord, 0, len(msgs))
	for _, m := range msgs {
		rec, err := toRecord(queueName, m, now)
		if err != nil {
			return err
		}
		rows = append(rows, rec)
	}

	data, contentType, err := a.enc.Encode(ctx, rows)
	if err != nil {
		return fmt.Errorf("encode poison records: %w", err)
	}

	key, err := a.store.Put(ctx, objectKey(now, a.enc.FileExtension()), data, contentType)
	if err != nil {
		return err
	}

	a.logger.WithFields(logrus.Fields{
		"queue": queueName,
		"count": len(rows),
		"key":   key,
		"bytes": len(data),
	}).Info("poison messages archived")
	return nil
}

func toRecord(queueName string, m pump.PoisonMessage, now time.Time) (PoisonRecord, error) {
	attrs := []byte("{}")
	if len(m.Envelope.Attributes) > 0 {
		b, err := json.Marshal(m.Envelope.Attributes)
		if err != nil {
			return PoisonRecord{}, fmt.Errorf("marshal attributes of %s: %w", m.Envelope.ID, err)
		}
		attrs = b
	}

	rec := PoisonRecord{
		MessageID:    m.Envelope.ID,
		Queue:        queueName,
		Body:         m.Envelope.Body,
		Attributes:   string(attrs),
		ReceiveCount: int64(m.Envelope.ReceiveCount),
		ArchivedAtMs: now.UnixMilli(),
	}
	if !m.Envelope.SentAt.IsZero() {
		rec.SentAtMs = m.Envelope.SentAt.UnixMilli()
	}
	if m.Err != nil {
		rec.Error = m.Err.Error()
	}
	return rec, nil
}

// objectKey partitions by hour; the uuid suffix keeps concurrent pumps from
// colliding.
func objectKey(now time.Time, ext string) string {
	return fmt.Sprintf("%04d/%02d/%02d/%02d/%d-%s%s",
		now.Year(), int(now.Month()), now.Day(), now.Hour(), now.UnixNano(), uuid.NewString(), ext,
	)
}
