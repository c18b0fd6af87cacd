package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/avelov/sellbot/internal/domain"
)

// BlobWriter is the slice of Writer the archiver needs. Kept narrow so tests
// can swap in a buffer-backed fake.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// multipartThreshold is the payload size above which the archiver switches
// to multipart upload.
const multipartThreshold = 8 * 1024 * 1024

// Archiver snapshots terminal order history to object storage as JSONL. The
// housekeeping loop feeds it the rows each cleanup pass purged from the
// primary store, so a failed upload loses that round's snapshot; the failure
// is surfaced for the operator to recover from database backups.
type Archiver struct {
	writer BlobWriter
	clock  domain.Clock
}

// NewArchiver creates an Archiver.
func NewArchiver(writer BlobWriter, clock domain.Clock) *Archiver {
	return &Archiver{writer: writer, clock: clock}
}

// ArchiveLimitOrders uploads the given terminal limit orders and returns the
// object path. A nil or empty slice is a no-op.
func (a *Archiver) ArchiveLimitOrders(ctx context.Context, orders []domain.LimitOrder) (string, error) {
	if len(orders) == 0 {
		return "", nil
	}
	return a.upload(ctx, "limit_orders", orders)
}

// ArchiveDCAOrders uploads the given terminal DCA orders, buy logs included,
// and returns the object path.
func (a *Archiver) ArchiveDCAOrders(ctx context.Context, orders []domain.DCAOrder) (string, error) {
	if len(orders) == 0 {
		return "", nil
	}
	return a.upload(ctx, "dca_orders", orders)
}

func (a *Archiver) upload(ctx context.Context, kind string, records any) (string, error) {
	buf, err := marshalJSONL(records)
	if err != nil {
		return "", fmt.Errorf("s3blob: marshal %s archive: %w", kind, err)
	}

	path := archivePath(kind, a.clock.Now())
	if len(buf) > multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
	}
	if err != nil {
		return "", fmt.Errorf("s3blob: upload %s archive: %w", kind, err)
	}
	return path, nil
}

// archivePath builds "archive/{kind}/{timestamp}.jsonl". Each cleanup round
// gets its own object so retried rounds never clobber earlier ones.
func archivePath(kind string, now time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, now.UTC().Format("2006-01-02T15-04-05"))
}

// marshalJSONL serializes a slice to newline-delimited JSON.
func marshalJSONL(records any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)

	switch rs := records.(type) {
	case []domain.LimitOrder:
		for _, r := range rs {
			if err := enc.Encode(r); err != nil {
				return nil, err
			}
		}
	case []domain.DCAOrder:
		for _, r := range rs {
			if err := enc.Encode(r); err != nil {
				return nil, err
			}
		}
	default:
		return nil, fmt.Errorf("unsupported record type %T", records)
	}
	return buf.Bytes(), nil
}
