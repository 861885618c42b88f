package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/leaselock/auctiond/internal/domain"
)

// exportPageSize is how many events are fetched per journal query while
// building an export.
const exportPageSize = 500

// HistoryStore provides the journal read access the archiver needs. The
// Postgres event journal satisfies it implicitly.
type HistoryStore interface {
	// ListByAuction returns every event emitted for the given auction, in
	// sequence order.
	ListByAuction(ctx context.Context, auctionID uint64) ([]domain.Event, error)

	// ListAfter returns up to limit events with Seq strictly greater than
	// cursor, in sequence order.
	ListAfter(ctx context.Context, cursor uint64, limit int) ([]domain.Event, error)
}

// ArchiveWriter is the blob access the archiver needs: single-shot puts for
// per-auction histories and multipart puts for journal exports.
type ArchiveWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// Archiver copies settled-auction event histories and full journal dumps to
// object storage. The journal itself remains the system of record; archives
// are for offline audit and replay.
type Archiver struct {
	writer  ArchiveWriter
	journal HistoryStore
}

// NewArchiver creates a new Archiver.
func NewArchiver(writer ArchiveWriter, journal HistoryStore) *Archiver {
	return &Archiver{
		writer:  writer,
		journal: journal,
	}
}

// ArchiveAuction uploads the complete event history of one auction as a JSON
// array at auctions/<id>/events.json, and returns the number of events
// archived. Called by the service layer once an auction reaches a terminal
// state, so the object is immutable from then on.
func (a *Archiver) ArchiveAuction(ctx context.Context, auctionID uint64) (int, error) {
	events, err := a.journal.ListByAuction(ctx, auctionID)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive auction %d query: %w", auctionID, err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	buf, err := json.Marshal(events)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive auction %d marshal: %w", auctionID, err)
	}

	path := fmt.Sprintf("auctions/%d/events.json", auctionID)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/json"); err != nil {
		return 0, fmt.Errorf("s3blob: archive auction %d upload: %w", auctionID, err)
	}

	return len(events), nil
}

// ExportJournal uploads every journal event with Seq greater than afterSeq as
// newline-delimited JSON at journal/<YYYY-MM-DD>-<afterSeq>.jsonl, paging
// through the journal and streaming the result as a multipart upload. It
// returns the number of events exported and the object path.
func (a *Archiver) ExportJournal(ctx context.Context, afterSeq uint64) (int64, string, error) {
	var (
		buf    bytes.Buffer
		count  int64
		cursor = afterSeq
	)

	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for {
		page, err := a.journal.ListAfter(ctx, cursor, exportPageSize)
		if err != nil {
			return 0, "", fmt.Errorf("s3blob: export journal after %d: %w", cursor, err)
		}
		if len(page) == 0 {
			break
		}

		for _, ev := range page {
			if err := enc.Encode(ev); err != nil {
				return 0, "", fmt.Errorf("s3blob: export journal encode seq %d: %w", ev.Seq, err)
			}
		}

		count += int64(len(page))
		cursor = page[len(page)-1].Seq
	}

	if count == 0 {
		return 0, "", nil
	}

	path := fmt.Sprintf("journal/%s-%d.jsonl", time.Now().UTC().Format("2006-01-02"), afterSeq)
	if err := a.writer.PutMultipart(ctx, path, &buf, minPartSize); err != nil {
		return 0, "", fmt.Errorf("s3blob: export journal upload: %w", err)
	}

	return count, path, nil
}
