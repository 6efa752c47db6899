package attachcache

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/url"
	"path"

	"github.com/bsmart-pg/Mail-Stadtwerke-Tool-sub000/internal/core/domain"
	"github.com/bsmart-pg/Mail-Stadtwerke-Tool-sub000/internal/core/ports"
)

// Fetcher serves attachment bytes from object storage and falls back to the mailbox,
// storing what it fetched. Storage failures never fail the fetch.
type Fetcher struct {
	next    ports.AttachmentFetcher
	storage ports.ObjectStorage
}

func New(next ports.AttachmentFetcher, storage ports.ObjectStorage) *Fetcher {
	return &Fetcher{next: next, storage: storage}
}

func (f *Fetcher) GetAttachmentBytes(ctx context.Context, mailbox, messageID, attachmentID string) ([]byte, error) {
	key := Key(mailbox, messageID, attachmentID)

	if content, ok := f.load(ctx, key); ok {
		return content, nil
	}

	content, err := f.next.GetAttachmentBytes(ctx, mailbox, messageID, attachmentID)
	if err != nil {
		return nil, err
	}
	if err := f.storage.Save(ctx, key, bytes.NewReader(content)); err != nil {
		slog.Warn("attachment_cache_store_failed", "key", key, "error", err)
	}
	return content, nil
}

func (f *Fetcher) load(ctx context.Context, key string) ([]byte, bool) {
	rc, err := f.storage.Open(ctx, key)
	if err != nil {
		if !domain.IsKind(err, domain.ErrObjectNotFound) {
			slog.Warn("attachment_cache_read_failed", "key", key, "error", err)
		}
		return nil, false
	}
	defer rc.Close()

	content, err := io.ReadAll(rc)
	if err != nil {
		slog.Warn("attachment_cache_read_failed", "key", key, "error", err)
		return nil, false
	}
	return content, true
}

// Key builds the object key. Each segment is escaped so ids cannot traverse paths.
func Key(mailbox, messageID, attachmentID string) string {
	return path.Join("attachments",
		url.PathEscape(mailbox),
		url.PathEscape(messageID),
		url.PathEscape(attachmentID),
	)
}
