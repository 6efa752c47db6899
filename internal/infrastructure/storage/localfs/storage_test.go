package localfs

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/bsmart-pg/Mail-Stadtwerke-Tool-sub000/internal/core/domain"
)

func TestSaveAndOpenNestedKey(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := store.Save(context.Background(), "INBOX/42/att-1", strings.NewReader("payload")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	rc, err := store.Open(context.Background(), "INBOX/42/att-1")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer rc.Close()

	data, _ := io.ReadAll(rc)
	if string(data) != "payload" {
		t.Fatalf("unexpected content %q", data)
	}
}

func TestOpenMissingObject(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := store.Open(context.Background(), "missing"); !domain.IsKind(err, domain.ErrObjectNotFound) {
		t.Fatalf("expected object not found, got %v", err)
	}
}

func TestRejectsEscapingKeys(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	for _, key := range []string{"../outside", "/etc/passwd", ""} {
		if err := store.Save(context.Background(), key, strings.NewReader("x")); !domain.IsKind(err, domain.ErrInvalidInput) {
			t.Fatalf("key %q: expected invalid input, got %v", key, err)
		}
	}
}
