package browser

import (
	"context"
	"testing"
)

var (
	_ PageDriver = (*MockDriver)(nil)
	_ PageDriver = (*RodDriver)(nil)
)

func TestMockDriverGotoAndSnapshot(t *testing.T) {
	ctx := context.Background()
	pages := map[string]*PageSnapshot{
		"https://example.com": {
			Title:               "Example Domain",
			InteractiveElements: []InteractiveElement{{Index: 0, Tag: "a", Text: "More information"}},
			ContentSnippet:      "This domain is for use in examples.",
		},
	}
	d := NewMockDriver(pages)

	if err := d.Acquire(ctx, "sess-1", true); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if err := d.Goto(ctx, "sess-1", "https://example.com"); err != nil {
		t.Fatalf("Goto failed: %v", err)
	}

	snap, err := d.Snapshot(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if snap.Title != "Example Domain" {
		t.Errorf("expected title %q, got %q", "Example Domain", snap.Title)
	}
	if snap.URL != "https://example.com" {
		t.Errorf("expected url %q, got %q", "https://example.com", snap.URL)
	}
}

func TestMockDriverSnapshotRequiresAcquire(t *testing.T) {
	d := NewMockDriver(nil)
	if _, err := d.Snapshot(context.Background(), "missing"); err == nil {
		t.Fatal("expected error snapshotting a session that was never acquired")
	}
}
