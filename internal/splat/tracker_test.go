package splat

import (
	"testing"
	"time"
)

func TestTrackerAttachEntityOverwrites(t *testing.T) {
	tr := NewTracker()
	tr.Register("req-1", "cat.jpg")

	if _, ok := tr.LookupEntity("req-1"); ok {
		t.Fatalf("no entity should be bound yet")
	}
	tr.AttachEntity("req-1", "photo-a")
	tr.AttachEntity("req-1", "photo-b")
	photoID, ok := tr.LookupEntity("req-1")
	if !ok || photoID != "photo-b" {
		t.Fatalf("entity = %q ok=%v, want photo-b", photoID, ok)
	}

	// unknown request ids are ignored
	tr.AttachEntity("req-missing", "photo-c")
	if _, ok := tr.LookupEntity("req-missing"); ok {
		t.Fatalf("attach to unknown id should not create an entry")
	}
}

func TestTrackerListActiveSnapshot(t *testing.T) {
	tr := NewTracker()
	tr.Register("req-1", "a.jpg")
	tr.Register("req-2", "b.jpg")
	ids := tr.ListActive()
	if len(ids) != 2 {
		t.Fatalf("active = %v, want 2 entries", ids)
	}
	tr.Remove("req-1")
	if len(ids) != 2 {
		t.Fatalf("earlier snapshot must be unaffected by removal")
	}
	if tr.Len() != 1 {
		t.Fatalf("len = %d, want 1", tr.Len())
	}
}

func TestTrackerReapRemovesOnlyStaleEntries(t *testing.T) {
	tr := NewTracker()
	base := time.Now()
	tr.now = func() time.Time { return base }
	tr.Register("old", "a.jpg")
	tr.now = func() time.Time { return base.Add(10 * time.Minute) }
	tr.Register("fresh", "b.jpg")

	removed := tr.Reap(5 * time.Minute)
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if _, ok := tr.Get("old"); ok {
		t.Fatalf("stale entry should be gone")
	}
	if _, ok := tr.Get("fresh"); !ok {
		t.Fatalf("fresh entry should remain")
	}
}
