package store

import "testing"

func TestSessionStoreCreateAndList(t *testing.T) {
	dir := t.TempDir()
	s, err := NewSessionStore(dir)
	if err != nil {
		t.Fatalf("NewSessionStore failed: %v", err)
	}

	sess, err := s.Create("default", true)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if sess.ID == "" {
		t.Fatal("expected a non-empty session id")
	}

	list := s.List()
	if len(list) != 1 {
		t.Fatalf("expected 1 session, got %d", len(list))
	}
	if list[0].ID != sess.ID {
		t.Errorf("expected session %s, got %s", sess.ID, list[0].ID)
	}
}

func TestSessionStoreReloadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	s1, err := NewSessionStore(dir)
	if err != nil {
		t.Fatalf("NewSessionStore failed: %v", err)
	}
	sess, _ := s1.Create("default", false)
	if err := s1.Mutate(sess.ID, func(sess *Session) {
		sess.AppendHistory("entry one", sess.UpdatedAt)
	}); err != nil {
		t.Fatalf("Mutate failed: %v", err)
	}

	s2, err := NewSessionStore(dir)
	if err != nil {
		t.Fatalf("reopening store failed: %v", err)
	}
	loaded, ok := s2.Get(sess.ID)
	if !ok {
		t.Fatalf("expected session %s to survive reload", sess.ID)
	}
	if len(loaded.SessionHistory) != 1 || loaded.SessionHistory[0] != "entry one" {
		t.Errorf("session history did not round-trip: %+v", loaded.SessionHistory)
	}
}

func TestSessionStoreDelete(t *testing.T) {
	dir := t.TempDir()
	s, _ := NewSessionStore(dir)
	sess, _ := s.Create("default", false)

	if err := s.Delete(sess.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, ok := s.Get(sess.ID); ok {
		t.Error("expected session to be gone after Delete")
	}
	if err := s.Delete(sess.ID); err == nil {
		t.Error("expected error deleting an already-deleted session")
	}
}

func TestSessionStoreToggleHeadless(t *testing.T) {
	dir := t.TempDir()
	s, _ := NewSessionStore(dir)
	sess, _ := s.Create("default", true)

	if err := s.ToggleHeadless(sess.ID, false); err != nil {
		t.Fatalf("ToggleHeadless failed: %v", err)
	}
	got, _ := s.Get(sess.ID)
	if got.Headless {
		t.Error("expected headless=false after toggle")
	}
}
