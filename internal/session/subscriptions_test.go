package session

import (
	"testing"

	"courseping/internal/platform"
)

func TestReplaceCarriesJobForward(t *testing.T) {
	t.Parallel()
	s := NewSubscriptions()

	s.Replace("alice", []platform.Course{{Title: "Course 1", URLKey: "c1", LatestTopicID: "t1"}})
	if !s.AttachJob("alice", "c1", JobHandle{ID: 7}) {
		t.Fatal("AttachJob failed")
	}

	got := s.Replace("alice", []platform.Course{
		{Title: "Course 1", URLKey: "c1", LatestTopicID: "t2"},
		{Title: "Course 2", URLKey: "c2"},
	})

	if len(got) != 2 {
		t.Fatalf("got %d records", len(got))
	}
	if got[0].URLKey != "c1" || got[0].LatestTopicID != "t2" {
		t.Fatalf("record 0 = %+v", got[0])
	}
	if got[0].Job != (JobHandle{ID: 7}) {
		t.Fatalf("job not carried forward: %+v", got[0].Job)
	}
	if got[1].URLKey != "c2" || got[1].Job.Active() {
		t.Fatalf("record 1 = %+v", got[1])
	}
}

func TestReplaceDropsStaleEntries(t *testing.T) {
	t.Parallel()
	s := NewSubscriptions()
	s.Replace("bob", []platform.Course{{URLKey: "old"}, {URLKey: "kept"}})

	got := s.Replace("bob", []platform.Course{{URLKey: "kept"}})
	if len(got) != 1 || got[0].URLKey != "kept" {
		t.Fatalf("got %+v", got)
	}
	if _, ok := s.Find("bob", "old"); ok {
		t.Fatal("stale record should be gone")
	}
}

func TestReplaceSkipsDuplicateAndEmptyKeys(t *testing.T) {
	t.Parallel()
	s := NewSubscriptions()
	got := s.Replace("bob", []platform.Course{
		{URLKey: "c1", Title: "first"},
		{URLKey: "c1", Title: "dup"},
		{URLKey: "", Title: "unkeyed"},
	})
	if len(got) != 1 || got[0].Title != "first" {
		t.Fatalf("got %+v", got)
	}
}

func TestAttachReplacesHandle(t *testing.T) {
	t.Parallel()
	s := NewSubscriptions()
	s.Replace("alice", []platform.Course{{URLKey: "c1"}})

	s.AttachJob("alice", "c1", JobHandle{ID: 1})
	s.AttachJob("alice", "c1", JobHandle{ID: 2})

	rec, ok := s.Find("alice", "c1")
	if !ok {
		t.Fatal("record missing")
	}
	if rec.Job.ID != 2 {
		t.Fatalf("job = %+v, want ID 2", rec.Job)
	}
}

func TestAttachUnknownRecord(t *testing.T) {
	t.Parallel()
	s := NewSubscriptions()
	if s.AttachJob("alice", "nope", JobHandle{ID: 1}) {
		t.Fatal("attach to unknown record should report false")
	}
}

func TestDetachIsIdempotent(t *testing.T) {
	t.Parallel()
	s := NewSubscriptions()
	s.Replace("alice", []platform.Course{{URLKey: "c1"}})
	s.AttachJob("alice", "c1", JobHandle{ID: 3})

	s.DetachJob("alice", "c1")
	s.DetachJob("alice", "c1")
	s.DetachJob("alice", "missing")
	s.DetachJob("nobody", "c1")

	rec, _ := s.Find("alice", "c1")
	if rec.Job.Active() {
		t.Fatalf("job should be detached: %+v", rec.Job)
	}
}

func TestRemoveUserReturnsRecords(t *testing.T) {
	t.Parallel()
	s := NewSubscriptions()
	s.Replace("alice", []platform.Course{{URLKey: "c1"}, {URLKey: "c2"}})
	s.AttachJob("alice", "c2", JobHandle{ID: 5})

	removed := s.RemoveUser("alice")
	if len(removed) != 2 {
		t.Fatalf("removed %d records", len(removed))
	}
	if removed[1].Job.ID != 5 {
		t.Fatalf("removed records should carry handles: %+v", removed[1])
	}
	if got := s.List("alice"); len(got) != 0 {
		t.Fatalf("user entry should be gone, got %+v", got)
	}
	if again := s.RemoveUser("alice"); len(again) != 0 {
		t.Fatal("second RemoveUser should be empty")
	}
}
