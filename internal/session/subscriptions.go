package session

import (
	"sync"

	"courseping/internal/platform"
)

// JobHandle identifies a scheduled polling job owned by the poller.
// The store only tracks the reference; it never starts or stops jobs.
// The zero value means "no job".
type JobHandle struct {
	ID int64
}

func (h JobHandle) Active() bool { return h.ID != 0 }

// CourseRecord is one course in a user's subscription list.
// Title and LatestTopicID are refreshed from the platform and may change
// between refreshes; URLKey is the course's stable identity within the list.
type CourseRecord struct {
	Title         string
	URLKey        string
	LatestTopicID string
	Job           JobHandle
}

// Subscriptions is the in-memory subscription list store, keyed by username.
//
// Replace applies the job-carry-forward merge: a refresh replaces the whole
// list, but a record whose URLKey matches a prior record with a live job
// keeps that job reference. A refresh must never silently drop an active
// subscription job.
//
// The store mutex only guards map access; callers that need a refresh to be
// atomic across an API call serialize per user with KeyedMutex.
type Subscriptions struct {
	mu     sync.RWMutex
	byUser map[string][]CourseRecord
}

func NewSubscriptions() *Subscriptions {
	return &Subscriptions{byUser: map[string][]CourseRecord{}}
}

// Replace builds the user's new list from fresh platform data, carrying
// forward live job handles by URLKey, and returns a copy of the new list.
// Duplicate URLKeys in fresh data keep the first occurrence.
func (s *Subscriptions) Replace(user string, fresh []platform.Course) []CourseRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	prior := map[string]JobHandle{}
	for _, rec := range s.byUser[user] {
		if rec.Job.Active() {
			prior[rec.URLKey] = rec.Job
		}
	}

	next := make([]CourseRecord, 0, len(fresh))
	seen := map[string]bool{}
	for _, c := range fresh {
		if c.URLKey == "" || seen[c.URLKey] {
			continue
		}
		seen[c.URLKey] = true
		next = append(next, CourseRecord{
			Title:         c.Title,
			URLKey:        c.URLKey,
			LatestTopicID: c.LatestTopicID,
			Job:           prior[c.URLKey],
		})
	}
	s.byUser[user] = next

	return append([]CourseRecord(nil), next...)
}

func (s *Subscriptions) Find(user, urlKey string) (CourseRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.byUser[user] {
		if rec.URLKey == urlKey {
			return rec, true
		}
	}
	return CourseRecord{}, false
}

// List returns a copy of the user's current subscription list.
func (s *Subscriptions) List(user string) []CourseRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]CourseRecord(nil), s.byUser[user]...)
}

// AttachJob sets or replaces the job reference on a record. Replacing
// implies the caller already stopped the old job. Reports whether the
// record exists.
func (s *Subscriptions) AttachJob(user, urlKey string, job JobHandle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs := s.byUser[user]
	for i := range recs {
		if recs[i].URLKey == urlKey {
			recs[i].Job = job
			return true
		}
	}
	return false
}

// DetachJob clears the job reference. Detaching an absent record or an
// absent job is a no-op.
func (s *Subscriptions) DetachJob(user, urlKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs := s.byUser[user]
	for i := range recs {
		if recs[i].URLKey == urlKey {
			recs[i].Job = JobHandle{}
			return
		}
	}
}

// RemoveUser deletes the user's entry and returns the removed records so
// the caller can stop every associated job.
func (s *Subscriptions) RemoveUser(user string) []CourseRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs := s.byUser[user]
	delete(s.byUser, user)
	return recs
}
