package poller

import (
	"context"
	"sync"
	"testing"
	"time"

	"courseping/internal/courses"
	"courseping/internal/platform"
	"courseping/internal/session"
	kit "courseping/internal/transport"
	"courseping/pkg/logx"
)

type fakeAPI struct {
	mu      sync.Mutex
	courses []platform.Course
	videos  []platform.Video
	err     error
}

func (f *fakeAPI) Courses(ctx context.Context, token string) ([]platform.Course, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.courses, f.err
}

func (f *fakeAPI) Videos(ctx context.Context, token, topicID string) ([]platform.Video, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.videos, f.err
}

func (f *fakeAPI) set(cs []platform.Course, vs []platform.Video, err error) {
	f.mu.Lock()
	f.courses = cs
	f.videos = vs
	f.err = err
	f.mu.Unlock()
}

type notified struct {
	target    kit.ChatTarget
	urlKey    string
	videos    []platform.Video
	activeJob bool
	notice    string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []notified
}

func (f *fakeNotifier) Dispatch(target kit.ChatTarget, urlKey string, videos []platform.Video, hasActiveJob bool) {
	f.mu.Lock()
	f.sent = append(f.sent, notified{target: target, urlKey: urlKey, videos: videos, activeJob: hasActiveJob})
	f.mu.Unlock()
}

func (f *fakeNotifier) Notice(target kit.ChatTarget, text string) {
	f.mu.Lock()
	f.sent = append(f.sent, notified{target: target, notice: text})
	f.mu.Unlock()
}

func (f *fakeNotifier) all() []notified {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]notified(nil), f.sent...)
}

type fixture struct {
	api      *fakeAPI
	subs     *session.Subscriptions
	creds    *session.Credentials
	notifier *fakeNotifier
	svc      *Service
}

// newFixture builds a poller whose cron runner is never started; tests
// drive ticks directly.
func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	api := &fakeAPI{}
	subs := session.NewSubscriptions()
	creds := session.NewCredentials()
	locks := session.NewKeyedMutex()
	notifier := &fakeNotifier{}
	coursesSvc := courses.New(creds, subs, locks, api, logx.Nop())
	svc := New(cfg, subs, locks, coursesSvc, notifier, logx.Nop())
	return &fixture{api: api, subs: subs, creds: creds, notifier: notifier, svc: svc}
}

func TestSubscribeUnknownCourse(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{Interval: time.Hour})

	err := f.svc.Subscribe("alice", "go-basics", kit.ChatTarget{ChatID: 1})
	if err == nil {
		t.Fatal("expected error for course not in the list")
	}
	if f.svc.JobCount() != 0 {
		t.Fatalf("no job should be created, got %d", f.svc.JobCount())
	}
}

func TestSubscribeReplacesExistingJob(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{Interval: time.Hour})
	f.subs.Replace("alice", []platform.Course{{Title: "Go", URLKey: "go-basics", LatestTopicID: "t1"}})

	if err := f.svc.Subscribe("alice", "go-basics", kit.ChatTarget{ChatID: 1}); err != nil {
		t.Fatal(err)
	}
	first, _ := f.subs.Find("alice", "go-basics")
	if !first.Job.Active() {
		t.Fatal("first subscribe should attach an active handle")
	}

	if err := f.svc.Subscribe("alice", "go-basics", kit.ChatTarget{ChatID: 1}); err != nil {
		t.Fatal(err)
	}
	second, _ := f.subs.Find("alice", "go-basics")
	if !second.Job.Active() {
		t.Fatal("second subscribe should attach an active handle")
	}
	if first.Job.ID == second.Job.ID {
		t.Fatal("resubscribe must replace the handle")
	}
	if f.svc.JobCount() != 1 {
		t.Fatalf("want exactly one job, got %d", f.svc.JobCount())
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{Interval: time.Hour})
	f.subs.Replace("alice", []platform.Course{{Title: "Go", URLKey: "go-basics", LatestTopicID: "t1"}})

	if err := f.svc.Subscribe("alice", "go-basics", kit.ChatTarget{ChatID: 1}); err != nil {
		t.Fatal(err)
	}
	f.svc.Unsubscribe("alice", "go-basics")
	f.svc.Unsubscribe("alice", "go-basics")

	if f.svc.JobCount() != 0 {
		t.Fatalf("want zero jobs, got %d", f.svc.JobCount())
	}
	rec, ok := f.subs.Find("alice", "go-basics")
	if !ok {
		t.Fatal("course should remain in the list after unsubscribe")
	}
	if rec.Job.Active() {
		t.Fatal("handle should be cleared")
	}
}

func TestStopAllClearsUserJobs(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{Interval: time.Hour})
	f.subs.Replace("alice", []platform.Course{
		{Title: "Go", URLKey: "go-basics", LatestTopicID: "t1"},
		{Title: "Rust", URLKey: "rust-101", LatestTopicID: "t2"},
	})
	f.subs.Replace("bob", []platform.Course{{Title: "Go", URLKey: "go-basics", LatestTopicID: "t1"}})

	for _, key := range []string{"go-basics", "rust-101"} {
		if err := f.svc.Subscribe("alice", key, kit.ChatTarget{ChatID: 1}); err != nil {
			t.Fatal(err)
		}
	}
	if err := f.svc.Subscribe("bob", "go-basics", kit.ChatTarget{ChatID: 2}); err != nil {
		t.Fatal(err)
	}

	f.svc.StopAll("alice")

	if f.svc.JobCount() != 1 {
		t.Fatalf("only bob's job should survive, got %d", f.svc.JobCount())
	}
	if got := f.subs.List("alice"); len(got) != 0 {
		t.Fatalf("alice's list should be gone, got %d records", len(got))
	}
	if _, ok := f.subs.Find("bob", "go-basics"); !ok {
		t.Fatal("bob's subscription must be untouched")
	}
}

func TestTickResolvesCurrentRecord(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{Interval: time.Hour})
	f.creds.SetAccessToken("alice", "tok")
	f.subs.Replace("alice", []platform.Course{{Title: "Go", URLKey: "go-basics", LatestTopicID: "t1"}})
	if err := f.svc.Subscribe("alice", "go-basics", kit.ChatTarget{ChatID: 7}); err != nil {
		t.Fatal(err)
	}

	// The upstream has moved the course to a new topic since the job was
	// created; the tick must refresh first and fetch videos for t2.
	f.api.set(
		[]platform.Course{{Title: "Go", URLKey: "go-basics", LatestTopicID: "t2"}},
		[]platform.Video{{Title: "Episode 9"}},
		nil,
	)

	f.svc.tick("alice", "go-basics", kit.ChatTarget{ChatID: 7})

	sent := f.notifier.all()
	if len(sent) != 1 {
		t.Fatalf("want one dispatch, got %d", len(sent))
	}
	got := sent[0]
	if got.notice != "" {
		t.Fatalf("unexpected notice %q", got.notice)
	}
	if got.target.ChatID != 7 || got.urlKey != "go-basics" {
		t.Fatalf("wrong destination: %+v", got)
	}
	if len(got.videos) != 1 || got.videos[0].Title != "Episode 9" {
		t.Fatalf("wrong videos: %+v", got.videos)
	}
	if !got.activeJob {
		t.Fatal("tick dispatch must mark the job active")
	}

	rec, _ := f.subs.Find("alice", "go-basics")
	if rec.LatestTopicID != "t2" {
		t.Fatalf("store should hold the refreshed topic, got %q", rec.LatestTopicID)
	}
	if !rec.Job.Active() {
		t.Fatal("job handle must survive the refresh")
	}
}

func TestTickRefreshFailureKeepsJob(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{Interval: time.Hour})
	f.creds.SetAccessToken("alice", "tok")
	f.subs.Replace("alice", []platform.Course{{Title: "Go", URLKey: "go-basics", LatestTopicID: "t1"}})
	if err := f.svc.Subscribe("alice", "go-basics", kit.ChatTarget{ChatID: 7}); err != nil {
		t.Fatal(err)
	}

	f.api.set(nil, nil, context.DeadlineExceeded)

	f.svc.tick("alice", "go-basics", kit.ChatTarget{ChatID: 7})

	got := f.notifier.all()
	if len(got) != 1 || got[0].notice == "" {
		t.Fatalf("want one failure notice, got %+v", got)
	}
	if f.svc.JobCount() != 1 {
		t.Fatalf("job must stay scheduled, got %d", f.svc.JobCount())
	}
}

func TestTickSkipsCourseGoneFromList(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{Interval: time.Hour})
	f.creds.SetAccessToken("alice", "tok")
	f.subs.Replace("alice", []platform.Course{{Title: "Go", URLKey: "go-basics", LatestTopicID: "t1"}})
	if err := f.svc.Subscribe("alice", "go-basics", kit.ChatTarget{ChatID: 7}); err != nil {
		t.Fatal(err)
	}

	// Next refresh no longer contains the course.
	f.api.set([]platform.Course{{Title: "Rust", URLKey: "rust-101", LatestTopicID: "t9"}}, nil, nil)

	f.svc.tick("alice", "go-basics", kit.ChatTarget{ChatID: 7})

	if got := f.notifier.all(); len(got) != 0 {
		t.Fatalf("nothing should be sent for a vanished course, got %+v", got)
	}
}

func TestApplyIntervalAffectsNewJobs(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{Interval: time.Hour})
	f.svc.ApplyInterval(10 * time.Minute)
	if got := f.svc.interval(); got != 10*time.Minute {
		t.Fatalf("want 10m, got %v", got)
	}
	f.svc.ApplyInterval(0)
	if got := f.svc.interval(); got != 10*time.Minute {
		t.Fatalf("non-positive interval must be ignored, got %v", got)
	}
}
