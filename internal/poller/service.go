// Package poller owns the recurring per-subscription polling jobs.
//
// The poller's registry, not the subscription store, is authoritative for
// which jobs are live: the store only holds weak handles so the UI can tell
// a subscribed course from an unsubscribed one.
package poller

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"courseping/internal/courses"
	"courseping/internal/notify"
	"courseping/internal/platform"
	"courseping/internal/session"
	kit "courseping/internal/transport"
	"courseping/pkg/logx"
)

// ErrUnknownCourse means subscribe was asked for a key that is not in the
// user's current course list. No job is created for it.
var ErrUnknownCourse = errors.New("course not in subscription list")

const tickTimeout = 60 * time.Second

type Config struct {
	// Interval is the cadence of one subscription's recurring check.
	// Changing it affects jobs created afterwards.
	Interval time.Duration
	// Timezone for the cron runner. Empty means local time.
	Timezone string
}

// Notifier is the slice of the dispatcher the poller needs.
type Notifier interface {
	Dispatch(target kit.ChatTarget, urlKey string, videos []platform.Video, hasActiveJob bool)
	Notice(target kit.ChatTarget, text string)
}

type jobEntry struct {
	handle session.JobHandle
	entry  cron.EntryID
	chat   kit.ChatTarget
}

// Service translates subscribe/unsubscribe intents into cron job
// start/stop and runs the refresh-and-notify routine on each tick.
//
// Invariant: at most one live job per (user, urlKey). Subscribe stops any
// prior job for the key before scheduling the new one, and the registry is
// swept on logout so no job outlives its user.
type Service struct {
	mu     sync.Mutex
	cfg    Config
	c      *cron.Cron
	jobs   map[string]jobEntry
	nextID int64

	subs     *session.Subscriptions
	locks    *session.KeyedMutex
	courses  *courses.Service
	notifier Notifier
	log      logx.Logger
}

func New(cfg Config, subs *session.Subscriptions, locks *session.KeyedMutex, coursesSvc *courses.Service, notifier Notifier, log logx.Logger) *Service {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	loc := time.Local
	if tz := strings.TrimSpace(cfg.Timezone); tz != "" {
		if l, err := time.LoadLocation(tz); err == nil {
			loc = l
		} else {
			log.Warn("invalid poll timezone, using local", logx.String("tz", tz), logx.Err(err))
		}
	}

	return &Service{
		cfg:      cfg,
		c:        cron.New(cron.WithLocation(loc)),
		jobs:     map[string]jobEntry{},
		subs:     subs,
		locks:    locks,
		courses:  coursesSvc,
		notifier: notifier,
		log:      log,
	}
}

func (s *Service) Start() {
	s.c.Start()
	s.log.Info("poller started", logx.Duration("interval", s.interval()))
}

// Stop halts the cron runner and waits for in-flight ticks until ctx is
// done. A tick already executing is allowed to complete; its notification
// may still be delivered.
func (s *Service) Stop(ctx context.Context) {
	done := s.c.Stop().Done()
	select {
	case <-done:
	case <-ctx.Done():
	}
	s.log.Info("poller stopped")
}

// ApplyInterval updates the cadence used for jobs created from now on.
// Existing jobs keep the cadence they were scheduled with.
func (s *Service) ApplyInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	s.cfg.Interval = d
	s.mu.Unlock()
}

func (s *Service) interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Interval
}

func jobKey(user, urlKey string) string { return user + "|" + urlKey }

// Subscribe starts a recurring check for (user, urlKey), replacing any
// existing job for the same key. The course must be in the user's current
// list; otherwise no job is created and ErrUnknownCourse is returned.
func (s *Service) Subscribe(user, urlKey string, chat kit.ChatTarget) error {
	s.locks.Lock(user)
	defer s.locks.Unlock(user)

	if _, ok := s.subs.Find(user, urlKey); !ok {
		return fmt.Errorf("%w: %s/%s", ErrUnknownCourse, user, urlKey)
	}

	key := jobKey(user, urlKey)

	s.mu.Lock()
	if old, ok := s.jobs[key]; ok {
		s.c.Remove(old.entry)
		delete(s.jobs, key)
	}

	s.nextID++
	handle := session.JobHandle{ID: s.nextID}
	every := s.cfg.Interval

	sched, jitter := intervalScheduleWithSpread(every, time.Now(), key)
	entry := s.c.Schedule(sched, cron.FuncJob(func() {
		s.tick(user, urlKey, chat)
	}))
	s.jobs[key] = jobEntry{handle: handle, entry: entry, chat: chat}
	s.mu.Unlock()

	s.subs.AttachJob(user, urlKey, handle)
	s.log.Info("subscription started",
		logx.String("user", user),
		logx.String("course", urlKey),
		logx.Duration("interval", every),
		logx.Duration("first_run_jitter", jitter))
	return nil
}

// Unsubscribe stops the job for (user, urlKey). Absent job is a no-op.
func (s *Service) Unsubscribe(user, urlKey string) {
	s.locks.Lock(user)
	defer s.locks.Unlock(user)

	key := jobKey(user, urlKey)

	s.mu.Lock()
	e, ok := s.jobs[key]
	if ok {
		s.c.Remove(e.entry)
		delete(s.jobs, key)
	}
	s.mu.Unlock()

	s.subs.DetachJob(user, urlKey)
	if ok {
		s.log.Info("subscription stopped", logx.String("user", user), logx.String("course", urlKey))
	}
}

// StopAll stops every job for the user and deletes the user's subscription
// entry. It sweeps the registry by user so even a job whose weak handle was
// lost to an intermediate empty refresh cannot outlive its owner.
func (s *Service) StopAll(user string) {
	s.locks.Lock(user)
	defer s.locks.Unlock(user)

	removed := s.subs.RemoveUser(user)

	prefix := user + "|"
	stopped := 0
	s.mu.Lock()
	for key, e := range s.jobs {
		if strings.HasPrefix(key, prefix) {
			s.c.Remove(e.entry)
			delete(s.jobs, key)
			stopped++
		}
	}
	s.mu.Unlock()

	s.log.Info("all subscriptions stopped",
		logx.String("user", user),
		logx.Int("jobs", stopped),
		logx.Int("courses", len(removed)))
}

// JobCount reports the number of live jobs (all users).
func (s *Service) JobCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// tick runs one refresh-and-notify round for a subscription. A failing
// tick is logged and the job stays scheduled for its next cadence.
func (s *Service) tick(user, urlKey string, chat kit.ChatTarget) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic in poll tick",
				logx.Any("panic", r),
				logx.String("user", user),
				logx.String("course", urlKey),
				logx.String("stack", string(debug.Stack())))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), tickTimeout)
	defer cancel()

	if _, err := s.courses.Refresh(ctx, user); err != nil {
		s.log.Warn("tick refresh failed", logx.String("user", user), logx.String("course", urlKey), logx.Err(err))
		s.notifier.Notice(chat, notify.UpstreamFailureText)
		return
	}

	// Resolve the CURRENT record: the list may have been replaced since the
	// job was created.
	rec, ok := s.subs.Find(user, urlKey)
	if !ok {
		s.log.Debug("course gone from list, skipping tick", logx.String("user", user), logx.String("course", urlKey))
		return
	}
	if rec.LatestTopicID == "" {
		return
	}

	videos, err := s.courses.Videos(ctx, user, rec.LatestTopicID)
	if err != nil {
		s.log.Warn("tick video fetch failed", logx.String("user", user), logx.String("course", urlKey), logx.Err(err))
		s.notifier.Notice(chat, notify.UpstreamFailureText)
		return
	}

	s.notifier.Dispatch(chat, urlKey, videos, true)
}
