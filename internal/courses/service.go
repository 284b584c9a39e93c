// Package courses implements the refresh pipeline: credential lookup,
// platform fetch, and subscription-list replacement, serialized per user.
package courses

import (
	"context"
	"errors"
	"fmt"

	"courseping/internal/platform"
	"courseping/internal/session"
	"courseping/pkg/logx"
)

// ErrMissingCredential means the user has no usable access token. It is
// surfaced to the user with instructions; nothing retries it.
var ErrMissingCredential = errors.New("no platform access token for user")

type Service struct {
	creds *session.Credentials
	subs  *session.Subscriptions
	locks *session.KeyedMutex
	api   platform.API
	log   logx.Logger
}

func New(creds *session.Credentials, subs *session.Subscriptions, locks *session.KeyedMutex, api platform.API, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{creds: creds, subs: subs, locks: locks, api: api, log: log}
}

// Refresh fetches the user's course list and replaces the stored
// subscription list, carrying live job handles forward by course key.
//
// The whole read-fetch-replace runs inside the user's critical section so a
// command-triggered refresh and a tick-triggered refresh cannot interleave
// around the upstream call.
//
// On upstream failure the list is replaced with an empty one and the error
// returned alongside it; a later tick or user command is the only retry.
func (s *Service) Refresh(ctx context.Context, user string) ([]session.CourseRecord, error) {
	cred, ok := s.creds.Get(user)
	if !ok || cred.AccessToken == "" {
		return nil, ErrMissingCredential
	}

	s.locks.Lock(user)
	defer s.locks.Unlock(user)

	fetched, err := s.api.Courses(ctx, cred.AccessToken)
	if err != nil {
		recs := s.subs.Replace(user, nil)
		s.log.Warn("course refresh failed", logx.String("user", user), logx.Err(err))
		return recs, fmt.Errorf("refresh courses for %s: %w", user, err)
	}

	recs := s.subs.Replace(user, fetched)
	s.log.Debug("courses refreshed", logx.String("user", user), logx.Int("count", len(recs)))
	return recs, nil
}

// Videos fetches the videos of one topic with the user's token.
func (s *Service) Videos(ctx context.Context, user, topicID string) ([]platform.Video, error) {
	cred, ok := s.creds.Get(user)
	if !ok || cred.AccessToken == "" {
		return nil, ErrMissingCredential
	}

	videos, err := s.api.Videos(ctx, cred.AccessToken, topicID)
	if err != nil {
		return nil, fmt.Errorf("videos for %s topic %s: %w", user, topicID, err)
	}
	return videos, nil
}

// HasActiveJob reports whether the user's record for urlKey currently
// carries a live job handle.
func (s *Service) HasActiveJob(user, urlKey string) bool {
	rec, ok := s.subs.Find(user, urlKey)
	return ok && rec.Job.Active()
}
