// Package callback encodes and decodes inline-button callback data.
//
// Data is formatted "course:<action>:<payload>" (the shape Telegram echoes
// back on button presses). Decoding produces an explicit Intent value;
// unknown namespaces or actions are rejected instead of being routed by
// string prefix.
package callback

import (
	"errors"
	"fmt"
	"strings"
)

// Namespace is the first data segment for every button this bot emits.
const Namespace = "course"

type Kind int

const (
	// KindViewVideos shows the videos of a course topic.
	KindViewVideos Kind = iota + 1
	// KindSubscribe starts a recurring check for one course.
	KindSubscribe
	// KindUnsubscribe stops the course's recurring check.
	KindUnsubscribe
)

const (
	actionVideos      = "videos"
	actionSubscribe   = "sub"
	actionUnsubscribe = "unsub"
)

var ErrUnknownIntent = errors.New("unknown callback intent")

// Intent is the decoded form of one inline-button press.
type Intent struct {
	Kind    Kind
	URLKey  string
	TopicID string // only set for KindViewVideos
}

// ViewVideosData builds callback data for a course button in the selection
// keyboard. The topic id rides along so the handler doesn't need a second
// lookup for the common case.
func ViewVideosData(urlKey, topicID string) string {
	return Namespace + ":" + actionVideos + ":" + urlKey + "|" + topicID
}

func SubscribeData(urlKey string) string {
	return Namespace + ":" + actionSubscribe + ":" + urlKey
}

func UnsubscribeData(urlKey string) string {
	return Namespace + ":" + actionUnsubscribe + ":" + urlKey
}

// Parse decodes raw callback data into an Intent.
// Any unknown namespace, unknown action, or missing payload yields
// ErrUnknownIntent.
func Parse(data string) (Intent, error) {
	parts := strings.SplitN(strings.TrimSpace(data), ":", 3)
	if len(parts) != 3 || parts[0] != Namespace {
		return Intent{}, fmt.Errorf("%w: %q", ErrUnknownIntent, data)
	}
	action, payload := parts[1], parts[2]

	switch action {
	case actionVideos:
		key, topic, _ := strings.Cut(payload, "|")
		if key == "" {
			return Intent{}, fmt.Errorf("%w: empty course key", ErrUnknownIntent)
		}
		return Intent{Kind: KindViewVideos, URLKey: key, TopicID: topic}, nil
	case actionSubscribe:
		if payload == "" {
			return Intent{}, fmt.Errorf("%w: empty course key", ErrUnknownIntent)
		}
		return Intent{Kind: KindSubscribe, URLKey: payload}, nil
	case actionUnsubscribe:
		if payload == "" {
			return Intent{}, fmt.Errorf("%w: empty course key", ErrUnknownIntent)
		}
		return Intent{Kind: KindUnsubscribe, URLKey: payload}, nil
	default:
		return Intent{}, fmt.Errorf("%w: action %q", ErrUnknownIntent, action)
	}
}
