package bot

import (
	"context"
	"errors"
	"fmt"

	"courseping/internal/callback"
	"courseping/internal/courses"
	"courseping/internal/notify"
	"courseping/internal/platform"
	"courseping/internal/poller"
	"courseping/internal/session"
	kit "courseping/internal/transport"
	"courseping/pkg/logx"
	"courseping/pkg/tgui"
)

const (
	startText = "Hi! I keep an eye on your courses and ping you about new lesson videos.\n\n" +
		"Set your platform tokens first:\n" +
		"/accesstoken <token>\n" +
		"/refreshtoken <token>\n\n" +
		"Then run /course to pick a course."
	startReadyText = "You are all set. Run /course to pick a course."

	usageAccessToken  = "Usage: /accesstoken <token>"
	usageRefreshToken = "Usage: /refreshtoken <token>"
	accessSavedText   = "Access token saved."
	refreshSavedText  = "Refresh token saved."

	missingTokenText = "No access token set. Use /accesstoken <token> first."
	noCoursesText    = "No courses found for your account."
	chooseCourseText = "Choose a course:"

	logoutText = "Logged out. All course checks stopped and your tokens were removed."
)

// CourseService is the slice of the refresh pipeline the handlers need.
type CourseService interface {
	Refresh(ctx context.Context, user string) ([]session.CourseRecord, error)
	Videos(ctx context.Context, user, topicID string) ([]platform.Video, error)
	HasActiveJob(user, urlKey string) bool
}

// Subscriber starts and stops recurring course checks.
type Subscriber interface {
	Subscribe(user, urlKey string, chat kit.ChatTarget) error
	Unsubscribe(user, urlKey string)
	StopAll(user string)
}

// Dispatcher delivers video notifications outside the request path.
type Dispatcher interface {
	Dispatch(target kit.ChatTarget, urlKey string, videos []platform.Video, hasActiveJob bool)
	Notice(target kit.ChatTarget, text string)
}

type Handlers struct {
	creds      *session.Credentials
	courses    CourseService
	subscriber Subscriber
	dispatcher Dispatcher
	log        logx.Logger
}

func NewHandlers(creds *session.Credentials, coursesSvc CourseService, subscriber Subscriber, dispatcher Dispatcher, log logx.Logger) *Handlers {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Handlers{
		creds:      creds,
		courses:    coursesSvc,
		subscriber: subscriber,
		dispatcher: dispatcher,
		log:        log,
	}
}

// Commands returns the command set to register with the router.
func (h *Handlers) Commands() []Command {
	return []Command{
		{Name: "start", Description: "greeting and setup instructions", Handle: h.handleStart},
		{Name: "accesstoken", Description: "set the platform access token", Usage: usageAccessToken, Handle: h.handleAccessToken},
		{Name: "refreshtoken", Description: "set the platform refresh token", Usage: usageRefreshToken, Handle: h.handleRefreshToken},
		{Name: "course", Description: "list your courses", Handle: h.handleCourse},
		{Name: "logout", Description: "stop all checks and remove tokens", Handle: h.handleLogout},
	}
}

func (h *Handlers) reply(ctx context.Context, req *Request, text string) error {
	_, err := req.Adapter.SendText(ctx, req.Chat, text, nil)
	return err
}

func (h *Handlers) handleStart(ctx context.Context, req *Request) error {
	if cred, ok := h.creds.Get(req.User); ok && cred.AccessToken != "" {
		return h.reply(ctx, req, startReadyText)
	}
	return h.reply(ctx, req, startText)
}

func (h *Handlers) handleAccessToken(ctx context.Context, req *Request) error {
	if len(req.Args) < 1 {
		return h.reply(ctx, req, usageAccessToken)
	}
	h.creds.SetAccessToken(req.User, req.Args[0])
	return h.reply(ctx, req, accessSavedText)
}

func (h *Handlers) handleRefreshToken(ctx context.Context, req *Request) error {
	if len(req.Args) < 1 {
		return h.reply(ctx, req, usageRefreshToken)
	}
	h.creds.SetRefreshToken(req.User, req.Args[0])
	return h.reply(ctx, req, refreshSavedText)
}

func (h *Handlers) handleCourse(ctx context.Context, req *Request) error {
	recs, err := h.courses.Refresh(ctx, req.User)
	if err != nil {
		if errors.Is(err, courses.ErrMissingCredential) {
			return h.reply(ctx, req, missingTokenText)
		}
		req.Logger.Warn("course refresh failed", logx.Err(err))
		return h.reply(ctx, req, notify.UpstreamFailureText)
	}
	if len(recs) == 0 {
		return h.reply(ctx, req, noCoursesText)
	}

	kb := tgui.NewInline()
	for _, rec := range recs {
		kb.Row(tgui.Btn(rec.Title, callback.ViewVideosData(rec.URLKey, rec.LatestTopicID)))
	}
	_, err = req.Adapter.SendText(ctx, req.Chat, chooseCourseText, &kit.SendOptions{
		ReplyMarkupAdapter: kb.Markup(),
	})
	return err
}

func (h *Handlers) handleLogout(ctx context.Context, req *Request) error {
	h.subscriber.StopAll(req.User)
	h.creds.Remove(req.User)
	return h.reply(ctx, req, logoutText)
}

// OnIntent handles decoded inline-button presses.
func (h *Handlers) OnIntent(ctx context.Context, req *Request, in callback.Intent) error {
	switch in.Kind {
	case callback.KindViewVideos:
		return h.viewVideos(ctx, req, in)
	case callback.KindSubscribe:
		return h.subscribe(ctx, req, in)
	case callback.KindUnsubscribe:
		return h.unsubscribe(ctx, req, in)
	default:
		return fmt.Errorf("unhandled intent kind %d", in.Kind)
	}
}

func (h *Handlers) viewVideos(ctx context.Context, req *Request, in callback.Intent) error {
	if in.TopicID == "" {
		return h.reply(ctx, req, noVideoTopicText(in.URLKey))
	}
	videos, err := h.courses.Videos(ctx, req.User, in.TopicID)
	if err != nil {
		if errors.Is(err, courses.ErrMissingCredential) {
			return h.reply(ctx, req, missingTokenText)
		}
		req.Logger.Warn("video fetch failed", logx.String("course", in.URLKey), logx.Err(err))
		return h.reply(ctx, req, notify.UpstreamFailureText)
	}
	h.dispatcher.Dispatch(req.Chat, in.URLKey, videos, h.courses.HasActiveJob(req.User, in.URLKey))
	return nil
}

func (h *Handlers) subscribe(ctx context.Context, req *Request, in callback.Intent) error {
	if err := h.subscriber.Subscribe(req.User, in.URLKey, req.Chat); err != nil {
		if errors.Is(err, poller.ErrUnknownCourse) {
			return h.reply(ctx, req, "That course is not in your list. Run /course first.")
		}
		return err
	}
	return h.reply(ctx, req, fmt.Sprintf("Subscribed to %s. You will hear about new videos here.", in.URLKey))
}

func (h *Handlers) unsubscribe(ctx context.Context, req *Request, in callback.Intent) error {
	h.subscriber.Unsubscribe(req.User, in.URLKey)
	return h.reply(ctx, req, fmt.Sprintf("Unsubscribed from %s.", in.URLKey))
}

func noVideoTopicText(urlKey string) string {
	return fmt.Sprintf("Course %s has no published topic yet.", urlKey)
}
