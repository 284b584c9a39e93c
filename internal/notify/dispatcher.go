package notify

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"courseping/internal/callback"
	"courseping/internal/platform"
	kit "courseping/internal/transport"
	"courseping/pkg/logx"
	"courseping/pkg/tgui"
)

const (
	// NoVideosText is sent when a topic resolves to an empty video list.
	NoVideosText = "No videos found for this course yet."

	// UpstreamFailureText is sent when the learning platform could not be
	// reached or answered with an error.
	UpstreamFailureText = "Could not reach the course platform. Please check your tokens and try again."
)

type Config struct {
	QueueSize  int
	RatePerSec int
}

// Dispatcher is the outbound notification pipeline: a bounded queue drained
// by one worker through a token-bucket rate limiter.
//
// Delivery is fire-and-forget: enqueueing never blocks the caller, a full
// queue drops the message with a warning, and send failures are logged but
// never surfaced to the refresh pipeline that produced them.
//
// A single worker keeps sends to one chat in order.
type Dispatcher struct {
	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter

	adapter kit.Adapter
	log     logx.Logger

	accepting bool
	queue     chan kit.Notification
	runCtx    context.Context
	runCancel context.CancelFunc
	workerWG  sync.WaitGroup
}

func New(cfg Config, adapter kit.Adapter, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	d := &Dispatcher{adapter: adapter, log: log}
	d.applyLocked(cfg)
	return d
}

// Apply updates queue and rate settings. The queue size only takes effect
// on the next Start.
func (d *Dispatcher) Apply(cfg Config) {
	d.mu.Lock()
	d.applyLocked(cfg)
	d.mu.Unlock()
}

func (d *Dispatcher) applyLocked(cfg Config) {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 128
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	d.cfg = cfg
	// Token bucket: burst = rate per sec, so short spikes don't block too hard.
	d.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	if d.queue != nil {
		d.mu.Unlock()
		return
	}
	d.queue = make(chan kit.Notification, d.cfg.QueueSize)
	d.accepting = true
	d.runCtx, d.runCancel = context.WithCancel(ctx)
	queue := d.queue
	runCtx := d.runCtx
	d.mu.Unlock()

	d.workerWG.Add(1)
	go func() {
		defer d.workerWG.Done()
		d.worker(runCtx, queue)
	}()
}

// Stop stops intake and drains the queue best-effort until ctx is done.
func (d *Dispatcher) Stop(ctx context.Context) {
	d.mu.Lock()
	queue := d.queue
	cancel := d.runCancel
	if queue == nil {
		d.mu.Unlock()
		return
	}
	d.accepting = false
	d.queue = nil
	d.runCtx = nil
	d.runCancel = nil
	d.mu.Unlock()

	close(queue)

	done := make(chan struct{})
	go func() {
		d.workerWG.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		if cancel != nil {
			cancel()
		}
		<-done
	}
	if cancel != nil {
		cancel()
	}
}

// Dispatch formats a video-list result for one course and enqueues it.
// An empty list becomes the "no videos" notice. The subscribe control is
// attached only when the course has no active job; an active job offers
// unsubscribe instead.
func (d *Dispatcher) Dispatch(target kit.ChatTarget, urlKey string, videos []platform.Video, hasActiveJob bool) {
	if len(videos) == 0 {
		d.Notice(target, NoVideosText)
		return
	}

	kb := tgui.NewInline()
	if hasActiveJob {
		kb.Row(tgui.Btn("🔕 Unsubscribe", callback.UnsubscribeData(urlKey)))
	} else {
		kb.Row(tgui.Btn("🔔 Subscribe to updates", callback.SubscribeData(urlKey)))
	}

	d.Send(target, videoListText(videos), &kit.SendOptions{
		DisablePreview:     false,
		ReplyMarkupAdapter: kb.Markup(),
	})
}

// Notice enqueues a plain text message without markup.
func (d *Dispatcher) Notice(target kit.ChatTarget, text string) {
	d.Send(target, text, &kit.SendOptions{DisablePreview: true})
}

// Send enqueues one outbound message. Never blocks; a full or stopped
// queue drops the message.
func (d *Dispatcher) Send(target kit.ChatTarget, text string, opt *kit.SendOptions) {
	if strings.TrimSpace(text) == "" {
		return
	}

	d.mu.Lock()
	queue := d.queue
	accepting := d.accepting
	d.mu.Unlock()

	if !accepting || queue == nil {
		d.log.Debug("notification dropped (dispatcher stopped)", logx.Int64("chat_id", target.ChatID))
		return
	}

	n := kit.Notification{Target: target, Text: text, Options: opt}
	if !tryEnqueue(queue, n) {
		d.log.Warn("notification dropped (queue full)",
			logx.Int64("chat_id", target.ChatID),
			logx.Int("queue_cap", cap(queue)))
	}
}

// tryEnqueue is panic-safe against the queue being closed by a concurrent
// Stop.
func tryEnqueue(queue chan<- kit.Notification, n kit.Notification) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	select {
	case queue <- n:
		return true
	default:
		return false
	}
}

func (d *Dispatcher) worker(ctx context.Context, queue <-chan kit.Notification) {
	for n := range queue {
		select {
		case <-ctx.Done():
			return
		default:
		}

		d.mu.Lock()
		lim := d.limiter
		d.mu.Unlock()

		if lim != nil {
			if err := lim.Wait(ctx); err != nil {
				return
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		_, err := d.adapter.SendText(callCtx, n.Target, n.Text, n.Options)
		cancel()
		if err != nil {
			// Best-effort delivery: log and move on, no retry.
			d.log.Warn("notification send failed",
				logx.Err(err),
				logx.Int64("chat_id", n.Target.ChatID))
		}
	}
}

func videoListText(videos []platform.Video) string {
	var b strings.Builder
	for i, v := range videos {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(v.Title)
		if v.YouTube.VideoURL != "" {
			b.WriteString("\n")
			b.WriteString(v.YouTube.VideoURL)
		}
	}
	return b.String()
}
