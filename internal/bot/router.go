// Package bot routes incoming chat updates to command and callback
// handlers through a bounded worker pool and a small middleware chain.
package bot

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"runtime"
	"runtime/debug"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"courseping/internal/callback"
	kit "courseping/internal/transport"
	"courseping/pkg/logx"
)

type Command struct {
	Name        string
	Description string
	Usage       string
	Timeout     time.Duration // optional per-command override
	Handle      HandlerFunc
}

// IntentHandlerFunc handles one decoded inline-button press.
type IntentHandlerFunc func(ctx context.Context, req *Request, in callback.Intent) error

type Request struct {
	Update  kit.Update
	Chat    kit.ChatTarget
	FromID  int64
	User    string // per-user store key
	Command string // command name or "cb:<action>"
	Args    []string
	Payload string // raw callback payload
	ReqID   string

	Adapter kit.Adapter
	Logger  logx.Logger
}

const defaultHandlerTimeout = 30 * time.Second

// Router consumes the adapter's update stream and fans handler work out to
// a bounded pool. A full job queue answers "busy" instead of blocking the
// update loop.
type Router struct {
	mu       sync.RWMutex
	commands map[string]Command
	onIntent IntentHandlerFunc

	adapter kit.Adapter
	log     logx.Logger

	jobs chan func()
}

func NewRouter(adapter kit.Adapter, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{
		commands: map[string]Command{},
		adapter:  adapter,
		log:      log,
		jobs:     make(chan func(), 256),
	}
}

// Register installs the command set and the callback intent handler,
// replacing any previous registration. A /help command is always provided.
func (r *Router) Register(cmds []Command, onIntent IntentHandlerFunc) {
	reg := map[string]Command{}
	for _, c := range cmds {
		name := strings.TrimSpace(strings.TrimPrefix(c.Name, "/"))
		if name == "" || c.Handle == nil {
			continue
		}
		cc := c
		cc.Name = name
		reg[name] = cc
	}
	if _, ok := reg["help"]; !ok {
		reg["help"] = Command{
			Name:        "help",
			Description: "show available commands",
			Handle: func(ctx context.Context, req *Request) error {
				_, err := req.Adapter.SendText(ctx, req.Chat, r.helpText(), &kit.SendOptions{DisablePreview: true})
				return err
			},
		}
	}

	r.mu.Lock()
	r.commands = reg
	r.onIntent = onIntent
	r.mu.Unlock()
}

func (r *Router) helpText() string {
	r.mu.RLock()
	cmds := make([]Command, 0, len(r.commands))
	for _, c := range r.commands {
		cmds = append(cmds, c)
	}
	r.mu.RUnlock()

	// Stable order keeps the help message deterministic.
	sort.Slice(cmds, func(i, j int) bool { return cmds[i].Name < cmds[j].Name })

	var b strings.Builder
	b.WriteString("Available commands:\n")
	for _, c := range cmds {
		b.WriteString("/")
		b.WriteString(c.Name)
		if c.Description != "" {
			b.WriteString(" - ")
			b.WriteString(c.Description)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// Run consumes updates until ctx is done or the channel closes. It blocks;
// run it in its own goroutine.
func (r *Router) Run(ctx context.Context, updates <-chan kit.Update) {
	workers := runtime.NumCPU()
	if workers < 2 {
		workers = 2
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		idx := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job, ok := <-r.jobs:
					if !ok {
						return
					}
					func() {
						defer func() {
							if rec := recover(); rec != nil {
								r.log.Error("panic in router job",
									logx.Int("worker", idx),
									logx.Any("panic", rec),
									logx.String("stack", string(debug.Stack())))
							}
						}()
						job()
					}()
				}
			}
		}()
	}

	r.log.Info("router started", logx.Int("workers", workers))

	for {
		select {
		case <-ctx.Done():
			close(r.jobs)
			wg.Wait()
			r.log.Info("router stopped")
			return
		case up, ok := <-updates:
			if !ok {
				close(r.jobs)
				wg.Wait()
				r.log.Info("router stopped (updates channel closed)")
				return
			}
			r.route(ctx, up)
		}
	}
}

func (r *Router) route(ctx context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateMessage:
		r.routeMessage(ctx, up)
	case kit.UpdateCallback:
		r.routeCallback(ctx, up)
	}
}

func (r *Router) routeMessage(ctx context.Context, up kit.Update) {
	msg := up.Message
	if msg == nil {
		return
	}
	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, "/") {
		return
	}

	parts := strings.Fields(text)
	word := strings.TrimPrefix(parts[0], "/")
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	args := parts[1:]

	r.mu.RLock()
	cmd, ok := r.commands[word]
	r.mu.RUnlock()
	if !ok {
		_, _ = r.adapter.SendText(ctx, kit.ChatTarget{ChatID: msg.ChatID}, "Unknown command. Try /help.", nil)
		return
	}

	req := &Request{
		Update:  up,
		Chat:    kit.ChatTarget{ChatID: msg.ChatID},
		FromID:  msg.FromID,
		User:    userKey(msg.FromID),
		Command: cmd.Name,
		Args:    args,
		ReqID:   newReqID(),
		Adapter: r.adapter,
	}
	req.Logger = r.log.With(
		logx.String("rid", req.ReqID),
		logx.Int64("from_id", req.FromID),
		logx.String("cmd", cmd.Name),
	)

	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = defaultHandlerTimeout
	}
	final := Chain(
		cmd.Handle,
		MWPanicRecover(r.log),
		MWRequestLog(r.log),
		MWTimeout(timeout),
	)

	if !r.tryEnqueue(func() { _ = final(ctx, req) }) {
		_, _ = r.adapter.SendText(ctx, req.Chat, "Busy, try again.", nil)
	}
}

func (r *Router) routeCallback(ctx context.Context, up kit.Update) {
	cb := up.Callback
	if cb == nil {
		return
	}

	r.mu.RLock()
	onIntent := r.onIntent
	r.mu.RUnlock()
	if onIntent == nil {
		return
	}

	intent, err := callback.Parse(cb.Data)
	if err != nil {
		r.log.Debug("callback rejected", logx.String("data", cb.Data), logx.Err(err))
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "")
		return
	}

	req := &Request{
		Update:  up,
		Chat:    kit.ChatTarget{ChatID: cb.ChatID},
		FromID:  cb.FromID,
		User:    userKey(cb.FromID),
		Command: "cb:" + cb.Data,
		Payload: cb.Data,
		ReqID:   newReqID(),
		Adapter: r.adapter,
	}
	req.Logger = r.log.With(
		logx.String("rid", req.ReqID),
		logx.Int64("from_id", req.FromID),
		logx.String("cmd", req.Command),
	)

	h := func(c context.Context, rq *Request) error { return onIntent(c, rq, intent) }
	final := Chain(
		h,
		MWPanicRecover(r.log),
		MWRequestLog(r.log),
		MWTimeout(defaultHandlerTimeout),
	)

	if !r.tryEnqueue(func() {
		_ = final(ctx, req)
		// stop the "loading" spinner on the button
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "")
	}) {
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "busy")
	}
}

// tryEnqueue is panic-safe against the jobs channel being closed during
// shutdown.
func (r *Router) tryEnqueue(fn func()) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			ok = false
		}
	}()
	select {
	case r.jobs <- fn:
		return true
	default:
		return false
	}
}

func userKey(fromID int64) string { return strconv.FormatInt(fromID, 10) }

func newReqID() string {
	var b [6]byte
	if _, err := rand.Read(b[:]); err != nil {
		return strconv.FormatInt(time.Now().UnixNano(), 36)
	}
	return hex.EncodeToString(b[:])
}
