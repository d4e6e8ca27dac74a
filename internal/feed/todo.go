package feed

import (
	"context"
	"log/slog"
	"strings"

	"github.com/aokiyuu/bskyfeeds/internal/bluesky"
)

// Default trigger tokens for the todo feed. A post opens a task when its
// text starts with the start trigger; a reply starting with the done
// trigger closes it.
const (
	DefaultStartTrigger = "TODO"
	DefaultDoneTrigger  = "DONE"
)

// ThreadFunc fetches the reply thread for a post URI.
type ThreadFunc func(ctx context.Context, uri string) (*bluesky.Thread, error)

// TodoFilterOption configures a TodoFilter.
type TodoFilterOption func(*TodoFilter)

// WithTriggers overrides the start and done trigger tokens.
func WithTriggers(start, done string) TodoFilterOption {
	return func(f *TodoFilter) {
		f.start = start
		f.done = done
	}
}

// WithFilterLogger sets the logger used when thread fetches fail.
func WithFilterLogger(log *slog.Logger) TodoFilterOption {
	return func(f *TodoFilter) {
		f.log = log
	}
}

// TodoFilter decides whether a candidate post is an open task. A task is
// open until any immediate reply starts with the done trigger. The thread
// fetch is deferred until a post actually has replies, so a post with
// none costs no extra upstream call.
type TodoFilter struct {
	start  string
	done   string
	thread ThreadFunc
	log    *slog.Logger
}

// NewTodoFilter creates a filter that inspects reply threads through the
// given fetcher.
func NewTodoFilter(thread ThreadFunc, opts ...TodoFilterOption) *TodoFilter {
	f := &TodoFilter{
		start:  DefaultStartTrigger,
		done:   DefaultDoneTrigger,
		thread: thread,
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// StartTrigger returns the token opening a task, for use as the upstream
// search query.
func (f *TodoFilter) StartTrigger() string {
	return f.start
}

// Eligible reports whether the post belongs in the todo feed. A thread
// that cannot be fetched or is not a populated thread view makes the post
// ineligible: when the completion state is unknowable the post stays out.
func (f *TodoFilter) Eligible(ctx context.Context, post bluesky.Post) bool {
	if !hasTriggerPrefix(post.Text, f.start) {
		return false
	}
	if post.ReplyCount == 0 {
		return true
	}

	thread, err := f.thread(ctx, post.URI)
	if err != nil {
		f.log.Warn("thread fetch failed, excluding post", "uri", post.URI, "error", err)
		return false
	}
	for _, reply := range thread.Replies {
		if reply.Valid && hasTriggerPrefix(reply.Post.Text, f.done) {
			return false
		}
	}
	return true
}

// hasTriggerPrefix reports whether text starts with trigger, ignoring
// ASCII case. Triggers are ASCII tokens, so a byte-length prefix slice is
// safe on multi-byte text: a mid-rune cut can never fold-match ASCII.
func hasTriggerPrefix(text, trigger string) bool {
	if len(text) < len(trigger) {
		return false
	}
	return strings.EqualFold(text[:len(trigger)], trigger)
}
