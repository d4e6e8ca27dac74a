package feed

import (
	"context"
	"log/slog"
	"time"

	"github.com/aokiyuu/bskyfeeds/internal/bluesky"
)

// DefaultPageDelay is the pause between successive author-feed page
// fetches, keeping the walk under the AppView rate limits.
const DefaultPageDelay = time.Second

// PageFunc fetches one page of an author feed at the given cursor. An
// empty cursor in the returned page means the stream is exhausted.
type PageFunc func(ctx context.Context, cursor string) (bluesky.FeedPage, error)

// CollectorOption configures a WindowCollector.
type CollectorOption func(*WindowCollector)

// WithPageDelay overrides the delay between page fetches.
func WithPageDelay(d time.Duration) CollectorOption {
	return func(c *WindowCollector) {
		c.delay = d
	}
}

// WithCollectorLogger sets the logger used for soft-fail reporting.
func WithCollectorLogger(log *slog.Logger) CollectorOption {
	return func(c *WindowCollector) {
		c.log = log
	}
}

// WindowCollector walks a cursor-paginated author feed backwards in time
// and collects the URIs of the viewer's posts inside a window.
//
// The walk is an explicit loop with an accumulator. Author-feed cursors
// are instant-ordered tokens, strictly decreasing page over page, so the
// walk terminates once the cursor pages past the window's lower bound.
type WindowCollector struct {
	fetch PageFunc
	delay time.Duration
	log   *slog.Logger
}

// NewWindowCollector creates a collector over the given page fetcher.
func NewWindowCollector(fetch PageFunc, opts ...CollectorOption) *WindowCollector {
	c := &WindowCollector{
		fetch: fetch,
		delay: DefaultPageDelay,
		log:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Collect returns the URIs of posts authored by authorDID with createdAt
// inside the window, in upstream order. An upstream failure ends the walk
// early and returns what was collected so far: a partial or empty feed is
// preferable to a hard error for feed consumers.
func (c *WindowCollector) Collect(ctx context.Context, authorDID string, w Window) []string {
	cursor := w.Until.UTC().Format(time.RFC3339)
	collected := []string{}

	for {
		page, err := c.fetch(ctx, cursor)
		if err != nil {
			c.log.Warn("author feed page failed, returning partial window",
				"author", authorDID, "cursor", cursor, "error", err)
			return collected
		}

		for _, post := range page.Posts {
			if post.AuthorDID != authorDID {
				continue
			}
			if !w.Contains(post.CreatedAt) {
				continue
			}
			collected = append(collected, post.URI)
		}

		if page.Cursor == "" {
			return collected
		}
		next, err := cursorInstant(page.Cursor)
		if err != nil {
			c.log.Warn("unparseable author feed cursor, stopping walk",
				"author", authorDID, "cursor", page.Cursor, "error", err)
			return collected
		}
		if next.Before(w.Since) {
			return collected
		}

		cursor = page.Cursor
		if !c.pause(ctx) {
			return collected
		}
	}
}

// pause waits out the inter-page delay. Returns false when the context
// ends first.
func (c *WindowCollector) pause(ctx context.Context) bool {
	if c.delay <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(c.delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// cursorInstant parses an author-feed cursor as the instant it stands
// for. Cursors are opaque upstream tokens, but they order by time; a
// token this service cannot read is treated as end-of-walk rather than
// risking an unbounded loop.
func cursorInstant(cursor string) (time.Time, error) {
	return time.Parse(time.RFC3339, cursor)
}
