package feed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aokiyuu/bskyfeeds/internal/bluesky"
)

const (
	// searchPageSize bounds the single searchPosts call backing the todo
	// feed.
	searchPageSize = 100

	// authorFeedPageSize is the page size used while walking an author
	// feed window.
	authorFeedPageSize = 100
)

// Skeleton is the wire shape of a feed skeleton response.
type Skeleton struct {
	Feed   []SkeletonItem `json:"feed"`
	Cursor string         `json:"cursor,omitempty"`
}

// SkeletonItem references a single post by AT-URI.
type SkeletonItem struct {
	Post string `json:"post"`
}

// Source is the upstream capability surface the assembler consumes.
// *bluesky.Client satisfies it.
type Source interface {
	SearchPosts(ctx context.Context, query, authorDID string, limit int) ([]bluesky.Post, error)
	AuthorFeed(ctx context.Context, actorDID, cursor string, limit int) (bluesky.FeedPage, error)
	PostThread(ctx context.Context, uri string) (*bluesky.Thread, error)
}

// AssemblerOption configures an Assembler.
type AssemblerOption func(*Assembler)

// WithClock overrides the reference clock (useful for testing).
func WithClock(now func() time.Time) AssemblerOption {
	return func(a *Assembler) {
		a.now = now
	}
}

// WithViewerLocation overrides the timezone the anniversary day is
// resolved in.
func WithViewerLocation(loc *time.Location) AssemblerOption {
	return func(a *Assembler) {
		a.loc = loc
	}
}

// WithAssemblerPageDelay overrides the delay between author-feed pages.
func WithAssemblerPageDelay(d time.Duration) AssemblerOption {
	return func(a *Assembler) {
		a.pageDelay = d
	}
}

// WithAssemblerLogger sets the logger shared with the collector and
// filter.
func WithAssemblerLogger(log *slog.Logger) AssemblerOption {
	return func(a *Assembler) {
		a.log = log
	}
}

// WithAssemblerTriggers overrides the todo feed trigger tokens.
func WithAssemblerTriggers(start, done string) AssemblerOption {
	return func(a *Assembler) {
		a.startTrigger = start
		a.doneTrigger = done
	}
}

// Assembler builds feed skeletons for each feed type. All state is
// per-call; an Assembler is safe for concurrent use across requests.
type Assembler struct {
	src          Source
	now          func() time.Time
	loc          *time.Location
	pageDelay    time.Duration
	startTrigger string
	doneTrigger  string
	log          *slog.Logger
}

// NewAssembler creates an assembler over the given upstream source.
func NewAssembler(src Source, opts ...AssemblerOption) *Assembler {
	a := &Assembler{
		src:          src,
		now:          time.Now,
		loc:          DefaultViewerLocation,
		pageDelay:    DefaultPageDelay,
		startTrigger: DefaultStartTrigger,
		doneTrigger:  DefaultDoneTrigger,
		log:          slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Anniversary assembles the viewer's posts from their local calendar day
// one year ago, in the order the author feed returned them.
func (a *Assembler) Anniversary(ctx context.Context, viewerDID string) Skeleton {
	window := AnniversaryDayWindow(a.now(), a.loc)

	collector := NewWindowCollector(
		func(ctx context.Context, cursor string) (bluesky.FeedPage, error) {
			return a.src.AuthorFeed(ctx, viewerDID, cursor, authorFeedPageSize)
		},
		WithPageDelay(a.pageDelay),
		WithCollectorLogger(a.log),
	)

	uris := collector.Collect(ctx, viewerDID, window)
	return skeletonFromURIs(uris)
}

// OpenTodos assembles the viewer's open task posts. Candidates come from
// a single bounded search; eligibility checks fan out concurrently, one
// goroutine per candidate, each independent and at most one thread fetch
// deep. Relevance order from the search is preserved.
func (a *Assembler) OpenTodos(ctx context.Context, viewerDID string) Skeleton {
	filter := NewTodoFilter(a.src.PostThread,
		WithTriggers(a.startTrigger, a.doneTrigger),
		WithFilterLogger(a.log),
	)

	posts, err := a.src.SearchPosts(ctx, filter.StartTrigger(), viewerDID, searchPageSize)
	if err != nil {
		a.log.Warn("todo search failed, returning empty feed", "viewer", viewerDID, "error", err)
		return emptySkeleton()
	}

	keep := make([]bool, len(posts))
	var wg sync.WaitGroup
	for i, post := range posts {
		wg.Add(1)
		go func(i int, post bluesky.Post) {
			defer wg.Done()
			keep[i] = filter.Eligible(ctx, post)
		}(i, post)
	}
	wg.Wait()

	skeleton := emptySkeleton()
	for i, post := range posts {
		if keep[i] {
			skeleton.Feed = append(skeleton.Feed, SkeletonItem{Post: post.URI})
		}
	}
	return skeleton
}

func skeletonFromURIs(uris []string) Skeleton {
	skeleton := Skeleton{Feed: make([]SkeletonItem, 0, len(uris))}
	for _, uri := range uris {
		skeleton.Feed = append(skeleton.Feed, SkeletonItem{Post: uri})
	}
	return skeleton
}

// emptySkeleton returns a skeleton whose feed serializes as [] rather
// than null.
func emptySkeleton() Skeleton {
	return Skeleton{Feed: []SkeletonItem{}}
}
