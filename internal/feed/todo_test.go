package feed

import (
	"context"
	"errors"
	"testing"

	"github.com/aokiyuu/bskyfeeds/internal/bluesky"
)

// threadStub serves canned threads and counts fetches.
type threadStub struct {
	threads map[string]*bluesky.Thread
	err     error
	calls   int
}

func (s *threadStub) fetch(ctx context.Context, uri string) (*bluesky.Thread, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if th, ok := s.threads[uri]; ok {
		return th, nil
	}
	return nil, bluesky.ErrNotThreadView
}

func reply(text string) bluesky.ThreadNode {
	return bluesky.ThreadNode{Valid: true, Post: bluesky.Post{Text: text}}
}

// TestHasTriggerPrefix documents the trigger rule: a case-insensitive
// prefix match, never a substring match.
func TestHasTriggerPrefix(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"TODO buy milk", true},
		{"todo buy milk", true},
		{"ToDo buy milk", true},
		{"TODO", true},
		{"buy milk TODO", false},
		{"x TODO y", false},
		{"TOD", false},
		{"", false},
		{"TODO🤔", true},
		{"ありがTODO", false},
	}

	for _, tc := range tests {
		if got := hasTriggerPrefix(tc.text, "TODO"); got != tc.want {
			t.Errorf("hasTriggerPrefix(%q) = %v, want %v", tc.text, got, tc.want)
		}
	}
}

// TestEligible_NoTriggerShortCircuits verifies posts without the start
// trigger are rejected without any thread fetch.
func TestEligible_NoTriggerShortCircuits(t *testing.T) {
	stub := &threadStub{}
	f := NewTodoFilter(stub.fetch)

	post := bluesky.Post{URI: "at://p", Text: "just a post", ReplyCount: 5}
	if f.Eligible(context.Background(), post) {
		t.Error("post without trigger should be ineligible")
	}
	if stub.calls != 0 {
		t.Errorf("thread fetched %d times, want 0", stub.calls)
	}
}

// TestEligible_NoRepliesSkipsThreadFetch verifies a matching post with no
// replies is eligible with zero upstream calls.
func TestEligible_NoRepliesSkipsThreadFetch(t *testing.T) {
	stub := &threadStub{}
	f := NewTodoFilter(stub.fetch)

	post := bluesky.Post{URI: "at://p", Text: "TODO buy milk", ReplyCount: 0}
	if !f.Eligible(context.Background(), post) {
		t.Error("replyless TODO post should be eligible")
	}
	if stub.calls != 0 {
		t.Errorf("thread fetched %d times, want 0", stub.calls)
	}
}

// TestEligible_DoneReplyCompletesTheTask verifies any valid reply
// starting with the done trigger makes the post ineligible, while
// non-prefix mentions do not.
func TestEligible_DoneReplyCompletesTheTask(t *testing.T) {
	tests := []struct {
		name    string
		replies []bluesky.ThreadNode
		want    bool
	}{
		{
			name:    "single DONE reply closes it",
			replies: []bluesky.ThreadNode{reply("DONE")},
			want:    false,
		},
		{
			name:    "lowercase done closes it",
			replies: []bluesky.ThreadNode{reply("done!")},
			want:    false,
		},
		{
			name:    "one DONE among unrelated replies closes it",
			replies: []bluesky.ThreadNode{reply("nice"), reply("DONE"), reply("congrats")},
			want:    false,
		},
		{
			name:    "DONE mid-text is not a completion",
			replies: []bluesky.ThreadNode{reply("foo DONE bar")},
			want:    true,
		},
		{
			name:    "chatter keeps the task open",
			replies: []bluesky.ThreadNode{reply("good luck"), reply("any progress?")},
			want:    true,
		},
		{
			name:    "DONE in an invalid node is ignored",
			replies: []bluesky.ThreadNode{{Valid: false, Post: bluesky.Post{Text: "DONE"}}},
			want:    true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			stub := &threadStub{threads: map[string]*bluesky.Thread{
				"at://p": {Post: bluesky.Post{URI: "at://p"}, Replies: tc.replies},
			}}
			f := NewTodoFilter(stub.fetch)

			post := bluesky.Post{URI: "at://p", Text: "TODO buy milk", ReplyCount: len(tc.replies)}
			if got := f.Eligible(context.Background(), post); got != tc.want {
				t.Errorf("Eligible = %v, want %v", got, tc.want)
			}
			if stub.calls != 1 {
				t.Errorf("thread fetched %d times, want 1", stub.calls)
			}
		})
	}
}

// TestEligible_FailsClosedOnBrokenThread verifies a post whose thread
// cannot be classified stays out of the feed.
func TestEligible_FailsClosedOnBrokenThread(t *testing.T) {
	post := bluesky.Post{URI: "at://p", Text: "TODO buy milk", ReplyCount: 1}

	t.Run("fetch error", func(t *testing.T) {
		stub := &threadStub{err: errors.New("upstream unavailable")}
		f := NewTodoFilter(stub.fetch)
		if f.Eligible(context.Background(), post) {
			t.Error("unclassifiable thread should make the post ineligible")
		}
	})

	t.Run("not a thread view", func(t *testing.T) {
		stub := &threadStub{}
		f := NewTodoFilter(stub.fetch)
		if f.Eligible(context.Background(), post) {
			t.Error("non-thread-view response should make the post ineligible")
		}
	})
}

// TestTodoFilter_CustomTriggers verifies the trigger tokens are
// configurable.
func TestTodoFilter_CustomTriggers(t *testing.T) {
	stub := &threadStub{threads: map[string]*bluesky.Thread{
		"at://p": {Replies: []bluesky.ThreadNode{reply("FIXED it")}},
	}}
	f := NewTodoFilter(stub.fetch, WithTriggers("BUG", "FIXED"))

	if f.StartTrigger() != "BUG" {
		t.Errorf("StartTrigger = %q, want BUG", f.StartTrigger())
	}

	open := bluesky.Post{URI: "at://open", Text: "BUG in prod", ReplyCount: 0}
	if !f.Eligible(context.Background(), open) {
		t.Error("BUG post with no replies should be eligible")
	}

	fixed := bluesky.Post{URI: "at://p", Text: "bug in prod", ReplyCount: 1}
	if f.Eligible(context.Background(), fixed) {
		t.Error("FIXED reply should close the post")
	}
}
