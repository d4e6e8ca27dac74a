// Package bluesky provides a client for the Bluesky XRPC APIs.
//
// This package enables bskyfeeds to:
// - Authenticate the service account against a PDS
// - Search a user's posts and walk their author feed
// - Inspect reply threads for individual posts
// - Publish and unpublish feed generator records
package bluesky

import "time"

// Post is a single post as seen by the feed engine.
type Post struct {
	URI        string    `json:"uri"`
	CID        string    `json:"cid"`
	AuthorDID  string    `json:"author_did"`
	Text       string    `json:"text"`
	CreatedAt  time.Time `json:"created_at"`
	ReplyCount int       `json:"reply_count"`
}

// FeedPage is one page of an author feed. An empty Cursor means the
// upstream stream is exhausted.
type FeedPage struct {
	Posts  []Post `json:"posts"`
	Cursor string `json:"cursor,omitempty"`
}

// Thread is a post together with its immediate replies.
type Thread struct {
	Post    Post         `json:"post"`
	Replies []ThreadNode `json:"replies"`
}

// ThreadNode is one entry in a thread's reply list. Valid is false when
// the upstream returned something other than a thread view post for this
// position (deleted, blocked, or malformed).
type ThreadNode struct {
	Valid bool `json:"valid"`
	Post  Post `json:"post"`
}

// Session is the result of a createSession call.
type Session struct {
	DID        string `json:"did"`
	Handle     string `json:"handle"`
	AccessJwt  string `json:"access_jwt"`
	RefreshJwt string `json:"refresh_jwt"`
}

// FeedGeneratorRecord is the app.bsky.feed.generator record published to
// the service account's repo.
type FeedGeneratorRecord struct {
	Type        string `json:"$type"`
	DID         string `json:"did"`
	DisplayName string `json:"displayName"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"createdAt"`
}
