package bluesky

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const (
	defaultAppViewURL = "https://api.bsky.app"
	defaultPDSURL     = "https://bsky.social"
	defaultUserAgent  = "bskyfeeds/1.0"

	threadViewPostType = "app.bsky.feed.defs#threadViewPost"

	// GeneratorCollection is the repo collection feed generator records
	// live in.
	GeneratorCollection = "app.bsky.feed.generator"
)

// ErrNotThreadView is returned by PostThread when the upstream thread is
// not a populated thread view (deleted, blocked, or malformed).
var ErrNotThreadView = errors.New("bluesky: thread is not a thread view")

// HTTPClient interface for making HTTP requests (allows injection for testing).
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// TokenSource supplies the bearer token for authenticated calls.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// refresher is implemented by token sources that can re-authenticate.
// When a call comes back 401 the client refreshes once and retries.
type refresher interface {
	Refresh(ctx context.Context) error
}

// StaticToken is a TokenSource wrapping a fixed token.
type StaticToken string

// Token returns the wrapped token.
func (t StaticToken) Token(ctx context.Context) (string, error) {
	return string(t), nil
}

// APIError is a non-2xx response from an XRPC endpoint.
type APIError struct {
	StatusCode int
	Name       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("bluesky API error (status %d): %s: %s", e.StatusCode, e.Name, e.Message)
	}
	return fmt.Sprintf("bluesky API error (status %d): %s", e.StatusCode, e.Name)
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient HTTPClient) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithAppViewURL overrides the AppView base URL (useful for testing).
func WithAppViewURL(url string) ClientOption {
	return func(c *Client) {
		c.appViewURL = url
	}
}

// WithPDSURL overrides the PDS base URL (useful for testing).
func WithPDSURL(url string) ClientOption {
	return func(c *Client) {
		c.pdsURL = url
	}
}

// WithTokenSource sets the token source used for authenticated calls.
func WithTokenSource(src TokenSource) ClientOption {
	return func(c *Client) {
		c.tokens = src
	}
}

// Client is a Bluesky XRPC client. Read calls go to the AppView; session
// and repo calls go to the PDS.
type Client struct {
	httpClient HTTPClient
	appViewURL string
	pdsURL     string
	tokens     TokenSource
}

// NewClient creates a new Bluesky client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		appViewURL: defaultAppViewURL,
		pdsURL:     defaultPDSURL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateSession logs in with an identifier and app password. It does not
// use the configured token source.
func (c *Client) CreateSession(ctx context.Context, identifier, password string) (*Session, error) {
	body := map[string]string{
		"identifier": identifier,
		"password":   password,
	}

	var out sessionWire
	if err := c.doPost(ctx, c.pdsURL, "com.atproto.server.createSession", "", body, &out); err != nil {
		return nil, fmt.Errorf("create session for %q: %w", identifier, err)
	}

	return &Session{
		DID:        out.DID,
		Handle:     out.Handle,
		AccessJwt:  out.AccessJwt,
		RefreshJwt: out.RefreshJwt,
	}, nil
}

// SearchPosts returns the latest posts by the given author matching the
// query. A single page is fetched; no cursor is used.
func (c *Client) SearchPosts(ctx context.Context, query, authorDID string, limit int) ([]Post, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("author", authorDID)
	params.Set("limit", strconv.Itoa(limit))
	params.Set("sort", "latest")

	var out searchWire
	if err := c.doGet(ctx, c.appViewURL, "app.bsky.feed.searchPosts", params, &out); err != nil {
		return nil, err
	}

	posts := make([]Post, 0, len(out.Posts))
	for _, p := range out.Posts {
		posts = append(posts, p.toPost())
	}
	return posts, nil
}

// AuthorFeed returns one page of the actor's author feed starting at the
// given cursor. An empty cursor starts at the head of the feed.
func (c *Client) AuthorFeed(ctx context.Context, actorDID, cursor string, limit int) (FeedPage, error) {
	params := url.Values{}
	params.Set("actor", actorDID)
	params.Set("limit", strconv.Itoa(limit))
	if cursor != "" {
		params.Set("cursor", cursor)
	}

	var out authorFeedWire
	if err := c.doGet(ctx, c.appViewURL, "app.bsky.feed.getAuthorFeed", params, &out); err != nil {
		return FeedPage{}, err
	}

	page := FeedPage{Posts: make([]Post, 0, len(out.Feed))}
	for _, item := range out.Feed {
		page.Posts = append(page.Posts, item.Post.toPost())
	}
	if out.Cursor != nil {
		page.Cursor = *out.Cursor
	}
	return page, nil
}

// PostThread fetches the reply thread for a post. Only the root and its
// immediate replies are returned; replies that are not valid thread view
// posts are marked invalid rather than dropped.
func (c *Client) PostThread(ctx context.Context, postURI string) (*Thread, error) {
	params := url.Values{}
	params.Set("uri", postURI)
	params.Set("depth", "1")

	var out threadWire
	if err := c.doGet(ctx, c.appViewURL, "app.bsky.feed.getPostThread", params, &out); err != nil {
		return nil, err
	}

	if out.Thread.Type != threadViewPostType || out.Thread.Post == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotThreadView, out.Thread.Type)
	}

	thread := &Thread{
		Post:    out.Thread.Post.toPost(),
		Replies: make([]ThreadNode, 0, len(out.Thread.Replies)),
	}
	for _, reply := range out.Thread.Replies {
		node := ThreadNode{}
		if reply.Type == threadViewPostType && reply.Post != nil {
			node.Valid = true
			node.Post = reply.Post.toPost()
		}
		thread.Replies = append(thread.Replies, node)
	}
	return thread, nil
}

// PutRecord writes a record into the given repo collection.
func (c *Client) PutRecord(ctx context.Context, repo, collection, rkey string, record any) error {
	body := map[string]any{
		"repo":       repo,
		"collection": collection,
		"rkey":       rkey,
		"record":     record,
	}

	token, err := c.token(ctx)
	if err != nil {
		return err
	}
	return c.doPost(ctx, c.pdsURL, "com.atproto.repo.putRecord", token, body, nil)
}

// DeleteRecord removes a record from the given repo collection.
func (c *Client) DeleteRecord(ctx context.Context, repo, collection, rkey string) error {
	body := map[string]any{
		"repo":       repo,
		"collection": collection,
		"rkey":       rkey,
	}

	token, err := c.token(ctx)
	if err != nil {
		return err
	}
	return c.doPost(ctx, c.pdsURL, "com.atproto.repo.deleteRecord", token, body, nil)
}

func (c *Client) token(ctx context.Context) (string, error) {
	if c.tokens == nil {
		return "", nil
	}
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("acquire access token: %w", err)
	}
	return token, nil
}

func (c *Client) doGet(ctx context.Context, base, nsid string, params url.Values, out any) error {
	token, err := c.token(ctx)
	if err != nil {
		return err
	}

	err = c.roundTrip(ctx, http.MethodGet, base, nsid, token, params, nil, out)
	if c.shouldRetryAuth(ctx, err) {
		if token, err = c.token(ctx); err != nil {
			return err
		}
		err = c.roundTrip(ctx, http.MethodGet, base, nsid, token, params, nil, out)
	}
	return err
}

func (c *Client) doPost(ctx context.Context, base, nsid, token string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", nsid, err)
	}
	return c.roundTrip(ctx, http.MethodPost, base, nsid, token, nil, payload, out)
}

// shouldRetryAuth reports whether err is an expired-token response that a
// refreshable token source has just recovered from.
func (c *Client) shouldRetryAuth(ctx context.Context, err error) bool {
	apiErr, ok := errAsAPI(err)
	if !ok || apiErr.StatusCode != http.StatusUnauthorized {
		return false
	}
	ref, ok := c.tokens.(refresher)
	if !ok {
		return false
	}
	return ref.Refresh(ctx) == nil
}

func (c *Client) roundTrip(ctx context.Context, method, base, nsid, token string, params url.Values, body []byte, out any) error {
	endpoint := fmt.Sprintf("%s/xrpc/%s", base, nsid)
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("create %s request: %w", nsid, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", defaultUserAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", nsid, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s response: %w", nsid, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp.StatusCode, data)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse %s response: %w", nsid, err)
	}
	return nil
}

func decodeAPIError(status int, data []byte) error {
	apiErr := &APIError{StatusCode: status}
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(data, &body) == nil {
		apiErr.Name = body.Error
		apiErr.Message = body.Message
	}
	return apiErr
}

func errAsAPI(err error) (*APIError, bool) {
	var apiErr *APIError
	ok := errors.As(err, &apiErr)
	return apiErr, ok
}

// Wire types (private - implementation detail)

type sessionWire struct {
	DID        string `json:"did"`
	Handle     string `json:"handle"`
	AccessJwt  string `json:"accessJwt"`
	RefreshJwt string `json:"refreshJwt"`
}

type authorWire struct {
	DID    string `json:"did"`
	Handle string `json:"handle"`
}

type recordWire struct {
	Text      string `json:"text"`
	CreatedAt string `json:"createdAt"`
}

type postViewWire struct {
	URI        string     `json:"uri"`
	CID        string     `json:"cid"`
	Author     authorWire `json:"author"`
	Record     recordWire `json:"record"`
	ReplyCount int        `json:"replyCount"`
}

func (p postViewWire) toPost() Post {
	createdAt, _ := time.Parse(time.RFC3339, p.Record.CreatedAt)
	return Post{
		URI:        p.URI,
		CID:        p.CID,
		AuthorDID:  p.Author.DID,
		Text:       p.Record.Text,
		CreatedAt:  createdAt,
		ReplyCount: p.ReplyCount,
	}
}

type searchWire struct {
	Posts []postViewWire `json:"posts"`
}

type feedViewPostWire struct {
	Post postViewWire `json:"post"`
}

type authorFeedWire struct {
	Feed   []feedViewPostWire `json:"feed"`
	Cursor *string            `json:"cursor"`
}

type threadNodeWire struct {
	Type    string           `json:"$type"`
	Post    *postViewWire    `json:"post"`
	Replies []threadNodeWire `json:"replies"`
}

type threadWire struct {
	Thread threadNodeWire `json:"thread"`
}
