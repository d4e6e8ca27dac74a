// Package server exposes the feed generator over HTTP: the DID document,
// the generator description, and the feed skeleton endpoint.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aokiyuu/bskyfeeds/internal/bluesky"
	"github.com/aokiyuu/bskyfeeds/internal/feed"
)

// FeedFunc assembles a skeleton for one feed type, scoped to the
// requesting viewer.
type FeedFunc func(ctx context.Context, viewerDID string) feed.Skeleton

// Server routes feed generator requests to the registered feeds.
type Server struct {
	hostname     string
	publisherDID func() string
	feeds        map[string]FeedFunc
	log          *slog.Logger
}

// Option configures the Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Server) {
		s.log = log
	}
}

// New creates a server for the given public hostname. publisherDID
// resolves the DID the generator records are published under (the
// service account, once its session is up); feeds maps each feed's
// record key to its assembler.
func New(hostname string, publisherDID func() string, feeds map[string]FeedFunc, opts ...Option) *Server {
	s := &Server{
		hostname:     hostname,
		publisherDID: publisherDID,
		feeds:        feeds,
		log:          slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the HTTP handler for the service.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /", s.handleRoot)
	mux.HandleFunc("GET /.well-known/did.json", s.handleDIDDocument)
	mux.HandleFunc("GET /xrpc/app.bsky.feed.describeFeedGenerator", s.handleDescribe)
	mux.HandleFunc("GET /xrpc/app.bsky.feed.getFeedSkeleton", s.handleGetFeedSkeleton)
	return s.withRequestLog(mux)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("bskyfeeds: a Bluesky feed generator\n"))
}

func (s *Server) handleDIDDocument(w http.ResponseWriter, r *http.Request) {
	doc := didDocument{
		Context: []string{"https://www.w3.org/ns/did/v1"},
		ID:      "did:web:" + s.hostname,
		Service: []didService{{
			ID:              "#bsky_fg",
			Type:            "BskyFeedGenerator",
			ServiceEndpoint: "https://" + s.hostname,
		}},
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleDescribe(w http.ResponseWriter, r *http.Request) {
	did := s.publisherDID()
	if did == "" {
		did = "did:web:" + s.hostname
	}

	rkeys := make([]string, 0, len(s.feeds))
	for rkey := range s.feeds {
		rkeys = append(rkeys, rkey)
	}
	sort.Strings(rkeys)

	desc := generatorDescription{DID: did, Feeds: make([]feedURI, 0, len(rkeys))}
	for _, rkey := range rkeys {
		desc.Feeds = append(desc.Feeds, feedURI{
			URI: "at://" + did + "/" + bluesky.GeneratorCollection + "/" + rkey,
		})
	}
	writeJSON(w, http.StatusOK, desc)
}

func (s *Server) handleGetFeedSkeleton(w http.ResponseWriter, r *http.Request) {
	feedParam := r.URL.Query().Get("feed")
	if feedParam == "" {
		writeError(w, http.StatusBadRequest, "missing feed parameter")
		return
	}

	// The record key is the last segment of the feed's at-uri.
	rkey := feedParam[strings.LastIndex(feedParam, "/")+1:]
	assemble, ok := s.feeds[rkey]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown feed: "+rkey)
		return
	}

	viewerDID, err := bluesky.RequesterDID(r.Header.Get("Authorization"))
	if err != nil {
		// Both feeds are viewer-scoped; there is nothing to serve an
		// anonymous caller.
		writeError(w, http.StatusUnauthorized, "missing or invalid authorization")
		return
	}

	skeleton := assemble(r.Context(), viewerDID)
	writeJSON(w, http.StatusOK, skeleton)
}

// withRequestLog tags every request with an id and logs its outcome.
func (s *Server) withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := uuid.NewString()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(recorder, r)

		s.log.Info("request",
			"id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"feed", r.URL.Query().Get("feed"),
			"status", recorder.status,
			"duration", time.Since(start),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// Wire types for the generator description and DID document.

type didDocument struct {
	Context []string     `json:"@context"`
	ID      string       `json:"id"`
	Service []didService `json:"service"`
}

type didService struct {
	ID              string `json:"id"`
	Type            string `json:"type"`
	ServiceEndpoint string `json:"serviceEndpoint"`
}

type generatorDescription struct {
	DID   string    `json:"did"`
	Feeds []feedURI `json:"feeds"`
}

type feedURI struct {
	URI string `json:"uri"`
}
