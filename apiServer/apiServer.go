// Package apiServer exposes the wiki over HTTP: the article CRUD and
// conflict endpoints consumed by clients, and the inbox endpoint
// consumed by federation peers.
package apiServer

import (
	"log/slog"
	"net/http"

	loreweave "github.com/loreweave/loreweave"
)

type Server struct {
	mux  *http.ServeMux
	wiki *loreweave.Wiki
	log  *slog.Logger
	auth AuthFunc
}

// AuthFunc authenticates a client request and returns the actor URL of
// the requesting person. The inbox endpoint does not use it; peers are
// authenticated by their HTTP signature instead.
type AuthFunc func(r *http.Request) (string, error)

type Option func(*Server)

func New(wiki *loreweave.Wiki, opts ...Option) *Server {
	s := &Server{
		mux:  http.NewServeMux(),
		wiki: wiki,
		log:  slog.Default(),
		auth: defaultAuth,
	}

	for _, opt := range opts {
		opt(s)
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /articles", s.handleCreateArticle)
	s.mux.HandleFunc("GET /articles", s.handleListArticles)
	s.mux.HandleFunc("GET /articles/{title}", s.handleGetArticle)
	s.mux.HandleFunc("GET /articles/{title}/export", s.handleExportArticle)
	s.mux.HandleFunc("POST /articles/{title}/edit", s.handleEditArticle)
	s.mux.HandleFunc("POST /articles/{title}/fork", s.handleForkArticle)
	s.mux.HandleFunc("POST /articles/{title}/moderation", s.handleModerateArticle)
	s.mux.HandleFunc("POST /articles/import", s.handleImportArticle)
	s.mux.HandleFunc("GET /conflicts", s.handleListConflicts)
	s.mux.HandleFunc("POST /resolve", s.handleResolveArticle)
	s.mux.HandleFunc("POST /follow", s.handleFollowInstance)
	s.mux.HandleFunc("GET /peers", s.handlePeers)
	s.mux.HandleFunc("POST /inbox", s.handleInbox)

	// Federation-facing documents, served under the actor URLs peers
	// dereference.
	s.mux.HandleFunc("GET /{$}", s.handleActor)
	s.mux.HandleFunc("GET /article/{title}", s.handleArticleDoc)
	s.mux.HandleFunc("GET /article/{title}/edits", s.handleArticleEdits)
	s.mux.HandleFunc("GET /article/{title}/edit/{version}", s.handleEditDoc)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		origin = "*"
	} else {
		w.Header().Set("Vary", "Origin")
	}
	w.Header().Set("Access-Control-Allow-Origin", origin)

	allowedHeaders := r.Header.Get("Access-Control-Request-Headers")
	if allowedHeaders == "" {
		allowedHeaders = "Content-Type, Accept"
	}
	w.Header().Set("Access-Control-Allow-Headers", allowedHeaders)
	w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	s.mux.ServeHTTP(w, r)
}
