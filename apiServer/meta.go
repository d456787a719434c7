package apiServer

import (
	"fmt"
	"net/http"

	"github.com/loreweave/loreweave/internal/resolver"
	"github.com/loreweave/loreweave/pkg/activity"
	"github.com/loreweave/loreweave/pkg/model"
	"github.com/loreweave/loreweave/pkg/version"
)

// handleActor serves the local instance's actor document, the entry
// point peers dereference before following or delivering.
func (s *Server) handleActor(w http.ResponseWriter, r *http.Request) {
	inst, err := s.wiki.Store().LocalInstance()
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":           inst.ActorURL,
		"inbox":        inst.InboxURL,
		"articles":     inst.ArticlesURL,
		"name":         inst.Title,
		"summary":      inst.Description,
		"publicKeyPem": inst.PublicKeyPem,
	})
}

// handleArticleDoc serves the article object at its actor URL.
func (s *Server) handleArticleDoc(w http.ResponseWriter, r *http.Request) {
	article, err := s.localArticle(r.PathValue("title"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, activity.ArticleObject{
		ActorURL:         article.ActorURL,
		Title:            article.Title,
		Text:             article.Text,
		InstanceActorURL: article.InstanceActorURL,
		EditsURL:         article.ActorURL + "/edits",
		Protected:        article.Protected,
		Published:        article.CreatedAt,
	})
}

// handleArticleEdits serves the article's edit collection, which peers
// fetch to backfill history.
func (s *Server) handleArticleEdits(w http.ResponseWriter, r *http.Request) {
	article, err := s.localArticle(r.PathValue("title"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	edits, err := s.wiki.Store().ListEdits(article.ActorURL)
	if err != nil {
		s.writeError(w, err)
		return
	}

	items := make([]activity.EditObject, 0, len(edits))
	for _, edit := range edits {
		items = append(items, activity.EditObject{
			ActorURL:        edit.ActorURL,
			ArticleActorURL: edit.ArticleActorURL,
			Hash:            edit.Hash,
			PreviousVersion: edit.PreviousVersion,
			Diff:            edit.Diff,
			Summary:         edit.Summary,
			CreatorActorURL: edit.CreatorActorURL,
			Published:       edit.Published,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// handleEditDoc serves a single edit at its version URL.
func (s *Server) handleEditDoc(w http.ResponseWriter, r *http.Request) {
	article, err := s.localArticle(r.PathValue("title"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	v, err := version.Parse(r.PathValue("version"))
	if err != nil {
		s.writeError(w, fmt.Errorf("%w: invalid version: %v", resolver.ErrValidation, err))
		return
	}

	edit, err := s.wiki.Store().GetEdit(article.ActorURL, v)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, activity.EditObject{
		ActorURL:        edit.ActorURL,
		ArticleActorURL: edit.ArticleActorURL,
		Hash:            edit.Hash,
		PreviousVersion: edit.PreviousVersion,
		Diff:            edit.Diff,
		Summary:         edit.Summary,
		CreatorActorURL: edit.CreatorActorURL,
		Published:       edit.Published,
	})
}

// handlePeers lists the follow relations in both directions, the set
// of instances this wiki exchanges activity with.
func (s *Server) handlePeers(w http.ResponseWriter, r *http.Request) {
	dir := s.wiki.Directory()
	local := dir.LocalActorURL()

	followers, err := dir.Followers(local)
	if err != nil {
		s.writeError(w, err)
		return
	}
	following, err := dir.Following(local)
	if err != nil {
		s.writeError(w, err)
		return
	}

	collect := func(follows []model.Follow, pick func(model.Follow) string) []string {
		urls := make([]string, 0, len(follows))
		for _, f := range follows {
			urls = append(urls, pick(f))
		}
		return urls
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"followers": collect(followers, func(f model.Follow) string { return f.FollowerActorURL }),
		"following": collect(following, func(f model.Follow) string { return f.TargetActorURL }),
	})
}
