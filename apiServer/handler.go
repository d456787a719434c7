package apiServer

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	sig "github.com/loreweave/loreweave/internal/httpsig"
	"github.com/loreweave/loreweave/internal/resolver"
	"github.com/loreweave/loreweave/internal/store"
	"github.com/loreweave/loreweave/pkg/activity"
	"github.com/loreweave/loreweave/pkg/model"
	"github.com/loreweave/loreweave/pkg/version"
)

const maxBodyBytes = 10 << 20

type articleView struct {
	ID            string `json:"id"`
	Title         string `json:"name"`
	Text          string `json:"content"`
	Instance      string `json:"attributedTo"`
	Local         bool   `json:"local"`
	Protected     bool   `json:"protected"`
	Moderation    string `json:"moderation"`
	LatestVersion string `json:"latestVersion"`
}

func (s *Server) articleView(a model.Article) (articleView, error) {
	head, err := s.wiki.Store().ChainHead(a.ActorURL)
	if err != nil {
		return articleView{}, err
	}
	return articleView{
		ID:            a.ActorURL,
		Title:         a.Title,
		Text:          a.Text,
		Instance:      a.InstanceActorURL,
		Local:         a.Local,
		Protected:     a.Protected,
		Moderation:    a.Moderation.String(),
		LatestVersion: head.String(),
	}, nil
}

func decodeBody(r *http.Request, into any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(into); err != nil {
		return fmt.Errorf("%w: invalid request body: %v", resolver.ErrValidation, err)
	}
	return nil
}

func (s *Server) handleCreateArticle(w http.ResponseWriter, r *http.Request) {
	actor, err := s.auth(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req struct {
		Title string `json:"title"`
		Text  string `json:"text"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	article, err := s.wiki.CreateArticle(r.Context(), req.Title, req.Text, actor)
	if err != nil {
		s.writeError(w, err)
		return
	}
	view, err := s.articleView(article)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (s *Server) handleListArticles(w http.ResponseWriter, r *http.Request) {
	articles, err := s.wiki.Store().ListArticles()
	if err != nil {
		s.writeError(w, err)
		return
	}

	items := make([]articleView, 0, len(articles))
	for _, a := range articles {
		if a.Moderation == model.ModerationRemoved {
			continue
		}
		view, err := s.articleView(a)
		if err != nil {
			s.writeError(w, err)
			return
		}
		items = append(items, view)
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) localArticle(title string) (model.Article, error) {
	return s.wiki.Store().GetArticleByTitle(s.wiki.Directory().LocalActorURL(), title)
}

func (s *Server) handleGetArticle(w http.ResponseWriter, r *http.Request) {
	article, err := s.localArticle(r.PathValue("title"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	view, err := s.articleView(article)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleEditArticle(w http.ResponseWriter, r *http.Request) {
	actor, err := s.auth(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	article, err := s.localArticle(r.PathValue("title"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	var req struct {
		Text              string `json:"text"`
		Summary           string `json:"summary"`
		PreviousVersion   string `json:"previousVersion"`
		ResolveConflictID string `json:"resolveConflictId"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	prev, err := version.Parse(req.PreviousVersion)
	if err != nil {
		s.writeError(w, fmt.Errorf("%w: invalid previous version: %v", resolver.ErrValidation, err))
		return
	}

	outcome, err := s.wiki.EditArticle(r.Context(), resolver.EditRequest{
		ArticleActorURL:   article.ActorURL,
		NewText:           req.Text,
		Summary:           req.Summary,
		PreviousVersion:   prev,
		CreatorActorURL:   actor,
		ResolveConflictID: req.ResolveConflictID,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	if outcome.Conflict != nil {
		writeJSON(w, http.StatusConflict, map[string]any{
			"conflict": map[string]any{
				"id":              outcome.Conflict.ID,
				"threeWayMerge":   outcome.Conflict.ThreeWayMerge,
				"previousVersion": outcome.Conflict.PreviousVersion.String(),
				"articleText":     outcome.Conflict.Article.Text,
			},
		})
		return
	}

	view, err := s.articleView(outcome.Article)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleForkArticle(w http.ResponseWriter, r *http.Request) {
	actor, err := s.auth(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	article, err := s.localArticle(r.PathValue("title"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	var req struct {
		Title string `json:"title"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	fork, err := s.wiki.ForkArticle(r.Context(), article.ActorURL, req.Title, actor)
	if err != nil {
		s.writeError(w, err)
		return
	}
	view, err := s.articleView(fork)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

// handleModerateArticle changes an article's moderation state. Only
// local admins may moderate: holding parks subsequent edits as
// pending, approving lifts them into the visible chain, removing
// hides the article from listings.
func (s *Server) handleModerateArticle(w http.ResponseWriter, r *http.Request) {
	actor, err := s.auth(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	if !s.wiki.Directory().IsLocalAdmin(actor) {
		s.writeError(w, fmt.Errorf("%w: moderation requires a local admin", resolver.ErrAuthorization))
		return
	}

	article, err := s.localArticle(r.PathValue("title"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	var req struct {
		Action string `json:"action"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	switch req.Action {
	case "hold":
		article, err = s.wiki.HoldArticle(article.ActorURL)
	case "approve":
		article, err = s.wiki.ApproveArticle(article.ActorURL)
	case "remove":
		article, err = s.wiki.RemoveArticle(article.ActorURL)
	default:
		s.writeError(w, fmt.Errorf("%w: unknown moderation action %q", resolver.ErrValidation, req.Action))
		return
	}
	if err != nil {
		s.writeError(w, err)
		return
	}

	view, err := s.articleView(article)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleListConflicts(w http.ResponseWriter, r *http.Request) {
	actor, err := s.auth(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	payloads, err := s.wiki.ListConflicts(r.Context(), actor)
	if err != nil {
		s.writeError(w, err)
		return
	}

	items := make([]map[string]any, 0, len(payloads))
	for _, p := range payloads {
		items = append(items, map[string]any{
			"id":              p.ID,
			"threeWayMerge":   p.ThreeWayMerge,
			"previousVersion": p.PreviousVersion.String(),
			"article":         p.Article.ActorURL,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleResolveArticle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Article string `json:"article"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	article, err := s.wiki.ResolveArticle(r.Context(), req.Article)
	if err != nil {
		s.writeError(w, err)
		return
	}
	view, err := s.articleView(article)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleFollowInstance(w http.ResponseWriter, r *http.Request) {
	if _, err := s.auth(r); err != nil {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req struct {
		Actor string `json:"actor"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	if err := s.wiki.FollowInstance(r.Context(), req.Actor); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleExportArticle(w http.ResponseWriter, r *http.Request) {
	article, err := s.localArticle(r.PathValue("title"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/x-xz")
	if err := s.wiki.ExportArticle(article.ActorURL, w); err != nil {
		s.log.Error("article export failed", "article", article.ActorURL, "error", err)
	}
}

func (s *Server) handleImportArticle(w http.ResponseWriter, r *http.Request) {
	if _, err := s.auth(r); err != nil {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	defer r.Body.Close()

	article, err := s.wiki.ImportArticle(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, err)
		return
	}
	view, err := s.articleView(article)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (s *Server) handleInbox(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, fmt.Errorf("%w: unreadable body", activity.ErrVerification))
		return
	}

	var act activity.Activity
	if err := json.Unmarshal(body, &act); err != nil {
		s.writeError(w, fmt.Errorf("%w: %v", activity.ErrVerification, err))
		return
	}

	if err := s.verifyInboxSignature(r, act.Actor); err != nil {
		s.writeError(w, err)
		return
	}

	if err := s.wiki.Federation().Receive(r.Context(), &act); err != nil {
		if errors.Is(err, activity.ErrVerification) {
			// Dropped; peers get no detail beyond the status code.
			s.log.Warn("inbound activity dropped", "id", act.ID, "error", err)
			s.writeError(w, err)
			return
		}
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// verifyInboxSignature checks the HTTP signature when the sender's key
// is already known. Unknown senders pass through; their first activity
// triggers a dereference that records the key for next time.
func (s *Server) verifyInboxSignature(r *http.Request, actorURL string) error {
	inst, err := s.wiki.Store().GetInstance(actorURL)
	if errors.Is(err, store.ErrNotFound) || (err == nil && inst.PublicKeyPem == "") {
		return nil
	}
	if err != nil {
		return err
	}
	if _, err := sig.VerifyRequest(r, inst.PublicKeyPem); err != nil {
		return fmt.Errorf("%w: %v", activity.ErrVerification, err)
	}
	return nil
}
