// Package loreweave is a federated, collaboratively-edited wiki.
// Instances host articles whose full history is a content-addressed
// chain of diffs, and exchange edits with peer instances over signed
// activities until their copies converge.
package loreweave

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/loreweave/loreweave/internal/backup"
	"github.com/loreweave/loreweave/internal/chain"
	"github.com/loreweave/loreweave/internal/directory"
	"github.com/loreweave/loreweave/internal/federation"
	"github.com/loreweave/loreweave/internal/httpsig"
	"github.com/loreweave/loreweave/internal/keyvalstore"
	"github.com/loreweave/loreweave/internal/resolver"
	"github.com/loreweave/loreweave/internal/store"
	"github.com/loreweave/loreweave/pkg/activity"
	"github.com/loreweave/loreweave/pkg/diffcodec"
	"github.com/loreweave/loreweave/pkg/model"
	"github.com/loreweave/loreweave/pkg/version"
	"github.com/loreweave/loreweave/pkg/workerpool"
)

// Wiki is the root handle of one instance. It owns the store and the
// lifecycle of the background components.
type Wiki struct {
	log    *slog.Logger
	config Config

	store *store.Store
	dir   *directory.Directory
	res   *resolver.Resolver
	fed   *federation.Federator
	pool  *workerpool.Pool

	gcStop chan struct{}
}

// New opens the store, bootstraps the local instance actor and starts
// the background collectors.
func New(conf Config) (*Wiki, error) {
	log := conf.Logger
	if log == nil {
		log = defaultLogger()
	}

	kv, err := keyvalstore.NewKeyValStore(keyvalstore.StoreConfig{
		Path:             conf.DataDir,
		MinimumFreeSpace: conf.MinimumFreeGB,
	})
	if err != nil {
		return nil, fmt.Errorf("open key-value store: %w", err)
	}

	s := store.New(kv)
	dir := directory.New(s, conf.Keys, conf.Domain, log)
	if _, err := dir.EnsureLocalInstance(conf.Title); err != nil {
		s.Close()
		return nil, err
	}

	res := resolver.New(s, dir, log)
	pool := workerpool.New(conf.Workers)
	client := httpsig.NewClient(log)
	policy := activity.DomainPolicy{Allowed: conf.AllowedDomains, Blocked: conf.BlockedDomains}
	fed := federation.New(s, dir, res, client, client, pool, policy, log)
	res.SetNotifier(fed)
	res.SetRefresher(fed)

	w := &Wiki{
		log:    log,
		config: conf,
		store:  s,
		dir:    dir,
		res:    res,
		fed:    fed,
		pool:   pool,
		gcStop: make(chan struct{}),
	}
	if conf.GCInterval > 0 {
		go w.runGarbageCollection(conf.GCInterval)
	}
	return w, nil
}

// Close drains pending federation work and closes the store.
func (w *Wiki) Close() {
	close(w.gcStop)
	w.pool.Close()
	w.store.Close()
}

func (w *Wiki) runGarbageCollection(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := w.store.GarbageCollection(); err != nil {
				w.log.Warn("value log garbage collection", "error", err)
			}
		case <-w.gcStop:
			return
		}
	}
}

// Directory exposes actor management: local persons, follower
// relations, instance records.
func (w *Wiki) Directory() *directory.Directory {
	return w.dir
}

// Store exposes direct entity reads for the HTTP layer.
func (w *Wiki) Store() *store.Store {
	return w.store
}

// Federation exposes the inbox entry point for the HTTP layer.
func (w *Wiki) Federation() *federation.Federator {
	return w.fed
}

// CreateArticle creates a local article with its initial edit and
// announces it to followers.
func (w *Wiki) CreateArticle(ctx context.Context, title, text, creatorActorURL string) (model.Article, error) {
	if strings.TrimSpace(title) == "" || strings.ContainsAny(title, "/#?") {
		return model.Article{}, fmt.Errorf("%w: invalid title %q", resolver.ErrValidation, title)
	}
	if strings.TrimSpace(text) == "" {
		return model.Article{}, fmt.Errorf("%w: article text is empty", resolver.ErrValidation)
	}
	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}

	actorURL := w.dir.LocalActorURL() + "/article/" + title
	if _, err := w.store.GetArticle(actorURL); err == nil {
		return model.Article{}, fmt.Errorf("%w: article %q already exists", resolver.ErrValidation, title)
	} else if !errors.Is(err, store.ErrNotFound) {
		return model.Article{}, err
	}

	article, err := w.store.UpsertArticle(model.Article{
		Title:            title,
		ActorURL:         actorURL,
		InstanceActorURL: w.dir.LocalActorURL(),
		Local:            true,
		CreatedAt:        time.Now(),
	})
	if err != nil {
		return model.Article{}, err
	}

	diff := diffcodec.Make("", text)
	edit := model.Edit{
		ID:              uuid.New(),
		ActorURL:        actorURL + "/edit/" + uuid.NewString(),
		ArticleActorURL: actorURL,
		Hash:            version.Of(diff),
		PreviousVersion: version.Default(),
		Diff:            diff,
		Summary:         "created",
		CreatorActorURL: creatorActorURL,
		Published:       time.Now(),
	}
	if err := w.store.AppendEdit(edit, version.Default(), text); err != nil {
		return model.Article{}, err
	}
	article.Text = text

	w.log.Info("article created", "title", title, "creator", creatorActorURL)
	w.fed.ArticleCreated(ctx, article)
	return article, nil
}

// EditArticle submits an edit and returns either the applied view or a
// conflict payload.
func (w *Wiki) EditArticle(ctx context.Context, req resolver.EditRequest) (resolver.Outcome, error) {
	return w.res.Submit(ctx, req)
}

// ForkArticle copies an article's full edit chain under a new local
// title. Every historical diff and version hash is preserved; only the
// per-edit identifiers are reissued.
func (w *Wiki) ForkArticle(ctx context.Context, sourceActorURL, newTitle, creatorActorURL string) (model.Article, error) {
	source, err := w.store.GetArticle(sourceActorURL)
	if err != nil {
		return model.Article{}, err
	}
	if strings.TrimSpace(newTitle) == "" || strings.ContainsAny(newTitle, "/#?") {
		return model.Article{}, fmt.Errorf("%w: invalid title %q", resolver.ErrValidation, newTitle)
	}

	actorURL := w.dir.LocalActorURL() + "/article/" + newTitle
	if _, err := w.store.GetArticle(actorURL); err == nil {
		return model.Article{}, fmt.Errorf("%w: article %q already exists", resolver.ErrValidation, newTitle)
	} else if !errors.Is(err, store.ErrNotFound) {
		return model.Article{}, err
	}

	edits, err := w.store.ListEdits(source.ActorURL)
	if err != nil {
		return model.Article{}, err
	}

	fork, err := w.store.UpsertArticle(model.Article{
		Title:            newTitle,
		ActorURL:         actorURL,
		InstanceActorURL: w.dir.LocalActorURL(),
		Local:            true,
		CreatedAt:        time.Now(),
	})
	if err != nil {
		return model.Article{}, err
	}

	for _, edit := range edits {
		copied := edit
		copied.ID = uuid.New()
		copied.ActorURL = actorURL + "/edit/" + uuid.NewString()
		copied.ArticleActorURL = actorURL
		if err := w.store.PutEditRecord(copied); err != nil {
			return model.Article{}, err
		}
	}

	head := chain.LatestVersion(edits)
	text, err := chain.Replay(edits, head)
	if err != nil {
		return model.Article{}, err
	}
	if err := w.store.SetChainHead(actorURL, head); err != nil {
		return model.Article{}, err
	}
	fork.Text = text
	fork, err = w.store.UpsertArticle(fork)
	if err != nil {
		return model.Article{}, err
	}

	w.log.Info("article forked", "source", source.Title, "fork", newTitle, "creator", creatorActorURL)
	w.fed.ArticleCreated(ctx, fork)
	return fork, nil
}

// HoldArticle places an article under moderation. While it is pending,
// new edits are parked outside the visible chain until ApproveArticle
// lifts them in.
func (w *Wiki) HoldArticle(actorURL string) (model.Article, error) {
	return w.setModeration(actorURL, model.ModerationPending)
}

// RemoveArticle hides an article from listings. The record and its
// chain stay in the store so federation replay keeps working.
func (w *Wiki) RemoveArticle(actorURL string) (model.Article, error) {
	return w.setModeration(actorURL, model.ModerationRemoved)
}

func (w *Wiki) setModeration(actorURL string, state model.ModerationState) (model.Article, error) {
	article, err := w.store.GetArticle(actorURL)
	if err != nil {
		return model.Article{}, err
	}
	article.Moderation = state
	article, err = w.store.UpsertArticle(article)
	if err != nil {
		return model.Article{}, err
	}
	w.log.Info("article moderation changed", "article", article.Title, "state", state.String())
	return article, nil
}

// ApproveArticle lifts a pending article out of moderation: its held
// edits become part of the visible chain and the text cache is rebuilt.
func (w *Wiki) ApproveArticle(actorURL string) (model.Article, error) {
	article, err := w.store.GetArticle(actorURL)
	if err != nil {
		return model.Article{}, err
	}

	if err := w.store.MarkEditsApproved(actorURL); err != nil {
		return model.Article{}, err
	}
	edits, err := w.store.ListEdits(actorURL)
	if err != nil {
		return model.Article{}, err
	}
	head := chain.LatestVersion(edits)
	text, err := chain.Replay(edits, head)
	if err != nil {
		return model.Article{}, err
	}
	if err := w.store.SetChainHead(actorURL, head); err != nil {
		return model.Article{}, err
	}

	article.Moderation = model.ModerationApproved
	article.Text = text
	return w.store.UpsertArticle(article)
}

// ListConflicts recomputes and returns the creator's open conflicts.
// Conflicts that now merge cleanly are applied and dropped on the way.
func (w *Wiki) ListConflicts(ctx context.Context, creatorActorURL string) ([]resolver.ConflictPayload, error) {
	return w.res.OpenConflicts(ctx, creatorActorURL)
}

// ResolveArticle forces a fresh dereference of a remote article.
func (w *Wiki) ResolveArticle(ctx context.Context, actorURL string) (model.Article, error) {
	return w.fed.RefreshArticle(ctx, actorURL)
}

// FollowInstance follows a remote instance and starts syncing its
// article collection in the background.
func (w *Wiki) FollowInstance(ctx context.Context, actorURL string) error {
	return w.fed.FollowInstance(ctx, actorURL)
}

// ExportArticle writes an article's history archive to w.
func (w *Wiki) ExportArticle(articleActorURL string, out io.Writer) error {
	return backup.Export(w.store, articleActorURL, out)
}

// ImportArticle restores an article history archive.
func (w *Wiki) ImportArticle(in io.Reader) (model.Article, error) {
	return backup.Import(w.store, in)
}
