package federation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/loreweave/loreweave/internal/chain"
	"github.com/loreweave/loreweave/internal/store"
	"github.com/loreweave/loreweave/pkg/model"
)

// SyncInstance pulls a remote instance's full article collection. The
// position is persisted per domain after every article, so a crash or
// delivery failure mid-sync resumes where it stopped instead of
// leaving a partially populated directory behind.
func (f *Federator) SyncInstance(ctx context.Context, inst model.Instance) error {
	cursor, err := f.store.GetSyncCursor(inst.Domain)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	if cursor.Done {
		return nil
	}

	urls, err := f.fetch.ListArticleURLs(ctx, inst)
	if err != nil {
		return fmt.Errorf("list articles of %s: %w", inst.Domain, err)
	}

	for i := cursor.NextIndex; i < len(urls); i++ {
		if err := f.backfillArticle(ctx, urls[i]); err != nil {
			return fmt.Errorf("sync %s: %w", urls[i], err)
		}
		cursor = store.SyncCursor{
			Domain:    inst.Domain,
			NextIndex: i + 1,
			UpdatedAt: time.Now(),
		}
		if err := f.store.PutSyncCursor(cursor); err != nil {
			return err
		}
	}

	cursor.Done = true
	cursor.UpdatedAt = time.Now()
	if err := f.store.PutSyncCursor(cursor); err != nil {
		return err
	}
	f.log.Info("instance synchronized", "domain", inst.Domain, "articles", len(urls))
	return nil
}

// backfillArticle dereferences one remote article with its edit
// collection and stores whatever history is not yet known. The text
// cache is rebuilt from the replayed chain, not taken from the
// snapshot, so the cache never diverges from the edits we hold.
func (f *Federator) backfillArticle(ctx context.Context, actorURL string) error {
	remote, edits, err := f.fetch.FetchArticle(ctx, actorURL)
	if err != nil {
		return err
	}
	remote.Local = false

	article, err := f.store.UpsertArticle(remote)
	if err != nil {
		return err
	}

	for _, edit := range edits {
		known, err := f.store.HasEdit(article.ActorURL, edit.Hash)
		if err != nil {
			return err
		}
		if known {
			continue
		}
		edit.ArticleActorURL = article.ActorURL
		edit.CreatorActorURL = f.ensureCreator(edit.CreatorActorURL, article.InstanceActorURL)
		if err := f.store.PutEditRecord(edit); err != nil {
			return err
		}
	}

	stored, err := f.store.ListEdits(article.ActorURL)
	if err != nil {
		return err
	}
	head := chain.LatestVersion(stored)
	text, err := chain.Replay(stored, head)
	if err != nil {
		return err
	}
	if err := f.store.SetChainHead(article.ActorURL, head); err != nil {
		return err
	}
	article.Text = text
	if _, err := f.store.UpsertArticle(article); err != nil {
		return err
	}
	return nil
}

// RefreshArticle forces a fresh dereference of a remote article so all
// pending conflicts resolve against the same ground truth.
func (f *Federator) RefreshArticle(ctx context.Context, actorURL string) (model.Article, error) {
	if err := f.backfillArticle(ctx, actorURL); err != nil {
		return model.Article{}, err
	}
	return f.store.GetArticle(actorURL)
}
