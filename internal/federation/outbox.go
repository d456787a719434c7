package federation

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"

	"github.com/loreweave/loreweave/internal/directory"
	"github.com/loreweave/loreweave/pkg/activity"
	"github.com/loreweave/loreweave/pkg/model"
)

// localKey loads the local instance's signing key.
func (f *Federator) localKey() (*rsa.PrivateKey, string, error) {
	inst, err := f.store.LocalInstance()
	if err != nil {
		return nil, "", err
	}
	key, err := directory.ParsePrivateKey(inst.PrivateKeyPem)
	if err != nil {
		return nil, "", fmt.Errorf("local instance key: %w", err)
	}
	return key, inst.ActorURL + "#main-key", nil
}

// send signs and delivers one activity to one inbox on the worker
// pool. Failures are logged and the activity is dropped for that
// recipient; the sent-activity log keeps a copy either way.
func (f *Federator) send(ctx context.Context, act *activity.Activity, inboxURL string) {
	raw, err := json.Marshal(act)
	if err != nil {
		f.log.Error("marshal outbound activity", "id", act.ID, "error", err)
		return
	}
	if err := f.store.PutSentActivity(act.ID, raw); err != nil {
		f.log.Error("record sent activity", "id", act.ID, "error", err)
	}

	key, keyID, err := f.localKey()
	if err != nil {
		f.log.Error("load signing key", "error", err)
		return
	}

	// The delivery outlives the caller: a request-scoped context must
	// not cancel a queued delivery once the handler returns.
	ctx = context.WithoutCancel(ctx)
	f.pool.Submit(func() {
		if err := f.deliver.SignAndSend(ctx, act, inboxURL, keyID, key); err != nil {
			f.log.Warn("delivery failed, activity dropped",
				"type", act.Type.String(), "inbox", inboxURL, "error", err)
		}
	})
}

// deliverToFollowers fans an activity out to every active follower of
// the local instance, skipping the excluded actor (usually the sender
// the activity originated from).
func (f *Federator) deliverToFollowers(ctx context.Context, act *activity.Activity, exclude string) {
	followers, err := f.dir.Followers(f.dir.LocalActorURL())
	if err != nil {
		f.log.Error("list followers", "error", err)
		return
	}
	for _, follow := range followers {
		if follow.FollowerActorURL == exclude {
			continue
		}
		inst, err := f.store.GetInstance(follow.FollowerActorURL)
		if err != nil {
			f.log.Warn("follower has no instance record, skipped",
				"actor", follow.FollowerActorURL)
			continue
		}
		f.send(ctx, act, inst.InboxURL)
	}
}

// ArticleCreated announces a new local article to followers.
func (f *Federator) ArticleCreated(ctx context.Context, article model.Article) {
	act := &activity.Activity{
		ID:    f.activityID(),
		Type:  activity.TypeCreate,
		Actor: f.dir.LocalActorURL(),
		To:    []string{activity.PublicTo},
		Article: &activity.ArticleObject{
			ActorURL:         article.ActorURL,
			Title:            article.Title,
			Text:             article.Text,
			InstanceActorURL: article.InstanceActorURL,
			EditsURL:         article.ActorURL + "/edits",
			Protected:        article.Protected,
			Published:        article.CreatedAt,
		},
	}
	f.deliverToFollowers(ctx, act, "")
}

// EditApplied propagates a locally applied edit: for a local article
// the instance is the origin and fans an Update out to followers; for
// a remote article the edit is proposed to the origin instance, which
// adjudicates it.
func (f *Federator) EditApplied(ctx context.Context, article model.Article, edit model.Edit) {
	obj := &activity.EditObject{
		ActorURL:        edit.ActorURL,
		ArticleActorURL: edit.ArticleActorURL,
		Hash:            edit.Hash,
		PreviousVersion: edit.PreviousVersion,
		Diff:            edit.Diff,
		Summary:         edit.Summary,
		CreatorActorURL: edit.CreatorActorURL,
		Published:       edit.Published,
	}

	if article.Local {
		act := &activity.Activity{
			ID:    f.activityID(),
			Type:  activity.TypeUpdate,
			Actor: f.dir.LocalActorURL(),
			To:    []string{activity.PublicTo},
			Edit:  obj,
		}
		f.deliverToFollowers(ctx, act, "")
		return
	}

	origin, err := f.store.GetInstance(article.InstanceActorURL)
	if err != nil {
		f.log.Warn("edit on remote article with unknown origin, not propagated",
			"article", article.ActorURL, "origin", article.InstanceActorURL)
		return
	}
	act := &activity.Activity{
		ID:    f.activityID(),
		Type:  activity.TypeEdit,
		Actor: f.dir.LocalActorURL(),
		To:    []string{origin.ActorURL},
		Edit:  obj,
	}
	f.send(ctx, act, origin.InboxURL)
}

// FollowInstance sends a Follow to a remote instance and records the
// relation as pending until its Accept arrives. The new peer's article
// collection is synchronized in the background.
func (f *Federator) FollowInstance(ctx context.Context, actorURL string) error {
	target, err := f.ensureInstance(ctx, actorURL)
	if err != nil {
		return err
	}
	if err := f.dir.Follow(f.dir.LocalActorURL(), target.ActorURL, true); err != nil {
		return err
	}

	act := &activity.Activity{
		ID:     f.activityID(),
		Type:   activity.TypeFollow,
		Actor:  f.dir.LocalActorURL(),
		To:     []string{target.ActorURL},
		Follow: &activity.FollowObject{TargetActorURL: target.ActorURL},
	}
	f.send(ctx, act, target.InboxURL)

	f.pool.Submit(func() {
		if err := f.SyncInstance(context.Background(), target); err != nil {
			f.log.Warn("instance sync failed, will resume from cursor",
				"domain", target.Domain, "error", err)
		}
	})
	return nil
}

// Wait blocks until queued deliveries and sync jobs have drained.
func (f *Federator) Wait() {
	f.pool.Wait()
}
