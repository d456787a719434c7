// Package federation moves activities between instances: it dispatches
// inbound inbox deliveries, builds and fans out outbound activities to
// followers, and synchronizes article collections from newly-discovered
// peers. Transport and signatures live behind the Deliverer and Fetcher
// boundaries so tests can run two instances in one process.
package federation

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/loreweave/loreweave/internal/directory"
	"github.com/loreweave/loreweave/internal/resolver"
	"github.com/loreweave/loreweave/internal/store"
	"github.com/loreweave/loreweave/pkg/activity"
	"github.com/loreweave/loreweave/pkg/diffcodec"
	"github.com/loreweave/loreweave/pkg/model"
	"github.com/loreweave/loreweave/pkg/workerpool"
)

// Deliverer signs an activity with the sending actor's key and posts it
// to one recipient inbox. Failures are logged by the caller and the
// activity is otherwise considered sent; there is no retry queue.
type Deliverer interface {
	SignAndSend(ctx context.Context, act *activity.Activity, inboxURL, keyID string, key *rsa.PrivateKey) error
}

// Fetcher dereferences remote federation objects.
type Fetcher interface {
	FetchInstance(ctx context.Context, actorURL string) (model.Instance, error)
	FetchArticle(ctx context.Context, actorURL string) (model.Article, []model.Edit, error)
	ListArticleURLs(ctx context.Context, inst model.Instance) ([]string, error)
}

type Federator struct {
	store   *store.Store
	dir     *directory.Directory
	res     *resolver.Resolver
	deliver Deliverer
	fetch   Fetcher
	pool    *workerpool.Pool
	policy  activity.DomainPolicy
	log     *slog.Logger
}

func New(s *store.Store, dir *directory.Directory, res *resolver.Resolver, deliver Deliverer, fetch Fetcher, pool *workerpool.Pool, policy activity.DomainPolicy, log *slog.Logger) *Federator {
	return &Federator{
		store:   s,
		dir:     dir,
		res:     res,
		deliver: deliver,
		fetch:   fetch,
		pool:    pool,
		policy:  policy,
		log:     log,
	}
}

// Receive dispatches one inbound activity. Verification failures are
// returned as activity.ErrVerification; the caller drops the activity
// and sends no reply.
func (f *Federator) Receive(ctx context.Context, act *activity.Activity) error {
	return f.receive(ctx, act, false)
}

func (f *Federator) receive(ctx context.Context, act *activity.Activity, announced bool) error {
	if err := act.VerifyEnvelope(f.policy); err != nil {
		return err
	}

	switch act.Type {
	case activity.TypeFollow:
		return f.receiveFollow(ctx, act)
	case activity.TypeAccept:
		return f.receiveAccept(act)
	case activity.TypeCreate:
		if err := f.checkFollowerGate(act.Actor, announced); err != nil {
			return err
		}
		return f.receiveCreate(ctx, act)
	case activity.TypeEdit, activity.TypeUpdate:
		if err := f.checkFollowerGate(act.Actor, announced); err != nil {
			return err
		}
		return f.receiveEdit(ctx, act)
	case activity.TypeAnnounce:
		// The outer Announce already implies trust, so the inner
		// activity skips the follower gate.
		if act.Wrapped == nil {
			return fmt.Errorf("%w: announce without wrapped activity", activity.ErrVerification)
		}
		return f.receive(ctx, act.Wrapped, true)
	case activity.TypeReject:
		return f.receiveReject(act)
	}
	return fmt.Errorf("%w: unhandled activity type %s", activity.ErrVerification, act.Type)
}

// checkFollowerGate drops unsolicited article activity: the sender must
// have a follow relation with us, in either direction, unless the
// activity arrived wrapped in an Announce.
func (f *Federator) checkFollowerGate(actorURL string, announced bool) error {
	if announced {
		return nil
	}
	local := f.dir.LocalActorURL()
	if _, err := f.store.GetFollow(actorURL, local); err == nil {
		return nil
	}
	if _, err := f.store.GetFollow(local, actorURL); err == nil {
		return nil
	}
	return fmt.Errorf("%w: no follow relation with %s", activity.ErrVerification, actorURL)
}

func (f *Federator) receiveFollow(ctx context.Context, act *activity.Activity) error {
	if act.Follow == nil {
		return fmt.Errorf("%w: follow without object", activity.ErrVerification)
	}
	if act.Follow.TargetActorURL != f.dir.LocalActorURL() {
		return fmt.Errorf("%w: follow targets %s, not this instance",
			activity.ErrVerification, act.Follow.TargetActorURL)
	}

	sender, err := f.ensureInstance(ctx, act.Actor)
	if err != nil {
		return err
	}
	if err := f.dir.Follow(sender.ActorURL, f.dir.LocalActorURL(), false); err != nil {
		return err
	}
	f.log.Info("follower recorded", "actor", sender.ActorURL)

	accept := &activity.Activity{
		ID:    f.activityID(),
		Type:  activity.TypeAccept,
		Actor: f.dir.LocalActorURL(),
		To:    []string{sender.ActorURL},
		Accept: &activity.AcceptObject{
			FollowActorURL: act.ID,
			FollowerURL:    sender.ActorURL,
		},
	}
	f.send(ctx, accept, sender.InboxURL)
	return nil
}

func (f *Federator) receiveAccept(act *activity.Activity) error {
	if act.Accept == nil {
		return fmt.Errorf("%w: accept without object", activity.ErrVerification)
	}
	if err := f.dir.MarkFollowAccepted(f.dir.LocalActorURL(), act.Actor); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: accept for unknown follow from %s",
				activity.ErrVerification, act.Actor)
		}
		return err
	}
	f.log.Info("follow accepted", "target", act.Actor)
	return nil
}

func (f *Federator) receiveCreate(ctx context.Context, act *activity.Activity) error {
	if act.Article == nil {
		return fmt.Errorf("%w: create without article object", activity.ErrVerification)
	}

	if _, err := f.ensureInstance(ctx, act.Article.InstanceActorURL); err != nil {
		return err
	}

	article := model.Article{
		Title:            act.Article.Title,
		Text:             act.Article.Text,
		ActorURL:         act.Article.ActorURL,
		InstanceActorURL: act.Article.InstanceActorURL,
		Local:            false,
		Protected:        act.Article.Protected,
		CreatedAt:        act.Article.Published,
	}
	if _, err := f.store.UpsertArticle(article); err != nil {
		return err
	}
	f.log.Info("remote article created", "article", article.ActorURL)

	// History backfill happens off the request path; Receive returns
	// once the article snapshot is stored.
	f.pool.Submit(func() {
		if err := f.backfillArticle(context.Background(), article.ActorURL); err != nil {
			f.log.Warn("article history backfill failed",
				"article", article.ActorURL, "error", err)
		}
	})
	return nil
}

func (f *Federator) receiveEdit(ctx context.Context, act *activity.Activity) error {
	obj := act.Edit
	if obj == nil {
		return fmt.Errorf("%w: edit without object", activity.ErrVerification)
	}

	// An edit can only be verified against an article we already hold.
	article, err := f.store.GetArticle(obj.ArticleActorURL)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: edit references unknown article %s",
			activity.ErrVerification, obj.ArticleActorURL)
	}
	if err != nil {
		return err
	}

	known, err := f.store.HasEdit(article.ActorURL, obj.Hash)
	if err != nil {
		return err
	}
	if known {
		f.log.Debug("duplicate edit dropped", "article", article.ActorURL, "version", obj.Hash.String())
		return nil
	}

	newText, applyErr := diffcodec.Apply(article.Text, obj.Diff)
	if applyErr != nil {
		if article.Local {
			// We are the origin; the submitter gets a Reject and turns
			// it into a conflict on their side.
			f.sendReject(ctx, act)
			return nil
		}
		f.log.Warn("patch did not apply, dropped",
			"article", article.ActorURL, "version", obj.Hash.String(), "error", applyErr)
		return nil
	}

	edit := model.Edit{
		ID:              uuid.New(),
		ActorURL:        obj.ActorURL,
		ArticleActorURL: article.ActorURL,
		Hash:            obj.Hash,
		PreviousVersion: obj.PreviousVersion,
		Diff:            obj.Diff,
		Summary:         obj.Summary,
		CreatorActorURL: f.ensureCreator(obj.CreatorActorURL, article.InstanceActorURL),
		Published:       obj.Published,
	}
	if err := f.store.PutEdit(edit, newText); err != nil {
		return err
	}
	article.Text = newText
	f.log.Info("remote edit applied", "article", article.ActorURL, "version", obj.Hash.String())

	if article.Local {
		// The origin relays applied edits to its own followers. The
		// Update travels wrapped in an Announce: the relay vouches for
		// an activity it did not author.
		update := &activity.Activity{
			ID:    f.activityID(),
			Type:  activity.TypeUpdate,
			Actor: f.dir.LocalActorURL(),
			To:    []string{activity.PublicTo},
			Edit:  obj,
		}
		announce := &activity.Activity{
			ID:      f.activityID(),
			Type:    activity.TypeAnnounce,
			Actor:   f.dir.LocalActorURL(),
			To:      []string{activity.PublicTo},
			Wrapped: update,
		}
		f.deliverToFollowers(ctx, announce, act.Actor)
	}
	return nil
}

func (f *Federator) receiveReject(act *activity.Activity) error {
	obj := act.Edit
	if obj == nil {
		return fmt.Errorf("%w: reject without edit object", activity.ErrVerification)
	}
	if _, err := f.store.GetArticle(obj.ArticleActorURL); errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: reject references unknown article %s",
			activity.ErrVerification, obj.ArticleActorURL)
	} else if err != nil {
		return err
	}

	conflict := model.Conflict{
		Hash:            obj.Hash,
		Diff:            obj.Diff,
		Summary:         obj.Summary,
		CreatorActorURL: obj.CreatorActorURL,
		ArticleActorURL: obj.ArticleActorURL,
		PreviousVersion: obj.PreviousVersion,
		Published:       obj.Published,
	}
	if err := f.res.RecordRemoteConflict(conflict); err != nil {
		return err
	}
	f.log.Info("edit rejected by origin, conflict recorded",
		"article", obj.ArticleActorURL, "version", obj.Hash.String())
	return nil
}

// sendReject returns the submitter's own patch so their instance can
// record it as a conflict.
func (f *Federator) sendReject(ctx context.Context, act *activity.Activity) {
	sender, err := f.store.GetInstance(act.Actor)
	if err != nil {
		f.log.Warn("cannot reject edit from unknown sender", "actor", act.Actor)
		return
	}
	reject := &activity.Activity{
		ID:    f.activityID(),
		Type:  activity.TypeReject,
		Actor: f.dir.LocalActorURL(),
		To:    []string{sender.ActorURL},
		Edit:  act.Edit,
	}
	f.send(ctx, reject, sender.InboxURL)
}

// ensureCreator keeps edit attribution resolvable: unknown creators
// get a stub person record, and an edit without a usable creator is
// credited to the ghost person.
func (f *Federator) ensureCreator(creatorURL, instanceActorURL string) string {
	if creatorURL != "" {
		err := f.dir.RememberPerson(creatorURL, instanceActorURL)
		if err == nil {
			return creatorURL
		}
		f.log.Warn("creator could not be recorded", "creator", creatorURL, "error", err)
	}
	ghost, err := f.dir.GhostPerson()
	if err != nil {
		f.log.Warn("ghost person unavailable", "error", err)
		return creatorURL
	}
	return ghost.ActorURL
}

// ensureInstance returns the instance record for the actor URL,
// dereferencing it on demand when it is not yet known.
func (f *Federator) ensureInstance(ctx context.Context, actorURL string) (model.Instance, error) {
	if inst, err := f.store.GetInstance(actorURL); err == nil {
		return inst, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return model.Instance{}, err
	}

	domain, err := activity.Domain(actorURL)
	if err != nil {
		return model.Instance{}, err
	}
	if err := f.policy.Check(domain); err != nil {
		return model.Instance{}, err
	}

	inst, err := f.fetch.FetchInstance(ctx, actorURL)
	if err != nil {
		return model.Instance{}, fmt.Errorf("dereference instance %s: %w", actorURL, err)
	}
	return f.dir.UpsertRemoteInstance(inst)
}

func (f *Federator) activityID() string {
	return f.dir.LocalActorURL() + "/activity/" + uuid.NewString()
}
