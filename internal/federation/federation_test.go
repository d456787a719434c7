package federation

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loreweave/loreweave/internal/directory"
	"github.com/loreweave/loreweave/internal/keyvalstore"
	"github.com/loreweave/loreweave/internal/resolver"
	"github.com/loreweave/loreweave/internal/store"
	"github.com/loreweave/loreweave/pkg/activity"
	"github.com/loreweave/loreweave/pkg/diffcodec"
	"github.com/loreweave/loreweave/pkg/model"
	"github.com/loreweave/loreweave/pkg/version"
	"github.com/loreweave/loreweave/pkg/workerpool"
)

type cachedKeyProvider struct {
	once    sync.Once
	private string
	public  string
	err     error
}

func (p *cachedKeyProvider) Generate() (string, string, error) {
	p.once.Do(func() {
		key, err := rsa.GenerateKey(rand.Reader, 1024)
		if err != nil {
			p.err = err
			return
		}
		p.private, p.public, p.err = directory.EncodeKeyPair(key)
	})
	return p.private, p.public, p.err
}

// recordingDeliverer captures outbound activities instead of posting
// them.
type recordingDeliverer struct {
	mu   sync.Mutex
	sent []*activity.Activity
}

func (d *recordingDeliverer) SignAndSend(_ context.Context, act *activity.Activity, _, _ string, _ *rsa.PrivateKey) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, act)
	return nil
}

func (d *recordingDeliverer) byType(t activity.Type) []*activity.Activity {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []*activity.Activity
	for _, act := range d.sent {
		if act.Type == t {
			out = append(out, act)
		}
	}
	return out
}

// stubFetcher serves canned instances and articles.
type stubFetcher struct {
	instances map[string]model.Instance
	articles  map[string]model.Article
	edits     map[string][]model.Edit
}

func (f *stubFetcher) FetchInstance(_ context.Context, actorURL string) (model.Instance, error) {
	inst, ok := f.instances[actorURL]
	if !ok {
		return model.Instance{}, fmt.Errorf("no such instance %s", actorURL)
	}
	return inst, nil
}

func (f *stubFetcher) FetchArticle(_ context.Context, actorURL string) (model.Article, []model.Edit, error) {
	article, ok := f.articles[actorURL]
	if !ok {
		return model.Article{}, nil, fmt.Errorf("no such article %s", actorURL)
	}
	return article, f.edits[actorURL], nil
}

func (f *stubFetcher) ListArticleURLs(_ context.Context, inst model.Instance) ([]string, error) {
	var urls []string
	for url, a := range f.articles {
		if a.InstanceActorURL == inst.ActorURL {
			urls = append(urls, url)
		}
	}
	return urls, nil
}

type fixture struct {
	store     *store.Store
	dir       *directory.Directory
	fed       *Federator
	deliverer *recordingDeliverer
	fetcher   *stubFetcher
}

func newFixture(t *testing.T, domain string) *fixture {
	t.Helper()
	kv, err := keyvalstore.NewKeyValStore(keyvalstore.StoreConfig{Path: t.TempDir()})
	require.NoError(t, err)
	s := store.New(kv)
	t.Cleanup(s.Close)

	log := slog.Default()
	dir := directory.New(s, &cachedKeyProvider{}, domain, log)
	_, err = dir.EnsureLocalInstance("Test Wiki")
	require.NoError(t, err)

	res := resolver.New(s, dir, log)
	deliverer := &recordingDeliverer{}
	fetcher := &stubFetcher{
		instances: map[string]model.Instance{},
		articles:  map[string]model.Article{},
		edits:     map[string][]model.Edit{},
	}
	pool := workerpool.New(1)
	t.Cleanup(pool.Close)

	fed := New(s, dir, res, deliverer, fetcher, pool, activity.DomainPolicy{}, log)
	res.SetNotifier(fed)
	res.SetRefresher(fed)

	return &fixture{store: s, dir: dir, fed: fed, deliverer: deliverer, fetcher: fetcher}
}

func remoteInstance(domain string) model.Instance {
	actorURL := "https://" + domain
	return model.Instance{
		Domain:      domain,
		ActorURL:    actorURL,
		InboxURL:    actorURL + "/inbox",
		ArticlesURL: actorURL + "/articles",
	}
}

func (fx *fixture) localArticle(t *testing.T, title, text string) model.Article {
	t.Helper()
	actorURL := fx.dir.LocalActorURL() + "/article/" + title
	article, err := fx.store.UpsertArticle(model.Article{
		Title:            title,
		Text:             text,
		ActorURL:         actorURL,
		InstanceActorURL: fx.dir.LocalActorURL(),
		Local:            true,
		CreatedAt:        time.Now(),
	})
	require.NoError(t, err)
	return article
}

func editActivity(actor string, article model.Article, newText string) *activity.Activity {
	diff := diffcodec.Make(article.Text, newText)
	return &activity.Activity{
		ID:    actor + "/activity/1",
		Type:  activity.TypeEdit,
		Actor: actor,
		To:    []string{activity.PublicTo},
		Edit: &activity.EditObject{
			ActorURL:        article.ActorURL + "/edit/1",
			ArticleActorURL: article.ActorURL,
			Hash:            version.Of(diff),
			PreviousVersion: version.Default(),
			Diff:            diff,
			Summary:         "remote change",
			CreatorActorURL: actor + "/person/bob",
			Published:       time.Now(),
		},
	}
}

func TestReceiveFollowRecordsFollowerAndReplies(t *testing.T) {
	fx := newFixture(t, "wiki.example.org")
	remote := remoteInstance("remote.example.net")
	fx.fetcher.instances[remote.ActorURL] = remote

	err := fx.fed.Receive(context.Background(), &activity.Activity{
		ID:     remote.ActorURL + "/activity/1",
		Type:   activity.TypeFollow,
		Actor:  remote.ActorURL,
		To:     []string{fx.dir.LocalActorURL()},
		Follow: &activity.FollowObject{TargetActorURL: fx.dir.LocalActorURL()},
	})
	require.NoError(t, err)
	fx.fed.Wait()

	assert.True(t, fx.dir.HasFollower(remote.ActorURL))
	accepts := fx.deliverer.byType(activity.TypeAccept)
	require.Len(t, accepts, 1)
	assert.Equal(t, remote.ActorURL, accepts[0].Accept.FollowerURL)
}

func TestReceiveEditIsIdempotent(t *testing.T) {
	fx := newFixture(t, "wiki.example.org")
	remote := remoteInstance("remote.example.net")
	_, err := fx.store.UpsertInstance(remote)
	require.NoError(t, err)
	require.NoError(t, fx.dir.Follow(remote.ActorURL, fx.dir.LocalActorURL(), false))

	article := fx.localArticle(t, "Example", "some example text\n")
	act := editActivity(remote.ActorURL, article, "Lorem Ipsum\n")

	require.NoError(t, fx.fed.Receive(context.Background(), act))
	require.NoError(t, fx.fed.Receive(context.Background(), act))
	fx.fed.Wait()

	edits, err := fx.store.ListEdits(article.ActorURL)
	require.NoError(t, err)
	require.Len(t, edits, 1, "duplicate delivery must not store a second edit")

	updated, err := fx.store.GetArticle(article.ActorURL)
	require.NoError(t, err)
	assert.Equal(t, "Lorem Ipsum\n", updated.Text)

	// The origin relays the applied edit to its followers, but never
	// back to the sender it came from.
	announces := fx.deliverer.byType(activity.TypeAnnounce)
	assert.Empty(t, announces, "only follower was the sender itself")
}

func TestOriginRelaysAppliedEditAsAnnounce(t *testing.T) {
	fx := newFixture(t, "wiki.example.org")
	sender := remoteInstance("remote.example.net")
	other := remoteInstance("other.example.net")
	for _, inst := range []model.Instance{sender, other} {
		_, err := fx.store.UpsertInstance(inst)
		require.NoError(t, err)
		require.NoError(t, fx.dir.Follow(inst.ActorURL, fx.dir.LocalActorURL(), false))
	}

	article := fx.localArticle(t, "Example", "some example text\n")
	err := fx.fed.Receive(context.Background(), editActivity(sender.ActorURL, article, "Lorem Ipsum\n"))
	require.NoError(t, err)
	fx.fed.Wait()

	announces := fx.deliverer.byType(activity.TypeAnnounce)
	require.Len(t, announces, 1, "relay goes to the follower that was not the sender")
	wrapped := announces[0].Wrapped
	require.NotNil(t, wrapped)
	assert.Equal(t, activity.TypeUpdate, wrapped.Type)
	require.NotNil(t, wrapped.Edit)
	assert.Equal(t, article.ActorURL, wrapped.Edit.ArticleActorURL)
}

func TestReceiveEditRecordsCreatorPerson(t *testing.T) {
	fx := newFixture(t, "wiki.example.org")
	remote := remoteInstance("remote.example.net")
	_, err := fx.store.UpsertInstance(remote)
	require.NoError(t, err)
	require.NoError(t, fx.dir.Follow(remote.ActorURL, fx.dir.LocalActorURL(), false))

	article := fx.localArticle(t, "Example", "some example text\n")
	act := editActivity(remote.ActorURL, article, "Lorem Ipsum\n")

	require.NoError(t, fx.fed.Receive(context.Background(), act))
	fx.fed.Wait()

	person, err := fx.store.GetPerson(act.Edit.CreatorActorURL)
	require.NoError(t, err, "creator must be remembered as a person")
	assert.False(t, person.Local)
	assert.Equal(t, article.InstanceActorURL, person.InstanceActorURL)
}

func TestEditWithoutCreatorIsCreditedToGhost(t *testing.T) {
	fx := newFixture(t, "wiki.example.org")
	remote := remoteInstance("remote.example.net")
	_, err := fx.store.UpsertInstance(remote)
	require.NoError(t, err)
	require.NoError(t, fx.dir.Follow(remote.ActorURL, fx.dir.LocalActorURL(), false))

	article := fx.localArticle(t, "Example", "some example text\n")
	act := editActivity(remote.ActorURL, article, "Lorem Ipsum\n")
	act.Edit.CreatorActorURL = ""

	require.NoError(t, fx.fed.Receive(context.Background(), act))
	fx.fed.Wait()

	ghost, err := fx.dir.GhostPerson()
	require.NoError(t, err)
	edits, err := fx.store.ListEdits(article.ActorURL)
	require.NoError(t, err)
	require.Len(t, edits, 1)
	assert.Equal(t, ghost.ActorURL, edits[0].CreatorActorURL)
}

func TestReceiveEditRejectsUnappliablePatchOnOrigin(t *testing.T) {
	fx := newFixture(t, "wiki.example.org")
	remote := remoteInstance("remote.example.net")
	_, err := fx.store.UpsertInstance(remote)
	require.NoError(t, err)
	require.NoError(t, fx.dir.Follow(remote.ActorURL, fx.dir.LocalActorURL(), false))

	article := fx.localArticle(t, "Example", "alpha\nbeta\ngamma\ndelta\n")
	stale := model.Article{ActorURL: article.ActorURL, Text: "some example words here\n"}
	act := editActivity(remote.ActorURL, stale, "entirely rewritten contents\n")

	require.NoError(t, fx.fed.Receive(context.Background(), act))
	fx.fed.Wait()

	edits, err := fx.store.ListEdits(article.ActorURL)
	require.NoError(t, err)
	assert.Empty(t, edits)

	rejects := fx.deliverer.byType(activity.TypeReject)
	require.Len(t, rejects, 1)
	assert.Equal(t, act.Edit.Diff, rejects[0].Edit.Diff, "reject must carry the original patch")
}

func TestReceiveRejectCreatesLocalConflict(t *testing.T) {
	fx := newFixture(t, "wiki.example.org")
	origin := remoteInstance("origin.example.net")
	_, err := fx.store.UpsertInstance(origin)
	require.NoError(t, err)

	article, err := fx.store.UpsertArticle(model.Article{
		Title:            "Shared",
		Text:             "some example text\n",
		ActorURL:         origin.ActorURL + "/article/Shared",
		InstanceActorURL: origin.ActorURL,
	})
	require.NoError(t, err)

	diff := diffcodec.Make("some example text\n", "our rejected change\n")
	err = fx.fed.Receive(context.Background(), &activity.Activity{
		ID:    origin.ActorURL + "/activity/9",
		Type:  activity.TypeReject,
		Actor: origin.ActorURL,
		To:    []string{fx.dir.LocalActorURL()},
		Edit: &activity.EditObject{
			ActorURL:        article.ActorURL + "/edit/9",
			ArticleActorURL: article.ActorURL,
			Hash:            version.Of(diff),
			PreviousVersion: version.Default(),
			Diff:            diff,
			Summary:         "rejected change",
			CreatorActorURL: fx.dir.LocalActorURL() + "/person/alice",
		},
	})
	require.NoError(t, err)

	conflicts, err := fx.store.ListConflictsByCreator(fx.dir.LocalActorURL() + "/person/alice")
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, diff, conflicts[0].Diff)
	assert.Equal(t, article.ActorURL, conflicts[0].ArticleActorURL)
}

func TestAnnounceBypassesFollowerGate(t *testing.T) {
	fx := newFixture(t, "wiki.example.org")
	remote := remoteInstance("remote.example.net")
	_, err := fx.store.UpsertInstance(remote)
	require.NoError(t, err)

	article := fx.localArticle(t, "Example", "some example text\n")
	inner := editActivity(remote.ActorURL, article, "Lorem Ipsum\n")

	// Direct delivery without a follow relation is dropped.
	err = fx.fed.Receive(context.Background(), inner)
	require.ErrorIs(t, err, activity.ErrVerification)

	// Wrapped in an Announce it is trusted and applied.
	err = fx.fed.Receive(context.Background(), &activity.Activity{
		ID:      remote.ActorURL + "/activity/2",
		Type:    activity.TypeAnnounce,
		Actor:   remote.ActorURL,
		To:      []string{activity.PublicTo},
		Wrapped: inner,
	})
	require.NoError(t, err)
	fx.fed.Wait()

	updated, err := fx.store.GetArticle(article.ActorURL)
	require.NoError(t, err)
	assert.Equal(t, "Lorem Ipsum\n", updated.Text)
}

func TestReceiveDropsSpoofedActor(t *testing.T) {
	fx := newFixture(t, "wiki.example.org")

	err := fx.fed.Receive(context.Background(), &activity.Activity{
		ID:     "https://evil.example.com/activity/1",
		Type:   activity.TypeFollow,
		Actor:  "https://remote.example.net",
		Follow: &activity.FollowObject{TargetActorURL: fx.dir.LocalActorURL()},
	})
	require.ErrorIs(t, err, activity.ErrVerification)
}

func TestReceiveEditForUnknownArticleIsVerificationError(t *testing.T) {
	fx := newFixture(t, "wiki.example.org")
	remote := remoteInstance("remote.example.net")
	_, err := fx.store.UpsertInstance(remote)
	require.NoError(t, err)
	require.NoError(t, fx.dir.Follow(remote.ActorURL, fx.dir.LocalActorURL(), false))

	ghost := model.Article{
		ActorURL: fx.dir.LocalActorURL() + "/article/Missing",
		Text:     "whatever\n",
	}
	err = fx.fed.Receive(context.Background(), editActivity(remote.ActorURL, ghost, "changed\n"))
	require.ErrorIs(t, err, activity.ErrVerification)
}

func TestSyncInstanceBackfillsArticlesAndPersistsCursor(t *testing.T) {
	fx := newFixture(t, "wiki.example.org")
	remote := remoteInstance("remote.example.net")
	_, err := fx.store.UpsertInstance(remote)
	require.NoError(t, err)

	first := remote.ActorURL + "/article/First"
	diff := diffcodec.Make("", "first article\n")
	fx.fetcher.articles[first] = model.Article{
		Title:            "First",
		ActorURL:         first,
		InstanceActorURL: remote.ActorURL,
	}
	fx.fetcher.edits[first] = []model.Edit{{
		ActorURL:        first + "/edit/1",
		ArticleActorURL: first,
		Hash:            version.Of(diff),
		PreviousVersion: version.Default(),
		Diff:            diff,
		Published:       time.Now(),
	}}

	require.NoError(t, fx.fed.SyncInstance(context.Background(), remote))

	got, err := fx.store.GetArticle(first)
	require.NoError(t, err)
	assert.Equal(t, "first article\n", got.Text, "text cache must come from the replayed chain")

	cursor, err := fx.store.GetSyncCursor(remote.Domain)
	require.NoError(t, err)
	assert.True(t, cursor.Done)

	// A completed sync is a no-op on re-run.
	require.NoError(t, fx.fed.SyncInstance(context.Background(), remote))
}

func TestEditAppliedRoutesToOriginForRemoteArticles(t *testing.T) {
	fx := newFixture(t, "wiki.example.org")
	origin := remoteInstance("origin.example.net")
	_, err := fx.store.UpsertInstance(origin)
	require.NoError(t, err)

	article := model.Article{
		Title:            "Shared",
		Text:             "some example text\n",
		ActorURL:         origin.ActorURL + "/article/Shared",
		InstanceActorURL: origin.ActorURL,
	}
	edit := model.Edit{
		ActorURL:        article.ActorURL + "/edit/1",
		ArticleActorURL: article.ActorURL,
		Hash:            version.Of("x"),
		Diff:            "x",
	}

	fx.fed.EditApplied(context.Background(), article, edit)
	fx.fed.Wait()

	proposals := fx.deliverer.byType(activity.TypeEdit)
	require.Len(t, proposals, 1)
	assert.Equal(t, []string{origin.ActorURL}, proposals[0].To)
}

var errUnreachable = errors.New("unreachable")

// failingDeliverer simulates a dead peer.
type failingDeliverer struct{}

func (failingDeliverer) SignAndSend(context.Context, *activity.Activity, string, string, *rsa.PrivateKey) error {
	return errUnreachable
}

func TestDeliveryFailureIsLoggedAndDropped(t *testing.T) {
	fx := newFixture(t, "wiki.example.org")
	fx.fed.deliver = failingDeliverer{}

	remote := remoteInstance("remote.example.net")
	_, err := fx.store.UpsertInstance(remote)
	require.NoError(t, err)
	require.NoError(t, fx.dir.Follow(remote.ActorURL, fx.dir.LocalActorURL(), false))

	article := fx.localArticle(t, "Example", "some example text\n")
	fx.fed.ArticleCreated(context.Background(), article)
	fx.fed.Wait()

	// The activity is still recorded in the sent log.
	sent, err := fx.store.ListSentActivities()
	require.NoError(t, err)
	assert.Len(t, sent, 1)
}

// gatedDeliverer blocks until released, then records the state of the
// delivery context at execution time.
type gatedDeliverer struct {
	release chan struct{}
	done    chan struct{}
	ctxErr  error
}

func (g *gatedDeliverer) SignAndSend(ctx context.Context, _ *activity.Activity, _, _ string, _ *rsa.PrivateKey) error {
	<-g.release
	g.ctxErr = ctx.Err()
	close(g.done)
	return nil
}

func TestQueuedDeliveryOutlivesCallerContext(t *testing.T) {
	fx := newFixture(t, "wiki.example.org")
	gated := &gatedDeliverer{release: make(chan struct{}), done: make(chan struct{})}
	fx.fed.deliver = gated

	remote := remoteInstance("remote.example.net")
	_, err := fx.store.UpsertInstance(remote)
	require.NoError(t, err)
	require.NoError(t, fx.dir.Follow(remote.ActorURL, fx.dir.LocalActorURL(), false))

	article := fx.localArticle(t, "Example", "some example text\n")
	edit := model.Edit{
		ActorURL:        article.ActorURL + "/edit/1",
		ArticleActorURL: article.ActorURL,
		Hash:            version.Of("diff"),
		PreviousVersion: version.Default(),
		Diff:            "diff",
		Summary:         "s",
		Published:       time.Now(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	fx.fed.EditApplied(ctx, article, edit)
	cancel() // the request handler has returned
	close(gated.release)

	<-gated.done
	fx.fed.Wait()
	assert.NoError(t, gated.ctxErr, "queued delivery must not inherit request cancellation")
}
