package directory

import (
	"crypto/rand"
	"crypto/rsa"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loreweave/loreweave/internal/keyvalstore"
	"github.com/loreweave/loreweave/internal/store"
)

// cachedKeyProvider hands out one shared keypair so tests do not pay
// for RSA generation per actor.
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
		p.private, p.public, p.err = EncodeKeyPair(key)
	})
	return p.private, p.public, p.err
}

func newTestDirectory(t *testing.T) (*Directory, *store.Store) {
	t.Helper()
	kv, err := keyvalstore.NewKeyValStore(keyvalstore.StoreConfig{Path: t.TempDir()})
	require.NoError(t, err)
	s := store.New(kv)
	t.Cleanup(s.Close)
	return New(s, &cachedKeyProvider{}, "wiki.example.org", slog.Default()), s
}

func TestEnsureLocalInstanceIsIdempotent(t *testing.T) {
	d, _ := newTestDirectory(t)

	first, err := d.EnsureLocalInstance("Test Wiki")
	require.NoError(t, err)
	assert.True(t, first.Local)
	assert.Equal(t, "https://wiki.example.org", first.ActorURL)
	assert.NotEmpty(t, first.PrivateKeyPem)
	assert.NotEmpty(t, first.PublicKeyPem)

	second, err := d.EnsureLocalInstance("Renamed")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "Test Wiki", second.Title, "bootstrap must not overwrite an existing instance")
}

func TestKeyPairRoundTrip(t *testing.T) {
	d, _ := newTestDirectory(t)

	inst, err := d.EnsureLocalInstance("Test Wiki")
	require.NoError(t, err)

	private, err := ParsePrivateKey(inst.PrivateKeyPem)
	require.NoError(t, err)
	public, err := ParsePublicKey(inst.PublicKeyPem)
	require.NoError(t, err)
	assert.Equal(t, private.PublicKey.N, public.N)
}

func TestGhostPersonIsSingular(t *testing.T) {
	d, s := newTestDirectory(t)

	first, err := d.GhostPerson()
	require.NoError(t, err)
	assert.True(t, first.Ghost)

	second, err := d.GhostPerson()
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	persons, err := s.ListPersons()
	require.NoError(t, err)
	assert.Len(t, persons, 1, "exactly one ghost person per instance")
}

func TestIsLocalAdmin(t *testing.T) {
	d, _ := newTestDirectory(t)

	admin, err := d.CreateLocalPerson("alice", true)
	require.NoError(t, err)
	regular, err := d.CreateLocalPerson("bob", false)
	require.NoError(t, err)

	assert.True(t, d.IsLocalAdmin(admin.ActorURL))
	assert.False(t, d.IsLocalAdmin(regular.ActorURL))
	assert.False(t, d.IsLocalAdmin("https://elsewhere.example/person/eve"))
}

func TestFollowAcceptLifecycle(t *testing.T) {
	d, s := newTestDirectory(t)

	follower := "https://a.example"
	target := "https://wiki.example.org"
	require.NoError(t, d.Follow(follower, target, true))

	followers, err := d.Followers(target)
	require.NoError(t, err)
	assert.Empty(t, followers, "pending follow is not active yet")
	assert.True(t, d.HasFollower(follower))

	require.NoError(t, d.MarkFollowAccepted(follower, target))
	followers, err = d.Followers(target)
	require.NoError(t, err)
	assert.Len(t, followers, 1)

	require.NoError(t, d.Unfollow(follower, target))
	assert.False(t, d.HasFollower(follower))

	_, err = s.GetFollow(follower, target)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
