// Package directory tracks the known federation actors: instances,
// persons, their keys and inbox URLs, and follower relationships.
package directory

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/loreweave/loreweave/internal/store"
	"github.com/loreweave/loreweave/pkg/model"
)

// Directory answers actor lookups and upserts for the federation
// layer. Keypairs come from the injected KeyProvider so tests can use
// a cached pair instead of paying for key generation.
type Directory struct {
	store  *store.Store
	keys   KeyProvider
	domain string
	log    *slog.Logger
}

func New(s *store.Store, keys KeyProvider, domain string, log *slog.Logger) *Directory {
	if keys == nil {
		keys = RSAKeyProvider{}
	}
	return &Directory{store: s, keys: keys, domain: domain, log: log}
}

// LocalActorURL is the actor URL of the local instance.
func (d *Directory) LocalActorURL() string {
	return "https://" + d.domain
}

// EnsureLocalInstance bootstraps the local instance record on first
// start, generating its keypair. Calling it again is a no-op returning
// the existing record.
func (d *Directory) EnsureLocalInstance(title string) (model.Instance, error) {
	actorURL := d.LocalActorURL()
	if existing, err := d.store.GetInstance(actorURL); err == nil {
		return existing, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return model.Instance{}, err
	}

	private, public, err := d.keys.Generate()
	if err != nil {
		return model.Instance{}, fmt.Errorf("generate instance keypair: %w", err)
	}

	inst := model.Instance{
		Domain:        d.domain,
		ActorURL:      actorURL,
		InboxURL:      actorURL + "/inbox",
		ArticlesURL:   actorURL + "/articles",
		PublicKeyPem:  public,
		PrivateKeyPem: private,
		Local:         true,
		Title:         title,
		LastRefreshed: time.Now(),
	}
	inst, err = d.store.UpsertInstance(inst)
	if err != nil {
		return model.Instance{}, err
	}
	d.log.Info("local instance bootstrapped", "actor", inst.ActorURL)
	return inst, nil
}

// UpsertRemoteInstance records or refreshes a dereferenced remote
// instance.
func (d *Directory) UpsertRemoteInstance(inst model.Instance) (model.Instance, error) {
	inst.Local = false
	inst.PrivateKeyPem = ""
	inst.LastRefreshed = time.Now()
	return d.store.UpsertInstance(inst)
}

// CreateLocalPerson registers a local author with a fresh keypair.
func (d *Directory) CreateLocalPerson(name string, admin bool) (model.Person, error) {
	actorURL := d.LocalActorURL() + "/person/" + name
	if existing, err := d.store.GetPerson(actorURL); err == nil {
		return existing, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return model.Person{}, err
	}

	private, public, err := d.keys.Generate()
	if err != nil {
		return model.Person{}, fmt.Errorf("generate person keypair: %w", err)
	}

	p := model.Person{
		Name:             name,
		ActorURL:         actorURL,
		InboxURL:         actorURL + "/inbox",
		InstanceActorURL: d.LocalActorURL(),
		PublicKeyPem:     public,
		PrivateKeyPem:    private,
		Local:            true,
		Admin:            admin,
		LastRefreshed:    time.Now(),
	}
	return d.store.UpsertPerson(p)
}

// UpsertRemotePerson records or refreshes a dereferenced remote
// author.
func (d *Directory) UpsertRemotePerson(p model.Person) (model.Person, error) {
	p.Local = false
	p.PrivateKeyPem = ""
	p.LastRefreshed = time.Now()
	return d.store.UpsertPerson(p)
}

// RememberPerson makes sure a person record exists for the actor URL
// so edit attribution stays resolvable. A creator seen for the first
// time gets a minimal stub record; a later profile fetch fills it in.
func (d *Directory) RememberPerson(actorURL, instanceActorURL string) error {
	if _, err := d.store.GetPerson(actorURL); err == nil {
		return nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	_, err := d.UpsertRemotePerson(model.Person{
		ActorURL:         actorURL,
		InstanceActorURL: instanceActorURL,
	})
	return err
}

// GhostPerson returns the placeholder person credited with edits whose
// true creator could not be resolved. It is created lazily and its
// actor URL is deterministic, so there is exactly one per instance.
func (d *Directory) GhostPerson() (model.Person, error) {
	actorURL := d.LocalActorURL() + "/person/ghost"
	if existing, err := d.store.GetPerson(actorURL); err == nil {
		return existing, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return model.Person{}, err
	}

	p := model.Person{
		Name:             "ghost",
		ActorURL:         actorURL,
		InstanceActorURL: d.LocalActorURL(),
		Local:            true,
		Ghost:            true,
		LastRefreshed:    time.Now(),
	}
	return d.store.UpsertPerson(p)
}

// IsLocalAdmin reports whether the actor is a local admin of this
// instance, the requirement for editing protected articles.
func (d *Directory) IsLocalAdmin(actorURL string) bool {
	p, err := d.store.GetPerson(actorURL)
	if err != nil {
		return false
	}
	return p.Local && p.Admin
}

// Follow records a follower relationship. Pending mirrors peers that
// require manual acceptance; their Accept flips it.
func (d *Directory) Follow(followerActorURL, targetActorURL string, pending bool) error {
	return d.store.PutFollow(model.Follow{
		FollowerActorURL: followerActorURL,
		TargetActorURL:   targetActorURL,
		Pending:          pending,
		CreatedAt:        time.Now(),
	})
}

// Unfollow removes the relation.
func (d *Directory) Unfollow(followerActorURL, targetActorURL string) error {
	return d.store.DeleteFollow(followerActorURL, targetActorURL)
}

// MarkFollowAccepted flips a pending follow to active when the
// target's Accept arrives.
func (d *Directory) MarkFollowAccepted(followerActorURL, targetActorURL string) error {
	f, err := d.store.GetFollow(followerActorURL, targetActorURL)
	if err != nil {
		return err
	}
	f.Pending = false
	return d.store.PutFollow(f)
}

// Followers lists the active followers of the target actor.
func (d *Directory) Followers(targetActorURL string) ([]model.Follow, error) {
	return d.store.ListFollowers(targetActorURL)
}

// Following lists the instances the given actor follows.
func (d *Directory) Following(followerActorURL string) ([]model.Follow, error) {
	return d.store.ListFollowing(followerActorURL)
}

// HasFollower reports whether any follow relation, pending or not,
// exists from the given domain's instance actor toward us. This backs
// the anti-spam gate on unsolicited activities.
func (d *Directory) HasFollower(followerActorURL string) bool {
	_, err := d.store.GetFollow(followerActorURL, d.LocalActorURL())
	return err == nil
}
