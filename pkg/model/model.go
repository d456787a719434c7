// Package model defines the persistent entities of the wiki: federation
// instances and persons, articles, the hash-linked edits that make up
// an article's history, and the conflict records produced when an edit
// diverges from the current chain head.
package model

import (
	"time"

	"github.com/google/uuid"

	"github.com/loreweave/loreweave/pkg/version"
)

// Instance is one federation node, local or remote. Instances are
// addressed by their actor URL; re-fetching a remote instance upserts
// by that URL. Keys never rotate.
type Instance struct {
	ID            uuid.UUID
	Domain        string
	ActorURL      string
	InboxURL      string
	ArticlesURL   string
	PublicKeyPem  string
	PrivateKeyPem string // only present for the local instance
	Local         bool
	Title         string
	Description   string
	LastRefreshed time.Time
}

// Person is an author, local or remote. Exactly one ghost person per
// instance stands in for creators that could not be resolved.
type Person struct {
	ID               uuid.UUID
	Name             string
	ActorURL         string
	InboxURL         string
	InstanceActorURL string
	PublicKeyPem     string
	PrivateKeyPem    string // only present for local persons
	Local            bool
	Admin            bool
	Ghost            bool
	Bio              string
	LastRefreshed    time.Time
}

// ModerationState tracks whether an article is visible.
type ModerationState int

const (
	ModerationApproved ModerationState = iota
	ModerationPending
	ModerationRemoved
)

// String returns the textual moderation state.
func (m ModerationState) String() string {
	switch m {
	case ModerationApproved:
		return "approved"
	case ModerationPending:
		return "pending"
	case ModerationRemoved:
		return "removed"
	}
	return "unknown"
}

// Article is a named document owned by exactly one instance. Text is a
// denormalized cache of the edit chain replayed to its latest
// non-pending edit; it must never diverge from the chain without a
// corresponding Edit being appended.
type Article struct {
	ID               uuid.UUID
	Title            string
	Text             string
	ActorURL         string
	InstanceActorURL string
	Local            bool
	Protected        bool
	Moderation       ModerationState
	CreatedAt        time.Time
}

// Edit is an immutable node in an article's version chain. Hash is the
// version of Diff; PreviousVersion names the chain position this edit
// was based on. Multiple edits sharing a PreviousVersion form a fork.
type Edit struct {
	ID              uuid.UUID
	ActorURL        string // per-edit federation id, fresh on fork
	ArticleActorURL string
	Hash            version.Version
	PreviousVersion version.Version
	Diff            string
	Summary         string
	CreatorActorURL string
	Published       time.Time
	Pending         bool
}

// Conflict is an ephemeral record of a divergent edit submission,
// scoped to one (article, creator) pair. It is deleted when the
// submitter resolves it or when a later re-merge succeeds cleanly.
type Conflict struct {
	ID              uuid.UUID
	Hash            version.Version
	Diff            string
	Summary         string
	CreatorActorURL string
	ArticleActorURL string
	PreviousVersion version.Version
	Published       time.Time
}

// Follow is a follower relationship between two federation actors.
// Pending models peers that require manual acceptance; it flips to
// false when their Accept arrives.
type Follow struct {
	FollowerActorURL string
	TargetActorURL   string
	Pending          bool
	CreatedAt        time.Time
}
