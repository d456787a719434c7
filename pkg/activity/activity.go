// Package activity defines the typed federation messages exchanged
// between instance inboxes and their JSON wire form.
package activity

import (
	"fmt"
	"time"

	"github.com/loreweave/loreweave/pkg/version"
)

// PublicTo is the broadcast sentinel accepted in the "to" field.
const PublicTo = "https://www.w3.org/ns/activitystreams#Public"

// Type discriminates the federation message kinds.
type Type uint8

const (
	// TypeFollow requests to receive a target instance's article activity.
	TypeFollow Type = iota + 1
	// TypeAccept confirms a follow request.
	TypeAccept
	// TypeCreate announces a brand-new article to followers.
	TypeCreate
	// TypeEdit proposes a text change as a patch against a named previous version.
	TypeEdit
	// TypeUpdate carries an edit from the origin instance to its followers.
	TypeUpdate
	// TypeAnnounce wraps another activity to fan it out to followers.
	TypeAnnounce
	// TypeReject tells a submitter their patch did not apply on the origin.
	TypeReject
)

var typeNames = map[Type]string{
	TypeFollow:   "Follow",
	TypeAccept:   "Accept",
	TypeCreate:   "Create",
	TypeEdit:     "Edit",
	TypeUpdate:   "Update",
	TypeAnnounce: "Announce",
	TypeReject:   "Reject",
}

// String returns the wire name of the activity type.
func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", t)
}

// ParseType resolves a wire name to its Type.
func ParseType(name string) (Type, error) {
	for t, n := range typeNames {
		if n == name {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown activity type %q", name)
}

// Activity is the signed, typed envelope delivered to instance
// inboxes. Exactly one object field matching Type is set.
type Activity struct {
	ID    string
	Type  Type
	Actor string
	To    []string

	Article *ArticleObject
	Edit    *EditObject
	Follow  *FollowObject
	Accept  *AcceptObject
	Wrapped *Activity // set for Announce
}

// ArticleObject is a full article snapshot, sent with Create.
type ArticleObject struct {
	ActorURL         string    `json:"id"`
	Title            string    `json:"name"`
	Text             string    `json:"content"`
	InstanceActorURL string    `json:"attributedTo"`
	EditsURL         string    `json:"edits,omitempty"`
	Protected        bool      `json:"protected,omitempty"`
	Published        time.Time `json:"published"`
}

// EditObject is a patch with its version pointers, sent with Edit,
// Update and Reject.
type EditObject struct {
	ActorURL        string          `json:"id"`
	ArticleActorURL string          `json:"object"`
	Hash            version.Version `json:"version"`
	PreviousVersion version.Version `json:"previousVersion"`
	Diff            string          `json:"content"`
	Summary         string          `json:"summary,omitempty"`
	CreatorActorURL string          `json:"attributedTo"`
	Published       time.Time       `json:"published"`
}

// FollowObject names the instance being followed.
type FollowObject struct {
	TargetActorURL string `json:"object"`
}

// AcceptObject echoes the follow being confirmed.
type AcceptObject struct {
	FollowActorURL string `json:"object"`
	FollowerURL    string `json:"actor"`
}
