// Package resolver decides what happens to an edit submission: the
// fast path appends to the chain, the divergence path produces a
// durable conflict record and attempts an automatic three-way merge.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/loreweave/loreweave/internal/chain"
	"github.com/loreweave/loreweave/internal/directory"
	"github.com/loreweave/loreweave/internal/store"
	"github.com/loreweave/loreweave/pkg/diffcodec"
	"github.com/loreweave/loreweave/pkg/model"
	"github.com/loreweave/loreweave/pkg/version"
)

var (
	// ErrValidation marks a bad submission: empty text, unchanged
	// text, empty summary or disallowed links. Surfaced verbatim.
	ErrValidation = errors.New("validation failed")
	// ErrAuthorization marks an edit to a protected article by a
	// non-admin.
	ErrAuthorization = errors.New("not authorized")
)

// Notifier receives applied edits for federation propagation. It is an
// interface to keep the resolver free of transport concerns.
type Notifier interface {
	EditApplied(ctx context.Context, article model.Article, edit model.Edit)
}

// Refresher forces a fresh dereference of a remote article so all
// pending conflicts resolve against the same ground truth.
type Refresher interface {
	RefreshArticle(ctx context.Context, actorURL string) (model.Article, error)
}

// EditRequest is one edit submission.
type EditRequest struct {
	ArticleActorURL   string
	NewText           string
	Summary           string
	PreviousVersion   version.Version
	CreatorActorURL   string
	ResolveConflictID string
}

// ConflictPayload is what a submitter gets back when their edit could
// not be merged automatically: the marker text to resolve by hand, the
// authoritative article snapshot, and the previous-version pointer a
// resubmission must use.
type ConflictPayload struct {
	ID              string
	ThreeWayMerge   string
	Article         model.Article
	PreviousVersion version.Version
}

// Outcome is the result of a submission: either an applied edit or a
// conflict payload, never both.
type Outcome struct {
	Applied  *model.Edit
	Article  model.Article
	Conflict *ConflictPayload
}

type Resolver struct {
	store     *store.Store
	dir       *directory.Directory
	notifier  Notifier
	refresher Refresher
	log       *slog.Logger
}

func New(s *store.Store, dir *directory.Directory, log *slog.Logger) *Resolver {
	return &Resolver{store: s, dir: dir, log: log}
}

// SetNotifier wires federation propagation. Optional; nil means edits
// are applied locally only.
func (r *Resolver) SetNotifier(n Notifier) {
	r.notifier = n
}

// SetRefresher wires the remote-article refresh used when re-merging
// conflicts on remote articles.
func (r *Resolver) SetRefresher(ref Refresher) {
	r.refresher = ref
}

// linkMarker matches root-relative markdown links, which render as
// dead links once the article text is shown on another instance.
const linkMarker = "](/"

// Submit runs the edit state machine.
func (r *Resolver) Submit(ctx context.Context, req EditRequest) (Outcome, error) {
	if req.ResolveConflictID != "" {
		if err := r.consumeConflict(req.ResolveConflictID, req.CreatorActorURL); err != nil {
			return Outcome{}, err
		}
	}

	article, err := r.store.GetArticle(req.ArticleActorURL)
	if err != nil {
		return Outcome{}, err
	}

	newText, err := validate(article, req.NewText, req.Summary)
	if err != nil {
		return Outcome{}, err
	}

	if article.Protected && !r.dir.IsLocalAdmin(req.CreatorActorURL) {
		return Outcome{}, fmt.Errorf("%w: article %q is protected", ErrAuthorization, article.Title)
	}

	head, err := r.store.ChainHead(article.ActorURL)
	if err != nil {
		return Outcome{}, err
	}

	if req.PreviousVersion.Equal(head) {
		outcome, err := r.applyFastPath(ctx, article, newText, req.Summary, req.CreatorActorURL, head)
		if !errors.Is(err, store.ErrStaleBase) {
			return outcome, err
		}
		// Someone else won the append race; fall through and treat the
		// submission as divergent against its stated base.
	}

	return r.diverge(ctx, article, newText, req)
}

// consumeConflict deletes the named conflict if it belongs to the
// requester. Absent or foreign ids are a no-op.
func (r *Resolver) consumeConflict(id, creatorActorURL string) error {
	conflict, err := r.store.GetConflict(id)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if conflict.CreatorActorURL != creatorActorURL {
		return nil
	}
	return r.store.DeleteConflict(id)
}

func validate(article model.Article, newText, summary string) (string, error) {
	if strings.TrimSpace(newText) == "" {
		return "", fmt.Errorf("%w: article text is empty", ErrValidation)
	}
	if strings.TrimSpace(summary) == "" {
		return "", fmt.Errorf("%w: edit summary is empty", ErrValidation)
	}
	if strings.Contains(newText, linkMarker) {
		return "", fmt.Errorf("%w: root-relative links break on other instances", ErrValidation)
	}

	// A stable trailing newline keeps diffs identical across
	// instances regardless of how the client terminated the text.
	if !strings.HasSuffix(newText, "\n") {
		newText += "\n"
	}
	if newText == article.Text {
		return "", fmt.Errorf("%w: article text is unchanged", ErrValidation)
	}
	return newText, nil
}

func (r *Resolver) applyFastPath(ctx context.Context, article model.Article, newText, summary, creatorActorURL string, head version.Version) (Outcome, error) {
	diff := diffcodec.Make(article.Text, newText)
	edit := model.Edit{
		ID:              uuid.New(),
		ActorURL:        article.ActorURL + "/edit/" + uuid.NewString(),
		ArticleActorURL: article.ActorURL,
		Hash:            version.Of(diff),
		PreviousVersion: head,
		Diff:            diff,
		Summary:         summary,
		CreatorActorURL: creatorActorURL,
		Published:       time.Now(),
		Pending:         article.Moderation == model.ModerationPending,
	}

	if err := r.store.AppendEdit(edit, head, newText); err != nil {
		return Outcome{}, err
	}
	if !edit.Pending {
		article.Text = newText
	}

	r.log.Debug("edit applied", "article", article.Title, "version", edit.Hash.String())
	if r.notifier != nil && !edit.Pending {
		r.notifier.EditApplied(ctx, article, edit)
	}
	return Outcome{Applied: &edit, Article: article}, nil
}

// diverge records a conflict for the stated base version and
// immediately attempts the automatic three-way merge.
func (r *Resolver) diverge(ctx context.Context, article model.Article, newText string, req EditRequest) (Outcome, error) {
	edits, err := r.store.ListEdits(article.ActorURL)
	if err != nil {
		return Outcome{}, err
	}
	ancestor, err := chain.Replay(edits, req.PreviousVersion)
	if err != nil {
		return Outcome{}, err
	}

	patch := diffcodec.Make(ancestor, newText)
	conflict := model.Conflict{
		ID:              uuid.New(),
		Hash:            version.Of(patch),
		Diff:            patch,
		Summary:         req.Summary,
		CreatorActorURL: req.CreatorActorURL,
		ArticleActorURL: article.ActorURL,
		PreviousVersion: req.PreviousVersion,
		Published:       time.Now(),
	}
	if err := r.store.PutConflict(conflict); err != nil {
		return Outcome{}, err
	}
	r.log.Info("edit diverged from chain head",
		"article", article.Title, "base", req.PreviousVersion.String())

	return r.ToAPIConflict(ctx, conflict)
}

// RecordRemoteConflict stores a conflict built from a Reject activity:
// the origin instance refused our patch, so it becomes a local
// conflict with the same shape as a locally-detected divergence.
func (r *Resolver) RecordRemoteConflict(c model.Conflict) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.Published.IsZero() {
		c.Published = time.Now()
	}
	return r.store.PutConflict(c)
}

// ToAPIConflict recomputes a conflict against the authoritative
// current article text. A clean merge is applied as a normal edit and
// the conflict disappears; otherwise the caller gets the marker text
// and the new base to resubmit against.
func (r *Resolver) ToAPIConflict(ctx context.Context, c model.Conflict) (Outcome, error) {
	article, err := r.store.GetArticle(c.ArticleActorURL)
	if err != nil {
		return Outcome{}, err
	}
	if !article.Local && r.refresher != nil {
		refreshed, err := r.refresher.RefreshArticle(ctx, article.ActorURL)
		if err != nil {
			r.log.Warn("refresh of remote article failed, using stored text",
				"article", article.ActorURL, "error", err)
		} else {
			article = refreshed
		}
	}

	edits, err := r.store.ListEdits(article.ActorURL)
	if err != nil {
		return Outcome{}, err
	}
	ancestor, err := chain.Replay(edits, c.PreviousVersion)
	if err != nil {
		return Outcome{}, err
	}
	ours, err := diffcodec.Apply(ancestor, c.Diff)
	if err != nil {
		return Outcome{}, fmt.Errorf("apply conflict patch: %w", err)
	}

	merged, clean := diffcodec.Merge(ancestor, ours, article.Text)
	if !clean {
		head, err := r.store.ChainHead(article.ActorURL)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{
			Article: article,
			Conflict: &ConflictPayload{
				ID:              c.ID.String(),
				ThreeWayMerge:   merged,
				Article:         article,
				PreviousVersion: head,
			},
		}, nil
	}

	if merged == article.Text {
		// Both sides made the same change; nothing left to apply.
		if err := r.store.DeleteConflict(c.ID.String()); err != nil {
			return Outcome{}, err
		}
		return Outcome{Article: article}, nil
	}

	head, err := r.store.ChainHead(article.ActorURL)
	if err != nil {
		return Outcome{}, err
	}
	outcome, err := r.applyFastPath(ctx, article, merged, c.Summary, c.CreatorActorURL, head)
	if err != nil {
		return Outcome{}, err
	}
	if err := r.store.DeleteConflict(c.ID.String()); err != nil {
		return Outcome{}, err
	}
	return outcome, nil
}

// OpenConflicts recomputes every conflict of one creator. Conflicts
// that now merge cleanly are applied and dropped; the rest come back
// as payloads.
func (r *Resolver) OpenConflicts(ctx context.Context, creatorActorURL string) ([]ConflictPayload, error) {
	conflicts, err := r.store.ListConflictsByCreator(creatorActorURL)
	if err != nil {
		return nil, err
	}

	var payloads []ConflictPayload
	for _, c := range conflicts {
		outcome, err := r.ToAPIConflict(ctx, c)
		if err != nil {
			return nil, err
		}
		if outcome.Conflict != nil {
			payloads = append(payloads, *outcome.Conflict)
		}
	}
	return payloads, nil
}
