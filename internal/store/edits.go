package store

import (
	"errors"
	"sort"

	"github.com/dgraph-io/badger/v4"

	"github.com/loreweave/loreweave/pkg/model"
	"github.com/loreweave/loreweave/pkg/version"
)

const (
	prefixEdit      = "Edit:"
	prefixChainHead = "ChainHead:"
)

func editKey(articleActorURL string, v version.Version) []byte {
	key := actorKey(prefixEdit, articleActorURL)
	key = append(key, ':')
	return append(key, []byte(v.String())...)
}

func editPrefix(articleActorURL string) []byte {
	return append(actorKey(prefixEdit, articleActorURL), ':')
}

// ChainHead returns the version of the most recent non-pending edit of
// the article, or the default version if none exist.
func (s *Store) ChainHead(articleActorURL string) (version.Version, error) {
	data, err := s.kv.Read(actorKey(prefixChainHead, articleActorURL))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return version.Default(), nil
		}
		return version.Default(), err
	}
	var v version.Version
	copy(v[:], data)
	return v, nil
}

// AppendEdit persists an edit and advances the chain head and article
// text cache, all inside one transaction. The append only succeeds if
// the chain head still equals expectedPrev; otherwise ErrStaleBase is
// returned and nothing is written. This is the conditional update that
// keeps two concurrent fast-path submissions from silently forking the
// chain.
func (s *Store) AppendEdit(edit model.Edit, expectedPrev version.Version, newText string) error {
	return s.kv.Update(func(txn *badger.Txn) error {
		headKey := actorKey(prefixChainHead, edit.ArticleActorURL)
		head := version.Default()
		item, err := txn.Get(headKey)
		if err == nil {
			data, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			copy(head[:], data)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		if !head.Equal(expectedPrev) {
			return ErrStaleBase
		}

		return s.writeEditInTxn(txn, edit, newText)
	})
}

// PutEdit persists an edit unconditionally, advancing the head to the
// edit's own hash. Federation receipt uses this: the receiver already
// applied the patch to its current text, so the new head is known.
func (s *Store) PutEdit(edit model.Edit, newText string) error {
	return s.kv.Update(func(txn *badger.Txn) error {
		return s.writeEditInTxn(txn, edit, newText)
	})
}

func (s *Store) writeEditInTxn(txn *badger.Txn, edit model.Edit, newText string) error {
	data, err := encode(edit)
	if err != nil {
		return err
	}
	if err := txn.Set(editKey(edit.ArticleActorURL, edit.Hash), data); err != nil {
		return err
	}

	if edit.Pending {
		// Pending edits are parked until the article is approved; the
		// head and the text cache only ever reflect non-pending edits.
		return nil
	}

	headKey := actorKey(prefixChainHead, edit.ArticleActorURL)
	if err := txn.Set(headKey, edit.Hash.Bytes()); err != nil {
		return err
	}

	articleKey := actorKey(prefixArticle, edit.ArticleActorURL)
	item, err := txn.Get(articleKey)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		return err
	}
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return err
	}
	var article model.Article
	if err := decode(raw, &article); err != nil {
		return err
	}
	article.Text = newText
	raw, err = encode(article)
	if err != nil {
		return err
	}
	return txn.Set(articleKey, raw)
}

// PutEditRecord persists an edit without touching the chain head or
// the article text cache. Fork and history import use it to copy a
// chain verbatim before setting the head once.
func (s *Store) PutEditRecord(edit model.Edit) error {
	return s.put(editKey(edit.ArticleActorURL, edit.Hash), edit)
}

// SetChainHead rewrites the chain head, used when pending edits are
// approved and the head has to be recomputed from the chain.
func (s *Store) SetChainHead(articleActorURL string, v version.Version) error {
	return s.kv.Write(actorKey(prefixChainHead, articleActorURL), v.Bytes())
}

// HasEdit reports whether an edit with this hash exists for the
// article. This is the federation idempotency check.
func (s *Store) HasEdit(articleActorURL string, v version.Version) (bool, error) {
	return s.kv.Exists(editKey(articleActorURL, v))
}

func (s *Store) GetEdit(articleActorURL string, v version.Version) (model.Edit, error) {
	var edit model.Edit
	if err := s.get(editKey(articleActorURL, v), &edit); err != nil {
		return model.Edit{}, err
	}
	return edit, nil
}

// ListEdits returns the article's non-pending edits ordered by
// published time ascending, which is chain order for an unforked
// chain.
func (s *Store) ListEdits(articleActorURL string) ([]model.Edit, error) {
	all, err := s.ListAllEdits(articleActorURL)
	if err != nil {
		return nil, err
	}

	edits := all[:0]
	for _, e := range all {
		if !e.Pending {
			edits = append(edits, e)
		}
	}
	return edits, nil
}

// ListAllEdits returns every edit of the article, pending included,
// ordered by published time ascending.
func (s *Store) ListAllEdits(articleActorURL string) ([]model.Edit, error) {
	items, err := s.kv.GetItemsWithPrefix(editPrefix(articleActorURL))
	if err != nil {
		return nil, err
	}

	edits := make([]model.Edit, 0, len(items))
	for _, item := range items {
		var e model.Edit
		if err := decode(item[1], &e); err != nil {
			return nil, err
		}
		edits = append(edits, e)
	}

	sort.Slice(edits, func(i, j int) bool {
		if !edits[i].Published.Equal(edits[j].Published) {
			return edits[i].Published.Before(edits[j].Published)
		}
		return edits[i].Hash.String() < edits[j].Hash.String()
	})
	return edits, nil
}

// MarkEditsApproved clears the pending flag on all of the article's
// edits. The caller is responsible for recomputing head and text.
func (s *Store) MarkEditsApproved(articleActorURL string) error {
	edits, err := s.ListAllEdits(articleActorURL)
	if err != nil {
		return err
	}
	for _, e := range edits {
		if !e.Pending {
			continue
		}
		e.Pending = false
		if err := s.put(editKey(e.ArticleActorURL, e.Hash), e); err != nil {
			return err
		}
	}
	return nil
}
