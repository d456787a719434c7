package store

import (
	"github.com/loreweave/loreweave/pkg/model"
)

const prefixConflict = "Conflict:"

func conflictKey(id string) []byte {
	return append([]byte(prefixConflict), []byte(id)...)
}

func (s *Store) PutConflict(c model.Conflict) error {
	return s.put(conflictKey(c.ID.String()), c)
}

func (s *Store) GetConflict(id string) (model.Conflict, error) {
	var c model.Conflict
	if err := s.get(conflictKey(id), &c); err != nil {
		return model.Conflict{}, err
	}
	return c, nil
}

// DeleteConflict removes a conflict record. Deleting an absent id is a
// no-op: resolution ids are idempotent.
func (s *Store) DeleteConflict(id string) error {
	return s.kv.Delete(conflictKey(id))
}

func (s *Store) ListConflicts() ([]model.Conflict, error) {
	items, err := s.kv.GetItemsWithPrefix([]byte(prefixConflict))
	if err != nil {
		return nil, err
	}

	conflicts := make([]model.Conflict, 0, len(items))
	for _, item := range items {
		var c model.Conflict
		if err := decode(item[1], &c); err != nil {
			return nil, err
		}
		conflicts = append(conflicts, c)
	}
	return conflicts, nil
}

// ListConflictsByCreator returns the open conflicts belonging to one
// creator.
func (s *Store) ListConflictsByCreator(creatorActorURL string) ([]model.Conflict, error) {
	all, err := s.ListConflicts()
	if err != nil {
		return nil, err
	}

	conflicts := all[:0]
	for _, c := range all {
		if c.CreatorActorURL == creatorActorURL {
			conflicts = append(conflicts, c)
		}
	}
	return conflicts, nil
}
