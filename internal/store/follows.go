package store

import (
	"github.com/loreweave/loreweave/pkg/model"
)

const prefixFollow = "Follow:"

func followKey(followerActorURL, targetActorURL string) []byte {
	return actorKey(prefixFollow, followerActorURL+"\x00"+targetActorURL)
}

func (s *Store) PutFollow(f model.Follow) error {
	return s.put(followKey(f.FollowerActorURL, f.TargetActorURL), f)
}

func (s *Store) GetFollow(followerActorURL, targetActorURL string) (model.Follow, error) {
	var f model.Follow
	if err := s.get(followKey(followerActorURL, targetActorURL), &f); err != nil {
		return model.Follow{}, err
	}
	return f, nil
}

// DeleteFollow removes the relation; unfollowing twice is a no-op.
func (s *Store) DeleteFollow(followerActorURL, targetActorURL string) error {
	return s.kv.Delete(followKey(followerActorURL, targetActorURL))
}

func (s *Store) listFollows(keep func(model.Follow) bool) ([]model.Follow, error) {
	items, err := s.kv.GetItemsWithPrefix([]byte(prefixFollow))
	if err != nil {
		return nil, err
	}

	var follows []model.Follow
	for _, item := range items {
		var f model.Follow
		if err := decode(item[1], &f); err != nil {
			return nil, err
		}
		if keep(f) {
			follows = append(follows, f)
		}
	}
	return follows, nil
}

// ListFollowers returns the non-pending followers of a target actor.
func (s *Store) ListFollowers(targetActorURL string) ([]model.Follow, error) {
	return s.listFollows(func(f model.Follow) bool {
		return f.TargetActorURL == targetActorURL && !f.Pending
	})
}

// ListFollowing returns every relation where the given actor is the
// follower, pending ones included.
func (s *Store) ListFollowing(followerActorURL string) ([]model.Follow, error) {
	return s.listFollows(func(f model.Follow) bool {
		return f.FollowerActorURL == followerActorURL
	})
}
