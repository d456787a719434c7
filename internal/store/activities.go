package store

import (
	"time"
)

const (
	prefixSentActivity = "SentActivity:"
	prefixSyncCursor   = "SyncCursor:"
)

// PutSentActivity appends an activity's wire bytes to the sent log.
// The log exists for audit and later re-synchronization; delivery
// itself is never retried from it.
func (s *Store) PutSentActivity(activityID string, raw []byte) error {
	return s.kv.Write(actorKey(prefixSentActivity, activityID), raw)
}

func (s *Store) ListSentActivities() ([][]byte, error) {
	items, err := s.kv.GetItemsWithPrefix([]byte(prefixSentActivity))
	if err != nil {
		return nil, err
	}

	raws := make([][]byte, 0, len(items))
	for _, item := range items {
		raws = append(raws, item[1])
	}
	return raws, nil
}

// SyncCursor marks how far a background collection sync of a remote
// instance has progressed, so a crashed sync resumes instead of
// leaving silently partial state.
type SyncCursor struct {
	Domain    string
	NextIndex int
	Done      bool
	UpdatedAt time.Time
}

func (s *Store) PutSyncCursor(c SyncCursor) error {
	return s.put(append([]byte(prefixSyncCursor), []byte(c.Domain)...), c)
}

func (s *Store) GetSyncCursor(domain string) (SyncCursor, error) {
	var c SyncCursor
	if err := s.get(append([]byte(prefixSyncCursor), []byte(domain)...), &c); err != nil {
		return SyncCursor{}, err
	}
	return c, nil
}
