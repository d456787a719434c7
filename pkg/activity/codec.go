package activity

import (
	"encoding/json"
	"fmt"
)

// envelope is the wire shape of every activity: the type discriminant
// is read once, then the object payload is decoded into the matching
// variant.
type envelope struct {
	ID     string          `json:"id"`
	Type   string          `json:"type"`
	Actor  string          `json:"actor"`
	To     []string        `json:"to"`
	Object json.RawMessage `json:"object,omitempty"`
}

// MarshalJSON renders the activity in its wire form.
func (a Activity) MarshalJSON() ([]byte, error) {
	env := envelope{
		ID:    a.ID,
		Type:  a.Type.String(),
		Actor: a.Actor,
		To:    a.To,
	}

	var object any
	switch a.Type {
	case TypeCreate:
		if a.Article != nil {
			object = a.Article
		}
	case TypeEdit, TypeUpdate, TypeReject:
		if a.Edit != nil {
			object = a.Edit
		}
	case TypeFollow:
		if a.Follow != nil {
			object = a.Follow
		}
	case TypeAccept:
		if a.Accept != nil {
			object = a.Accept
		}
	case TypeAnnounce:
		if a.Wrapped != nil {
			object = a.Wrapped
		}
	default:
		return nil, fmt.Errorf("marshal activity: unknown type %d", a.Type)
	}
	if object == nil {
		return nil, fmt.Errorf("marshal %s activity: missing object", a.Type)
	}

	var err error
	env.Object, err = json.Marshal(object)
	if err != nil {
		return nil, fmt.Errorf("marshal %s object: %w", a.Type, err)
	}
	return json.Marshal(env)
}

// UnmarshalJSON decodes the envelope, reads the type discriminant once
// and decodes the object into the matching variant.
func (a *Activity) UnmarshalJSON(data []byte) error {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("unmarshal activity envelope: %w", err)
	}

	t, err := ParseType(env.Type)
	if err != nil {
		return err
	}

	*a = Activity{
		ID:    env.ID,
		Type:  t,
		Actor: env.Actor,
		To:    env.To,
	}

	var object any
	switch t {
	case TypeCreate:
		a.Article = &ArticleObject{}
		object = a.Article
	case TypeEdit, TypeUpdate, TypeReject:
		a.Edit = &EditObject{}
		object = a.Edit
	case TypeFollow:
		a.Follow = &FollowObject{}
		object = a.Follow
	case TypeAccept:
		a.Accept = &AcceptObject{}
		object = a.Accept
	case TypeAnnounce:
		a.Wrapped = &Activity{}
		object = a.Wrapped
	}

	if len(env.Object) == 0 {
		return fmt.Errorf("unmarshal %s activity: missing object", t)
	}
	if err := json.Unmarshal(env.Object, object); err != nil {
		return fmt.Errorf("unmarshal %s object: %w", t, err)
	}
	return nil
}
