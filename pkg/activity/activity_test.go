package activity

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loreweave/loreweave/pkg/version"
)

func TestTypeNamesRoundTrip(t *testing.T) {
	for _, typ := range []Type{TypeFollow, TypeAccept, TypeCreate, TypeEdit, TypeUpdate, TypeAnnounce, TypeReject} {
		parsed, err := ParseType(typ.String())
		require.NoError(t, err)
		assert.Equal(t, typ, parsed)
	}

	_, err := ParseType("Like")
	assert.Error(t, err)
}

func TestEditActivityWireRoundTrip(t *testing.T) {
	published := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	act := Activity{
		ID:    "https://wiki.example.org/activity/42",
		Type:  TypeEdit,
		Actor: "https://wiki.example.org",
		To:    []string{PublicTo},
		Edit: &EditObject{
			ActorURL:        "https://wiki.example.org/edit/42",
			ArticleActorURL: "https://wiki.example.org/article/Main",
			Hash:            version.Of("@@ patch @@"),
			PreviousVersion: version.Default(),
			Diff:            "@@ patch @@",
			Summary:         "fix typo",
			CreatorActorURL: "https://wiki.example.org/person/alice",
			Published:       published,
		},
	}

	data, err := json.Marshal(act)
	require.NoError(t, err)

	var decoded Activity
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, act.ID, decoded.ID)
	assert.Equal(t, TypeEdit, decoded.Type)
	require.NotNil(t, decoded.Edit)
	assert.Equal(t, act.Edit.Hash, decoded.Edit.Hash)
	assert.Equal(t, act.Edit.Diff, decoded.Edit.Diff)
	assert.True(t, published.Equal(decoded.Edit.Published))
}

func TestAnnounceWrapsInnerActivity(t *testing.T) {
	inner := Activity{
		ID:    "https://origin.example/activity/7",
		Type:  TypeCreate,
		Actor: "https://origin.example",
		To:    []string{PublicTo},
		Article: &ArticleObject{
			ActorURL:         "https://origin.example/article/Fungi",
			Title:            "Fungi",
			Text:             "mushrooms\n",
			InstanceActorURL: "https://origin.example",
		},
	}
	outer := Activity{
		ID:      "https://relay.example/activity/9",
		Type:    TypeAnnounce,
		Actor:   "https://relay.example",
		To:      []string{PublicTo},
		Wrapped: &inner,
	}

	data, err := json.Marshal(outer)
	require.NoError(t, err)

	var decoded Activity
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.NotNil(t, decoded.Wrapped)
	assert.Equal(t, TypeCreate, decoded.Wrapped.Type)
	require.NotNil(t, decoded.Wrapped.Article)
	assert.Equal(t, "Fungi", decoded.Wrapped.Article.Title)
}

func TestUnmarshalRejectsUnknownType(t *testing.T) {
	var a Activity
	err := json.Unmarshal([]byte(`{"id":"https://x.example/1","type":"Bogus","actor":"https://x.example"}`), &a)
	assert.Error(t, err)
}

func TestMarshalRejectsMissingObject(t *testing.T) {
	_, err := json.Marshal(Activity{ID: "https://x.example/1", Type: TypeCreate, Actor: "https://x.example"})
	assert.Error(t, err)
}

func TestVerifyEnvelope(t *testing.T) {
	act := Activity{
		ID:    "https://wiki.example.org/activity/1",
		Type:  TypeFollow,
		Actor: "https://wiki.example.org",
	}
	assert.NoError(t, act.VerifyEnvelope(DomainPolicy{}))

	spoofed := act
	spoofed.ID = "https://evil.example/activity/1"
	assert.ErrorIs(t, spoofed.VerifyEnvelope(DomainPolicy{}), ErrVerification)

	blocked := DomainPolicy{Blocked: []string{"wiki.example.org"}}
	assert.ErrorIs(t, act.VerifyEnvelope(blocked), ErrVerification)

	allowlist := DomainPolicy{Allowed: []string{"other.example"}}
	assert.ErrorIs(t, act.VerifyEnvelope(allowlist), ErrVerification)

	allowlist.Allowed = append(allowlist.Allowed, "wiki.example.org")
	assert.NoError(t, act.VerifyEnvelope(allowlist))
}
