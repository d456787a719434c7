package backup

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loreweave/loreweave/internal/keyvalstore"
	"github.com/loreweave/loreweave/internal/store"
	"github.com/loreweave/loreweave/pkg/diffcodec"
	"github.com/loreweave/loreweave/pkg/model"
	"github.com/loreweave/loreweave/pkg/version"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	kv, err := keyvalstore.NewKeyValStore(keyvalstore.StoreConfig{Path: t.TempDir()})
	require.NoError(t, err)
	s := store.New(kv)
	t.Cleanup(s.Close)
	return s
}

func seedArticle(t *testing.T, s *store.Store, states ...string) model.Article {
	t.Helper()
	article, err := s.UpsertArticle(model.Article{
		Title:            "Example",
		ActorURL:         "https://wiki.example.org/article/Example",
		InstanceActorURL: "https://wiki.example.org",
		Local:            true,
	})
	require.NoError(t, err)

	text := ""
	prev := version.Default()
	for i, next := range states {
		diff := diffcodec.Make(text, next)
		edit := model.Edit{
			ActorURL:        article.ActorURL + "/edit/" + next,
			ArticleActorURL: article.ActorURL,
			Hash:            version.Of(diff),
			PreviousVersion: prev,
			Diff:            diff,
			Summary:         "state change",
			Published:       time.Unix(int64(1700000000+i), 0),
		}
		require.NoError(t, s.AppendEdit(edit, prev, next))
		text = next
		prev = edit.Hash
	}
	article.Text = text
	return article
}

func TestExportImportRoundTrip(t *testing.T) {
	src := newTestStore(t)
	article := seedArticle(t, src, "some example text\n", "Lorem Ipsum\n")

	var buf bytes.Buffer
	require.NoError(t, Export(src, article.ActorURL, &buf))

	dst := newTestStore(t)
	imported, err := Import(dst, &buf)
	require.NoError(t, err)
	assert.Equal(t, "Lorem Ipsum\n", imported.Text)

	srcEdits, err := src.ListEdits(article.ActorURL)
	require.NoError(t, err)
	dstEdits, err := dst.ListEdits(article.ActorURL)
	require.NoError(t, err)
	require.Len(t, dstEdits, len(srcEdits))
	for i := range srcEdits {
		assert.Equal(t, srcEdits[i].Hash, dstEdits[i].Hash)
		assert.Equal(t, srcEdits[i].Diff, dstEdits[i].Diff)
	}

	head, err := dst.ChainHead(article.ActorURL)
	require.NoError(t, err)
	assert.True(t, head.Equal(srcEdits[len(srcEdits)-1].Hash))
}

func TestImportIsIdempotent(t *testing.T) {
	src := newTestStore(t)
	article := seedArticle(t, src, "some example text\n")

	var first, second bytes.Buffer
	require.NoError(t, Export(src, article.ActorURL, &first))
	require.NoError(t, Export(src, article.ActorURL, &second))

	dst := newTestStore(t)
	_, err := Import(dst, &first)
	require.NoError(t, err)
	_, err = Import(dst, &second)
	require.NoError(t, err)

	edits, err := dst.ListEdits(article.ActorURL)
	require.NoError(t, err)
	assert.Len(t, edits, 1)
}
