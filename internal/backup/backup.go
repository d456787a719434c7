// Package backup exports and imports an article's full edit chain as
// xz-compressed JSON. An export is a portable archive of the article's
// history; importing it on another instance reconstructs the chain
// with every hash and diff intact.
package backup

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/ulikunitz/xz"

	"github.com/loreweave/loreweave/internal/chain"
	"github.com/loreweave/loreweave/internal/store"
	"github.com/loreweave/loreweave/pkg/model"
)

// Archive is the serialized form of one article with its history.
type Archive struct {
	Article model.Article `json:"article"`
	Edits   []model.Edit  `json:"edits"`
}

// Export writes the article and its complete edit chain, pending edits
// included, as xz-compressed JSON.
func Export(s *store.Store, articleActorURL string, w io.Writer) error {
	article, err := s.GetArticle(articleActorURL)
	if err != nil {
		return err
	}
	edits, err := s.ListAllEdits(articleActorURL)
	if err != nil {
		return err
	}

	raw, err := json.Marshal(Archive{Article: article, Edits: edits})
	if err != nil {
		return fmt.Errorf("marshal archive: %w", err)
	}

	xw, err := xz.NewWriter(w)
	if err != nil {
		return fmt.Errorf("open xz writer: %w", err)
	}
	if _, err := xw.Write(raw); err != nil {
		return fmt.Errorf("write archive: %w", err)
	}
	return xw.Close()
}

// Import reads an archive and stores its article and edits. Already
// known edits are skipped, so importing twice is safe. The article
// text cache is rebuilt by replaying the imported chain.
func Import(s *store.Store, r io.Reader) (model.Article, error) {
	xr, err := xz.NewReader(r)
	if err != nil {
		return model.Article{}, fmt.Errorf("open xz reader: %w", err)
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(xr); err != nil {
		return model.Article{}, fmt.Errorf("read archive: %w", err)
	}

	var archive Archive
	if err := json.Unmarshal(buf.Bytes(), &archive); err != nil {
		return model.Article{}, fmt.Errorf("unmarshal archive: %w", err)
	}

	article, err := s.UpsertArticle(archive.Article)
	if err != nil {
		return model.Article{}, err
	}

	for _, edit := range archive.Edits {
		known, err := s.HasEdit(article.ActorURL, edit.Hash)
		if err != nil {
			return model.Article{}, err
		}
		if known {
			continue
		}
		edit.ArticleActorURL = article.ActorURL
		if err := s.PutEditRecord(edit); err != nil {
			return model.Article{}, err
		}
	}

	edits, err := s.ListEdits(article.ActorURL)
	if err != nil {
		return model.Article{}, err
	}
	head := chain.LatestVersion(edits)
	text, err := chain.Replay(edits, head)
	if err != nil {
		return model.Article{}, err
	}
	if err := s.SetChainHead(article.ActorURL, head); err != nil {
		return model.Article{}, err
	}
	article.Text = text
	return s.UpsertArticle(article)
}
