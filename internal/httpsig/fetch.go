package httpsig

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/loreweave/loreweave/pkg/activity"
	"github.com/loreweave/loreweave/pkg/model"
)

// instanceDoc is the wire form of a dereferenced instance actor.
type instanceDoc struct {
	ActorURL     string `json:"id"`
	InboxURL     string `json:"inbox"`
	ArticlesURL  string `json:"articles"`
	Title        string `json:"name"`
	Description  string `json:"summary"`
	PublicKeyPem string `json:"publicKeyPem"`
}

// collectionDoc is the wire form of an object collection: a list of
// item URLs or inline objects.
type collectionDoc struct {
	Items []json.RawMessage `json:"items"`
}

func (c *Client) getJSON(ctx context.Context, url string, into any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build fetch request: %w", err)
	}
	req.Header.Set("Accept", contentType)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return fmt.Errorf("read %s: %w", url, err)
	}
	if err := json.Unmarshal(body, into); err != nil {
		return fmt.Errorf("decode %s: %w", url, err)
	}
	return nil
}

// FetchInstance dereferences a remote instance actor.
func (c *Client) FetchInstance(ctx context.Context, actorURL string) (model.Instance, error) {
	var doc instanceDoc
	if err := c.getJSON(ctx, actorURL, &doc); err != nil {
		return model.Instance{}, err
	}

	domain, err := activity.Domain(actorURL)
	if err != nil {
		return model.Instance{}, err
	}
	inst := model.Instance{
		Domain:       domain,
		ActorURL:     actorURL,
		InboxURL:     doc.InboxURL,
		ArticlesURL:  doc.ArticlesURL,
		Title:        doc.Title,
		Description:  doc.Description,
		PublicKeyPem: doc.PublicKeyPem,
	}
	if inst.InboxURL == "" {
		inst.InboxURL = actorURL + "/inbox"
	}
	if inst.ArticlesURL == "" {
		inst.ArticlesURL = actorURL + "/articles"
	}
	return inst, nil
}

// FetchArticle dereferences a remote article and its edit collection.
func (c *Client) FetchArticle(ctx context.Context, actorURL string) (model.Article, []model.Edit, error) {
	var doc activity.ArticleObject
	if err := c.getJSON(ctx, actorURL, &doc); err != nil {
		return model.Article{}, nil, err
	}

	article := model.Article{
		Title:            doc.Title,
		Text:             doc.Text,
		ActorURL:         doc.ActorURL,
		InstanceActorURL: doc.InstanceActorURL,
		Protected:        doc.Protected,
		CreatedAt:        doc.Published,
	}
	if article.ActorURL == "" {
		article.ActorURL = actorURL
	}

	editsURL := doc.EditsURL
	if editsURL == "" {
		editsURL = actorURL + "/edits"
	}
	var collection struct {
		Items []activity.EditObject `json:"items"`
	}
	if err := c.getJSON(ctx, editsURL, &collection); err != nil {
		return model.Article{}, nil, err
	}

	edits := make([]model.Edit, 0, len(collection.Items))
	for _, item := range collection.Items {
		edits = append(edits, model.Edit{
			ActorURL:        item.ActorURL,
			ArticleActorURL: article.ActorURL,
			Hash:            item.Hash,
			PreviousVersion: item.PreviousVersion,
			Diff:            item.Diff,
			Summary:         item.Summary,
			CreatorActorURL: item.CreatorActorURL,
			Published:       item.Published,
		})
	}
	return article, edits, nil
}

// ListArticleURLs fetches the remote instance's article collection as a
// list of article actor URLs.
func (c *Client) ListArticleURLs(ctx context.Context, inst model.Instance) ([]string, error) {
	var doc collectionDoc
	if err := c.getJSON(ctx, inst.ArticlesURL, &doc); err != nil {
		return nil, err
	}

	urls := make([]string, 0, len(doc.Items))
	for _, item := range doc.Items {
		var url string
		if err := json.Unmarshal(item, &url); err == nil {
			urls = append(urls, url)
			continue
		}
		var obj struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(item, &obj); err == nil && obj.ID != "" {
			urls = append(urls, obj.ID)
		}
	}
	return urls, nil
}
