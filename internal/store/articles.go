package store

import (
	"errors"

	"github.com/google/uuid"

	"github.com/loreweave/loreweave/pkg/model"
)

const (
	prefixArticle      = "Article:"
	prefixArticleTitle = "ArticleTitle:"
)

func titleKey(instanceActorURL, title string) []byte {
	return actorKey(prefixArticleTitle, instanceActorURL+"\x00"+title)
}

// UpsertArticle creates or updates an article by actor URL and keeps
// the title index in step.
func (s *Store) UpsertArticle(a model.Article) (model.Article, error) {
	existing, err := s.GetArticle(a.ActorURL)
	switch {
	case err == nil:
		a.ID = existing.ID
		if a.CreatedAt.IsZero() {
			a.CreatedAt = existing.CreatedAt
		}
	case errors.Is(err, ErrNotFound):
		if a.ID == uuid.Nil {
			a.ID = uuid.New()
		}
	default:
		return model.Article{}, err
	}

	if err := s.put(actorKey(prefixArticle, a.ActorURL), a); err != nil {
		return model.Article{}, err
	}
	if err := s.kv.Write(titleKey(a.InstanceActorURL, a.Title), []byte(a.ActorURL)); err != nil {
		return model.Article{}, err
	}
	return a, nil
}

func (s *Store) GetArticle(actorURL string) (model.Article, error) {
	var a model.Article
	if err := s.get(actorKey(prefixArticle, actorURL), &a); err != nil {
		return model.Article{}, err
	}
	return a, nil
}

// GetArticleByTitle resolves an article through the title index of its
// owning instance.
func (s *Store) GetArticleByTitle(instanceActorURL, title string) (model.Article, error) {
	actorURL, err := s.kv.Read(titleKey(instanceActorURL, title))
	if err != nil {
		return model.Article{}, ErrNotFound
	}
	return s.GetArticle(string(actorURL))
}

func (s *Store) ListArticles() ([]model.Article, error) {
	items, err := s.kv.GetItemsWithPrefix([]byte(prefixArticle))
	if err != nil {
		return nil, err
	}

	articles := make([]model.Article, 0, len(items))
	for _, item := range items {
		var a model.Article
		if err := decode(item[1], &a); err != nil {
			return nil, err
		}
		articles = append(articles, a)
	}
	return articles, nil
}
