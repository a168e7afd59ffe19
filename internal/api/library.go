package api

import (
	"context"
	"net/http"
)

// ListArticles returns the content library. An empty library is an empty
// list, not an error.
func (c *Client) ListArticles(ctx context.Context) (*ArticleList, error) {
	data, err := c.do(ctx, http.MethodGet, c.routes.ContentLibrary, nil, "")
	if err != nil {
		return nil, err
	}

	var list ArticleList
	if err := decodeWrapped(c.routes.ContentLibrary, data, "data", &list); err != nil {
		// Some deployments return a bare array.
		var articles []Article
		if err2 := decode(c.routes.ContentLibrary, data, &articles); err2 != nil {
			return nil, err2
		}
		list.Articles = articles
	}
	if list.Articles == nil {
		list.Articles = []Article{}
	}
	if list.Total < len(list.Articles) {
		list.Total = len(list.Articles)
	}
	return &list, nil
}

// GetArticle returns one article.
func (c *Client) GetArticle(ctx context.Context, id string) (*Article, error) {
	return c.articleCall(ctx, http.MethodGet, join(c.routes.ContentLibrary, id), nil)
}

// CreateArticle adds an article to the library.
func (c *Client) CreateArticle(ctx context.Context, a NewArticle) (*Article, error) {
	return c.articleCall(ctx, http.MethodPost, c.routes.ContentLibrary, a)
}

// UpdateArticle changes an article. A missing id yields a 404 StatusError.
func (c *Client) UpdateArticle(ctx context.Context, id string, u ArticleUpdate) (*Article, error) {
	return c.articleCall(ctx, http.MethodPut, join(c.routes.ContentLibrary, id), u)
}

// DeleteArticle removes an article.
func (c *Client) DeleteArticle(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodDelete, join(c.routes.ContentLibrary, id), nil, "")
	return err
}

// articleCall accepts both {"article": {...}} and a bare article.
func (c *Client) articleCall(ctx context.Context, method, path string, in interface{}) (*Article, error) {
	var raw []byte
	var err error
	if in != nil {
		var msg rawMessage
		err = c.doJSON(ctx, method, path, in, &msg)
		raw = msg
	} else {
		raw, err = c.do(ctx, method, path, nil, "")
	}
	if err != nil {
		return nil, err
	}

	var a Article
	if len(raw) == 0 {
		return &a, nil
	}
	if err := decodeWrapped(path, raw, "article", &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// rawMessage keeps a response body undecoded.
type rawMessage []byte

func (m *rawMessage) UnmarshalJSON(data []byte) error {
	*m = append((*m)[:0], data...)
	return nil
}
