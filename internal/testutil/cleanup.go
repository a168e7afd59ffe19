package testutil

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// ArticleDeleter deletes library articles. *api.Client satisfies it.
type ArticleDeleter interface {
	DeleteArticle(ctx context.Context, id string) error
}

// createdArticles records articles created against a live engine so they
// can be removed after the run.
var (
	createdArticles = make(map[string]bool)
	articlesMu      sync.Mutex
)

// RegisterArticle records an article id for cleanup.
func RegisterArticle(id string) {
	articlesMu.Lock()
	defer articlesMu.Unlock()
	createdArticles[id] = true
}

// UnregisterArticle removes an id, e.g. after a test deleted it itself.
func UnregisterArticle(id string) {
	articlesMu.Lock()
	defer articlesMu.Unlock()
	delete(createdArticles, id)
}

// RegisteredArticles returns the registered ids, sorted.
func RegisteredArticles() []string {
	articlesMu.Lock()
	defer articlesMu.Unlock()
	ids := make([]string, 0, len(createdArticles))
	for id := range createdArticles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// CleanupArticles deletes every registered article and joins the errors.
// Deleted ids leave the registry; failed ones stay for a retry.
func CleanupArticles(client ArticleDeleter) error {
	var errs []error
	for _, id := range RegisteredArticles() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := client.DeleteArticle(ctx, id)
		cancel()

		if err != nil {
			errs = append(errs, err)
			continue
		}
		UnregisterArticle(id)
	}
	return errors.Join(errs...)
}

// ClearRegistry forgets every id without deleting anything.
func ClearRegistry() {
	articlesMu.Lock()
	defer articlesMu.Unlock()
	createdArticles = make(map[string]bool)
}
