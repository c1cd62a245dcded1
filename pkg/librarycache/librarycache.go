// Package librarycache keeps the "latest items" result of every library
// query someone is watching, and refreshes the affected ones when the server
// reports a library change.
package librarycache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/germanamz/mediahub/pkg/models"
)

// DefaultConcurrency bounds parallel refresh queries.
const DefaultConcurrency = 4

// LatestLimit is how many items a latest-items query returns.
const LatestLimit = 5

// Fetcher runs item queries. *mediabrowser.Client implements it.
type Fetcher interface {
	UserItems(ctx context.Context, userID string, query url.Values) (models.LibraryResult, error)
}

// Update is a refreshed key whose result changed, or every refreshed key on
// a forced refresh.
type Update struct {
	Key    models.LibraryKey
	Result models.LibraryResult
}

// Options configures a Cache.
type Options struct {
	// QueryUser returns the user that runs wildcard-user queries.
	QueryUser   func() string
	Concurrency int
	Logger      *slog.Logger
}

type entry struct {
	refs    int
	fetched bool
	result  models.LibraryResult
}

// Cache is safe for concurrent use. Refreshes may overlap with Acquire and
// Release; a key released mid-refresh is simply not stored.
type Cache struct {
	fetcher     Fetcher
	queryUser   func() string
	concurrency int
	logger      *slog.Logger

	mu      sync.Mutex
	entries map[models.LibraryKey]*entry
}

// New creates an empty Cache.
func New(fetcher Fetcher, opts Options) *Cache {
	c := &Cache{
		fetcher:     fetcher,
		queryUser:   opts.QueryUser,
		concurrency: opts.Concurrency,
		logger:      opts.Logger,
		entries:     make(map[models.LibraryKey]*entry),
	}
	if c.concurrency <= 0 {
		c.concurrency = DefaultConcurrency
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.queryUser == nil {
		c.queryUser = func() string { return "" }
	}
	return c
}

// Acquire starts tracking key, or adds a reference if it is tracked.
func (c *Cache) Acquire(key models.LibraryKey) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		e = &entry{}
		c.entries[key] = e
	}
	e.refs++
}

// Release drops one reference to key and forgets the key with its cached
// result when none remain. Releasing an untracked key is a no-op.
func (c *Cache) Release(key models.LibraryKey) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return
	}
	e.refs--
	if e.refs <= 0 {
		delete(c.entries, key)
	}
}

// Keys returns the tracked keys in a stable order.
func (c *Cache) Keys() []models.LibraryKey {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]models.LibraryKey, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sortKeys(keys)
	return keys
}

// Get returns the cached result of key. ok is false when the key is not
// tracked or has not been fetched yet.
func (c *Cache) Get(key models.LibraryKey) (models.LibraryResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || !e.fetched {
		return models.LibraryResult{}, false
	}
	return e.result, true
}

// Query returns the latest-items query for key.
func Query(key models.LibraryKey) url.Values {
	q := url.Values{
		"SortBy":    {"DateCreated"},
		"SortOrder": {"Descending"},
		"Recursive": {"true"},
		"Limit":     {fmt.Sprint(LatestLimit)},
	}
	if key.ItemType != "" {
		q.Set("IncludeItemTypes", key.ItemType)
	}
	if key.LibraryID != models.Wildcard {
		q.Set("ParentId", key.LibraryID)
	}
	return q
}

// OnLibraryChanged refreshes every tracked key whose library is in affected
// or is the wildcard. It returns the keys whose result changed, or all
// refreshed keys when force is set. Keys whose query failed keep their old
// result and are reported through the joined error.
func (c *Cache) OnLibraryChanged(ctx context.Context, affected []string, force bool) ([]Update, error) {
	var keys []models.LibraryKey
	for _, k := range c.Keys() {
		if k.MatchesLibrary(affected) {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return nil, nil
	}

	results := make([]models.LibraryResult, len(keys))
	errs := make([]error, len(keys))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, key := range keys {
		g.Go(func() error {
			user := key.UserID
			if user == models.Wildcard {
				user = c.queryUser()
			}
			res, err := c.fetcher.UserItems(gctx, user, Query(key))
			if err != nil {
				errs[i] = fmt.Errorf("librarycache: refresh %s: %w", key, err)
				return nil
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()

	var updates []Update
	for i, key := range keys {
		if errs[i] != nil {
			continue
		}
		e, ok := c.entries[key]
		if !ok {
			continue
		}
		changed := !e.fetched || !bytes.Equal(e.result.Raw, results[i].Raw)
		e.result = results[i]
		e.fetched = true
		if changed || force {
			updates = append(updates, Update{Key: key, Result: results[i]})
		}
	}

	err := errors.Join(errs...)
	if err != nil {
		c.logger.WarnContext(ctx, "library refresh incomplete", "libraries", affected, "err", err)
	}
	return updates, err
}

func sortKeys(keys []models.LibraryKey) {
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
}
