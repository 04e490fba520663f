// Package fetch downloads EDGAR documents with rate limiting, retry, and an
// immutable byte cache backed by the store.
package fetch

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"
)

// headerTerminator marks the end of the SGML header section of an EDGAR
// submission file. Everything the header-only strategy needs appears before it.
const headerTerminator = "</SEC-HEADER>"

// Client downloads remote documents.
type Client interface {
	// Fetch returns the full body of the URL, consulting the cache first.
	// Only immutable documents (archived filings) may go through here: a
	// cached body is served forever.
	Fetch(ctx context.Context, url string) ([]byte, error)

	// FetchFresh returns the current body of the URL, bypassing the cache
	// in both directions. Mutable endpoints — the submissions index grows
	// with every new filing — must use this path.
	FetchFresh(ctx context.Context, url string) ([]byte, error)

	// FetchHeader returns at least the SGML header portion of the URL. When
	// the header terminator is found within the bounded prefix, only that
	// prefix is returned and the partial body is not cached. Otherwise the
	// full body is fetched, cached, and returned.
	FetchHeader(ctx context.Context, url string) ([]byte, error)
}

// FetchJSON fetches the URL fresh through c and unmarshals the body into v.
// The JSON endpoints the tracker reads are mutable indexes, so they never go
// through the immutable-filing cache.
func FetchJSON(ctx context.Context, c Client, url string, v any) error {
	body, err := c.FetchFresh(ctx, url)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return eris.Wrapf(err, "decode JSON from %s", url)
	}
	return nil
}

// Cache is the byte cache the client reads through. Writes are
// first-write-wins: a URL's cached body never changes once stored.
type Cache interface {
	GetCachedFetch(ctx context.Context, url string) ([]byte, error)
	PutCachedFetch(ctx context.Context, url string, body []byte) error
}
