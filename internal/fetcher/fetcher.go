// Package fetcher opens source exports from disk or HTTP and parses the
// CSV, JSON, and XLSX formats the marketing sources deliver.
package fetcher

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
)

// Downloader fetches a remote URL.
type Downloader interface {
	Download(ctx context.Context, url string) (io.ReadCloser, error)
}

// Opener resolves a source location to a readable stream. Locations with
// an http:// or https:// scheme go through the Downloader; anything else
// is treated as a local path.
type Opener struct {
	HTTP Downloader
}

// NewOpener creates an Opener backed by an HTTPFetcher.
func NewOpener(opts HTTPOptions) *Opener {
	return &Opener{HTTP: NewHTTPFetcher(opts)}
}

// Open returns the content at location. The caller closes it.
func (o *Opener) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	if location == "" {
		return nil, eris.New("fetcher: empty location")
	}
	if IsRemote(location) {
		if o.HTTP == nil {
			return nil, eris.Errorf("fetcher: no http client configured for %s", location)
		}
		return o.HTTP.Download(ctx, location)
	}

	f, err := os.Open(location)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: open %s", location)
	}
	return f, nil
}

// IsRemote reports whether location is an http(s) URL.
func IsRemote(location string) bool {
	l := strings.ToLower(location)
	return strings.HasPrefix(l, "http://") || strings.HasPrefix(l, "https://")
}
