// Package bridge talks to whatever holds the browser session: the local bridge
// server in front of the user's browser, the site itself through the session's
// cookies, or a saved page on disk.
package bridge

import (
	"context"
	"time"
)

// Credentials are the browser session's cookies for the target domain.
type Credentials struct {
	CookieHeader string            `json:"cookieHeader"`
	Cookies      map[string]string `json:"cookies"`
	Headers      map[string]string `json:"headers"`
}

type CookieProvider interface {
	Credentials(ctx context.Context) (Credentials, error)
}

// Navigator points the controlling browser session at a url. Navigating to the
// current url again is not an error.
type Navigator interface {
	Navigate(ctx context.Context, url string) error
}

// Snapshot is the rendered document of a page at one point in time.
type Snapshot struct {
	URL        string    `json:"url"`
	HTML       string    `json:"html"`
	CapturedAt time.Time `json:"capturedAt"`
}

type DocumentSource interface {
	Snapshot(ctx context.Context) (Snapshot, error)
}

// Locator reports the url a session is on without capturing the document.
type Locator interface {
	CurrentURL(ctx context.Context) (string, error)
}
