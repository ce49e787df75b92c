package mirror

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"sync"
)

// DefaultListURL is the published list of mirror hosts.
const DefaultListURL = "https://www.gutenberg.org/MIRRORS.ALL"

// Download limits on this one.
var excludedMirrors = map[string]bool{
	"http://www.gutenberg.org/dirs": true,
}

var mirrorPattern = regexp.MustCompile(`https?://[^ \r\n]+`)

// ParseMirrors extracts mirror base URLs from the line-oriented mirror list,
// dropping trailing slashes and hosts with restrictive download quotas.
func ParseMirrors(body string) []string {
	var out []string
	for _, m := range mirrorPattern.FindAllString(body, -1) {
		m = strings.TrimRight(m, "/")
		if excludedMirrors[m] {
			continue
		}
		out = append(out, m)
	}
	return out
}

// List holds the mirror base URLs. The list is fetched once on first use and
// immutable afterwards, so it can be shared across workers.
type List struct {
	url    string
	client *http.Client

	once  sync.Once
	bases []string
	err   error
}

// NewList creates a mirror list. An empty url selects the published list; a
// nil httpClient selects http.DefaultClient.
func NewList(url string, httpClient *http.Client) *List {
	if url == "" {
		url = DefaultListURL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &List{url: url, client: httpClient}
}

// Bases returns the mirror base URLs, fetching the list on first call.
func (l *List) Bases(ctx context.Context) ([]string, error) {
	l.once.Do(func() {
		l.bases, l.err = l.fetch(ctx)
	})
	return l.bases, l.err
}

func (l *List) fetch(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.url, nil)
	if err != nil {
		return nil, fmt.Errorf("building mirror list request: %w", err)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching mirror list: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching mirror list: unexpected status %s", resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading mirror list: %w", err)
	}

	bases := ParseMirrors(string(body))
	if len(bases) == 0 {
		return nil, fmt.Errorf("mirror list %s holds no usable mirrors", l.url)
	}
	return bases, nil
}
