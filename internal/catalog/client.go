package catalog

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"gutensync/internal/library"
	"gutensync/internal/model"
)

// DefaultArchiveURL is the published catalog feed. It must point at the bz2
// archive, not the zip one.
const DefaultArchiveURL = "http://www.gutenberg.org/cache/epub/feeds/rdf-files.tar.bz2"

// Client streams the published catalog archive. The configured URL may also
// name a local file holding the same bz2 tar format.
type Client struct {
	url    string
	client *http.Client
	logger library.Logger
}

// NewClient creates a catalog client. An empty url selects the published
// feed; a nil httpClient selects http.DefaultClient.
func NewClient(url string, httpClient *http.Client, logger library.Logger) *Client {
	if url == "" {
		url = DefaultArchiveURL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{url: url, client: httpClient, logger: logger}
}

// Each implements library.CatalogSource.
func (c *Client) Each(ctx context.Context, visit func(*model.Record) error) error {
	c.logger.Info("fetching catalog archive", "url", c.url)
	body, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer body.Close()
	return EachRecord(body, visit)
}

func (c *Client) open(ctx context.Context) (io.ReadCloser, error) {
	if !strings.Contains(c.url, "://") {
		f, err := os.Open(c.url)
		if err != nil {
			return nil, fmt.Errorf("opening catalog archive: %w", err)
		}
		return f, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("building catalog request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching catalog archive: %w", err)
	}
	if resp.StatusCode == http.StatusForbidden {
		resp.Body.Close()
		return nil, fmt.Errorf("catalog downloads blocked, retry tomorrow")
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("fetching catalog archive: unexpected status %s", resp.Status)
	}
	return resp.Body, nil
}

var _ library.CatalogSource = (*Client)(nil)
