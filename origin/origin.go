// Package origin resolves the network identity samples are collected from.
package origin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	DefaultURL   = "http://ipinfo.io/json"
	UnknownLabel = "Unknown ISP"
	FailedLabel  = "Failed to fetch ISP information"
)

// Client queries an ipinfo.io compatible endpoint for the "org" field.
type Client struct {
	url    string
	client *http.Client
}

func New(url string, timeout time.Duration) *Client {
	if url == "" {
		url = DefaultURL
	}
	return &Client{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

type response struct {
	Org *string `json:"org"`
}

// Lookup never fails: any error degrades to FailedLabel so sampling can
// start without the lookup service.
func (c *Client) Lookup(ctx context.Context) string {
	label, err := c.lookup(ctx)
	if err != nil {
		logrus.Warn("[ ORIGIN_FAIL ] ", err)
		return FailedLabel
	}
	return label
}

func (c *Client) lookup(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("bad status: %d", resp.StatusCode)
	}

	var r response
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return "", fmt.Errorf("decode %s: %w", c.url, err)
	}
	if r.Org == nil {
		return UnknownLabel, nil
	}
	return *r.Org, nil
}
