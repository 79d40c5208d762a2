// Package wiki reads the file share path table from a Confluence page.
package wiki

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"fileglancer/config"
	"fileglancer/fsp"
	"fileglancer/logutils"
)

var ErrPageNotFound = errors.New("confluence page not found")

// Confluence is an fsp.Source backed by the Confluence REST API.
type Confluence struct {
	cfg    config.ConfluenceConfig
	client *http.Client
}

func New(cfg config.ConfluenceConfig) *Confluence {
	return &Confluence{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

type contentResponse struct {
	Results []struct {
		ID   string `json:"id"`
		Body struct {
			View struct {
				Value string `json:"value"`
			} `json:"view"`
		} `json:"body"`
		History struct {
			LastUpdated *struct {
				When string `json:"when"`
			} `json:"lastUpdated"`
		} `json:"history"`
	} `json:"results"`
}

// Fetch downloads the configured page and parses its first table.
func (c *Confluence) Fetch(ctx context.Context) (*fsp.Table, error) {
	q := url.Values{}
	q.Set("spaceKey", c.cfg.Space)
	q.Set("title", c.cfg.Page)
	q.Set("expand", "body.view,history.lastUpdated")
	endpoint := c.cfg.URL + "/rest/api/content?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return nil, err
	}
	if c.cfg.Username != "" {
		req.SetBasicAuth(c.cfg.Username, c.cfg.Token)
	} else if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("confluence returned %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}

	var content contentResponse
	if err := json.NewDecoder(resp.Body).Decode(&content); err != nil {
		return nil, fmt.Errorf("decode confluence response: %w", err)
	}
	if len(content.Results) == 0 {
		return nil, fmt.Errorf("%w: %q in space %s", ErrPageNotFound, c.cfg.Page, c.cfg.Space)
	}
	page := content.Results[0]

	rows, err := ParseTable(strings.NewReader(page.Body.View.Value))
	if err != nil {
		return nil, fmt.Errorf("page %s: %w", page.ID, err)
	}

	table := &fsp.Table{Rows: rows}
	if lu := page.History.LastUpdated; lu != nil && lu.When != "" {
		when, err := time.Parse(time.RFC3339, lu.When)
		if err != nil {
			return nil, fmt.Errorf("page %s: last updated: %w", page.ID, err)
		}
		when = when.UTC()
		table.LastUpdated = &when
	}

	logutils.Log.WithFields(logutils.Fields{
		"page": page.ID,
		"rows": len(rows),
	}).Debug("Fetched file share paths from confluence")
	return table, nil
}
