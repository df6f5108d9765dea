// Package meili provides a minimal Meilisearch search client for the person
// directory index.
package meili

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"

	"github.com/ibvi/lead-enrich/internal/resilience"
)

// Client defines the Meilisearch operations used by the directory tier.
type Client interface {
	Search(ctx context.Context, index string, req SearchRequest) (*SearchResponse, error)
}

// SearchRequest is the body of a Meilisearch search call.
type SearchRequest struct {
	Query  string `json:"q,omitempty"`
	Filter string `json:"filter,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

// SearchResponse is the parsed search result.
type SearchResponse struct {
	Hits               []Hit `json:"hits"`
	EstimatedTotalHits int   `json:"estimatedTotalHits"`
	ProcessingTimeMs   int   `json:"processingTimeMs"`
}

// Hit is one document from the person index.
type Hit struct {
	CPF    string   `json:"cpf"`
	Name   string   `json:"name"`
	Phones []string `json:"phones,omitempty"`
	Emails []string `json:"emails,omitempty"`
}

type httpClient struct {
	baseURL string
	key     string
	client  *http.Client
	retry   resilience.RetryConfig
}

// ClientOption configures the Meilisearch client.
type ClientOption func(*httpClient)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *httpClient) { c.client = hc }
}

// NewClient creates a Meilisearch client for the given instance.
func NewClient(baseURL, key string, opts ...ClientOption) Client {
	c := &httpClient{
		baseURL: baseURL,
		key:     key,
		client:  &http.Client{Timeout: 15 * time.Second},
		retry:   resilience.DefaultRetryConfig(),
	}
	c.retry.OnRetry = resilience.RetryLogger("meili", "search")
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) Search(ctx context.Context, index string, req SearchRequest) (*SearchResponse, error) {
	if index == "" {
		return nil, eris.New("meili: index is required")
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, eris.Wrap(err, "meili: marshal request")
	}

	endpoint := fmt.Sprintf("%s/indexes/%s/search", c.baseURL, url.PathEscape(index))

	return resilience.DoVal(ctx, c.retry, func(ctx context.Context) (*SearchResponse, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, eris.Wrap(err, "meili: create request")
		}
		httpReq.Header.Set("Content-Type", "application/json")
		if c.key != "" {
			httpReq.Header.Set("Authorization", "Bearer "+c.key)
		}

		resp, err := c.client.Do(httpReq)
		if err != nil {
			return nil, eris.Wrap(err, "meili: request")
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			io.Copy(io.Discard, resp.Body)
			statusErr := eris.New(fmt.Sprintf("meili: unexpected status %d", resp.StatusCode))
			if resilience.IsTransientHTTPStatus(resp.StatusCode) {
				return nil, resilience.NewTransientError(statusErr, resp.StatusCode)
			}
			return nil, statusErr
		}

		var out SearchResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, eris.Wrap(err, "meili: decode response")
		}
		return &out, nil
	})
}
