// Package directd provides a client for the DirectData person API: CPF
// discovery by phone or email, and full person records by CPF.
package directd

import (
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

// Client defines the DirectData operations used by the enrichment engine.
type Client interface {
	// DiscoverByPhone returns the best CPF match for a digits-only phone,
	// or nil when the provider has no match.
	DiscoverByPhone(ctx context.Context, phone string) (*Discovery, error)
	// DiscoverByEmail returns the best CPF match for an email, or nil.
	DiscoverByEmail(ctx context.Context, email string) (*Discovery, error)
	// FetchPerson returns the full person record for a CPF, or nil when the
	// provider holds no data for it.
	FetchPerson(ctx context.Context, cpf string) (*PersonRecord, error)
}

// Discovery is a CPF discovery result.
type Discovery struct {
	CPF   string  `json:"cpf"`
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

// PersonRecord is the wire shape of a full person lookup.
type PersonRecord struct {
	CPF            string    `json:"cpf"`
	Name           string    `json:"name"`
	BirthDate      string    `json:"birth_date,omitempty"` // YYYY-MM-DD
	Sex            string    `json:"sex,omitempty"`
	Income         *float64  `json:"income,omitempty"`
	PresumedIncome *float64  `json:"presumed_income,omitempty"`
	Occupation     string    `json:"occupation,omitempty"`
	MaritalStatus  string    `json:"marital_status,omitempty"`
	Phones         []string  `json:"phones,omitempty"`
	Emails         []string  `json:"emails,omitempty"`
	Addresses      []Address `json:"addresses,omitempty"`
}

// Address is a postal address in a person record.
type Address struct {
	Street       string `json:"street,omitempty"`
	Number       string `json:"number,omitempty"`
	Complement   string `json:"complement,omitempty"`
	Neighborhood string `json:"neighborhood,omitempty"`
	City         string `json:"city,omitempty"`
	State        string `json:"state,omitempty"`
	ZipCode      string `json:"zip_code,omitempty"`
}

type httpClient struct {
	baseURL string
	key     string
	client  *http.Client
	retry   resilience.RetryConfig
}

// ClientOption configures the DirectData client.
type ClientOption func(*httpClient)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *httpClient) { c.client = hc }
}

// WithRetryConfig overrides the call-level retry behavior.
func WithRetryConfig(cfg resilience.RetryConfig) ClientOption {
	return func(c *httpClient) { c.retry = cfg }
}

// NewClient creates a DirectData client.
func NewClient(baseURL, key string, opts ...ClientOption) Client {
	c := &httpClient{
		baseURL: baseURL,
		key:     key,
		client:  &http.Client{Timeout: 60 * time.Second},
		retry:   resilience.DefaultRetryConfig(),
	}
	c.retry.OnRetry = resilience.RetryLogger("directd", "get")
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) DiscoverByPhone(ctx context.Context, phone string) (*Discovery, error) {
	return c.discover(ctx, url.Values{"phone": {phone}})
}

func (c *httpClient) DiscoverByEmail(ctx context.Context, email string) (*Discovery, error) {
	return c.discover(ctx, url.Values{"email": {email}})
}

func (c *httpClient) discover(ctx context.Context, params url.Values) (*Discovery, error) {
	body, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) ([]byte, error) {
		return c.get(ctx, "/person/discover?"+params.Encode())
	})
	if err != nil {
		return nil, err
	}
	if body == nil {
		return nil, nil
	}

	var d Discovery
	if err := json.Unmarshal(body, &d); err != nil {
		return nil, eris.Wrap(err, "directd: decode discovery")
	}
	if d.CPF == "" {
		return nil, nil
	}
	return &d, nil
}

func (c *httpClient) FetchPerson(ctx context.Context, cpf string) (*PersonRecord, error) {
	body, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) ([]byte, error) {
		return c.get(ctx, "/person/"+url.PathEscape(cpf))
	})
	if err != nil {
		return nil, err
	}
	if body == nil {
		return nil, nil
	}

	var p PersonRecord
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, eris.Wrap(err, "directd: decode person")
	}
	return &p, nil
}

// get performs an authenticated GET. A 404 yields (nil, nil): "no data" is a
// valid answer from this provider, not an error.
func (c *httpClient) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, eris.Wrap(err, "directd: create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.key)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "directd: request")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		io.Copy(io.Discard, resp.Body)
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		err := eris.New(fmt.Sprintf("directd: unexpected status %d", resp.StatusCode))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "directd: read body")
	}
	return body, nil
}
