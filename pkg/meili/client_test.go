package meili

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/indexes/persons/search", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req SearchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, `phones = "11999998888"`, req.Filter)
		assert.Equal(t, 1, req.Limit)

		w.Write([]byte(`{"hits":[{"cpf":"12345678901","name":"ANA SILVA","phones":["11999998888"]}],"estimatedTotalHits":1,"processingTimeMs":3}`)) //nolint:errcheck
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key")
	resp, err := c.Search(context.Background(), "persons", SearchRequest{Filter: `phones = "11999998888"`, Limit: 1})
	require.NoError(t, err)
	require.Len(t, resp.Hits, 1)
	assert.Equal(t, "12345678901", resp.Hits[0].CPF)
	assert.Equal(t, 1, resp.EstimatedTotalHits)
}

func TestSearchRequiresIndex(t *testing.T) {
	c := NewClient("http://localhost:7700", "")
	_, err := c.Search(context.Background(), "", SearchRequest{Query: "ana"})
	assert.Error(t, err)
}

func TestSearchNoAuthHeaderWithoutKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		w.Write([]byte(`{"hits":[]}`)) //nolint:errcheck
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	resp, err := c.Search(context.Background(), "persons", SearchRequest{Query: "ana"})
	require.NoError(t, err)
	assert.Empty(t, resp.Hits)
}

func TestSearchRetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"hits":[]}`)) //nolint:errcheck
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k")
	_, err := c.Search(context.Background(), "persons", SearchRequest{Query: "ana"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestSearchBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k")
	_, err := c.Search(context.Background(), "persons", SearchRequest{Query: "ana"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}
