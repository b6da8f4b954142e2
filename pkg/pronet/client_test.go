package pronet

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-engine/internal/resilience"
)

func TestSearchProfiles_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/profiles/search", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req SearchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "Ace Plumbing", req.Company)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"profiles":[
			{"url":"https://pro.example/jordan","name":"Jordan Diaz","title":"Owner","email":"jordan@ace.example","email_is_direct":true},
			{"url":"https://pro.example/sam","name":"Sam Lee","title":"Technician","email":"sam.lee@ace.example","email_is_direct":false}
		]}`))
	}))
	defer srv.Close()

	c := NewClient("test-key", WithBaseURL(srv.URL))
	resp, err := c.SearchProfiles(context.Background(), SearchRequest{Company: "Ace Plumbing", City: "Austin", State: "TX"})
	require.NoError(t, err)
	require.Len(t, resp.Profiles, 2)
	assert.True(t, resp.Profiles[0].EmailIsDirect)
	assert.False(t, resp.Profiles[1].EmailIsDirect)
}

func TestSearchProfiles_QuotaExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewClient("test-key", WithBaseURL(srv.URL))
	_, err := c.SearchProfiles(context.Background(), SearchRequest{Company: "Ace Plumbing"})
	require.Error(t, err)
	assert.True(t, resilience.IsQuota(err))
}

func TestSearchProfiles_ServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient("test-key", WithBaseURL(srv.URL))
	_, err := c.SearchProfiles(context.Background(), SearchRequest{Company: "Ace Plumbing"})
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
}
