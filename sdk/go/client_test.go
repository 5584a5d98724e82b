package docfishsdk

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextSendsDefaultsAndTeam(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/collections/x/next", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("X-Api-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"current":{"id":"t1","uid":"i1","kind":"image"},"next":{"id":"t2"},"exhausted":false}`))
	}))
	defer srv.Close()

	c := New(srv.URL+"/v1/", "key")
	c.TeamID = "radiology"
	a, err := c.Next(context.Background(), "x", NextOptions{})
	require.NoError(t, err)
	require.NotNil(t, a.Current)
	assert.Equal(t, "t1", a.Current.ID)
	require.NotNil(t, a.Next)
	assert.Equal(t, "t2", a.Next.ID)
	assert.Equal(t, "annotation", got["task"])
	assert.Equal(t, "image", got["kind"])
	assert.Equal(t, "radiology", got["team_id"])
}

func TestClearAddsTeamQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/collections/x/targets/t1/annotations", r.URL.Path)
		assert.Equal(t, "radiology", r.URL.Query().Get("team_id"))
		assert.Equal(t, "Bearer jwt", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"cleared":true}`))
	}))
	defer srv.Close()

	c := &Client{BaseURL: srv.URL, BearerToken: "jwt", APIKey: "ignored", TeamID: "radiology"}
	ok, err := c.Clear(context.Background(), "x", "t1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestErrorEnvelopeDecoded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":{"code":"invalid_label","message":"label finding:maybe is not in the vocabulary"}}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "key")
	_, err := c.Apply(context.Background(), "x", "t1", Selection{Name: "finding", Label: "maybe"})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
	assert.Equal(t, "invalid_label", apiErr.Code)
	assert.Contains(t, apiErr.Error(), "invalid_label")
}
