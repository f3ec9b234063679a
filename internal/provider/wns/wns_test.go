package wns

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTokenServer(t *testing.T) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		err := json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok-123",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
		require.NoError(t, err)
	}))
}

func TestSend_Success(t *testing.T) {
	tokenSrv := newTokenServer(t)
	defer tokenSrv.Close()

	var gotAuth string
	pushSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		assert.Equal(t, "wns/toast", r.Header.Get("X-WNS-Type"))
		w.WriteHeader(http.StatusOK)
	}))
	defer pushSrv.Close()

	p := New(Config{
		ClientID: "id", ClientSecret: "secret", TokenURL: tokenSrv.URL,
	})

	res := p.Send(context.Background(), pushSrv.URL, "title<>&", "body", nil)
	assert.True(t, res.Ok)
	assert.Equal(t, "Bearer tok-123", gotAuth)
}

func TestSend_EscapesXML(t *testing.T) {
	tokenSrv := newTokenServer(t)
	defer tokenSrv.Close()

	var gotBody string
	pushSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, 4096)
		n, _ := r.Body.Read(buf)
		gotBody = string(buf[:n])
		w.WriteHeader(http.StatusOK)
	}))
	defer pushSrv.Close()

	p := New(Config{ClientID: "id", ClientSecret: "secret", TokenURL: tokenSrv.URL})

	res := p.Send(context.Background(), pushSrv.URL, `<script>`, "body", nil)
	assert.True(t, res.Ok)
	assert.NotContains(t, gotBody, "<script>")
}

func TestSend_MapsUnauthorized(t *testing.T) {
	tokenSrv := newTokenServer(t)
	defer tokenSrv.Close()

	pushSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer pushSrv.Close()

	p := New(Config{ClientID: "id", ClientSecret: "secret", TokenURL: tokenSrv.URL})

	res := p.Send(context.Background(), pushSrv.URL, "t", "b", nil)
	assert.False(t, res.Ok)
	assert.False(t, res.Retryable)
}
