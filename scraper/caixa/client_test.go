package caixa

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imovel-scraper/config"
	"imovel-scraper/utils"
)

func testConfig(base string) *config.Config {
	return &config.Config{
		BaseURL:      base,
		FetchTimeout: 2 * time.Second,
		UserAgent:    "test-agent",
	}
}

func TestClientSendsBrowserHeaders(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<html><body>ok</body></html>"))
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL), utils.NewNopLogger())
	page, err := c.Fetch(context.Background(), srv.URL+"/detalhe")
	require.NoError(t, err)

	assert.Equal(t, 200, page.Status)
	assert.Equal(t, "test-agent", got.Get("User-Agent"))
	assert.Equal(t, "pt-BR,pt;q=0.9,en;q=0.8", got.Get("Accept-Language"))
	assert.Equal(t, srv.URL, got.Get("Referer"))
}

func TestClientExtraHeadersOverride(t *testing.T) {
	var agent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agent = r.Header.Get("User-Agent")
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL), utils.NewNopLogger())
	_, err := c.FetchWithHeaders(context.Background(), srv.URL, http.Header{"User-Agent": {"other"}})
	require.NoError(t, err)
	assert.Equal(t, "other", agent)
}

func TestClientNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL), utils.NewNopLogger())
	_, err := c.Fetch(context.Background(), srv.URL)
	require.Error(t, err)

	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, http.StatusServiceUnavailable, fe.Status)
}

func TestClientTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.FetchTimeout = 20 * time.Millisecond
	c := NewClient(cfg, utils.NewNopLogger())

	_, err := c.Fetch(context.Background(), srv.URL)
	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.Zero(t, fe.Status)
}

func TestPageHTMLDecodesLatin1(t *testing.T) {
	page := &Page{
		URL:         "x",
		ContentType: "text/html; charset=iso-8859-1",
		Body:        []byte("<p>Matr\xedcula</p>"),
	}
	html, err := page.HTML()
	require.NoError(t, err)
	assert.Equal(t, "<p>Matrícula</p>", html)
}
