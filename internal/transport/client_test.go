package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/revu/internal/apperr"
	"github.com/joescharf/revu/internal/metrics"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(srv.URL, WithMetrics(metrics.New()))
	require.NoError(t, err)
	return c
}

func TestNew_RejectsBadBaseURL(t *testing.T) {
	for _, base := range []string{"", "localhost:8000", "ftp://example.com", "http://"} {
		_, err := New(base)
		assert.Error(t, err, "base %q", base)
	}
}

func TestNew_TrimsTrailingSlash(t *testing.T) {
	c, err := New("http://localhost:8000/")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8000", c.BaseURL())
}

func TestDo_Success(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/v1/results/abc", r.URL.Path)
		assert.Equal(t, "7", r.URL.Query().Get("days"))
		assert.Equal(t, "revu", r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	resp, err := c.Do(context.Background(), http.MethodGet, "/api/v1/results/abc?days=7", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	raw, err := resp.JSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(raw))
}

func TestDo_KeepsTrailingSlash(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/submissions/", r.URL.Path)
		_, _ = w.Write([]byte(`[]`))
	})
	_, err := c.Do(context.Background(), http.MethodGet, "/submissions/", nil)
	require.NoError(t, err)
}

func TestDo_HTTPError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"detail":"Submission not found"}`))
	})

	_, err := c.Do(context.Background(), http.MethodGet, "/api/v1/results/nope", nil)
	require.Error(t, err)

	var te *Error
	require.True(t, errors.As(err, &te))
	assert.Equal(t, KindHTTP, te.Kind)
	assert.Equal(t, http.StatusNotFound, te.HTTPStatus)
	assert.Equal(t, "Submission not found", te.Message)
	assert.True(t, errors.Is(err, apperr.ErrTransport))
	assert.True(t, IsStatus(err, http.StatusNotFound))
	assert.False(t, IsStatus(err, http.StatusInternalServerError))
}

func TestDo_HTTPErrorPlainBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, strings.Repeat("x", 2000), http.StatusBadGateway)
	})

	_, err := c.Do(context.Background(), http.MethodGet, "/health", nil)
	var te *Error
	require.True(t, errors.As(err, &te))
	assert.Equal(t, http.StatusBadGateway, te.HTTPStatus)
	assert.LessOrEqual(t, len(te.Message), maxErrorBody+3)
}

func TestDo_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	base := srv.URL
	srv.Close()

	c, err := New(base)
	require.NoError(t, err)

	_, err = c.Do(context.Background(), http.MethodGet, "/health", nil)
	var te *Error
	require.True(t, errors.As(err, &te))
	assert.Equal(t, KindNetwork, te.Kind)
	assert.Zero(t, te.HTTPStatus)
}

func TestDo_Canceled(t *testing.T) {
	release := make(chan struct{})
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.Do(ctx, http.MethodGet, "/slow", nil)
	var te *Error
	require.True(t, errors.As(err, &te))
	assert.Equal(t, KindCanceled, te.Kind)
}

func TestResponse_MalformedJSON(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"broken":`))
	})

	resp, err := c.Do(context.Background(), http.MethodGet, "/x", nil)
	require.NoError(t, err)

	_, err = resp.JSON()
	var te *Error
	require.True(t, errors.As(err, &te))
	assert.Equal(t, KindDecode, te.Kind)

	var v map[string]any
	err = resp.Decode(&v)
	require.True(t, errors.As(err, &te))
	assert.Equal(t, KindDecode, te.Kind)
}

func TestDo_Multipart(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "python", r.FormValue("language"))
		_, hasEmpty := r.MultipartForm.Value["empty"]
		assert.False(t, hasEmpty, "empty fields are omitted")

		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		assert.Equal(t, "main.py", hdr.Filename)
		data, _ := io.ReadAll(f)
		assert.Equal(t, "print('hi')\n", string(data))

		_, _ = w.Write([]byte(`{"submission_id":"s1"}`))
	})

	body := &Multipart{
		Fields:   map[string]string{"language": "python", "empty": ""},
		FileName: "main.py",
		File:     strings.NewReader("print('hi')\n"),
	}
	resp, err := c.Do(context.Background(), http.MethodPost, "/api/v1/submit", body)
	require.NoError(t, err)
	assert.Contains(t, string(resp.Body), "s1")
}
