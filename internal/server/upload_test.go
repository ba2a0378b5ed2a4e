package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/invoice-pipeline/internal/filestore"
	"github.com/joseph-ayodele/invoice-pipeline/internal/ingest"
	"github.com/joseph-ayodele/invoice-pipeline/internal/queue"
)

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, string) error {
	return errors.New("connection refused")
}

type env struct {
	layout filestore.Layout
	queue  *queue.Memory
	srv    *httptest.Server
}

func newEnv(t *testing.T, pub queue.Publisher, maxBytes int64) env {
	t.Helper()
	root := t.TempDir()
	l := filestore.NewLayout(filepath.Join(root, "inbox"), filepath.Join(root, "processed"), filepath.Join(root, "unprocessed"))
	require.NoError(t, l.Init())
	q := queue.NewMemory(1)
	if pub == nil {
		pub = q
	}
	h := NewHandler(ingest.NewGateway(l, pub, nil, nil), maxBytes, nil, WithHealthCheck("broker", q))
	srv := httptest.NewServer(h.Routes())
	t.Cleanup(srv.Close)
	return env{layout: l, queue: q, srv: srv}
}

func multipartBody(t *testing.T, field, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if filename == "" {
		require.NoError(t, mw.WriteField(field, string(content)))
	} else {
		fw, err := mw.CreateFormFile(field, filename)
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func post(t *testing.T, e env, body io.Reader, contentType string) (int, map[string]string) {
	t.Helper()
	resp, err := http.Post(e.srv.URL+"/upload", contentType, body)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
	var out map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func pendingCount(t *testing.T, l filestore.Layout) int {
	t.Helper()
	entries, err := os.ReadDir(l.Pending)
	require.NoError(t, err)
	n := 0
	for _, e := range entries {
		if !filestore.IsHidden(e.Name()) {
			n++
		}
	}
	return n
}

func TestUpload_Accepted(t *testing.T) {
	e := newEnv(t, nil, 1<<20)
	body, ct := multipartBody(t, "file", "invoice 7.JPG", []byte("jpeg bytes"))

	status, out := post(t, e, body, ct)

	require.Equal(t, http.StatusOK, status)
	stored := out["filename"]
	assert.True(t, strings.HasSuffix(stored, "_invoice_7.jpg"), stored)
	assert.Equal(t, stored+" uploaded and queued", out["message"])
	assert.FileExists(t, e.layout.PendingPath(stored))
	assert.Equal(t, 1, e.queue.Pending())
}

func TestUpload_ClientErrors(t *testing.T) {
	tests := []struct {
		name     string
		field    string
		filename string
		content  string
		want     string
	}{
		{"missing part", "document", "a.png", "x", "No file part in request"},
		{"empty filename", "file", "", "x", "No selected file"},
		{"unsupported type", "file", "report.pdf", "%PDF", "Unsupported file type"},
		{"empty file", "file", "a.png", "", "Uploaded file is empty"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t, nil, 1<<20)
			body, ct := multipartBody(t, tt.field, tt.filename, []byte(tt.content))

			status, out := post(t, e, body, ct)

			assert.Equal(t, http.StatusBadRequest, status)
			assert.Equal(t, tt.want, out["error"])
			assert.Equal(t, 0, pendingCount(t, e.layout))
			assert.Equal(t, 0, e.queue.Pending())
		})
	}
}

func TestUpload_NotMultipart(t *testing.T) {
	e := newEnv(t, nil, 1<<20)
	status, out := post(t, e, strings.NewReader(`{"file":"a.png"}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "No file part in request", out["error"])
}

func TestUpload_DispatchFailureIsServerError(t *testing.T) {
	e := newEnv(t, failingPublisher{}, 1<<20)
	body, ct := multipartBody(t, "file", "a.png", []byte("png"))

	status, out := post(t, e, body, ct)

	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "Failed to send to queue", out["error"])
	assert.Equal(t, 1, pendingCount(t, e.layout), "artifact is left for the sweeper")
	unqueued, err := e.layout.Unqueued()
	require.NoError(t, err)
	assert.Len(t, unqueued, 1)
}

func TestUpload_TooLarge(t *testing.T) {
	e := newEnv(t, nil, 512)
	body, ct := multipartBody(t, "file", "big.png", bytes.Repeat([]byte("x"), 4096))

	status, _ := post(t, e, body, ct)

	assert.Equal(t, http.StatusRequestEntityTooLarge, status)
	assert.Equal(t, 0, pendingCount(t, e.layout))
}

func TestHealthz(t *testing.T) {
	e := newEnv(t, nil, 1<<20)
	status, out := getJSON(t, e.srv.URL+"/healthz")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", out["status"])
	assert.Equal(t, map[string]any{"broker": "ok"}, out["checks"])

	resp, err := http.Get(e.srv.URL + "/upload")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestHealthz_BrokerDown(t *testing.T) {
	e := newEnv(t, nil, 1<<20)
	require.NoError(t, e.queue.Close())

	status, out := getJSON(t, e.srv.URL+"/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "down", out["status"])
	assert.Equal(t, map[string]any{"broker": "down"}, out["checks"])
}

func getJSON(t *testing.T, url string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}
