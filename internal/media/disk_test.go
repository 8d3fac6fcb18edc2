package media

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpload_WritesFileAndReturnsURL(t *testing.T) {
	dir := t.TempDir()
	d, err := NewDisk(Config{Dir: dir, BaseURL: "http://localhost:5000/media/"})
	require.NoError(t, err)

	payload := []byte("\x89PNG fake image")
	url, err := d.Upload(context.Background(), "data:image/png;base64,"+base64.StdEncoding.EncodeToString(payload))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(url, "http://localhost:5000/media/"), url)
	require.True(t, strings.HasSuffix(url, ".png"), url)

	name := strings.TrimPrefix(url, "http://localhost:5000/media/")
	got, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	srv := httptest.NewServer(http.StripPrefix("/media", d.Handler()))
	defer srv.Close()
	resp, err := http.Get(srv.URL + "/media/" + name)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestUpload_RejectsBadDataURLs(t *testing.T) {
	d, err := NewDisk(Config{Dir: t.TempDir(), BaseURL: "/media"})
	require.NoError(t, err)

	for _, in := range []string{
		"https://example.com/a.png",
		"data:image/png,not-base64-flagged",
		"data:text/plain;base64,aGVsbG8=",
		"data:image/png;base64,!!!",
		"data:image/png;base64,",
	} {
		_, err := d.Upload(context.Background(), in)
		assert.ErrorIs(t, err, ErrUnsupported, in)
	}
}

func TestUpload_CancelledContext(t *testing.T) {
	d, err := NewDisk(Config{Dir: t.TempDir(), BaseURL: "/media"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = d.Upload(ctx, "data:image/png;base64,AAAA")
	assert.ErrorIs(t, err, context.Canceled)
}
