package httpclient

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggingTransportHidesPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	client := New(Options{Timeout: 5 * time.Second, Logger: logger})

	resp, err := client.Post(srv.URL+"/bot123:SECRET/getMe", "text/plain", strings.NewReader("hello"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	out := buf.String()
	assert.Contains(t, out, "outbound request")
	assert.Contains(t, out, "status=200")
	assert.Contains(t, out, "sent=\"5 B\"")
	assert.NotContains(t, out, "SECRET")
}

func TestDefaultTimeout(t *testing.T) {
	assert.Equal(t, 180*time.Second, New(Options{}).Timeout)
}
