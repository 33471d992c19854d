package web

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nano-banana-studio/internal/gateway"
	"nano-banana-studio/internal/session"
	"nano-banana-studio/internal/wizard"
)

// tinyPNG is a 1x1 transparent PNG.
const tinyPNG = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAQAAAC1HAwCAAAAC0lEQVR42mNkYAAAAAYAAjCB0C8AAAAASUVORK5CYII="

type fakeGenerator struct {
	mu    sync.Mutex
	kinds []gateway.Kind
	reqs  []gateway.Request
	err   error
}

func (f *fakeGenerator) Do(_ context.Context, kind gateway.Kind, req gateway.Request) (gateway.Result, error) {
	f.mu.Lock()
	f.kinds = append(f.kinds, kind)
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()

	if f.err != nil {
		return gateway.Result{}, f.err
	}
	res := gateway.Result{
		Kind:        kind,
		ID:          "img-1",
		Prompt:      req.Prompt,
		Description: "a picture",
		Tags:        []string{"a", "b"},
		Timestamp:   time.UnixMilli(1760529600000),
		ImageData:   tinyPNG,
	}
	if kind == gateway.KindSynthesize {
		res.ImageCount = len(req.Images)
	}
	return res, nil
}

func (f *fakeGenerator) last() gateway.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reqs[len(f.reqs)-1]
}

type testClient struct {
	t    *testing.T
	srv  *httptest.Server
	http *http.Client
}

func newTestServer(t *testing.T, gen *fakeGenerator) *testClient {
	t.Helper()

	var g wizard.Generator
	if gen != nil {
		g = gen
	}
	s := New(Options{Generator: g, Sessions: session.NewStore(session.Options{})})
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &testClient{t: t, srv: srv, http: &http.Client{Jar: jar, Timeout: 5 * time.Second}}
}

func (c *testClient) do(method, path string, body any) (int, map[string]any) {
	c.t.Helper()

	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(c.t, err)
		rdr = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, c.srv.URL+path, rdr)
	require.NoError(c.t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(c.t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func wizardField(t *testing.T, body map[string]any, key string) any {
	t.Helper()
	wiz, ok := body["wizard"].(map[string]any)
	require.True(t, ok, "response has no wizard view: %v", body)
	return wiz[key]
}

func TestGenerateEndpoint(t *testing.T) {
	gen := &fakeGenerator{}
	c := newTestServer(t, gen)

	status, body := c.do(http.MethodPost, "/api/generate", map[string]any{"prompt": "a cat", "images": []string{}})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "img-1", body["id"])
	assert.Equal(t, float64(1760529600000), body["timestamp"])
	assert.Equal(t, tinyPNG, body["imageData"])
	assert.NotContains(t, body, "imageCount")
}

func TestEditEndpointAcceptsSingleImageField(t *testing.T) {
	gen := &fakeGenerator{}
	c := newTestServer(t, gen)

	status, _ := c.do(http.MethodPost, "/api/edit", map[string]any{"prompt": "pink sky", "image": "data:image/png;base64,AAAA"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, []string{"data:image/png;base64,AAAA"}, gen.last().Images)
	assert.Equal(t, gateway.KindEdit, gen.kinds[0])
}

func TestSynthesizeEndpointReportsCount(t *testing.T) {
	c := newTestServer(t, &fakeGenerator{})

	status, body := c.do(http.MethodPost, "/api/synthesize", map[string]any{"images": []string{"AAAA", "AAAA"}})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(2), body["imageCount"])
}

func TestGatewayErrorsKeepStatus(t *testing.T) {
	gen := &fakeGenerator{err: &gateway.Error{Code: gateway.CodeQuotaExceeded, Message: "API quota exceeded", Details: "429 RESOURCE_EXHAUSTED"}}
	c := newTestServer(t, gen)

	status, body := c.do(http.MethodPost, "/api/generate", map[string]any{"prompt": "cat"})
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, "API quota exceeded", body["error"])
	assert.Equal(t, "429 RESOURCE_EXHAUSTED", body["details"])
}

func TestMissingGeneratorIsConfigurationError(t *testing.T) {
	c := newTestServer(t, nil)

	status, body := c.do(http.MethodPost, "/api/generate", map[string]any{"prompt": "cat"})
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "Gemini API key not configured", body["error"])
}

func TestBadJSON(t *testing.T) {
	c := newTestServer(t, &fakeGenerator{})

	resp, err := c.http.Post(c.srv.URL+"/api/generate", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSessionCookieIsStable(t *testing.T) {
	c := newTestServer(t, nil)

	_, first := c.do(http.MethodGet, "/api/session", nil)
	_, second := c.do(http.MethodGet, "/api/session", nil)
	assert.NotEmpty(t, first["id"])
	assert.Equal(t, first["id"], second["id"])
	assert.Equal(t, "choose-mode", wizardField(t, first, "step"))
}

func TestWizardCreateFlowOverHTTP(t *testing.T) {
	gen := &fakeGenerator{}
	c := newTestServer(t, gen)

	status, body := c.do(http.MethodPost, "/api/wizard/advance", nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.NotEmpty(t, body["session"])

	status, body = c.do(http.MethodPost, "/api/wizard/mode", map[string]string{"mode": "create"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "template", wizardField(t, body, "step"))

	status, _ = c.do(http.MethodPost, "/api/wizard/mode", map[string]string{"mode": "paint"})
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = c.do(http.MethodPost, "/api/wizard/template", map[string]string{"templateId": "wallpaper"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "wallpaper", body["templateId"])

	status, _ = c.do(http.MethodPost, "/api/wizard/advance", nil)
	require.Equal(t, http.StatusOK, status)

	status, body = c.do(http.MethodPost, "/api/prompt/fragments", map[string]string{"value": "at night"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, []any{"at night"}, body["selectedFragments"])

	status, _ = c.do(http.MethodPost, "/api/prompt/fragments", map[string]string{"id": "no-such-fragment"})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = c.do(http.MethodPut, "/api/prompt/text", map[string]string{"text": "mountains"})
	require.Equal(t, http.StatusOK, status)

	status, body = c.do(http.MethodPost, "/api/wizard/advance", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "results", wizardField(t, body, "step"))
	assert.Equal(t, true, wizardField(t, body, "canGenerate"))

	status, body = c.do(http.MethodPost, "/api/wizard/advance", nil)
	require.Equal(t, http.StatusOK, status)
	assert.True(t, strings.HasSuffix(gen.last().Prompt, ", at night, mountains"))

	history := body["history"].([]any)
	require.Len(t, history, 1)
	current := body["current"].(map[string]any)
	assert.Equal(t, "img-1", current["id"])
	assert.Equal(t, "/api/history/img-1/image", current["imageUrl"])

	status, body = c.do(http.MethodPost, "/api/wizard/reset", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "choose-mode", wizardField(t, body, "step"))
	assert.Len(t, body["history"], 1)
}

func TestWizardGenerationFailureReturnsSession(t *testing.T) {
	gen := &fakeGenerator{err: &gateway.Error{Code: gateway.CodeInvalidCredential, Message: "the Gemini API key was rejected"}}
	c := newTestServer(t, gen)

	c.do(http.MethodPost, "/api/wizard/mode", map[string]string{"mode": "create"})
	c.do(http.MethodPost, "/api/wizard/skip", nil)
	c.do(http.MethodPut, "/api/prompt/text", map[string]string{"text": "cat"})
	c.do(http.MethodPost, "/api/wizard/advance", nil)

	status, body := c.do(http.MethodPost, "/api/wizard/advance", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	sess := body["session"].(map[string]any)
	assert.Equal(t, "the Gemini API key was rejected", sess["lastError"])
	assert.Equal(t, false, sess["generating"])
}

func TestUploadsAndDownload(t *testing.T) {
	c := newTestServer(t, &fakeGenerator{})

	c.do(http.MethodPost, "/api/wizard/mode", map[string]string{"mode": "edit"})

	status, _ := c.do(http.MethodPost, "/api/wizard/edit-option", map[string]string{"editOption": "crop"})
	assert.Equal(t, http.StatusBadRequest, status)
	status, _ = c.do(http.MethodPost, "/api/wizard/edit-option", map[string]string{"editOption": "remove-bg"})
	require.Equal(t, http.StatusOK, status)
	c.do(http.MethodPost, "/api/wizard/advance", nil)

	raw, err := base64.StdEncoding.DecodeString(tinyPNG)
	require.NoError(t, err)
	var form bytes.Buffer
	mw := multipart.NewWriter(&form)
	fw, err := mw.CreateFormFile("image", "dot.png")
	require.NoError(t, err)
	_, err = fw.Write(raw)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, err := c.http.Post(c.srv.URL+"/api/images", mw.FormDataContentType(), &form)
	require.NoError(t, err)
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	uploads := body["uploadedImages"].([]any)
	require.Len(t, uploads, 1)
	assert.True(t, strings.HasPrefix(uploads[0].(string), "data:image/png;base64,"))
	assert.Equal(t, true, wizardField(t, body, "canAdvance"))

	status, _ = c.do(http.MethodDelete, "/api/images/5", nil)
	assert.Equal(t, http.StatusNotFound, status)
	status, _ = c.do(http.MethodDelete, "/api/images/x", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = c.do(http.MethodPost, "/api/wizard/advance", nil)
	require.Equal(t, http.StatusOK, status)
	c.do(http.MethodPost, "/api/wizard/skip", nil)
	c.do(http.MethodPut, "/api/prompt/text", map[string]string{"text": "Product Shot!"})
	c.do(http.MethodPost, "/api/wizard/advance", nil)
	status, _ = c.do(http.MethodPost, "/api/wizard/advance", nil)
	require.Equal(t, http.StatusOK, status)

	dl, err := c.http.Get(c.srv.URL + "/api/history/img-1/image")
	require.NoError(t, err)
	defer dl.Body.Close()
	require.Equal(t, http.StatusOK, dl.StatusCode)
	assert.Equal(t, "image/png", dl.Header.Get("Content-Type"))
	assert.Equal(t, `attachment; filename="remove-background-transparent-background-product-shot.png"`, dl.Header.Get("Content-Disposition"))
	got, err := io.ReadAll(dl.Body)
	require.NoError(t, err)
	assert.Equal(t, raw, got)

	status, _ = c.do(http.MethodPost, "/api/history/nope/select", nil)
	assert.Equal(t, http.StatusNotFound, status)
	status, _ = c.do(http.MethodPost, "/api/history/img-1/select", nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestCatalogEndpoint(t *testing.T) {
	c := newTestServer(t, nil)

	status, body := c.do(http.MethodGet, "/api/catalog", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["editOperations"], 8)
	assert.NotEmpty(t, body["categories"])
	assert.NotEmpty(t, body["templates"])
}

func TestEventsStreamChanges(t *testing.T) {
	c := newTestServer(t, nil)
	c.do(http.MethodGet, "/api/session", nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.srv.URL+"/api/session/events", nil)
	require.NoError(t, err)
	resp, err := c.http.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := make(chan map[string]any, 4)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for sc.Scan() {
			line := sc.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var v map[string]any
			if json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &v) == nil {
				events <- v
			}
		}
	}()

	first := <-events
	assert.Equal(t, "choose-mode", wizardField(t, first, "step"))

	c.do(http.MethodPost, "/api/wizard/mode", map[string]string{"mode": "create"})

	select {
	case ev := <-events:
		assert.Equal(t, "create", wizardField(t, ev, "mode"))
	case <-time.After(2 * time.Second):
		t.Fatal("no event after mode change")
	}
}

func TestRecoverMiddleware(t *testing.T) {
	h := withRecover(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}), New(Options{}).logger)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "internal server error")
}

func TestStaticIndex(t *testing.T) {
	c := newTestServer(t, nil)

	resp, err := c.http.Get(c.srv.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	page, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(page), "Nano Banana Studio")
}
