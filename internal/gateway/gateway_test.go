package gateway

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nano-banana-studio/internal/gemini"
)

type fakeProvider struct {
	calls  int
	prompt string
	images []string
	reply  gemini.Response
	err    error
}

func (f *fakeProvider) Generate(_ context.Context, prompt string, images []string) (gemini.Response, error) {
	f.calls++
	f.prompt = prompt
	f.images = append([]string(nil), images...)
	return f.reply, f.err
}

type statusErr struct {
	code int
	msg  string
}

func (e statusErr) Error() string   { return e.msg }
func (e statusErr) StatusCode() int { return e.code }

var fixedNow = time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

func newTestGateway(p Provider) *Gateway {
	return New(Options{
		Provider: p,
		Now:      func() time.Time { return fixedNow },
		NewID:    func() string { return "img-1" },
	})
}

func TestGenerateSuccess(t *testing.T) {
	p := &fakeProvider{reply: gemini.Response{ImageData: "iVBOR", Text: "a red car at sunset"}}
	gw := newTestGateway(p)

	res, err := gw.Do(context.Background(), KindGenerate, Request{Prompt: " red car, sunset, 4k "})
	require.NoError(t, err)

	assert.Equal(t, "red car, sunset, 4k", p.prompt)
	assert.Empty(t, p.images)
	assert.Equal(t, "img-1", res.ID)
	assert.Equal(t, "red car, sunset, 4k", res.Prompt)
	assert.Equal(t, "a red car at sunset", res.Description)
	assert.Equal(t, []string{"red car", "sunset", "4k"}, res.Tags)
	assert.Equal(t, fixedNow, res.Timestamp)
	assert.Equal(t, "iVBOR", res.ImageData)
	assert.Zero(t, res.ImageCount)
}

func TestDataURIPrefixIsStripped(t *testing.T) {
	p := &fakeProvider{reply: gemini.Response{ImageData: "x"}}
	gw := newTestGateway(p)

	_, err := gw.Do(context.Background(), KindGenerate, Request{
		Prompt: "brighter",
		Images: []string{"data:image/png;base64,AAAA", "AQID"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"AAAA", "AQID"}, p.images)
}

func TestTextOnlyReplyIsFailure(t *testing.T) {
	p := &fakeProvider{reply: gemini.Response{Text: "here is a description instead"}}
	gw := newTestGateway(p)

	_, err := gw.Do(context.Background(), KindGenerate, Request{Prompt: "cat"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoImageReturned)

	var gwErr *Error
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, http.StatusInternalServerError, gwErr.Status())
	assert.Contains(t, gwErr.Details, "here is a description instead")
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name string
		kind Kind
		req  Request
	}{
		{name: "generate without prompt or images", kind: KindGenerate, req: Request{Prompt: "   "}},
		{name: "edit without image", kind: KindEdit, req: Request{Prompt: "x"}},
		{name: "edit with two images", kind: KindEdit, req: Request{Images: []string{"AAAA", "AAAA"}}},
		{name: "synthesize with one image", kind: KindSynthesize, req: Request{Images: []string{"AAAA"}}},
		{name: "unknown edit option", kind: KindGenerate, req: Request{Prompt: "x", EditOption: "crop"}},
		{name: "unknown mode", kind: KindGenerate, req: Request{Prompt: "x", Mode: "paint"}},
		{name: "empty image", kind: KindGenerate, req: Request{Images: []string{"data:image/png;base64,"}}},
		{name: "bad base64", kind: KindGenerate, req: Request{Images: []string{"@@@"}}},
		{name: "unknown kind", kind: Kind("upscale"), req: Request{Prompt: "x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakeProvider{reply: gemini.Response{ImageData: "x"}}
			_, err := newTestGateway(p).Do(context.Background(), tt.kind, tt.req)
			assert.ErrorIs(t, err, ErrInvalidRequest)
			assert.Zero(t, p.calls)
		})
	}
}

func TestInvalidRequestBeatsMissingCredential(t *testing.T) {
	gw := newTestGateway(nil)

	_, err := gw.Do(context.Background(), KindGenerate, Request{})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = gw.Do(context.Background(), KindGenerate, Request{Prompt: "cat"})
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.False(t, gw.Configured())
}

func TestProviderErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		want       *Error
		wantStatus int
	}{
		{name: "quota text", err: errors.New("Resource exhausted: check quota"), want: ErrQuotaExceeded, wantStatus: 429},
		{name: "429 status", err: statusErr{code: 429, msg: "too many"}, want: ErrQuotaExceeded, wantStatus: 429},
		{name: "api key text", err: errors.New("API key not valid. Please pass a valid API key."), want: ErrInvalidCredential, wantStatus: 401},
		{name: "403 status", err: statusErr{code: 403, msg: "permission denied"}, want: ErrInvalidCredential, wantStatus: 401},
		{name: "anything else", err: errors.New("model overloaded"), want: ErrUpstream, wantStatus: 500},
		{name: "timeout", err: context.DeadlineExceeded, want: ErrUpstream, wantStatus: 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := newTestGateway(&fakeProvider{err: tt.err})
			_, err := gw.Do(context.Background(), KindGenerate, Request{Prompt: "cat"})

			var gwErr *Error
			require.ErrorAs(t, err, &gwErr)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, tt.wantStatus, gwErr.Status())
			assert.ErrorIs(t, err, tt.err)
		})
	}

	gw := newTestGateway(&fakeProvider{err: errors.New("model overloaded")})
	_, err := gw.Do(context.Background(), KindGenerate, Request{Prompt: "cat"})
	assert.EqualError(t, err, "model overloaded")
}

func TestEditKind(t *testing.T) {
	p := &fakeProvider{reply: gemini.Response{ImageData: "x"}}
	gw := newTestGateway(p)

	res, err := gw.Do(context.Background(), KindEdit, Request{Prompt: "make the sky pink, add birds", Images: []string{"AAAA"}})
	require.NoError(t, err)
	assert.Equal(t, "Edit this image: make the sky pink, add birds", p.prompt)
	assert.Equal(t, []string{"make the sky pink", "add birds"}, res.Tags)
	assert.Equal(t, "Image edited successfully", res.Description)

	_, err = gw.Do(context.Background(), KindEdit, Request{Images: []string{"AAAA"}})
	require.NoError(t, err)
	assert.Equal(t, "Edit this image", p.prompt)
}

func TestSynthesizeKind(t *testing.T) {
	p := &fakeProvider{reply: gemini.Response{ImageData: "x"}}
	gw := newTestGateway(p)

	res, err := gw.Do(context.Background(), KindSynthesize, Request{Images: []string{"AAAA", "AAAA", "AAAA"}})
	require.NoError(t, err)
	assert.Equal(t, "Combine these 3 images naturally, maintaining the best aspects of each", p.prompt)
	assert.Equal(t, res.Prompt, p.prompt)
	assert.Equal(t, 3, res.ImageCount)
	assert.Equal(t, []string{"synthesis", "3-images"}, res.Tags)

	_, err = gw.Do(context.Background(), KindSynthesize, Request{Prompt: "collage", Images: []string{"AAAA", "AAAA"}})
	require.NoError(t, err)
	assert.Equal(t, "collage", p.prompt)
}

func TestGenerateAddsEditPhraseOnce(t *testing.T) {
	p := &fakeProvider{reply: gemini.Response{ImageData: "x"}}
	gw := newTestGateway(p)

	_, err := gw.Do(context.Background(), KindGenerate, Request{Prompt: "sharper", Images: []string{"AAAA"}, Mode: "edit", EditOption: "enhance"})
	require.NoError(t, err)
	assert.Equal(t, "enhance image quality, upscale, sharpen, sharper", p.prompt)

	_, err = gw.Do(context.Background(), KindGenerate, Request{Prompt: p.prompt, Images: []string{"AAAA"}, Mode: "edit", EditOption: "enhance"})
	require.NoError(t, err)
	assert.Equal(t, "enhance image quality, upscale, sharpen, sharper", p.prompt)
}

func TestStripDataURI(t *testing.T) {
	assert.Equal(t, "AAAA", StripDataURI("data:image/png;base64,AAAA"))
	assert.Equal(t, "AAAA", StripDataURI("AAAA"))
	assert.Equal(t, "", StripDataURI("data:image/jpeg;base64,"))
}
