package gemini

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dustin/go-humanize"
	"google.golang.org/genai"
)

const (
	DefaultModel = "gemini-2.5-flash-image"
	inputMIME    = "image/png"
)

var ErrNoAPIKey = errors.New("gemini API key is empty")

type Options struct {
	APIKey     string
	BaseURL    string
	APIVersion string
	Model      string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

type Response struct {
	ImageData string // base64
	MIMEType  string
	Text      string
}

// APIError carries the HTTP status reported by the Gemini API.
type APIError struct {
	Code    int
	Status  string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gemini API %d %s: %s", e.Code, e.Status, e.Message)
}

func (e *APIError) StatusCode() int { return e.Code }

type Client struct {
	models *genai.Models
	model  string
	logger *slog.Logger
}

func New(ctx context.Context, opts Options) (*Client, error) {
	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}

	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = DefaultModel
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	cfg := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: opts.HTTPClient,
		HTTPOptions: genai.HTTPOptions{
			BaseURL:    strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"),
			APIVersion: strings.TrimSpace(opts.APIVersion),
		},
	}
	if cfg.HTTPOptions.BaseURL != "" {
		cfg.HTTPOptions.BaseURL += "/"
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	return &Client{
		models: client.Models,
		model:  model,
		logger: logger,
	}, nil
}

// Generate sends the images (raw base64, no data URI prefix) as inline PNG
// parts followed by the prompt, and returns the last image and text parts of
// the first candidate.
func (c *Client) Generate(ctx context.Context, prompt string, images []string) (Response, error) {
	parts, total, err := buildParts(prompt, images)
	if err != nil {
		return Response{}, err
	}

	c.logger.Debug("gemini generate", "model", c.model, "images", len(images), "payload", humanize.Bytes(uint64(total)))

	resp, err := c.models.GenerateContent(ctx, c.model,
		[]*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)},
		&genai.GenerateContentConfig{
			Temperature:        genai.Ptr[float32](1),
			TopP:               genai.Ptr[float32](0.95),
			TopK:               genai.Ptr[float32](40),
			ResponseModalities: []string{"IMAGE", "TEXT"},
		},
	)
	if err != nil {
		return Response{}, wrapAPIError(err)
	}

	out := extractParts(resp)
	c.logger.Debug("gemini reply", "model", c.model, "has_image", out.ImageData != "", "text_len", len(out.Text))
	return out, nil
}

func buildParts(prompt string, images []string) ([]*genai.Part, int, error) {
	parts := make([]*genai.Part, 0, len(images)+1)
	total := 0
	for i, img := range images {
		data, err := decodeBase64(img)
		if err != nil {
			return nil, 0, fmt.Errorf("decode image %d: %w", i+1, err)
		}
		total += len(data)
		parts = append(parts, &genai.Part{InlineData: &genai.Blob{MIMEType: inputMIME, Data: data}})
	}
	parts = append(parts, genai.NewPartFromText(prompt))
	return parts, total, nil
}

func extractParts(resp *genai.GenerateContentResponse) Response {
	var out Response
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return out
	}

	for _, p := range resp.Candidates[0].Content.Parts {
		if p == nil || p.Thought {
			continue
		}
		if p.InlineData != nil && len(p.InlineData.Data) > 0 {
			out.ImageData = base64.StdEncoding.EncodeToString(p.InlineData.Data)
			out.MIMEType = p.InlineData.MIMEType
		}
		if p.Text != "" {
			out.Text = p.Text
		}
	}
	return out
}

func wrapAPIError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &APIError{Code: apiErr.Code, Status: apiErr.Status, Message: apiErr.Message}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return &APIError{Code: apiErrPtr.Code, Status: apiErrPtr.Status, Message: apiErrPtr.Message}
	}
	return fmt.Errorf("gemini request: %w", err)
}

func decodeBase64(value string) ([]byte, error) {
	value = strings.TrimSpace(value)
	if data, err := base64.StdEncoding.DecodeString(value); err == nil {
		return data, nil
	}
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(value, "="))
}
