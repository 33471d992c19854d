package gateway

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"nano-banana-studio/internal/catalog"
	"nano-banana-studio/internal/gemini"
	"nano-banana-studio/internal/prompt"
)

type Kind string

const (
	KindGenerate   Kind = "generate"
	KindEdit       Kind = "edit"
	KindSynthesize Kind = "synthesize"
)

// Provider is the image model. Images are raw base64 without a data URI prefix.
type Provider interface {
	Generate(ctx context.Context, prompt string, images []string) (gemini.Response, error)
}

type Request struct {
	Prompt     string   `json:"prompt"`
	Images     []string `json:"images"`
	Mode       string   `json:"mode,omitempty"`
	EditOption string   `json:"editOption,omitempty"`
}

type Result struct {
	Kind        Kind
	ID          string
	Prompt      string
	Description string
	Tags        []string
	Timestamp   time.Time
	ImageData   string
	ImageCount  int
}

type Options struct {
	// Provider may be nil when no credential is configured; every call then
	// fails with ConfigurationError.
	Provider Provider
	Logger   *slog.Logger
	Now      func() time.Time
	NewID    func() string
}

type Gateway struct {
	provider Provider
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
}

func New(opts Options) *Gateway {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	newID := opts.NewID
	if newID == nil {
		newID = newImageID
	}

	return &Gateway{
		provider: opts.Provider,
		logger:   logger,
		now:      now,
		newID:    newID,
	}
}

func (g *Gateway) Configured() bool {
	return g.provider != nil
}

// Do runs one generation of the given kind. All failures are *Error.
func (g *Gateway) Do(ctx context.Context, kind Kind, req Request) (Result, error) {
	start := g.now()

	req.Prompt = strings.TrimSpace(req.Prompt)
	if err := validate(kind, req); err != nil {
		return Result{}, err
	}
	editOption, _ := catalog.ParseEditOperation(req.EditOption)

	if g.provider == nil {
		return Result{}, &Error{Code: CodeConfiguration, Message: "Gemini API key not configured"}
	}

	images := make([]string, len(req.Images))
	for i, img := range req.Images {
		raw := StripDataURI(img)
		if _, err := base64.StdEncoding.DecodeString(raw); err != nil {
			if _, rawErr := base64.RawStdEncoding.DecodeString(strings.TrimRight(raw, "=")); rawErr != nil {
				return Result{}, invalid(fmt.Sprintf("image %d is not valid base64", i+1))
			}
		}
		images[i] = raw
	}

	text := instruction(kind, req.Prompt, len(images), editOption)

	reply, err := g.provider.Generate(ctx, text, images)
	if err != nil {
		gwErr := classify(err)
		g.logger.Warn("generation failed", "kind", kind, "code", gwErr.Code, "err", err)
		return Result{}, gwErr
	}

	if reply.ImageData == "" {
		g.logger.Warn("generation returned no image", "kind", kind, "text_len", len(reply.Text))
		return Result{}, &Error{
			Code:    CodeNoImageReturned,
			Message: failureMessage(kind),
			Details: noImageDetails(reply.Text),
		}
	}

	res := Result{
		Kind:        kind,
		ID:          g.newID(),
		Prompt:      text,
		Description: reply.Text,
		Timestamp:   g.now(),
		ImageData:   reply.ImageData,
	}
	if res.Description == "" {
		res.Description = successMessage(kind)
	}

	switch kind {
	case KindSynthesize:
		res.ImageCount = len(images)
		res.Tags = []string{"synthesis", fmt.Sprintf("%d-images", len(images))}
	case KindEdit:
		res.Tags = prompt.Tags(req.Prompt)
	default:
		res.Tags = prompt.Tags(text)
	}

	g.logger.Info("generation done", "kind", kind, "id", res.ID, "images_in", len(images), "dur_ms", time.Since(start).Milliseconds())
	return res, nil
}

func validate(kind Kind, req Request) *Error {
	for i, img := range req.Images {
		if strings.TrimSpace(StripDataURI(img)) == "" {
			return invalid(fmt.Sprintf("image %d is empty", i+1))
		}
	}
	if _, err := catalog.ParseMode(req.Mode); err != nil {
		return invalid(err.Error())
	}
	if _, err := catalog.ParseEditOperation(req.EditOption); err != nil {
		return invalid(err.Error())
	}

	switch kind {
	case KindGenerate:
		if req.Prompt == "" && len(req.Images) == 0 {
			return invalid("Prompt or images required")
		}
	case KindEdit:
		if len(req.Images) != 1 {
			return invalid("Exactly one image is required for editing")
		}
	case KindSynthesize:
		if len(req.Images) < 2 {
			return invalid("At least 2 images required for synthesis")
		}
	default:
		return invalid(fmt.Sprintf("unknown generation kind %q", kind))
	}
	return nil
}

func instruction(kind Kind, p string, imageCount int, op catalog.EditOperation) string {
	switch kind {
	case KindEdit:
		if p == "" {
			return "Edit this image"
		}
		return "Edit this image: " + p
	case KindSynthesize:
		if p != "" {
			return p
		}
		return fmt.Sprintf("Combine these %d images naturally, maintaining the best aspects of each", imageCount)
	default:
		if op != catalog.EditNone {
			return prompt.WithPhrase(op, p)
		}
		return p
	}
}

// StripDataURI drops everything up to and including "base64,".
func StripDataURI(value string) string {
	value = strings.TrimSpace(value)
	if idx := strings.Index(value, "base64,"); idx >= 0 {
		return value[idx+len("base64,"):]
	}
	return value
}

func successMessage(kind Kind) string {
	switch kind {
	case KindEdit:
		return "Image edited successfully"
	case KindSynthesize:
		return "Images synthesized successfully"
	default:
		return "Image generated successfully"
	}
}

func failureMessage(kind Kind) string {
	switch kind {
	case KindEdit:
		return "Failed to edit image"
	case KindSynthesize:
		return "Failed to synthesize images"
	default:
		return "Failed to generate image"
	}
}

func noImageDetails(text string) string {
	if strings.TrimSpace(text) == "" {
		return "No image data in response"
	}
	return "No image data in response: " + text
}

func newImageID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
