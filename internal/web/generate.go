package web

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"nano-banana-studio/internal/gateway"
)

type generationRequest struct {
	Prompt     string   `json:"prompt"`
	Images     []string `json:"images"`
	Image      string   `json:"image"`
	Mode       string   `json:"mode"`
	EditOption string   `json:"editOption"`
}

type generationResponse struct {
	Success     bool     `json:"success"`
	ID          string   `json:"id"`
	Prompt      string   `json:"prompt"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	Timestamp   int64    `json:"timestamp"`
	ImageData   string   `json:"imageData"`
	ImageCount  int      `json:"imageCount,omitempty"`
}

func (s *Server) handleGeneration(kind gateway.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body generationRequest
		if err := decodeJSON(w, r, &body); err != nil {
			writeJSON(w, http.StatusBadRequest, apiError{Error: err.Error()})
			return
		}

		req := gateway.Request{
			Prompt:     body.Prompt,
			Images:     body.Images,
			Mode:       body.Mode,
			EditOption: body.EditOption,
		}
		if kind == gateway.KindEdit && len(req.Images) == 0 && strings.TrimSpace(body.Image) != "" {
			req.Images = []string{body.Image}
		}

		if s.gen == nil {
			writeGatewayError(w, &gateway.Error{Code: gateway.CodeConfiguration, Message: "Gemini API key not configured"})
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
		defer cancel()

		res, err := s.gen.Do(ctx, kind, req)
		if err != nil {
			writeGatewayError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, generationResponse{
			Success:     true,
			ID:          res.ID,
			Prompt:      res.Prompt,
			Description: res.Description,
			Tags:        res.Tags,
			Timestamp:   res.Timestamp.UnixMilli(),
			ImageData:   res.ImageData,
			ImageCount:  res.ImageCount,
		})
	}
}

func writeGatewayError(w http.ResponseWriter, err error) {
	var gwErr *gateway.Error
	if errors.As(err, &gwErr) {
		writeJSON(w, gwErr.Status(), apiError{Error: gwErr.Error(), Details: gwErr.Details})
		return
	}
	writeJSON(w, http.StatusInternalServerError, apiError{Error: err.Error()})
}
