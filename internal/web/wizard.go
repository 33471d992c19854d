package web

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gosimple/slug"

	"nano-banana-studio/internal/catalog"
	"nano-banana-studio/internal/gateway"
	"nano-banana-studio/internal/session"
	"nano-banana-studio/internal/wizard"
)

// session returns the caller's session, starting a new one when the cookie is
// missing or refers to an evicted session.
func (s *Server) session(w http.ResponseWriter, r *http.Request) *session.Session {
	if c, err := r.Cookie(cookieName); err == nil && c.Value != "" {
		if sess, ok := s.sessions.Get(c.Value); ok {
			return sess
		}
	}

	sess := s.sessions.GetOrCreate("")
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    sess.ID,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return sess
}

func (s *Server) respond(w http.ResponseWriter, sess *session.Session, st session.State, err error) {
	view := newSessionView(sess.ID, st)
	if err == nil {
		writeJSON(w, http.StatusOK, view)
		return
	}

	body := apiError{Error: err.Error(), Session: view}
	var gwErr *gateway.Error
	if errors.As(err, &gwErr) {
		body.Details = gwErr.Details
	}
	writeJSON(w, wizardStatus(err), body)
}

func wizardStatus(err error) int {
	var gwErr *gateway.Error
	switch {
	case errors.As(err, &gwErr):
		return gwErr.Status()
	case errors.Is(err, wizard.ErrBusy),
		errors.Is(err, wizard.ErrCannotAdvance),
		errors.Is(err, wizard.ErrNotSkippable),
		errors.Is(err, wizard.ErrNoMode),
		errors.Is(err, wizard.ErrWrongMode):
		return http.StatusConflict
	case errors.Is(err, wizard.ErrUnknownImage), errors.Is(err, session.ErrImageIndex):
		return http.StatusNotFound
	case errors.Is(err, wizard.ErrUnknownTemplate), errors.Is(err, wizard.ErrEmptyValue):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, catalogView{
		Categories:     catalog.Categories(),
		Templates:      catalog.Templates(),
		EditOperations: catalog.EditOperations(),
	})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	s.respond(w, sess, sess.Snapshot(), nil)
}

func (s *Server) handleMode(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	var body struct {
		Mode string `json:"mode"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: err.Error()})
		return
	}
	mode, err := catalog.ParseMode(body.Mode)
	if err != nil || mode == catalog.ModeNone {
		writeJSON(w, http.StatusBadRequest, apiError{Error: fmt.Sprintf("mode must be create or edit, got %q", body.Mode)})
		return
	}

	st, err := s.wiz.SelectMode(sess, mode)
	s.respond(w, sess, st, err)
}

func (s *Server) handleEditOption(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	var body struct {
		EditOption string `json:"editOption"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: err.Error()})
		return
	}
	op, err := catalog.ParseEditOperation(body.EditOption)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: err.Error()})
		return
	}

	st, err := s.wiz.SelectEditOption(sess, op)
	s.respond(w, sess, st, err)
}

func (s *Server) handleTemplate(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	var body struct {
		TemplateID string `json:"templateId"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: err.Error()})
		return
	}

	st, err := s.wiz.SelectTemplate(sess, body.TemplateID)
	s.respond(w, sess, st, err)
}

func (s *Server) handleAdvance(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	st, err := s.wiz.Advance(r.Context(), sess)
	s.respond(w, sess, st, err)
}

func (s *Server) handleBack(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	st, err := s.wiz.Retreat(sess)
	s.respond(w, sess, st, err)
}

func (s *Server) handleSkip(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	st, err := s.wiz.Skip(r.Context(), sess)
	s.respond(w, sess, st, err)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	st, err := s.wiz.Reset(sess)
	s.respond(w, sess, st, err)
}

// handleFragment toggles a fragment given either its catalog id or a raw
// value.
func (s *Server) handleFragment(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	var body struct {
		ID    string `json:"id"`
		Value string `json:"value"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: err.Error()})
		return
	}

	value := body.Value
	if body.ID != "" {
		frag, ok := catalog.LookupFragment(body.ID)
		if !ok {
			writeJSON(w, http.StatusBadRequest, apiError{Error: fmt.Sprintf("unknown fragment %q", body.ID)})
			return
		}
		value = frag.Value
	}

	st, err := s.wiz.ToggleFragment(sess, value)
	s.respond(w, sess, st, err)
}

func (s *Server) handleFreeText(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	var body struct {
		Text string `json:"text"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: err.Error()})
		return
	}

	st, err := s.wiz.SetFreeText(sess, body.Text)
	s.respond(w, sess, st, err)
}

// handleAddImage accepts either a JSON body {"image": "<data uri or base64>"}
// or a multipart form with one or more "image" files.
func (s *Server) handleAddImage(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)

	var images []string
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		if err := r.ParseMultipartForm(maxBodyBytes); err != nil {
			writeJSON(w, http.StatusBadRequest, apiError{Error: "invalid multipart form"})
			return
		}
		for _, header := range r.MultipartForm.File["image"] {
			img, err := readUpload(header)
			if err != nil {
				writeJSON(w, http.StatusBadRequest, apiError{Error: err.Error()})
				return
			}
			images = append(images, img)
		}
	} else {
		var body struct {
			Image string `json:"image"`
		}
		if err := decodeJSON(w, r, &body); err != nil {
			writeJSON(w, http.StatusBadRequest, apiError{Error: err.Error()})
			return
		}
		images = append(images, body.Image)
	}

	if len(images) == 0 {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "missing image"})
		return
	}

	var (
		st  session.State
		err error
	)
	for _, img := range images {
		if st, err = s.wiz.AddImage(sess, img); err != nil {
			break
		}
	}
	s.respond(w, sess, st, err)
}

func readUpload(header *multipart.FileHeader) (string, error) {
	file, err := header.Open()
	if err != nil {
		return "", fmt.Errorf("open %s: %w", header.Filename, err)
	}
	defer file.Close()

	imgBytes, err := io.ReadAll(file)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", header.Filename, err)
	}
	if len(imgBytes) == 0 {
		return "", fmt.Errorf("%s is empty", header.Filename)
	}

	mimeType := strings.TrimSpace(header.Header.Get("Content-Type"))
	if strings.Contains(mimeType, ";") {
		mimeType = strings.TrimSpace(strings.SplitN(mimeType, ";", 2)[0])
	}
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(imgBytes)
	}
	if !strings.HasPrefix(mimeType, "image/") {
		return "", fmt.Errorf("%s is not an image", header.Filename)
	}

	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(imgBytes), nil
}

func (s *Server) handleRemoveImage(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "image index must be a number"})
		return
	}

	st, err := s.wiz.RemoveImage(sess, index)
	s.respond(w, sess, st, err)
}

func (s *Server) handleSelectHistory(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	st, err := s.wiz.SelectHistory(sess, r.PathValue("id"))
	s.respond(w, sess, st, err)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	img, ok := sess.Snapshot().Find(r.PathValue("id"))
	if !ok || img.ImageData == "" {
		writeJSON(w, http.StatusNotFound, apiError{Error: wizard.ErrUnknownImage.Error()})
		return
	}

	raw := gateway.StripDataURI(img.ImageData)
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(raw, "="))
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, apiError{Error: "stored image is corrupt"})
		return
	}

	contentType := http.DetectContentType(data)
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", downloadName(img, contentType)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func downloadName(img session.GeneratedImage, contentType string) string {
	base := img.Prompt
	if runes := []rune(base); len(runes) > 60 {
		base = string(runes[:60])
	}
	name := slug.Make(base)
	if name == "" {
		name = fmt.Sprintf("nano-banana-%d", img.Timestamp.UnixMilli())
	}

	switch contentType {
	case "image/jpeg":
		return name + ".jpg"
	case "image/webp":
		return name + ".webp"
	case "image/gif":
		return name + ".gif"
	default:
		return name + ".png"
	}
}
