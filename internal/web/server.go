package web

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"nano-banana-studio/internal/gateway"
	"nano-banana-studio/internal/session"
	"nano-banana-studio/internal/wizard"
)

//go:embed static/*
var staticFS embed.FS

const (
	maxBodyBytes = 25 << 20
	cookieName   = "nb_session"
)

type Options struct {
	// Generator serves the stateless generation endpoints. The wizard has its
	// own through the controller.
	Generator      wizard.Generator
	Wizard         *wizard.Controller
	Sessions       *session.Store
	Logger         *slog.Logger
	RequestTimeout time.Duration
	SecureCookie   bool
}

type Server struct {
	gen      wizard.Generator
	wiz      *wizard.Controller
	sessions *session.Store
	logger   *slog.Logger
	timeout  time.Duration
	secure   bool
}

func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 180 * time.Second
	}
	sessions := opts.Sessions
	if sessions == nil {
		sessions = session.NewStore(session.Options{})
	}
	wiz := opts.Wizard
	if wiz == nil {
		wiz = wizard.New(wizard.Options{Generator: opts.Generator, Logger: logger, RequestTimeout: timeout})
	}

	return &Server{
		gen:      opts.Generator,
		wiz:      wiz,
		sessions: sessions,
		logger:   logger,
		timeout:  timeout,
		secure:   opts.SecureCookie,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/generate", s.handleGeneration(gateway.KindGenerate))
	mux.HandleFunc("POST /api/edit", s.handleGeneration(gateway.KindEdit))
	mux.HandleFunc("POST /api/synthesize", s.handleGeneration(gateway.KindSynthesize))

	mux.HandleFunc("GET /api/catalog", s.handleCatalog)
	mux.HandleFunc("GET /api/session", s.handleSession)
	mux.HandleFunc("GET /api/session/events", s.handleEvents)

	mux.HandleFunc("POST /api/wizard/mode", s.handleMode)
	mux.HandleFunc("POST /api/wizard/edit-option", s.handleEditOption)
	mux.HandleFunc("POST /api/wizard/template", s.handleTemplate)
	mux.HandleFunc("POST /api/wizard/advance", s.handleAdvance)
	mux.HandleFunc("POST /api/wizard/back", s.handleBack)
	mux.HandleFunc("POST /api/wizard/skip", s.handleSkip)
	mux.HandleFunc("POST /api/wizard/reset", s.handleReset)

	mux.HandleFunc("POST /api/prompt/fragments", s.handleFragment)
	mux.HandleFunc("PUT /api/prompt/text", s.handleFreeText)

	mux.HandleFunc("POST /api/images", s.handleAddImage)
	mux.HandleFunc("DELETE /api/images/{index}", s.handleRemoveImage)

	mux.HandleFunc("POST /api/history/{id}/select", s.handleSelectHistory)
	mux.HandleFunc("GET /api/history/{id}/image", s.handleDownload)

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "sessions": s.sessions.Len()})
	})

	staticSub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(err)
	}
	mux.Handle("GET /", http.FileServer(http.FS(staticSub)))

	return withRecover(withLogging(mux, s.logger), s.logger)
}

type apiError struct {
	Error   string       `json:"error"`
	Details string       `json:"details,omitempty"`
	Session *sessionView `json:"session,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("request body exceeds %d bytes", tooLarge.Limit)
		}
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	if r.status == 0 {
		r.status = status
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer for
// flushing and deadlines.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func withLogging(next http.Handler, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		logger.Info("http", "method", r.Method, "path", r.URL.Path, "status", rec.status, "dur_ms", time.Since(start).Milliseconds())
	})
}

func withRecover(next http.Handler, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				logger.Error("handler panic", "path", r.URL.Path, "panic", v, "stack", string(debug.Stack()))
				writeJSON(w, http.StatusInternalServerError, apiError{Error: "internal server error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}
