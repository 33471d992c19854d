package wizard

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"nano-banana-studio/internal/catalog"
	"nano-banana-studio/internal/gateway"
	"nano-banana-studio/internal/session"
)

var (
	ErrBusy            = errors.New("a generation is already in progress")
	ErrCannotAdvance   = errors.New("current step is not complete")
	ErrNotSkippable    = errors.New("current step cannot be skipped")
	ErrNoMode          = errors.New("choose create or edit first")
	ErrWrongMode       = errors.New("edit operations are only available in edit mode")
	ErrUnknownTemplate = errors.New("unknown template")
	ErrUnknownImage    = errors.New("unknown history image")
	ErrEmptyValue      = errors.New("value is empty")
)

type Generator interface {
	Do(ctx context.Context, kind gateway.Kind, req gateway.Request) (gateway.Result, error)
}

type Options struct {
	Generator      Generator
	Logger         *slog.Logger
	RequestTimeout time.Duration
}

// Controller applies wizard transitions to a session. It holds no per-user
// state of its own.
type Controller struct {
	gen     Generator
	logger  *slog.Logger
	timeout time.Duration
}

func New(opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 180 * time.Second
	}

	return &Controller{
		gen:     opts.Generator,
		logger:  logger,
		timeout: timeout,
	}
}

// SelectMode switches the top-level mode and drops progress that does not
// carry over: edit operation, template and fragments.
func (c *Controller) SelectMode(sess *session.Session, mode catalog.Mode) (session.State, error) {
	if mode == catalog.ModeNone {
		return sess.Snapshot(), ErrNoMode
	}
	return sess.Update(func(st *session.State) error {
		st.Mode = mode
		st.Step = 1
		st.EditOption = catalog.EditNone
		st.TemplateID = ""
		st.SelectedFragments = nil
		return nil
	})
}

func (c *Controller) SelectEditOption(sess *session.Session, op catalog.EditOperation) (session.State, error) {
	return sess.Update(func(st *session.State) error {
		if st.Mode != catalog.ModeEdit {
			return ErrWrongMode
		}
		if op == catalog.EditNone {
			return ErrEmptyValue
		}
		st.EditOption = op
		return nil
	})
}

// SelectTemplate picks a preset by id; an empty id clears the selection.
func (c *Controller) SelectTemplate(sess *session.Session, id string) (session.State, error) {
	id = strings.TrimSpace(id)
	return sess.Update(func(st *session.State) error {
		if st.Mode == catalog.ModeNone {
			return ErrNoMode
		}
		if id == "" {
			st.TemplateID = ""
			return nil
		}
		if _, ok := catalog.LookupTemplate(id); !ok {
			return ErrUnknownTemplate
		}
		st.TemplateID = id
		return nil
	})
}

func (c *Controller) ToggleFragment(sess *session.Session, value string) (session.State, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return sess.Snapshot(), ErrEmptyValue
	}
	return sess.Update(func(st *session.State) error {
		st.ToggleFragment(value)
		return nil
	})
}

func (c *Controller) SetFreeText(sess *session.Session, text string) (session.State, error) {
	return sess.Update(func(st *session.State) error {
		st.FreeText = text
		return nil
	})
}

func (c *Controller) AddImage(sess *session.Session, encoded string) (session.State, error) {
	if strings.TrimSpace(gateway.StripDataURI(encoded)) == "" {
		return sess.Snapshot(), ErrEmptyValue
	}
	return sess.Update(func(st *session.State) error {
		st.AddImage(strings.TrimSpace(encoded))
		return nil
	})
}

func (c *Controller) RemoveImage(sess *session.Session, index int) (session.State, error) {
	return sess.Update(func(st *session.State) error {
		return st.RemoveImage(index)
	})
}

func (c *Controller) SelectHistory(sess *session.Session, id string) (session.State, error) {
	return sess.Update(func(st *session.State) error {
		if !st.SelectHistory(id) {
			return ErrUnknownImage
		}
		return nil
	})
}

// Advance moves one step forward. On the results step it runs a generation
// instead and blocks until the provider answers.
func (c *Controller) Advance(ctx context.Context, sess *session.Session) (session.State, error) {
	st := sess.Snapshot()
	if CurrentStep(st) == StepResults && IsLast(st) {
		return c.generate(ctx, sess)
	}

	return sess.Update(func(st *session.State) error {
		if !CanAdvance(*st) {
			return ErrCannotAdvance
		}
		st.Step++
		return nil
	})
}

func (c *Controller) Skip(ctx context.Context, sess *session.Session) (session.State, error) {
	if !CurrentStep(sess.Snapshot()).Optional() {
		return sess.Snapshot(), ErrNotSkippable
	}
	return c.Advance(ctx, sess)
}

// Retreat moves one step back. Returning to the first step forgets the mode
// and edit operation.
func (c *Controller) Retreat(sess *session.Session) (session.State, error) {
	return sess.Update(func(st *session.State) error {
		if st.Step <= 0 {
			return nil
		}
		st.Step--
		if st.Step == 0 {
			st.Mode = catalog.ModeNone
			st.EditOption = catalog.EditNone
		}
		return nil
	})
}

// Reset returns to the initial state. History is kept and a generation that
// is still running will land in it.
func (c *Controller) Reset(sess *session.Session) (session.State, error) {
	return sess.Update(func(st *session.State) error {
		st.ClearWizard()
		return nil
	})
}

func (c *Controller) generate(ctx context.Context, sess *session.Session) (session.State, error) {
	var req gateway.Request
	_, err := sess.Update(func(st *session.State) error {
		if st.Generating {
			return ErrBusy
		}
		st.Generating = true
		st.LastError = ""

		req = gateway.Request{
			Prompt:     AssembledPrompt(*st),
			Mode:       string(st.Mode),
			EditOption: string(st.EditOption),
		}
		if st.Mode == catalog.ModeEdit {
			req.Images = append([]string(nil), st.UploadedImages...)
		}
		return nil
	})
	if err != nil {
		return sess.Snapshot(), err
	}

	// The provider call outlives the caller: there is no cancellation, a
	// closed page only drops interest in the result.
	genCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	var res gateway.Result
	if c.gen == nil {
		err = &gateway.Error{Code: gateway.CodeConfiguration, Message: "image generation is not configured"}
	} else {
		res, err = c.gen.Do(genCtx, gateway.KindGenerate, req)
	}

	final, _ := sess.Update(func(st *session.State) error {
		st.Generating = false
		if err != nil {
			st.LastError = err.Error()
			return nil
		}
		st.AddGenerated(session.GeneratedImage{
			ID:          res.ID,
			Prompt:      res.Prompt,
			Description: res.Description,
			ImageData:   res.ImageData,
			Timestamp:   res.Timestamp,
			Tags:        res.Tags,
		})
		return nil
	})

	if err != nil {
		c.logger.Warn("wizard generation failed", "session", sess.ID, "err", err)
		return final, err
	}
	c.logger.Info("wizard generation done", "session", sess.ID, "image", res.ID, "history", len(final.History))
	return final, nil
}
