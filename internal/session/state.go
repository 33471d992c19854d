package session

import (
	"errors"
	"slices"
	"time"

	"nano-banana-studio/internal/catalog"
)

var ErrImageIndex = errors.New("uploaded image index out of range")

type GeneratedImage struct {
	ID          string
	Prompt      string
	Description string
	ImageData   string // base64, empty when the provider returned text only
	Timestamp   time.Time
	Tags        []string
}

// State is everything one user session holds. History survives Reset; the
// rest is wizard progress.
type State struct {
	Mode       catalog.Mode
	EditOption catalog.EditOperation
	Step       int
	TemplateID string

	SelectedFragments []string
	FreeText          string
	UploadedImages    []string

	History   []GeneratedImage // newest first
	CurrentID string

	Generating bool
	LastError  string

	UpdatedAt time.Time
}

func (s State) Current() (GeneratedImage, bool) {
	if s.CurrentID == "" {
		return GeneratedImage{}, false
	}
	return s.Find(s.CurrentID)
}

func (s State) Find(id string) (GeneratedImage, bool) {
	for _, img := range s.History {
		if img.ID == id {
			return img, true
		}
	}
	return GeneratedImage{}, false
}

func (s State) HasFragment(value string) bool {
	return slices.Contains(s.SelectedFragments, value)
}

// ToggleFragment adds value at the end of the selection or removes it.
func (s *State) ToggleFragment(value string) bool {
	if i := slices.Index(s.SelectedFragments, value); i >= 0 {
		s.SelectedFragments = slices.Delete(s.SelectedFragments, i, i+1)
		return false
	}
	s.SelectedFragments = append(s.SelectedFragments, value)
	return true
}

func (s *State) AddImage(encoded string) {
	s.UploadedImages = append(s.UploadedImages, encoded)
}

func (s *State) RemoveImage(index int) error {
	if index < 0 || index >= len(s.UploadedImages) {
		return ErrImageIndex
	}
	s.UploadedImages = slices.Delete(s.UploadedImages, index, index+1)
	return nil
}

// AddGenerated records a successful result and makes it current.
func (s *State) AddGenerated(img GeneratedImage) {
	s.History = slices.Insert(s.History, 0, img)
	s.CurrentID = img.ID
}

func (s *State) SelectHistory(id string) bool {
	if _, ok := s.Find(id); !ok {
		return false
	}
	s.CurrentID = id
	return true
}

// ClearWizard drops wizard progress, selections, uploads and the last error.
// History and the current image are kept.
func (s *State) ClearWizard() {
	s.Mode = catalog.ModeNone
	s.EditOption = catalog.EditNone
	s.Step = 0
	s.TemplateID = ""
	s.SelectedFragments = nil
	s.FreeText = ""
	s.UploadedImages = nil
	s.LastError = ""
}

func (s State) clone() State {
	out := s
	out.SelectedFragments = slices.Clone(s.SelectedFragments)
	out.UploadedImages = slices.Clone(s.UploadedImages)
	out.History = slices.Clone(s.History)
	return out
}
