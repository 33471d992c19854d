package web

import (
	"net/url"

	"nano-banana-studio/internal/catalog"
	"nano-banana-studio/internal/session"
	"nano-banana-studio/internal/wizard"
)

type historyItem struct {
	ID          string   `json:"id"`
	Prompt      string   `json:"prompt"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	Timestamp   int64    `json:"timestamp"`
	HasImage    bool     `json:"hasImage"`
	ImageURL    string   `json:"imageUrl,omitempty"`
}

type sessionView struct {
	ID                string        `json:"id"`
	Wizard            wizard.View   `json:"wizard"`
	TemplateID        string        `json:"templateId,omitempty"`
	SelectedFragments []string      `json:"selectedFragments"`
	FreeText          string        `json:"freeText"`
	UploadedImages    []string      `json:"uploadedImages"`
	History           []historyItem `json:"history"`
	Current           *historyItem  `json:"current,omitempty"`
	Generating        bool          `json:"generating"`
	LastError         string        `json:"lastError,omitempty"`
	UpdatedAt         int64         `json:"updatedAt"`
}

type catalogView struct {
	Categories     []catalog.Category  `json:"categories"`
	Templates      []catalog.Template  `json:"templates"`
	EditOperations []catalog.Operation `json:"editOperations"`
}

func newHistoryItem(img session.GeneratedImage) historyItem {
	item := historyItem{
		ID:          img.ID,
		Prompt:      img.Prompt,
		Description: img.Description,
		Tags:        img.Tags,
		Timestamp:   img.Timestamp.UnixMilli(),
		HasImage:    img.ImageData != "",
	}
	if item.HasImage {
		item.ImageURL = "/api/history/" + url.PathEscape(img.ID) + "/image"
	}
	return item
}

func newSessionView(id string, st session.State) *sessionView {
	v := &sessionView{
		ID:                id,
		Wizard:            wizard.Describe(st),
		TemplateID:        st.TemplateID,
		SelectedFragments: nonNil(st.SelectedFragments),
		FreeText:          st.FreeText,
		UploadedImages:    nonNil(st.UploadedImages),
		History:           make([]historyItem, 0, len(st.History)),
		Generating:        st.Generating,
		LastError:         st.LastError,
		UpdatedAt:         st.UpdatedAt.UnixMilli(),
	}
	for _, img := range st.History {
		v.History = append(v.History, newHistoryItem(img))
	}
	if cur, ok := st.Current(); ok {
		item := newHistoryItem(cur)
		v.Current = &item
	}
	return v
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
