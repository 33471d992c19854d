package prompt

import (
	"strings"

	"nano-banana-studio/internal/catalog"
)

const MaxTags = 5

type Input struct {
	Fragments  []string
	FreeText   string
	Template   string // base prompt of the selected preset, "" when none
	Mode       catalog.Mode
	EditOption catalog.EditOperation
}

// Combined joins the selected fragments and the free text, skipping blanks.
func Combined(fragments []string, freeText string) string {
	parts := make([]string, 0, len(fragments)+1)
	for _, f := range fragments {
		if f = strings.TrimSpace(f); f != "" {
			parts = append(parts, f)
		}
	}
	if t := strings.TrimSpace(freeText); t != "" {
		parts = append(parts, t)
	}
	return strings.Join(parts, ", ")
}

func Assemble(in Input) string {
	out := Combined(in.Fragments, in.FreeText)

	if base := strings.TrimSpace(in.Template); base != "" {
		if out != "" {
			out = base + ", " + out
		} else {
			out = base
		}
	}

	if in.Mode == catalog.ModeEdit && in.EditOption != catalog.EditNone {
		if phrase := catalog.Phrase(in.EditOption); phrase != "" {
			out = phrase + ", " + out
		}
	}

	return out
}

// WithPhrase prefixes op's instruction phrase unless p already starts with it.
func WithPhrase(op catalog.EditOperation, p string) string {
	phrase := catalog.Phrase(op)
	if phrase == "" || strings.HasPrefix(p, phrase) {
		return p
	}
	if strings.TrimSpace(p) == "" {
		return phrase
	}
	return phrase + ", " + p
}

func Tags(p string) []string {
	tags := make([]string, 0, MaxTags)
	for _, seg := range strings.Split(p, ",") {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		tags = append(tags, seg)
		if len(tags) == MaxTags {
			break
		}
	}
	return tags
}
