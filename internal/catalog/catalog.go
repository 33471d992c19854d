package catalog

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var catalogYAML []byte

type Mode string

const (
	ModeNone   Mode = ""
	ModeCreate Mode = "create"
	ModeEdit   Mode = "edit"
)

// ParseMode accepts "generate" as an alias of create.
func ParseMode(value string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "":
		return ModeNone, nil
	case "create", "generate":
		return ModeCreate, nil
	case "edit":
		return ModeEdit, nil
	default:
		return ModeNone, fmt.Errorf("unknown mode %q", value)
	}
}

type EditOperation string

const (
	EditNone          EditOperation = ""
	EditRemoveBG      EditOperation = "remove-bg"
	EditStyleTransfer EditOperation = "style-transfer"
	EditObjectReplace EditOperation = "object-replace"
	EditMerge         EditOperation = "merge"
	EditEnhance       EditOperation = "enhance"
	EditResize        EditOperation = "resize"
	EditFilter        EditOperation = "filter"
	EditTextOverlay   EditOperation = "text-overlay"
)

var editOrder = []EditOperation{
	EditRemoveBG,
	EditStyleTransfer,
	EditObjectReplace,
	EditMerge,
	EditEnhance,
	EditResize,
	EditFilter,
	EditTextOverlay,
}

func ParseEditOperation(value string) (EditOperation, error) {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return EditNone, nil
	}
	for _, op := range editOrder {
		if string(op) == value {
			return op, nil
		}
	}
	return EditNone, fmt.Errorf("unknown edit option %q", value)
}

type Fragment struct {
	ID       string `yaml:"id" json:"id"`
	Label    string `yaml:"label" json:"label"`
	Value    string `yaml:"value" json:"value"`
	Category string `yaml:"-" json:"category"`
}

type Category struct {
	ID      string     `yaml:"id" json:"id"`
	Label   string     `yaml:"label" json:"label"`
	Icon    string     `yaml:"icon" json:"icon"`
	Buttons []Fragment `yaml:"buttons" json:"buttons"`
}

type Template struct {
	ID          string `yaml:"id" json:"id"`
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
	Icon        string `yaml:"icon" json:"icon"`
	Prompt      string `yaml:"prompt" json:"prompt"`
}

type Operation struct {
	ID          EditOperation `yaml:"id" json:"id"`
	Label       string        `yaml:"label" json:"label"`
	Description string        `yaml:"description" json:"description"`
	Example     string        `yaml:"example" json:"example"`
	Phrase      string        `yaml:"phrase" json:"phrase"`
}

type data struct {
	Categories     []Category  `yaml:"categories"`
	Templates      []Template  `yaml:"templates"`
	EditOperations []Operation `yaml:"edit_operations"`
}

var load = sync.OnceValue(func() *data {
	d, err := parse(catalogYAML)
	if err != nil {
		panic(fmt.Sprintf("catalog: %v", err))
	}
	return d
})

func parse(raw []byte) (*data, error) {
	var d data
	if err := yaml.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	seen := make(map[string]bool)
	for ci := range d.Categories {
		c := &d.Categories[ci]
		for bi := range c.Buttons {
			b := &c.Buttons[bi]
			if b.ID == "" || strings.TrimSpace(b.Value) == "" {
				return nil, fmt.Errorf("category %s: fragment %d is incomplete", c.ID, bi)
			}
			if seen[b.ID] {
				return nil, fmt.Errorf("duplicate fragment id %q", b.ID)
			}
			seen[b.ID] = true
			b.Category = c.ID
		}
	}

	ops := make(map[EditOperation]bool, len(d.EditOperations))
	for _, op := range d.EditOperations {
		if strings.TrimSpace(op.Phrase) == "" {
			return nil, fmt.Errorf("edit operation %s has no phrase", op.ID)
		}
		ops[op.ID] = true
	}
	for _, op := range editOrder {
		if !ops[op] {
			return nil, fmt.Errorf("edit operation %s is missing", op)
		}
	}

	return &d, nil
}

func Categories() []Category {
	src := load().Categories
	out := make([]Category, 0, len(src))
	for _, c := range src {
		c.Buttons = append([]Fragment(nil), c.Buttons...)
		out = append(out, c)
	}
	return out
}

func Templates() []Template {
	return append([]Template(nil), load().Templates...)
}

func EditOperations() []Operation {
	ops := load().EditOperations
	out := make([]Operation, 0, len(editOrder))
	for _, id := range editOrder {
		for _, op := range ops {
			if op.ID == id {
				out = append(out, op)
				break
			}
		}
	}
	return out
}

func LookupTemplate(id string) (Template, bool) {
	for _, t := range load().Templates {
		if t.ID == id {
			return t, true
		}
	}
	return Template{}, false
}

func LookupFragment(id string) (Fragment, bool) {
	for _, c := range load().Categories {
		for _, b := range c.Buttons {
			if b.ID == id {
				return b, true
			}
		}
	}
	return Fragment{}, false
}

func LookupOperation(op EditOperation) (Operation, bool) {
	for _, o := range load().EditOperations {
		if o.ID == op {
			return o, true
		}
	}
	return Operation{}, false
}

// Phrase is the fixed instruction prepended to edit prompts. Empty for EditNone.
func Phrase(op EditOperation) string {
	o, ok := LookupOperation(op)
	if !ok {
		return ""
	}
	return o.Phrase
}
