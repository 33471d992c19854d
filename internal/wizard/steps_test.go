package wizard

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"nano-banana-studio/internal/catalog"
	"nano-banana-studio/internal/session"
)

func TestStepsPerMode(t *testing.T) {
	assert.Equal(t, []Step{StepChooseMode}, Steps(catalog.ModeNone))
	assert.Equal(t, []Step{StepChooseMode, StepTemplate, StepPrompt, StepResults}, Steps(catalog.ModeCreate))
	assert.Len(t, Steps(catalog.ModeEdit), 6)

	steps := Steps(catalog.ModeCreate)
	steps[0] = StepResults
	assert.Equal(t, StepChooseMode, Steps(catalog.ModeCreate)[0], "callers get a copy")
}

func TestCanAdvance(t *testing.T) {
	tests := []struct {
		name string
		st   session.State
		want bool
	}{
		{name: "no mode", st: session.State{}, want: false},
		{name: "template step", st: session.State{Mode: catalog.ModeCreate, Step: 1}, want: true},
		{name: "empty prompt", st: session.State{Mode: catalog.ModeCreate, Step: 2, FreeText: "   "}, want: false},
		{name: "free text", st: session.State{Mode: catalog.ModeCreate, Step: 2, FreeText: "cat"}, want: true},
		{name: "template only", st: session.State{Mode: catalog.ModeCreate, Step: 2, TemplateID: "wallpaper"}, want: true},
		{name: "results", st: session.State{Mode: catalog.ModeCreate, Step: 3, FreeText: "cat"}, want: false},
		{name: "no edit option", st: session.State{Mode: catalog.ModeEdit, Step: 1}, want: false},
		{name: "edit option", st: session.State{Mode: catalog.ModeEdit, Step: 1, EditOption: catalog.EditMerge}, want: true},
		{name: "no uploads", st: session.State{Mode: catalog.ModeEdit, Step: 2}, want: false},
		{name: "uploads", st: session.State{Mode: catalog.ModeEdit, Step: 2, UploadedImages: []string{"AAAA"}}, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanAdvance(tt.st))
		})
	}
}

func TestCurrentStepOutOfRange(t *testing.T) {
	assert.Equal(t, StepChooseMode, CurrentStep(session.State{Mode: catalog.ModeCreate, Step: 9}))
}

func TestDescribe(t *testing.T) {
	st := session.State{
		Mode:              catalog.ModeEdit,
		EditOption:        catalog.EditRemoveBG,
		Step:              3,
		SelectedFragments: []string{"studio lighting"},
	}
	v := Describe(st)

	assert.Equal(t, StepTemplate, v.Step)
	assert.True(t, v.CanSkip)
	assert.True(t, v.CanRetreat)
	assert.False(t, v.CanGenerate)
	assert.Equal(t, "remove background, transparent background, studio lighting", v.Prompt)

	st.Step = 5
	assert.True(t, Describe(st).CanGenerate)
	st.Generating = true
	assert.False(t, Describe(st).CanGenerate)
}
