package wizard

import (
	"nano-banana-studio/internal/catalog"
	"nano-banana-studio/internal/prompt"
	"nano-banana-studio/internal/session"
)

type Step string

const (
	StepChooseMode    Step = "choose-mode"
	StepEditOperation Step = "choose-edit-operation"
	StepUpload        Step = "upload"
	StepTemplate      Step = "template"
	StepPrompt        Step = "prompt"
	StepResults       Step = "results"
)

var (
	rootSteps   = []Step{StepChooseMode}
	createSteps = []Step{StepChooseMode, StepTemplate, StepPrompt, StepResults}
	editSteps   = []Step{StepChooseMode, StepEditOperation, StepUpload, StepTemplate, StepPrompt, StepResults}
)

func Steps(mode catalog.Mode) []Step {
	var steps []Step
	switch mode {
	case catalog.ModeCreate:
		steps = createSteps
	case catalog.ModeEdit:
		steps = editSteps
	default:
		steps = rootSteps
	}
	return append([]Step(nil), steps...)
}

func (s Step) Optional() bool {
	return s == StepTemplate
}

func CurrentStep(st session.State) Step {
	steps := Steps(st.Mode)
	if st.Step < 0 || st.Step >= len(steps) {
		return StepChooseMode
	}
	return steps[st.Step]
}

func IsLast(st session.State) bool {
	return st.Step == len(Steps(st.Mode))-1
}

// CanAdvance reports whether the forward button is enabled on the current
// step. The results step is terminal and always reports false.
func CanAdvance(st session.State) bool {
	if IsLast(st) {
		return false
	}

	switch CurrentStep(st) {
	case StepChooseMode:
		return st.Mode != catalog.ModeNone
	case StepEditOperation:
		return st.EditOption != catalog.EditNone
	case StepUpload:
		return len(st.UploadedImages) > 0
	case StepTemplate:
		return true
	case StepPrompt:
		return prompt.Combined(st.SelectedFragments, st.FreeText) != "" || st.TemplateID != ""
	default:
		return false
	}
}

// AssembledPrompt is the exact string the results step sends to the provider.
func AssembledPrompt(st session.State) string {
	in := prompt.Input{
		Fragments:  st.SelectedFragments,
		FreeText:   st.FreeText,
		Mode:       st.Mode,
		EditOption: st.EditOption,
	}
	if tpl, ok := catalog.LookupTemplate(st.TemplateID); ok {
		in.Template = tpl.Prompt
	}
	return prompt.Assemble(in)
}

type View struct {
	Mode        catalog.Mode          `json:"mode"`
	EditOption  catalog.EditOperation `json:"editOption"`
	StepIndex   int                   `json:"stepIndex"`
	Step        Step                  `json:"step"`
	Steps       []Step                `json:"steps"`
	CanAdvance  bool                  `json:"canAdvance"`
	CanRetreat  bool                  `json:"canRetreat"`
	CanSkip     bool                  `json:"canSkip"`
	CanGenerate bool                  `json:"canGenerate"`
	Prompt      string                `json:"prompt"`
}

func Describe(st session.State) View {
	step := CurrentStep(st)
	return View{
		Mode:        st.Mode,
		EditOption:  st.EditOption,
		StepIndex:   st.Step,
		Step:        step,
		Steps:       Steps(st.Mode),
		CanAdvance:  CanAdvance(st),
		CanRetreat:  st.Step > 0,
		CanSkip:     step.Optional(),
		CanGenerate: step == StepResults && !st.Generating,
		Prompt:      AssembledPrompt(st),
	}
}
