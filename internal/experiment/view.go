package experiment

import (
	"github.com/kiliankoe/chartrecall/internal/stimulus"
)

type StimulusView struct {
	ChartNumber  string `json:"chartNumber"`
	Condition    string `json:"condition"`
	Context      string `json:"context"`
	ImageRef     string `json:"imageRef,omitempty"`
	ChartDataKey *int   `json:"chartDataKey,omitempty"`
}

type OptionView struct {
	Letter string `json:"letter"`
	Text   string `json:"text"`
}

// Visual tells the renderer what to draw for the current stimulus.
type Visual struct {
	Kind    string `json:"kind"` // "image" or "chart"
	Ref     string `json:"ref,omitempty"`
	ChartID int    `json:"chartId,omitempty"`
}

type ExportStatus struct {
	Results string `json:"results,omitempty"`
	Log     string `json:"log,omitempty"`
	Error   string `json:"error,omitempty"`
}

// View is a read-only snapshot of a session for rendering.
type View struct {
	SessionID     string    `json:"sessionId"`
	Stage         Stage     `json:"stage"`
	Group         Group     `json:"group"`
	Variation     Variation `json:"variation"`
	Phase         Phase     `json:"phase,omitempty"`
	GraphIndex    int       `json:"graphIndex"`
	QuestionIndex int       `json:"questionIndex"`
	StimulusCount int       `json:"stimulusCount"`

	Stimulus       *StimulusView `json:"stimulus,omitempty"`
	ShowStimulus   bool          `json:"showStimulus"`
	Visual         *Visual       `json:"visual,omitempty"`
	QuestionNumber int           `json:"questionNumber,omitempty"`
	Question       string        `json:"question,omitempty"`
	Options        []OptionView  `json:"options,omitempty"`

	AskConfidence     bool `json:"askConfidence"`
	AskMemoryEstimate bool `json:"askMemoryEstimate"`

	Timed            bool  `json:"timed"`
	RemainingSeconds int   `json:"remainingSeconds"`
	PollAfterMS      int64 `json:"pollAfterMs"`

	Notice    string        `json:"notice,omitempty"`
	Completed bool          `json:"completed"`
	Export    *ExportStatus `json:"export,omitempty"`
}

func placeholder(s string) string {
	if s == "" {
		return MissingPlaceholder
	}
	return s
}

// View renders the current state. It never mutates the session.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := View{
		SessionID:     s.ID,
		Stage:         s.stage,
		Group:         s.group,
		Variation:     s.variation,
		Phase:         s.phase,
		GraphIndex:    s.graphIndex,
		QuestionIndex: s.questionIndex,
		StimulusCount: len(s.stimuli),
		Completed:     s.stage == StageEnd,
	}

	if s.stage != StageWelcome && s.stage != StageEnd {
		row := s.current()
		sv := &StimulusView{
			ChartNumber: row.ChartNumber,
			Condition:   row.Condition,
			Context:     placeholder(row.Context),
			ImageRef:    row.ImageRef,
		}
		if row.HasChartKey {
			sv.ChartDataKey = intPtr(row.ChartDataKey)
		}
		v.Stimulus = sv
		v.ShowStimulus = isDisplayStage(s.stage) ||
			(s.group == GroupG1 && (s.stage == StageQ1 || s.stage == StageQ2))
	}

	if isQuestionStage(s.stage) {
		q := s.current().Questions[s.questionIndex]
		v.QuestionNumber = s.questionIndex + 1
		v.Question = placeholder(q.Text)
		v.Options = make([]OptionView, stimulus.OptionsPerQuestion)
		for i, text := range q.Options {
			v.Options[i] = OptionView{Letter: stimulus.OptionLetter(i), Text: placeholder(text)}
		}
		v.AskConfidence = s.attachesConfidence()
	}
	v.AskMemoryEstimate = s.stage == StageG3Eval

	if limit, start := s.limitFor(); limit > 0 {
		now := s.clock.Now()
		v.Timed = true
		v.RemainingSeconds = RemainingSeconds(start, limit, now)
		if !IsExpired(start, limit, now) {
			v.PollAfterMS = s.timing.PollInterval.Milliseconds()
		}
	}

	if v.Completed && s.exported {
		st := &ExportStatus{Results: s.handles.Results, Log: s.handles.Log}
		if s.exportErr != nil {
			st.Error = s.exportErr.Error()
		}
		v.Export = st
	}
	return v
}
