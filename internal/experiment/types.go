package experiment

import (
	"time"
)

type Stage string

const (
	StageWelcome     Stage = "welcome"
	StageContext     Stage = "context"
	StageImage       Stage = "image"
	StageQ1          Stage = "q1"
	StageQ2          Stage = "q2"
	StageG2Questions Stage = "g2_questions"
	StageG3Show      Stage = "g3_show"
	StageG3Eval      Stage = "g3_eval"
	StageG3Questions Stage = "g3_questions"
	StageEnd         Stage = "end"
)

type Group string

const (
	GroupG1 Group = "G1"
	GroupG2 Group = "G2"
	GroupG3 Group = "G3"
)

var Groups = []Group{GroupG1, GroupG2, GroupG3}

type Variation string

const (
	VariationV1 Variation = "V1"
	VariationV2 Variation = "V2"
	VariationV3 Variation = "V3"
	VariationV4 Variation = "V4"
)

var Variations = []Variation{VariationV1, VariationV2, VariationV3, VariationV4}

// Phase separates the two halves of the G3 protocol. Other groups leave it
// empty.
type Phase string

const (
	PhaseNone      Phase = ""
	PhaseShow      Phase = "show"
	PhaseQuestions Phase = "questions"
)

type ActionKind string

const (
	ActionContinue ActionKind = "continue"
	ActionAnswer   ActionKind = "answer"
	ActionRate     ActionKind = "rate"
)

// Action is one participant submission.
type Action struct {
	Kind ActionKind `json:"kind"`
	// option letter A-D; empty means no selection
	Answer         string `json:"answer,omitempty"`
	Confidence     *int   `json:"confidence,omitempty"`
	MemoryEstimate *int   `json:"memoryEstimate,omitempty"`
}

const (
	// RatingMin and RatingMax bound confidence and memory estimates.
	RatingMin = 1
	RatingMax = 5

	// DefaultConfidence is attached when a G2/G3 question times out.
	DefaultConfidence = RatingMin

	MissingPlaceholder = "missing"
	NotFoundNotice     = "not found"
)

type ResponseRecord struct {
	ChartNumber         string    `json:"chartNumber"`
	Condition           string    `json:"condition"`
	Group               Group     `json:"group"`
	Variation           Variation `json:"variation"`
	Timestamp           time.Time `json:"timestamp"`
	QuestionNumber      *int      `json:"questionNumber"`
	QuestionText        string    `json:"questionText"`
	Answer              *string   `json:"answer"`
	AnswerText          string    `json:"answerText"`
	ResponseTimeSeconds float64   `json:"responseTimeSeconds"`
	Confidence          *int      `json:"confidence"`
	MemoryEstimate      *int      `json:"memoryEstimate"`
	Phase               Phase     `json:"phase"`
}

type EventLogRecord struct {
	Timestamp     time.Time      `json:"timestamp"`
	Stage         Stage          `json:"stage"`
	Group         Group          `json:"group"`
	Variation     Variation      `json:"variation"`
	GraphIndex    int            `json:"graphIndex"`
	QuestionIndex int            `json:"questionIndex"`
	Action        string         `json:"action"`
	Extra         map[string]any `json:"extra,omitempty"`
}

// Timing holds the stage limits of a session, in seconds. A question limit
// of zero leaves question stages untimed.
type Timing struct {
	DisplaySeconds  int           `json:"displaySeconds"`
	QuestionSeconds int           `json:"questionSeconds"`
	G2ShowStimulus  bool          `json:"g2ShowStimulus"`
	PollInterval    time.Duration `json:"-"`
}

func DefaultTiming() Timing {
	return Timing{
		DisplaySeconds:  30,
		QuestionSeconds: 0,
		G2ShowStimulus:  true,
		PollInterval:    MinPollInterval,
	}
}
