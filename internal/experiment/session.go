package experiment

import (
	"errors"
	"sync"
	"time"

	"github.com/kiliankoe/chartrecall/internal/stimulus"
)

var (
	ErrInvalidAction = errors.New("invalid action for stage")
	ErrInvalidAnswer = errors.New("invalid answer")
	ErrSessionEnded  = errors.New("session ended")
	ErrInvalidIndex  = errors.New("stimulus index out of range")
	ErrInvalidTiming = errors.New("invalid timing")
)

// Session is one participant's walk through the protocol of its group. All
// methods are safe for concurrent use; calls for the same session are
// serialised on its mutex.
type Session struct {
	ID        string
	CreatedAt time.Time

	variation Variation
	group     Group
	stimuli   []stimulus.Row

	stage         Stage
	graphIndex    int
	questionIndex int
	phase         Phase
	stageStart    time.Time
	questionStart time.Time

	responses []ResponseRecord
	events    []EventLogRecord

	timing Timing
	clock  Clock

	// set once a missing asset has been logged for the current stage entry
	assetNoted bool

	exported  bool
	exports   int // survives reset so repeated exports get distinct names
	handles   Handles
	exportErr error

	mu sync.Mutex
}

// NewSession starts a session at the welcome stage. stimuli must be the
// already filtered, non-empty selection for variation.
func NewSession(id string, variation Variation, group Group, stimuli []stimulus.Row, timing Timing, clock Clock) (*Session, error) {
	if len(stimuli) == 0 {
		return nil, &stimulus.EmptyFilterError{Variation: string(variation)}
	}
	if _, ok := ParseGroup(string(group)); !ok {
		return nil, ErrInvalidAction
	}
	if clock == nil {
		clock = SystemClock{}
	}
	timing.PollInterval = PollInterval(timing.PollInterval)
	rows := make([]stimulus.Row, len(stimuli))
	copy(rows, stimuli)

	now := clock.Now()
	s := &Session{
		ID:        id,
		CreatedAt: now,
		variation: variation,
		group:     group,
		stimuli:   rows,
		timing:    timing,
		clock:     clock,
	}
	s.reset()
	return s, nil
}

func initialPhase(g Group) Phase {
	if g == GroupG3 {
		return PhaseShow
	}
	return PhaseNone
}

// reset puts every progress field back to its initial value. The audit log
// is kept. Callers hold s.mu.
func (s *Session) reset() {
	now := s.clock.Now()
	s.stage = StageWelcome
	s.graphIndex = 0
	s.questionIndex = 0
	s.phase = initialPhase(s.group)
	s.stageStart = now
	s.questionStart = now
	s.responses = nil
	s.assetNoted = false
	s.exported = false
	s.handles = Handles{}
	s.exportErr = nil
}

// transition moves to stage at the given cursors, logging one event with
// the pre-transition snapshot. Both start timestamps restart.
func (s *Session) transition(action string, to Stage, graph, question int, extra map[string]any) {
	if extra == nil {
		extra = make(map[string]any, 1)
	}
	extra["to"] = string(to)
	s.logEvent(action, extra)

	now := s.clock.Now()
	s.stage = to
	s.graphIndex = graph
	s.questionIndex = question
	s.stageStart = now
	s.questionStart = now
	s.assetNoted = false
}

// firstStage is where each stimulus of the group begins.
func (s *Session) firstStage() Stage {
	switch {
	case s.group == GroupG3 && s.phase == PhaseQuestions:
		return StageG3Questions
	case s.group == GroupG3:
		return StageG3Show
	default:
		return StageContext
	}
}

// nextStimulus moves to the first stage of the following stimulus, or to
// end after the last one.
func (s *Session) nextStimulus(action string, extra map[string]any) {
	if s.graphIndex+1 < len(s.stimuli) {
		s.transition(action, s.firstStage(), s.graphIndex+1, 0, extra)
		return
	}
	s.transition(action, StageEnd, s.graphIndex, 0, extra)
}

// advance applies the transition table for the current group and stage.
func (s *Session) advance(action string, extra map[string]any) {
	switch s.stage {
	case StageWelcome:
		s.transition(action, s.firstStage(), 0, 0, extra)

	case StageContext:
		if s.group == GroupG2 && !s.timing.G2ShowStimulus {
			s.transition(action, StageG2Questions, s.graphIndex, 0, extra)
			return
		}
		s.transition(action, StageImage, s.graphIndex, 0, extra)

	case StageImage:
		if s.group == GroupG2 {
			s.transition(action, StageG2Questions, s.graphIndex, 0, extra)
			return
		}
		s.transition(action, StageQ1, s.graphIndex, 0, extra)

	case StageQ1:
		s.transition(action, StageQ2, s.graphIndex, 1, extra)

	case StageQ2:
		s.nextStimulus(action, extra)

	case StageG2Questions, StageG3Questions:
		if s.questionIndex+1 < stimulus.QuestionsPerRow {
			s.transition(action, s.stage, s.graphIndex, s.questionIndex+1, extra)
			return
		}
		s.nextStimulus(action, extra)

	case StageG3Show:
		s.transition(action, StageG3Eval, s.graphIndex, 0, extra)

	case StageG3Eval:
		if s.graphIndex+1 < len(s.stimuli) {
			s.transition(action, StageG3Show, s.graphIndex+1, 0, extra)
			return
		}
		s.transition(action, StageG3Questions, 0, 0, extra)
		s.phase = PhaseQuestions

	case StageEnd:
	}
}

func (s *Session) current() stimulus.Row {
	return s.stimuli[s.graphIndex]
}

func isQuestionStage(st Stage) bool {
	switch st {
	case StageQ1, StageQ2, StageG2Questions, StageG3Questions:
		return true
	}
	return false
}

func isDisplayStage(st Stage) bool {
	return st == StageImage || st == StageG3Show
}

func (s *Session) attachesConfidence() bool {
	return s.group != GroupG1
}

func validRating(n *int) bool {
	return n != nil && *n >= RatingMin && *n <= RatingMax
}

// Submit applies one participant action. A submission is applied even when
// the stage has already run out of time.
func (s *Session) Submit(a Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.stage == StageEnd:
		return ErrSessionEnded

	case s.stage == StageWelcome || s.stage == StageContext:
		if a.Kind != ActionContinue {
			return ErrInvalidAction
		}
		s.advance("continue", nil)

	case isDisplayStage(s.stage):
		if a.Kind != ActionContinue {
			return ErrInvalidAction
		}
		s.advance("skip_stimulus", map[string]any{
			"elapsed_ms": int(s.clock.Now().Sub(s.stageStart).Milliseconds()),
		})

	case isQuestionStage(s.stage):
		if a.Kind != ActionAnswer {
			return ErrInvalidAction
		}
		return s.answer(a)

	case s.stage == StageG3Eval:
		if a.Kind != ActionRate {
			return ErrInvalidAction
		}
		if !validRating(a.MemoryEstimate) {
			return ErrInvalidAnswer
		}
		estimate := *a.MemoryEstimate
		s.recordResponse(s.current(), nil, "", nil, "", nil, intPtr(estimate))
		s.advance("rate", map[string]any{"memory_estimate": estimate})

	default:
		return ErrInvalidAction
	}
	return nil
}

func (s *Session) answer(a Action) error {
	var answer *string
	if a.Answer != "" {
		if _, ok := stimulus.OptionIndex(a.Answer); !ok {
			return ErrInvalidAnswer
		}
	}
	var confidence *int
	if s.attachesConfidence() {
		switch {
		case a.Confidence == nil:
			confidence = intPtr(DefaultConfidence)
		case validRating(a.Confidence):
			confidence = intPtr(*a.Confidence)
		default:
			return ErrInvalidAnswer
		}
	}

	row := s.current()
	q := row.Questions[s.questionIndex]
	answerText := ""
	if a.Answer != "" {
		idx, _ := stimulus.OptionIndex(a.Answer)
		answer = strPtr(stimulus.OptionLetter(idx))
		answerText = q.Options[idx]
	}
	s.recordResponse(row, intPtr(s.questionIndex+1), q.Text, answer, answerText, confidence, nil)

	extra := map[string]any{"question": s.questionIndex + 1}
	if answer != nil {
		extra["answer"] = *answer
	}
	s.advance("answer", extra)
	return nil
}

// Tick auto-advances a timed stage whose limit has passed and reports
// whether it did. Polling an unexpired stage changes nothing.
func (s *Session) Tick() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	switch {
	case isDisplayStage(s.stage):
		if !IsExpired(s.stageStart, s.timing.DisplaySeconds, now) {
			return false
		}
		s.advance("timeout", map[string]any{"limit": s.timing.DisplaySeconds})
		return true

	case isQuestionStage(s.stage):
		if !IsExpired(s.questionStart, s.timing.QuestionSeconds, now) {
			return false
		}
		var confidence *int
		if s.attachesConfidence() {
			confidence = intPtr(DefaultConfidence)
		}
		row := s.current()
		q := row.Questions[s.questionIndex]
		s.recordResponse(row, intPtr(s.questionIndex+1), q.Text, nil, "", confidence, nil)
		s.advance("timeout", map[string]any{
			"question": s.questionIndex + 1,
			"limit":    s.timing.QuestionSeconds,
		})
		return true
	}
	return false
}

// limitFor returns the limit and anchor of the current stage; a zero limit
// means the stage is untimed.
func (s *Session) limitFor() (int, time.Time) {
	switch {
	case isDisplayStage(s.stage):
		return s.timing.DisplaySeconds, s.stageStart
	case isQuestionStage(s.stage):
		return s.timing.QuestionSeconds, s.questionStart
	}
	return 0, time.Time{}
}

// NoteMissingAsset records that the renderer could not find the asset of
// the current stimulus. It logs at most once per stage entry.
func (s *Session) NoteMissingAsset(kind, ref string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.assetNoted {
		return
	}
	s.assetNoted = true
	s.logEvent("missing_asset", map[string]any{"kind": kind, "ref": ref})
}

// Reassign switches the session to group and restarts it from welcome.
// Responses and cursors are discarded together; the audit log is kept.
func (s *Session) Reassign(group Group) error {
	g, ok := ParseGroup(string(group))
	if !ok {
		return ErrInvalidAction
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logEvent("dev_reassign_group", map[string]any{"from": string(s.group), "to": string(g)})
	s.group = g
	s.reset()
	return nil
}

// JumpTo moves to the first stage of stimulus index within the current
// phase. Recorded responses are kept.
func (s *Session) JumpTo(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.stimuli) {
		return ErrInvalidIndex
	}
	s.transition("dev_jump", s.firstStage(), index, 0, map[string]any{"index": index})
	s.exported = false
	return nil
}

// SetTiming overrides the display and question limits, in seconds.
func (s *Session) SetTiming(displaySeconds, questionSeconds int) error {
	if displaySeconds < 0 || questionSeconds < 0 {
		return ErrInvalidTiming
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timing.DisplaySeconds = displaySeconds
	s.timing.QuestionSeconds = questionSeconds
	s.logEvent("dev_set_timing", map[string]any{
		"display_seconds":  displaySeconds,
		"question_seconds": questionSeconds,
	})
	return nil
}

func (s *Session) Stage() Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stage
}

func (s *Session) Group() Group {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.group
}

func (s *Session) Variation() Variation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.variation
}

func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Cursor returns the stimulus and question indices.
func (s *Session) Cursor() (graph, question int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.graphIndex, s.questionIndex
}

func (s *Session) StageStartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stageStart
}

func (s *Session) Timing() Timing {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timing
}

func (s *Session) Completed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stage == StageEnd
}

func (s *Session) Responses() []ResponseRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ResponseRecord, len(s.responses))
	copy(out, s.responses)
	return out
}

func (s *Session) Events() []EventLogRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]EventLogRecord, len(s.events))
	copy(out, s.events)
	return out
}

// Snapshot returns the data handed to the exporter.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		SessionID:   s.ID,
		Sequence:    s.exports,
		Group:       s.group,
		Variation:   s.variation,
		CreatedAt:   s.CreatedAt,
		CompletedAt: s.clock.Now(),
		Responses:   make([]ResponseRecord, len(s.responses)),
		Events:      make([]EventLogRecord, len(s.events)),
	}
	copy(snap.Responses, s.responses)
	copy(snap.Events, s.events)
	return snap
}

// claimExport reports whether the caller should export the session now. It
// returns true once per completion.
func (s *Session) claimExport() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stage != StageEnd || s.exported {
		return false
	}
	s.exported = true
	s.exports++
	return true
}

func (s *Session) setExportResult(h Handles, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handles = h
	s.exportErr = err
	extra := map[string]any{"results": h.Results, "log": h.Log}
	action := "exported"
	if err != nil {
		action = "export_failed"
		extra["error"] = err.Error()
	}
	s.logEvent(action, extra)
}

// ExportResult returns the handles of the last export and its error.
func (s *Session) ExportResult() (Handles, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handles, s.exportErr
}
