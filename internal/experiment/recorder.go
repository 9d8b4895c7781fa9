package experiment

import (
	"github.com/rs/zerolog/log"

	"github.com/kiliankoe/chartrecall/internal/stimulus"
)

// recordResponse appends one response for row. Callers hold s.mu.
func (s *Session) recordResponse(row stimulus.Row, questionNumber *int, questionText string, answer *string, answerText string, confidence, memoryEstimate *int) {
	if row.ChartNumber == "" {
		log.Warn().Str("session", s.ID).Msg("response without chart number discarded")
		return
	}
	now := s.clock.Now()
	start := s.questionStart
	if questionNumber == nil {
		start = s.stageStart
	}
	s.responses = append(s.responses, ResponseRecord{
		ChartNumber:         row.ChartNumber,
		Condition:           row.Condition,
		Group:               s.group,
		Variation:           s.variation,
		Timestamp:           now,
		QuestionNumber:      questionNumber,
		QuestionText:        questionText,
		Answer:              answer,
		AnswerText:          answerText,
		ResponseTimeSeconds: roundSeconds(now.Sub(start)),
		Confidence:          confidence,
		MemoryEstimate:      memoryEstimate,
		Phase:               s.phase,
	})
}

// logEvent appends an audit record carrying the current stage and cursors.
// Callers hold s.mu.
func (s *Session) logEvent(action string, extra map[string]any) {
	if s.events == nil {
		s.events = make([]EventLogRecord, 0, 32)
	}
	rec := EventLogRecord{
		Timestamp:     s.clock.Now(),
		Stage:         s.stage,
		Group:         s.group,
		Variation:     s.variation,
		GraphIndex:    s.graphIndex,
		QuestionIndex: s.questionIndex,
		Action:        action,
		Extra:         extra,
	}
	s.events = append(s.events, rec)
	log.Debug().
		Str("session", s.ID).
		Str("stage", string(rec.Stage)).
		Int("graph", rec.GraphIndex).
		Int("question", rec.QuestionIndex).
		Str("action", action).
		Msg("event")
}

func intPtr(n int) *int { return &n }

func strPtr(s string) *string { return &s }
