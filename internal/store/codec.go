// Package store persists exported sessions: CSV tables on disk and an
// optional SQLite mirror.
package store

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/kiliankoe/chartrecall/internal/experiment"
)

var responseColumns = []string{
	"chart_number", "condition", "group", "variation", "timestamp",
	"question_number", "question_text", "answer", "answer_text",
	"response_time_seconds", "confidence", "memory_estimate", "phase",
}

var eventColumns = []string{
	"timestamp", "stage", "group", "variation", "graph_index",
	"question_index", "action", "extra",
}

// an empty cell encodes nil
func formatIntPtr(n *int) string {
	if n == nil {
		return ""
	}
	return strconv.Itoa(*n)
}

func formatStrPtr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func parseIntPtr(s string) (*int, error) {
	if s == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func parseStrPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func EncodeResponses(w io.Writer, recs []experiment.ResponseRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(responseColumns); err != nil {
		return err
	}
	for _, r := range recs {
		row := []string{
			r.ChartNumber,
			r.Condition,
			string(r.Group),
			string(r.Variation),
			r.Timestamp.UTC().Format(time.RFC3339Nano),
			formatIntPtr(r.QuestionNumber),
			r.QuestionText,
			formatStrPtr(r.Answer),
			r.AnswerText,
			strconv.FormatFloat(r.ResponseTimeSeconds, 'f', -1, 64),
			formatIntPtr(r.Confidence),
			formatIntPtr(r.MemoryEstimate),
			string(r.Phase),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func EncodeEvents(w io.Writer, recs []experiment.EventLogRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(eventColumns); err != nil {
		return err
	}
	for _, e := range recs {
		extra := ""
		if len(e.Extra) > 0 {
			b, err := json.Marshal(e.Extra)
			if err != nil {
				return fmt.Errorf("encode extra of %q: %w", e.Action, err)
			}
			extra = string(b)
		}
		row := []string{
			e.Timestamp.UTC().Format(time.RFC3339Nano),
			string(e.Stage),
			string(e.Group),
			string(e.Variation),
			strconv.Itoa(e.GraphIndex),
			strconv.Itoa(e.QuestionIndex),
			e.Action,
			extra,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// readRows reads a CSV with the expected header and returns its records
// as column-name maps.
func readRows(r io.Reader, want []string) ([]map[string]string, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[h] = i
	}
	for _, col := range want {
		if _, ok := idx[col]; !ok {
			return nil, fmt.Errorf("missing column %q", col)
		}
	}
	var out []map[string]string
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		m := make(map[string]string, len(want))
		for _, col := range want {
			m[col] = rec[idx[col]]
		}
		out = append(out, m)
	}
}

func DecodeResponses(r io.Reader) ([]experiment.ResponseRecord, error) {
	rows, err := readRows(r, responseColumns)
	if err != nil {
		return nil, err
	}
	out := make([]experiment.ResponseRecord, 0, len(rows))
	for i, m := range rows {
		rec := experiment.ResponseRecord{
			ChartNumber:  m["chart_number"],
			Condition:    m["condition"],
			Group:        experiment.Group(m["group"]),
			Variation:    experiment.Variation(m["variation"]),
			QuestionText: m["question_text"],
			Answer:       parseStrPtr(m["answer"]),
			AnswerText:   m["answer_text"],
			Phase:        experiment.Phase(m["phase"]),
		}
		if rec.Timestamp, err = time.Parse(time.RFC3339Nano, m["timestamp"]); err != nil {
			return nil, fmt.Errorf("row %d timestamp: %w", i+1, err)
		}
		if rec.QuestionNumber, err = parseIntPtr(m["question_number"]); err != nil {
			return nil, fmt.Errorf("row %d question_number: %w", i+1, err)
		}
		if rec.ResponseTimeSeconds, err = strconv.ParseFloat(m["response_time_seconds"], 64); err != nil {
			return nil, fmt.Errorf("row %d response_time_seconds: %w", i+1, err)
		}
		if rec.Confidence, err = parseIntPtr(m["confidence"]); err != nil {
			return nil, fmt.Errorf("row %d confidence: %w", i+1, err)
		}
		if rec.MemoryEstimate, err = parseIntPtr(m["memory_estimate"]); err != nil {
			return nil, fmt.Errorf("row %d memory_estimate: %w", i+1, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func DecodeEvents(r io.Reader) ([]experiment.EventLogRecord, error) {
	rows, err := readRows(r, eventColumns)
	if err != nil {
		return nil, err
	}
	out := make([]experiment.EventLogRecord, 0, len(rows))
	for i, m := range rows {
		e := experiment.EventLogRecord{
			Stage:     experiment.Stage(m["stage"]),
			Group:     experiment.Group(m["group"]),
			Variation: experiment.Variation(m["variation"]),
			Action:    m["action"],
		}
		if e.Timestamp, err = time.Parse(time.RFC3339Nano, m["timestamp"]); err != nil {
			return nil, fmt.Errorf("row %d timestamp: %w", i+1, err)
		}
		if e.GraphIndex, err = strconv.Atoi(m["graph_index"]); err != nil {
			return nil, fmt.Errorf("row %d graph_index: %w", i+1, err)
		}
		if e.QuestionIndex, err = strconv.Atoi(m["question_index"]); err != nil {
			return nil, fmt.Errorf("row %d question_index: %w", i+1, err)
		}
		if raw := m["extra"]; raw != "" {
			if e.Extra, err = decodeExtra(raw); err != nil {
				return nil, fmt.Errorf("row %d extra: %w", i+1, err)
			}
		}
		out = append(out, e)
	}
	return out, nil
}

// decodeExtra parses an event payload. Whole numbers come back as int and
// other numbers as float64, matching what sessions put into Extra.
func decodeExtra(raw string) (map[string]any, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var extra map[string]any
	if err := dec.Decode(&extra); err != nil {
		return nil, err
	}
	for k, v := range extra {
		extra[k] = fromJSONNumber(v)
	}
	return extra, nil
}

func fromJSONNumber(v any) any {
	switch t := v.(type) {
	case json.Number:
		if n, err := strconv.Atoi(t.String()); err == nil {
			return n
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case map[string]any:
		for k, e := range t {
			t[k] = fromJSONNumber(e)
		}
		return t
	case []any:
		for i, e := range t {
			t[i] = fromJSONNumber(e)
		}
		return t
	default:
		return v
	}
}
