package stimulus

import (
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

const (
	colChartID = "ChartID"
	colLabel   = "Label"
	colValueA  = "ValueA"
	colValueB  = "ValueB"
	colColorA  = "ColorA"
	colColorB  = "ColorB"
)

// ChartPoint is one bar (or pair of bars) of a chart drawn from data
// instead of an image asset.
type ChartPoint struct {
	Label  string   `json:"label"`
	ValueA *float64 `json:"valueA"`
	ValueB *float64 `json:"valueB,omitempty"`
	ColorA string   `json:"colorA,omitempty"`
	ColorB string   `json:"colorB,omitempty"`
}

// ChartDataset maps chart ids to their ordered points. A nil dataset is
// valid and behaves as empty.
type ChartDataset struct {
	Source string
	points map[int][]ChartPoint
}

func LoadChartData(path string) (*ChartDataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open chart data: %w", err)
	}
	defer f.Close()
	return ParseChartData(f, path)
}

func ParseChartData(r io.Reader, source string) (*ChartDataset, error) {
	t, err := readTable(r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", source, err)
	}
	if missing := t.missing([]string{colChartID, colLabel, colValueA}); len(missing) > 0 {
		return nil, &SchemaError{Source: source, Missing: missing}
	}

	d := &ChartDataset{Source: source, points: make(map[int][]ChartPoint)}
	for _, rec := range t.rows {
		id, ok := parseInteger(t.get(rec, colChartID))
		if !ok {
			continue
		}
		d.points[id] = append(d.points[id], ChartPoint{
			Label:  t.get(rec, colLabel),
			ValueA: ParseValue(t.get(rec, colValueA)),
			ValueB: ParseValue(t.get(rec, colValueB)),
			ColorA: t.get(rec, colColorA),
			ColorB: t.get(rec, colColorB),
		})
	}
	return d, nil
}

// Slice returns a copy of the points for id, or nil when the id is unknown
// or no dataset is loaded.
func (d *ChartDataset) Slice(id int) []ChartPoint {
	if d == nil {
		return nil
	}
	pts := d.points[id]
	if len(pts) == 0 {
		return nil
	}
	out := make([]ChartPoint, len(pts))
	copy(out, pts)
	return out
}

func (d *ChartDataset) Has(id int) bool {
	return d != nil && len(d.points[id]) > 0
}

func RemoveThousandsSeparators(s string) string {
	return strings.ReplaceAll(s, ",", "")
}

func RemovePercentSign(s string) string {
	return strings.ReplaceAll(s, "%", "")
}

// ParseValue cleans a numeric cell and parses it. Blank or unparsable cells
// yield nil.
func ParseValue(s string) *float64 {
	s = strings.TrimSpace(RemovePercentSign(RemoveThousandsSeparators(s)))
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}
