package stimulus

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// QuestionsPerRow is the number of follow-up questions every stimulus carries.
	QuestionsPerRow = 3
	// OptionsPerQuestion is the number of answer options (A..D).
	OptionsPerQuestion = 4

	colChartNumber  = "ChartNumber"
	colCondition    = "Condition"
	colContext      = "TheContext"
	colImageFile    = "ImageFileName"
	colChartDataKey = "ChartDataKey"
)

// Variations are the inclusion filters a session can be assigned to. Each
// has an optional column of the same name in the stimulus source.
var Variations = []string{"V1", "V2", "V3", "V4"}

var optionLetters = [OptionsPerQuestion]string{"A", "B", "C", "D"}

// OptionLetter returns the label of the i-th option ("A" for 0).
func OptionLetter(i int) string {
	if i < 0 || i >= OptionsPerQuestion {
		return ""
	}
	return optionLetters[i]
}

// OptionIndex is the inverse of OptionLetter.
func OptionIndex(letter string) (int, bool) {
	for i, l := range optionLetters {
		if strings.EqualFold(l, letter) {
			return i, true
		}
	}
	return 0, false
}

type Question struct {
	Text    string                     `json:"text"`
	Options [OptionsPerQuestion]string `json:"options"`
}

// Row is one stimulus unit. Blank question or option cells are kept blank
// here; the session substitutes a placeholder when displaying them.
type Row struct {
	ChartNumber  string                    `json:"chartNumber"`
	Condition    string                    `json:"condition"`
	Context      string                    `json:"context"`
	ImageRef     string                    `json:"imageRef,omitempty"`
	ChartDataKey int                       `json:"chartDataKey,omitempty"`
	HasChartKey  bool                      `json:"hasChartKey"`
	Questions    [QuestionsPerRow]Question `json:"questions"`

	// nil means the source had no variation columns: included everywhere
	variations map[string]bool
}

// IncludedIn reports whether the row is flagged for the given variation.
func (r Row) IncludedIn(variation string) bool {
	if r.variations == nil {
		return true
	}
	included, known := r.variations[variation]
	if !known {
		return true
	}
	return included
}

type Catalog struct {
	Source  string
	Rows    []Row
	Dropped int
}

func requiredColumns() []string {
	cols := []string{colChartNumber, colCondition, colContext}
	for q := 1; q <= QuestionsPerRow; q++ {
		cols = append(cols, questionColumn(q))
		for o := 0; o < OptionsPerQuestion; o++ {
			cols = append(cols, optionColumn(q, o))
		}
	}
	return cols
}

func questionColumn(q int) string    { return fmt.Sprintf("Question%dText", q) }
func optionColumn(q, opt int) string { return fmt.Sprintf("Q%dOption%s", q, optionLetters[opt]) }

// Load reads the stimulus CSV at path.
func Load(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open stimulus source: %w", err)
	}
	defer f.Close()
	return Parse(f, path)
}

// Parse validates the required column set and builds the catalog. Rows
// without a chart number or condition are dropped rather than failing the
// load.
func Parse(r io.Reader, source string) (*Catalog, error) {
	t, err := readTable(r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", source, err)
	}
	if missing := t.missing(requiredColumns()); len(missing) > 0 {
		return nil, &SchemaError{Source: source, Missing: missing}
	}

	var flagCols []string
	for _, v := range Variations {
		if t.has(v) {
			flagCols = append(flagCols, v)
		}
	}

	c := &Catalog{Source: source}
	seen := make(map[string]bool)
	for i, rec := range t.rows {
		chart := normalizeChartNumber(t.get(rec, colChartNumber))
		cond := t.get(rec, colCondition)
		if chart == "" || cond == "" || seen[chart] {
			c.Dropped++
			log.Debug().Str("source", source).Int("line", i+2).Str("chart", chart).Msg("dropping stimulus row")
			continue
		}
		seen[chart] = true

		row := Row{
			ChartNumber: chart,
			Condition:   cond,
			Context:     t.get(rec, colContext),
		}
		if img := t.get(rec, colImageFile); img != "" {
			row.ImageRef = filepath.Base(strings.ReplaceAll(img, "\\", "/"))
		}
		if key, ok := parseInteger(t.get(rec, colChartDataKey)); ok {
			row.ChartDataKey, row.HasChartKey = key, true
		} else if key, ok := parseInteger(chart); ok {
			row.ChartDataKey, row.HasChartKey = key, true
		}
		for q := 0; q < QuestionsPerRow; q++ {
			row.Questions[q].Text = t.get(rec, questionColumn(q+1))
			for o := 0; o < OptionsPerQuestion; o++ {
				row.Questions[q].Options[o] = t.get(rec, optionColumn(q+1, o))
			}
		}
		if len(flagCols) > 0 {
			row.variations = make(map[string]bool, len(flagCols))
			for _, v := range flagCols {
				row.variations[v] = parseFlag(t.get(rec, v))
			}
		}
		c.Rows = append(c.Rows, row)
	}
	return c, nil
}

// FilterByVariation returns, in source order, the rows flagged for the
// variation. An empty selection is an *EmptyFilterError.
func (c *Catalog) FilterByVariation(variation string) ([]Row, error) {
	var out []Row
	for _, r := range c.Rows {
		if r.IncludedIn(variation) {
			out = append(out, r)
		}
	}
	if len(out) == 0 {
		return nil, &EmptyFilterError{Variation: variation}
	}
	return out, nil
}

func normalizeChartNumber(s string) string {
	if n, ok := parseInteger(s); ok {
		return strconv.Itoa(n)
	}
	return s
}

func parseFlag(s string) bool {
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f == 1
	}
	b, err := strconv.ParseBool(strings.ToLower(s))
	return err == nil && b
}

type cacheEntry struct {
	modTime time.Time
	size    int64
	catalog *Catalog
}

var catalogCache = struct {
	sync.Mutex
	entries map[string]cacheEntry
}{entries: make(map[string]cacheEntry)}

// LoadCached returns the catalog for path, reusing a previous load as long
// as the file's modification time and size are unchanged. Catalogs are
// never mutated after load so the cached value is shared across sessions.
func LoadCached(path string) (*Catalog, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat stimulus source: %w", err)
	}

	catalogCache.Lock()
	defer catalogCache.Unlock()
	if e, ok := catalogCache.entries[abs]; ok && e.modTime.Equal(info.ModTime()) && e.size == info.Size() {
		return e.catalog, nil
	}
	c, err := Load(abs)
	if err != nil {
		return nil, err
	}
	catalogCache.entries[abs] = cacheEntry{modTime: info.ModTime(), size: info.Size(), catalog: c}
	log.Info().Str("source", abs).Int("rows", len(c.Rows)).Int("dropped", c.Dropped).Msg("stimulus catalog loaded")
	return c, nil
}
