package render

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiliankoe/chartrecall/internal/stimulus"
)

func f(v float64) *float64 { return &v }

type decodedOptions struct {
	Series []struct {
		Name string            `json:"name"`
		Type string            `json:"type"`
		Data []json.RawMessage `json:"data"`
	} `json:"series"`
	XAxis []struct {
		Data []string `json:"data"`
	} `json:"xAxis"`
}

func decode(t *testing.T, options map[string]interface{}) decodedOptions {
	t.Helper()
	raw, err := json.Marshal(options)
	require.NoError(t, err)
	var out decodedOptions
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func TestBarOptionsSingleSeries(t *testing.T) {
	points := []stimulus.ChartPoint{
		{Label: "North", ValueA: f(1250), ColorA: "#ff0000"},
		{Label: "South", ValueA: nil},
	}
	got := decode(t, BarOptions("Chart 3", points))

	require.Len(t, got.Series, 1)
	assert.Equal(t, "A", got.Series[0].Name)
	assert.Equal(t, "bar", got.Series[0].Type)
	assert.Len(t, got.Series[0].Data, 2)
	require.Len(t, got.XAxis, 1)
	assert.Equal(t, []string{"North", "South"}, got.XAxis[0].Data)
}

func TestBarOptionsTwoSeries(t *testing.T) {
	points := []stimulus.ChartPoint{
		{Label: "2019", ValueA: f(10), ValueB: f(12)},
		{Label: "2020", ValueA: f(11)},
	}
	got := decode(t, BarOptions("", points))
	require.Len(t, got.Series, 2)
	assert.Equal(t, "B", got.Series[1].Name)
	assert.Len(t, got.Series[1].Data, 2)
}

func TestBarOptionsEmpty(t *testing.T) {
	got := decode(t, BarOptions("nothing", nil))
	require.Len(t, got.Series, 1)
	assert.Empty(t, got.Series[0].Data)
}
