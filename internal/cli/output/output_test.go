package output

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderer_EffectiveMode(t *testing.T) {
	tests := []struct {
		name  string
		mode  Mode
		isTTY bool
		want  Mode
	}{
		{name: "auto on tty", mode: ModeAuto, isTTY: true, want: ModeText},
		{name: "auto piped", mode: ModeAuto, isTTY: false, want: ModeMarkdown},
		{name: "empty is auto", mode: "", isTTY: true, want: ModeText},
		{name: "explicit json", mode: ModeJSON, isTTY: true, want: ModeJSON},
		{name: "explicit text piped", mode: ModeText, isTTY: false, want: ModeText},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRendererWithTTY(&bytes.Buffer{}, &bytes.Buffer{}, tt.isTTY, tt.mode)
			assert.Equal(t, tt.want, r.EffectiveMode())
		})
	}
}

func TestNewRenderer_BufferIsNotATerminal(t *testing.T) {
	r := NewRenderer(&bytes.Buffer{}, &bytes.Buffer{}, ModeAuto)
	assert.Equal(t, ModeMarkdown, r.EffectiveMode())
}

func TestRenderer_Table(t *testing.T) {
	rows := [][]any{{"vno", "Vilnius", 580000}, {"rix", nil, 600000}}

	t.Run("markdown", func(t *testing.T) {
		var out bytes.Buffer
		r := NewRendererWithTTY(&out, &bytes.Buffer{}, false, ModeMarkdown)
		r.Table([]string{"_id", "name", "population"}, rows)

		s := out.String()
		assert.Contains(t, s, "| _id | name | population |")
		assert.Contains(t, s, "| vno | Vilnius | 580000 |")
		assert.Contains(t, s, "| rix | NULL | 600000 |")
		assert.Contains(t, s, "(2 rows)")
	})

	t.Run("text", func(t *testing.T) {
		var out bytes.Buffer
		r := NewRendererWithTTY(&out, &bytes.Buffer{}, true, ModeText)
		r.Table([]string{"_id", "name"}, [][]any{{"vno", "Vilnius"}})

		s := out.String()
		assert.Contains(t, s, "Vilnius")
		assert.Contains(t, s, "─")
		assert.Contains(t, s, "(1 rows)")
	})

	t.Run("empty", func(t *testing.T) {
		var out bytes.Buffer
		r := NewRendererWithTTY(&out, &bytes.Buffer{}, true, ModeText)
		r.Table([]string{"_id"}, nil)
		assert.Equal(t, "(0 rows)\n", out.String())
	})
}

func TestRenderer_Records(t *testing.T) {
	var out bytes.Buffer
	r := NewRendererWithTTY(&out, &bytes.Buffer{}, false, ModeMarkdown)
	r.Records([]string{"_id"}, []map[string]any{
		{"_id": "a", "zeta": 1, "alpha": map[string]any{"lang": "lt"}},
		{"_id": "b", "beta": []any{"x", "y"}},
	})

	s := out.String()
	assert.Contains(t, s, "| _id | alpha | beta | zeta |")
	assert.Contains(t, s, `| a | {"lang":"lt"} | NULL | 1 |`)
	assert.Contains(t, s, `| b | NULL | ["x","y"] | NULL |`)
}

func TestRenderer_JSON(t *testing.T) {
	var out bytes.Buffer
	r := NewRendererWithTTY(&out, &bytes.Buffer{}, false, ModeJSON)
	require.NoError(t, r.JSON(map[string]any{"_id": "a"}))
	assert.Equal(t, "{\n  \"_id\": \"a\"\n}\n", out.String())
}

func TestRenderer_Warnf(t *testing.T) {
	var out, errOut bytes.Buffer
	r := NewRendererWithTTY(&out, &errOut, false, ModeText)
	r.Warnf("item %d failed", 2)
	assert.Empty(t, out.String())
	assert.Equal(t, "item 2 failed\n", errOut.String())
}

func TestFormatHelpers(t *testing.T) {
	assert.Equal(t, "## Plan", FormatHeader(2, "Plan"))
	assert.Equal(t, "```text\nfilter\n```", FormatCodeBlock("text", "filter\n"))
	assert.Equal(t, "NULL", FormatValue(nil))
	assert.Equal(t, "true", FormatValue(true))
	assert.Equal(t, "1.5", FormatValue(1.5))
}
