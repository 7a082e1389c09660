package output

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		input   string
		want    Format
		wantErr bool
	}{
		{"yaml", FormatYAML, false},
		{"yml", FormatYAML, false},
		{"YAML", FormatYAML, false},
		{"", FormatYAML, false},
		{"json", FormatJSON, false},
		{" json ", FormatJSON, false},
		{"table", "", true},
		{"xml", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseFormat(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPrintJSON(t *testing.T) {
	var buf bytes.Buffer
	err := PrintJSON(&buf, map[string]int{"port": 2121})
	require.NoError(t, err)
	assert.JSONEq(t, `{"port": 2121}`, buf.String())
}

func TestPrintYAML(t *testing.T) {
	var buf bytes.Buffer
	err := PrintYAML(&buf, map[string]int{"port": 2121})
	require.NoError(t, err)
	assert.Equal(t, "port: 2121\n", buf.String())
}
