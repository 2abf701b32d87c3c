package prompt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kdduha/eyeris/internal/apperrors"
)

func TestParseFormat(t *testing.T) {
	tests := map[string]Format{
		"json":      FormatJSON,
		"JSON":      FormatJSON,
		" concise ": FormatConcise,
		"Detailed":  FormatDetailed,
		"list":      FormatList,
	}
	for in, want := range tests {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
}

func TestParseFormatRejectsUnknown(t *testing.T) {
	for _, in := range []string{"xml", "", "yaml", "json5"} {
		_, err := ParseFormat(in)
		assert.True(t, apperrors.Is(err, apperrors.KindInvalidFormat), "%q: %v", in, err)
	}
}

func TestBuildIsDeterministic(t *testing.T) {
	for _, f := range Formats() {
		first, err := Build(f)
		require.NoError(t, err)
		second, err := Build(f)
		require.NoError(t, err)

		assert.Equal(t, first, second)
		assert.Equal(t, []byte(first.Text), []byte(second.Text))
		assert.NotEmpty(t, first.Text)
	}
}

func TestBuildJSONExpectsJSON(t *testing.T) {
	p, err := Build(FormatJSON)
	require.NoError(t, err)

	assert.True(t, p.ExpectJSON)
	for _, section := range []string{`"objects"`, `"colors"`, `"composition"`, `"text"`, `"mood"`} {
		assert.Contains(t, p.Text, section)
	}

	for _, f := range []Format{FormatConcise, FormatDetailed, FormatList} {
		p, err := Build(f)
		require.NoError(t, err)
		assert.False(t, p.ExpectJSON, f)
	}
}

func TestBuildRejectsUnknown(t *testing.T) {
	_, err := Build(Format("xml"))
	assert.True(t, apperrors.Is(err, apperrors.KindInvalidFormat))
}
