package prompt

import (
	"strings"

	"github.com/kdduha/eyeris/internal/apperrors"
)

// Format selects the shape of the analysis a provider is asked for.
type Format string

const (
	FormatJSON     Format = "json"
	FormatConcise  Format = "concise"
	FormatDetailed Format = "detailed"
	FormatList     Format = "list"
)

// Formats lists the supported formats in a stable order.
func Formats() []Format {
	return []Format{FormatJSON, FormatConcise, FormatDetailed, FormatList}
}

// Payload is the provider-agnostic instruction sent alongside the image.
type Payload struct {
	Format     Format
	Text       string
	ExpectJSON bool
}

var templates = map[Format]string{
	FormatJSON:     jsonTemplate,
	FormatConcise:  conciseTemplate,
	FormatDetailed: detailedTemplate,
	FormatList:     listTemplate,
}

// ParseFormat accepts a case-insensitive format name.
// Unknown values are an error, never a silent default.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := templates[f]; !ok {
		return "", apperrors.InvalidFormat(s)
	}
	return f, nil
}

// Build renders the instruction for format. It is pure and deterministic.
func Build(format Format) (Payload, error) {
	text, ok := templates[format]
	if !ok {
		return Payload{}, apperrors.InvalidFormat(string(format))
	}
	return Payload{
		Format:     format,
		Text:       text,
		ExpectJSON: format == FormatJSON,
	}, nil
}
