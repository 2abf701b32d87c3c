package service

import (
	"regexp"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/kdduha/eyeris/internal/apperrors"
)

var fencedBlock = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*\\n?(.*?)\\n?```")

// unfence returns the body of the first markdown code block, or the trimmed
// input when there is none.
func unfence(text string) string {
	if m := fencedBlock.FindStringSubmatch(text); len(m) > 1 {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(text)
}

// parseJSONAnalysis accepts any valid JSON document, fenced or bare.
func parseJSONAnalysis(provider, text string) (string, error) {
	body := unfence(text)
	if body == "" || !sonic.Valid([]byte(body)) {
		return "", apperrors.MalformedAnalysis(provider, "provider did not return valid JSON", nil)
	}
	return body, nil
}
