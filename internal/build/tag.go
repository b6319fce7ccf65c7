package build

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/distribution/reference"
)

var tagUnsafe = regexp.MustCompile(`[^a-z0-9._-]+`)

func tagComponent(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = tagUnsafe.ReplaceAllString(s, "-")
	return strings.Trim(s, "-._")
}

// ImageTag derives the image tag for a function: {stack}-{function} with an
// optional -{provider} suffix.
func ImageTag(stackName, function, provider string) (string, error) {
	parts := []string{tagComponent(stackName), tagComponent(function)}
	if p := tagComponent(provider); p != "" {
		parts = append(parts, p)
	}
	tag := strings.Join(parts, "-")
	if _, err := reference.ParseNormalizedNamed(tag); err != nil {
		return "", fmt.Errorf("derive image tag for %s/%s: %w", stackName, function, err)
	}
	return tag, nil
}
