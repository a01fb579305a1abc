package org

import (
	"regexp"
	"strings"
)

// Slugs that collide with application routes and can never name a tenant.
var reservedSlugs = map[string]bool{
	"organization":  true,
	"organizations": true,
	"onboarding":    true,
	"no-access":     true,
	"signin":        true,
	"signup":        true,
	"document":      true,
	"api":           true,
	"getimage":      true,
}

var whitespaceRe = regexp.MustCompile(`\s+`)

// Slugify derives a slug from a display name: lowercased, runs of
// whitespace collapsed to single hyphens.
func Slugify(name string) string {
	return whitespaceRe.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "-")
}

// IsReservedSlug reports whether the slug (case-insensitive) is reserved.
func IsReservedSlug(slug string) bool {
	return reservedSlugs[strings.ToLower(slug)]
}
