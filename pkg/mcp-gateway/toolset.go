package mcpgateway

import (
	"slices"
	"strings"
)

// ToolCategory groups tools so they can be enabled or disabled together.
// Every tool belongs to exactly one category.
type ToolCategory string

const (
	CategoryAnalysis        ToolCategory = "analysis"
	CategoryIssues          ToolCategory = "issues"
	CategoryProjects        ToolCategory = "projects"
	CategoryQualityGates    ToolCategory = "quality-gates"
	CategoryRules           ToolCategory = "rules"
	CategorySources         ToolCategory = "sources"
	CategoryMeasures        ToolCategory = "measures"
	CategoryLanguages       ToolCategory = "languages"
	CategoryPortfolios      ToolCategory = "portfolios"
	CategorySystem          ToolCategory = "system"
	CategoryWebhooks        ToolCategory = "webhooks"
	CategoryDependencyRisks ToolCategory = "dependency-risks"
	// CategoryExternal is the default category of tools proxied from backends.
	CategoryExternal ToolCategory = "external"
)

var allCategories = []ToolCategory{
	CategoryAnalysis,
	CategoryIssues,
	CategoryProjects,
	CategoryQualityGates,
	CategoryRules,
	CategorySources,
	CategoryMeasures,
	CategoryLanguages,
	CategoryPortfolios,
	CategorySystem,
	CategoryWebhooks,
	CategoryDependencyRisks,
	CategoryExternal,
}

// AllCategories returns every known category.
func AllCategories() []ToolCategory {
	return slices.Clone(allCategories)
}

// ParseCategory resolves a category key, ignoring surrounding space and case.
func ParseCategory(key string) (ToolCategory, bool) {
	normalized := ToolCategory(strings.ToLower(strings.TrimSpace(key)))
	if normalized == "" || !slices.Contains(allCategories, normalized) {
		return "", false
	}
	return normalized, true
}

// CategorySet is a set of enabled categories. The zero value enables every
// category. The projects category is always enabled.
type CategorySet struct {
	restricted bool
	members    map[ToolCategory]struct{}
}

// NewCategorySet returns a set enabling only the given categories (plus
// projects).
func NewCategorySet(categories ...ToolCategory) CategorySet {
	s := CategorySet{restricted: true, members: make(map[ToolCategory]struct{}, len(categories))}
	for _, c := range categories {
		s.members[c] = struct{}{}
	}
	return s
}

// ParseCategories parses a comma-separated list of category keys. Unknown
// keys are ignored. A blank list enables every category.
func ParseCategories(list string) CategorySet {
	if strings.TrimSpace(list) == "" {
		return CategorySet{}
	}
	var categories []ToolCategory
	for _, part := range strings.Split(list, ",") {
		if c, ok := ParseCategory(part); ok {
			categories = append(categories, c)
		}
	}
	return NewCategorySet(categories...)
}

// Restricted reports whether the set narrows the category list at all.
func (s CategorySet) Restricted() bool { return s.restricted }

// Allows reports whether tools of category c are enabled.
func (s CategorySet) Allows(c ToolCategory) bool {
	if c == CategoryProjects || !s.restricted {
		return true
	}
	_, ok := s.members[c]
	return ok
}

// Categories lists the enabled categories in canonical order.
func (s CategorySet) Categories() []ToolCategory {
	var out []ToolCategory
	for _, c := range allCategories {
		if s.Allows(c) {
			out = append(out, c)
		}
	}
	return out
}

func (s CategorySet) String() string {
	if !s.restricted {
		return "all"
	}
	keys := make([]string, 0, len(s.members))
	for _, c := range s.Categories() {
		keys = append(keys, string(c))
	}
	return strings.Join(keys, ",")
}

// categoryOf maps a backend toolset key to its category, falling back to
// CategoryExternal for unknown keys.
func categoryOf(toolset string) ToolCategory {
	if c, ok := ParseCategory(toolset); ok {
		return c
	}
	return CategoryExternal
}
