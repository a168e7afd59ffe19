// Package check holds the content assertions applied to generated articles.
// Every function is pure and never panics; each returns a Finding, where
// Found means an issue was detected, together with a human-readable detail.
package check

import (
	"fmt"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Check names, used in Findings and in declarative expectations.
const (
	CheckDuplicateText      = "duplicate_text"
	CheckForbiddenMarkers   = "forbidden_markers"
	CheckBrokenAnchors      = "broken_anchors"
	CheckMiniTOC            = "mini_toc"
	CheckEmptyCodeBlocks    = "empty_code_blocks"
	CheckUnenhancedCode     = "unenhanced_code_blocks"
	CheckFragmentedLists    = "fragmented_lists"
	CheckPlaceholderImages  = "placeholder_images"
	CheckHeadingHierarchy   = "heading_hierarchy"
	CheckHeadingsWithoutIDs = "headings_without_ids"
)

// Finding is the result of one check.
type Finding struct {
	Check    string   `json:"check"`
	Found    bool     `json:"found"`
	Detail   string   `json:"detail"`
	Evidence []string `json:"evidence,omitempty"`
}

func (f Finding) String() string {
	state := "clean"
	if f.Found {
		state = "issue found"
	}
	return fmt.Sprintf("%s: %s (%s)", f.Check, state, f.Detail)
}

var registry = map[string]func(string) Finding{
	CheckDuplicateText:      DuplicateText,
	CheckForbiddenMarkers:   ForbiddenMarkers,
	CheckBrokenAnchors:      AnchorFinding,
	CheckMiniTOC:            MiniTOCFinding,
	CheckEmptyCodeBlocks:    EmptyCodeFinding,
	CheckUnenhancedCode:     EnhancedCodeFinding,
	CheckFragmentedLists:    ListFinding,
	CheckPlaceholderImages:  ImageFinding,
	CheckHeadingHierarchy:   HasHeadingHierarchy,
	CheckHeadingsWithoutIDs: HeadingIDFinding,
}

// Run applies the named check to content.
func Run(name, content string) (Finding, error) {
	fn, ok := registry[name]
	if !ok {
		return Finding{}, fmt.Errorf("unknown check %q", name)
	}
	return fn(content), nil
}

// Names lists every check Run accepts.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// parse returns a document for html. Parsing a string cannot fail in
// practice, but callers still get an empty document rather than nil.
func parse(html string) *goquery.Document {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		doc, _ = goquery.NewDocumentFromReader(strings.NewReader(""))
	}
	return doc
}

// plural formats n with a noun, e.g. "1 link", "3 links".
func plural(n int, noun string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", noun)
	}
	return fmt.Sprintf("%d %ss", n, noun)
}
