package scenario

import (
	"context"
	"fmt"

	"github.com/thruflo/keqa/internal/check"
	"github.com/thruflo/keqa/internal/outcome"
)

// DuplicateDetection submits text with repeated sentences and expects the
// duplicate check to flag the generated article, and a control text not
// to be flagged.
func DuplicateDetection() *Scenario {
	cases := []ContentCase{
		{
			Name:    "duplicated",
			Content: duplicatedText,
			Expect:  []Expectation{{Check: check.CheckDuplicateText, WantIssue: true}},
		},
		{
			Name:    "distinct",
			Content: distinctText,
			Expect:  []Expectation{{Check: check.CheckDuplicateText, WantIssue: false}},
		},
	}
	return &Scenario{
		Name:        "duplicate-detection",
		Description: "repeated sentences survive into articles and are detected",
		Threshold:   80,
		Tags:        []string{"content"},
		Run:         runCases(cases),
	}
}

// CodeBlocks checks code block handling with and without code present.
func CodeBlocks() *Scenario {
	return &Scenario{
		Name:        "code-blocks",
		Description: "code blocks are non-empty and enhanced; no code passes trivially",
		Threshold:   100,
		Tags:        []string{"content"},
		Run: func(ctx context.Context, env *Env, t *T) {
			ContentCase{
				Name:    "no-code",
				Content: noCodeText,
				Expect: []Expectation{
					{Check: check.CheckUnenhancedCode},
					{Check: check.CheckEmptyCodeBlocks},
				},
			}.Run(ctx, env, t)

			articles := ContentCase{
				Name:    "with-code",
				Content: codeText,
				Expect: []Expectation{
					{Check: check.CheckEmptyCodeBlocks},
					{Check: check.CheckUnenhancedCode},
				},
			}.Run(ctx, env, t)
			if articles == nil {
				return
			}

			total := 0
			var languages []string
			for _, a := range articles {
				r := check.CodeBlocks(a.Content)
				total += r.Total
				languages = append(languages, r.Languages...)
			}
			t.Record("with-code/blocks-present", outcome.Expect(total > 0,
				fmt.Sprintf("%d code block(s), languages %v", total, languages),
				"code was submitted but no code blocks were generated"))
		},
	}
}

// TOCAnchors checks heading ids, fragment links and the mini-TOC.
func TOCAnchors() *Scenario {
	return &Scenario{
		Name:        "toc-anchors",
		Description: "headings carry ids, the mini-TOC resolves and no links are phantom",
		Threshold:   90,
		Tags:        []string{"content"},
		Run: runCases([]ContentCase{{
			Name:    "headings",
			Content: headingsText,
			Expect: []Expectation{
				{Check: check.CheckBrokenAnchors},
				{Check: check.CheckMiniTOC},
				{Check: check.CheckHeadingsWithoutIDs},
			},
		}}),
	}
}

// ContentQuality applies the structural checks to a richer document.
func ContentQuality() *Scenario {
	return &Scenario{
		Name:        "content-quality",
		Description: "no raw markers, fragmented lists, placeholder images or skipped headings",
		Threshold:   80,
		Tags:        []string{"content"},
		Run: runCases([]ContentCase{{
			Name:    "quality",
			Content: qualityText,
			Expect: []Expectation{
				{Check: check.CheckForbiddenMarkers},
				{Check: check.CheckFragmentedLists},
				{Check: check.CheckPlaceholderImages},
				{Check: check.CheckHeadingHierarchy},
			},
		}}),
	}
}

func runCases(cases []ContentCase) func(context.Context, *Env, *T) {
	return func(ctx context.Context, env *Env, t *T) {
		for _, c := range cases {
			c.Run(ctx, env, t)
		}
	}
}
