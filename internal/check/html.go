package check

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const headingSelector = "h1, h2, h3, h4, h5, h6"

// AnchorReport relates heading ids to in-page fragment links. A link whose
// target is a heading id is coordinated; any other fragment link is broken.
type AnchorReport struct {
	HeadingIDs        []string
	Links             []string
	Coordinated       []string
	Broken            []string
	HeadingsWithoutID []string
}

// Anchors inspects headings and fragment links in html.
func Anchors(html string) AnchorReport {
	doc := parse(html)
	var r AnchorReport

	ids := map[string]bool{}
	doc.Find(headingSelector).Each(func(_ int, s *goquery.Selection) {
		if id, ok := s.Attr("id"); ok && strings.TrimSpace(id) != "" {
			ids[id] = true
			r.HeadingIDs = append(r.HeadingIDs, id)
			return
		}
		r.HeadingsWithoutID = append(r.HeadingsWithoutID, strings.TrimSpace(s.Text()))
	})

	doc.Find(`a[href^="#"]`).Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		target := strings.TrimPrefix(href, "#")
		if target == "" {
			return
		}
		r.Links = append(r.Links, target)
		if ids[target] {
			r.Coordinated = append(r.Coordinated, target)
			return
		}
		if decoded, err := url.PathUnescape(target); err == nil && ids[decoded] {
			r.Coordinated = append(r.Coordinated, target)
			return
		}
		r.Broken = append(r.Broken, target)
	})
	return r
}

// AnchorFinding reports broken fragment links ("phantom links").
func AnchorFinding(html string) Finding {
	r := Anchors(html)
	return Finding{
		Check:    CheckBrokenAnchors,
		Found:    len(r.Broken) > 0,
		Detail:   fmt.Sprintf("%d coordinated, %d broken", len(r.Coordinated), len(r.Broken)),
		Evidence: r.Broken,
	}
}

// HeadingIDFinding reports headings that cannot be linked to.
func HeadingIDFinding(html string) Finding {
	r := Anchors(html)
	f := Finding{
		Check:    CheckHeadingsWithoutIDs,
		Found:    len(r.HeadingsWithoutID) > 0,
		Evidence: r.HeadingsWithoutID,
	}
	if f.Found {
		f.Detail = plural(len(r.HeadingsWithoutID), "heading") + " without id"
	} else {
		f.Detail = fmt.Sprintf("all %d headings have ids", len(r.HeadingIDs))
	}
	return f
}

// TOCReport describes the in-article mini table of contents.
type TOCReport struct {
	Present    bool
	Entries    int
	Resolved   int
	Unresolved []string
}

// MiniTOC finds the first list whose links are all fragment links and
// checks every entry resolves to an element id.
func MiniTOC(html string) TOCReport {
	doc := parse(html)

	ids := map[string]bool{}
	doc.Find("[id]").Each(func(_ int, s *goquery.Selection) {
		id, _ := s.Attr("id")
		ids[id] = true
	})

	var r TOCReport
	doc.Find("ul, ol").EachWithBreak(func(_ int, list *goquery.Selection) bool {
		if !fragmentList(list) {
			return true
		}

		r.Present = true
		list.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
			href, _ := a.Attr("href")
			r.Entries++
			if ids[href[1:]] {
				r.Resolved++
			} else {
				r.Unresolved = append(r.Unresolved, href[1:])
			}
		})
		return false
	})
	return r
}

// fragmentList reports whether list has links and every one is an in-page
// fragment link.
func fragmentList(list *goquery.Selection) bool {
	links := list.Find("a[href]")
	if links.Length() == 0 {
		return false
	}
	ok := true
	links.EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href, _ := a.Attr("href")
		ok = strings.HasPrefix(href, "#") && len(href) > 1
		return ok
	})
	return ok
}

// MiniTOCFinding reports a missing mini-TOC or one with dangling entries.
func MiniTOCFinding(html string) Finding {
	r := MiniTOC(html)
	f := Finding{Check: CheckMiniTOC, Evidence: r.Unresolved}
	switch {
	case !r.Present:
		f.Found = true
		f.Detail = "no mini-TOC found"
	case len(r.Unresolved) > 0:
		f.Found = true
		f.Detail = fmt.Sprintf("%d of %d entries unresolved", len(r.Unresolved), r.Entries)
	default:
		f.Detail = fmt.Sprintf("all %d entries resolve", r.Entries)
	}
	return f
}

// CodeBlockReport summarizes <pre> blocks.
type CodeBlockReport struct {
	Total     int
	Empty     int
	Enhanced  int
	Languages []string
}

var enhancedClass = regexp.MustCompile(`\b(?:language-|lang-|hljs|highlight|line-numbers|code-block)`)

// CodeBlocks inspects every <pre> block. A block is enhanced when it or its
// <code> child carries a language, highlighting or line-number class.
func CodeBlocks(html string) CodeBlockReport {
	doc := parse(html)
	var r CodeBlockReport
	langs := map[string]bool{}

	doc.Find("pre").Each(func(_ int, pre *goquery.Selection) {
		r.Total++
		if strings.TrimSpace(pre.Text()) == "" {
			r.Empty++
		}

		classes := pre.AttrOr("class", "") + " " + pre.Find("code").AttrOr("class", "")
		_, hasLang := pre.Attr("data-language")
		if hasLang || enhancedClass.MatchString(classes) {
			r.Enhanced++
		}
		for _, c := range strings.Fields(classes) {
			for _, prefix := range []string{"language-", "lang-"} {
				if strings.HasPrefix(c, prefix) && len(c) > len(prefix) {
					langs[c[len(prefix):]] = true
				}
			}
		}
		if lang := pre.AttrOr("data-language", ""); lang != "" {
			langs[lang] = true
		}
	})

	for l := range langs {
		r.Languages = append(r.Languages, l)
	}
	sort.Strings(r.Languages)
	return r
}

// EmptyCodeFinding reports code blocks with no content.
func EmptyCodeFinding(html string) Finding {
	r := CodeBlocks(html)
	f := Finding{Check: CheckEmptyCodeBlocks, Found: r.Empty > 0}
	switch {
	case r.Total == 0:
		f.Detail = "no code blocks"
	case f.Found:
		f.Detail = fmt.Sprintf("%d of %d code blocks empty", r.Empty, r.Total)
	default:
		f.Detail = fmt.Sprintf("%s, none empty", plural(r.Total, "code block"))
	}
	return f
}

// EnhancedCodeFinding reports code blocks lacking enhancement. Content with
// no code blocks passes.
func EnhancedCodeFinding(html string) Finding {
	r := CodeBlocks(html)
	f := Finding{Check: CheckUnenhancedCode, Found: r.Enhanced < r.Total, Evidence: r.Languages}
	switch {
	case r.Total == 0:
		f.Detail = "no code blocks to enhance"
	case f.Found:
		f.Detail = fmt.Sprintf("%d of %d code blocks enhanced", r.Enhanced, r.Total)
	default:
		f.Detail = fmt.Sprintf("all %s enhanced", plural(r.Total, "code block"))
	}
	return f
}

// ListReport summarizes ordered lists.
type ListReport struct {
	Total      int
	Classed    int
	Fragmented int
}

// OrderedLists counts <ol> elements, those with CSS classes, and fragmented
// numbering: a single-item <ol> directly followed by another single-item
// <ol> that has no start attribute, so both render as "1.".
func OrderedLists(html string) ListReport {
	doc := parse(html)
	var r ListReport

	doc.Find("ol").Each(func(_ int, ol *goquery.Selection) {
		r.Total++
		if strings.TrimSpace(ol.AttrOr("class", "")) != "" {
			r.Classed++
		}
		if ol.ChildrenFiltered("li").Length() != 1 {
			return
		}
		next := ol.Next()
		if goquery.NodeName(next) != "ol" || next.ChildrenFiltered("li").Length() != 1 {
			return
		}
		if _, ok := next.Attr("start"); !ok {
			r.Fragmented++
		}
	})
	return r
}

// ListFinding reports fragmented ordered lists.
func ListFinding(html string) Finding {
	r := OrderedLists(html)
	f := Finding{Check: CheckFragmentedLists, Found: r.Fragmented > 0}
	if f.Found {
		f.Detail = fmt.Sprintf("%d fragmented of %d ordered lists", r.Fragmented, r.Total)
	} else {
		f.Detail = fmt.Sprintf("%s, %d classed, none fragmented", plural(r.Total, "ordered list"), r.Classed)
	}
	return f
}

// ImageReport summarizes <img> elements.
type ImageReport struct {
	Total        int
	RealURLs     int
	Placeholders int
	WithCaption  int
	Evidence     []string
}

// Images classifies image sources. Absolute http(s) URLs and /api/static or
// /static paths are real; empty sources and placeholder names are not.
func Images(html string) ImageReport {
	doc := parse(html)
	var r ImageReport

	doc.Find("img").Each(func(_ int, img *goquery.Selection) {
		r.Total++
		src := strings.TrimSpace(img.AttrOr("src", ""))

		switch {
		case src == "" || placeholderFile.MatchString(src):
			r.Placeholders++
			r.Evidence = append(r.Evidence, strconv.Quote(src))
		case strings.HasPrefix(src, "http://"), strings.HasPrefix(src, "https://"),
			strings.HasPrefix(src, "/api/static/"), strings.HasPrefix(src, "/static/"),
			strings.HasPrefix(src, "data:image/"):
			r.RealURLs++
		}

		if fig := img.Closest("figure"); fig.Length() > 0 && fig.Find("figcaption").Length() > 0 {
			r.WithCaption++
		}
	})
	return r
}

// ImageFinding reports placeholder images.
func ImageFinding(html string) Finding {
	r := Images(html)
	f := Finding{Check: CheckPlaceholderImages, Found: r.Placeholders > 0, Evidence: r.Evidence}
	if r.Total == 0 {
		f.Detail = "no images"
	} else {
		f.Detail = fmt.Sprintf("%d images: %d real, %d placeholder, %d captioned",
			r.Total, r.RealURLs, r.Placeholders, r.WithCaption)
	}
	return f
}

// HasHeadingHierarchy flags skipped heading levels, e.g. an <h4> straight
// after an <h2>.
func HasHeadingHierarchy(html string) Finding {
	doc := parse(html)
	var evidence []string
	prev := 0

	doc.Find(headingSelector).Each(func(_ int, h *goquery.Selection) {
		level := int(goquery.NodeName(h)[1] - '0')
		if prev > 0 && level > prev+1 {
			evidence = append(evidence, fmt.Sprintf("h%d after h%d: %s", level, prev, strings.TrimSpace(h.Text())))
		}
		prev = level
	})

	f := Finding{Check: CheckHeadingHierarchy, Found: len(evidence) > 0, Evidence: evidence}
	if f.Found {
		f.Detail = plural(len(evidence), "skipped heading level")
	} else {
		f.Detail = "heading levels are contiguous"
	}
	return f
}
