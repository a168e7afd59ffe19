package check

import (
	"regexp"
	"strings"
	"time"
	"unicode"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/dlclark/regexp2"
)

// repeatedSentence matches a whole sentence immediately followed by itself,
// so "Open the file. Open the file.txt" does not match. RE2 has no
// backreferences or lookaround, hence regexp2.
var repeatedSentence = func() *regexp2.Regexp {
	re := regexp2.MustCompile(`(?<![\w'])([A-Za-z][^.!?\n]{4,}[.!?])\s+\1(?=\s|$)`, regexp2.None)
	re.MatchTimeout = time.Second
	return re
}()

var (
	htmlTag         = regexp.MustCompile(`<[a-zA-Z][^>]*>`)
	sentenceEnd     = regexp.MustCompile(`[.!?]+(?:\s+|$)`)
	headingPrefix   = regexp.MustCompile(`^#{1,6}\s+`)
	listPrefix      = regexp.MustCompile(`^(?:[-*+]|\d+\.)\s+`)
	imageSyntax     = regexp.MustCompile(`!\[([^\]]*)\]\([^)]*\)`)
	linkSyntax      = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	htmlWrapper     = regexp.MustCompile(`(?i)<html[\s>]`)
	bodyWrapper     = regexp.MustCompile(`(?i)<body[\s>]`)
	placeholderFile = regexp.MustCompile(`(?i)\b(?:figure\d*|image\d+|placeholder[\w-]*)\.(?:png|jpe?g|gif|svg|webp)\b`)
)

// looksLikeHTML reports whether s contains at least one element tag.
func looksLikeHTML(s string) bool {
	return htmlTag.MatchString(s)
}

// PlainText converts HTML to text: block boundaries become newlines and
// markdown syntax is removed. Non-HTML input is returned trimmed.
func PlainText(html string) string {
	if !looksLikeHTML(html) {
		return strings.TrimSpace(html)
	}

	markdown, err := md.NewConverter("", true, nil).ConvertString(html)
	if err != nil {
		return strings.TrimSpace(parse(html).Text())
	}

	var lines []string
	inFence := false
	for _, line := range strings.Split(markdown, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			inFence = !inFence
			continue
		}
		if !inFence {
			trimmed = stripMarkdownLine(trimmed)
		}
		if trimmed != "" {
			lines = append(lines, trimmed)
		}
	}
	return strings.Join(lines, "\n")
}

// stripMarkdownLine removes block prefixes, link and image syntax, and
// unescaped emphasis markers, then resolves backslash escapes.
func stripMarkdownLine(line string) string {
	line = headingPrefix.ReplaceAllString(line, "")
	line = strings.TrimPrefix(line, "> ")
	line = listPrefix.ReplaceAllString(line, "")
	line = imageSyntax.ReplaceAllString(line, "$1")
	line = linkSyntax.ReplaceAllString(line, "$1")

	var sb strings.Builder
	runes := []rune(line)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r == '\\' && i+1 < len(runes) && escapable(runes[i+1]) {
			i++
			sb.WriteRune(runes[i])
			continue
		}
		if r == '*' || r == '_' || r == '`' {
			continue
		}
		sb.WriteRune(r)
	}
	return strings.TrimSpace(sb.String())
}

func escapable(r rune) bool {
	return unicode.IsPunct(r) || unicode.IsSymbol(r)
}

// WordCount counts words in the plain-text rendering of html.
func WordCount(html string) int {
	return len(strings.Fields(PlainText(html)))
}

// DuplicateText flags sentences that are immediately repeated, either
// verbatim ("Setup process. Setup process.") or as adjacent sentences that
// differ only in case and spacing. Sentences are compared within a block
// and across consecutive prose blocks (paragraphs, list items, quotes).
// Code blocks and the mini-TOC are ignored, so a TOC entry followed by its
// heading or a repeated line of code is not a duplicate.
func DuplicateText(content string) Finding {
	seen := map[string]bool{}
	var evidence []string
	add := func(s string) {
		key := normalizeSentence(s)
		if !seen[key] {
			seen[key] = true
			evidence = append(evidence, strings.TrimSpace(s))
		}
	}

	var scanErr error
	var prev string
	for _, b := range textBlocks(content) {
		if !b.prose {
			prev = ""
		}

		m, err := repeatedSentence.FindStringMatch(b.text)
		for err == nil && m != nil {
			add(m.GroupByNumber(1).String())
			m, err = repeatedSentence.FindNextMatch(m)
		}
		if err != nil && scanErr == nil {
			scanErr = err
		}

		for _, sentence := range sentences(b.text) {
			norm := normalizeSentence(sentence)
			if len(norm) < 5 {
				continue
			}
			if norm == prev {
				add(sentence)
			}
			prev = norm
		}
		if !b.prose {
			prev = ""
		}
	}

	f := Finding{Check: CheckDuplicateText, Found: len(evidence) > 0, Evidence: evidence}
	switch {
	case scanErr != nil:
		f.Detail = "duplicate scan stopped early: " + scanErr.Error()
	case f.Found:
		f.Detail = plural(len(evidence), "repeated sentence")
	default:
		f.Detail = "no repeated sentences"
	}
	return f
}

// textBlock is the text of one block element. Adjacent prose blocks are
// compared with each other; other blocks only internally.
type textBlock struct {
	text  string
	prose bool
}

const (
	proseSelector = "p, li, blockquote, dd"
	blockSelector = proseSelector + ", " + headingSelector + ", dt, td, th, figcaption, caption"
)

// textBlocks splits content into leaf blocks in document order, without
// code blocks or the mini-TOC. Plain text yields one prose block per line.
func textBlocks(content string) []textBlock {
	if !looksLikeHTML(content) {
		var out []textBlock
		for _, line := range strings.Split(content, "\n") {
			if line = strings.TrimSpace(line); line != "" {
				out = append(out, textBlock{text: line, prose: true})
			}
		}
		return out
	}

	doc := parse(content)
	doc.Find("pre, script, style").Remove()
	doc.Find("ul, ol").EachWithBreak(func(_ int, list *goquery.Selection) bool {
		if fragmentList(list) {
			list.Remove()
			return false
		}
		return true
	})

	var out []textBlock
	doc.Find(blockSelector).Each(func(_ int, s *goquery.Selection) {
		if s.Find(blockSelector).Length() > 0 {
			return
		}
		text := strings.Join(strings.Fields(s.Text()), " ")
		if text == "" {
			return
		}
		out = append(out, textBlock{text: text, prose: s.Is(proseSelector)})
	})
	if len(out) == 0 {
		if text := strings.Join(strings.Fields(doc.Text()), " "); text != "" {
			out = append(out, textBlock{text: text, prose: true})
		}
	}
	return out
}

// sentences splits text after each run of terminators that ends the text
// or precedes whitespace, so "file.txt" stays one word.
func sentences(text string) []string {
	var out []string
	start := 0
	for _, loc := range sentenceEnd.FindAllStringIndex(text, -1) {
		out = append(out, text[start:loc[1]])
		start = loc[1]
	}
	if start < len(text) {
		out = append(out, text[start:])
	}
	return out
}

func normalizeSentence(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// ForbiddenMarkers flags raw markup that should never survive rendering:
// code fences, full-document wrappers and placeholder image names.
func ForbiddenMarkers(content string) Finding {
	var evidence []string
	lower := strings.ToLower(content)

	switch {
	case strings.Contains(lower, "```html"):
		evidence = append(evidence, "```html fence")
	case strings.Contains(content, "```"):
		evidence = append(evidence, "bare ``` fence")
	}
	if strings.Contains(lower, "<!doctype html") {
		evidence = append(evidence, "<!DOCTYPE html>")
	}
	if htmlWrapper.MatchString(content) {
		evidence = append(evidence, "<html> wrapper")
	}
	if bodyWrapper.MatchString(content) {
		evidence = append(evidence, "<body> wrapper")
	}
	for _, name := range placeholderFile.FindAllString(content, -1) {
		evidence = append(evidence, "placeholder image "+name)
	}

	f := Finding{Check: CheckForbiddenMarkers, Found: len(evidence) > 0, Evidence: evidence}
	if f.Found {
		f.Detail = plural(len(evidence), "forbidden marker")
	} else {
		f.Detail = "no forbidden markers"
	}
	return f
}
