package fakeengine

import (
	"fmt"
	"html"
	"regexp"
	"strings"
	"unicode"
)

var (
	headingLine = regexp.MustCompile(`^(#{1,5})\s+(.+)$`)
	orderedItem = regexp.MustCompile(`^\d+[.)]\s+(.+)$`)
	bulletItem  = regexp.MustCompile(`^[-*+]\s+(.+)$`)
	imageLine   = regexp.MustCompile(`^!\[([^\]]*)\]\(([^)\s]*)\)$`)
	anyTag      = regexp.MustCompile(`<[a-zA-Z][^>]*>`)
	tagOrClose  = regexp.MustCompile(`</?[a-zA-Z][^>]*>`)
	headingTag  = regexp.MustCompile(`(?is)<h[1-6][^>]*>(.*?)</h[1-6]>`)
)

// phantomTarget is the fragment injected into the mini-TOC when phantom
// links are enabled. No heading ever carries it.
const phantomTarget = "section-that-does-not-exist"

type heading struct {
	level int
	id    string
	text  string
}

// rendered is an article body generated from submitted text.
type rendered struct {
	title string
	html  string
}

// render turns submitted text into article HTML the way the engine
// presents it: "#" lines become linkable headings listed in a mini-TOC,
// fenced code becomes highlighted code blocks, and paragraphs are kept
// verbatim. Input that is already HTML is returned unchanged.
func render(text string, phantomLinks bool) rendered {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	if anyTag.MatchString(text) {
		return rendered{title: titleFrom(text, nil), html: strings.TrimSpace(text)}
	}

	var (
		body     strings.Builder
		headings []heading
		para     []string
		listTag  string
		inFence  bool
		lang     string
		code     []string
		usedIDs  = map[string]int{}
	)

	flushPara := func() {
		if len(para) > 0 {
			fmt.Fprintf(&body, "<p>%s</p>\n", html.EscapeString(strings.Join(para, " ")))
			para = nil
		}
	}
	closeList := func() {
		if listTag != "" {
			fmt.Fprintf(&body, "</%s>\n", listTag)
			listTag = ""
		}
	}
	openList := func(tag string) {
		if listTag == tag {
			return
		}
		closeList()
		if tag == "ol" {
			body.WriteString("<ol class=\"steps\">\n")
		} else {
			body.WriteString("<ul>\n")
		}
		listTag = tag
	}

	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)

		if strings.HasPrefix(line, "```") {
			if inFence {
				if lang == "" {
					lang = "text"
				}
				fmt.Fprintf(&body, "<pre><code class=\"language-%s\">%s</code></pre>\n",
					html.EscapeString(lang), html.EscapeString(strings.Join(code, "\n")))
				inFence, lang, code = false, "", nil
				continue
			}
			flushPara()
			closeList()
			inFence = true
			lang = strings.TrimSpace(strings.TrimPrefix(line, "```"))
			continue
		}
		if inFence {
			code = append(code, strings.TrimRight(raw, " \t"))
			continue
		}

		switch {
		case line == "":
			flushPara()
			closeList()
		case headingLine.MatchString(line):
			flushPara()
			closeList()
			m := headingLine.FindStringSubmatch(line)
			h := heading{level: len(m[1]) + 1, text: strings.TrimSpace(m[2])}
			h.id = uniqueID(slugify(h.text), usedIDs)
			headings = append(headings, h)
			fmt.Fprintf(&body, "<h%d id=\"%s\">%s</h%d>\n", h.level, h.id, html.EscapeString(h.text), h.level)
		case orderedItem.MatchString(line):
			flushPara()
			openList("ol")
			fmt.Fprintf(&body, "<li>%s</li>\n", html.EscapeString(orderedItem.FindStringSubmatch(line)[1]))
		case bulletItem.MatchString(line):
			flushPara()
			openList("ul")
			fmt.Fprintf(&body, "<li>%s</li>\n", html.EscapeString(bulletItem.FindStringSubmatch(line)[1]))
		case imageLine.MatchString(line):
			flushPara()
			closeList()
			m := imageLine.FindStringSubmatch(line)
			alt, src := html.EscapeString(m[1]), html.EscapeString(m[2])
			fmt.Fprintf(&body, "<figure><img src=\"%s\" alt=\"%s\"><figcaption>%s</figcaption></figure>\n", src, alt, alt)
		default:
			closeList()
			para = append(para, line)
		}
	}
	if inFence {
		fmt.Fprintf(&body, "<pre><code class=\"language-%s\">%s</code></pre>\n",
			html.EscapeString(orDefault(lang, "text")), html.EscapeString(strings.Join(code, "\n")))
	}
	flushPara()
	closeList()

	var out strings.Builder
	if len(headings) > 0 {
		out.WriteString("<ul class=\"mini-toc\">\n")
		for _, h := range headings {
			fmt.Fprintf(&out, "<li><a href=\"#%s\">%s</a></li>\n", h.id, html.EscapeString(h.text))
		}
		if phantomLinks {
			fmt.Fprintf(&out, "<li><a href=\"#%s\">Further reading</a></li>\n", phantomTarget)
		}
		out.WriteString("</ul>\n")
	}
	out.WriteString(body.String())

	return rendered{title: titleFrom(text, headings), html: strings.TrimSpace(out.String())}
}

// titleFrom is the first heading, else the first sentence cut to 60
// runes.
func titleFrom(text string, headings []heading) string {
	if len(headings) > 0 {
		return headings[0].text
	}
	if m := headingTag.FindStringSubmatch(text); m != nil {
		if t := strings.TrimSpace(html.UnescapeString(tagOrClose.ReplaceAllString(m[1], ""))); t != "" {
			return t
		}
	}
	plain := strings.TrimSpace(html.UnescapeString(tagOrClose.ReplaceAllString(text, " ")))
	if i := strings.IndexAny(plain, "\n.!?"); i > 0 {
		plain = plain[:i]
	}
	plain = strings.TrimSpace(plain)
	if r := []rune(plain); len(r) > 60 {
		plain = strings.TrimSpace(string(r[:60]))
	}
	if plain == "" {
		return "Untitled article"
	}
	return plain
}

func slugify(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	slug := strings.TrimSuffix(b.String(), "-")
	if slug == "" {
		return "section"
	}
	return slug
}

func uniqueID(id string, used map[string]int) string {
	used[id]++
	if n := used[id]; n > 1 {
		return fmt.Sprintf("%s-%d", id, n)
	}
	return id
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
