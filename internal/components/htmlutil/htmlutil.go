package htmlutil

import (
	"net/url"
	"regexp"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

func GetText(node *html.Node) string {
	var out strings.Builder
	getTextRecursive(node, &out)
	return out.String()
}

func getTextRecursive(node *html.Node, out *strings.Builder) {
	if node == nil {
		return
	}
	if node.Type == html.TextNode {
		out.WriteString(node.Data)
		return
	}
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		getTextRecursive(child, out)
	}
}

type Anchor struct {
	Name string
	Url  *url.URL
}

var innerWhitespace = regexp.MustCompile(`\s\s+`)

func cleanText(s string) string {
	var out strings.Builder
	for _, c := range s {
		if unicode.IsSpace(c) {
			c = ' '
		}
		if unicode.IsPrint(c) {
			out.WriteRune(c)
		}
	}
	return innerWhitespace.ReplaceAllString(strings.TrimSpace(out.String()), " ")
}

// GetAnchors returns the anchors in sel with their href resolved against
// base. Anchors without an href or with an unparsable one are skipped.
func GetAnchors(base *url.URL, sel *goquery.Selection) []Anchor {
	var anchors []Anchor
	sel.Each(func(_ int, a *goquery.Selection) {
		href, ok := a.Attr("href")
		if !ok {
			return
		}
		link, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		if base != nil {
			link = base.ResolveReference(link)
		}
		anchors = append(anchors, Anchor{
			Name: cleanText(GetText(a.Get(0))),
			Url:  link,
		})
	})
	return anchors
}
