package extractor

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// htmlToMarkdown converts the inner HTML of a post/description block
// to markdown. It understands the small set of inline tags the public
// preview layout actually emits (bold/italic/strikethrough/code/links
// and <br> line breaks); anything else is unwrapped to its text
// content. If the fragment cannot be parsed, it is returned unchanged
// rather than failing the whole parse.
func htmlToMarkdown(fragment string) string {
	nodes, err := html.ParseFragment(strings.NewReader(fragment), &html.Node{
		Type:     html.ElementNode,
		Data:     "body",
		DataAtom: atom.Body,
	})
	if err != nil {
		return fragment
	}

	var b strings.Builder
	for _, n := range nodes {
		renderMarkdown(n, &b)
	}
	return strings.TrimSpace(b.String())
}

func renderMarkdown(n *html.Node, b *strings.Builder) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
		return
	case html.ElementNode:
		// fall through to tag handling below
	default:
		renderChildren(n, b)
		return
	}

	switch n.Data {
	case "br":
		b.WriteString("\n")
		return
	case "b", "strong":
		wrap(n, b, "**")
		return
	case "i", "em":
		wrap(n, b, "*")
		return
	case "s", "strike", "del":
		wrap(n, b, "~~")
		return
	case "code":
		wrap(n, b, "`")
		return
	case "pre":
		b.WriteString("```\n")
		renderChildren(n, b)
		b.WriteString("\n```")
		return
	case "a":
		href := attr(n, "href")
		b.WriteString("[")
		renderChildren(n, b)
		b.WriteString("](")
		b.WriteString(href)
		b.WriteString(")")
		return
	default:
		renderChildren(n, b)
	}
}

func wrap(n *html.Node, b *strings.Builder, marker string) {
	b.WriteString(marker)
	renderChildren(n, b)
	b.WriteString(marker)
}

func renderChildren(n *html.Node, b *strings.Builder) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		renderMarkdown(c, b)
	}
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
