package alive

import (
	"bytes"
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/net/html/charset"
)

// ExtractTitle 按 Content-Type 与 meta 声明的编码解码页面并提取 <title>
func ExtractTitle(body []byte, contentType string) (string, bool) {
	if len(body) == 0 {
		return "", false
	}
	var r io.Reader = bytes.NewReader(body)
	if decoded, err := charset.NewReader(r, contentType); err == nil {
		r = decoded
	} else {
		r = bytes.NewReader(body)
	}

	doc, err := html.Parse(r)
	if err != nil {
		return "", false
	}
	node := findTitle(doc)
	if node == nil {
		return "", false
	}
	var sb strings.Builder
	for c := node.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
		}
	}
	return strings.Join(strings.Fields(sb.String()), " "), true
}

func findTitle(n *html.Node) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == atom.Title {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		// svg 内的 title 不是页面标题
		if c.Type == html.ElementNode && c.DataAtom == atom.Svg {
			continue
		}
		if found := findTitle(c); found != nil {
			return found
		}
	}
	return nil
}
