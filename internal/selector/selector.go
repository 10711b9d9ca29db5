// Package selector computes durable CSS-like locators for DOM elements.
//
// The same rules are implemented page-side in the injected recorder script;
// this package applies them to parsed HTML snapshots on the host.
package selector

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// Fallback is returned whenever no better locator can be computed.
const Fallback = "body"

const (
	maxDepth      = 8
	maxClasses    = 3
	keptClasses   = 2
	pathSeparator = " > "
)

var hashLike = regexp.MustCompile(`(?i)^[a-f0-9]{6,}$`)

// Compute returns a selector for n. A unique id wins, then a unique name,
// then a tag/class path of at most eight levels below body. Results are
// best effort and not guaranteed to be unique.
func Compute(n *html.Node) string {
	if n == nil || n.Type != html.ElementNode {
		return Fallback
	}
	doc := documentOf(n)
	if doc == nil {
		return Fallback
	}

	if id := attr(n, "id"); id != "" && countAttr(doc, "id", id) == 1 {
		return "#" + id
	}
	if name := attr(n, "name"); name != "" && countAttr(doc, "name", name) == 1 {
		return fmt.Sprintf(`[name="%s"]`, name)
	}

	var path []string
	for cur, depth := n, 0; cur != nil && cur.Type == html.ElementNode && depth < maxDepth; cur, depth = cur.Parent, depth+1 {
		tag := strings.ToLower(cur.Data)
		if tag == "body" {
			break
		}
		part := tag
		if classes := stableClasses(attr(cur, "class")); len(classes) > 0 && len(classes) <= maxClasses {
			part += "." + strings.Join(classes[:min(len(classes), keptClasses)], ".")
		}
		path = append([]string{part}, path...)
	}
	if len(path) == 0 {
		return Fallback
	}
	return strings.Join(path, pathSeparator)
}

// ComputeMarked parses markup, finds the element carrying markerAttr and
// returns its selector.
func ComputeMarked(markup, markerAttr string) (string, error) {
	doc, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return "", fmt.Errorf("failed to parse page snapshot: %w", err)
	}
	n := FindByAttr(doc, markerAttr)
	if n == nil {
		return "", fmt.Errorf("no element marked with %s", markerAttr)
	}
	return Compute(n), nil
}

// FindByAttr returns the first element in document order that has key set.
func FindByAttr(root *html.Node, key string) *html.Node {
	if root == nil {
		return nil
	}
	if root.Type == html.ElementNode {
		for _, a := range root.Attr {
			if a.Key == key {
				return root
			}
		}
	}
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if found := FindByAttr(c, key); found != nil {
			return found
		}
	}
	return nil
}

func stableClasses(class string) []string {
	var out []string
	for _, c := range strings.Fields(class) {
		if !hashLike.MatchString(c) {
			out = append(out, c)
		}
	}
	return out
}

func documentOf(n *html.Node) *html.Node {
	top := n
	for top.Parent != nil {
		top = top.Parent
	}
	if top.Type != html.DocumentNode {
		return nil
	}
	return top
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func countAttr(root *html.Node, key, val string) int {
	count := 0
	if root.Type == html.ElementNode && attr(root, key) == val {
		count++
	}
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		count += countAttr(c, key, val)
	}
	return count
}
