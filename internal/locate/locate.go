// Package locate finds label elements on a rendered page and the elements
// holding their values.
//
// The dashboard's markup is not stable, so value lookup is a ranked list of
// heuristics rather than a selector. Callers walk the candidates in order and
// keep the first one whose text parses.
package locate

import (
	"livescrape/lib/htmlutil"
	"livescrape/lib/textutil"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

type TextPredicate func(text string) bool

// Query describes one labelled metric.
type Query struct {
	// Label is the exact (trimmed) text of the label element.
	Label string
	// MatchLabel overrides exact equality with Label when set.
	MatchLabel TextPredicate
	// Plausible reports whether a candidate's text looks like this metric's value.
	Plausible TextPredicate
	// Exclude lists other labels, sibling text mentioning any of them is never a
	// fallback value.
	Exclude []string
}

func (q Query) matchesLabel(text string) bool {
	if q.MatchLabel != nil {
		return q.MatchLabel(text)
	}
	return text == q.Label
}

func (q Query) plausible(text string) bool {
	if q.Plausible == nil {
		return CurrencyOrInteger(text)
	}
	return q.Plausible(text)
}

func (q Query) excluded(text string) bool {
	if q.Label != "" && textutil.ContainsAll(text, q.Label) {
		return true
	}
	for _, label := range q.Exclude {
		if textutil.ContainsAll(text, label) {
			return true
		}
	}
	return false
}

// Strategy names the heuristic that produced a candidate, in confidence order.
type Strategy int

const (
	// the label's container also holds the value
	StrategyContainer Strategy = iota
	// a sibling of the label inside the container
	StrategySibling
	// the first non-empty element following the label
	StrategyNextSibling
	// the first non-empty element following the label's container
	StrategyContainerSibling
)

func (s Strategy) String() string {
	switch s {
	case StrategyContainer:
		return "container"
	case StrategySibling:
		return "sibling"
	case StrategyNextSibling:
		return "next-sibling"
	case StrategyContainerSibling:
		return "container-sibling"
	}
	return "unknown"
}

type Candidate struct {
	Sel      *goquery.Selection
	Strategy Strategy
}

func (c Candidate) Text() string {
	return htmlutil.Text(c.Sel)
}

func elementText(node *html.Node) string {
	return htmlutil.NormalizeText(htmlutil.GetText(node))
}

// FindLabel returns the first element in document order whose trimmed text
// matches the query's label. When the match wraps other elements with the very
// same text, the innermost of them is returned.
func FindLabel(root *goquery.Selection, q Query) (*goquery.Selection, bool) {
	if root == nil {
		return nil, false
	}
	var found *html.Node
	root.Find("*").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if q.matchesLabel(elementText(sel.Nodes[0])) {
			found = sel.Nodes[0]
			return false
		}
		return true
	})
	if found == nil {
		return nil, false
	}

	for {
		var inner *html.Node
		for child := found.FirstChild; child != nil; child = child.NextSibling {
			if child.Type == html.ElementNode && q.matchesLabel(elementText(child)) {
				inner = child
				break
			}
		}
		if inner == nil {
			break
		}
		found = inner
	}
	return goquery.NewDocumentFromNode(found).Selection, true
}

func nextNonEmpty(node *html.Node) *html.Node {
	for current := node.NextSibling; current != nil; current = current.NextSibling {
		if current.Type != html.ElementNode {
			continue
		}
		if elementText(current) != "" {
			return current
		}
	}
	return nil
}

// Candidates returns the possible value elements for a label element, ranked by
// strategy. A node is listed at most once, under its best strategy.
func Candidates(label *goquery.Selection, q Query) []Candidate {
	if label == nil || len(label.Nodes) == 0 {
		return nil
	}
	labelNode := label.Nodes[0]
	labelText := elementText(labelNode)
	parent := labelNode.Parent
	if parent != nil && parent.Type != html.ElementNode {
		parent = nil
	}

	var out []Candidate
	seen := map[*html.Node]struct{}{}
	add := func(node *html.Node, strategy Strategy) {
		if node == nil {
			return
		}
		if _, ok := seen[node]; ok {
			return
		}
		seen[node] = struct{}{}
		out = append(out, Candidate{
			Sel:      goquery.NewDocumentFromNode(node).Selection,
			Strategy: strategy,
		})
	}

	if parent != nil {
		if elementText(parent) != labelText {
			add(parent, StrategyContainer)
		}

		var plausible, fallback *html.Node
		for sibling := parent.FirstChild; sibling != nil; sibling = sibling.NextSibling {
			if sibling == labelNode || sibling.Type != html.ElementNode {
				continue
			}
			text := elementText(sibling)
			if text == "" {
				continue
			}
			if plausible == nil && q.plausible(text) {
				plausible = sibling
			}
			if fallback == nil && !q.excluded(text) {
				fallback = sibling
			}
		}
		if plausible != nil {
			add(plausible, StrategySibling)
		} else {
			add(fallback, StrategySibling)
		}
	}

	add(nextNonEmpty(labelNode), StrategyNextSibling)
	if parent != nil {
		add(nextNonEmpty(parent), StrategyContainerSibling)
	}
	return out
}

// FindValueNear returns the best ranked value candidate for a label element.
func FindValueNear(label *goquery.Selection, q Query) (Candidate, bool) {
	candidates := Candidates(label, q)
	if len(candidates) == 0 {
		return Candidate{}, false
	}
	return candidates[0], true
}

// Find locates the label in root and returns its ranked value candidates.
func Find(root *goquery.Selection, q Query) (*goquery.Selection, []Candidate, bool) {
	label, ok := FindLabel(root, q)
	if !ok {
		return nil, nil, false
	}
	return label, Candidates(label, q), true
}

// CommonAncestor returns the smallest element containing both a and b, nil when
// they share none (different documents).
func CommonAncestor(a, b *goquery.Selection) *goquery.Selection {
	if a == nil || b == nil || len(a.Nodes) == 0 || len(b.Nodes) == 0 {
		return nil
	}
	ancestors := map[*html.Node]struct{}{}
	for node := a.Nodes[0]; node != nil; node = node.Parent {
		ancestors[node] = struct{}{}
	}
	for node := b.Nodes[0]; node != nil; node = node.Parent {
		if _, ok := ancestors[node]; !ok {
			continue
		}
		if node.Type != html.ElementNode {
			return nil
		}
		return goquery.NewDocumentFromNode(node).Selection
	}
	return nil
}
