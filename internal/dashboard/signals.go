package dashboard

import (
	"regexp"

	"livescrape/internal/extract"
	"livescrape/lib/htmlutil"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

var (
	DefaultEndBanner     = regexp.MustCompile(`(?i)^(this\s+)?(show|stream|live\s*stream|livestream)\s+(has\s+)?ended[.!]?$`)
	DefaultLiveIndicator = regexp.MustCompile(`(?i)^(live|live\s+now)$`)
)

// Signals are the lifecycle hints visible on the page.
type Signals struct {
	EndBanner      bool `json:"end_banner"`
	LiveIndicator  bool `json:"live_indicator"`
	ElapsedCounter bool `json:"elapsed_counter"`
}

// SignalPolicy turns raw signals into an end decision.
type SignalPolicy struct {
	// LiveSuppressesEnd ignores a visible end banner while a live indicator or the
	// show timer is visible as well, the banner may be a leftover in the DOM.
	LiveSuppressesEnd bool
}

func DefaultSignalPolicy() SignalPolicy {
	return SignalPolicy{LiveSuppressesEnd: true}
}

func (p SignalPolicy) Ended(s Signals) bool {
	if !s.EndBanner {
		return false
	}
	if p.LiveSuppressesEnd && (s.LiveIndicator || s.ElapsedCounter) {
		return false
	}
	return true
}

// innermost returns the elements whose normalized text satisfies match and that
// have no element child that satisfies it too.
func innermost(root *goquery.Selection, match func(text string) bool) []*html.Node {
	var out []*html.Node
	for _, node := range root.Find("*").Nodes {
		if !match(htmlutil.NormalizeText(htmlutil.GetText(node))) {
			continue
		}
		nested := false
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			if child.Type == html.ElementNode && match(htmlutil.NormalizeText(htmlutil.GetText(child))) {
				nested = true
				break
			}
		}
		if !nested {
			out = append(out, node)
		}
	}
	return out
}

func anyVisible(nodes []*html.Node) bool {
	for _, node := range nodes {
		if htmlutil.Visible(node) {
			return true
		}
	}
	return false
}

func (e Extractor) signals(page Page) Signals {
	root := page.Doc.Selection
	return Signals{
		EndBanner:     anyVisible(innermost(root, e.opts.EndBanner.MatchString)),
		LiveIndicator: anyVisible(innermost(root, e.opts.LiveIndicator.MatchString)),
		ElapsedCounter: anyVisible(innermost(root, func(text string) bool {
			if !showTimeLabelRegex.MatchString(text) {
				return false
			}
			_, ok := extract.ParseElapsedDuration(text)
			return ok
		})),
	}
}

// Signals reports the lifecycle hints visible on the page.
func (e Extractor) Signals(page Page) Signals {
	return e.signals(page)
}

// Ended reports whether the page shows an end banner the policy accepts.
func (e Extractor) Ended(page Page) bool {
	return e.opts.Policy.Ended(e.signals(page))
}
