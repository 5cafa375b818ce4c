package locate

import (
	"regexp"
	"time"

	"livescrape/internal/extract"
	"livescrape/lib/htmlutil"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

var DefaultTransactionPhrase = regexp.MustCompile(`(?i)\b(bought|purchased|won|tipped|ordered)\b`)

type FeedQuery struct {
	// TabLabel is the text of the tab control that reveals the feed.
	TabLabel string
	// EntryPhrase must appear in the text of every entry.
	EntryPhrase *regexp.Regexp
	// MinEntries is how many parsed entries a container needs to be accepted,
	// anything below 2 is raised to 2.
	MinEntries int
}

func (q FeedQuery) withDefaults() FeedQuery {
	if q.TabLabel == "" {
		q.TabLabel = "Activity"
	}
	if q.EntryPhrase == nil {
		q.EntryPhrase = DefaultTransactionPhrase
	}
	if q.MinEntries < 2 {
		q.MinEntries = 2
	}
	return q
}

type FeedEntry struct {
	Text string
	Age  time.Duration
}

func parseEntries(node *html.Node, q FeedQuery) []FeedEntry {
	var entries []FeedEntry
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		if child.Type != html.ElementNode || !htmlutil.Visible(child) {
			continue
		}
		text := elementText(child)
		if !q.EntryPhrase.MatchString(text) {
			continue
		}
		age, ok := extract.ParseRelativeAge(text)
		if !ok {
			continue
		}
		entries = append(entries, FeedEntry{Text: text, Age: age})
	}
	return entries
}

// scanFeed returns the first element under (and including) sel whose direct
// children hold enough entries.
func scanFeed(sel *goquery.Selection, q FeedQuery) (*html.Node, []FeedEntry) {
	nodes := append([]*html.Node{}, sel.Nodes...)
	nodes = append(nodes, sel.Find("*").Nodes...)
	for _, node := range nodes {
		if !htmlutil.Visible(node) {
			continue
		}
		entries := parseEntries(node, q)
		if len(entries) >= q.MinEntries {
			return node, entries
		}
	}
	return nil, nil
}

func attrValue(node *html.Node, key string) string {
	for _, a := range node.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// FindActivityFeed locates the activity feed: the panel controlled by the
// "Activity" tab when there is one, otherwise the first element listing enough
// transaction entries with a relative time each.
func FindActivityFeed(root *goquery.Selection, q FeedQuery) (*goquery.Selection, []FeedEntry, bool) {
	if root == nil {
		return nil, nil, false
	}
	q = q.withDefaults()

	tab, ok := FindLabel(root, Query{Label: q.TabLabel})
	if ok {
		panelId := ""
		for node := tab.Nodes[0]; node != nil && panelId == ""; node = node.Parent {
			if node.Type == html.ElementNode {
				panelId = attrValue(node, "aria-controls")
			}
		}
		if panelId != "" {
			panel := root.Find(`[id="` + panelId + `"]`)
			if panel.Length() > 0 {
				if node, entries := scanFeed(panel.First(), q); node != nil {
					return goquery.NewDocumentFromNode(node).Selection, entries, true
				}
			}
		}
	}

	node, entries := scanFeed(root, q)
	if node == nil {
		return nil, nil, false
	}
	return goquery.NewDocumentFromNode(node).Selection, entries, true
}
