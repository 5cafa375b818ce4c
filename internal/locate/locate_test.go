package locate

import (
	"strings"
	"testing"
	"time"

	"livescrape/internal/extract"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func parse(t testing.TB, body string) *goquery.Selection {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	require.NoError(t, err)
	return doc.Selection
}

var grossSales = Query{
	Label:     "Gross Sales",
	Plausible: Currency,
	Exclude:   []string{"Estimated Orders"},
}

func candidateSummary(candidates []Candidate) []string {
	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = c.Strategy.String() + "=" + c.Text()
	}
	return out
}

func TestCandidates(t *testing.T) {
	cases := []struct {
		name     string
		body     string
		expected []string
	}{
		{
			name: "co-located",
			body: `<div><span>Gross Sales</span><span>$1,810.00</span></div>`,
			expected: []string{
				"container=Gross Sales$1,810.00",
				"sibling=$1,810.00",
			},
		},
		{
			name: "plausible sibling wins over first sibling",
			body: `<div><p>Gross Sales</p><p>today</p><p>$20.00</p></div>`,
			expected: []string{
				"container=Gross Salestoday$20.00",
				"sibling=$20.00",
				"next-sibling=today",
			},
		},
		{
			name: "value in the container's sibling",
			body: `<section><div><span>Gross Sales</span></div><div></div><div>$5.00</div></section>`,
			expected: []string{
				"container-sibling=$5.00",
			},
		},
		{
			name: "nothing nearby",
			body: `<div><span>Gross Sales</span></div>`,
			expected: []string{},
		},
	}

	for _, test := range cases {
		t.Run(test.name, func(t *testing.T) {
			root := parse(t, test.body)
			label, ok := FindLabel(root, grossSales)
			require.True(t, ok)
			require.Equal(t, "Gross Sales", htmlText(label))

			got := candidateSummary(Candidates(label, grossSales))
			if diff := cmp.Diff(test.expected, got); diff != "" {
				t.Fatal(diff)
			}
		})
	}
}

func htmlText(sel *goquery.Selection) string {
	return Candidate{Sel: sel}.Text()
}

func TestFindLabelInnermost(t *testing.T) {
	root := parse(t, `<div id="outer"><div id="inner"><b id="label">Estimated Orders</b></div></div>`)
	label, ok := FindLabel(root, Query{Label: "Estimated Orders"})
	require.True(t, ok)
	require.Equal(t, "label", label.AttrOr("id", ""))

	_, ok = FindLabel(root, Query{Label: "Tips"})
	require.False(t, ok)
}

func TestFindLabelWrappedInSameText(t *testing.T) {
	cases := []struct {
		name     string
		body     string
		strategy Strategy
	}{
		{
			name:     "bare label",
			body:     `<div class="card"><span>Gross Sales</span><span>$5.00</span></div>`,
			strategy: StrategyContainer,
		},
		{
			name:     "label wrapped in a div with the same text",
			body:     `<div class="card"><div class="title"><span>Gross Sales</span></div><span>$5.00</span></div>`,
			strategy: StrategyContainerSibling,
		},
	}

	for _, test := range cases {
		t.Run(test.name, func(t *testing.T) {
			label, candidates, ok := Find(parse(t, test.body), grossSales)
			require.True(t, ok)
			require.Equal(t, "span", goquery.NodeName(label))

			var value float64
			var strategy Strategy
			found := false
			for _, c := range candidates {
				text := strings.TrimPrefix(c.Text(), "Gross Sales")
				if v, ok := extract.ParseCurrencyAmount(text); ok {
					value, strategy, found = v, c.Strategy, true
					break
				}
			}
			require.True(t, found)
			require.Equal(t, 5.0, value)
			require.Equal(t, test.strategy, strategy)
		})
	}
}

func TestCommonAncestor(t *testing.T) {
	root := parse(t, `<main><section id="metrics">
		<div><span>Gross Sales</span></div>
		<div><p><span>Estimated Orders</span></p></div>
	</section></main>`)
	gross, ok := FindLabel(root, Query{Label: "Gross Sales"})
	require.True(t, ok)
	orders, ok := FindLabel(root, Query{Label: "Estimated Orders"})
	require.True(t, ok)

	common := CommonAncestor(gross, orders)
	require.NotNil(t, common)
	require.Equal(t, "metrics", common.AttrOr("id", ""))

	require.Equal(t, gross.Nodes[0], CommonAncestor(gross, gross).Nodes[0])
	require.Nil(t, CommonAncestor(gross, parse(t, `<p>other</p>`)))
}

func TestFindValueNearSkipsOtherLabels(t *testing.T) {
	root := parse(t, `<div>
		<div><span>Estimated Orders</span></div>
		<div><span>Gross Sales</span></div>
	</div>`)
	label, ok := FindLabel(root, Query{Label: "Estimated Orders"})
	require.True(t, ok)

	query := Query{Label: "Estimated Orders", Plausible: BareInteger, Exclude: []string{"Gross Sales"}}
	candidate, ok := FindValueNear(label, query)
	require.True(t, ok)
	// only the neighbouring container remains, it is reported but callers won't parse it
	require.Equal(t, StrategyContainerSibling, candidate.Strategy)
}

func TestPredicates(t *testing.T) {
	require.True(t, Currency("$1.00"))
	require.False(t, Currency("1.00"))
	require.True(t, BareInteger("42"))
	require.True(t, CurrencyOrInteger("42"))
	require.False(t, CurrencyOrInteger("forty"))
	require.True(t, AnyText(" x "))
	require.False(t, AnyText("  "))
}

func TestFindActivityFeed(t *testing.T) {
	t.Run("tab panel", func(t *testing.T) {
		root := parse(t, `<body>
			<div>
				<ul><li>alice bought Card 1m ago</li></ul>
			</div>
			<button role="tab" aria-controls="panel-activity"><span>Activity</span></button>
			<div id="panel-activity">
				<ol>
					<li>bob bought Pack 2m ago</li>
					<li>carol won Slab 10m ago</li>
					<li>dan tipped $5.00 1 hour ago</li>
				</ol>
			</div>
		</body>`)

		feed, entries, ok := FindActivityFeed(root, FeedQuery{})
		require.True(t, ok)
		require.Equal(t, "ol", goquery.NodeName(feed))
		require.Equal(t, []time.Duration{2 * time.Minute, 10 * time.Minute, time.Hour}, ages(entries))
	})

	t.Run("scan", func(t *testing.T) {
		root := parse(t, `<body>
			<div style="display:none">
				<p>eve bought X 1m ago</p>
				<p>eve bought Y 2m ago</p>
			</div>
			<div class="feed">
				<p>frank purchased Box 3m ago</p>
				<p>Show starts soon</p>
				<p>grace bought Card 4m ago</p>
			</div>
		</body>`)

		feed, entries, ok := FindActivityFeed(root, FeedQuery{})
		require.True(t, ok)
		require.Equal(t, "feed", feed.AttrOr("class", ""))
		require.Equal(t, []time.Duration{3 * time.Minute, 4 * time.Minute}, ages(entries))
	})

	t.Run("single entry is not a feed", func(t *testing.T) {
		root := parse(t, `<body><div><p>henry bought Card 1m ago</p><p>Gross Sales $10.00</p></div></body>`)
		_, _, ok := FindActivityFeed(root, FeedQuery{})
		require.False(t, ok)
	})
}

func ages(entries []FeedEntry) []time.Duration {
	out := make([]time.Duration, len(entries))
	for i, e := range entries {
		out[i] = e.Age
	}
	return out
}
