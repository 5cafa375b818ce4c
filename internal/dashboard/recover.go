package dashboard

import (
	"time"

	"livescrape/internal/locate"
)

// MaxActivityAge bounds the feed entries trusted for end time recovery.
const MaxActivityAge = 7 * 24 * time.Hour

// RecoverEndTime estimates when the stream really ended from the activity feed:
// the oldest entry whose age is strictly between 0 and MaxActivityAge, taken
// back from the capture time. ok is false when no entry qualifies.
func (e Extractor) RecoverEndTime(page Page) (time.Time, bool) {
	_, entries, ok := locate.FindActivityFeed(page.Doc.Selection, e.opts.Feed)
	if !ok {
		return time.Time{}, false
	}

	var oldest time.Duration
	found := false
	for _, entry := range entries {
		if entry.Age <= 0 || entry.Age >= MaxActivityAge {
			continue
		}
		if !found || entry.Age > oldest {
			oldest = entry.Age
			found = true
		}
	}
	if !found {
		e.tel.ReportDebug(report_extractor_recover, "no plausible feed entry", len(entries))
		return time.Time{}, false
	}
	return page.CapturedAt.Add(-oldest), true
}
