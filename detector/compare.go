package detector

import (
	"math"
	"slices"
	"strconv"

	"imovel-scraper/models"
)

// Page counter thresholds on the relative change.
const (
	pageFlagRatio = 0.2
	pageHighRatio = 0.5
)

// Feed row count thresholds on the relative change.
const (
	feedRowLowRatio    = 0.1
	feedRowMediumRatio = 0.3
	feedRowHighRatio   = 0.5
)

// relativeChange is |cur-old|/old, or 0 when old is 0.
func relativeChange(old, cur int) float64 {
	if old == 0 {
		return 0
	}
	return math.Abs(float64(cur-old)) / float64(old)
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}

// ComparePages diffs two page fingerprints and returns the changes found
// with the worst severity among them.
func ComparePages(old, cur *models.PageFingerprint) (models.Changes, models.Severity) {
	var changes models.Changes

	counters := []struct {
		metric   string
		old, cur int
	}{
		{"total_elements", old.Counters.TotalElements, cur.Counters.TotalElements},
		{"form_count", old.Counters.FormCount, cur.Counters.FormCount},
		{"link_count", old.Counters.LinkCount, cur.Counters.LinkCount},
	}
	for _, c := range counters {
		ratio := relativeChange(c.old, c.cur)
		if ratio <= pageFlagRatio {
			continue
		}
		sev := models.SeverityMedium
		if ratio > pageHighRatio {
			sev = models.SeverityHigh
		}
		changes = append(changes, models.Change{
			Type:     models.ChangeElementCount,
			Metric:   c.metric,
			Old:      c.old,
			New:      c.cur,
			Ratio:    round3(ratio),
			Severity: sev,
		})
	}

	if len(old.Tables) != len(cur.Tables) {
		changes = append(changes, models.Change{
			Type:     models.ChangeTableCount,
			Metric:   "table_count",
			Old:      len(old.Tables),
			New:      len(cur.Tables),
			Severity: models.SeverityHigh,
		})
	} else {
		for i := range old.Tables {
			if old.Tables[i].RowCount == cur.Tables[i].RowCount {
				continue
			}
			changes = append(changes, models.Change{
				Type:     models.ChangeTableRows,
				Metric:   "table_" + strconv.Itoa(i) + "_rows",
				Old:      old.Tables[i].RowCount,
				New:      cur.Tables[i].RowCount,
				Severity: models.SeverityHigh,
			})
		}
	}

	return changes, worst(changes)
}

// CompareFeeds diffs two feed fingerprints.
func CompareFeeds(old, cur *models.FeedFingerprint) (models.Changes, models.Severity) {
	var changes models.Changes

	added := missingFrom(cur.Columns, old.Columns)
	removed := missingFrom(old.Columns, cur.Columns)
	if len(added) > 0 {
		changes = append(changes, models.Change{
			Type:     models.ChangeColumnsAdded,
			Old:      old.ColumnCount,
			New:      cur.ColumnCount,
			Columns:  added,
			Severity: models.SeverityMedium,
		})
	}
	if len(removed) > 0 {
		changes = append(changes, models.Change{
			Type:     models.ChangeColumnsRemoved,
			Old:      old.ColumnCount,
			New:      cur.ColumnCount,
			Columns:  removed,
			Severity: models.SeverityHigh,
		})
	}
	if len(added) == 0 && len(removed) == 0 {
		switch {
		case old.ColumnCount != cur.ColumnCount:
			// same set, duplicated header names
			changes = append(changes, models.Change{
				Type:     models.ChangeColumnCount,
				Old:      old.ColumnCount,
				New:      cur.ColumnCount,
				Severity: models.SeverityMedium,
			})
		case !slices.Equal(old.Columns, cur.Columns):
			changes = append(changes, models.Change{
				Type:     models.ChangeColumnsReorder,
				Old:      old.ColumnCount,
				New:      cur.ColumnCount,
				Columns:  append([]string(nil), cur.Columns...),
				Severity: models.SeverityMedium,
			})
		}
	}

	if ratio := relativeChange(old.RowCount, cur.RowCount); ratio > feedRowLowRatio {
		sev := models.SeverityLow
		switch {
		case ratio > feedRowHighRatio:
			sev = models.SeverityHigh
		case ratio > feedRowMediumRatio:
			sev = models.SeverityMedium
		}
		changes = append(changes, models.Change{
			Type:     models.ChangeRowCount,
			Metric:   "row_count",
			Old:      old.RowCount,
			New:      cur.RowCount,
			Ratio:    round3(ratio),
			Severity: sev,
		})
	}

	return changes, worst(changes)
}

// missingFrom returns the entries of a not present in b, in a's order.
func missingFrom(a, b []string) []string {
	var out []string
	for _, s := range a {
		if !slices.Contains(b, s) && !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}

func worst(changes models.Changes) models.Severity {
	sev := models.SeverityNone
	for _, c := range changes {
		sev = sev.Max(c.Severity)
	}
	return sev
}
