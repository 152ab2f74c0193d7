package detector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imovel-scraper/models"
)

func pageWithElements(total int) *models.PageFingerprint {
	return &models.PageFingerprint{
		Tables:   []models.TableShape{{RowCount: 4, HasHeader: true}},
		Counters: models.PageCounters{TotalElements: total, TableCount: 1, FormCount: 1, LinkCount: 10},
	}
}

func TestComparePagesSeverityThresholds(t *testing.T) {
	tests := []struct {
		name  string
		total int
		want  models.Severity
	}{
		{"15 percent is no change", 115, models.SeverityNone},
		{"20 percent is no change", 120, models.SeverityNone},
		{"25 percent is medium", 125, models.SeverityMedium},
		{"55 percent is high", 155, models.SeverityHigh},
		{"shrinking 60 percent is high", 40, models.SeverityHigh},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			changes, sev := ComparePages(pageWithElements(100), pageWithElements(tt.total))
			if sev != tt.want {
				t.Errorf("severity: got %q, want %q", sev, tt.want)
			}
			if tt.want == models.SeverityNone {
				assert.Empty(t, changes)
				return
			}
			require.Len(t, changes, 1)
			assert.Equal(t, models.ChangeElementCount, changes[0].Type)
			assert.Equal(t, "total_elements", changes[0].Metric)
		})
	}
}

func TestComparePagesZeroBaselineIsNotAChange(t *testing.T) {
	old := pageWithElements(100)
	old.Counters.FormCount = 0
	cur := pageWithElements(100)
	cur.Counters.FormCount = 3

	changes, sev := ComparePages(old, cur)
	assert.Empty(t, changes)
	assert.Equal(t, models.SeverityNone, sev)
}

func TestComparePagesTableShapeIsHigh(t *testing.T) {
	old := pageWithElements(100)
	cur := pageWithElements(100)
	cur.Tables = []models.TableShape{{RowCount: 5, HasHeader: true}}

	changes, sev := ComparePages(old, cur)
	assert.Equal(t, models.SeverityHigh, sev)
	require.Len(t, changes, 1)
	assert.Equal(t, models.ChangeTableRows, changes[0].Type)
	assert.Equal(t, 4, changes[0].Old)
	assert.Equal(t, 5, changes[0].New)

	cur.Tables = append(cur.Tables, models.TableShape{RowCount: 1})
	changes, sev = ComparePages(old, cur)
	assert.Equal(t, models.SeverityHigh, sev)
	require.Len(t, changes, 1)
	assert.Equal(t, models.ChangeTableCount, changes[0].Type)
}

func feedWith(columns []string, rows int) *models.FeedFingerprint {
	return &models.FeedFingerprint{Columns: columns, ColumnCount: len(columns), RowCount: rows}
}

func TestCompareFeedsColumnReorderOnly(t *testing.T) {
	changes, sev := CompareFeeds(feedWith([]string{"A", "B", "C"}, 100), feedWith([]string{"C", "B", "A"}, 100))

	require.Len(t, changes, 1)
	assert.Equal(t, models.ChangeColumnsReorder, changes[0].Type)
	assert.Equal(t, []string{"C", "B", "A"}, changes[0].Columns)
	assert.Equal(t, models.SeverityMedium, sev)
}

func TestCompareFeedsColumnSets(t *testing.T) {
	changes, sev := CompareFeeds(feedWith([]string{"A", "B", "C"}, 100), feedWith([]string{"A", "C", "D"}, 100))

	require.Len(t, changes, 2)
	assert.Equal(t, models.ChangeColumnsAdded, changes[0].Type)
	assert.Equal(t, []string{"D"}, changes[0].Columns)
	assert.Equal(t, models.ChangeColumnsRemoved, changes[1].Type)
	assert.Equal(t, []string{"B"}, changes[1].Columns)
	assert.Equal(t, models.SeverityHigh, sev)
}

func TestCompareFeedsDuplicateHeader(t *testing.T) {
	changes, _ := CompareFeeds(feedWith([]string{"A", "B"}, 10), feedWith([]string{"A", "B", "B"}, 10))

	require.Len(t, changes, 1)
	assert.Equal(t, models.ChangeColumnCount, changes[0].Type)
}

func TestCompareFeedsRowThresholds(t *testing.T) {
	tests := []struct {
		rows int
		want models.Severity
	}{
		{105, models.SeverityNone},
		{110, models.SeverityNone},
		{125, models.SeverityLow},
		{135, models.SeverityMedium},
		{160, models.SeverityHigh},
		{40, models.SeverityHigh},
	}

	cols := []string{"A", "B"}
	for _, tt := range tests {
		changes, sev := CompareFeeds(feedWith(cols, 100), feedWith(cols, tt.rows))
		if sev != tt.want {
			t.Errorf("rows %d: got %q, want %q", tt.rows, sev, tt.want)
		}
		if tt.want != models.SeverityNone && (len(changes) != 1 || changes[0].Type != models.ChangeRowCount) {
			t.Errorf("rows %d: got changes %+v, want one row_count_change", tt.rows, changes)
		}
	}
}
