package aggregation

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const requestBody = `{
  "by_category": {
    "terms": {"field": "category", "size": 2, "min_doc_count": 1, "order": {"_key": "asc"}, "exclude": ["toy"]},
    "aggs": {
      "avg_price": {"avg": {"field": "price"}},
      "per_month": {"date_histogram": {"field": "ts", "calendar_interval": "month", "time_zone": "UTC"}}
    }
  },
  "price_ranges": {"range": {"field": "price", "ranges": [{"to": 10}, {"from": 10, "key": "expensive"}]}},
  "groups": {"filters": {"filters": {"books": {"term": {"category": "book"}}, "cheap": {"range": {"price": {"lt": 12}}}}}},
  "books": {"filter": {"bool": {"must": {"term": {"category": "book"}}}}}
}`

func TestParse(t *testing.T) {
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(requestBody), &body))

	aggs, err := Parse(body)
	require.NoError(t, err)
	require.Len(t, aggs, 4)
	assert.Equal(t, []string{"books", "by_category", "groups", "price_ranges"}, []string{aggs[0].Name(), aggs[1].Name(), aggs[2].Name(), aggs[3].Name()})

	terms, ok := aggs[1].(*TermsAggregation)
	require.True(t, ok)
	assert.Equal(t, "category", terms.Field)
	assert.Equal(t, 2, terms.Size)
	assert.Equal(t, int64(1), *terms.MinDocCount)
	assert.Equal(t, map[string]string{"_key": "asc"}, terms.Order)
	assert.Equal(t, []interface{}{"toy"}, terms.Exclude.Values)
	require.Len(t, terms.SubAggregations, 2)
	dateHistogram, ok := terms.SubAggregations[1].(*DateHistogramAggregation)
	require.True(t, ok)
	assert.Equal(t, "month", dateHistogram.Interval)
	assert.Equal(t, "UTC", dateHistogram.TimeZone)

	ranges := aggs[3].(*RangeAggregation)
	require.Len(t, ranges.Ranges, 2)
	assert.Equal(t, 10.0, *ranges.Ranges[0].To)
	assert.Equal(t, "expensive", ranges.Ranges[1].Key)

	groups := aggs[2].(*FiltersAggregation)
	assert.True(t, groups.Keyed)
	assert.Equal(t, "books", groups.Filters[0].Key)

	fd := newTestFieldData()
	tree, err := NewTree(fd, aggs)
	require.NoError(t, err)
	result, err := tree.Execute(context.Background(), fd.AllDocs())
	require.NoError(t, err)
	byCategory := result.Get("by_category").(*InternalTerms[string])
	assert.Equal(t, []string{"book", "food"}, bucketKeys(byCategory.Buckets))
	avg, ok := MetricValue(byCategory.Buckets[1].Aggregations, "avg_price")
	assert.True(t, ok)
	assert.Equal(t, 10.0, avg)
	assert.Equal(t, int64(2), result.Get("books").(*InternalFilter).DocCount)

	rendered, err := RenderJSON(result)
	require.NoError(t, err)
	assert.Contains(t, string(rendered), `"sum_other_doc_count":0`)
	assert.Contains(t, string(rendered), `"key":"expensive"`)
}

func TestParseErrors(t *testing.T) {
	for _, tt := range []struct {
		name string
		body string
	}{
		{"unknown type", `{"x": {"percentiles": {"field": "price"}}}`},
		{"two types", `{"x": {"sum": {"field": "price"}, "max": {"field": "price"}}}`},
		{"metric with sub-aggregations", `{"x": {"sum": {"field": "price"}, "aggs": {"y": {"max": {}}}}}`},
		{"bad filter", `{"x": {"filter": {"fuzzy": {"category": "bok"}}}}`},
		{"bad parameter type", `{"x": {"terms": {"field": "category", "size": "ten"}}}`},
	} {
		t.Run(tt.name, func(t *testing.T) {
			var body map[string]interface{}
			require.NoError(t, json.Unmarshal([]byte(tt.body), &body))
			_, err := Parse(body)
			assert.True(t, errors.Is(err, ErrConfiguration), "%v", err)
		})
	}
}
