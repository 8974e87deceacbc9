package domain

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

const timelineDateLayout = "1/2/06"

// Timeline is a /historical/all payload: cumulative counts keyed by "M/D/YY".
type Timeline struct {
	Cases     map[string]int64 `json:"cases"`
	Recovered map[string]int64 `json:"recovered"`
	Deaths    map[string]int64 `json:"deaths"`
}

// SeriesPoint is one day's increase for a metric.
type SeriesPoint struct {
	Date  time.Time `json:"date"`
	Value int64     `json:"value"`
}

// DecodeTimeline decodes a /historical/all payload.
func DecodeTimeline(data []byte) (Timeline, error) {
	var tl Timeline
	if err := json.Unmarshal(data, &tl); err != nil {
		return Timeline{}, &ParseError{Index: -1, Field: "body", Reason: err.Error()}
	}
	return tl, nil
}

func (tl Timeline) metric(t MetricType) map[string]int64 {
	switch t {
	case MetricRecovered:
		return tl.Recovered
	case MetricDeaths:
		return tl.Deaths
	default:
		return tl.Cases
	}
}

// DailySeries converts the cumulative timeline of one metric into
// day-over-day increases in date order. The first day has no predecessor
// and yields no point.
func DailySeries(tl Timeline, metric MetricType) ([]SeriesPoint, error) {
	raw := tl.metric(metric)
	days := make([]SeriesPoint, 0, len(raw))
	for key, v := range raw {
		d, err := time.Parse(timelineDateLayout, key)
		if err != nil {
			return nil, &ParseError{Index: -1, Field: "timeline." + string(metric), Reason: fmt.Sprintf("bad date %q", key)}
		}
		days = append(days, SeriesPoint{Date: d, Value: v})
	}
	slices.SortFunc(days, func(a, b SeriesPoint) int { return a.Date.Compare(b.Date) })

	if len(days) < 2 {
		return []SeriesPoint{}, nil
	}
	out := make([]SeriesPoint, 0, len(days)-1)
	for i := 1; i < len(days); i++ {
		out = append(out, SeriesPoint{Date: days[i].Date, Value: days[i].Value - days[i-1].Value})
	}
	return out, nil
}
