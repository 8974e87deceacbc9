package domain

import "math"

// Card is the view-model for one summary box.
type Card struct {
	Metric MetricType `json:"metric"`
	Title  string     `json:"title"`
	Today  string     `json:"today"`
	Total  string     `json:"total"`
	Active bool       `json:"active"`
	Alert  bool       `json:"alert"`
}

type metricStyle struct {
	title      string
	color      string
	multiplier float64
	alert      bool
}

var metricStyles = map[MetricType]metricStyle{
	MetricCases:     {title: "Coronavirus cases", color: "#CC1034", multiplier: 800, alert: true},
	MetricRecovered: {title: "Recovered", color: "#7DD71D", multiplier: 1200},
	MetricDeaths:    {title: "Deaths", color: "#FB4443", multiplier: 2000, alert: true},
}

// BuildCards renders the three summary cards for an aggregate, flagging
// the one matching the active metric.
func BuildCards(agg AggregateRecord, active MetricType) []Card {
	cards := make([]Card, 0, len(MetricTypes))
	for _, t := range MetricTypes {
		style := metricStyles[t]
		cards = append(cards, Card{
			Metric: t,
			Title:  style.title,
			Today:  formatDelta(agg.Metrics.Today(t)),
			Total:  FormatCount(agg.Metrics.Total(t)),
			Active: t == active,
			Alert:  style.alert,
		})
	}
	return cards
}

func formatDelta(v *int64) string {
	if v != nil && *v < 0 {
		return FormatCount(v)
	}
	return "+" + FormatCount(v)
}

// MapMarker is one circle on the map.
type MapMarker struct {
	Code   string  `json:"code"`
	Name   string  `json:"name"`
	Center LatLng  `json:"center"`
	Count  int64   `json:"count"`
	Label  string  `json:"label"`
	Radius float64 `json:"radius"`
	Color  string  `json:"color"`
}

// BuildMarkers renders map circles in fetch order, sized by the active metric.
func BuildMarkers(regions []RegionSummary, metric MetricType) []MapMarker {
	style := metricStyles[metric]
	markers := make([]MapMarker, 0, len(regions))
	for _, r := range regions {
		v := r.Metrics.Total(metric)
		count := valueOrZero(v)
		markers = append(markers, MapMarker{
			Code:   r.Code,
			Name:   r.Name,
			Center: LatLng{Lat: r.Latitude, Lng: r.Longitude},
			Count:  count,
			Label:  FormatCount(v),
			Radius: math.Sqrt(math.Max(float64(count), 0)) * style.multiplier,
			Color:  style.color,
		})
	}
	return markers
}

// TableRow is one line of the ranked table.
type TableRow struct {
	Rank  int    `json:"rank"`
	Name  string `json:"name"`
	Code  string `json:"code"`
	Cases string `json:"cases"`
}

// BuildTable renders ranked regions with formatted case counts.
func BuildTable(ranked []RegionSummary) []TableRow {
	rows := make([]TableRow, 0, len(ranked))
	for i, r := range ranked {
		rows = append(rows, TableRow{
			Rank:  i + 1,
			Name:  r.Name,
			Code:  r.Code,
			Cases: FormatCount(r.Metrics.Cases),
		})
	}
	return rows
}

// ChartTitle is the heading shown above the daily series.
func ChartTitle(metric MetricType) string {
	return "Worldwide new " + string(metric)
}
