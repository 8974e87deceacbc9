package domain

import (
	"fmt"
	"time"
)

// WorldwideCode is the reserved region code for the aggregate-of-all-regions view.
const (
	WorldwideCode = "worldwide"
	WorldwideName = "Worldwide"
)

// Default map viewports.
const (
	WorldZoom  = 3
	RegionZoom = 4
)

// WorldCenter is the map center used for the worldwide overview.
var WorldCenter = LatLng{Lat: 34.80746, Lng: -40.4796}

// MetricType selects which counts the cards, map, and chart emphasize.
type MetricType string

const (
	MetricCases     MetricType = "cases"
	MetricRecovered MetricType = "recovered"
	MetricDeaths    MetricType = "deaths"
)

// MetricTypes lists the valid metric types in card order.
var MetricTypes = []MetricType{MetricCases, MetricRecovered, MetricDeaths}

// ParseMetricType validates a metric type name.
func ParseMetricType(s string) (MetricType, error) {
	switch MetricType(s) {
	case MetricCases, MetricRecovered, MetricDeaths:
		return MetricType(s), nil
	default:
		return "", fmt.Errorf("unknown metric type %q", s)
	}
}

// MetricSet is the six-field bundle of cumulative and daily counts.
// A nil field means the upstream payload omitted it or sent null.
type MetricSet struct {
	Cases          *int64 `json:"cases"`
	TodayCases     *int64 `json:"todayCases"`
	Recovered      *int64 `json:"recovered"`
	TodayRecovered *int64 `json:"todayRecovered"`
	Deaths         *int64 `json:"deaths"`
	TodayDeaths    *int64 `json:"todayDeaths"`
}

// Total returns the cumulative count for a metric type.
func (m MetricSet) Total(t MetricType) *int64 {
	switch t {
	case MetricRecovered:
		return m.Recovered
	case MetricDeaths:
		return m.Deaths
	default:
		return m.Cases
	}
}

// Today returns the daily count for a metric type.
func (m MetricSet) Today(t MetricType) *int64 {
	switch t {
	case MetricRecovered:
		return m.TodayRecovered
	case MetricDeaths:
		return m.TodayDeaths
	default:
		return m.TodayCases
	}
}

// CountryInfo is the upstream "countryInfo" object.
type CountryInfo struct {
	ISO2 string  `json:"iso2"`
	Lat  float64 `json:"lat"`
	Long float64 `json:"long"`
}

// RawRecord is one country's entry as returned by the statistics API.
type RawRecord struct {
	Country     string      `json:"country"`
	CountryInfo CountryInfo `json:"countryInfo"`
	MetricSet
}

// LatLng is a WGS-84 coordinate pair in degrees.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// RegionSummary is the normalized, display-ready form of a RawRecord.
type RegionSummary struct {
	Name      string    `json:"name"`
	Code      string    `json:"code"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Metrics   MetricSet `json:"metrics"`
}

// RegionOption is a selectable dropdown entry.
type RegionOption struct {
	Name string `json:"name"`
	Code string `json:"code"`
}

// AggregateRecord is the unit the cards currently display: the worldwide
// totals or a single region's counts.
type AggregateRecord struct {
	Code    string    `json:"code"`
	Name    string    `json:"name"`
	Metrics MetricSet `json:"metrics"`
	// Center is nil for the worldwide aggregate.
	Center *LatLng `json:"center,omitempty"`
}

// WorldwideAggregate wraps worldwide totals.
func WorldwideAggregate(m MetricSet) AggregateRecord {
	return AggregateRecord{Code: WorldwideCode, Name: WorldwideName, Metrics: m}
}

// RegionAggregate wraps a single region's counts.
func RegionAggregate(r RegionSummary) AggregateRecord {
	return AggregateRecord{
		Code:    r.Code,
		Name:    r.Name,
		Metrics: r.Metrics,
		Center:  &LatLng{Lat: r.Latitude, Lng: r.Longitude},
	}
}

// Viewport is the map's center and zoom level.
type Viewport struct {
	Center LatLng `json:"center"`
	Zoom   int    `json:"zoom"`
}

// WorldViewport is the fixed world-overview viewport.
func WorldViewport() Viewport {
	return Viewport{Center: WorldCenter, Zoom: WorldZoom}
}

// ViewportFor returns the viewport matching an aggregate: the world
// overview for the sentinel, the region centroid at a closer zoom otherwise.
func ViewportFor(agg AggregateRecord) Viewport {
	if agg.Code == WorldwideCode || agg.Center == nil {
		return WorldViewport()
	}
	return Viewport{Center: *agg.Center, Zoom: RegionZoom}
}

// Selection is what the UI currently shows. It is always replaced whole.
type Selection struct {
	RegionCode string     `json:"region_code"`
	MetricType MetricType `json:"metric_type"`
	Viewport   Viewport   `json:"viewport"`
}

// DefaultSelection returns the startup selection.
func DefaultSelection() Selection {
	return Selection{
		RegionCode: WorldwideCode,
		MetricType: MetricCases,
		Viewport:   WorldViewport(),
	}
}

// Dataset is the result of one /countries fetch. It replaces the previous
// dataset wholesale.
type Dataset struct {
	Regions   []RegionSummary `json:"regions"` // fetch order
	Ranked    []RegionSummary `json:"ranked"`  // descending cases
	Catalog   []RegionOption  `json:"catalog"` // fetch order
	FetchedAt time.Time       `json:"fetched_at"`
}

// Lookup returns the region with the given code from the fetch-order list.
func (d Dataset) Lookup(code string) (RegionSummary, bool) {
	for _, r := range d.Regions {
		if r.Code == code {
			return r, true
		}
	}
	return RegionSummary{}, false
}

// HasRegion reports whether code is the sentinel or present in the catalog.
// Regions without an ISO code are listed but never selectable.
func (d Dataset) HasRegion(code string) bool {
	if code == "" {
		return false
	}
	if code == WorldwideCode {
		return true
	}
	for _, opt := range d.Catalog {
		if opt.Code == code {
			return true
		}
	}
	return false
}
