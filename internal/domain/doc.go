// Package domain models disease.sh epidemiological statistics and the
// display-ready views derived from them.
//
// # Data Source
//
// Statistics come from the disease.sh COVID-19 API
// (https://disease.sh/v3/covid-19). The service consumes four endpoints:
//
//	GET /all                    worldwide totals
//	GET /countries              one record per country, API order
//	GET /countries/{iso2}       a single country record
//	GET /historical/all?lastdays=N  cumulative timeline per metric
//
// # Record Conventions
//
// Country records carry a display name ("country") and a "countryInfo"
// object holding the ISO 3166-1 alpha-2 code and the centroid used for
// map markers:
//
//	{"country":"Peru","countryInfo":{"iso2":"PE","lat":-10,"long":-76},"cases":4500000,...}
//
// Counts may be absent or null in the payload. Absence is kept distinct
// from zero by decoding into *int64; see [MetricSet]. Only the display
// layer collapses absent values to "0" (see [FormatCount]).
//
// Records without a country name, or with coordinates outside the WGS-84
// range, are rejected at decode time with a [*ParseError]. The whole
// payload is refused rather than partially applied. A null ISO code is
// legitimate upstream data (cruise ships carry none): such regions are
// listed, ranked, and mapped but cannot be selected.
//
// # Ordering
//
// Two orderings coexist for the same fetch:
//
//   - fetch order, used by the region dropdown and the map ([Catalog])
//   - descending cumulative cases, used by the table ([Rank])
//
// Ranking is stable: regions with equal case counts keep their fetch
// order, and regions without a case count rank as zero.
//
// # Timeline Conventions
//
// Historical timelines map "M/D/YY" dates to cumulative counts. The chart
// shows day-over-day increases, so the first day of the window produces
// no point. See [DailySeries].
package domain
