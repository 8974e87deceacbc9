package domain

import (
	"encoding/json"
	"fmt"

	"github.com/golang/geo/s2"
)

// ParseError reports a payload that does not match the expected schema.
// Index is the record position for list payloads and -1 otherwise.
type ParseError struct {
	Index  int
	Field  string
	Reason string
}

func (e *ParseError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("parse %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("parse record %d: %s: %s", e.Index, e.Field, e.Reason)
}

// DecodeWorldwide decodes a /all payload.
func DecodeWorldwide(data []byte) (MetricSet, error) {
	var m MetricSet
	if err := json.Unmarshal(data, &m); err != nil {
		return MetricSet{}, &ParseError{Index: -1, Field: "body", Reason: err.Error()}
	}
	return m, nil
}

// DecodeCountries decodes and validates a /countries payload. A single
// malformed record rejects the whole payload.
func DecodeCountries(data []byte) ([]RawRecord, error) {
	var records []RawRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, &ParseError{Index: -1, Field: "body", Reason: err.Error()}
	}
	if records == nil {
		// "null" decodes to a nil slice; treat it as empty rather than absent.
		records = []RawRecord{}
	}
	for i, rec := range records {
		if err := validateRecord(i, rec); err != nil {
			return nil, err
		}
	}
	return records, nil
}

// DecodeCountry decodes and validates a /countries/{iso2} payload.
func DecodeCountry(data []byte) (RawRecord, error) {
	var rec RawRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return RawRecord{}, &ParseError{Index: -1, Field: "body", Reason: err.Error()}
	}
	if err := validateRecord(-1, rec); err != nil {
		return RawRecord{}, err
	}
	return rec, nil
}

func validateRecord(i int, rec RawRecord) error {
	if rec.Country == "" {
		return &ParseError{Index: i, Field: "country", Reason: "missing"}
	}
	if rec.CountryInfo.ISO2 == WorldwideCode {
		return &ParseError{Index: i, Field: "countryInfo.iso2", Reason: "collides with the worldwide sentinel"}
	}
	ll := s2.LatLngFromDegrees(rec.CountryInfo.Lat, rec.CountryInfo.Long)
	if !ll.IsValid() {
		return &ParseError{
			Index:  i,
			Field:  "countryInfo",
			Reason: fmt.Sprintf("coordinates out of range (%g, %g)", rec.CountryInfo.Lat, rec.CountryInfo.Long),
		}
	}
	return nil
}

// Summarize converts a validated record into its display form.
func Summarize(rec RawRecord) RegionSummary {
	return RegionSummary{
		Name:      rec.Country,
		Code:      rec.CountryInfo.ISO2,
		Latitude:  rec.CountryInfo.Lat,
		Longitude: rec.CountryInfo.Long,
		Metrics:   rec.MetricSet,
	}
}

// BuildDataset runs the catalog and ranker over one fetch result.
func BuildDataset(records []RawRecord) Dataset {
	regions := make([]RegionSummary, 0, len(records))
	for _, rec := range records {
		regions = append(regions, Summarize(rec))
	}
	return Dataset{
		Regions:   regions,
		Ranked:    RankRegions(regions),
		Catalog:   Catalog(records),
		FetchedAt: clock.Now().UTC(),
	}
}
