package domain

// Catalog maps records to dropdown entries in fetch order. Duplicate codes
// are kept.
func Catalog(records []RawRecord) []RegionOption {
	out := make([]RegionOption, 0, len(records))
	for _, r := range records {
		out = append(out, RegionOption{Name: r.Country, Code: r.CountryInfo.ISO2})
	}
	return out
}

// WithWorldwide prepends the worldwide sentinel to a catalog.
func WithWorldwide(options []RegionOption) []RegionOption {
	out := make([]RegionOption, 0, len(options)+1)
	out = append(out, RegionOption{Name: WorldwideName, Code: WorldwideCode})
	return append(out, options...)
}
