// Command validate checks a directory of statistics fixtures (as written by
// cmd/snapshot) against the invariants the tracker relies on: payloads
// decode and validate, ranking is a stable descending permutation, the
// region catalog mirrors fetch order, and the timeline yields a daily series.
//
// Usage:
//
//	go run ./cmd/validate -fixtures testdata/fixtures
package main

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"github.com/couchcryptid/outbreak-tracker/internal/domain"
)

// Fixture file names written by cmd/snapshot.
const (
	worldwideFile  = "all.json"
	countriesFile  = "countries.json"
	historicalFile = "historical.json"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

// fixtures holds the decoded payloads. timeline is nil when the directory
// has no historical.json.
type fixtures struct {
	worldwide domain.MetricSet
	countries []domain.RawRecord
	timeline  *domain.Timeline
}

func main() {
	dir := flag.String("fixtures", "", "directory containing all.json, countries.json and optionally historical.json")
	flag.Parse()

	if *dir == "" {
		flag.Usage()
		os.Exit(1)
	}

	os.Exit(run(*dir))
}

func run(dir string) int {
	fmt.Println("=== Outbreak Fixture Validation ===")
	fmt.Println()

	fx, decoding := loadFixtures(dir)
	phases := []*phase{decoding}
	if decoding.passed() {
		ds := domain.BuildDataset(fx.countries)
		phases = append(phases,
			validateRanking(fx.countries, ds),
			validateCatalog(fx.countries, ds),
			validateWorldwide(fx.worldwide, ds),
		)
		if fx.timeline != nil {
			phases = append(phases, validateTimeline(*fx.timeline))
		}
		fmt.Printf("Regions: %d (%d without ISO code, %d duplicate codes)\n",
			len(ds.Regions), countUnselectable(ds), countDuplicateCodes(ds))
	}

	// ── Report results ──
	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-32s %s\n", p.name, status)
	}

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

// ── Data loading ──

func loadFixtures(dir string) (fixtures, *phase) {
	p := &phase{name: "Payload decoding"}
	var fx fixtures

	if data, err := os.ReadFile(filepath.Join(dir, worldwideFile)); err != nil {
		p.errorf("read %s: %v", worldwideFile, err)
	} else if fx.worldwide, err = domain.DecodeWorldwide(data); err != nil {
		p.errorf("%s: %v", worldwideFile, err)
	}

	if data, err := os.ReadFile(filepath.Join(dir, countriesFile)); err != nil {
		p.errorf("read %s: %v", countriesFile, err)
	} else if fx.countries, err = domain.DecodeCountries(data); err != nil {
		p.errorf("%s: %v", countriesFile, err)
	}

	data, err := os.ReadFile(filepath.Join(dir, historicalFile))
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		p.errorf("read %s: %v", historicalFile, err)
	default:
		tl, err := domain.DecodeTimeline(data)
		if err != nil {
			p.errorf("%s: %v", historicalFile, err)
			break
		}
		fx.timeline = &tl
	}
	return fx, p
}

// ── Phases ──

func validateRanking(records []domain.RawRecord, ds domain.Dataset) *phase {
	p := &phase{name: "Ranking"}

	if len(ds.Ranked) != len(records) {
		p.errorf("ranked %d regions, fetched %d", len(ds.Ranked), len(records))
		return p
	}

	// Permutation: same multiset of regions as fetched.
	counts := make(map[string]int, len(ds.Regions))
	for _, r := range ds.Regions {
		counts[regionKey(r)]++
	}
	for i, r := range ds.Ranked {
		if counts[regionKey(r)] == 0 {
			p.errorf("rank %d: %s (%s) not in fetched list", i+1, r.Name, r.Code)
			continue
		}
		counts[regionKey(r)]--
	}

	for i := 1; i < len(ds.Ranked); i++ {
		prev, cur := casesOf(ds.Ranked[i-1]), casesOf(ds.Ranked[i])
		if cur > prev {
			p.errorf("rank %d: %s has %d cases, more than rank %d (%d)", i+1, ds.Ranked[i].Name, cur, i, prev)
		}
		if cur == prev && fetchIndex(ds.Regions, ds.Ranked[i]) < fetchIndex(ds.Regions, ds.Ranked[i-1]) {
			p.errorf("rank %d: tie with %s is out of fetch order", i+1, ds.Ranked[i-1].Name)
		}
	}

	// Ranking must not reorder the fetch-order list.
	for i, r := range records {
		if ds.Regions[i].Name != r.Country {
			p.errorf("fetch order changed at %d: %s != %s", i, ds.Regions[i].Name, r.Country)
			break
		}
	}
	return p
}

func validateCatalog(records []domain.RawRecord, ds domain.Dataset) *phase {
	p := &phase{name: "Region catalog"}

	if len(ds.Catalog) != len(records) {
		p.errorf("catalog has %d entries, fetched %d", len(ds.Catalog), len(records))
		return p
	}
	for i, opt := range ds.Catalog {
		if opt.Name != records[i].Country || opt.Code != records[i].CountryInfo.ISO2 {
			p.errorf("entry %d: got %s (%s), want %s (%s)", i, opt.Name, opt.Code, records[i].Country, records[i].CountryInfo.ISO2)
		}
		if opt.Code == domain.WorldwideCode {
			p.errorf("entry %d: %s uses the worldwide sentinel code", i, opt.Name)
		}
	}
	return p
}

func validateWorldwide(worldwide domain.MetricSet, ds domain.Dataset) *phase {
	p := &phase{name: "Worldwide totals"}

	if worldwide.Cases == nil {
		p.errorf("worldwide cases missing")
		return p
	}
	if len(ds.Ranked) > 0 {
		top := ds.Ranked[0]
		if casesOf(top) > *worldwide.Cases {
			p.errorf("%s has %d cases, more than the worldwide total %d", top.Name, casesOf(top), *worldwide.Cases)
		}
	}
	for _, t := range domain.MetricTypes {
		if v := worldwide.Total(t); v != nil && *v < 0 {
			p.errorf("worldwide %s is negative: %d", t, *v)
		}
	}
	return p
}

func validateTimeline(tl domain.Timeline) *phase {
	p := &phase{name: "Timeline"}

	days := len(tl.Cases)
	if days == 0 {
		p.errorf("timeline has no case history")
		return p
	}
	for _, t := range domain.MetricTypes {
		series, err := domain.DailySeries(tl, t)
		if err != nil {
			p.errorf("%s: %v", t, err)
			continue
		}
		if t == domain.MetricCases && len(series) != days-1 {
			p.errorf("cases: %d daily points from %d days", len(series), days)
		}
		for i := 1; i < len(series); i++ {
			if !series[i].Date.After(series[i-1].Date) {
				p.errorf("%s: dates out of order at %s", t, series[i].Date.Format("2006-01-02"))
				break
			}
		}
	}
	return p
}

// ── Helpers ──

func casesOf(r domain.RegionSummary) int64 {
	if r.Metrics.Cases == nil {
		return 0
	}
	return *r.Metrics.Cases
}

func fetchIndex(regions []domain.RegionSummary, r domain.RegionSummary) int {
	return slices.IndexFunc(regions, func(x domain.RegionSummary) bool {
		return x.Name == r.Name && x.Code == r.Code
	})
}

func regionKey(r domain.RegionSummary) string {
	return r.Name + "\x00" + r.Code
}

func countUnselectable(ds domain.Dataset) int {
	n := 0
	for _, opt := range ds.Catalog {
		if opt.Code == "" {
			n++
		}
	}
	return n
}

func countDuplicateCodes(ds domain.Dataset) int {
	counts := make(map[string]int, len(ds.Catalog))
	for _, opt := range ds.Catalog {
		if opt.Code != "" {
			counts[opt.Code]++
		}
	}
	n := 0
	for _, c := range counts {
		if c > 1 {
			n++
		}
	}
	return n
}
