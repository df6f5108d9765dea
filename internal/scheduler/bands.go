package scheduler

import (
	"os"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Band maps a time-of-day range to a polling interval. Start is inclusive,
// End exclusive, both in minutes since midnight; a band may wrap past
// midnight (Start > End).
type Band struct {
	Name     string
	Start    int
	End      int
	Interval time.Duration
}

// BandTable selects the polling interval for a wall-clock instant.
type BandTable struct {
	bands []Band
}

// DefaultBands polls aggressively during business hours, at a medium rate in
// the shoulder hours, and slowly overnight.
func DefaultBands() *BandTable {
	return &BandTable{bands: []Band{
		{Name: "business", Start: 9 * 60, End: 19 * 60, Interval: 5 * time.Minute},
		{Name: "evening", Start: 19 * 60, End: 23 * 60, Interval: 15 * time.Minute},
		{Name: "early", Start: 7 * 60, End: 9 * 60, Interval: 15 * time.Minute},
		{Name: "overnight", Start: 23 * 60, End: 7 * 60, Interval: 60 * time.Minute},
	}}
}

// bandConfig is the YAML shape for a single band.
type bandConfig struct {
	Name         string `yaml:"name"`
	Start        string `yaml:"start"` // "HH:MM"
	End          string `yaml:"end"`
	IntervalMins int    `yaml:"interval_mins"`
}

// LoadBands reads a band table from a YAML file.
func LoadBands(path string) (*BandTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "scheduler: read bands %s", path)
	}

	var wrapper struct {
		Bands []bandConfig `yaml:"bands"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "scheduler: parse bands")
	}
	if len(wrapper.Bands) == 0 {
		return nil, eris.New("scheduler: bands file defines no bands")
	}

	bands := make([]Band, 0, len(wrapper.Bands))
	for _, bc := range wrapper.Bands {
		start, err := parseClock(bc.Start)
		if err != nil {
			return nil, eris.Wrapf(err, "scheduler: band %q start", bc.Name)
		}
		end, err := parseClock(bc.End)
		if err != nil {
			return nil, eris.Wrapf(err, "scheduler: band %q end", bc.Name)
		}
		if bc.IntervalMins <= 0 {
			return nil, eris.Errorf("scheduler: band %q has no interval", bc.Name)
		}
		bands = append(bands, Band{
			Name:     bc.Name,
			Start:    start,
			End:      end,
			Interval: time.Duration(bc.IntervalMins) * time.Minute,
		})
	}
	sort.SliceStable(bands, func(i, j int) bool { return bands[i].Start < bands[j].Start })
	return &BandTable{bands: bands}, nil
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, eris.Wrapf(err, "parse clock %q", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// IntervalAt returns the interval for the band covering the given instant,
// along with the band's name. Minutes covered by no band fall back to the
// longest configured interval.
func (t *BandTable) IntervalAt(now time.Time) (time.Duration, string) {
	minute := now.Hour()*60 + now.Minute()
	for _, b := range t.bands {
		if b.covers(minute) {
			return b.Interval, b.Name
		}
	}
	longest := time.Duration(0)
	name := ""
	for _, b := range t.bands {
		if b.Interval > longest {
			longest = b.Interval
			name = b.Name
		}
	}
	return longest, name
}

func (b Band) covers(minute int) bool {
	if b.Start <= b.End {
		return minute >= b.Start && minute < b.End
	}
	// Wraps midnight.
	return minute >= b.Start || minute < b.End
}
