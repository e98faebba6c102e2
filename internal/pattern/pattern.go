// Package pattern shapes the broadcast send rate over time.
package pattern

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Pattern returns the target send rate for the time elapsed since the
// broadcast started. A rate of zero or less means unlimited.
type Pattern interface {
	Name() string
	Rate(elapsed time.Duration) float64
	String() string
}

const (
	NameConstant = "constant"
	NameRamp     = "ramp"
	NameSpike    = "spike"
)

// Constant sends at a fixed rate.
type Constant struct {
	PerSecond float64
}

func (c Constant) Name() string               { return NameConstant }
func (c Constant) Rate(time.Duration) float64 { return c.PerSecond }
func (c Constant) String() string             { return fmt.Sprintf("%s:%g", NameConstant, c.PerSecond) }

// Ramp moves linearly from Start to End over Duration and holds End after.
type Ramp struct {
	Start, End float64
	Duration   time.Duration
}

func (r Ramp) Name() string { return NameRamp }

func (r Ramp) Rate(elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return r.Start
	}
	if elapsed >= r.Duration {
		return r.End
	}
	progress := float64(elapsed) / float64(r.Duration)
	return r.Start + progress*(r.End-r.Start)
}

func (r Ramp) String() string {
	return fmt.Sprintf("%s:%g,%g,%s", NameRamp, r.Start, r.End, r.Duration)
}

// Spike runs at Baseline and jumps to Peak for the last Length of every
// Interval.
type Spike struct {
	Baseline, Peak float64
	Length         time.Duration
	Interval       time.Duration
}

func (s Spike) Name() string { return NameSpike }

func (s Spike) Rate(elapsed time.Duration) float64 {
	if elapsed%s.Interval >= s.Interval-s.Length {
		return s.Peak
	}
	return s.Baseline
}

func (s Spike) String() string {
	return fmt.Sprintf("%s:%g,%g,%s,%s", NameSpike, s.Baseline, s.Peak, s.Length, s.Interval)
}

// Parse reads "constant:RATE", "ramp:START,END,DURATION" or
// "spike:BASE,PEAK,LENGTH,INTERVAL". Durations use time.ParseDuration.
func Parse(s string) (Pattern, error) {
	name, args, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return nil, fmt.Errorf("pattern %q: expected <name>:<params>", s)
	}
	parts := strings.Split(args, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	switch name {
	case NameConstant:
		if len(parts) != 1 {
			return nil, fmt.Errorf("pattern %q: expected rate", s)
		}
		r, err := parseRate(parts[0])
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", s, err)
		}
		return Constant{PerSecond: r}, nil

	case NameRamp:
		if len(parts) != 3 {
			return nil, fmt.Errorf("pattern %q: expected start,end,duration", s)
		}
		start, err := parseRate(parts[0])
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", s, err)
		}
		end, err := parseRate(parts[1])
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", s, err)
		}
		d, err := parsePositiveDuration(parts[2])
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", s, err)
		}
		return Ramp{Start: start, End: end, Duration: d}, nil

	case NameSpike:
		if len(parts) != 4 {
			return nil, fmt.Errorf("pattern %q: expected base,peak,length,interval", s)
		}
		base, err := parseRate(parts[0])
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", s, err)
		}
		peak, err := parseRate(parts[1])
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", s, err)
		}
		length, err := parsePositiveDuration(parts[2])
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", s, err)
		}
		interval, err := parsePositiveDuration(parts[3])
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", s, err)
		}
		if length > interval {
			return nil, fmt.Errorf("pattern %q: spike length %s exceeds interval %s", s, length, interval)
		}
		return Spike{Baseline: base, Peak: peak, Length: length, Interval: interval}, nil
	}
	return nil, fmt.Errorf("unknown pattern %q", name)
}

func parseRate(s string) (float64, error) {
	r, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if r < 0 {
		return 0, fmt.Errorf("rate %g cannot be negative", r)
	}
	return r, nil
}

func parsePositiveDuration(s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration %s must be positive", d)
	}
	return d, nil
}
