package compressor

import (
	"fmt"

	"rawpress-go/internal/adapter"
)

// Phase is the state of a descent search.
type Phase int

const (
	Searching Phase = iota
	AcceptedPNG
	AcceptedJPEG
	Exhausted
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case Searching:
		return "searching"
	case AcceptedPNG:
		return "accepted_png"
	case AcceptedJPEG:
		return "accepted_jpeg"
	case Exhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Done reports whether the search has stopped.
func (p Phase) Done() bool {
	return p != Searching
}

// Params are the encode parameters of a single attempt.
type Params struct {
	Quality      int
	ScalePercent float64
	Format       adapter.Format
}

// State is a position in the descent schedule.
type State struct {
	Phase  Phase
	Params Params
	sweep  int
}

// Schedule describes the ordered, monotonically more aggressive sequence of
// encode parameters tried by the compressor.
type Schedule struct {
	StartQuality      int
	StartScalePercent float64

	QualityHighFloor int
	QualityLargeStep int
	QualityLowFloor  int
	QualitySmallStep int

	ScaleHighFloor  float64
	ScaleCoarseStep float64
	ScaleLowFloor   float64
	ScaleFineStep   float64

	// JPEGQualities are swept in order at JPEGScalePercent once both floors are reached.
	JPEGQualities    []int
	JPEGScalePercent float64
}

// DefaultSchedule returns the schedule used when nothing is configured.
func DefaultSchedule() Schedule {
	return Schedule{
		StartQuality:      50,
		StartScalePercent: 40,
		QualityHighFloor:  30,
		QualityLargeStep:  10,
		QualityLowFloor:   10,
		QualitySmallStep:  5,
		ScaleHighFloor:    20,
		ScaleCoarseStep:   5,
		ScaleLowFloor:     10,
		ScaleFineStep:     2,
		JPEGQualities:     []int{80, 60, 40},
		JPEGScalePercent:  10,
	}
}

// Validate checks that the schedule terminates and never increases quality
// or scale within a format.
func (s Schedule) Validate() error {
	if s.StartQuality < 1 || s.StartQuality > 100 {
		return fmt.Errorf("start quality must be within 1-100, got %d", s.StartQuality)
	}
	if s.StartScalePercent <= 0 || s.StartScalePercent > 100 {
		return fmt.Errorf("start scale must be within (0, 100], got %g", s.StartScalePercent)
	}
	if s.QualityLargeStep <= 0 || s.QualitySmallStep <= 0 {
		return fmt.Errorf("quality steps must be positive")
	}
	if s.ScaleCoarseStep <= 0 || s.ScaleFineStep <= 0 {
		return fmt.Errorf("scale steps must be positive")
	}
	if s.QualityLowFloor < 1 || s.QualityLowFloor > s.QualityHighFloor {
		return fmt.Errorf("quality floors must satisfy 1 <= low (%d) <= high (%d)", s.QualityLowFloor, s.QualityHighFloor)
	}
	if s.ScaleLowFloor <= 0 || s.ScaleLowFloor > s.ScaleHighFloor {
		return fmt.Errorf("scale floors must satisfy 0 < low (%g) <= high (%g)", s.ScaleLowFloor, s.ScaleHighFloor)
	}
	if len(s.JPEGQualities) > 0 {
		if s.JPEGScalePercent <= 0 || s.JPEGScalePercent > min(s.ScaleLowFloor, s.StartScalePercent) {
			return fmt.Errorf("jpeg scale must be within (0, %g], got %g", min(s.ScaleLowFloor, s.StartScalePercent), s.JPEGScalePercent)
		}
		for i, q := range s.JPEGQualities {
			if q < 1 || q > 100 {
				return fmt.Errorf("jpeg quality must be within 1-100, got %d", q)
			}
			if i > 0 && q >= s.JPEGQualities[i-1] {
				return fmt.Errorf("jpeg qualities must be strictly decreasing, got %v", s.JPEGQualities)
			}
		}
	}
	return nil
}

// Start returns the initial state.
func (s Schedule) Start() State {
	return State{
		Phase: Searching,
		Params: Params{
			Quality:      s.StartQuality,
			ScalePercent: s.StartScalePercent,
			Format:       adapter.FormatPNG,
		},
	}
}

// Next returns the state following st after an attempt produced resultBytes.
// It has no side effects; terminal states are returned unchanged.
func (s Schedule) Next(st State, resultBytes, targetBytes int64) State {
	if st.Phase.Done() {
		return st
	}
	if resultBytes <= targetBytes {
		if st.Params.Format == adapter.FormatJPEG {
			st.Phase = AcceptedJPEG
		} else {
			st.Phase = AcceptedPNG
		}
		return st
	}
	return s.advance(st)
}

func (s Schedule) advance(st State) State {
	p := &st.Params

	if p.Format == adapter.FormatJPEG {
		st.sweep++
		if st.sweep >= len(s.JPEGQualities) {
			st.Phase = Exhausted
			return st
		}
		p.Quality = s.JPEGQualities[st.sweep]
		return st
	}

	switch {
	case p.Quality > s.QualityHighFloor:
		p.Quality = max(p.Quality-s.QualityLargeStep, s.QualityHighFloor)
	case p.Quality > s.QualityLowFloor:
		p.Quality = max(p.Quality-s.QualitySmallStep, s.QualityLowFloor)
	case p.ScalePercent > s.ScaleHighFloor:
		p.ScalePercent = max(p.ScalePercent-s.ScaleCoarseStep, s.ScaleHighFloor)
	case p.ScalePercent > s.ScaleLowFloor:
		p.ScalePercent = max(p.ScalePercent-s.ScaleFineStep, s.ScaleLowFloor)
	case len(s.JPEGQualities) > 0:
		p.Format = adapter.FormatJPEG
		p.Quality = s.JPEGQualities[0]
		p.ScalePercent = s.JPEGScalePercent
		st.sweep = 0
	default:
		st.Phase = Exhausted
	}
	return st
}
