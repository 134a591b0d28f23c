package compressor

import (
	"testing"

	"rawpress-go/internal/adapter"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// walk follows the schedule with every attempt over target and returns the
// parameters visited.
func walk(s Schedule) ([]Params, State) {
	var visited []Params
	st := s.Start()
	for !st.Phase.Done() {
		visited = append(visited, st.Params)
		st = s.Next(st, 2, 1)
	}
	return visited, st
}

func TestSchedule_DefaultOrder(t *testing.T) {
	visited, final := walk(DefaultSchedule())
	require.Equal(t, Exhausted, final.Phase)

	png := func(q int, s float64) Params { return Params{Quality: q, ScalePercent: s, Format: adapter.FormatPNG} }
	jpg := func(q int) Params { return Params{Quality: q, ScalePercent: 10, Format: adapter.FormatJPEG} }
	want := []Params{
		png(50, 40), png(40, 40), png(30, 40),
		png(25, 40), png(20, 40), png(15, 40), png(10, 40),
		png(10, 35), png(10, 30), png(10, 25), png(10, 20),
		png(10, 18), png(10, 16), png(10, 14), png(10, 12), png(10, 10),
		jpg(80), jpg(60), jpg(40),
	}
	assert.Equal(t, want, visited)
}

func TestSchedule_StepsClampToFloors(t *testing.T) {
	s := DefaultSchedule()
	s.StartQuality = 47
	s.QualityLargeStep = 20
	s.StartScalePercent = 23
	s.ScaleCoarseStep = 7

	visited, _ := walk(s)
	var qualities []int
	var scales []float64
	for _, p := range visited {
		if p.Format == adapter.FormatPNG {
			qualities = append(qualities, p.Quality)
			scales = append(scales, p.ScalePercent)
		}
	}
	assert.Equal(t, []int{47, 30, 25, 20, 15, 10}, qualities[:6])
	assert.Contains(t, scales, 20.0)
	assert.Equal(t, 10.0, scales[len(scales)-1])
}

func TestSchedule_AcceptTransitions(t *testing.T) {
	s := DefaultSchedule()
	st := s.Start()

	accepted := s.Next(st, 100, 100)
	assert.Equal(t, AcceptedPNG, accepted.Phase)
	assert.Equal(t, st.Params, accepted.Params)

	st.Params = Params{Quality: 60, ScalePercent: 10, Format: adapter.FormatJPEG}
	st.sweep = 1
	assert.Equal(t, AcceptedJPEG, s.Next(st, 1, 100).Phase)

	assert.Equal(t, accepted, s.Next(accepted, 1000, 1), "terminal states are fixed points")
}

func TestSchedule_NoJPEGSweep(t *testing.T) {
	s := DefaultSchedule()
	s.JPEGQualities = nil

	visited, final := walk(s)
	assert.Equal(t, Exhausted, final.Phase)
	assert.Len(t, visited, 16)
	for _, p := range visited {
		assert.Equal(t, adapter.FormatPNG, p.Format)
	}
}

func TestSchedule_Validate(t *testing.T) {
	require.NoError(t, DefaultSchedule().Validate())

	tests := []struct {
		name   string
		mutate func(*Schedule)
	}{
		{"quality out of range", func(s *Schedule) { s.StartQuality = 0 }},
		{"scale out of range", func(s *Schedule) { s.StartScalePercent = 120 }},
		{"zero quality step", func(s *Schedule) { s.QualitySmallStep = 0 }},
		{"negative scale step", func(s *Schedule) { s.ScaleFineStep = -1 }},
		{"inverted quality floors", func(s *Schedule) { s.QualityLowFloor = 40 }},
		{"inverted scale floors", func(s *Schedule) { s.ScaleLowFloor = 25 }},
		{"jpeg scale above png floor", func(s *Schedule) { s.JPEGScalePercent = 15 }},
		{"jpeg qualities ascending", func(s *Schedule) { s.JPEGQualities = []int{40, 60} }},
		{"jpeg quality out of range", func(s *Schedule) { s.JPEGQualities = []int{101} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultSchedule()
			tt.mutate(&s)
			assert.Error(t, s.Validate())
		})
	}
}

func TestPhase_String(t *testing.T) {
	assert.Equal(t, "searching", Searching.String())
	assert.Equal(t, "accepted_png", AcceptedPNG.String())
	assert.Equal(t, "accepted_jpeg", AcceptedJPEG.String())
	assert.Equal(t, "exhausted", Exhausted.String())
	assert.False(t, Searching.Done())
	assert.True(t, Exhausted.Done())
}
