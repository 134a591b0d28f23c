package compressor

import (
	"context"
	"hash/fnv"
	"os"
	"path/filepath"
	"testing"

	"rawpress-go/internal/adapter"
	"rawpress-go/internal/logger"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// pseudoSize derives a stable size in [1, 10000] from the seed and encode parameters.
func pseudoSize(seed uint32, cfg adapter.EncodeConfig) int64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key(cfg.Format, cfg.Quality, cfg.ScalePercent)))
	return int64((h.Sum32()^seed)%10000) + 1
}

func TestDescentProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	run := func(seed uint32, target int64) (Outcome, *scriptedEncoder, string, bool) {
		dir, err := os.MkdirTemp("", "rawpress-prop-")
		if err != nil {
			return Outcome{}, nil, "", false
		}
		src := filepath.Join(dir, "p.png")
		if err := os.WriteFile(src, []byte("png"), 0644); err != nil {
			return Outcome{}, nil, dir, false
		}
		enc := &scriptedEncoder{size: func(cfg adapter.EncodeConfig) int64 { return pseudoSize(seed, cfg) }}
		c, err := NewSizeTargetingCompressor(Options{Schedule: DefaultSchedule()}, enc, logger.Discard())
		if err != nil {
			return Outcome{}, nil, dir, false
		}
		out, err := c.Compress(context.Background(), Task{SourcePath: src, TargetBytes: target})
		return out, enc, dir, err == nil
	}

	properties.Property("every task yields one outcome with at least one attempt", prop.ForAll(
		func(seed uint32, target int64) bool {
			out, _, dir, ok := run(seed, target)
			defer os.RemoveAll(dir)
			return ok && out.AttemptsUsed >= 1 && out.AttemptsUsed == len(out.Attempts) &&
				out.MetTarget == (out.FinalBytes <= target)
		},
		gen.UInt32(), gen.Int64Range(1, 10000),
	))

	properties.Property("descent is monotonic within a format and never returns to PNG", prop.ForAll(
		func(seed uint32, target int64) bool {
			out, _, dir, ok := run(seed, target)
			defer os.RemoveAll(dir)
			if !ok {
				return false
			}
			var prev *Attempt
			for i := range out.Attempts {
				a := out.Attempts[i]
				if a.Restore {
					continue
				}
				if prev != nil {
					if prev.Format == adapter.FormatJPEG && a.Format == adapter.FormatPNG {
						return false
					}
					if prev.Format == a.Format && (a.Quality > prev.Quality || a.ScalePercent > prev.ScalePercent) {
						return false
					}
					if a.ScalePercent > prev.ScalePercent {
						return false
					}
				}
				prev = &out.Attempts[i]
			}
			return true
		},
		gen.UInt32(), gen.Int64Range(1, 10000),
	))

	properties.Property("at most one candidate on disk and the survivor is the reported one", prop.ForAll(
		func(seed uint32, target int64) bool {
			out, enc, dir, ok := run(seed, target)
			defer os.RemoveAll(dir)
			if !ok || enc.maxLive != 0 {
				return false
			}
			entries, err := os.ReadDir(dir)
			if err != nil || len(entries) != 2 {
				return false
			}
			info, err := os.Stat(out.FinalPath)
			return err == nil && info.Size() == out.FinalBytes
		},
		gen.UInt32(), gen.Int64Range(1, 10000),
	))

	properties.Property("a missed target keeps the smallest observed size", prop.ForAll(
		func(seed uint32, target int64) bool {
			out, _, dir, ok := run(seed, target)
			defer os.RemoveAll(dir)
			if !ok {
				return false
			}
			if out.MetTarget {
				last := out.Attempts[len(out.Attempts)-1]
				return last.ResultBytes <= target && out.FinalBytes == last.ResultBytes
			}
			smallest := out.Attempts[0].ResultBytes
			for _, a := range out.Attempts {
				smallest = min(smallest, a.ResultBytes)
			}
			return out.FinalBytes == smallest
		},
		gen.UInt32(), gen.Int64Range(1, 1000),
	))

	properties.TestingRun(t)
}

func TestNextTerminatesProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	properties.Property("Next reaches a terminal state within a bounded number of steps", prop.ForAll(
		func(startQ int, startScale int, large int, small int) bool {
			s := DefaultSchedule()
			s.StartQuality = startQ
			s.StartScalePercent = float64(startScale)
			s.QualityLargeStep = large
			s.QualitySmallStep = small
			if s.Validate() != nil {
				return true
			}
			st := s.Start()
			for i := 0; i < 500; i++ {
				if st.Phase.Done() {
					return true
				}
				st = s.Next(st, 2, 1)
			}
			return false
		},
		gen.IntRange(1, 100), gen.IntRange(10, 100), gen.IntRange(1, 30), gen.IntRange(1, 10),
	))

	properties.TestingRun(t)
}
