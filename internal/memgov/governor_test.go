package memgov_test

import (
	"errors"
	"math"
	"testing"

	"github.com/prometheus/procfs"

	"github.com/MrWong99/pivoice/internal/memgov"
	"github.com/MrWong99/pivoice/pkg/provider/stt"
)

type fakeReader struct {
	mi  procfs.Meminfo
	err error
}

func (f fakeReader) Meminfo() (procfs.Meminfo, error) { return f.mi, f.err }

func u64(v uint64) *uint64 { return &v }

func TestRecommendTier(t *testing.T) {
	tests := []struct {
		available int
		want      stt.Tier
		wantErr   bool
	}{
		{available: 16000, want: stt.TierLarge},
		{available: 8000, want: stt.TierLarge},
		{available: 7999, want: stt.TierMedium},
		{available: 4000, want: stt.TierMedium},
		{available: 3999, want: stt.TierSmall},
		{available: 2000, want: stt.TierSmall},
		{available: 1999, want: stt.TierBase},
		{available: 1000, want: stt.TierBase},
		{available: 999, want: stt.TierTiny},
		{available: 500, want: stt.TierTiny},
		{available: 499, wantErr: true},
		{available: 0, wantErr: true},
	}
	for _, tt := range tests {
		got, err := memgov.RecommendTier(memgov.Snapshot{AvailableMB: tt.available})
		if tt.wantErr {
			if !errors.Is(err, memgov.ErrInsufficientMemory) {
				t.Errorf("available=%d: err = %v, want ErrInsufficientMemory", tt.available, err)
			}
			if err.Error() != "insufficient memory" {
				t.Errorf("reason = %q, want %q", err.Error(), "insufficient memory")
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("available=%d: got %v, %v; want %v", tt.available, got, err, tt.want)
		}
	}
}

func TestShouldWarn(t *testing.T) {
	if !memgov.ShouldWarn(memgov.Snapshot{TotalMB: 1000, AvailableMB: 299}) {
		t.Error("ShouldWarn(299) = false, want true")
	}
	if memgov.ShouldWarn(memgov.Snapshot{TotalMB: 1000, AvailableMB: 300}) {
		t.Error("ShouldWarn(300) = true, want false")
	}
	if memgov.ShouldWarn(memgov.Snapshot{}) {
		t.Error("ShouldWarn warned on an unknown snapshot")
	}

	g := memgov.New(memgov.WithReader(fakeReader{}), memgov.WithWarnBelow(1000))
	if !g.ShouldWarn(memgov.Snapshot{TotalMB: 4000, AvailableMB: 999}) {
		t.Error("governor ShouldWarn(999) with threshold 1000 = false")
	}
	if g.ShouldWarn(memgov.Snapshot{}) {
		t.Error("governor warned on an unknown snapshot")
	}
}

func TestSample(t *testing.T) {
	g := memgov.New(memgov.WithReader(fakeReader{mi: procfs.Meminfo{
		MemTotal:     u64(4 * 1024 * 1024),
		MemAvailable: u64(1024 * 1024),
		SwapTotal:    u64(512 * 1024),
		SwapFree:     u64(256 * 1024),
	}}))

	s := g.Sample()
	if s.TotalMB != 4096 || s.AvailableMB != 1024 || s.SwapUsedMB != 256 {
		t.Errorf("Sample() = %+v", s)
	}
	if math.Abs(s.UsedPercent-75) > 1e-9 {
		t.Errorf("UsedPercent = %v, want 75", s.UsedPercent)
	}
	if !s.Known() || g.Degraded() {
		t.Errorf("Known=%v Degraded=%v, want true/false", s.Known(), g.Degraded())
	}
}

func TestSample_OldKernelFallback(t *testing.T) {
	g := memgov.New(memgov.WithReader(fakeReader{mi: procfs.Meminfo{
		MemTotal: u64(2048 * 1024),
		MemFree:  u64(100 * 1024),
		Buffers:  u64(50 * 1024),
		Cached:   u64(250 * 1024),
	}}))
	if got := g.Sample().AvailableMB; got != 400 {
		t.Errorf("AvailableMB = %d, want 400", got)
	}
}

func TestSample_ReadErrorReturnsZeros(t *testing.T) {
	g := memgov.New(memgov.WithReader(fakeReader{err: errors.New("no /proc")}))
	s := g.Sample()
	if s != (memgov.Snapshot{}) {
		t.Errorf("Sample() = %+v, want zero snapshot", s)
	}
	if s.Known() {
		t.Error("zero snapshot reported as known")
	}
	if !g.Degraded() {
		t.Error("Degraded() = false after read error")
	}
}

func TestRequirements(t *testing.T) {
	fits := memgov.Requirements(memgov.Snapshot{AvailableMB: 2500})
	if len(fits) != 5 {
		t.Fatalf("got %d entries, want 5", len(fits))
	}
	want := []bool{true, true, true, false, false}
	for i, f := range fits {
		if f.Fits != want[i] {
			t.Errorf("%s: Fits = %v, want %v", f.Tier, f.Fits, want[i])
		}
		if f.Profile != f.Tier.Profile() {
			t.Errorf("%s: profile mismatch", f.Tier)
		}
	}
}
