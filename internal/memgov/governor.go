// Package memgov samples system memory and maps the available headroom to a
// recognition model tier.
//
// [Governor.Sample] is the only function that touches the OS. Everything
// else is a pure function of a [Snapshot], so the policy can be tested with
// literal values.
package memgov

import (
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/prometheus/procfs"

	"github.com/MrWong99/pivoice/pkg/provider/stt"
)

// DefaultWarnBelowMB is the available-memory level below which
// [ShouldWarn] reports true.
const DefaultWarnBelowMB = 300

// ErrInsufficientMemory is returned by [RecommendTier] when even the
// smallest tier does not fit.
var ErrInsufficientMemory = errors.New("insufficient memory")

// Snapshot is a point-in-time reading of system memory. It is a value type
// and is never updated; take a fresh one at each decision point.
type Snapshot struct {
	TotalMB     int
	AvailableMB int
	UsedPercent float64
	SwapUsedMB  int
}

// Known reports whether s holds a real reading. The zero Snapshot returned
// after a failed read is unknown.
func (s Snapshot) Known() bool { return s.TotalMB > 0 }

// MeminfoReader reads /proc/meminfo. [procfs.FS] satisfies it.
type MeminfoReader interface {
	Meminfo() (procfs.Meminfo, error)
}

// Governor samples memory through a [MeminfoReader].
//
// All methods are safe for concurrent use.
type Governor struct {
	reader      MeminfoReader
	warnBelowMB int
	degraded    atomic.Bool
}

// Option is a functional option for configuring a Governor.
type Option func(*Governor)

// WithReader replaces the /proc reader, mainly for tests.
func WithReader(r MeminfoReader) Option {
	return func(g *Governor) { g.reader = r }
}

// WithWarnBelow sets the low-memory warning threshold in MB.
func WithWarnBelow(mb int) Option {
	return func(g *Governor) {
		if mb > 0 {
			g.warnBelowMB = mb
		}
	}
}

// New returns a Governor reading from the default /proc mount. If /proc is
// not available every Sample returns the zero Snapshot.
func New(opts ...Option) *Governor {
	g := &Governor{warnBelowMB: DefaultWarnBelowMB}
	for _, o := range opts {
		o(g)
	}
	if g.reader == nil {
		fs, err := procfs.NewDefaultFS()
		if err != nil {
			slog.Debug("memgov: /proc unavailable, memory readings disabled", "err", err)
		} else {
			g.reader = fs
		}
	}
	return g
}

// Sample reads memory once. It never fails: a read error yields the zero
// Snapshot and marks the governor degraded.
func (g *Governor) Sample() Snapshot {
	if g.reader == nil {
		g.degraded.Store(true)
		return Snapshot{}
	}
	mi, err := g.reader.Meminfo()
	if err != nil {
		g.degraded.Store(true)
		slog.Debug("memgov: meminfo read failed, returning zeros", "err", err)
		return Snapshot{}
	}
	g.degraded.Store(false)
	return fromMeminfo(mi)
}

// Degraded reports whether the most recent Sample failed to read memory.
func (g *Governor) Degraded() bool { return g.degraded.Load() }

// WarnBelowMB returns the configured warning threshold.
func (g *Governor) WarnBelowMB() int { return g.warnBelowMB }

// ShouldWarn reports whether s is below the governor's warning threshold.
// Unknown snapshots never warn.
func (g *Governor) ShouldWarn(s Snapshot) bool {
	return s.Known() && s.AvailableMB < g.warnBelowMB
}

// ShouldWarn reports whether s has less than [DefaultWarnBelowMB] available.
// Unknown snapshots never warn.
func ShouldWarn(s Snapshot) bool {
	return s.Known() && s.AvailableMB < DefaultWarnBelowMB
}

// RecommendTier returns the largest tier whose minimum RAM requirement fits
// in s.AvailableMB, or [ErrInsufficientMemory] if none does.
func RecommendTier(s Snapshot) (stt.Tier, error) {
	tiers := stt.Tiers()
	for i := len(tiers) - 1; i >= 0; i-- {
		if tiers[i].Profile().MinRAMMB <= s.AvailableMB {
			return tiers[i], nil
		}
	}
	return stt.TierTiny, ErrInsufficientMemory
}

// TierFit pairs a tier with whether it fits in a snapshot.
type TierFit struct {
	Tier    stt.Tier
	Profile stt.TierProfile
	Fits    bool
}

// Requirements lists every tier, smallest first, with its fit against s.
func Requirements(s Snapshot) []TierFit {
	tiers := stt.Tiers()
	out := make([]TierFit, 0, len(tiers))
	for _, t := range tiers {
		p := t.Profile()
		out = append(out, TierFit{Tier: t, Profile: p, Fits: p.MinRAMMB <= s.AvailableMB})
	}
	return out
}

func fromMeminfo(mi procfs.Meminfo) Snapshot {
	total := kb(mi.MemTotal)
	avail := kb(mi.MemAvailable)
	if mi.MemAvailable == nil {
		// Kernels before 3.14 lack MemAvailable.
		avail = kb(mi.MemFree) + kb(mi.Buffers) + kb(mi.Cached)
	}
	var used float64
	if total > 0 {
		used = float64(total-avail) / float64(total) * 100
	}
	swapUsed := kb(mi.SwapTotal) - kb(mi.SwapFree)
	return Snapshot{
		TotalMB:     int(total / 1024),
		AvailableMB: int(avail / 1024),
		UsedPercent: used,
		SwapUsedMB:  int(max(swapUsed, 0) / 1024),
	}
}

func kb(p *uint64) int64 {
	if p == nil {
		return 0
	}
	return int64(*p)
}
