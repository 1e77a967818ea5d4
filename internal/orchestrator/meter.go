package orchestrator

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/pivoice/pkg/audio"
)

const meterWidth = 20

// meter redraws a single console line with elapsed time and the running
// peak level while a capture is in progress. It only reads the level and
// its own clock.
type meter struct {
	out      io.Writer
	level    *audio.Level
	total    time.Duration
	interval time.Duration

	done chan struct{}
	wg   sync.WaitGroup
}

func startMeter(out io.Writer, level *audio.Level, total, interval time.Duration) *meter {
	m := &meter{out: out, level: level, total: total, interval: interval, done: make(chan struct{})}
	m.wg.Add(1)
	go m.run(time.Now())
	return m
}

// stop ends the redraw loop and waits for it, so no line is written after
// stop returns.
func (m *meter) stop() {
	close(m.done)
	m.wg.Wait()
}

func (m *meter) run(start time.Time) {
	defer m.wg.Done()
	t := time.NewTicker(m.interval)
	defer t.Stop()
	for {
		select {
		case <-m.done:
			m.draw(min(time.Since(start), m.total))
			fmt.Fprintln(m.out)
			return
		case <-t.C:
			m.draw(min(time.Since(start), m.total))
		}
	}
}

func (m *meter) draw(elapsed time.Duration) {
	fmt.Fprintf(m.out, "\r%s %4.1f/%.1fs %s", bar(elapsed, m.total), elapsed.Seconds(), m.total.Seconds(), levelBar(m.level.Fraction()))
}

func bar(elapsed, total time.Duration) string {
	n := 0
	if total > 0 {
		n = int(float64(meterWidth) * float64(elapsed) / float64(total))
	}
	n = min(max(n, 0), meterWidth)
	return "[" + strings.Repeat("#", n) + strings.Repeat("-", meterWidth-n) + "]"
}

// levelBar renders the peak as a short bar, e.g. "▮▮▮▯▯".
func levelBar(frac float64) string {
	const width = 5
	n := min(max(int(frac*width+0.5), 0), width)
	return strings.Repeat("▮", n) + strings.Repeat("▯", width-n)
}
