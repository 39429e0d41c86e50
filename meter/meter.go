package meter

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/github/procpipe/counts"
)

// Progress is an interface for a simple progress meter. Call
// `Start()` to begin reporting. `format` should include some kind of
// '%d' field, into which will be written the current count. A spinner
// and a CR character will be added automatically.
//
// Call `Add()` every time the quantity of interest increases. Call
// `Done()` to stop reporting. After an instance's `Done()` method has
// been called, it may be reused (starting at value 0) by calling
// `Start()` again.
type Progress interface {
	Start(format string)
	Inc()
	Add(delta int64)
	Done()
}

var Spinners = []string{"|", "(", "<", "-", "<", "(", "|", ")", ">", "-", ">", ")"}

// progressMeter is a `Progress` that reports the current state to `w`
// every `period`.
type progressMeter struct {
	lock         sync.Mutex
	w            io.Writer
	format       string
	period       time.Duration
	spinnerIndex int
	// Closing `quit` tells the reporting goroutine to shut down; it
	// closes `stopped` on its way out. Both are nil when the meter
	// isn't running.
	quit    chan struct{}
	stopped chan struct{}

	// `count` is updated atomically:
	count int64
}

// NewProgressMeter returns a meter that writes to `w` (normally a
// terminal on stderr) every `period`.
func NewProgressMeter(w io.Writer, period time.Duration) Progress {
	return &progressMeter{
		w:      w,
		period: period,
	}
}

func (p *progressMeter) Start(format string) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.format = format + " (%s)   %s                    %s"
	atomic.StoreInt64(&p.count, 0)
	p.spinnerIndex = 0

	quit := make(chan struct{})
	stopped := make(chan struct{})
	p.quit, p.stopped = quit, stopped

	ticker := time.NewTicker(p.period)
	go func() {
		defer close(stopped)
		defer ticker.Stop()
		for {
			select {
			case <-quit:
				return
			case <-ticker.C:
			}
			p.lock.Lock()
			p.spinnerIndex = (p.spinnerIndex + 1) % len(Spinners)
			p.show(Spinners[p.spinnerIndex], "\r")
			p.lock.Unlock()
		}
	}()
}

// show must be called with `p.lock` held.
func (p *progressMeter) show(spinner, eol string) {
	c := atomic.LoadInt64(&p.count)
	fmt.Fprintf(p.w, p.format, c, counts.NewCount64(uint64(c)).Bytes(), spinner, eol)
}

func (p *progressMeter) Inc() {
	atomic.AddInt64(&p.count, 1)
}

func (p *progressMeter) Add(delta int64) {
	atomic.AddInt64(&p.count, delta)
}

// Done stops reporting and prints the final count. It waits for the
// reporting goroutine to exit.
func (p *progressMeter) Done() {
	p.lock.Lock()
	quit, stopped := p.quit, p.stopped
	p.quit, p.stopped = nil, nil
	p.lock.Unlock()

	if quit == nil {
		// Not started.
		return
	}
	close(quit)
	<-stopped

	p.lock.Lock()
	defer p.lock.Unlock()
	p.show(" ", "\n")
}

// NoProgressMeter is a `Progress` that doesn't actually report
// anything.
type NoProgressMeter struct{}

func (p *NoProgressMeter) Start(string) {}
func (p *NoProgressMeter) Inc()         {}
func (p *NoProgressMeter) Add(int64)    {}
func (p *NoProgressMeter) Done()        {}
