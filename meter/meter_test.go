package meter_test

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/github/procpipe/meter"
)

// lockedBuffer lets the test read what the meter's goroutine wrote.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestProgressMeterFinalLine(t *testing.T) {
	t.Parallel()

	var buf lockedBuffer
	m := meter.NewProgressMeter(&buf, time.Hour)
	m.Start("Pumped %d bytes")
	m.Add(1000)
	m.Inc()
	m.Done()

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "Pumped 1001 bytes (1001 B)"), out)
	assert.True(t, strings.HasSuffix(out, "\n"), out)
	assert.Equal(t, 1, strings.Count(out, "\n"))
}

func TestProgressMeterTicks(t *testing.T) {
	t.Parallel()

	var buf lockedBuffer
	m := meter.NewProgressMeter(&buf, time.Millisecond)
	m.Start("Counted %d things")
	assert.Eventually(t, func() bool {
		return strings.Contains(buf.String(), "\r")
	}, 5*time.Second, time.Millisecond)
	m.Done()

	// The meter can be restarted, counting from zero:
	m.Start("Counted %d things")
	m.Done()
	assert.Contains(t, buf.String(), "Counted 0 things (0 B)")
}

func TestDoneWithoutStart(t *testing.T) {
	t.Parallel()

	var buf lockedBuffer
	meter.NewProgressMeter(&buf, time.Millisecond).Done()
	assert.Empty(t, buf.String())
}

func TestNoProgressMeter(t *testing.T) {
	t.Parallel()

	var m meter.Progress = &meter.NoProgressMeter{}
	m.Start("%d")
	m.Add(5)
	m.Inc()
	m.Done()
}
