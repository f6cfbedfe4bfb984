package dispatch

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	common "github.com/404wolf/firefuse/common"
)

// MaxEchoLen is the longest payload /echo accepts
const MaxEchoLen = 255

// Scalars is the process-wide mutable state behind the small pseudo-files
type Scalars struct {
	bytesRead atomic.Uint64
	seconds   atomic.Uint64

	echoMu sync.RWMutex
	echo   []byte

	clockMu sync.Mutex
	clock   *common.RefreshLoop
}

// AddBytesRead counts bytes handed to readers
func (s *Scalars) AddBytesRead(n int) {
	if n > 0 {
		s.bytesRead.Add(uint64(n))
	}
}

// BytesRead returns the total bytes handed to readers
func (s *Scalars) BytesRead() uint64 {
	return s.bytesRead.Load()
}

// Seconds returns the seconds counted by the clock
func (s *Scalars) Seconds() uint64 {
	return s.seconds.Load()
}

// Echo returns a copy of the echo scratch buffer
func (s *Scalars) Echo() []byte {
	s.echoMu.RLock()
	defer s.echoMu.RUnlock()
	return append([]byte(nil), s.echo...)
}

// SetEcho replaces the echo scratch buffer. Payloads longer than MaxEchoLen
// are rejected and leave the buffer unchanged.
func (s *Scalars) SetEcho(data []byte) bool {
	if len(data) > MaxEchoLen {
		return false
	}
	s.echoMu.Lock()
	defer s.echoMu.Unlock()
	s.echo = append([]byte(nil), data...)
	return true
}

// StartClock counts elapsed seconds, one per tick, until StopClock is called
// or ctx ends
func (s *Scalars) StartClock(ctx context.Context, tick time.Duration) {
	s.clockMu.Lock()
	defer s.clockMu.Unlock()
	if s.clock == nil {
		s.clock = common.NewRefreshLoop(common.RefreshFunc(func(context.Context) error {
			s.seconds.Add(1)
			return nil
		}), tick, false)
	}
	s.clock.Start(ctx)
}

// StopClock stops the clock and waits for it to exit
func (s *Scalars) StopClock() {
	s.clockMu.Lock()
	clock := s.clock
	s.clockMu.Unlock()
	if clock != nil {
		clock.Stop()
	}
}

func decimal(n uint64) []byte {
	return strconv.AppendUint(nil, n, 10)
}
