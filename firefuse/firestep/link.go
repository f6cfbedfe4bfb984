// Package firestep talks to the FireStep motion-control firmware. The
// filesystem only needs two primitives from it: the latest state the firmware
// reported, and a way to send it a command.
package firestep

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/djherbis/buffer"
	"github.com/djherbis/nio/v3"
	"go.uber.org/zap"

	common "github.com/404wolf/firefuse/common"
	"github.com/404wolf/firefuse/firefuse/lifo"
)

// MaxCommandLen is the longest command accepted in one write
const MaxCommandLen = 255

// CommandBufferSize bounds the commands queued for the device
const CommandBufferSize = 64 * 1024

// IdleState is reported before the firmware has said anything
const IdleState = `{"s":0,"r":{}}` + "\n"

// Link is a connection to the firmware
type Link interface {
	// State returns the latest state reported by the firmware
	State() string
	// Write sends one command
	Write(cmd []byte) error
	Close() error
}

func validate(cmd []byte) error {
	if len(cmd) > MaxCommandLen {
		return fmt.Errorf("command of %d bytes exceeds %d: %w", len(cmd), MaxCommandLen, common.ErrInvalidArgument)
	}
	return nil
}

func terminate(cmd []byte) []byte {
	line := bytes.TrimRight(cmd, "\r\n")
	return append(append([]byte(nil), line...), '\n')
}

// NullLink is used when no firmware is attached. It remembers the last command
// and echoes it back in its state.
type NullLink struct {
	mu   sync.Mutex
	last []byte
}

var _ = (Link)((*NullLink)(nil))

func NewNullLink() *NullLink {
	return &NullLink{}
}

func (l *NullLink) State() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.last == nil {
		return IdleState
	}
	return fmt.Sprintf(`{"s":0,"r":{},"cmd":%q}`+"\n", bytes.TrimRight(l.last, "\n"))
}

func (l *NullLink) Write(cmd []byte) error {
	if err := validate(cmd); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.last = terminate(cmd)
	return nil
}

// Last returns the last command written, newline terminated
func (l *NullLink) Last() []byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last
}

func (l *NullLink) Close() error {
	return nil
}

// SerialLink drives firmware on a character device. Commands are queued in a
// buffered pipe so writers never wait on the device; a pump goroutine drains
// the pipe into the device and a reader goroutine publishes every JSON line
// the firmware sends back.
type SerialLink struct {
	dev        io.ReadWriteCloser
	pipeReader *nio.PipeReader
	pipeWriter *nio.PipeWriter
	state      *lifo.Cache[string]
	logger     *zap.SugaredLogger
	writeMu    sync.Mutex
	pumpDone   chan struct{}
	listenDone chan struct{}
	closeOnce  sync.Once
}

var _ = (Link)((*SerialLink)(nil))

// OpenSerial opens the device at path and starts a SerialLink on it
func OpenSerial(path string, logger *zap.SugaredLogger) (*SerialLink, error) {
	dev, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("opening firestep device %s: %w", path, err)
	}
	return NewSerialLink(dev, logger), nil
}

// NewSerialLink starts a link on an already open device
func NewSerialLink(dev io.ReadWriteCloser, logger *zap.SugaredLogger) *SerialLink {
	buf := buffer.New(CommandBufferSize)
	pipeReader, pipeWriter := nio.Pipe(buf)

	l := &SerialLink{
		dev:        dev,
		pipeReader: pipeReader,
		pipeWriter: pipeWriter,
		state:      lifo.New[string](),
		logger:     logger,
		pumpDone:   make(chan struct{}),
		listenDone: make(chan struct{}),
	}

	go l.pump()
	go l.listen()
	return l
}

func (l *SerialLink) pump() {
	defer close(l.pumpDone)
	if _, err := io.Copy(l.dev, l.pipeReader); err != nil {
		l.logger.Errorw("firestep command pump stopped", "error", err)
		l.pipeReader.Close()
	}
}

func (l *SerialLink) listen() {
	defer close(l.listenDone)
	scanner := bufio.NewScanner(l.dev)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 || line[0] != '{' {
			common.Tracef(l.logger, "firestep ignored %q", line)
			continue
		}
		l.state.Publish(string(line) + "\n")
		common.Tracef(l.logger, "firestep state %s", line)
	}
	if err := scanner.Err(); err != nil {
		l.logger.Warnw("firestep device read stopped", "error", err)
	}
}

func (l *SerialLink) State() string {
	snap := l.state.Snapshot()
	if snap.Generation == 0 {
		return IdleState
	}
	return snap.Value
}

// Generation returns how many states the firmware has reported
func (l *SerialLink) Generation() uint64 {
	return l.state.Generation()
}

func (l *SerialLink) Write(cmd []byte) error {
	if err := validate(cmd); err != nil {
		return err
	}
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	if _, err := l.pipeWriter.Write(terminate(cmd)); err != nil {
		return fmt.Errorf("queueing firestep command: %w", common.ErrIO)
	}
	l.logger.Debugw("firestep command queued", "cmd", string(bytes.TrimSpace(cmd)))
	return nil
}

// Close stops accepting commands, flushes queued ones and closes the device
func (l *SerialLink) Close() error {
	var err error
	l.closeOnce.Do(func() {
		l.writeMu.Lock()
		l.pipeWriter.Close()
		l.writeMu.Unlock()

		<-l.pumpDone
		err = l.dev.Close()
		<-l.listenDone
	})
	return err
}
