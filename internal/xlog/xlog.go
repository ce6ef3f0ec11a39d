// Package xlog is the Structured Event Log: a dual-sink logger that emits
// both a human-readable line per event (for an operator watching a
// terminal) and a machine-readable JSON record per event (for later
// analysis). It is built on logrus, the way the teacher's common package
// builds its global logger, but deliberately uses two independent
// logrus.Logger instances instead of one logger behind a custom
// io.Writer splitter, each written from its own goroutine, so a slow
// write on one sink does not delay events already queued for the other.
// Emit feeds the two sinks in turn: once either sink's buffer is full,
// new events reach neither sink until that sink drains.
package xlog

import (
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// Kind enumerates the event vocabulary emitted across a run.
type Kind string

const (
	PreflightOK     Kind = "preflight_ok"
	PreflightFailed Kind = "preflight_failed"
	ChunkAttempt    Kind = "chunk_attempt"
	ChunkCompleted  Kind = "chunk_completed"
	ChunkSkipped    Kind = "chunk_skipped"
	ChunkFailed     Kind = "chunk_failed"
	StationComplete Kind = "station_complete"
	RunComplete     Kind = "run_complete"
	RefineMonth     Kind = "refine_month"
	RefineFailed    Kind = "refine_failed"
)

// Fields is an alias for the structured key/value payload attached to an
// event, kept distinct from logrus.Fields so callers don't need to import
// logrus directly just to build an event.
type Fields map[string]interface{}

// Event is one record in the structured log. RunID, and where
// applicable StationKey and Year, are required per spec §4.7.
type Event struct {
	Kind       Kind
	RunID      string
	StationKey string
	Year       int
	Fields     Fields
}

// Log is the dual-sink event logger. Each sink has its own goroutine and
// buffered channel, so a slow write on one sink does not delay events
// already queued for the other. Emit sends to both channels in turn, so
// a full channel on either sink blocks the caller and holds back
// delivery of later events to both sinks.
type Log struct {
	human   *logrus.Logger
	machine *logrus.Logger

	humanCh  chan Event
	machineCh chan Event

	wg sync.WaitGroup
}

// Option configures a Log at construction time.
type Option func(*options)

type options struct {
	humanOut   io.Writer
	machineOut io.Writer
	jsonHuman  bool
	bufferSize int
}

// WithHumanOutput overrides the human sink's writer (default os.Stdout,
// with level=error records steered to os.Stderr — see errorRoutedWriter).
func WithHumanOutput(w io.Writer) Option {
	return func(o *options) { o.humanOut = w }
}

// WithMachineOutput sets the machine sink's writer, typically a JSONL
// event file opened by the caller. Without it, machine records are
// discarded.
func WithMachineOutput(w io.Writer) Option {
	return func(o *options) { o.machineOut = w }
}

// WithJSONHuman switches the human sink to JSON formatting too (for
// environments that collect stdout with a log shipper rather than a
// terminal).
func WithJSONHuman() Option {
	return func(o *options) { o.jsonHuman = true }
}

// WithBufferSize sets the per-sink channel buffer (default 256).
func WithBufferSize(n int) Option {
	return func(o *options) { o.bufferSize = n }
}

// errorRoutedWriter sends records containing level=error to stderr and
// everything else to the wrapped writer, the same routing rule as the
// teacher's OutputSplitter, but scoped to a single sink rather than a
// shared global.
type errorRoutedWriter struct {
	out io.Writer
}

func (w errorRoutedWriter) Write(p []byte) (int, error) {
	if containsErrorLevel(p) {
		return os.Stderr.Write(p)
	}
	return w.out.Write(p)
}

func containsErrorLevel(p []byte) bool {
	const needle = "level=error"
	if len(p) < len(needle) {
		return false
	}
	for i := 0; i+len(needle) <= len(p); i++ {
		if string(p[i:i+len(needle)]) == needle {
			return true
		}
	}
	return false
}

// New builds a Log and starts its sink goroutines. Callers must call
// Close when the run finishes to drain both channels.
func New(opts ...Option) *Log {
	o := options{
		humanOut:   os.Stdout,
		bufferSize: 256,
	}
	for _, apply := range opts {
		apply(&o)
	}

	human := logrus.New()
	human.SetOutput(errorRoutedWriter{out: o.humanOut})
	if o.jsonHuman {
		human.SetFormatter(&logrus.JSONFormatter{})
	} else {
		human.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	machine := logrus.New()
	if o.machineOut != nil {
		machine.SetOutput(o.machineOut)
	} else {
		machine.SetOutput(io.Discard)
	}
	machine.SetFormatter(&logrus.JSONFormatter{})

	l := &Log{
		human:     human,
		machine:   machine,
		humanCh:   make(chan Event, o.bufferSize),
		machineCh: make(chan Event, o.bufferSize),
	}

	l.wg.Add(2)
	go l.drain(l.humanCh, l.writeHuman)
	go l.drain(l.machineCh, l.writeMachine)

	return l
}

func (l *Log) drain(ch chan Event, write func(Event)) {
	defer l.wg.Done()
	for ev := range ch {
		write(ev)
	}
}

func (l *Log) writeHuman(ev Event) {
	entry := l.human.WithFields(toLogrusFields(ev))
	msg := string(ev.Kind)
	if level, ok := ev.Fields["level"].(string); ok && level == "error" {
		entry.Error(msg)
		return
	}
	entry.Info(msg)
}

func (l *Log) writeMachine(ev Event) {
	l.machine.WithFields(toLogrusFields(ev)).Info(string(ev.Kind))
}

func toLogrusFields(ev Event) logrus.Fields {
	f := logrus.Fields{
		"event":  string(ev.Kind),
		"run_id": ev.RunID,
	}
	if ev.StationKey != "" {
		f["station_key"] = ev.StationKey
	}
	if ev.Year != 0 {
		f["year"] = ev.Year
	}
	for k, v := range ev.Fields {
		f[k] = v
	}
	return f
}

// Emit records an event to both sinks, sending to the human channel and
// then to the machine channel. Non-blocking unless a sink's buffer is
// full; then Emit blocks on that send, and no later event reaches either
// sink until the full sink drains.
func (l *Log) Emit(ev Event) {
	l.humanCh <- ev
	l.machineCh <- ev
}

// Close drains and stops both sink goroutines. Safe to call once, after
// all Emit calls have completed.
func (l *Log) Close() {
	close(l.humanCh)
	close(l.machineCh)
	l.wg.Wait()
}
