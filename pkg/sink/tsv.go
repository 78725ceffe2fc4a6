package sink

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fluidlab/humidistat/pkg/control"
	"github.com/fluidlab/humidistat/pkg/proto"
)

// TSVLogger records samples to a tab-separated log file, in the layout the
// downstream analysis scripts expect: a [HEADER] block carrying the
// operator's comment, then a [DATA] block with a units line, a column
// line, and one row per sample. Recording is toggled at runtime; while
// stopped OnSample is a no-op.
type TSVLogger struct {
	dir string

	mu    sync.Mutex
	w     io.WriteCloser
	path  string
	start time.Time
}

// NewTSVLogger creates a logger writing into dir.
func NewTSVLogger(dir string) *TSVLogger {
	return &TSVLogger{dir: dir}
}

// Start begins a new recording named after the wall clock, writing the
// header with the given operator comment. An active recording is closed
// first.
func (l *TSVLogger) Start(comment string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.w != nil {
		l.closeLocked()
	}

	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return "", fmt.Errorf("create log dir: %w", err)
	}
	path := filepath.Join(l.dir, time.Now().Format("060102_150405")+".txt")
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create log file: %w", err)
	}

	if err := writeHeader(f, comment); err != nil {
		f.Close()
		return "", err
	}

	l.w = f
	l.path = path
	l.start = time.Now()
	logrus.Infof("recording to %s", path)
	return path, nil
}

// Stop ends the active recording, if any.
func (l *TSVLogger) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closeLocked()
}

func (l *TSVLogger) closeLocked() {
	if l.w == nil {
		return
	}
	if err := l.w.Close(); err != nil {
		logrus.Warnf("error closing log file: %v", err)
	}
	logrus.Infof("recording %s closed", l.path)
	l.w = nil
	l.path = ""
}

// Recording reports whether a recording is active and its file path.
func (l *TSVLogger) Recording() (bool, string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w != nil, l.path
}

// OnSample implements Sink: appends one data row while recording.
func (l *TSVLogger) OnSample(s proto.Sample, band control.Band) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.w == nil {
		return
	}
	if err := writeRow(l.w, time.Since(l.start).Seconds(), s); err != nil {
		logrus.Warnf("log write failed, stopping recording: %v", err)
		l.closeLocked()
	}
}

func writeHeader(w io.Writer, comment string) error {
	_, err := fmt.Fprintf(w,
		"[HEADER]\n%s\n\n[DATA]\n"+
			"[s]\t[0/1]\t[0/1]\t[0/1]\t"+
			"[±3 pct]\t[±0.5 °C]\t[±1 mbar]\t"+
			"[±3 pct]\t[±0.5 °C]\t[±1 mbar]\n"+
			"time\tvalve_1\tvalve_2\tpump\t"+
			"humi_1\ttemp_1\tpres_1\t"+
			"humi_2\ttemp_2\tpres_2\n",
		comment)
	return err
}

func writeRow(w io.Writer, elapsed float64, s proto.Sample) error {
	_, err := fmt.Fprintf(w, "%.0f\t%d\t%d\t%d\t%.1f\t%.1f\t%.1f\t%.1f\t%.1f\t%.1f\n",
		elapsed,
		b2i(s.Valve1), b2i(s.Valve2), b2i(s.Pump),
		s.Humi1, s.Temp1, s.Pres1,
		s.Humi2, s.Temp2, s.Pres2)
	return err
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}
