package executor

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Timestamp layouts of the stage log
const (
	FileTimeFormat   = "2006-01-02_15-04-05"
	HeaderTimeFormat = "2006-01-02 15:04:05"
	LineTimeFormat   = "15:04:05"
)

// LogFileName returns the log file name for a stage started at t
func LogFileName(t time.Time, program string) string {
	return fmt.Sprintf("%s_%s.log", t.Format(FileTimeFormat), program)
}

// createLogFile opens a fresh log file in dir. A name already taken by an
// invocation in the same second gets a numeric suffix instead of being truncated.
func createLogFile(dir string, t time.Time, program string) (*os.File, error) {
	base := strings.TrimSuffix(LogFileName(t, program), ".log")
	path := filepath.Join(dir, base+".log")
	for n := 2; ; n++ {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err == nil || !os.IsExist(err) {
			return f, err
		}
		path = filepath.Join(dir, fmt.Sprintf("%s_%d.log", base, n))
	}
}

// stageLog writes the execution record of one invocation. Every write goes
// straight to the file and the console so the log can be tailed live.
type stageLog struct {
	file    *os.File
	console io.Writer
	now     func() time.Time
}

func (l *stageLog) header(start time.Time, cmdline string) {
	fmt.Fprintf(l.file, "[%s] Executing command: %s\n", start.Format(HeaderTimeFormat), cmdline)
}

// footer closes the record with a full timestamp so it is not mistaken
// for program output
func (l *stageLog) footer(text string) {
	entry := fmt.Sprintf("[%s] %s\n", l.now().Format(HeaderTimeFormat), text)
	io.WriteString(l.file, entry)
	if l.console != nil {
		io.WriteString(l.console, entry)
	}
}

// line writes one timestamped line to both sinks
func (l *stageLog) line(text string) {
	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	entry := fmt.Sprintf("[%s] %s", l.now().Format(LineTimeFormat), text)
	io.WriteString(l.file, entry)
	if l.console != nil {
		io.WriteString(l.console, entry)
	}
}

// stream copies r line by line until EOF and returns the number of lines
func (l *stageLog) stream(r io.Reader) int {
	br := bufio.NewReaderSize(r, 64*1024)
	lines := 0
	for {
		text, err := br.ReadString('\n')
		if text != "" {
			l.line(text)
			lines++
		}
		if err != nil {
			return lines
		}
	}
}
