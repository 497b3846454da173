package converge

import (
	"bufio"
	"fmt"
	"strings"
)

// Outcome classifies one convergence run.
type Outcome uint8

const (
	Success Outcome = iota
	ConvergenceError
	TransportError
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case ConvergenceError:
		return "convergence_error"
	case TransportError:
		return "transport_error"
	default:
		return "unknown"
	}
}

// Report is the classified result of a convergence run.
type Report struct {
	Outcome  Outcome
	Detail   string
	ExitCode int
	Output   string
}

// Failure is returned when the engine ran but reported an error.
type Failure struct {
	Target string
	Report Report
}

func (f *Failure) Error() string {
	return fmt.Sprintf("convergence on %s failed: %s", f.Target, f.Report.Detail)
}

// Classify decides the outcome of an engine run. A non-zero exit status is
// authoritative. A zero exit is still a failure when a line of output starts
// with sentinel, optionally after a bracketed timestamp; mentions of the
// sentinel elsewhere in a line do not count.
func Classify(output string, exitCode int, sentinel string) Report {
	r := Report{Outcome: Success, ExitCode: exitCode, Output: output}
	if exitCode != 0 {
		r.Outcome = ConvergenceError
		r.Detail = fmt.Sprintf("exit status %d", exitCode)
		if line, ok := sentinelLine(output, sentinel); ok {
			r.Detail += ": " + line
		}
		return r
	}
	if line, ok := sentinelLine(output, sentinel); ok {
		r.Outcome = ConvergenceError
		r.Detail = line
	}
	return r
}

func sentinelLine(output, sentinel string) (string, bool) {
	if sentinel == "" {
		return "", false
	}
	sc := bufio.NewScanner(strings.NewReader(output))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if strings.HasPrefix(stripTimestamp(line), sentinel) {
			return line, true
		}
	}
	return "", false
}

func stripTimestamp(line string) string {
	if !strings.HasPrefix(line, "[") {
		return line
	}
	end := strings.IndexByte(line, ']')
	if end < 0 {
		return line
	}
	return strings.TrimLeft(line[end+1:], " \t")
}
