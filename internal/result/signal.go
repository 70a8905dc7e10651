package result

import "fmt"

// signalNames maps fatal signal numbers to readable labels.
// Extend additively; unmapped signals render as "Signal N".
var signalNames = map[int]string{
	4:  "SIGILL (Illegal instruction)",
	6:  "SIGABRT (Aborted)",
	7:  "SIGBUS (Bus error)",
	8:  "SIGFPE (Floating point exception)",
	9:  "SIGKILL (Killed)",
	11: "SIGSEGV (Segmentation fault)",
	13: "SIGPIPE (Broken pipe)",
	15: "SIGTERM (Terminated)",
}

// SignalLabel returns a human-readable label for a signal number.
func SignalLabel(sig int) string {
	if name, ok := signalNames[sig]; ok {
		return name
	}
	return fmt.Sprintf("Signal %d", sig)
}
