package logging

import "io"

// NewMultiWriter creates an io.Writer that duplicates its writes to all
// provided writers. Fanning the main log out to the log file and stdout
// is a plain write-duplication problem with no HVAC-specific behavior to
// add; the domain-specific split (recoverable/fatal entries into a
// separate alerts sink) lives in splitHandler in logger.go instead.
func NewMultiWriter(writers ...io.Writer) io.Writer {
	return io.MultiWriter(writers...)
}
