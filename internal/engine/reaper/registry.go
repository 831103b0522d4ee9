package reaper

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// AckToken is the line a sidecar answers with once a filter set is stored.
const AckToken = "ACK"

// FilterRegistry speaks the line protocol over one connection: one
// encoded filter set per line, one reply line per registration.
type FilterRegistry struct {
	in  *bufio.Reader
	out io.Writer
}

// NewFilterRegistry wraps the two halves of a connection.
func NewFilterRegistry(in io.Reader, out io.Writer) *FilterRegistry {
	return &FilterRegistry{in: bufio.NewReader(in), out: out}
}

// Register sends fs and blocks for the reply. It reports true only when the
// reply is exactly the acknowledgement token.
func (r *FilterRegistry) Register(fs FilterSet) (bool, error) {
	if _, err := io.WriteString(r.out, fs.Encode()+"\n"); err != nil {
		return false, fmt.Errorf("sending filters: %w", err)
	}
	if f, ok := r.out.(interface{ Flush() error }); ok {
		if err := f.Flush(); err != nil {
			return false, fmt.Errorf("flushing filters: %w", err)
		}
	}
	line, err := r.in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return false, fmt.Errorf("reading acknowledgement: %w", err)
	}
	return strings.TrimRight(line, "\r\n") == AckToken, nil
}
