package iostreams

import (
	"bytes"
	"io"
	"os"

	"github.com/mattn/go-isatty"
)

// IOStreams are the standard streams a command reads from and writes to.
type IOStreams struct {
	In     io.Reader
	Out    io.Writer
	ErrOut io.Writer
}

type Key struct{}

// StreamsKey is the command context key holding *IOStreams.
var StreamsKey = Key{}

// GetOSIOStreams returns streams bound to the process stdio.
func GetOSIOStreams() *IOStreams {
	return &IOStreams{In: os.Stdin, Out: os.Stdout, ErrOut: os.Stderr}
}

// IsInputTerminal reports whether In is an interactive terminal.
func (s *IOStreams) IsInputTerminal() bool {
	return isTerminal(s.In)
}

// IsOutputTerminal reports whether Out is an interactive terminal.
func (s *IOStreams) IsOutputTerminal() bool {
	return isTerminal(s.Out)
}

func isTerminal(stream any) bool {
	f, ok := stream.(interface{ Fd() uintptr })
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// NewTestIOStreamsOnly returns streams backed by empty buffers.
func NewTestIOStreamsOnly() IOStreams {
	streams, _, _, _ := NewTestIOStreams()
	return streams
}

// NewTestIOStreams returns streams backed by buffers, along with the buffers.
func NewTestIOStreams() (IOStreams, *bytes.Buffer, *bytes.Buffer, *bytes.Buffer) {
	var in, out, errOut bytes.Buffer
	return IOStreams{In: &in, Out: &out, ErrOut: &errOut}, &in, &out, &errOut
}
