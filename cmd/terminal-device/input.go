package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chzyer/readline"

	"github.com/derong97/gcp-iot-tutorial/internal/infrastructure/mqtt"
)

// errLineTooLong reports an input line that could never be published. The
// rest of the line is discarded and reading resumes at the next one.
var errLineTooLong = fmt.Errorf("line exceeds %d bytes", mqtt.MaxPayloadSize)

// lineReader yields one telemetry payload per call.
type lineReader interface {
	// ReadLine returns the next line without its terminator. io.EOF ends input.
	ReadLine() (string, error)
	// Stdout is where output should go so it does not corrupt the prompt.
	Stdout() io.Writer
	// Interactive reports whether a person is typing.
	Interactive() bool
	Close() error
}

// newLineReader uses a readline prompt when in is a terminal and a plain
// buffered line reader otherwise (pipes, files, systemd).
func newLineReader(in *os.File, out io.Writer) (lineReader, error) {
	if !readline.IsTerminal(int(in.Fd())) {
		return newScanReader(in, out), nil
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		Stdin:           in,
	})
	if err != nil {
		return nil, err
	}
	return &promptReader{rl: rl}, nil
}

type promptReader struct {
	rl *readline.Instance
}

func (p *promptReader) ReadLine() (string, error) {
	for {
		line, err := p.rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return "", io.EOF
			}
			continue
		}
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(line), nil
	}
}

func (p *promptReader) Stdout() io.Writer { return p.rl.Stdout() }
func (p *promptReader) Interactive() bool { return true }
func (p *promptReader) Close() error      { return p.rl.Close() }

type scanReader struct {
	r     *bufio.Reader
	out   io.Writer
	limit int
}

func newScanReader(in io.Reader, out io.Writer) *scanReader {
	return &scanReader{r: bufio.NewReader(in), out: out, limit: mqtt.MaxPayloadSize}
}

func (s *scanReader) ReadLine() (string, error) {
	var buf []byte
	tooLong := false
	for {
		chunk, err := s.r.ReadSlice('\n')
		switch {
		case tooLong:
		case len(buf)+len(chunk) > s.limit+len("\r\n"):
			tooLong, buf = true, nil
		default:
			buf = append(buf, chunk...)
		}

		switch {
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case tooLong:
			if err != nil && !errors.Is(err, io.EOF) {
				return "", err
			}
			return "", errLineTooLong
		case errors.Is(err, io.EOF) && len(buf) == 0:
			return "", io.EOF
		case err != nil && !errors.Is(err, io.EOF):
			return "", err
		}

		line := strings.TrimSpace(string(buf))
		if len(line) > s.limit {
			return "", errLineTooLong
		}
		return line, nil
	}
}

func (s *scanReader) Stdout() io.Writer { return s.out }
func (s *scanReader) Interactive() bool { return false }
func (s *scanReader) Close() error      { return nil }
