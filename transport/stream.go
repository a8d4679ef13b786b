package transport

import (
	"bufio"
	"encoding/gob"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/unixpickle/distvec/protocol"
	"go.uber.org/multierr"
)

// A Stream is a Transport that gob-encodes messages over
// a pair of byte streams, such as a child process's
// standard input and output.
//
// Buffers are still moved on Send: the sender's Buffers
// are released once the message is encoded.
type Stream struct {
	writeLock sync.Mutex
	enc       *gob.Encoder

	inbox  *inbox
	closer func() error

	// reap runs after closer, once the read loop has
	// stopped reading.
	reap     func() error
	readDone chan struct{}

	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
}

// NewStream creates a Stream that reads from r and writes
// to w.
//
// The closer is called once when the Stream is closed,
// either explicitly or because r reached EOF.
func NewStream(r io.Reader, w io.Writer, closer func() error) *Stream {
	return newStream(r, w, closer, nil)
}

func newStream(r io.Reader, w io.Writer, closer, reap func() error) *Stream {
	res := &Stream{
		enc:      gob.NewEncoder(w),
		inbox:    newInbox(),
		closer:   closer,
		reap:     reap,
		readDone: make(chan struct{}),
		done:     make(chan struct{}),
	}
	go res.readLoop(r)
	return res
}

// Stdio creates a Stream over the process's standard
// input and output, for use inside a worker process.
func Stdio() *Stream {
	return NewStream(os.Stdin, os.Stdout, os.Stdout.Close)
}

// Send encodes the message on the output stream.
func (s *Stream) Send(msg *protocol.Message) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	out, err := moveMessage(msg)
	if err != nil {
		return err
	}
	s.writeLock.Lock()
	defer s.writeLock.Unlock()
	if err := s.enc.Encode(out); err != nil {
		return fmt.Errorf("send %s: %w", msg.Handle, err)
	}
	return nil
}

// OnMessage sets the delivery callback.
func (s *Stream) OnMessage(handler func(msg *protocol.Message)) {
	s.inbox.setHandler(handler)
}

// Close stops delivery and calls the closer.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.inbox.close()
		if s.closer != nil {
			s.closeErr = s.closer()
		}
		if s.reap != nil {
			<-s.readDone
			s.closeErr = multierr.Append(s.closeErr, s.reap())
		}
		close(s.done)
	})
	return s.closeErr
}

// Done is closed once the Stream is closed.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

func (s *Stream) readLoop(r io.Reader) {
	dec := gob.NewDecoder(bufio.NewReader(r))
	for {
		var msg protocol.Message
		if err := dec.Decode(&msg); err != nil {
			close(s.readDone)
			s.Close()
			return
		}
		if !s.inbox.push(&msg, time.Time{}) {
			close(s.readDone)
			return
		}
	}
}

// A ProcessSpawner runs every worker as a child process
// which serves a Stream over its standard input and
// output.
type ProcessSpawner struct {
	// Path is the worker executable, resolved with
	// exec.LookPath.
	Path string
	Args []string

	// Env is appended to the parent's environment.
	Env []string

	// Stderr receives the workers' standard error.
	// If nil, os.Stderr is used.
	Stderr io.Writer
}

// Spawn starts a worker process.
func (p *ProcessSpawner) Spawn(id int) (Transport, error) {
	path, err := exec.LookPath(p.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoWorkerContext, err)
	}
	cmd := exec.Command(path, p.Args...)
	cmd.Env = append(os.Environ(), p.Env...)
	cmd.Stderr = p.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("spawn worker %d: %w", id, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("spawn worker %d: %w", id, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start worker %d: %v", ErrNoWorkerContext, id, err)
	}
	// The worker exits when its input closes, and Wait
	// may only run after every read from stdout.
	closeInput := func() error {
		stdin.Close()
		return nil
	}
	return newStream(stdout, stdin, closeInput, cmd.Wait), nil
}
