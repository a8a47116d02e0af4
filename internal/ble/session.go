package ble

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// DefaultTimeout applies to commands that do not set their own.
const DefaultTimeout = 5 * time.Second

var errWriteOutstanding = errors.New("previous write still outstanding")

// Command is one request/response exchange with the peripheral.
type Command struct {
	Name           string
	Service        UUID
	Characteristic UUID
	// ResponseCharacteristic is where the reply is notified. Zero means the
	// reply comes back on Characteristic.
	ResponseCharacteristic UUID
	Value                  []byte
	// ExpectedLength is the reply length at which an incomplete reply is
	// declared incorrect. Zero disables the check.
	ExpectedLength int
	// Complete reports whether buf is a full reply. Nil means any
	// non-empty reply of at least ExpectedLength bytes.
	Complete func(buf []byte) bool
	// Nack reports whether buf is a negative acknowledgement and its code.
	Nack    func(buf []byte) (code byte, ok bool)
	Timeout time.Duration
}

func (c Command) responseChar() UUID {
	if c.ResponseCharacteristic != (UUID{}) {
		return c.ResponseCharacteristic
	}
	return c.Characteristic
}

func (c Command) complete(buf []byte) bool {
	if c.Complete != nil {
		return c.Complete(buf)
	}
	return len(buf) > 0 && len(buf) >= c.ExpectedLength
}

type result struct {
	value []byte
	err   error
}

// pending is a command awaiting its response.
type pending struct {
	cmd  Command
	buf  []byte
	done chan result
	// written is closed when the transport write returns.
	written chan struct{}
}

// Session serializes commands to one peripheral. At most one command is in
// flight; a second Send while one is pending fails with Busy.
type Session struct {
	id        string
	transport Transport
	log       log.FieldLogger

	mu      sync.Mutex
	pending *pending
	// writing is the outstanding write's completion, nil when none.
	writing chan struct{}
	closed  bool
}

// NewSession attaches a session to transport. logger may be nil.
func NewSession(id string, transport Transport, logger log.FieldLogger) *Session {
	if logger == nil {
		logger = log.StandardLogger()
	}
	s := &Session{
		id:        id,
		transport: transport,
		log:       logger.WithField("peripheral", id),
	}
	transport.SetHandler(s)
	return s
}

// ID returns the peripheral identity.
func (s *Session) ID() string { return s.id }

// State returns the transport connection state.
func (s *Session) State() ConnectionState { return s.transport.State() }

// RSSI reports the link's signal strength.
func (s *Session) RSSI() (int, error) { return s.transport.RSSI() }

// Reconnect brings the link back up through the transport. It fails with
// NotReady after Close or when the transport cannot redial.
func (s *Session) Reconnect() error {
	cmd := Command{Name: "reconnect"}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return s.errorf(NotReady, cmd, nil)
	}
	r, ok := s.transport.(Redialer)
	if !ok {
		return s.errorf(NotReady, cmd, errors.New("transport cannot reconnect"))
	}
	if err := r.Reconnect(); err != nil {
		return s.errorf(NotReady, cmd, err)
	}
	return nil
}

// Send writes cmd and waits for its reply. The wait ends at the first of: a
// complete reply, the command deadline, ctx cancellation, a disconnect, a NACK,
// an empty notification, or a reply that reached ExpectedLength without
// completing. Send never retries.
//
// A write that outlives its command's deadline still owns the link: later
// sends wait for it to return, within their own deadline, before writing.
func (s *Session) Send(ctx context.Context, cmd Command) ([]byte, error) {
	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	p, err := s.begin(ctx, timer.C, cmd)
	if err != nil {
		return nil, err
	}

	s.log.Debugf("send command=%s char=%s len=%d", cmd.Name, cmd.Characteristic, len(cmd.Value))

	// The write runs on its own goroutine so a stalled radio cannot hold
	// the caller past the deadline.
	go func() {
		err := s.transport.WriteCharacteristic(cmd.Characteristic, cmd.Value)
		s.mu.Lock()
		s.writing = nil
		s.mu.Unlock()
		close(p.written)
		if err != nil {
			s.resolve(p, result{err: s.errorf(TransportError, cmd, err)})
		}
	}()

	select {
	case r := <-p.done:
		return r.value, r.err
	case <-timer.C:
		s.resolve(p, result{err: s.errorf(Timeout, cmd, nil)})
	case <-ctx.Done():
		s.resolve(p, result{err: s.errorf(Timeout, cmd, ctx.Err())})
	}
	// Whichever outcome won the race is in done.
	r := <-p.done
	if r.err != nil {
		s.log.Debugf("command failed command=%s err=%v", cmd.Name, r.err)
	}
	return r.value, r.err
}

// begin claims the session for cmd. It fails fast when a command is pending,
// and waits for a previous command's write that is still outstanding.
func (s *Session) begin(ctx context.Context, deadline <-chan time.Time, cmd Command) (*pending, error) {
	for {
		s.mu.Lock()
		switch {
		case s.closed:
			s.mu.Unlock()
			return nil, s.errorf(NotReady, cmd, nil)
		case s.pending != nil:
			s.mu.Unlock()
			return nil, s.errorf(Busy, cmd, nil)
		}
		written := s.writing
		if written == nil {
			break
		}
		s.mu.Unlock()

		select {
		case <-written:
		case <-deadline:
			return nil, s.errorf(Timeout, cmd, errWriteOutstanding)
		case <-ctx.Done():
			return nil, s.errorf(Timeout, cmd, ctx.Err())
		}
	}
	defer s.mu.Unlock()

	switch {
	case s.transport.State() != StateConnected:
		return nil, s.errorf(NotReady, cmd, nil)
	case !s.transport.HasService(cmd.Service):
		return nil, s.errorf(UnknownService, cmd, nil)
	case !s.transport.HasCharacteristic(cmd.Characteristic),
		!s.transport.HasCharacteristic(cmd.responseChar()):
		return nil, s.errorf(UnknownCharacteristic, cmd, nil)
	}

	p := &pending{cmd: cmd, done: make(chan result, 1), written: make(chan struct{})}
	s.pending = p
	s.writing = p.written
	return p, nil
}

// resolve completes p exactly once. Later outcomes for the same command are
// dropped.
func (s *Session) resolve(p *pending, r result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending != p {
		return
	}
	s.finishLocked(r)
}

func (s *Session) finishLocked(r result) {
	p := s.pending
	s.pending = nil
	p.done <- r
}

func (s *Session) errorf(kind ErrorKind, cmd Command, err error) *CommandError {
	return &CommandError{Kind: kind, Command: cmd.Name, Characteristic: cmd.Characteristic, Err: err}
}

// ValueUpdated accumulates a notification into the pending reply.
// Notifications for other characteristics, or with nothing pending, are
// ignored.
func (s *Session) ValueUpdated(char UUID, value []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.pending
	if p == nil || char != p.cmd.responseChar() {
		s.log.Debugf("ignoring notification char=%s len=%d", char, len(value))
		return
	}
	if len(value) == 0 {
		s.finishLocked(result{err: s.errorf(EmptyValue, p.cmd, nil)})
		return
	}
	p.buf = append(p.buf, value...)

	if p.cmd.Nack != nil {
		if code, ok := p.cmd.Nack(p.buf); ok {
			e := s.errorf(Nack, p.cmd, nil)
			e.NackCode = code
			e.Response = p.buf
			s.finishLocked(result{err: e})
			return
		}
	}
	if p.cmd.complete(p.buf) {
		s.finishLocked(result{value: p.buf})
		return
	}
	if p.cmd.ExpectedLength > 0 && len(p.buf) >= p.cmd.ExpectedLength {
		e := s.errorf(IncorrectResponse, p.cmd, nil)
		e.Response = p.buf
		s.finishLocked(result{err: e})
	}
}

// Connected is called by the transport when the link comes up.
func (s *Session) Connected() {
	s.log.Info("peripheral connected")
}

// Disconnected fails any pending command with NotReady.
func (s *Session) Disconnected(err error) {
	s.log.Warnf("peripheral disconnected err=%v", err)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending != nil {
		s.finishLocked(result{err: s.errorf(NotReady, s.pending.cmd, err)})
	}
}

// Close fails any pending command with NotReady and rejects later sends.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.pending != nil {
		s.finishLocked(result{err: s.errorf(NotReady, s.pending.cmd, nil)})
	}
}
