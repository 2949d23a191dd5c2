package unet

import (
	"fmt"
	"io"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dzik143/tegenaria-sub000/uerr"
)

// State is the lifecycle state of a Connection.  It only ever moves
// forward: Pending -> (Listening | Established) -> Dead.
type State int32

const (
	Pending State = iota
	Listening
	Established
	Dead
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Listening:
		return "listening"
	case Established:
		return "established"
	case Dead:
		return "dead"
	default:
		return "unknown"
	}
}

// ShutdownDirection selects which half of a Connection to shut down.
type ShutdownDirection int

const (
	ShutdownRead ShutdownDirection = iota
	ShutdownWrite
	ShutdownBoth
)

const (
	ErrDead             = uerr.Const("unet: connection is dead")
	ErrBadState         = uerr.Const("unet: invalid state transition")
	ErrProtocolMismatch = uerr.Const("unet: request reply missing 'NNN> ' prefix")
	ErrTimeout          = uerr.Const("unet: request timed out")
)

// RequestTimeout is the wall-clock deadline enforced around a single
// Connection.Request exchange (spec: "bounded helper worker thread,
// timeout 10s" - here a single deadline-driven goroutine does the
// cancelling instead of a dedicated supervisor thread).
const RequestTimeout = 10 * time.Second

// Pipe is the bidirectional, cancellable I/O strategy that a Connection
// rides on top of.  TcpConnection supplies one backed by a raw socket;
// SecureConnection supplies one that additionally runs bytes through a
// DTLS record layer.
type Pipe interface {
	ReadPipe(buf []byte, timeout time.Duration) (int, error)
	WritePipe(buf []byte, timeout time.Duration) (int, error)
	CancelPipe()
	ShutdownPipe(dir ShutdownDirection) error
}

// Connection is an abstract, reference-counted, bidirectional byte pipe
// with an explicit lifecycle state machine.  It never outlives its
// reference count: the last Release destroys it.
type Connection struct {
	pipe     Pipe
	protocol string

	state atomic.Int32
	refs  atomic.Int32
	quiet atomic.Bool

	remote string
	ctx    any

	destroyOnce sync.Once
	onDestroy   func(*Connection)

	workerWg sync.WaitGroup
}

// NewConnection wraps pipe in a Connection starting in Pending state with
// a single reference held by the caller.
func NewConnection(protocol string, pipe Pipe) *Connection {
	c := &Connection{pipe: pipe, protocol: protocol}
	c.state.Store(int32(Pending))
	c.refs.Store(1)
	return c
}

func (c *Connection) Protocol() string  { return c.protocol }
func (c *Connection) SetQuiet(q bool)   { c.quiet.Store(q) }
func (c *Connection) IsQuiet() bool     { return c.quiet.Load() }
func (c *Connection) SetRemote(r string) { c.remote = r }
func (c *Connection) Remote() string    { return c.remote }
func (c *Connection) SetContext(ctx any) { c.ctx = ctx }
func (c *Connection) Context() any      { return c.ctx }

// GetState returns the current lifecycle state.
func (c *Connection) GetState() State { return State(c.state.Load()) }

var validTransitions = map[State][]State{
	Pending:     {Listening, Established, Dead},
	Listening:   {Dead},
	Established: {Dead},
}

// setState moves the state machine forward.  Transitions other than the
// ones wired above are rejected; Dead is a terminal sink reachable from
// any state.
func (c *Connection) setState(target State) error {
	for {
		cur := State(c.state.Load())
		if cur == target {
			return nil
		}
		if cur == Dead {
			return ErrDead
		}
		ok := target == Dead
		if !ok {
			for _, allowed := range validTransitions[cur] {
				if allowed == target {
					ok = true
					break
				}
			}
		}
		if !ok {
			return ErrBadState
		}
		if c.state.CompareAndSwap(int32(cur), int32(target)) {
			return nil
		}
	}
}

// SetState is the public entry point used by the Reactor/accept loop to
// advance a freshly created Connection out of Pending.
func (c *Connection) SetState(target State) error { return c.setState(target) }

// WaitForState polls at 100ms granularity (matching the original's poll
// cadence) until state reaches target, Dead is observed first, or timeout
// elapses.
func (c *Connection) WaitForState(target State, timeout time.Duration) error {
	const pollInterval = 100 * time.Millisecond
	deadline := time.Now().Add(timeout)
	for {
		cur := c.GetState()
		if cur == target {
			return nil
		}
		if cur == Dead {
			return ErrDead
		}
		if time.Now().After(deadline) {
			return ErrTimeout
		}
		remaining := time.Until(deadline)
		if remaining > pollInterval {
			remaining = pollInterval
		}
		time.Sleep(remaining)
	}
}

// AddRef adds a reference, returning the new count.  Callers that hand a
// Connection to a second goroutine (e.g. a cancellation boundary) must
// AddRef before doing so and Release when that goroutine is done.
func (c *Connection) AddRef() int32 { return c.refs.Add(1) }

// Release drops a reference.  When the count reaches zero the Connection
// is shut down (if not already dead) and destroyed exactly once.
func (c *Connection) Release() (destroyed bool) {
	left := c.refs.Add(-1)
	if left > 0 {
		return false
	}
	if left < 0 {
		panic("unet: Connection over-released")
	}
	c.destroyOnce.Do(func() {
		c.Shutdown(ShutdownBoth)
		if nil != c.onDestroy {
			c.onDestroy(c)
		}
	})
	return true
}

// OnDestroy registers a callback fired exactly once, when the reference
// count reaches zero.
func (c *Connection) OnDestroy(f func(*Connection)) { c.onDestroy = f }

// RefCount reports the current reference count (diagnostic use only).
func (c *Connection) RefCount() int32 { return c.refs.Load() }

// Read reads up to len(buf) bytes.  Returns 0, nil on a cancelled or
// cleanly closed read (treated identically, per TcpConnection's
// contract); returns a non-nil error on any other failure, which also
// transitions the Connection to Dead.
func (c *Connection) Read(buf []byte, timeout time.Duration) (int, error) {
	if Dead == c.GetState() {
		return 0, ErrDead
	}
	n, err := c.pipe.ReadPipe(buf, timeout)
	if err != nil && err != io.EOF {
		c.Shutdown(ShutdownBoth)
	}
	return n, err
}

// Write writes all of buf or fails.  A failure transitions the
// Connection to Dead (PermanentIO).
func (c *Connection) Write(buf []byte, timeout time.Duration) (int, error) {
	if Dead == c.GetState() {
		return 0, ErrDead
	}
	n, err := c.pipe.WritePipe(buf, timeout)
	if err != nil {
		c.Shutdown(ShutdownBoth)
	}
	return n, err
}

// Cancel unblocks any in-flight Read (and any Read issued before the next
// one is posted) without tearing the Connection down.  Idempotent.
func (c *Connection) Cancel() { c.pipe.CancelPipe() }

// Shutdown transitions the Connection to Dead exactly once; subsequent
// calls are no-ops.
func (c *Connection) Shutdown(dir ShutdownDirection) error {
	if Dead == c.GetState() {
		return nil
	}
	err := c.setState(Dead)
	if err != nil && err != ErrDead {
		return err
	}
	return c.pipe.ShutdownPipe(dir)
}

// Join waits for a worker goroutine associated with this Connection (the
// accept-loop's per-connection handler, typically) to finish.  The worker
// must call JoinAdd/JoinDone around its lifetime.
func (c *Connection) JoinAdd()  { c.workerWg.Add(1) }
func (c *Connection) JoinDone() { c.workerWg.Done() }
func (c *Connection) Join()     { c.workerWg.Wait() }

func (c *Connection) readFull(buf []byte, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	got := 0
	for got < len(buf) {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return ErrTimeout
		}
		n, err := c.Read(buf[got:], remaining)
		got += n
		if err != nil {
			return err
		}
		if 0 == n {
			return io.ErrUnexpectedEOF
		}
	}
	return nil
}

// Request implements the text-protocol exchange shared by Connection and
// SecureConnection: writes a printf-formatted command plus a trailing NUL,
// then reads a "NNN> " status prefix followed by a NUL-terminated message.
// msgCap bounds how much of the message is retained; any remainder is
// still drained up to the NUL so the stream stays framed for the next
// exchange. The whole exchange is bounded by RequestTimeout; exceeding it
// cancels I/O on both ends of the pipe.
func (c *Connection) Request(msgCap int, format string, args ...any) (code int, msg string, err error) {
	return c.RequestTimeout(RequestTimeout, msgCap, format, args...)
}

func (c *Connection) RequestTimeout(
	timeout time.Duration, msgCap int, format string, args ...any,
) (
	code int, msg string, err error,
) {
	deadline := time.Now().Add(timeout)
	timer := time.AfterFunc(timeout, c.Cancel)
	defer timer.Stop()

	cmd := fmt.Sprintf(format, args...)
	out := make([]byte, len(cmd)+1)
	copy(out, cmd)
	out[len(cmd)] = 0

	if _, err = c.Write(out, time.Until(deadline)); err != nil {
		return
	}

	var hdr [5]byte
	if err = c.readFull(hdr[:], time.Until(deadline)); err != nil {
		return
	}
	if hdr[3] != '>' || hdr[4] != ' ' {
		err = ErrProtocolMismatch
		return
	}
	code, err = strconv.Atoi(string(hdr[:3]))
	if err != nil {
		err = ErrProtocolMismatch
		return
	}

	if msgCap <= 0 {
		msgCap = 256
	}
	msgBuf := make([]byte, 0, msgCap)
	var one [1]byte
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			err = ErrTimeout
			return
		}
		var n int
		n, err = c.Read(one[:], remaining)
		if n > 0 {
			if 0 == one[0] {
				break
			}
			if len(msgBuf) < cap(msgBuf) {
				msgBuf = append(msgBuf, one[0])
			}
		}
		if err != nil {
			return
		}
		if 0 == n {
			err = io.ErrUnexpectedEOF
			return
		}
	}
	msg = string(msgBuf)
	return
}
