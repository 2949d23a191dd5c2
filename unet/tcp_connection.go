package unet

import (
	"io"
	"net"
	"syscall"
	"time"
)

// TcpConnection is the BSD-socket flavoured Connection: it owns exactly
// one Socket and treats ManagedFd.Disable (which does a real
// shutdown(SHUT_RDWR) under the hood, see fd.go) as the cancellation
// primitive a self-pipe would otherwise be needed for. A blocked Read
// unblocks with (0, nil) the instant Disable fires, matching the
// "returns 0 on cancel" contract without any select-over-two-fds
// plumbing.
type TcpConnection struct {
	*Connection
	sock *tcpPipe_
}

type tcpPipe_ struct {
	sock *Socket
}

// DialTcp connects to host:port and wraps the result in an established
// TcpConnection.
func DialTcp(host string, port int, timeout time.Duration) (tc *TcpConnection, err error) {
	sock := NewSocket().
		ResolveFarAddr(host, port).
		ConstructTcp().
		SetTimeout(timeout).
		Connect()
	sock, err = sock.Done()
	if err != nil {
		return
	}
	tc = newTcpConnection(sock)
	tc.SetState(Established)
	return
}

// AcceptedTcpConnection wraps an already-accepted socket (as handed back
// by Socket.Accept, or by the Reactor) in a TcpConnection.
func AcceptedTcpConnection(sock *Socket) *TcpConnection {
	tc := newTcpConnection(sock)
	tc.SetState(Established)
	return tc
}

func newTcpConnection(sock *Socket) *TcpConnection {
	p := &tcpPipe_{sock: sock}
	tc := &TcpConnection{
		Connection: NewConnection("tcp", p),
		sock:       p,
	}
	tc.OnDestroy(func(*Connection) { sock.Close() })
	return tc
}

// SetNoDelay toggles TCP_NODELAY (disables Nagle).
func (c *TcpConnection) SetNoDelay(on bool) error {
	v := 0
	if on {
		v = 1
	}
	c.sock.sock.SetOptInt(syscall.IPPROTO_TCP, syscall.TCP_NODELAY, v)
	return c.sock.sock.Error
}

// SetKeepAlive enables SO_KEEPALIVE with the given idle interval in
// seconds, or disables it when seconds < 0.
func (c *TcpConnection) SetKeepAlive(seconds int) error {
	sock := c.sock.sock
	if seconds < 0 {
		sock.SetOptInt(syscall.SOL_SOCKET, syscall.SO_KEEPALIVE, 0)
		return sock.Error
	}
	sock.SetOptInt(syscall.SOL_SOCKET, syscall.SO_KEEPALIVE, 1)
	sock.SetOptInt(syscall.IPPROTO_TCP, syscall.TCP_KEEPIDLE, seconds)
	return sock.Error
}

// DisableInherit marks the underlying fd close-on-exec so forked helper
// processes never inherit it.
func (c *TcpConnection) DisableInherit() error {
	fd, ok := c.sock.sock.Fd.Get()
	if !ok {
		return ErrDead
	}
	syscall.CloseOnExec(fd)
	return nil
}

func (c *TcpConnection) LocalAddr() net.Addr  { return c.sock.sock.LocalAddr() }
func (c *TcpConnection) RemoteAddr() net.Addr { return c.sock.sock.RemoteAddr() }

// ReadPipe implements Pipe.Read as a deadline-bounded blocking read.
func (p *tcpPipe_) ReadPipe(buf []byte, timeout time.Duration) (int, error) {
	if timeout > 0 {
		p.sock.SetDeadline(time.Now().Add(timeout))
		defer p.sock.CancelDeadline()
	}
	n, err := p.sock.Read(buf)
	if err == io.EOF {
		// a shutdown fd (cancel, or peer close) surfaces as a clean 0-byte
		// read, which is exactly the "cancelled" signal TcpConnection
		// promises its callers.
		return 0, nil
	}
	return n, err
}

// WritePipe implements Pipe.Write as a send loop: a deadline covers the
// whole call, and partial writes (the would-block case on a blocking fd
// with SO_SNDTIMEO set) are retried until everything is sent or the
// deadline fires.
func (p *tcpPipe_) WritePipe(buf []byte, timeout time.Duration) (int, error) {
	deadline := time.Now().Add(timeout)
	if timeout > 0 {
		p.sock.SetDeadline(deadline)
		defer p.sock.CancelDeadline()
	}
	total := 0
	for total < len(buf) {
		n, err := p.sock.Write(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, io.ErrShortWrite
		}
	}
	return total, nil
}

// CancelPipe pokes the cancellation mechanism exactly once: it shuts the
// fd down for both directions, which unsticks any blocked Read/Write.
// Disable() itself is idempotent (fd.go tracks a disable bit), so
// repeated Cancel calls are harmless.
func (p *tcpPipe_) CancelPipe() { p.sock.Fd.Disable() }

// ShutdownPipe implements the protocol-level half-close. SD_SEND
// additionally drains up to 64 bytes of inbound data within 100ms so the
// peer observes a graceful close rather than a reset.
func (p *tcpPipe_) ShutdownPipe(dir ShutdownDirection) error {
	switch dir {
	case ShutdownRead:
		p.sock.ShutdownRead()
	case ShutdownWrite:
		p.drainBeforeClose()
		p.sock.Fd.Disable()
	default:
		p.drainBeforeClose()
		p.sock.Fd.Disable()
	}
	return p.sock.Error
}

func (p *tcpPipe_) drainBeforeClose() {
	p.sock.SetDeadline(time.Now().Add(100 * time.Millisecond))
	defer p.sock.CancelDeadline()
	var buf [64]byte
	p.sock.Read(buf[:])
}
