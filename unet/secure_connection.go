package unet

import (
	"crypto/rand"
	"crypto/sha256"
	"io"
	"time"

	"github.com/dzik143/tegenaria-sub000/uerr"
	"golang.org/x/crypto/hkdf"
)

// Role is which side of the DTLS handshake this SecureConnection plays.
type Role int

const (
	RoleClient Role = iota
	RoleServer
)

// HandshakeState is SecureConnection's handshake sub-state machine.
type HandshakeState int

const (
	HandshakeWrite HandshakeState = iota
	HandshakeRead
	SecureEstablished
)

// IOStrategy picks how a SecureConnection moves handshake/record bytes to
// and from the peer.
type IOStrategy int

const (
	// IOStrategyNone: the caller drives the handshake by hand, passing
	// received bytes in and pulling bytes to send back out.  Used when
	// embedding the DTLS record layer in a transport this package has no
	// opinion about (e.g. a UDP socket owned by the application).
	IOStrategyNone IOStrategy = iota
	// IOStrategyCallbacks: send/receive are done through user callbacks.
	IOStrategyCallbacks
	// IOStrategyFdPair: send/receive go over a raw fd pair (NewConnPair).
	IOStrategyFdPair
	// IOStrategySocket: send/receive go over an arbitrary Pipe (typically
	// a TcpConnection's pipe, wrapping a BSD socket).
	IOStrategySocket
)

const (
	// HandshakeTimeout bounds a single handshake step (spec: 30s/step).
	HandshakeTimeout = 30 * time.Second

	errHandshakeTimeout_   = uerr.Const("unet: DTLS handshake step timed out")
	errNotEstablished_     = uerr.Const("unet: SecureConnection not established")
	errNoIOStrategy_       = uerr.Const("unet: IOStrategyNone requires the caller to drive the handshake")
	errUnexpectedOkPeer_   = uerr.Const("unet: server did not send the expected \"OK\" handshake trailer")
	serverHandshakeOk_ = "OK"
)

// DtlsSession is the narrow four-function contract this package drives a
// concrete DTLS record-layer implementation through. No concrete
// implementation ships in this package (per spec, DTLS crypto is an
// external collaborator consumed through this interface only); callers
// supply one backed by whatever cgo/pure-Go DTLS library they choose.
type DtlsSession interface {
	// HandshakeStep drives the handshake state machine one step forward,
	// consuming any bytes previously handed to PushHandshakeRead, and
	// returns bytes (if any) that must be sent to the peer plus whether
	// the handshake is now complete.
	HandshakeStep() (out []byte, done bool, err error)

	// PushHandshakeRead feeds bytes received from the peer into the
	// session's read-direction memory BIO ahead of the next HandshakeStep.
	PushHandshakeRead(cipher []byte)

	// Encrypt writes plain into the session and drains the resulting
	// ciphertext from the write-direction memory BIO.
	Encrypt(plain []byte) (cipher []byte, err error)

	// Decrypt writes cipher into the read-direction memory BIO and reads
	// the resulting plaintext back out of the session.
	Decrypt(cipher []byte) (plain []byte, err error)
}

// SecureConnection layers a DTLS record layer (driven through DtlsSession)
// on top of an arbitrary I/O strategy.
type SecureConnection struct {
	*Connection
	session  DtlsSession
	role     Role
	state    HandshakeState
	strategy IOStrategy

	pipe Pipe // used by IOStrategySocket / IOStrategyFdPair

	// used by IOStrategyCallbacks
	sendCb func(buf []byte) error
	recvCb func() (buf []byte, err error)

	sessionID []byte
}

// NewSessionID returns a cryptographically random session id of n bytes,
// per the design note that security-sensitive randomness (unlike SFTP
// request ids) must come from a CSPRNG rather than a seeded PRNG.
func NewSessionID(n int) (id []byte, err error) {
	id = make([]byte, n)
	_, err = io.ReadFull(rand.Reader, id)
	return
}

// DeriveKey expands a DTLS handshake secret into additional key material
// via HKDF, for implementations that need more bytes than the raw secret
// provides (e.g. separate read/write keys).
func DeriveKey(secret, salt, info []byte, n int) (key []byte, err error) {
	key = make([]byte, n)
	r := hkdf.New(sha256.New, secret, salt, info)
	_, err = io.ReadFull(r, key)
	return
}

// NewSecureConnection wraps session in a SecureConnection that will speak
// the given role over pipe (IOStrategySocket/IOStrategyFdPair).
func NewSecureConnection(role Role, session DtlsSession, pipe Pipe) *SecureConnection {
	sc := &SecureConnection{
		Connection: NewConnection("dtls", &secureAsPipe_{}),
		session:    session,
		role:       role,
		state:      HandshakeWrite,
		strategy:   IOStrategySocket,
		pipe:       pipe,
	}
	sc.Connection.pipe = &secureAsPipe_{sc: sc}
	return sc
}

// NewSecureConnectionCallbacks wraps session in a SecureConnection driven
// by user-supplied send/recv callbacks instead of a Pipe.
func NewSecureConnectionCallbacks(
	role Role, session DtlsSession,
	send func([]byte) error, recv func() ([]byte, error),
) *SecureConnection {
	sc := &SecureConnection{
		Connection: NewConnection("dtls", &secureAsPipe_{}),
		session:    session,
		role:       role,
		state:      HandshakeWrite,
		strategy:   IOStrategyCallbacks,
		sendCb:     send,
		recvCb:     recv,
	}
	sc.Connection.pipe = &secureAsPipe_{sc: sc}
	return sc
}

// NewSecureConnectionManual wraps session for IOStrategyNone use: the
// caller drives HandshakeStepManual directly instead of calling Handshake.
func NewSecureConnectionManual(role Role, session DtlsSession) *SecureConnection {
	sc := &SecureConnection{
		Connection: NewConnection("dtls", &secureAsPipe_{}),
		session:    session,
		role:       role,
		state:      HandshakeWrite,
		strategy:   IOStrategyNone,
	}
	sc.Connection.pipe = &secureAsPipe_{sc: sc}
	return sc
}

func (sc *SecureConnection) Role() Role               { return sc.role }
func (sc *SecureConnection) HandshakeState() HandshakeState { return sc.state }
func (sc *SecureConnection) Strategy() IOStrategy      { return sc.strategy }

func (sc *SecureConnection) pushOut(buf []byte) error {
	if 0 == len(buf) {
		return nil
	}
	switch sc.strategy {
	case IOStrategyCallbacks:
		return sc.sendCb(buf)
	case IOStrategySocket, IOStrategyFdPair:
		_, err := sc.pipe.WritePipe(buf, HandshakeTimeout)
		return err
	default:
		return errNoIOStrategy_
	}
}

func (sc *SecureConnection) pullIn() (buf []byte, err error) {
	switch sc.strategy {
	case IOStrategyCallbacks:
		return sc.recvCb()
	case IOStrategySocket, IOStrategyFdPair:
		tmp := make([]byte, 4096)
		var n int
		n, err = sc.pipe.ReadPipe(tmp, HandshakeTimeout)
		return tmp[:n], err
	default:
		return nil, errNoIOStrategy_
	}
}

// Handshake drives the cooperative handshake algorithm (spec 4.6) to
// completion for IOStrategyCallbacks/FdPair/Socket. Each step is bounded
// by HandshakeTimeout; once established, a server pushes a literal "OK"
// trailer and a client consumes one.
func (sc *SecureConnection) Handshake() (err error) {
	if IOStrategyNone == sc.strategy {
		return errNoIOStrategy_
	}
	for sc.state != SecureEstablished {
		stepDeadline := time.Now().Add(HandshakeTimeout)
		done, err2 := sc.driveStep()
		if err2 != nil {
			return err2
		}
		if time.Now().After(stepDeadline) {
			return errHandshakeTimeout_
		}
		if done {
			sc.state = SecureEstablished
			if RoleClient == sc.role {
				if err = sc.expectOk(); err != nil {
					return err
				}
			}
		}
	}
	if RoleServer == sc.role {
		var cipher []byte
		cipher, err = sc.session.Encrypt([]byte(serverHandshakeOk_))
		if err != nil {
			return err
		}
		err = sc.pushOut(cipher)
		if err != nil {
			return err
		}
	}
	sc.SetState(Established)
	return nil
}

func (sc *SecureConnection) driveStep() (done bool, err error) {
	switch sc.state {
	case HandshakeWrite:
		var out []byte
		out, done, err = sc.session.HandshakeStep()
		if err != nil {
			return
		}
		if err = sc.pushOut(out); err != nil {
			return
		}
		if !done {
			sc.state = HandshakeRead
		}
	case HandshakeRead:
		var in []byte
		in, err = sc.pullIn()
		if err != nil {
			return
		}
		sc.session.PushHandshakeRead(in)
		var out []byte
		out, done, err = sc.session.HandshakeStep()
		if err != nil {
			return
		}
		if done {
			err = sc.pushOut(out)
		} else {
			sc.state = HandshakeWrite
		}
	}
	return
}

func (sc *SecureConnection) expectOk() error {
	buf, err := sc.pullIn()
	if err != nil {
		return err
	}
	plain, err := sc.session.Decrypt(buf)
	if err != nil {
		return err
	}
	if string(plain) != serverHandshakeOk_ {
		return errUnexpectedOkPeer_
	}
	return nil
}

// HandshakeStepManual lets an IOStrategyNone caller drive the handshake
// by hand: pass bytes received from the peer in, get bytes to send back
// out, and learn whether the handshake is now complete.
func (sc *SecureConnection) HandshakeStepManual(in []byte) (out []byte, done bool, err error) {
	if IOStrategyNone != sc.strategy {
		return nil, false, errNoIOStrategy_
	}
	if sc.state == HandshakeRead && nil != in {
		sc.session.PushHandshakeRead(in)
	}
	switch sc.state {
	case HandshakeWrite:
		out, done, err = sc.session.HandshakeStep()
		if err == nil && !done {
			sc.state = HandshakeRead
		}
	case HandshakeRead:
		out, done, err = sc.session.HandshakeStep()
		if err == nil && !done {
			sc.state = HandshakeWrite
		}
	}
	if done && err == nil {
		sc.state = SecureEstablished
		sc.SetState(Established)
	}
	return
}

// secureAsPipe_ adapts SecureConnection's established-state record layer
// (encrypt/decrypt over the underlying pipe) to the Pipe interface so
// Connection.Read/Write/Request work unmodified once the handshake is
// done.
type secureAsPipe_ struct {
	sc *SecureConnection
}

func (p *secureAsPipe_) ReadPipe(buf []byte, timeout time.Duration) (int, error) {
	if p.sc.state != SecureEstablished {
		return 0, errNotEstablished_
	}
	cipher, err := p.sc.pullIn()
	if err != nil {
		return 0, err
	}
	plain, err := p.sc.session.Decrypt(cipher)
	if err != nil {
		return 0, err
	}
	n := copy(buf, plain)
	return n, nil
}

func (p *secureAsPipe_) WritePipe(buf []byte, timeout time.Duration) (int, error) {
	if p.sc.state != SecureEstablished {
		return 0, errNotEstablished_
	}
	cipher, err := p.sc.session.Encrypt(buf)
	if err != nil {
		return 0, err
	}
	if err = p.sc.pushOut(cipher); err != nil {
		return 0, err
	}
	return len(buf), nil
}

func (p *secureAsPipe_) CancelPipe() {
	if nil != p.sc.pipe {
		p.sc.pipe.CancelPipe()
	}
}

func (p *secureAsPipe_) ShutdownPipe(dir ShutdownDirection) error {
	if nil != p.sc.pipe {
		return p.sc.pipe.ShutdownPipe(dir)
	}
	return nil
}
