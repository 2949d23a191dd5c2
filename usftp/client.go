package usftp

import (
	"errors"
	"io"
	"os"
	"path"
	"sync"
	"time"

	"github.com/dzik143/tegenaria-sub000/uerr"
	"github.com/dzik143/tegenaria-sub000/ulog"
	"github.com/dzik143/tegenaria-sub000/uthrottle"
	"golang.org/x/crypto/ssh"
)

// A ClientOption is a function which applies configuration to a Client.
type ClientOption func(*Client) error

// Set the maximum size (bytes) of the payload.
//
// The larger the payload, the more efficient the transport.
//
// The default is 32768 (32KiB), and that is the smallest size that any compliant
// SFTP server must support.
// - OpenSsh supports 256KiB
//
// If you get the error "failed to send packet header: EOF" when copying a
// large file, try lowering this number.
//
// The default packet size is 32768 bytes.
func WithMaxPacket(size int) ClientOption {
	return func(c *Client) error {
		if size < 8192 {
			return errors.New("maxPacket must be greater or equal to 8192")
		}
		c.maxPacket = size
		return nil
	}
}

// MaxConcurrentRequestsPerFile sets the maximum concurrent requests allowed for a single file.
//
// The default maximum concurrent requests is 64.
func MaxConcurrentRequestsPerFile(n int) ClientOption {
	return func(c *Client) error {
		if n < 1 {
			return errors.New("n must be greater or equal to 1")
		}
		c.maxConcurrentRequests = n
		return nil
	}
}

// UseConcurrentWrites allows the Client to perform concurrent Writes.
//
// Using concurrency while doing writes, requires special consideration.
// A write to a later offset in a file after an error,
// could end up with a file length longer than what was successfully written.
//
// When using this option, if you receive an error during `io.Copy` or `io.WriteTo`,
// you may need to `Truncate` the target Writer to avoid “holes” in the data written.
func UseConcurrentWrites(value bool) ClientOption {
	return func(c *Client) error {
		c.useConcurrentWrites = value
		return nil
	}
}

// PartialReadThreshold sets how long a single sector read may take before
// NetStatistics flags it as a partial read (see NetStatistics.PartialRead).
func PartialReadThreshold(d time.Duration) ClientOption {
	return func(c *Client) error {
		c.partialReadThreshold = d
		return nil
	}
}

// PartialWriteThreshold sets how long a single sector write may take before
// NetStatistics flags it as a partial write (see NetStatistics.PartialWrite).
func PartialWriteThreshold(d time.Duration) ClientOption {
	return func(c *Client) error {
		c.partialWriteThreshold = d
		return nil
	}
}

// MaxAggregateRate caps the combined sector throughput, in bytes/sec, of
// every job running concurrently on this Client - unlike a per-job rate
// limit (see DownloadFile/UploadFile), this budget is shared across all of
// them via a single uthrottle.MThrottle.
func MaxAggregateRate(bytesPerSec int64) ClientOption {
	return func(c *Client) error {
		if bytesPerSec <= 0 {
			return nil
		}
		c.throttle = &uthrottle.MThrottle{}
		c.throttle.Start(bytesPerSec, 100*time.Millisecond)
		return nil
	}
}

// Client represents an SFTP session on a *ssh.ClientConn SSH connection.
// Multiple Clients can be active on a single SSH connection, and a Client
// may be called concurrently from multiple Goroutines.
//
// Client does not implement the github.com/kr/fs.FileSystem interface: its
// ReadDir and Lstat signatures differ from that interface's.
type Client struct {
	conn clientConn_

	respPool sync.Pool // of resp chans

	ext map[string]string // Extensions (name -> data).

	maxPacket             int  // max packet size read or written.
	maxConcurrentRequests int  // max concurrent requests per file.
	useConcurrentWrites   bool // allow concurrent Writes.

	// Stats is the running NetStatistics for every request/response and
	// job sector this Client processes. Never nil.
	Stats *NetStatistics

	partialReadThreshold  time.Duration
	partialWriteThreshold time.Duration

	// throttle, if set via MaxAggregateRate, caps the combined sector
	// throughput of every job running on this Client - a second, shared
	// budget on top of each job's own optional per-job rate limit.
	throttle *uthrottle.MThrottle

	jobsMu sync.Mutex
	jobs   map[uint64]*SftpJob
	nextJobID uint64
}

// NewClient creates a new SFTP client on conn, using zero or more option
// functions.
func NewClient(conn *ssh.Client, opts ...ClientOption) (*Client, error) {
	s, err := conn.NewSession()
	if err != nil {
		return nil, err
	}
	if err := s.RequestSubsystem("sftp"); err != nil {
		return nil, err
	}
	pw, err := s.StdinPipe()
	if err != nil {
		return nil, err
	}
	pr, err := s.StdoutPipe()
	if err != nil {
		return nil, err
	}

	return NewClientPipe(pr, pw, opts...)
}

// NewClientPipe creates a new SFTP client given a Reader and a WriteCloser.
// This can be used for connecting to an SFTP server over TCP/TLS or by using
// the system's ssh client program (e.g. via exec.Command).
func NewClientPipe(
	rd io.Reader,
	wr io.WriteCloser,
	opts ...ClientOption,
) (
	client *Client,
	err error,
) {
	client = &Client{
		maxPacket:             1 << 15, // 32768, min supported as per RFC
		maxConcurrentRequests: 64,
		Stats:                 NewNetStatistics(),
		partialReadThreshold:  5 * time.Second,
		partialWriteThreshold: 5 * time.Second,
		jobs:                  make(map[uint64]*SftpJob),
	}
	client.respPool.New = client.newResponder

	defer func() {
		if err != nil {
			wr.Close()
		}
	}()

	for _, opt := range opts {
		err = opt(client)
		if err != nil {
			return
		}
	}

	client.conn.Construct(rd, wr, client)

	client.ext, err = client.conn.Start()

	return
}

type errResponder_ struct {
	c      chan error
	client *Client
}

func (r *errResponder_) onError(err error) { r.c <- err }
func (r *errResponder_) await() (err error) {
	err = <-r.c
	r.client.respPool.Put(r)
	return
}

func (c *Client) newResponder() any {
	return &errResponder_{
		c:      make(chan error, 1),
		client: c,
	}
}
func (c *Client) responder() *errResponder_ {
	return c.respPool.Get().(*errResponder_)
}

// reportError logs an unrecoverable error surfaced by the reader or writer
// goroutine (connection drop, protocol violation) once the conn has already
// cancelled every pending request - there's no caller left to hand this to.
func (c *Client) reportError(err error) {
	ulog.Warnf("sftp: %s", err)
}

// https://filezilla-project.org/specs/draft-ietf-secsh-filexfer-02.txt
const sftpProtocolVersion = 3

// HasExtension checks whether the server supports a named extension.
//
// The first return value is the extension data reported by the server
// (typically a version number).
func (c *Client) HasExtension(name string) (string, bool) {
	data, ok := c.ext[name]
	return data, ok
}
func (c *Client) Close() error {
	if nil != c.throttle {
		c.throttle.Stop()
	}
	return c.conn.Close()
}

// Walk returns a new Walker rooted at root.
//func (c *Client) Walk(root string) *fs.Walker {
//	return fs.WalkFS(root, c)
//}

type ReadDirFilter func(fileN string, attrs *FileStat) (allow, stop bool)

type ReadDirLimit struct {
	N int
}

func (rdl *ReadDirLimit) Filter(fileN string, attrs *FileStat) (allow, stop bool) {
	if 0 != rdl.N {
		rdl.N--
		return true, false
	}
	return false, true
}

// ReadDir get a list of Files in dirN.
func (c *Client) ReadDir(
	dirN string,
	timeout time.Duration, // if positive, limit time to read dir
	filter ReadDirFilter, // if not nil, filter entries
) (
	entries []*File,
	err error,
) {
	var deadline time.Time
	if 0 < timeout {
		deadline = time.Now().Add(timeout)
	}

	handle, err := c.opendir(timeout, dirN)
	if err != nil {
		return
	}
	defer c.closeHandleAsync(handle, nil, nil)

	if 0 < timeout && time.Now().After(deadline) {
		return
	}

	responder := c.responder()

	var readdirF func(id, length uint32, typ uint8) (err error)
	readdirF = func(id, length uint32, typ uint8) (err error) {
		done := false
		defer func() {
			if !done && nil == err &&
				(0 >= timeout || !time.Now().After(deadline)) {
				err = c.conn.RequestSingle(
					&sshFxpReaddirShortPacket{Handle: handle},
					sshFxpName, true,
					readdirF,
					responder.onError)
			}
			if done || nil != err {
				responder.onError(err)
			}
		}()
		switch typ {
		case sshFxpName:
			err = c.conn.ensure(int(length))
			if err != nil {
				return
			}
			allow := true
			count, buff := unmarshalUint32(c.conn.buff)
			for i := uint32(0); i < count && !done; i++ {
				var fileN string
				fileN, buff = unmarshalString(buff)
				_, buff = unmarshalString(buff) // discard longname
				var attrs *FileStat
				attrs, buff, err = unmarshalAttrs(buff)
				if err != nil {
					return
				}
				// the "..." sentinel marks end-of-stream for the
				// DIRLIGO_READDIR_SHORT extension
				if fileN == "..." {
					done = true
					break
				}
				if nil != filter {
					allow, done = filter(fileN, attrs)
				}
				if fileN == "." || fileN == ".." || !allow {
					continue
				}
				entries = append(entries, &File{
					client: c,
					pathN:  path.Join(dirN, fileN),
					attrs:  *attrs,
				})
			}
		case sshFxpStatus:
			statusErr := maybeError(c.conn.buff) // may be nil
			if statusErr == io.EOF || statusErr == nil {
				err = nil // EOF (or an already-nil status) just ends the stream
			} else {
				err = statusErr
			}
			done = true
		default:
			panic("impossible!")
		}
		return
	}

	err = c.conn.RequestSingle(
		&sshFxpReaddirShortPacket{Handle: handle},
		sshFxpName, true,
		readdirF,
		responder.onError)
	if err != nil {
		return
	}
	err = responder.await()
	return
}

func (c *Client) opendir(
	timeout time.Duration,
	dirN string,
) (
	handle string,
	err error,
) {
	err = c.invokeExpect(
		&sshFxpOpendirPacket{Path: dirN},
		sshFxpHandle,
		func() error {
			handle, _ = unmarshalString(c.conn.buff)
			return nil
		})
	return
}

// AsyncResponse carries the outcome of an asynchronous request back to the
// caller-supplied completion callback, along with whatever request value
// the caller passed in to correlate it.
type AsyncResponse struct {
	Request any   // request info provided by caller
	Error   error // result (nil == success), failure (not nil)
}

// AsyncFunc receives an AsyncResponse once an asynchronous request's
// SSH_FXP_STATUS (or expected data response) has arrived, or once it has
// failed locally (connection closed, etc).
type AsyncFunc func(*AsyncResponse)

// async call expecting a status response
func (c *Client) asyncExpectStatus(
	pkt idAwarePkt_,
	onStatus func(error), // if not nil, call before dispatching to onComplete
	request any, // any request data to be returned with response - may be nil
	onComplete AsyncFunc, // if nil, then toss any response
) (err error) {
	return c.asyncExpect(pkt, 0, nil, onStatus, request, onComplete)
}

// async call expecting a single response, either the expectType or status
func (c *Client) asyncExpect(
	pkt idAwarePkt_,
	expectType uint8,
	onExpect func() (err error),
	onStatus func(error),
	request any, // any request data to be returned with response
	onComplete AsyncFunc, // if nil, then toss any response
) error {
	const errUnexpected = uerr.Const("Unexpected packet type 0")

	resp := &AsyncResponse{Request: request}
	return c.conn.RequestSingle(
		pkt, expectType, true,
		func(id, length uint32, typ uint8) error {
			defer func() {
				if nil != onStatus {
					onStatus(resp.Error)
				}
				if nil != onComplete {
					onComplete(resp)
				}
			}()
			resp.Error = c.conn.ensure(int(length))
			if resp.Error != nil {
				return nil
			}
			switch typ {
			case expectType:
				if nil != onExpect {
					resp.Error = onExpect()
				} else {
					resp.Error = errUnexpected
				}
			case sshFxpStatus:
				resp.Error = maybeError(c.conn.buff) // may be nil
			default:
				panic("impossible!")
			}
			return nil
		},
		func(err error) {
			resp.Error = err
			if nil != onComplete {
				onComplete(resp)
			}
		})
}

// perform invocation expecting a single response, either the expectType or status
func (c *Client) invokeExpect(
	pkt idAwarePkt_,
	expectType uint8,
	onExpect func() error,
) (err error) {
	responder := c.responder()
	err = c.conn.RequestSingle(
		pkt, expectType, false,
		func(id, length uint32, typ uint8) (err error) {
			err = c.conn.ensure(int(length))
			if err != nil {
				return
			}
			switch typ {
			case expectType:
				err = onExpect()
			case sshFxpStatus:
				err = maybeError(c.conn.buff) // may be nil
			default:
				panic("impossible!")
			}
			return nil
		},
		responder.onError)
	if err != nil {
		return
	}
	err = responder.await()
	return
}

// invoke when expected resp is just a status
func (c *Client) invokeExpectStatus(pkt idAwarePkt_) (err error) {
	responder := c.responder()
	err = c.conn.RequestSingle(
		pkt, sshFxpStatus, false,
		func(id, length uint32, typ uint8) (err error) {
			err = c.conn.ensure(int(length))
			if err != nil {
				return
			}
			switch typ {
			case sshFxpStatus:
				err = maybeError(c.conn.buff) // may be nil
			default:
				panic("impossible!")
			}
			return nil
		},
		responder.onError)
	if err != nil {
		return
	}
	err = responder.await()
	return
}

// returns a FileStat describing the file specified by pathN
// If pathN is a symbolic link, the returned FileStat describes the actual file.
// FileInfoFromStat can be used to convert this to a go os.FileInfo
func (c *Client) Stat(pathN string) (fs *FileStat, err error) {
	return c.stat(pathN)
}

// returns a FileStat describing the file specified by pathN.
// If pathN is a symbolic link, the returned FileStat describes the link, not the
// actual file.
func (c *Client) Lstat(pathN string) (attrs *FileStat, err error) {
	err = c.invokeExpect(
		&sshFxpLstatPacket{Path: pathN},
		sshFxpAttrs,
		func() (err error) {
			attrs, _, err = unmarshalAttrs(c.conn.buff)
			return
		})
	return
}

// ReadLink reads the target of a symbolic link.
func (c *Client) ReadLink(pathN string) (target string, err error) {
	err = c.invokeExpect(
		&sshFxpReadlinkPacket{Path: pathN},
		sshFxpName,
		func() (err error) {
			count, buff := unmarshalUint32(c.conn.buff)
			if count != 1 {
				err = unexpectedCount(1, count)
			} else {
				target, _ = unmarshalString(buff) // ignore dummy attributes
			}
			return
		})
	return
}

// Link creates a hard link at 'newname', pointing at the same inode as 'oldname'
func (c *Client) Link(oldname, newname string) error {
	return c.invokeExpectStatus(
		&sshFxpHardlinkPacket{
			Oldpath: oldname,
			Newpath: newname,
		})
}

// Symlink creates a symbolic link at 'newname', pointing at target 'oldname'
func (c *Client) Symlink(oldname, newname string) error {
	return c.invokeExpectStatus(
		&sshFxpSymlinkPacket{
			Linkpath:   newname,
			Targetpath: oldname,
		})
}

func (c *Client) fsetstat(handle string, flags uint32, attrs any) error {
	return c.invokeExpectStatus(
		&sshFxpFsetstatPacket{
			Handle: handle,
			Flags:  flags,
			Attrs:  attrs,
		})
}

// allow for changing of various parts of the file descriptor.
func (c *Client) setstat(pathN string, flags uint32, attrs any) error {
	return c.invokeExpectStatus(
		&sshFxpSetstatPacket{
			Path:  pathN,
			Flags: flags,
			Attrs: attrs,
		})
}

// Chtimes changes the access and modification times of the named file.
func (c *Client) Chtimes(pathN string, atime time.Time, mtime time.Time) error {
	type times struct {
		Atime uint32
		Mtime uint32
	}
	attrs := times{uint32(atime.Unix()), uint32(mtime.Unix())}
	return c.setstat(pathN, sshFileXferAttrACmodTime, attrs)
}

// Chown changes the user and group owners of the named file.
func (c *Client) Chown(pathN string, uid, gid int) error {
	type owner struct {
		UID uint32
		GID uint32
	}
	attrs := owner{uint32(uid), uint32(gid)}
	return c.setstat(pathN, sshFileXferAttrUIDGID, attrs)
}

// Chmod changes the permissions of the named file.
//
// Chmod does not apply a umask, because even retrieving the umask is not
// possible in a portable way without causing a race condition. Callers
// should mask off umask bits, if desired.
func (c *Client) Chmod(pathN string, mode os.FileMode) error {
	return c.setstat(pathN, sshFileXferAttrPermissions, toChmodPerm(mode))
}

// Truncate sets the size of the named file. Although it may be safely assumed
// that if the size is less than its current size it will be truncated to fit,
// the SFTP protocol does not specify what behavior the server should do when setting
// size greater than the current size.
func (c *Client) Truncate(path string, size int64) error {
	return c.setstat(path, sshFileXferAttrSize, uint64(size))
}

// SetExtendedData sets extended attributes of the named file. It uses the
// SSH_FILEXFER_ATTR_EXTENDED flag in the setstat request.
//
// This flag provides a general extension mechanism for vendor-specific extensions.
// Names of the attributes should be a string of the format "name@domain", where "domain"
// is a valid, registered domain name and "name" identifies the method. Server
// implementations SHOULD ignore extended data fields that they do not understand.
func (c *Client) SetExtendedData(path string, extended []StatExtended) error {
	attrs := &FileStat{
		Extended: extended,
	}
	return c.setstat(path, sshFileXferAttrExtended, attrs)
}

// Create creates the named file mode 0666 (before umask), truncating it if it
// already exists. If successful, methods on the returned File can be used for
// I/O; the associated file descriptor has mode O_RDWR. If you need more
// control over the flags/mode used to open the file see client.OpenFile.
//
// Note that some SFTP servers (eg. AWS Transfer) do not support opening files
// read/write at the same time. For those services you will need to use
// `client.OpenFile(os.O_WRONLY|os.O_CREATE|os.O_TRUNC)`.
func (c *Client) Create(pathN string) (*File, error) {
	return c.open(&File{client: c, pathN: pathN},
		toPflags(os.O_RDWR|os.O_CREATE|os.O_TRUNC))
}

// Open file at pathN for reading.
func (c *Client) OpenRead(pathN string) (*File, error) {
	return c.open(&File{client: c, pathN: pathN}, toPflags(os.O_RDONLY))
}

// Open file at path using the specified flags
func (c *Client) Open(pathN string, flags int) (*File, error) {
	return c.open(&File{client: c, pathN: pathN}, toPflags(flags))
}

func (c *Client) open(f *File, pflags uint32) (rv *File, err error) {
	err = c.invokeExpect(
		&sshFxpOpenPacket{
			Path:   f.pathN,
			Pflags: pflags,
		},
		sshFxpHandle,
		func() error {
			f.handle, _ = unmarshalString(c.conn.buff)
			rv = f
			return nil
		})
	if err != nil {
		err = uerr.Chainf(err, "open %s", f.pathN)
	}
	return
}

func (c *Client) openAsync(
	f *File, pflags uint32, req any, onComplete AsyncFunc,
) (
	err error,
) {
	err = c.asyncExpect(
		&sshFxpOpenPacket{
			Path:   f.pathN,
			Pflags: pflags,
		},
		sshFxpHandle,
		func() error {
			f.handle, _ = unmarshalString(c.conn.buff)
			return nil
		}, nil, req, onComplete)
	if err != nil {
		err = uerr.Chainf(err, "openAsync %s", f.pathN)
	}
	return
}

// close a handle handle previously returned in the response
// to SSH_FXP_OPEN or SSH_FXP_OPENDIR. The handle becomes invalid
// immediately after this request has been sent.
func (c *Client) closeHandleAsync(
	handle string,
	req any, // may be nil
	onComplete AsyncFunc, // may be nil
) error {
	return c.asyncExpectStatus(&sshFxpClosePacket{Handle: handle}, nil, req, onComplete)
}

// synchronous - waits for any error
func (c *Client) closeHandle(handle string) error {
	return c.invokeExpectStatus(&sshFxpClosePacket{Handle: handle})
}

// MultiClose closes several handles with a single DIRLIGO_MULTICLOSE (221)
// request. A peer that doesn't understand the extension answers
// OP_UNSUPPORTED, in which case the caller should fall back to closing each
// handle individually.
func (c *Client) MultiClose(handles []uint32) error {
	return c.invokeExpectStatus(&sshFxpMulticlosePacket{Handles: handles})
}

// ResetDir rewinds the server-side directory iterator for handle (a value
// previously returned by OpenDir) so it can be listed again from the start,
// via the DIRLIGO_RESETDIR (222) vendor extension.
func (c *Client) ResetDir(handle string) error {
	return c.invokeExpectStatus(&sshFxpResetdirPacket{Handle: handle})
}

// Append is declared on the wire (DIRLIGO_APPEND, type 223) but not known to
// be implemented by any peer; rejected locally rather than sent, so callers
// get an immediate, unambiguous failure instead of a hung round trip.
func (c *Client) Append(handle string, data []byte) error {
	return ErrSSHFxOpUnsupported
}

// CreateFile combines open-or-create with an explicit share mode via the
// DIRLIGO_CREATEFILE (220) vendor extension. The returned handle is a raw
// 4-byte value (not the opaque length-prefixed string OPEN/OPENDIR use);
// its high bit (sshFxpCreatefileDirFlag) is masked out and reported via
// isDir before the handle is returned to the caller.
func (c *Client) CreateFile(
	pathN string,
	access, shared, create, flags uint32,
	isDir bool,
) (
	handle uint32,
	isDirOut bool,
	err error,
) {
	err = c.invokeExpect(
		&sshFxpCreatefilePacket{
			Path:   pathN,
			Access: access,
			Shared: shared,
			Create: create,
			Flags:  flags,
			IsDir:  isDir,
		},
		sshFxpHandle,
		func() (err error) {
			raw, _, err := unmarshalUint32Safe(c.conn.buff)
			if err != nil {
				return err
			}
			isDirOut = raw&sshFxpCreatefileDirFlag != 0
			handle = raw &^ sshFxpCreatefileDirFlag
			return nil
		})
	if err != nil {
		err = uerr.Chainf(err, "createfile %s", pathN)
	}
	return
}

func (c *Client) stat(path string) (attr *FileStat, err error) {
	err = c.invokeExpect(
		&sshFxpStatPacket{Path: path},
		sshFxpAttrs,
		func() (err error) {
			attr, _, err = unmarshalAttrs(c.conn.buff)
			return
		})
	return
}

func (c *Client) fstat(handle string) (attr *FileStat, err error) {
	err = c.invokeExpect(
		&sshFxpFstatPacket{Handle: handle},
		sshFxpAttrs,
		func() (err error) {
			attr, _, err = unmarshalAttrs(c.conn.buff)
			return
		})
	return
}

// get VFS (file system) statistics from a remote host.
//
// Implement the statvfs@openssh.com SSH_FXP_EXTENDED feature from
// http://www.opensource.apple.com/source/OpenSSH/OpenSSH-175/openssh/PROTOCOL?txt.
func (c *Client) StatVFS(pathN string) (rv *StatVFS, err error) {
	err = c.invokeExpect(
		&sshFxpStatvfsPacket{Path: pathN},
		sshFxpExtendedReply,
		func() (err error) {
			rv, err = unmarshalStatVFS(c.conn.buff)
			return
		})
	return
}

// Remove removes the specified file or directory. An error will be returned if no
// file or directory with the specified path exists, or if the specified directory
// is not empty.
func (c *Client) Remove(pathN string) error {
	err := c.removeFile(pathN)
	// some servers, *cough* osx *cough*, return EPERM, not ENODIR.
	// serv-u returns ssh_FX_FILE_IS_A_DIRECTORY
	// EPERM is converted to os.ErrPermission so it is not a StatusError
	if err, ok := err.(*StatusError); ok {
		switch err.Code {
		case sshFxFailure, sshFxFileIsADirectory:
			return c.RemoveDirectory(pathN)
		}
	}
	if os.IsPermission(err) {
		return c.RemoveDirectory(pathN)
	}
	return err
}

func (c *Client) removeFile(pathN string) error {
	return c.invokeExpectStatus(&sshFxpRemovePacket{Filename: pathN})
}

func (c *Client) RemoveAsync(
	pathN string, req any, onComplete AsyncFunc,
) error {
	return c.asyncExpectStatus(
		&sshFxpRemovePacket{Filename: pathN},
		nil, req, onComplete)
}

// RemoveDirectory removes a directory path.
func (c *Client) RemoveDirectory(pathN string) error {
	return c.invokeExpectStatus(&sshFxpRmdirPacket{Path: pathN})
}

// Rename renames a file.
func (c *Client) Rename(oldN, newN string) error {
	return c.invokeExpectStatus(
		&sshFxpRenamePacket{
			Oldpath: oldN,
			Newpath: newN,
		})
}

func (c *Client) RenameAsync(
	oldN, newN string,
	req any, onComplete AsyncFunc,
) (err error) {
	return c.asyncExpectStatus(
		&sshFxpRenamePacket{
			Oldpath: oldN,
			Newpath: newN,
		}, nil, req, onComplete)
}

// PosixRename renames a file using the posix-rename@openssh.com extension
// which will replace newname if it already exists.
func (c *Client) PosixRename(oldN, newN string) error {
	return c.invokeExpectStatus(
		&sshFxpPosixRenamePacket{
			Oldpath: oldN,
			Newpath: newN,
		})
}

// PosixRename renames a file using the posix-rename@openssh.com extension
// which will replace newname if it already exists.
func (c *Client) PosixRenameAsync(
	oldN, newN string,
	req any, onComplete AsyncFunc,
) (err error) {
	return c.asyncExpectStatus(
		&sshFxpPosixRenamePacket{
			Oldpath: oldN,
			Newpath: newN,
		}, nil, req, onComplete)
}

// Request server to canonicalize pathN to an absolute path.
//
// This is useful for converting path names containing ".." components,
// or relative pathnames without a leading slash into absolute paths.
func (c *Client) RealPath(pathN string) (canonN string, err error) {
	err = c.invokeExpect(
		&sshFxpRealpathPacket{Path: pathN},
		sshFxpName,
		func() (err error) {
			count, buff := unmarshalUint32(c.conn.buff)
			if count != 1 {
				err = unexpectedCount(1, count)
				return
			}
			canonN, _ = unmarshalString(buff) // ignore attributes
			return
		})
	return
}

// Getwd returns the current working directory of the server. Operations
// involving relative paths will be based at this location.
func (c *Client) Getwd() (string, error) {
	return c.RealPath(".")
}

// Mkdir creates the specified directory. An error will be returned if a file or
// directory with the specified path already exists, or if the directory's
// parent folder does not exist (the method cannot create complete paths).
func (c *Client) Mkdir(path string) error {
	return c.invokeExpectStatus(&sshFxpMkdirPacket{Path: path})
}

/*
// MkdirAll creates a directory named path, along with any necessary parents,
// and returns nil, or else returns an error.
// If path is already a directory, MkdirAll does nothing and returns nil.
// If path contains a regular file, an error is returned
func (c *Client) MkdirAll(path string) error {
	// Most of this code mimics https://golang.org/src/os/path.go?s=514:561#L13
	// Fast path: if we can tell whether path is a directory or file, stop with success or error.
	dir, err := c.Stat(path)
	if err == nil {
		if dir.IsDir() {
			return nil
		}
		return &os.PathError{Op: "mkdir", Path: path, Err: syscall.ENOTDIR}
	}

	// Slow path: make sure parent exists and then call Mkdir for path.
	i := len(path)
	for i > 0 && path[i-1] == '/' { // Skip trailing path separator.
		i--
	}

	j := i
	for j > 0 && path[j-1] != '/' { // Scan backward over element.
		j--
	}

	if j > 1 {
		// Create parent
		err = c.MkdirAll(path[0 : j-1])
		if err != nil {
			return err
		}
	}

	// Parent now exists; invoke Mkdir and use its result.
	err = c.Mkdir(path)
	if err != nil {
		// Handle arguments like "foo/." by
		// double-checking that directory doesn't exist.
		dir, err1 := c.Lstat(path)
		if err1 == nil && dir.IsDir() {
			return nil
		}
		return err
	}
	return nil
}

// RemoveAll delete files recursively in the directory and Recursively delete subdirectories.
// An error will be returned if no file or directory with the specified path exists
func (c *Client) RemoveAll(path string) error {

	// Get the file/directory information
	fi, err := c.Stat(path)
	if err != nil {
		return err
	}

	if fi.IsDir() {
		// Delete files recursively in the directory
		files, err := c.ReadDir(path, 0, nil)
		if err != nil {
			return err
		}

		for _, file := range files {
			if file.IsDir() {
				// Recursively delete subdirectories
				err = c.RemoveAll(path + "/" + file.Name())
				if err != nil {
					return err
				}
			} else {
				// Delete individual files
				err = c.Remove(path + "/" + file.Name())
				if err != nil {
					return err
				}
			}
		}

	}

	return c.Remove(path)

}
*/

// convert ssh/sftp status/errors into stdlib errors, or to nil if not an error
func maybeError(buff []byte) error {
	err := unmarshalStatus(buff).(*StatusError)
	switch err.Code {
	case sshFxEOF:
		return io.EOF
	case sshFxNoSuchFile:
		return os.ErrNotExist
	case sshFxPermissionDenied:
		return os.ErrPermission
	case sshFxOk:
		return nil
	default:
		return err
	}
}

// flags converts the flags passed to OpenFile into ssh flags.
// Unsupported flags are ignored.
func toPflags(f int) uint32 {
	var out uint32
	switch f & (os.O_RDONLY | os.O_WRONLY | os.O_RDWR) {
	case os.O_RDONLY:
		out |= sshFxfRead
	case os.O_WRONLY:
		out |= sshFxfWrite
	case os.O_RDWR:
		out |= sshFxfRead | sshFxfWrite
	}
	if f&os.O_APPEND == os.O_APPEND {
		out |= sshFxfAppend
	}
	if f&os.O_CREATE == os.O_CREATE {
		out |= sshFxfCreat
	}
	if f&os.O_TRUNC == os.O_TRUNC {
		out |= sshFxfTrunc
	}
	if f&os.O_EXCL == os.O_EXCL {
		out |= sshFxfExcl
	}
	return out
}

// toChmodPerm converts Go permission bits to POSIX permission bits.
//
// This differs from fromFileMode in that we preserve the POSIX versions of
// setuid, setgid and sticky in m, because we've historically supported those
// bits, and we mask off any non-permission bits.
func toChmodPerm(m os.FileMode) (perm uint32) {
	const mask = os.ModePerm | os.FileMode(s_ISUID|s_ISGID|s_ISVTX)
	perm = uint32(m & mask)

	if m&os.ModeSetuid != 0 {
		perm |= s_ISUID
	}
	if m&os.ModeSetgid != 0 {
		perm |= s_ISGID
	}
	if m&os.ModeSticky != 0 {
		perm |= s_ISVTX
	}

	return perm
}
