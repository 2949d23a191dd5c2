package usftp

import (
	"fmt"
	"io"
	"os"
	"path"
	"time"

	"github.com/dzik143/tegenaria-sub000/uerr"
)

const ErrOpenned = uerr.Const("file already openned")

const errStat_ = uerr.Const("file has no attrs, size needed, but NeverStat set")

// Provide access to a remote file.
//
// Files obtained via Client.ReadDir are not in an open state.  They must be opened
// first.  These Files do have populated attributes.
//
// Files obtained via Client.Open calls are open, but do not have populated
// attributes until Stat() is called.
//
// Calls that change the offset (Read/ReadFrom/Write/WriteTo/Seek) need to be
// externally coordinated or synchronized.  This is no different than dealing
// with any other kind of file, as concurrent reads and writes will result in
// gibberish otherwise.
//
// Likewise, Open/Close needs to also be externally coordinated or synchronized
// with other i/o ops.
type File struct {
	client *Client
	pathN  string
	handle string   // empty if not open
	offset int64    // current offset within remote file
	attrs  FileStat // if Mode bits not set, then not populated
	Stash  any      // stash whatever you want here
}

// normally create with client.Open or client.ReadDir
func NewFile(client *Client, pathN string) *File {
	return &File{
		client: client,
		pathN:  pathN,
	}
}

func (f *File) IsOpen() bool { return 0 != len(f.handle) }

func (f *File) Client() *Client { return f.client }

// if File is not currently open, it is possible to change the Client
func (f *File) SetClient(c *Client) error {
	if 0 != len(f.handle) {
		return ErrOpenned
	}
	f.client = c
	return nil
}

// return cached FileStat, which may not be populated with file attributes.
//
// if Mode bits are zero, then it is not populated.
//
// it will be populated after a ReadDir, or a Stat call
func (f *File) FileStat() FileStat { return f.attrs }

// if attrs are populated, mod time in unix serespConds
//
// it's only 32 bits, but it's unsigned so will not fail in 2038
func (f *File) ModTimeUnix() uint32 { return f.attrs.Mtime }

// careful - this creates a time.Time each invocation
func (f *File) ModTime() time.Time { return time.Unix(int64(f.attrs.Mtime), 0) }

// if attrs are populated, mode bits of file.  otherwise, bits are zero.
func (f *File) Mode() FileMode { return f.attrs.FileMode() }

// if attrs are populated, mode bits of file.  otherwise, bits are zero.
func (f *File) OsFileMode() os.FileMode { return f.attrs.OsFileMode() }

// return the internal FileStat to a go os.FileInfo
func (f *File) OsFileInfo() os.FileInfo { return f.attrs.AsFileInfo(f.pathN) }

// return true if attributes are populated
func (f *File) AttrsCached() bool { return 0 != f.attrs.Mode }

// if attrs are populated, size of the file
func (f *File) Size() uint64 { return f.attrs.Size }

// if attrs are populated, check if this is regular file
func (f *File) IsRegular() bool { return f.attrs.IsRegular() }

// if attrs are populated, check if this is a dir
func (f *File) IsDir() bool { return f.attrs.IsDir() }

// return the name of the file as presented to Open or Create.
func (f *File) Name() string { return f.pathN }

// change the name
func (f *File) SetName(newN string) { f.pathN = newN }

// return the base name of the file
func (f *File) BaseName() string { return path.Base(f.pathN) }

// Open the file for read.
//
// async safe
func (f *File) OpenRead() (err error) {
	if 0 != len(f.handle) {
		return ErrOpenned
	}
	_, err = f.client.open(f, toPflags(os.O_RDONLY))
	return
}

// Open the file for read, async.
//
// async safe
func (f *File) OpenReadAsync(req any, onComplete AsyncFunc) (err error) {
	if 0 != len(f.handle) {
		return ErrOpenned
	}
	err = f.client.openAsync(f, toPflags(os.O_RDONLY), req, onComplete)
	return
}

// Open file using the specified flags
//
// async safe
func (f *File) Open(flags int) (err error) {
	if 0 != len(f.handle) {
		return ErrOpenned
	}
	_, err = f.client.open(f, toPflags(flags))
	return
}

// Open the file, async.
//
// async safe
func (f *File) OpenAsync(flags int, req any, onComplete AsyncFunc) (err error) {
	if 0 != len(f.handle) {
		return ErrOpenned
	}
	err = f.client.openAsync(f, toPflags(flags), req, onComplete)
	return
}

// implement io.Closer
//
// close the File.
//
// syncronize access
func (f *File) Close() error {
	if 0 == len(f.handle) {
		return nil
	}
	handle := f.handle
	f.handle = ""
	return f.client.closeHandle(handle)
}

// close the File, async.
//
// Use nil for request and respC to "fire and forget".  This is useful when
// closing after an error encountered or for done reading, but dangerous after
// a successful write, as it is possible the write is not 100% complete and a
// failure is detected during close.
//
// syncronize access
func (f *File) CloseAsync(req any, onComplete AsyncFunc) error {
	if 0 == len(f.handle) {
		return nil
	}
	handle := f.handle
	f.handle = ""
	return f.client.closeHandleAsync(handle, req, onComplete)
}

// remove the file.  it may remain open.
//
// async safe
func (f *File) Remove() (err error) {
	return f.client.Remove(f.pathN)
}

// remove the file, async.  it may remain open.
//
// async safe
func (f *File) RemoveAsync(req any, onComplete AsyncFunc) error {
	return f.client.RemoveAsync(f.pathN, req, onComplete)
}

// rename file.
//
// synchronize access
func (f *File) Rename(newN string) (err error) {
	err = f.client.Rename(f.pathN, newN)
	if err != nil {
		return
	}
	f.pathN = newN
	return
}

// Rename file, but only if it doesn't already exist.
//
// synchronize access
func (f *File) RenameAsync(newN string, req any, onComplete AsyncFunc) error {
	return f.client.asyncExpectStatus(
		&sshFxpRenamePacket{
			Oldpath: f.pathN,
			Newpath: newN,
		},
		func(status error) {
			if nil == status { // success
				f.pathN = newN
			}
		},
		req, onComplete)
}

// rename file, even if newN already exists (replacing it).
//
// uses the posix-rename@openssh.com extension
//
// synchronize access
func (f *File) PosixRename(newN string) (err error) {
	err = f.client.PosixRename(f.pathN, newN)
	if err != nil {
		return
	}
	f.pathN = newN
	return
}

// rename file, async, even if newN already exists (replacing it).
//
// uses the posix-rename@openssh.com extension
//
// synchronize access
func (f *File) PosixRenameAsync(newN string, req any, onComplete AsyncFunc) error {
	return f.client.asyncExpectStatus(
		&sshFxpPosixRenamePacket{
			Oldpath: f.pathN,
			Newpath: newN,
		},
		func(status error) {
			if nil == status { // success
				f.pathN = newN
			}
		},
		req, onComplete)
}

// implement io.WriterTo
//
// copy contents (from current offset to end) of file to w
//
// If File size is not known (File was not built from ReadDir, or no Stat call was
// placed prior to this), then the StatStrategy set on Client will be followed.
//
// Reads one sector (at most MaxPacket bytes) at a time, waiting for each
// sector's reply before requesting the next - no pipelining across sectors.
//
// synchronize i/o ops
func (f *File) WriteTo(w io.Writer) (written int64, err error) {

	if 0 == len(f.handle) {
		return 0, os.ErrClosed
	}

	if 0 == f.attrs.Mode && NeverStat == f.client.statStrategy {
		return 0, errStat_
	} else if 0 == f.attrs.Mode || AlwaysStat == f.client.statStrategy {
		_, err = f.Stat()
		if err != nil {
			return 0, err
		}
	}

	maxPkt := f.client.maxPacket
	offset := f.offset
	buff := make([]byte, maxPkt)

	for offset < int64(f.attrs.Size) {
		want := int64(f.attrs.Size) - offset
		if want > int64(maxPkt) {
			want = int64(maxPkt)
		}
		var nread int
		nread, err = f.readChunk(offset, buff[:want])
		if nread > 0 {
			var nwrote int
			nwrote, err = w.Write(buff[:nread])
			written += int64(nwrote)
			offset += int64(nwrote)
			if err != nil {
				break
			}
		}
		if err != nil {
			break
		}
		if int64(nread) < want {
			break // server gave us less than asked, treat as EOF
		}
	}

	f.offset = offset
	if io.EOF == err {
		err = nil
	}
	return
}

// readChunk issues a single SSH_FXP_READ for up to len(toBuff) bytes (which
// must not exceed the server's max packet size) and blocks until the reply
// arrives, copying the data into toBuff.
func (f *File) readChunk(offset int64, toBuff []byte) (nread int, err error) {
	if 0 == len(toBuff) {
		return
	}

	started := time.Now()
	req := &clientReq_{expectPkts: 1}
	req.expectType = sshFxpData
	req.autoResp = manualRespond_
	req.pkt = &sshFxpReadPacket{
		Handle: f.handle,
		Offset: uint64(offset),
		Len:    uint32(len(toBuff)),
	}

	responder := f.client.responder()
	req.onError = responder.onError
	req.onResp = func(id, length uint32, typ uint8) (err error) {
		conn := f.client.conn
		err = conn.ensure(int(length))
		if err != nil {
			return
		}
		switch typ {
		case sshFxpData:
			dataSz, buff := unmarshalUint32(conn.buff)
			if dataSz != length-4 {
				return fmt.Errorf("dataSz is %d, but remaining is %d", dataSz, length-4)
			} else if int(dataSz) > len(toBuff) {
				return fmt.Errorf(
					"got back %d bytes, only room for %d", dataSz, len(toBuff))
			}
			nread = copy(toBuff, buff[:dataSz])
		case sshFxpStatus:
			err = maybeError(conn.buff) // may be nil (EOF is the common case here)
		default:
			panic("impossible!")
		}
		return
	}

	err = f.client.conn.Request(req)
	if err != nil {
		return
	}
	err = responder.await()
	elapsed := time.Since(started)
	if elapsed > f.client.partialReadThreshold {
		f.client.Stats.TriggerPartialRead()
	}
	f.client.Stats.Download(nread, elapsed)
	return
}

// implement io.ReaderAt.  Read up to len toBuff bytes from file at current offset,
// leaving offset unchanged.
//
// Reads one sector (at most MaxPacket bytes) at a time, waiting for each
// sector's reply before requesting the next - no pipelining across sectors.
//
// synchronize i/o ops
func (f *File) ReadAt(toBuff []byte, offset int64) (nread int, err error) {
	if 0 == len(f.handle) {
		return 0, os.ErrClosed
	}
	if 0 == len(toBuff) {
		return
	}

	if 0 == f.attrs.Mode && NeverStat == f.client.statStrategy {
		return 0, errStat_
	} else if 0 == f.attrs.Mode || AlwaysStat == f.client.statStrategy {
		_, err = f.Stat()
		if err != nil {
			return 0, err
		}
	}
	if offset >= int64(f.attrs.Size) {
		return 0, io.EOF
	}

	maxPkt := f.client.maxPacket
	for 0 != len(toBuff) {
		want := len(toBuff)
		if want > maxPkt {
			want = maxPkt
		}
		var n int
		n, err = f.readChunk(offset, toBuff[:want])
		nread += n
		offset += int64(n)
		toBuff = toBuff[n:]
		if err != nil {
			break
		} else if n < want {
			err = io.EOF
			break
		}
	}
	return
}

// implement io.Reader
//
// Reads up to len(b) bytes from the File. It returns the number of bytes
// read and an error, if any. When Read encounters an error or EOF after
// successfully reading n > 0 bytes, it returns the number of bytes read.
//
// The read is broken up into sector-sized (MaxPacket) requests, one at a
// time.
//
// If transfering to an io.Writer, use WriteTo for best performance.  io.Copy
// will do this automatically.
//
// synchronize i/o ops
func (f *File) Read(b []byte) (nread int, err error) {
	nread, err = f.ReadAt(b, f.offset)
	f.offset += int64(nread)
	return
}

// Stat returns the attributes about the file.  If the file is open, then fstat
// is used, otherwise, stat is used.  The attributes cached in this File will
// be updated.  To avoid a round trip with the server, use the already cached
// FileStat.
//
// synchronize i/o ops
func (f *File) Stat() (attrs *FileStat, err error) {

	if 0 == len(f.handle) {
		attrs, err = f.client.stat(f.pathN)
	} else {
		attrs, err = f.client.fstat(f.handle)
	}
	if err != nil {
		return
	}
	f.attrs = *attrs
	return
}

// implement io.ReaderFrom
//
// Copy from io.Reader into this file starting at current offset.
//
// Reads a sector (at most MaxPacket bytes) from r, writes it, then waits for
// the server's ack before reading the next sector - no pipelining across
// sectors.
//
// synchronize i/o ops
func (f *File) ReadFrom(r io.Reader) (nread int64, err error) {
	if 0 == len(f.handle) {
		return 0, os.ErrClosed
	}

	buff := make([]byte, f.client.maxPacket)
	offset := f.offset

	for {
		var amount int
		amount, err = io.ReadFull(r, buff)
		if amount > 0 {
			werr := f.writeChunk(offset, buff[:amount])
			nread += int64(amount)
			offset += int64(amount)
			if werr != nil {
				err = werr
				break
			}
		}
		if err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				err = nil
			}
			break
		}
	}

	f.offset = offset
	f.attrs.Size += uint64(nread)
	return
}

// implement io.Writer.  Write bytes to file, appending at current offset.
//
// synchronize i/o ops
func (f *File) Write(b []byte) (nwrote int, err error) {

	if 0 == len(f.handle) {
		return 0, os.ErrClosed
	}
	nwrote, err = f.WriteAt(b, f.offset)
	f.offset += int64(nwrote)
	f.attrs.Size += uint64(nwrote)
	return
}

// writeChunk issues a single SSH_FXP_WRITE for data (which must not exceed
// the server's max packet size) and blocks until the server's status reply.
func (f *File) writeChunk(offset int64, data []byte) (err error) {
	started := time.Now()
	req := &clientReq_{expectPkts: 1}
	req.expectType = sshFxpStatus
	req.autoResp = manualRespond_
	req.pkt = &sshFxpWritePacket{
		Handle: f.handle,
		Offset: uint64(offset),
		Length: uint32(len(data)),
		Data:   data,
	}

	responder := f.client.responder()
	req.onError = responder.onError
	req.onResp = func(id, length uint32, typ uint8) (err error) {
		conn := f.client.conn
		err = conn.ensure(int(length))
		if err != nil {
			return
		}
		switch typ {
		case sshFxpStatus:
			err = maybeError(conn.buff) // may be nil
		default:
			panic("impossible!")
		}
		return
	}

	err = f.client.conn.Request(req)
	if err != nil {
		return
	}
	err = responder.await()
	elapsed := time.Since(started)
	if elapsed > f.client.partialWriteThreshold {
		f.client.Stats.TriggerPartialWrite()
	}
	f.client.Stats.Upload(len(data), elapsed)
	return
}

// implement io.WriterAt. Write bytes to file at current offset, leaving offset
// unchanged.
//
// Writes one sector (at most MaxPacket bytes) at a time, waiting for each
// sector's ack before sending the next - no pipelining across sectors.
//
// synchronize i/o ops
func (f *File) WriteAt(dataB []byte, offset int64) (written int, err error) {

	if 0 == len(f.handle) {
		return 0, os.ErrClosed
	} else if 0 == len(dataB) {
		return
	}

	maxPkt := f.client.maxPacket
	for 0 != len(dataB) {
		amount := len(dataB)
		if amount > maxPkt {
			amount = maxPkt
		}
		err = f.writeChunk(offset, dataB[:amount])
		if err != nil {
			break
		}
		written += amount
		offset += int64(amount)
		dataB = dataB[amount:]
	}
	return
}

// implement io.Seeker
//
// Set the offset for the next Read or Write. Return the next offset.
//
// Seeking before or after the end of the file is undefined.
//
// Seeking relative to the end will call Stat if file has no cached attributes,
// otherwise, it will use the cached attributes.
//
// Seeking relative to the end of the file will follow the Client StatStrategy.
//
// synchronize i/o ops
func (f *File) Seek(offset int64, whence int) (int64, error) {
	if 0 == len(f.handle) {
		return 0, os.ErrClosed
	}

	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		offset += f.offset
	case io.SeekEnd:
		if 0 == f.attrs.Mode && NeverStat == f.client.statStrategy {
			return f.offset, errStat_
		} else if 0 == f.attrs.Mode || AlwaysStat == f.client.statStrategy {
			_, err := f.Stat()
			if err != nil {
				return f.offset, err
			}
		}
		offset += int64(f.attrs.Size)
	default:
		return f.offset, unimplementedSeekWhence(whence)
	}

	if offset < 0 {
		return f.offset, os.ErrInvalid
	}

	f.offset = offset
	return f.offset, nil
}

// Change the uid/gid of the current file.
//
// async safe
func (f *File) Chown(uid, gid int) error {
	fs := &FileStat{
		UID: uint32(uid),
		GID: uint32(gid),
	}
	if 0 == len(f.handle) {
		return f.client.setstat(f.pathN, sshFileXferAttrUIDGID, fs)
	} else {
		return f.client.fsetstat(f.handle, sshFileXferAttrUIDGID, fs)
	}
}

// Change the permissions of the current file.
//
// See Client.Chmod for details.
func (f *File) Chmod(mode os.FileMode) error {
	if 0 == len(f.handle) {
		return f.client.setstat(f.pathN, sshFileXferAttrPermissions, toChmodPerm(mode))
	} else {
		return f.client.fsetstat(f.handle, sshFileXferAttrPermissions, toChmodPerm(mode))
	}
}

// SetExtendedData sets extended attributes of the current file. It uses the
// SSH_FILEXFER_ATTR_EXTENDED flag in the setstat request.
//
// This flag provides a general extension mechanism for vendor-specific extensions.
// Names of the attributes should be a string of the format "name@domain", where "domain"
// is a valid, registered domain name and "name" identifies the method. Server
// implementations SHOULD ignore extended data fields that they do not understand.
//
// async safe
func (f *File) SetExtendedData(path string, extended []StatExtended) error {
	attrs := &FileStat{Extended: extended}
	if 0 == len(f.handle) {
		return f.client.setstat(f.pathN, sshFileXferAttrExtended, attrs)
	} else {
		return f.client.fsetstat(f.handle, sshFileXferAttrExtended, attrs)
	}
}

// Truncate sets the size of the current file. Although it may be safely assumed
// that if the size is less than its current size it will be truncated to fit,
// the SFTP protocol does not specify what behavior the server should do when setting
// size greater than the current size.
//
// async safe
func (f *File) Truncate(size int64) error {

	if 0 == len(f.handle) {
		return f.client.setstat(f.pathN, sshFileXferAttrSize, uint64(size))
	} else {
		return f.client.fsetstat(f.handle, sshFileXferAttrSize, uint64(size))
	}
}

// Request a flush of the contents of a File to stable storage.
//
// Sync requires the server to support the fsync@openssh.com extension.
//
// async safe
func (f *File) Sync() error {
	if 0 == len(f.handle) {
		return os.ErrClosed
	}
	return f.client.invokeExpectStatus(&sshFxpFsyncPacket{Handle: f.handle})
}

// Asynchronously request a flush of the contents of a File to stable storage.
//
// Requires the server to support the fsync@openssh.com extension.
//
// async safe
func (f *File) SyncAsync(req any, onComplete AsyncFunc) error {
	if 0 == len(f.handle) {
		return os.ErrClosed
	}
	return f.client.asyncExpectStatus(
		&sshFxpFsyncPacket{Handle: f.handle}, nil, req, onComplete)
}
