package usftp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
)

// SFTPv3 packet types (draft-ietf-secsh-filexfer-02, section 3), plus the
// vendor extensions this client speaks. Not present in the upstream library
// this package was adapted from — it only ever referenced these bare,
// never defined them, so they are pinned here against the wire spec.
const (
	sshFxpInit     = 1
	sshFxpVersion  = 2
	sshFxpOpen     = 3
	sshFxpClose    = 4
	sshFxpRead     = 5
	sshFxpWrite    = 6
	sshFxpLstat    = 7
	sshFxpFstat    = 8
	sshFxpSetstat  = 9
	sshFxpFsetstat = 10
	sshFxpOpendir  = 11
	sshFxpReaddir  = 12
	sshFxpRemove   = 13
	sshFxpMkdir    = 14
	sshFxpRmdir    = 15
	sshFxpRealpath = 16
	sshFxpStat     = 17
	sshFxpRename   = 18
	sshFxpReadlink = 19
	sshFxpSymlink  = 20

	sshFxpExtended = 200

	sshFxpStatus        = 101
	sshFxpHandle        = 102
	sshFxpData          = 103
	sshFxpName          = 104
	sshFxpAttrs         = 105
	sshFxpExtendedReply = 201

	// vendor extensions, reserved range 220-224. These are not part of
	// the public SFTPv3 draft; carried as their own packet types rather
	// than SSH_FXP_EXTENDED sub-requests.
	sshFxpCreatefile   = 220
	sshFxpMulticlose   = 221
	sshFxpResetdir     = 222
	sshFxpAppend       = 223
	sshFxpReaddirShort = 224

	// sshFxpStat is overloaded as STAT_VERSION_0 in protocol version 3.
	sshFxpStatVersion0 = sshFxpStat
)

// createfile's returned handle has its high bit reserved to flag "this
// handle names a directory"; must be masked out before use elsewhere.
const sshFxpCreatefileDirFlag = 0x40000000

// SSH_FXP_STATUS codes.
const (
	sshFxOk               = 0
	sshFxEOF              = 1
	sshFxNoSuchFile       = 2
	sshFxPermissionDenied = 3
	sshFxFailure          = 4
	sshFxBadMessage       = 5
	sshFxNoConnection     = 6
	sshFxConnectionLost   = 7
	sshFxOPUnsupported    = 8
)

// SFTPv3 open(2) pflags.
const (
	sshFxfRead   = 0x00000001
	sshFxfWrite  = 0x00000002
	sshFxfAppend = 0x00000004
	sshFxfCreat  = 0x00000008
	sshFxfTrunc  = 0x00000010
	sshFxfExcl   = 0x00000020
)

var (
	errShortPacket = errors.New("packet too short")

	bigEnd_ = binary.BigEndian
)

func marshalString(b []byte, v string) []byte {
	return append(bigEnd_.AppendUint32(b, uint32(len(v))), v...)
}

func marshalFileInfo(b []byte, fi os.FileInfo) []byte {
	// attributes variable struct, and also variable per protocol version
	// spec version 3 attributes:
	// uint32   flags
	// uint64   size           present only if flag SSH_FILEXFER_ATTR_SIZE
	// uint32   uid            present only if flag SSH_FILEXFER_ATTR_UIDGID
	// uint32   gid            present only if flag SSH_FILEXFER_ATTR_UIDGID
	// uint32   permissions    present only if flag SSH_FILEXFER_ATTR_PERMISSIONS
	// uint32   atime          present only if flag SSH_FILEXFER_ACMODTIME
	// uint32   mtime          present only if flag SSH_FILEXFER_ACMODTIME
	// uint32   extended_count present only if flag SSH_FILEXFER_ATTR_EXTENDED
	// string   extended_type
	// string   extended_data
	// ...      more extended data (extended_type - extended_data pairs),
	// 	   so that number of pairs equals extended_count

	flags, fileStat := fileStatFromInfo(fi)

	b = bigEnd_.AppendUint32(b, flags)

	return marshalFileStat(b, flags, fileStat)
}

func marshalFileStat(b []byte, flags uint32, fileStat *FileStat) []byte {
	if flags&sshFileXferAttrSize != 0 {
		b = bigEnd_.AppendUint64(b, fileStat.Size)
	}
	if flags&sshFileXferAttrUIDGID != 0 {
		b = bigEnd_.AppendUint32(b, fileStat.UID)
		b = bigEnd_.AppendUint32(b, fileStat.GID)
	}
	if flags&sshFileXferAttrPermissions != 0 {
		b = bigEnd_.AppendUint32(b, fileStat.Mode)
	}
	if flags&sshFileXferAttrACmodTime != 0 {
		b = bigEnd_.AppendUint32(b, fileStat.Atime)
		b = bigEnd_.AppendUint32(b, fileStat.Mtime)
	}

	if flags&sshFileXferAttrExtended != 0 {
		b = bigEnd_.AppendUint32(b, uint32(len(fileStat.Extended)))

		for _, attr := range fileStat.Extended {
			b = marshalString(b, attr.ExtType)
			b = marshalString(b, attr.ExtData)
		}
	}

	return b
}

func marshal(b []byte, v any) []byte {
	switch v := v.(type) {
	case nil:
		return b
	case uint8:
		return append(b, v)
	case uint32:
		return bigEnd_.AppendUint32(b, v)
	case uint64:
		return bigEnd_.AppendUint64(b, v)
	case string:
		return marshalString(b, v)
	case []byte:
		return append(b, v...)
	case os.FileInfo:
		return marshalFileInfo(b, v)
	default:
		switch d := reflect.ValueOf(v); d.Kind() {
		case reflect.Struct:
			for i, n := 0, d.NumField(); i < n; i++ {
				b = marshal(b, d.Field(i).Interface())
			}
			return b
		case reflect.Slice:
			for i, n := 0, d.Len(); i < n; i++ {
				b = marshal(b, d.Index(i).Interface())
			}
			return b
		default:
			panic(fmt.Sprintf("marshal(%#v): cannot handle type %T", v, v))
		}
	}
}

func unmarshalUint32(b []byte) (v uint32, outB []byte) {
	v = binary.BigEndian.Uint32(b)
	return v, b[4:]
}

func unmarshalUint32Safe(b []byte) (uint32, []byte, error) {
	var v uint32
	if len(b) < 4 {
		return 0, nil, errShortPacket
	}
	v, b = unmarshalUint32(b)
	return v, b, nil
}

func unmarshalUint64(b []byte) (v uint64, outB []byte) {
	v = binary.BigEndian.Uint64(b)
	return v, b[8:]
}

func unmarshalUint64Safe(b []byte) (uint64, []byte, error) {
	var v uint64
	if len(b) < 8 {
		return 0, nil, errShortPacket
	}
	v, b = unmarshalUint64(b)
	return v, b, nil
}

func unmarshalString(b []byte) (string, []byte) {
	n, b := unmarshalUint32(b)
	return string(b[:n]), b[n:]
}

func unmarshalStringSafe(b []byte) (string, []byte, error) {
	n, b, err := unmarshalUint32Safe(b)
	if err != nil {
		return "", nil, err
	}
	if int64(n) > int64(len(b)) {
		return "", nil, errShortPacket
	}
	return string(b[:n]), b[n:], nil
}

func unmarshalAttrs(b []byte) (*FileStat, []byte, error) {
	flags, b, err := unmarshalUint32Safe(b)
	if err != nil {
		return nil, b, err
	}
	return unmarshalFileStat(flags, b)
}

func unmarshalFileStat(flags uint32, b []byte) (*FileStat, []byte, error) {
	var fs FileStat
	var err error

	if flags&sshFileXferAttrSize == sshFileXferAttrSize {
		fs.Size, b, err = unmarshalUint64Safe(b)
		if err != nil {
			return nil, b, err
		}
	}
	if flags&sshFileXferAttrUIDGID == sshFileXferAttrUIDGID {
		fs.UID, b, err = unmarshalUint32Safe(b)
		if err != nil {
			return nil, b, err
		}
		fs.GID, b, err = unmarshalUint32Safe(b)
		if err != nil {
			return nil, b, err
		}
	}
	if flags&sshFileXferAttrPermissions == sshFileXferAttrPermissions {
		fs.Mode, b, err = unmarshalUint32Safe(b)
		if err != nil {
			return nil, b, err
		}
	}
	if flags&sshFileXferAttrACmodTime == sshFileXferAttrACmodTime {
		fs.Atime, b, err = unmarshalUint32Safe(b)
		if err != nil {
			return nil, b, err
		}
		fs.Mtime, b, err = unmarshalUint32Safe(b)
		if err != nil {
			return nil, b, err
		}
	}
	if flags&sshFileXferAttrExtended == sshFileXferAttrExtended {
		var count uint32
		count, b, err = unmarshalUint32Safe(b)
		if err != nil {
			return nil, b, err
		}

		ext := make([]StatExtended, count)
		for i := uint32(0); i < count; i++ {
			var typ string
			var data string
			typ, b, err = unmarshalStringSafe(b)
			if err != nil {
				return nil, b, err
			}
			data, b, err = unmarshalStringSafe(b)
			if err != nil {
				return nil, b, err
			}
			ext[i] = StatExtended{
				ExtType: typ,
				ExtData: data,
			}
		}
		fs.Extended = ext
	}
	return &fs, b, nil
}

func unmarshalStatus(b []byte) error {
	code, b := unmarshalUint32(b)
	msg, b, _ := unmarshalStringSafe(b)
	lang, _, _ := unmarshalStringSafe(b)
	return &StatusError{
		Code: code,
		msg:  msg,
		lang: lang,
	}
}

type (
	appendable_ interface {
		appendTo([]byte) ([]byte, error)
	}

	idAwarePkt_ interface {
		appendable_
		id() uint32
		setId(id uint32)
	}

	idPkt_ struct {
		ID uint32
	}
)

func (p *idPkt_) id() uint32      { return p.ID }
func (p *idPkt_) setId(id uint32) { p.ID = id }

// sendPacket marshals pkt according to RFC 4234, returning the total wire
// size written (including the 4-byte length prefix) for statistics.
func sendPacket(w io.Writer, buff []byte, pkt appendable_) (sent int, err error) {
	outBuff, err := pkt.appendTo(buff[4:4])
	if err != nil {
		return 0, fmt.Errorf("binary marshaller failed: %w", err)
	}
	length := len(outBuff)
	outBuff = buff[:4+len(outBuff)]
	binary.BigEndian.PutUint32(outBuff[:4], uint32(length))

	_, err = w.Write(outBuff)
	if err != nil {
		return 0, fmt.Errorf("failed to send packet: %w", err)
	}
	return len(outBuff), nil
}

// sendWritePacket marshals a write packet whose Data payload is appended
// after the header rather than being part of appendTo's output, so the
// length prefix has to account for it separately.
func sendWritePacket(w io.Writer, buff []byte, pkt *sshFxpWritePacket) (sent int, err error) {
	hdr, err := pkt.appendTo(buff[4:4])
	if err != nil {
		return 0, fmt.Errorf("binary marshaller failed: %w", err)
	}
	length := len(hdr) + len(pkt.Data)
	outBuff := buff[:4+len(hdr)]
	binary.BigEndian.PutUint32(outBuff[:4], uint32(length))

	_, err = w.Write(outBuff)
	if err != nil {
		return 0, fmt.Errorf("failed to send packet: %w", err)
	}
	_, err = w.Write(pkt.Data)
	if err != nil {
		return 0, fmt.Errorf("failed to send packet: %w", err)
	}
	return len(outBuff) + len(pkt.Data), nil
}

type extensionPair struct {
	Name string
	Data string
}

func unmarshalExtensionPair(b []byte) (extensionPair, []byte, error) {
	var ep extensionPair
	var err error
	ep.Name, b, err = unmarshalStringSafe(b)
	if err != nil {
		return ep, b, err
	}
	ep.Data, b, err = unmarshalStringSafe(b)
	return ep, b, err
}

type sshFxInitPacket struct {
	Version    uint32
	Extensions []extensionPair
}

func (p *sshFxInitPacket) appendTo(inB []byte) (outB []byte, err error) {
	outB = append(inB, sshFxpInit)
	outB = bigEnd_.AppendUint32(outB, p.Version)

	for _, e := range p.Extensions {
		outB = marshalString(outB, e.Name)
		outB = marshalString(outB, e.Data)
	}
	return
}

func (p *sshFxInitPacket) UnmarshalBinary(b []byte) error {
	var err error
	if p.Version, b, err = unmarshalUint32Safe(b); err != nil {
		return err
	}
	for len(b) > 0 {
		var ep extensionPair
		ep, b, err = unmarshalExtensionPair(b)
		if err != nil {
			return err
		}
		p.Extensions = append(p.Extensions, ep)
	}
	return nil
}

type sshFxVersionPacket struct {
	Version    uint32
	Extensions []sshExtensionPair
}

type sshExtensionPair struct {
	Name, Data string
}

func (p *sshFxVersionPacket) appendTo(inB []byte) (outB []byte, err error) {
	outB = append(inB, sshFxpVersion)
	outB = bigEnd_.AppendUint32(outB, p.Version)

	for _, e := range p.Extensions {
		outB = marshalString(outB, e.Name)
		outB = marshalString(outB, e.Data)
	}
	return
}

func (p *sshFxVersionPacket) UnmarshalBinary(b []byte) error {
	var err error
	if p.Version, b, err = unmarshalUint32Safe(b); err != nil {
		return err
	}
	for len(b) > 0 {
		var ep sshExtensionPair
		ep.Name, b, err = unmarshalStringSafe(b)
		if err != nil {
			return err
		}
		ep.Data, b, err = unmarshalStringSafe(b)
		if err != nil {
			return err
		}
		p.Extensions = append(p.Extensions, ep)
	}
	return nil
}

func marshalIDStringPacket(
	packetType byte,
	id uint32,
	str string,
	inB []byte,
) (outB []byte, err error) {

	outB = append(inB, packetType)
	outB = bigEnd_.AppendUint32(outB, id)
	outB = marshalString(outB, str)
	return
}

func unmarshalIDString(b []byte, id *uint32, str *string) error {
	var err error
	*id, b, err = unmarshalUint32Safe(b)
	if err != nil {
		return err
	}
	*str, _, err = unmarshalStringSafe(b)
	return err
}

type sshFxpReaddirPacket struct {
	idPkt_
	Handle string
}

func (p *sshFxpReaddirPacket) appendTo(inB []byte) ([]byte, error) {
	return marshalIDStringPacket(sshFxpReaddir, p.ID, p.Handle, inB)
}

func (p *sshFxpReaddirPacket) UnmarshalBinary(b []byte) error {
	return unmarshalIDString(b, &p.ID, &p.Handle)
}

// sshFxpReaddirShortPacket is the DIRLIGO_READDIR_SHORT vendor extension
// (type 224): same wire shape as SSH_FXP_READDIR but answered with
// repeated SSH_FXP_NAME packets rather than one batch.
type sshFxpReaddirShortPacket struct {
	idPkt_
	Handle string
}

func (p *sshFxpReaddirShortPacket) appendTo(inB []byte) ([]byte, error) {
	return marshalIDStringPacket(sshFxpReaddirShort, p.ID, p.Handle, inB)
}

// sshFxpResetdirPacket is the DIRLIGO_RESETDIR vendor extension (type 222):
// rewinds the server-side directory iterator for handle so it can be
// re-listed from the start.
type sshFxpResetdirPacket struct {
	idPkt_
	Handle string
}

func (p *sshFxpResetdirPacket) appendTo(inB []byte) ([]byte, error) {
	return marshalIDStringPacket(sshFxpResetdir, p.ID, p.Handle, inB)
}

// sshFxpMulticlosePacket is the DIRLIGO_MULTICLOSE vendor extension (type
// 221): a count followed by that many 4-byte handles, closed as one unit.
type sshFxpMulticlosePacket struct {
	idPkt_
	Handles []uint32
}

func (p *sshFxpMulticlosePacket) appendTo(inB []byte) (outB []byte, err error) {
	outB = append(inB, sshFxpMulticlose)
	outB = bigEnd_.AppendUint32(outB, p.ID)
	outB = bigEnd_.AppendUint32(outB, uint32(len(p.Handles)))
	for _, h := range p.Handles {
		outB = bigEnd_.AppendUint32(outB, h)
	}
	return
}

type sshFxpOpendirPacket struct {
	idPkt_
	Path string
}

func (p *sshFxpOpendirPacket) appendTo(inB []byte) ([]byte, error) {
	return marshalIDStringPacket(sshFxpOpendir, p.ID, p.Path, inB)
}

func (p *sshFxpOpendirPacket) UnmarshalBinary(b []byte) error {
	return unmarshalIDString(b, &p.ID, &p.Path)
}

type sshFxpLstatPacket struct {
	idPkt_
	Path string
}

func (p *sshFxpLstatPacket) appendTo(inB []byte) ([]byte, error) {
	return marshalIDStringPacket(sshFxpLstat, p.ID, p.Path, inB)
}

func (p *sshFxpLstatPacket) UnmarshalBinary(b []byte) error {
	return unmarshalIDString(b, &p.ID, &p.Path)
}

// sshFxpStatPacket is sent as SSH_FXP_STAT (type 17), which doubles as
// SSH_FXP_STAT_VERSION_0 in protocol version 3.
type sshFxpStatPacket struct {
	idPkt_
	Path string
}

func (p *sshFxpStatPacket) appendTo(inB []byte) ([]byte, error) {
	return marshalIDStringPacket(sshFxpStatVersion0, p.ID, p.Path, inB)
}

func (p *sshFxpStatPacket) UnmarshalBinary(b []byte) error {
	return unmarshalIDString(b, &p.ID, &p.Path)
}

type sshFxpFstatPacket struct {
	idPkt_
	Handle string
}

func (p *sshFxpFstatPacket) appendTo(inB []byte) ([]byte, error) {
	return marshalIDStringPacket(sshFxpFstat, p.ID, p.Handle, inB)
}

func (p *sshFxpFstatPacket) UnmarshalBinary(b []byte) error {
	return unmarshalIDString(b, &p.ID, &p.Handle)
}

type sshFxpClosePacket struct {
	idPkt_
	Handle string
}

func (p *sshFxpClosePacket) appendTo(inB []byte) ([]byte, error) {
	return marshalIDStringPacket(sshFxpClose, p.ID, p.Handle, inB)
}

func (p *sshFxpClosePacket) UnmarshalBinary(b []byte) error {
	return unmarshalIDString(b, &p.ID, &p.Handle)
}

type sshFxpRemovePacket struct {
	idPkt_
	Filename string
}

func (p *sshFxpRemovePacket) appendTo(inB []byte) ([]byte, error) {
	return marshalIDStringPacket(sshFxpRemove, p.ID, p.Filename, inB)
}

func (p *sshFxpRemovePacket) UnmarshalBinary(b []byte) error {
	return unmarshalIDString(b, &p.ID, &p.Filename)
}

type sshFxpRmdirPacket struct {
	idPkt_
	Path string
}

func (p *sshFxpRmdirPacket) appendTo(inB []byte) ([]byte, error) {
	return marshalIDStringPacket(sshFxpRmdir, p.ID, p.Path, inB)
}

func (p *sshFxpRmdirPacket) UnmarshalBinary(b []byte) error {
	return unmarshalIDString(b, &p.ID, &p.Path)
}

type sshFxpSymlinkPacket struct {
	idPkt_

	// The order of the arguments to the SSH_FXP_SYMLINK method was inadvertently reversed.
	// Unfortunately, the reversal was not noticed until the server was widely deployed.
	// Covered in Section 4.1 of https://github.com/openssh/openssh-portable/blob/master/PROTOCOL

	Targetpath string
	Linkpath   string
}

func (p *sshFxpSymlinkPacket) appendTo(inB []byte) (outB []byte, err error) {
	outB = append(inB, sshFxpSymlink)
	outB = bigEnd_.AppendUint32(outB, p.ID)
	outB = marshalString(outB, p.Targetpath)
	outB = marshalString(outB, p.Linkpath)
	return
}

func (p *sshFxpSymlinkPacket) UnmarshalBinary(b []byte) error {
	var err error
	if p.ID, b, err = unmarshalUint32Safe(b); err != nil {
		return err
	} else if p.Targetpath, b, err = unmarshalStringSafe(b); err != nil {
		return err
	} else if p.Linkpath, _, err = unmarshalStringSafe(b); err != nil {
		return err
	}
	return nil
}

type sshFxpHardlinkPacket struct {
	idPkt_
	Oldpath string
	Newpath string
}

func (p *sshFxpHardlinkPacket) appendTo(inB []byte) (outB []byte, err error) {
	const ext = "hardlink@openssh.com"

	outB = append(inB, sshFxpExtended)
	outB = bigEnd_.AppendUint32(outB, p.ID)
	outB = marshalString(outB, ext)
	outB = marshalString(outB, p.Oldpath)
	outB = marshalString(outB, p.Newpath)
	return
}

type sshFxpReadlinkPacket struct {
	idPkt_
	Path string
}

func (p *sshFxpReadlinkPacket) appendTo(inB []byte) ([]byte, error) {
	return marshalIDStringPacket(sshFxpReadlink, p.ID, p.Path, inB)
}

func (p *sshFxpReadlinkPacket) UnmarshalBinary(b []byte) error {
	return unmarshalIDString(b, &p.ID, &p.Path)
}

type sshFxpRealpathPacket struct {
	idPkt_
	Path string
}

func (p *sshFxpRealpathPacket) appendTo(inB []byte) ([]byte, error) {
	return marshalIDStringPacket(sshFxpRealpath, p.ID, p.Path, inB)
}

func (p *sshFxpRealpathPacket) UnmarshalBinary(b []byte) error {
	return unmarshalIDString(b, &p.ID, &p.Path)
}

type sshFxpOpenPacket struct {
	idPkt_
	Path   string
	Pflags uint32
	Flags  uint32
	Attrs  interface{}
}

func (p *sshFxpOpenPacket) appendTo(inB []byte) (outB []byte, err error) {

	outB = append(inB, sshFxpOpen)
	outB = bigEnd_.AppendUint32(outB, p.ID)
	outB = marshalString(outB, p.Path)
	outB = bigEnd_.AppendUint32(outB, p.Pflags)
	outB = bigEnd_.AppendUint32(outB, p.Flags)

	switch attrs := p.Attrs.(type) {
	case []byte:
		return // may as well short-ciruit this case.
	case os.FileInfo:
		_, fs := fileStatFromInfo(attrs) // we throw away the flags, and override with those in packet.
		return marshalFileStat(outB, p.Flags, fs), nil
	case *FileStat:
		return marshalFileStat(outB, p.Flags, attrs), nil
	}

	return marshal(outB, p.Attrs), nil
}

func (p *sshFxpOpenPacket) UnmarshalBinary(b []byte) error {
	var err error
	if p.ID, b, err = unmarshalUint32Safe(b); err != nil {
		return err
	} else if p.Path, b, err = unmarshalStringSafe(b); err != nil {
		return err
	} else if p.Pflags, b, err = unmarshalUint32Safe(b); err != nil {
		return err
	} else if p.Flags, b, err = unmarshalUint32Safe(b); err != nil {
		return err
	}
	p.Attrs = b
	return nil
}

// sshFxpCreatefilePacket is the DIRLIGO_CREATEFILE vendor extension (type
// 220): combines open-or-create with an explicit share mode and an
// isDir hint, returning a handle with the directory flag folded into its
// high bit (see sshFxpCreatefileDirFlag).
type sshFxpCreatefilePacket struct {
	idPkt_
	Path   string
	Access uint32
	Shared uint32
	Create uint32
	Flags  uint32
	IsDir  bool
}

func (p *sshFxpCreatefilePacket) appendTo(inB []byte) (outB []byte, err error) {
	outB = append(inB, sshFxpCreatefile)
	outB = bigEnd_.AppendUint32(outB, p.ID)
	outB = marshalString(outB, p.Path)
	outB = bigEnd_.AppendUint32(outB, p.Access)
	outB = bigEnd_.AppendUint32(outB, p.Shared)
	outB = bigEnd_.AppendUint32(outB, p.Create)
	outB = bigEnd_.AppendUint32(outB, p.Flags)
	if p.IsDir {
		outB = append(outB, 1)
	} else {
		outB = append(outB, 0)
	}
	return
}

type sshFxpReadPacket struct {
	idPkt_
	Len    uint32
	Offset uint64
	Handle string
}

func (p *sshFxpReadPacket) appendTo(inB []byte) (outB []byte, err error) {
	outB = append(inB, sshFxpRead)
	outB = bigEnd_.AppendUint32(outB, p.ID)
	outB = marshalString(outB, p.Handle)
	outB = bigEnd_.AppendUint64(outB, p.Offset)
	outB = bigEnd_.AppendUint32(outB, p.Len)
	return
}

func (p *sshFxpReadPacket) UnmarshalBinary(b []byte) error {
	var err error
	if p.ID, b, err = unmarshalUint32Safe(b); err != nil {
		return err
	} else if p.Handle, b, err = unmarshalStringSafe(b); err != nil {
		return err
	} else if p.Offset, b, err = unmarshalUint64Safe(b); err != nil {
		return err
	} else if p.Len, _, err = unmarshalUint32Safe(b); err != nil {
		return err
	}
	return nil
}

type sshFxpRenamePacket struct {
	idPkt_
	Oldpath string
	Newpath string
}

func (p *sshFxpRenamePacket) appendTo(inB []byte) (outB []byte, err error) {
	outB = append(inB, sshFxpRename)
	outB = bigEnd_.AppendUint32(outB, p.ID)
	outB = marshalString(outB, p.Oldpath)
	outB = marshalString(outB, p.Newpath)
	return
}
func (p *sshFxpRenamePacket) UnmarshalBinary(b []byte) error {
	var err error
	if p.ID, b, err = unmarshalUint32Safe(b); err != nil {
		return err
	} else if p.Oldpath, b, err = unmarshalStringSafe(b); err != nil {
		return err
	} else if p.Newpath, _, err = unmarshalStringSafe(b); err != nil {
		return err
	}
	return nil
}

type sshFxpPosixRenamePacket struct {
	idPkt_
	Oldpath string
	Newpath string
}

func (p *sshFxpPosixRenamePacket) appendTo(inB []byte) (outB []byte, err error) {
	const ext = "posix-rename@openssh.com"

	outB = append(inB, sshFxpExtended)
	outB = bigEnd_.AppendUint32(outB, p.ID)
	outB = marshalString(outB, ext)
	outB = marshalString(outB, p.Oldpath)
	outB = marshalString(outB, p.Newpath)
	return
}

type sshFxpWritePacket struct {
	idPkt_
	Length uint32
	Offset uint64
	Handle string
	Data   []byte
}

func (p *sshFxpWritePacket) sizeBeforeData() int {
	// 1 (type) + 4 (id) + 4 (handle len) + len(handle) + 8 (offset) + 4 (datalen)
	return 21 + len(p.Handle)
}

func (p *sshFxpWritePacket) appendTo(inB []byte) (outB []byte, err error) {

	outB = append(inB, sshFxpWrite)
	outB = bigEnd_.AppendUint32(outB, p.ID)
	outB = marshalString(outB, p.Handle)
	outB = bigEnd_.AppendUint64(outB, p.Offset)
	outB = bigEnd_.AppendUint32(outB, p.Length)
	return
}

func (p *sshFxpWritePacket) UnmarshalBinary(b []byte) error {
	var err error
	if p.ID, b, err = unmarshalUint32Safe(b); err != nil {
		return err
	} else if p.Handle, b, err = unmarshalStringSafe(b); err != nil {
		return err
	} else if p.Offset, b, err = unmarshalUint64Safe(b); err != nil {
		return err
	} else if p.Length, b, err = unmarshalUint32Safe(b); err != nil {
		return err
	} else if uint32(len(b)) < p.Length {
		return errShortPacket
	}

	p.Data = b[:p.Length]
	return nil
}

// sshFxpAppendPacket is the DIRLIGO_APPEND vendor extension (type 223).
// Declared on the wire but never implemented by any known peer; Client
// rejects it outright with OpUnsupported rather than emit a request no
// server will answer meaningfully.
type sshFxpAppendPacket struct {
	idPkt_
	Handle string
	Data   []byte
}

func (p *sshFxpAppendPacket) appendTo(inB []byte) (outB []byte, err error) {
	outB = append(inB, sshFxpAppend)
	outB = bigEnd_.AppendUint32(outB, p.ID)
	outB = marshalString(outB, p.Handle)
	outB = bigEnd_.AppendUint32(outB, uint32(len(p.Data)))
	outB = append(outB, p.Data...)
	return
}

type sshFxpMkdirPacket struct {
	idPkt_
	Flags uint32 // ignored
	Path  string
}

func (p *sshFxpMkdirPacket) appendTo(inB []byte) (outB []byte, err error) {
	outB = append(inB, sshFxpMkdir)
	outB = bigEnd_.AppendUint32(outB, p.ID)
	outB = marshalString(outB, p.Path)
	outB = bigEnd_.AppendUint32(outB, p.Flags)
	return
}

func (p *sshFxpMkdirPacket) UnmarshalBinary(b []byte) error {
	var err error
	if p.ID, b, err = unmarshalUint32Safe(b); err != nil {
		return err
	} else if p.Path, b, err = unmarshalStringSafe(b); err != nil {
		return err
	} else if p.Flags, _, err = unmarshalUint32Safe(b); err != nil {
		return err
	}
	return nil
}

type sshFxpSetstatPacket struct {
	idPkt_
	Flags uint32
	Path  string
	Attrs interface{}
}

type sshFxpFsetstatPacket struct {
	idPkt_
	Flags  uint32
	Handle string
	Attrs  interface{}
}

func (p *sshFxpSetstatPacket) appendTo(inB []byte) (outB []byte, err error) {
	outB = append(inB, sshFxpSetstat)
	outB = bigEnd_.AppendUint32(outB, p.ID)
	outB = marshalString(outB, p.Path)
	outB = bigEnd_.AppendUint32(outB, p.Flags)

	switch attrs := p.Attrs.(type) {
	case []byte:
		return // may as well short-ciruit this case.
	case os.FileInfo:
		_, fs := fileStatFromInfo(attrs) // we throw away the flags, and override with those in packet.
		return marshalFileStat(outB, p.Flags, fs), nil
	case *FileStat:
		return marshalFileStat(outB, p.Flags, attrs), nil
	}

	return marshal(outB, p.Attrs), nil
}

func (p *sshFxpFsetstatPacket) appendTo(inB []byte) (outB []byte, err error) {
	outB = append(inB, sshFxpFsetstat)
	outB = bigEnd_.AppendUint32(outB, p.ID)
	outB = marshalString(outB, p.Handle)
	outB = bigEnd_.AppendUint32(outB, p.Flags)

	switch attrs := p.Attrs.(type) {
	case []byte:
		return // may as well short-ciruit this case.
	case os.FileInfo:
		_, fs := fileStatFromInfo(attrs) // we throw away the flags, and override with those in packet.
		return marshalFileStat(outB, p.Flags, fs), nil
	case *FileStat:
		return marshalFileStat(outB, p.Flags, attrs), nil
	}

	return marshal(outB, p.Attrs), nil
}

func (p *sshFxpSetstatPacket) UnmarshalBinary(b []byte) error {
	var err error
	if p.ID, b, err = unmarshalUint32Safe(b); err != nil {
		return err
	} else if p.Path, b, err = unmarshalStringSafe(b); err != nil {
		return err
	} else if p.Flags, b, err = unmarshalUint32Safe(b); err != nil {
		return err
	}
	p.Attrs = b
	return nil
}

func (p *sshFxpFsetstatPacket) UnmarshalBinary(b []byte) error {
	var err error
	if p.ID, b, err = unmarshalUint32Safe(b); err != nil {
		return err
	} else if p.Handle, b, err = unmarshalStringSafe(b); err != nil {
		return err
	} else if p.Flags, b, err = unmarshalUint32Safe(b); err != nil {
		return err
	}
	p.Attrs = b
	return nil
}

type sshFxpStatvfsPacket struct {
	idPkt_
	Path string
}

func (p *sshFxpStatvfsPacket) appendTo(inB []byte) (outB []byte, err error) {
	const ext = "statvfs@openssh.com"
	outB = append(inB, sshFxpExtended)
	outB = bigEnd_.AppendUint32(outB, p.ID)
	outB = marshalString(outB, ext)
	outB = marshalString(outB, p.Path)
	return
}

// A StatVFS contains statistics about a filesystem.
type StatVFS struct {
	ID      uint32
	Bsize   uint64 // file system block size
	Frsize  uint64 // fundamental fs block size
	Blocks  uint64 // number of blocks (unit f_frsize)
	Bfree   uint64 // free blocks in file system
	Bavail  uint64 // free blocks for non-root
	Files   uint64 // total file inodes
	Ffree   uint64 // free file inodes
	Favail  uint64 // free file inodes for to non-root
	Fsid    uint64 // file system id
	Flag    uint64 // bit mask of f_flag values
	Namemax uint64 // maximum filename length
}

// TotalSpace calculates the amount of total space in a filesystem.
func (p *StatVFS) TotalSpace() uint64 {
	return p.Frsize * p.Blocks
}

// FreeSpace calculates the amount of free space in a filesystem.
func (p *StatVFS) FreeSpace() uint64 {
	return p.Frsize * p.Bfree
}

// unmarshalStatVFS parses an SSH_FXP_EXTENDED_REPLY answering a
// statvfs@openssh.com request: 11 big-endian uint64 fields in a fixed
// order, no length prefix.
func unmarshalStatVFS(b []byte) (*StatVFS, error) {
	var v StatVFS
	var err error
	fields := []*uint64{
		&v.Bsize, &v.Frsize, &v.Blocks, &v.Bfree, &v.Bavail,
		&v.Files, &v.Ffree, &v.Favail, &v.Fsid, &v.Flag, &v.Namemax,
	}
	for _, f := range fields {
		*f, b, err = unmarshalUint64Safe(b)
		if err != nil {
			return nil, err
		}
	}
	return &v, nil
}

type sshFxpFsyncPacket struct {
	idPkt_
	Handle string
}

func (p *sshFxpFsyncPacket) appendTo(inB []byte) (outB []byte, err error) {
	const ext = "fsync@openssh.com"

	outB = append(inB, sshFxpExtended)
	outB = bigEnd_.AppendUint32(outB, p.ID)
	outB = marshalString(outB, ext)
	outB = marshalString(outB, p.Handle)
	return
}
