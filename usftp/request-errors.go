package usftp

import "fmt"

type fxerr uint32

// Error types that match the SFTP's SSH_FXP_STATUS codes. Gives you more
// direct control of the errors being sent vs. letting the library work them
// out from the standard os/io errors.
const (
	ErrSSHFxOk               = fxerr(sshFxOk)
	ErrSSHFxEOF              = fxerr(sshFxEOF)
	ErrSSHFxNoSuchFile       = fxerr(sshFxNoSuchFile)
	ErrSSHFxPermissionDenied = fxerr(sshFxPermissionDenied)
	ErrSSHFxFailure          = fxerr(sshFxFailure)
	ErrSSHFxBadMessage       = fxerr(sshFxBadMessage)
	ErrSSHFxNoConnection     = fxerr(sshFxNoConnection)
	ErrSSHFxConnectionLost   = fxerr(sshFxConnectionLost)
	ErrSSHFxOpUnsupported    = fxerr(sshFxOPUnsupported)
)

func (e fxerr) Error() string {
	switch e {
	case ErrSSHFxOk:
		return "OK"
	case ErrSSHFxEOF:
		return "EOF"
	case ErrSSHFxNoSuchFile:
		return "no such file"
	case ErrSSHFxPermissionDenied:
		return "permission denied"
	case ErrSSHFxBadMessage:
		return "bad message"
	case ErrSSHFxNoConnection:
		return "no connection"
	case ErrSSHFxConnectionLost:
		return "connection lost"
	case ErrSSHFxOpUnsupported:
		return "operation unsupported"
	default:
		return "failure"
	}
}

// StatusError wraps an SSH_FXP_STATUS response: Code is one of the sshFx*
// status constants, msg/lang are the server-supplied message and language
// tag. Most callers compare against the ErrSSHFx* sentinels via errors.Is
// rather than inspecting Code directly.
type StatusError struct {
	Code uint32
	msg  string
	lang string
}

func (e *StatusError) Error() string {
	if 0 != len(e.msg) {
		return e.msg
	}
	return fxerr(e.Code).Error()
}

// Is lets errors.Is(err, ErrSSHFxOpUnsupported) and friends match a
// *StatusError by status code without the caller needing a type assertion.
func (e *StatusError) Is(target error) bool {
	code, ok := target.(fxerr)
	return ok && uint32(code) == e.Code
}

// unexpectedPacketErr is returned when a response carries a different
// packet type than the request expected.
type unexpectedPacketErr struct {
	want, got uint8
}

func (e *unexpectedPacketErr) Error() string {
	return fmt.Sprintf("sftp: unexpected packet type %d, want %d", e.got, e.want)
}

// unexpectedVersionErr is returned when the server's INIT/VERSION exchange
// offers a protocol version other than sftpProtocolVersion.
type unexpectedVersionErr struct {
	want, got uint32
}

func (e *unexpectedVersionErr) Error() string {
	return fmt.Sprintf("sftp: unexpected server version %d, want %d", e.got, e.want)
}

// unexpectedCount is returned when an SSH_FXP_NAME response carries a
// different entry count than the request expects (REALPATH/READLINK are
// only ever supposed to return exactly one).
func unexpectedCount(want, got uint32) error {
	return fmt.Errorf("sftp: expected %d names in response, got %d", want, got)
}

// unimplementedSeekWhence is returned by File.Seek for a whence value other
// than io.SeekStart/io.SeekCurrent/io.SeekEnd.
func unimplementedSeekWhence(whence int) error {
	return fmt.Errorf("sftp: unimplemented seek whence %d", whence)
}

// sshFxFileIsADirectory is not part of the v3 status codes this client
// speaks on the wire, but some servers (Serv-U) answer REMOVE against a
// directory with it instead of sshFxFailure; kept as a local constant
// purely to recognize that response in Client.Remove.
const sshFxFileIsADirectory = 11
