package authchild

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Cmd identifies what kind of credential operation a request frame carries.
type Cmd uint32

// Command values the helper child understands.
const (
	CmdAuthenticate Cmd = iota
	CmdChauthtok
)

// MsgType tags a reply's message chunk, mirroring the front-end's PAM response
// item kinds.
type MsgType int32

// Message types a reply may carry.
const (
	MsgTypeInfo MsgType = iota
	MsgTypeError
)

// PamStatus is the status code a reply carries back to the auth pipeline.
type PamStatus int32

// Status values understood by HandlePAM.
const (
	PamSuccess PamStatus = iota
	PamAuthFailed
	PamAuthUnavailable
	PamSystemError
)

// maxChildMsgSize bounds a reply frame; anything larger is treated as malformed.
const maxChildMsgSize = 64 * 1024

// minReplyLen is the fixed portion of a reply: pam_status, msg_type, msg_len.
const minReplyLen = 12

// ErrMalformedReply is returned when a reply frame fails the length invariant in
// the wire format (len < 12, or 12+msg_len != len).
var ErrMalformedReply = errors.New("malformed child reply")

// Request is the decoded form of the §6.2 request frame.
type Request struct {
	Cmd        Cmd
	UPN        string
	Authtok    []byte
	NewAuthtok []byte // only meaningful when Cmd == CmdChauthtok
}

// EncodeRequest writes the little-endian request frame for req.
func EncodeRequest(req Request) []byte {
	var buf bytes.Buffer

	writeU32(&buf, uint32(req.Cmd))
	writeLenPrefixed(&buf, []byte(req.UPN))
	writeLenPrefixed(&buf, req.Authtok)

	if req.Cmd == CmdChauthtok {
		writeLenPrefixed(&buf, req.NewAuthtok)
	}

	return buf.Bytes()
}

// DecodeRequest parses a request frame previously produced by EncodeRequest.
func DecodeRequest(data []byte) (Request, error) {
	r := bytes.NewReader(data)

	cmd, err := readU32(r)
	if err != nil {
		return Request{}, fmt.Errorf("decode request cmd: %w", err)
	}

	upn, err := readLenPrefixed(r)
	if err != nil {
		return Request{}, fmt.Errorf("decode request upn: %w", err)
	}

	authtok, err := readLenPrefixed(r)
	if err != nil {
		return Request{}, fmt.Errorf("decode request authtok: %w", err)
	}

	req := Request{Cmd: Cmd(cmd), UPN: string(upn), Authtok: authtok}

	if req.Cmd == CmdChauthtok {
		newAuthtok, err := readLenPrefixed(r)
		if err != nil {
			return Request{}, fmt.Errorf("decode request newauthtok: %w", err)
		}

		req.NewAuthtok = newAuthtok
	}

	return req, nil
}

// Reply is the decoded form of the §6.2 reply frame.
type Reply struct {
	Status  PamStatus
	MsgType MsgType
	Message string
}

// EncodeReply writes the little-endian reply frame for rep.
func EncodeReply(rep Reply) []byte {
	var buf bytes.Buffer

	writeI32(&buf, int32(rep.Status))
	writeI32(&buf, int32(rep.MsgType))
	writeI32(&buf, int32(len(rep.Message)))
	buf.WriteString(rep.Message)

	return buf.Bytes()
}

// DecodeReply parses and validates a reply frame per the §6.2 length invariant.
func DecodeReply(data []byte) (Reply, error) {
	if len(data) < minReplyLen {
		return Reply{}, fmt.Errorf("%w: length %d below minimum %d", ErrMalformedReply, len(data), minReplyLen)
	}

	r := bytes.NewReader(data)

	status, err := readI32(r)
	if err != nil {
		return Reply{}, fmt.Errorf("%w: status: %v", ErrMalformedReply, err)
	}

	msgType, err := readI32(r)
	if err != nil {
		return Reply{}, fmt.Errorf("%w: msg_type: %v", ErrMalformedReply, err)
	}

	msgLen, err := readI32(r)
	if err != nil {
		return Reply{}, fmt.Errorf("%w: msg_len: %v", ErrMalformedReply, err)
	}

	if msgLen < 0 || minReplyLen+int(msgLen) != len(data) {
		return Reply{}, fmt.Errorf("%w: msg_len %d inconsistent with frame length %d", ErrMalformedReply, msgLen, len(data))
	}

	msg := make([]byte, msgLen)
	if _, err := io.ReadFull(r, msg); err != nil {
		return Reply{}, fmt.Errorf("%w: message body: %v", ErrMalformedReply, err)
	}

	return Reply{Status: PamStatus(status), MsgType: MsgType(msgType), Message: string(msg)}, nil
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	buf.Write(tmp[:])
}

func writeI32(buf *bytes.Buffer, v int32) {
	writeU32(buf, uint32(v)) //nolint:gosec // reinterpret sign bits, matches wire format
}

func writeLenPrefixed(buf *bytes.Buffer, data []byte) {
	writeU32(buf, uint32(len(data))) //nolint:gosec // frame lengths fit in u32 in practice
	buf.Write(data)
}

func readU32(r *bytes.Reader) (uint32, error) {
	var tmp [4]byte
	if _, err := io.ReadFull(r, tmp[:]); err != nil {
		return 0, fmt.Errorf("read u32: %w", err)
	}

	return binary.LittleEndian.Uint32(tmp[:]), nil
}

func readI32(r *bytes.Reader) (int32, error) {
	v, err := readU32(r)

	return int32(v), err //nolint:gosec // reinterpret sign bits, matches wire format
}

func readLenPrefixed(r *bytes.Reader) ([]byte, error) {
	n, err := readU32(r)
	if err != nil {
		return nil, err
	}

	if n > maxChildMsgSize {
		return nil, fmt.Errorf("field length %d exceeds max %d", n, maxChildMsgSize)
	}

	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("read field body: %w", err)
	}

	return data, nil
}
