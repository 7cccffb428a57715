package protocol

import (
	"encoding/binary"
	"fmt"

	"school-attendance-bridge/internal/errs"
)

// Header is the fixed 8-byte command header that precedes every payload,
// both over TCP (after the 8-byte magic+length prefix) and UDP (as the
// whole datagram prefix).
type Header struct {
	Command       uint16
	Checksum      uint16
	SessionID     uint16
	ReplyCounter  uint16
}

const headerSize = 8

// tcpMagic is the fixed preamble ZKTeco puts before every TCP frame:
// the bytes 0x50 0x50 0x82 0x7d, followed by a little-endian uint32 payload length
// (header + body).
var tcpMagic = [4]byte{0x50, 0x50, 0x82, 0x7d}

// EncodeHeader serializes a Header plus body into a raw command packet
// (header+body, no transport framing).
func EncodeHeader(h Header, body []byte) []byte {
	buf := make([]byte, headerSize+len(body))
	binary.LittleEndian.PutUint16(buf[0:2], h.Command)
	binary.LittleEndian.PutUint16(buf[2:4], h.Checksum)
	binary.LittleEndian.PutUint16(buf[4:6], h.SessionID)
	binary.LittleEndian.PutUint16(buf[6:8], h.ReplyCounter)
	copy(buf[8:], body)
	return buf
}

// DecodeHeader parses the fixed 8-byte header off the front of a raw
// command packet, returning the header and the remaining body bytes.
func DecodeHeader(packet []byte) (Header, []byte, error) {
	if len(packet) < headerSize {
		return Header{}, nil, fmt.Errorf("%w: packet too short (%d bytes)", errs.ErrProtocolDecode, len(packet))
	}
	h := Header{
		Command:      binary.LittleEndian.Uint16(packet[0:2]),
		Checksum:     binary.LittleEndian.Uint16(packet[2:4]),
		SessionID:    binary.LittleEndian.Uint16(packet[4:6]),
		ReplyCounter: binary.LittleEndian.Uint16(packet[6:8]),
	}
	return h, packet[headerSize:], nil
}

// Checksum16 computes the ZKTeco 16-bit ones'-complement checksum used to
// populate Header.Checksum before a command is sent. The checksum field
// itself must be zero when computing.
func Checksum16(packet []byte) uint16 {
	var sum uint32
	n := len(packet)
	i := 0
	for i+1 < n {
		sum += uint32(binary.LittleEndian.Uint16(packet[i : i+2]))
		i += 2
	}
	if i < n {
		sum += uint32(packet[i])
	}
	for sum>>16 != 0 {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	return ^uint16(sum)
}

// WrapTCP prefixes a raw command packet with the TCP transport framing:
// 4-byte magic + 4-byte little-endian length of what follows.
func WrapTCP(packet []byte) []byte {
	out := make([]byte, 8+len(packet))
	copy(out[0:4], tcpMagic[:])
	binary.LittleEndian.PutUint32(out[4:8], uint32(len(packet)))
	copy(out[8:], packet)
	return out
}

// UnwrapTCP strips the TCP transport framing and returns the raw command
// packet (header+body) plus the declared length, so the caller can detect
// a short read and keep buffering.
func UnwrapTCP(frame []byte) (packet []byte, declaredLen uint32, err error) {
	if len(frame) < 8 {
		return nil, 0, fmt.Errorf("%w: short TCP prefix", errs.ErrProtocolDecode)
	}
	if frame[0] != tcpMagic[0] || frame[1] != tcpMagic[1] || frame[2] != tcpMagic[2] || frame[3] != tcpMagic[3] {
		return nil, 0, fmt.Errorf("%w: bad TCP magic", errs.ErrProtocolDecode)
	}
	declaredLen = binary.LittleEndian.Uint32(frame[4:8])
	return frame[8:], declaredLen, nil
}

// BuildCommand assembles a full outbound packet (header with checksum
// filled in, plus body), ready for WrapTCP or direct UDP send.
func BuildCommand(command, sessionID, replyCounter uint16, body []byte) []byte {
	h := Header{Command: command, SessionID: sessionID, ReplyCounter: replyCounter}
	raw := EncodeHeader(h, body)
	h.Checksum = Checksum16(raw)
	return EncodeHeader(h, body)
}

// IsAck reports whether a command id is one of the ACK_* replies a device
// sends back in response to a request.
func IsAck(command uint16) bool {
	switch command {
	case CmdAckOK, CmdAckError, CmdAckData, CmdAckRetry, CmdAckRepeat, CmdAckUnauth:
		return true
	default:
		return false
	}
}

// StatusError converts a non-OK ACK header into the appropriate error, or
// nil if the header indicates success.
func StatusError(h Header) error {
	switch h.Command {
	case CmdAckOK, CmdAckData:
		return nil
	case CmdAckUnauth:
		return errs.ErrAuthRejected
	default:
		return &errs.DeviceRejected{Code: int(h.Command)}
	}
}
