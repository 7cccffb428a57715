// Package device speaks the ZKTeco protocol over one stateful TCP
// connection per terminal. A Session is not concurrency-safe —
// internal/pool is the only caller expected to guarantee single-writer
// access.
package device

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"school-attendance-bridge/internal/errs"
	"school-attendance-bridge/internal/protocol"
	"school-attendance-bridge/internal/types"

	"github.com/sirupsen/logrus"
)

// Session owns exactly one TCP socket, one session_id assigned by the
// device on CONNECT, and a monotonically increasing reply_counter.
type Session struct {
	device types.Device
	conn   net.Conn
	reader *bufio.Reader
	log    *logrus.Entry

	sessionID    uint16
	replyCounter uint16

	opTimeout    time.Duration
	eventTimeout time.Duration
}

// New builds an unconnected Session for the given device. Call Connect
// before issuing any other operation.
func New(d types.Device, opTimeout time.Duration, log *logrus.Entry) *Session {
	return &Session{device: d, opTimeout: opTimeout, log: log}
}

// Connect dials the device, sends CMD_CONNECT, and if the device has a
// comm password, follows with CMD_AUTH. The session_id returned on CONNECT
// is retained for every subsequent packet.
func (s *Session) Connect(ctx context.Context) error {
	dialer := net.Dialer{Timeout: s.opTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", s.device.Endpoint())
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrConnectTimeout, err)
	}
	s.conn = conn
	s.reader = bufio.NewReader(conn)
	s.sessionID = 0
	s.replyCounter = 0

	s.setDeadline(s.opTimeout)
	h, _, err := s.roundTrip(protocol.CmdConnect, nil)
	if err != nil {
		s.conn.Close()
		return fmt.Errorf("%w: %v", errs.ErrConnectTimeout, err)
	}
	s.sessionID = h.SessionID

	if s.device.CommPassword != "" {
		h, _, err := s.roundTrip(protocol.CmdAuth, []byte(s.device.CommPassword))
		if err != nil || h.Command == protocol.CmdAckUnauth {
			s.conn.Close()
			return errs.ErrAuthRejected
		}
	}
	return nil
}

// Disconnect closes the socket and clears session state. Never fails; a
// close error is logged, not returned.
func (s *Session) Disconnect() {
	if s.conn == nil {
		return
	}
	if err := s.conn.Close(); err != nil {
		s.log.WithError(err).Debug("error closing device socket")
	}
	s.conn = nil
	s.sessionID = 0
	s.replyCounter = 0
}

func (s *Session) setDeadline(d time.Duration) {
	if s.conn != nil {
		s.conn.SetDeadline(time.Now().Add(d))
	}
}

// roundTrip sends one command and reads back exactly one response frame,
// advancing reply_counter on every call (including failures, matching the
// device's own reply-counter bookkeeping).
func (s *Session) roundTrip(command uint16, body []byte) (protocol.Header, []byte, error) {
	packet := protocol.BuildCommand(command, s.sessionID, s.replyCounter, body)
	s.replyCounter++
	frame := protocol.WrapTCP(packet)

	if _, err := s.conn.Write(frame); err != nil {
		return protocol.Header{}, nil, fmt.Errorf("%w: %v", errs.ErrConnLost, err)
	}

	raw, err := s.readFrame()
	if err != nil {
		return protocol.Header{}, nil, err
	}
	h, payload, err := protocol.DecodeHeader(raw)
	if err != nil {
		return protocol.Header{}, nil, err
	}
	if err := protocol.StatusError(h); err != nil {
		return h, payload, err
	}
	return h, payload, nil
}

// readFrame reads the 8-byte TCP prefix then exactly that many payload
// bytes, handling short reads from a non-blocking-sized recv buffer.
func (s *Session) readFrame() ([]byte, error) {
	prefix := make([]byte, 8)
	if _, err := readFull(s.reader, prefix); err != nil {
		return nil, fmt.Errorf("%w: %w", errs.ErrConnLost, err)
	}
	_, declaredLen, err := protocol.UnwrapTCP(prefix)
	if err != nil {
		return nil, err
	}
	body := make([]byte, declaredLen)
	if declaredLen > 0 {
		if _, err := readFull(s.reader, body); err != nil {
			return nil, fmt.Errorf("%w: %w", errs.ErrConnLost, err)
		}
	}
	return body, nil
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// TestLiveness issues get_time and reports whether the device responded.
// Never returns an error.
func (s *Session) TestLiveness(ctx context.Context) bool {
	_, err := s.GetTime(ctx)
	return err == nil
}

// GetTime returns the naive device timestamp string.
func (s *Session) GetTime(ctx context.Context) (string, error) {
	s.setDeadline(s.opTimeout)
	_, payload, err := s.roundTrip(protocol.CmdGetTime, nil)
	if err != nil {
		return "", err
	}
	if len(payload) < 4 {
		return "", fmt.Errorf("%w: short GET_TIME payload", errs.ErrProtocolDecode)
	}
	return decodeZKTime(binary.LittleEndian.Uint32(payload[:4])), nil
}

// decodeZKTime unpacks the ZKTeco packed-timestamp integer into a
// "YYYY-MM-DDTHH:MM:SS" string in the device's own (naive, no zone) clock.
func decodeZKTime(packed uint32) string {
	second := packed % 60
	packed /= 60
	minute := packed % 60
	packed /= 60
	hour := packed % 24
	packed /= 24
	day := packed%31 + 1
	packed /= 31
	month := packed%12 + 1
	packed /= 12
	year := packed + 2000
	t := time.Date(int(year), time.Month(month), int(day), int(hour), int(minute), int(second), 0, time.UTC)
	return t.Format("2006-01-02T15:04:05")
}

// GetSerial, GetDeviceName and GetFirmware each query CMD_DEVICE with a
// distinct named option string and parse the device's "key=value" ASCII
// reply, returning "" when the device doesn't populate that option.
func (s *Session) GetSerial(ctx context.Context) (string, error) {
	return s.getDeviceOption("~SerialNumber")
}
func (s *Session) GetDeviceName(ctx context.Context) (string, error) {
	return s.getDeviceOption("~DeviceName")
}
func (s *Session) GetFirmware(ctx context.Context) (string, error) {
	return s.getDeviceOption("~ZKFPVersion")
}

func (s *Session) getDeviceOption(option string) (string, error) {
	s.setDeadline(s.opTimeout)
	_, payload, err := s.roundTrip(protocol.CmdDevice, append([]byte(option), 0))
	if err != nil {
		return "", err
	}
	reply := string(trimNulls(payload))
	if idx := strings.IndexByte(reply, '='); idx >= 0 {
		return reply[idx+1:], nil
	}
	return reply, nil
}

func trimNulls(b []byte) []byte {
	i := 0
	for i < len(b) && b[i] != 0 {
		i++
	}
	return b[:i]
}

// GetFreeSizes returns the device's capacity snapshot.
func (s *Session) GetFreeSizes(ctx context.Context) (types.FreeSizes, error) {
	s.setDeadline(s.opTimeout)
	_, payload, err := s.roundTrip(protocol.CmdGetFreeSizes, nil)
	if err != nil {
		return types.FreeSizes{}, err
	}
	if len(payload) < 80 {
		return types.FreeSizes{}, fmt.Errorf("%w: short GET_FREE_SIZES payload", errs.ErrProtocolDecode)
	}
	// The reply is 20 little-endian int32 fields, optionally followed by a
	// 3-int32 face block on face-capable firmware.
	field := func(i int) int { return int(int32(binary.LittleEndian.Uint32(payload[4*i : 4*i+4]))) }
	sizes := types.FreeSizes{
		Users:      field(4),
		Fingers:    field(6),
		Records:    field(8),
		Cards:      field(12),
		FingersCap: field(14),
		UsersCap:   field(15),
		RecCap:     field(16),
		FingersAv:  field(17),
		UsersAv:    field(18),
		RecAv:      field(19),
	}
	if len(payload) >= 92 {
		sizes.Faces = field(20)
		sizes.FacesCap = field(22)
	}
	return sizes, nil
}

// SetUser writes one user record (CMD_USER_WRQ).
func (s *Session) SetUser(ctx context.Context, deviceUID int, userIDString, displayName string, privilege int) error {
	body := make([]byte, 72)
	binary.LittleEndian.PutUint16(body[0:2], uint16(deviceUID))
	body[2] = byte(privilege)
	copy(body[3:11], []byte(padRight(displayName, 8)))
	copy(body[27:36], []byte(padRight(userIDString, 9)))
	s.setDeadline(s.opTimeout)
	_, _, err := s.roundTrip(protocol.CmdUserWRQ, body)
	return err
}

func padRight(s string, n int) string {
	if len(s) >= n {
		return s[:n]
	}
	return s + string(make([]byte, n-len(s)))
}

// GetUsers enumerates every user currently stored on the device.
func (s *Session) GetUsers(ctx context.Context) ([]types.DeviceUser, error) {
	s.setDeadline(s.opTimeout)
	_, payload, err := s.roundTrip(protocol.CmdUserTempRRQ, []byte{protocol.FctUser})
	if err != nil {
		return nil, err
	}
	const recordSize = 72
	var users []types.DeviceUser
	for off := 0; off+recordSize <= len(payload); off += recordSize {
		rec := payload[off : off+recordSize]
		users = append(users, types.DeviceUser{
			UID:          int(binary.LittleEndian.Uint16(rec[0:2])),
			Privilege:    int(rec[2]),
			Name:         string(trimNulls(rec[3:11])),
			UserIDString: string(trimNulls(rec[27:36])),
		})
	}
	return users, nil
}

// GetTemplateBytes reads the raw fingerprint template for one finger slot.
// Returns nil, nil when the slot carries no template.
func (s *Session) GetTemplateBytes(ctx context.Context, userIDString string, fingerIndex int) ([]byte, error) {
	body := make([]byte, 25)
	copy(body[0:24], []byte(userIDString))
	body[24] = byte(fingerIndex)
	s.setDeadline(s.opTimeout)
	_, payload, err := s.roundTrip(protocol.CmdUserTempRRQ, body)
	if err != nil {
		if rej, ok := asDeviceRejected(err); ok && rej.Code == protocol.CmdAckError {
			return nil, nil
		}
		return nil, err
	}
	if len(payload) == 0 {
		return nil, nil
	}
	return payload, nil
}

func asDeviceRejected(err error) (*errs.DeviceRejected, bool) {
	rej, ok := err.(*errs.DeviceRejected)
	return rej, ok
}

// DeleteUserTemplate removes one finger's template from the device.
func (s *Session) DeleteUserTemplate(ctx context.Context, deviceUID int, userIDString string, fingerIndex int) error {
	body := make([]byte, 27)
	binary.LittleEndian.PutUint16(body[0:2], uint16(deviceUID))
	copy(body[2:26], []byte(userIDString))
	body[26] = byte(fingerIndex)
	s.setDeadline(s.opTimeout)
	_, _, err := s.roundTrip(protocol.CmdDeleteUser, body)
	return err
}

// FetchAttendanceLogs pulls every raw attendance record currently buffered
// on the device. Timestamps are naive device-local; the ingestion pipeline
// attaches the configured timezone.
func (s *Session) FetchAttendanceLogs(ctx context.Context) ([]types.RawAttendanceLog, error) {
	s.setDeadline(s.opTimeout)
	_, payload, err := s.roundTrip(protocol.CmdAttLogRRQ, nil)
	if err != nil {
		return nil, err
	}
	const recordSize = 40
	var logs []types.RawAttendanceLog
	for off := 0; off+recordSize <= len(payload); off += recordSize {
		rec := payload[off : off+recordSize]
		userID := string(trimNulls(rec[0:24]))
		if userID == "" {
			continue
		}
		punch := int(rec[24])
		packedTime := binary.LittleEndian.Uint32(rec[27:31])
		ts, err := parseZKTimeString(decodeZKTime(packedTime))
		if err != nil {
			continue
		}
		logs = append(logs, types.RawAttendanceLog{
			UserIDString: userID,
			Timestamp:    ts,
			PunchCode:    punch,
			DeviceSerial: s.device.Serial,
		})
	}
	return logs, nil
}

func parseZKTimeString(s string) (time.Time, error) {
	return time.ParseInLocation("2006-01-02T15:04:05", s, time.UTC)
}

// StartEnrollment sends CMD_STARTENROLL. Acknowledged only — it does not
// wait for capture; internal/enrollment drives the rest via RecvEvent.
func (s *Session) StartEnrollment(ctx context.Context, userIDString string, fingerIndex int) error {
	body := protocol.PackStartEnroll(true, userIDString, fingerIndex)
	s.setDeadline(s.opTimeout)
	_, _, err := s.roundTrip(protocol.CmdStartEnroll, body)
	return err
}

// CancelCapture cancels an in-progress enrollment. Never returns an
// error; failures are logged only.
func (s *Session) CancelCapture(ctx context.Context) {
	s.setDeadline(s.opTimeout)
	if _, _, err := s.roundTrip(protocol.CmdCancelCapture, nil); err != nil {
		s.log.WithError(err).Debug("cancel_capture failed")
	}
}

// RegisterEvents registers the device's unsolicited event stream for the
// given flag mask. A mask of 0 unregisters.
func (s *Session) RegisterEvents(ctx context.Context, flagMask uint32) error {
	body := make([]byte, 4)
	binary.LittleEndian.PutUint32(body, flagMask)
	s.setDeadline(s.opTimeout)
	_, _, err := s.roundTrip(protocol.CmdRegEvent, body)
	return err
}

// Event is one unsolicited frame received via RecvEvent.
type Event struct {
	Code int
	Raw  []byte
}

// RecvEvent blocks (up to timeout) for one unsolicited event frame, used
// exclusively by internal/enrollment during capture. It retunes the
// socket's read deadline for the duration of the wait and always restores
// it, on every exit path.
func (s *Session) RecvEvent(ctx context.Context, timeout time.Duration) (Event, error) {
	original := s.opTimeout
	s.setDeadline(timeout)
	defer s.setDeadline(original)

	raw, err := s.readFrame()
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return Event{}, errs.ErrEventTimeout
		}
		return Event{}, err
	}
	r := protocol.DecodeEnrollFrame(true, raw)
	return Event{Code: r.ResultCode, Raw: raw}, nil
}

// GetEnrolledFingerIndices scans finger slots 0-9 and reports which ones
// already carry a template. Backs the list-enrolled-fingers ingress
// operation, which reads the live device rather than the database.
func (s *Session) GetEnrolledFingerIndices(ctx context.Context, userIDString string) ([]int, error) {
	var indices []int
	for finger := 0; finger < 10; finger++ {
		bytes, err := s.GetTemplateBytes(ctx, userIDString, finger)
		if err != nil {
			return nil, err
		}
		if len(bytes) > 0 {
			indices = append(indices, finger)
		}
	}
	return indices, nil
}
