package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChecksum16NonZeroForKnownPacket(t *testing.T) {
	packet := EncodeHeader(Header{Command: CmdAuth, SessionID: 7, ReplyCounter: 1}, []byte("hello"))
	sum := Checksum16(packet)
	assert.NotZero(t, sum)
}

func TestEncodeDecodeHeaderRoundTrip(t *testing.T) {
	h := Header{Command: CmdGetFreeSizes, Checksum: 0x1234, SessionID: 42, ReplyCounter: 9}
	body := []byte{1, 2, 3, 4}
	packet := EncodeHeader(h, body)

	got, gotBody, err := DecodeHeader(packet)
	require.NoError(t, err)
	assert.Equal(t, h, got)
	assert.Equal(t, body, gotBody)
}

func TestDecodeHeaderTooShort(t *testing.T) {
	_, _, err := DecodeHeader([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestWrapUnwrapTCP(t *testing.T) {
	packet := BuildCommand(CmdConnect, 0, 0, nil)
	frame := WrapTCP(packet)

	unwrapped, declared, err := UnwrapTCP(frame)
	require.NoError(t, err)
	assert.Equal(t, packet, unwrapped)
	assert.Equal(t, uint32(len(packet)), declared)
}

func TestUnwrapTCPBadMagic(t *testing.T) {
	_, _, err := UnwrapTCP([]byte{0, 0, 0, 0, 0, 0, 0, 0})
	require.Error(t, err)
}

func TestStatusError(t *testing.T) {
	cases := []struct {
		name    string
		h       Header
		wantNil bool
	}{
		{"ack ok", Header{Command: CmdAckOK}, true},
		{"ack data", Header{Command: CmdAckData}, true},
		{"ack unauth", Header{Command: CmdAckUnauth}, false},
		{"ack error", Header{Command: CmdAckError}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := StatusError(tc.h)
			if tc.wantNil {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestPackStartEnrollTCP(t *testing.T) {
	body := PackStartEnroll(true, "1042", 3)
	require.Len(t, body, 26)
	assert.Equal(t, "1042", string(body[0:4]))
	for _, b := range body[4:24] {
		assert.Equal(t, byte(0), b)
	}
	assert.Equal(t, byte(3), body[24])
	assert.Equal(t, byte(1), body[25])
}

func TestPackStartEnrollUDP(t *testing.T) {
	body := PackStartEnroll(false, "1042", 2)
	require.Len(t, body, 5)
	assert.Equal(t, byte(2), body[4])
}

func TestDecodeEnrollFrameSuccess(t *testing.T) {
	data := make([]byte, 24)
	// res=0 at offset 16 (TCP), size=12 at offset 10, pos=3 at offset 12
	data[16] = 0
	data[17] = 0
	data[10] = 12
	data[12] = 3
	r := DecodeEnrollFrame(true, data)
	assert.Equal(t, 0, r.ResultCode)
	assert.Equal(t, 12, r.Size)
	assert.Equal(t, 3, r.Pos)
	assert.True(t, IsSuccessResult(r.ResultCode))
}

func TestDecodeEnrollFrameDuplicateUDP(t *testing.T) {
	data := make([]byte, 16)
	data[8] = 5
	data[9] = 0
	r := DecodeEnrollFrame(false, data)
	assert.Equal(t, EnrollResultDuplicate, r.ResultCode)
	assert.False(t, IsSuccessResult(r.ResultCode))
}

func TestClassifyTimeoutOrCancel(t *testing.T) {
	assert.True(t, ClassifyTimeoutOrCancel(EnrollResultTimeout, 1, 60))
	assert.True(t, ClassifyTimeoutOrCancel(EnrollResultCancelled, 56, 60))
	assert.False(t, ClassifyTimeoutOrCancel(EnrollResultCancelled, 1, 60))
}
