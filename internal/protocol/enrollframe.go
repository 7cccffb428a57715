package protocol

import "encoding/binary"

// PackStartEnroll builds the CMD_STARTENROLL command body. TCP and UDP
// transports use different wire shapes for the same three fields
// (device-local user id string, finger index, attempt count), matching
// the vendor firmware's struct layout exactly.
func PackStartEnroll(tcp bool, userIDString string, fingerIndex int) []byte {
	if tcp {
		// '<24sbb': 24-byte zero-padded user id, finger index, attempt=1.
		body := make([]byte, 26)
		raw := []byte(userIDString)
		if len(raw) > 24 {
			raw = raw[:24]
		}
		copy(body[0:24], raw)
		body[24] = byte(fingerIndex)
		body[25] = 1
		return body
	}
	// '<Ib': uint32 numeric user id, finger index.
	body := make([]byte, 5)
	var uid uint32
	for _, c := range userIDString {
		if c < '0' || c > '9' {
			break
		}
		uid = uid*10 + uint32(c-'0')
	}
	binary.LittleEndian.PutUint32(body[0:4], uid)
	body[4] = byte(fingerIndex)
	return body
}

// EnrollFrameResult is the decoded outcome of one enrollment event frame
// (finger-placement, capture or completion).
type EnrollFrameResult struct {
	ResultCode int
	Size       int // only meaningful when ResultCode is a success code
	Pos        int
}

// DecodeEnrollFrame extracts the result code (and, when present, the
// size/pos fields) from a raw enrollment event frame read directly off the
// device socket. The offsets differ between TCP and UDP framing, mirroring
// the vendor firmware's differing header widths for this unsolicited
// message type (it is not a normal ACK-framed reply).
func DecodeEnrollFrame(tcp bool, data []byte) EnrollFrameResult {
	var padded []byte
	var resOff, sizeOff, posOff int
	if tcp {
		padded = padTo(data, 24)
		resOff, sizeOff, posOff = 16, 10, 12
	} else {
		padded = padTo(data, 16)
		resOff, sizeOff, posOff = 8, 10, 12
	}
	res := -1
	if len(data) > resOff+1 {
		res = int(binary.LittleEndian.Uint16(padded[resOff : resOff+2]))
	}
	result := EnrollFrameResult{ResultCode: res}
	if res != EnrollResultCancelled && res != EnrollResultDuplicate && res != EnrollResultTimeout {
		result.Size = int(binary.LittleEndian.Uint16(padded[sizeOff : sizeOff+2]))
		result.Pos = int(binary.LittleEndian.Uint16(padded[posOff : posOff+2]))
	}
	return result
}

func padTo(b []byte, n int) []byte {
	if len(b) >= n {
		return b
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}

// IsAmbiguousFailure reports whether a result code on a non-final event is
// one of the two codes (cancel/timeout) that require elapsed-time
// disambiguation, per the original firmware dialogue: a short wait before
// res=4 means the operator cancelled; a long wait means the device itself
// timed out waiting for a finger.
func IsAmbiguousFailure(resultCode int) bool {
	return resultCode == EnrollResultCancelled || resultCode == EnrollResultTimeout
}

// ClassifyTimeoutOrCancel disambiguates a CANCELLED/TIMEOUT result code
// using elapsed wait time: res==6 is always a timeout; res==4 is a
// timeout only if the wait ran within 5 seconds of the configured
// timeout, otherwise a genuine operator cancel.
func ClassifyTimeoutOrCancel(resultCode int, elapsedSeconds, timeoutSeconds float64) (timedOut bool) {
	if resultCode == EnrollResultTimeout {
		return true
	}
	return elapsedSeconds >= timeoutSeconds-5
}

// IsLowQualityRetry reports whether a result code signals a low-quality
// capture that should be retried without consuming a full attempt.
func IsLowQualityRetry(resultCode int) bool {
	return resultCode == EnrollResultLowQuality
}

// IsSuccessResult reports whether a result code on the final event of an
// attempt indicates success. Only 4, 5 and 6 are failures; firmware
// variants report success with a range of other codes (46, 50, 54, 55...).
func IsSuccessResult(resultCode int) bool {
	return resultCode != EnrollResultCancelled && resultCode != EnrollResultDuplicate && resultCode != EnrollResultTimeout
}
