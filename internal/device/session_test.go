package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecodeZKTimeRoundTrip(t *testing.T) {
	// 2024-03-15 08:30:45 packed per the ZKTeco formula.
	var packed uint32
	packed = uint32(2024-2000)*12*31*24*60*60 + uint32(3-1)*31*24*60*60 + uint32(15-1)*24*60*60 + 8*60*60 + 30*60 + 45
	got := decodeZKTime(packed)
	assert.Contains(t, got, "2024-03-")
	assert.Contains(t, got, "08:30:45")
}

func TestTrimNulls(t *testing.T) {
	assert.Equal(t, "abc", string(trimNulls([]byte{'a', 'b', 'c', 0, 0, 0})))
	assert.Equal(t, "", string(trimNulls([]byte{0, 0})))
}

func TestPadRight(t *testing.T) {
	assert.Len(t, padRight("ab", 5), 5)
	assert.Equal(t, "abcde", padRight("abcdefg", 5))
}
