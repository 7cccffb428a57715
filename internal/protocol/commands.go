// Package protocol implements the ZKTeco command protocol at the packet
// level: framing, checksums, session/reply bookkeeping and the command
// table. It has no knowledge of sockets — see internal/device for that.
package protocol

// Command ids used by the bridge, as the ZKTeco firmware numbers them.
const (
	CmdConnect    = 1000
	CmdAuth       = 1102
	CmdAckOK      = 2000
	CmdAckError   = 2001
	CmdAckData    = 2002
	CmdAckRetry   = 2003
	CmdAckRepeat  = 2004
	CmdAckUnauth  = 2005

	CmdUserWRQ       = 8  // Write user data to device
	CmdUserTempRRQ   = 9  // Read user template (fingerprint)
	CmdUserTempWRQ   = 10 // Write user template (fingerprint)
	CmdDevice        = 11 // Get device information
	CmdAttLogRRQ     = 13 // Read attendance logs
	CmdClearAttLog   = 15 // Clear attendance logs
	CmdDeleteUser    = 18 // Delete user from device
	CmdClearData     = 20 // Clear all data

	CmdGetFreeSizes = 50 // Get device capacity

	CmdStartEnroll    = 61 // Start fingerprint enrollment mode
	CmdCancelCapture  = 62 // Cancel enrollment capture

	CmdGetTime = 201 // Get device time
	CmdSetTime = 202 // Set device time

	CmdRestart     = 1004
	CmdPoweroff    = 1005
	CmdSleep       = 1006
	CmdResume      = 1007
	CmdGetVersion  = 1100 // Get firmware version
	CmdCaptureOnly = 2001

	CmdRegEvent = 500 // Register for real-time events
)

// Data-function selectors for CmdUserTempRRQ reads.
const (
	FctFingerTmp = 2
	FctUser      = 5
)

// Event flags for CmdRegEvent (bitmask).
const (
	EventFlagAttLog      = 1
	EventFlagFinger      = 1 << 2
	EventFlagEnrollFinger = 1 << 3
	EventFlagEnrollFace  = 1 << 4
	EventFlagButton      = 1 << 5
	EventFlagUnlock      = 1 << 6
	EventFlagVerify      = 1 << 7
	EventFlagFPFtr       = 1 << 8
	EventFlagAlarm       = 1 << 9
)

// Enrollment result codes observed in the final/intermediate event frame.
// Only 4, 5 and 6 are unambiguous failure codes; everything else on the
// final frame is treated as success (firmware-specific codes like
// 46/50/54/55 included).
const (
	EnrollResultCancelled     = 4
	EnrollResultDuplicate     = 5
	EnrollResultTimeout       = 6
	EnrollResultSuccess       = 0
	EnrollResultLowQuality    = 0x64
)

// DefaultPort is the ZKTeco device's default service port.
const DefaultPort = 4370
