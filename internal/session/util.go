package session

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// listenPollInterval bounds one scan window while idling in listen mode
// (spec.md §4.3, §5: "listen has no intrinsic timeout" — the supervisor
// just keeps re-scanning).
const listenPollInterval = 5 * time.Second

// randomSessionID returns the opaque, debug-only session identifier
// spec.md §3 describes for a Drawing.
func randomSessionID() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

func nowUnix() int64 {
	return time.Now().Unix()
}
