//go:build windows

package capture

import "golang.org/x/sys/windows"

// SessionInfo reports the Windows session the host process is running in,
// mirroring the teacher's currentWinSessionID helper in
// internal/userhelper/session_windows.go. A host process running outside
// session 0 (i.e. not a non-interactive service session) has a console
// desktop available to capture.
type SessionInfo struct {
	SessionID   uint32
	Interactive bool
}

// CurrentSession returns the capture-relevant session state for this
// process.
func CurrentSession() SessionInfo {
	var sessionID uint32
	if err := windows.ProcessIdToSessionId(windows.GetCurrentProcessId(), &sessionID); err != nil {
		return SessionInfo{}
	}
	return SessionInfo{SessionID: sessionID, Interactive: sessionID != 0}
}
