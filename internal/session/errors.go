package session

import "errors"

// Session errors, ordered from permanent to transient. Callers can use
// errors.Is on Result.Err to tell them apart instead of matching on
// message strings.
var (
	// ErrSourceUnavailable means no SimConnect bridge is configured on
	// this host. Connect attempts fail fast until the process restarts
	// with a bridge URL.
	ErrSourceUnavailable = errors.New("simconnect bridge not available")

	// ErrConnectFailed means the bridge was reachable but the probe read
	// failed. The session stays disconnected; a later attempt may succeed.
	ErrConnectFailed = errors.New("simconnect connection failed")

	// ErrReadFailed marks a transient read failure during polling.
	// The poll loop logs it and treats the tick as "no data".
	ErrReadFailed = errors.New("simulator read failed")
)
