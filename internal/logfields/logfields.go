package logfields

import (
	"log/slog"
	"time"
)

// Canonical log field name constants to avoid drift across packages.
const (
	KeyJobID      = "job_id"
	KeyJobStatus  = "job_status"
	KeyTrigger    = "trigger"
	KeyStep       = "step"
	KeyRef        = "ref"
	KeyBranch     = "branch"
	KeyCommit     = "commit"
	KeyURL        = "url"
	KeyPath       = "path"
	KeyExitCode   = "exit_code"
	KeyDurationMS = "duration_ms"
	KeyAttempt    = "attempt"
	KeyDelivery   = "delivery"
	KeyMethod     = "method"
	KeyUserAgent  = "user_agent"
	KeyRemoteAddr = "remote_addr"
	KeyForgeType  = "forge_type"
	KeyScheduleID = "schedule_id"
	KeyStatus     = "status"
	KeyError      = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func JobID(id string) slog.Attr      { return slog.String(KeyJobID, id) }
func JobStatus(s string) slog.Attr   { return slog.String(KeyJobStatus, s) }
func Trigger(src string) slog.Attr   { return slog.String(KeyTrigger, src) }
func Step(name string) slog.Attr     { return slog.String(KeyStep, name) }
func Ref(ref string) slog.Attr       { return slog.String(KeyRef, ref) }
func Branch(b string) slog.Attr      { return slog.String(KeyBranch, b) }
func Commit(c string) slog.Attr      { return slog.String(KeyCommit, c) }
func URL(u string) slog.Attr         { return slog.String(KeyURL, u) }
func Path(p string) slog.Attr        { return slog.String(KeyPath, p) }
func ExitCode(c int) slog.Attr       { return slog.Int(KeyExitCode, c) }
func Attempt(n int) slog.Attr        { return slog.Int(KeyAttempt, n) }
func Delivery(d string) slog.Attr    { return slog.String(KeyDelivery, d) }
func Method(m string) slog.Attr      { return slog.String(KeyMethod, m) }
func UserAgent(ua string) slog.Attr  { return slog.String(KeyUserAgent, ua) }
func RemoteAddr(a string) slog.Attr  { return slog.String(KeyRemoteAddr, a) }
func ForgeType(f string) slog.Attr   { return slog.String(KeyForgeType, f) }
func ScheduleID(id string) slog.Attr { return slog.String(KeyScheduleID, id) }
func Status(code int) slog.Attr      { return slog.Int(KeyStatus, code) }
func Duration(d time.Duration) slog.Attr {
	return slog.Float64(KeyDurationMS, float64(d.Microseconds())/1000)
}
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
