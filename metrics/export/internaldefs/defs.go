package internaldefs

import (
	"strconv"

	"github.com/brewline/cafeauth"
)

type CounterDef struct {
	ID   cafeauth.MetricID
	Name string
	Help string
}

var CounterDefs = []CounterDef{
	{ID: cafeauth.MetricSignupRequested, Name: "cafeauth_signup_requested_total", Help: "Signup codes issued."},
	{ID: cafeauth.MetricSignupVerified, Name: "cafeauth_signup_verified_total", Help: "Signups promoted to customers."},
	{ID: cafeauth.MetricSignupConflict, Name: "cafeauth_signup_conflict_total", Help: "Signups rejected because the email or username was taken."},
	{ID: cafeauth.MetricLoginSuccess, Name: "cafeauth_login_success_total", Help: "Logins that issued a token."},
	{ID: cafeauth.MetricLoginFailure, Name: "cafeauth_login_failure_total", Help: "Logins rejected for bad credentials."},
	{ID: cafeauth.MetricLoginOTPRequired, Name: "cafeauth_login_otp_required_total", Help: "Admin logins that required an emailed code."},
	{ID: cafeauth.MetricLoginTrustedDevice, Name: "cafeauth_login_trusted_device_total", Help: "Admin logins that skipped the code on a trusted device."},
	{ID: cafeauth.MetricOTPVerifyFailure, Name: "cafeauth_otp_verify_failure_total", Help: "Rejected code submissions."},
	{ID: cafeauth.MetricOTPAttemptsExceeded, Name: "cafeauth_otp_attempts_exceeded_total", Help: "Codes invalidated by the attempt cap."},
	{ID: cafeauth.MetricLockoutTriggered, Name: "cafeauth_lockout_triggered_total", Help: "Failures that set a lock."},
	{ID: cafeauth.MetricLockedRejection, Name: "cafeauth_locked_rejection_total", Help: "Requests refused while locked."},
	{ID: cafeauth.MetricPasswordResetRequest, Name: "cafeauth_password_reset_request_total", Help: "Password reset codes issued."},
	{ID: cafeauth.MetricPasswordResetComplete, Name: "cafeauth_password_reset_complete_total", Help: "Completed password resets."},
	{ID: cafeauth.MetricDispatchFailure, Name: "cafeauth_dispatch_failure_total", Help: "Code deliveries that failed and were rolled back."},
	{ID: cafeauth.MetricAuthenticateSuccess, Name: "cafeauth_authenticate_success_total", Help: "Accepted bearer tokens."},
	{ID: cafeauth.MetricAuthenticateFailure, Name: "cafeauth_authenticate_failure_total", Help: "Rejected bearer tokens."},
}

const (
	LatencyName = "cafeauth_authenticate_latency_seconds"
	LatencyHelp = "Token authentication latency."

	AuditDroppedName = "cafeauth_audit_dropped_total"
	AuditDroppedHelp = "Audit events dropped because the dispatcher buffer was full."
)

// Latency is the authentication histogram in exporter-neutral form.
type Latency struct {
	// Cumulative counts, one per entry of BucketLabels.
	Cumulative []uint64
	Count      uint64
	Seconds    float64
}

// BucketLabels spells each upper bound in seconds, ending with "+Inf".
func BucketLabels() []string {
	out := make([]string, 0, len(cafeauth.LatencyBounds)+1)
	for _, b := range cafeauth.LatencyBounds {
		out = append(out, strconv.FormatFloat(b.Seconds(), 'g', -1, 64))
	}
	return append(out, "+Inf")
}

// LatencyFrom accumulates the snapshot's per-bucket counts. A missing or
// short histogram reads as zeros.
func LatencyFrom(s cafeauth.MetricsSnapshot) Latency {
	raw := s.Histograms[cafeauth.MetricAuthenticateLatency]
	l := Latency{
		Cumulative: make([]uint64, len(cafeauth.LatencyBounds)+1),
		Seconds:    s.HistogramSums[cafeauth.MetricAuthenticateLatency].Seconds(),
	}
	var running uint64
	for i := range l.Cumulative {
		if i < len(raw) {
			running += raw[i]
		}
		l.Cumulative[i] = running
	}
	l.Count = running
	return l
}
