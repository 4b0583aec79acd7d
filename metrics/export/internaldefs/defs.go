package internaldefs

import (
	"strconv"

	goRecover "github.com/MrEthical07/goRecover"
)

// CounterDef binds an engine counter to its exported name.
type CounterDef struct {
	ID   goRecover.MetricID
	Name string
	Help string
}

type HistogramDef struct {
	ID   goRecover.MetricID
	Name string
	Help string
}

const AuditDroppedName = "gorecover_audit_dropped_total"

const AuditDroppedHelp = "Audit events dropped because the dispatcher buffer was full."

var CounterDefs = []CounterDef{
	{ID: goRecover.MetricOTPRequest, Name: "gorecover_otp_request_total", Help: "Recovery code requests."},
	{ID: goRecover.MetricOTPDispatchFailure, Name: "gorecover_otp_dispatch_failure_total", Help: "Codes the notifier failed to deliver."},
	{ID: goRecover.MetricOTPVerifySuccess, Name: "gorecover_otp_verify_success_total", Help: "Accepted recovery codes."},
	{ID: goRecover.MetricOTPVerifyFailure, Name: "gorecover_otp_verify_failure_total", Help: "Rejected recovery codes."},
	{ID: goRecover.MetricOTPAttemptsExceeded, Name: "gorecover_otp_attempts_exceeded_total", Help: "Recovery challenges burned by the attempt cap."},
	{ID: goRecover.MetricPasswordCommitSuccess, Name: "gorecover_password_commit_success_total", Help: "New passwords stored."},
	{ID: goRecover.MetricPasswordCommitFailure, Name: "gorecover_password_commit_failure_total", Help: "Failed password commits."},
	{ID: goRecover.MetricEmailVerificationRequest, Name: "gorecover_email_verification_request_total", Help: "Email verification requests."},
	{ID: goRecover.MetricEmailVerificationSuccess, Name: "gorecover_email_verification_success_total", Help: "Verified email addresses."},
	{ID: goRecover.MetricEmailVerificationFailure, Name: "gorecover_email_verification_failure_total", Help: "Rejected email verification codes."},
	{ID: goRecover.MetricEmailVerificationAttemptsExceeded, Name: "gorecover_email_verification_attempts_exceeded_total", Help: "Verification challenges burned by the attempt cap."},
	{ID: goRecover.MetricRateLimitHit, Name: "gorecover_rate_limit_hit_total", Help: "Requests denied by a throttle."},
	{ID: goRecover.MetricAuthenticateSuccess, Name: "gorecover_authenticate_success_total", Help: "Successful password checks."},
	{ID: goRecover.MetricAuthenticateFailure, Name: "gorecover_authenticate_failure_total", Help: "Failed password checks."},
}

var HistogramDefs = []HistogramDef{
	{ID: goRecover.MetricDispatchLatency, Name: "gorecover_dispatch_latency_seconds", Help: "Time spent handing a code to the notifier."},
}

// HistogramBounds are the upper bounds in seconds of every bucket but the
// last, matching goRecover.HistogramBounds.
var HistogramBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// BucketLabels returns the le label of each bucket in Prometheus form, +Inf
// last.
func BucketLabels() []string {
	out := make([]string, 0, len(HistogramBounds)+1)
	for _, b := range HistogramBounds {
		out = append(out, strconv.FormatFloat(b, 'g', -1, 64))
	}
	return append(out, "+Inf")
}

// NormalizeBuckets copies raw into a fixed array, zero filling short input.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	copy(out[:], raw)
	return out
}

func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i, v := range raw {
		running += v
		out[i] = running
	}
	return out
}
