// Package disposition maps platform hangup causes to call outcomes and decides
// whether a campaign number is worth dialing again.
package disposition

import "fmt"

// Disposition is the final outcome classification of a call
type Disposition string

const (
	Answered    Disposition = "answered"
	Busy        Disposition = "busy"
	NoAnswer    Disposition = "no_answer"
	Cancel      Disposition = "cancel"
	ChanUnavail Disposition = "chanunavail"
	Congestion  Disposition = "congestion"
	Failed      Disposition = "failed"
)

// Q.850 hangup causes reported by Asterisk
const (
	CauseNormalClearing     = 16
	CauseUserBusy           = 17
	CauseNoUserResponse     = 18
	CauseNoAnswer           = 19
	CauseSubscriberAbsent   = 20
	CauseCallRejected       = 21
	CauseNormalUnspecified  = 31
	CauseNoCircuitAvailable = 34
	CauseNetworkOutOfOrder  = 38
	CauseTemporaryFailure   = 41
	CauseSwitchCongestion   = 42
	CauseResourceUnavail    = 47
	CauseServiceUnavailable = 63
)

// FromCause is total over every integer cause. The second return value is
// false when the cause has no explicit mapping and fell through to Failed,
// so callers can warn about it.
func FromCause(cause int, answered bool) (Disposition, bool) {
	switch cause {
	case CauseNormalClearing, CauseNormalUnspecified:
		if answered {
			return Answered, true
		}
		return NoAnswer, true
	case CauseUserBusy:
		return Busy, true
	case CauseCallRejected:
		return Cancel, true
	case CauseNoUserResponse, CauseNoAnswer, CauseSubscriberAbsent:
		return NoAnswer, true
	case CauseNoCircuitAvailable, CauseNetworkOutOfOrder, CauseTemporaryFailure,
		CauseSwitchCongestion, CauseResourceUnavail, CauseServiceUnavailable:
		return Congestion, true
	}
	return Failed, false
}

// Parse converts a stored string back into a Disposition
func Parse(s string) (Disposition, error) {
	switch d := Disposition(s); d {
	case Answered, Busy, NoAnswer, Cancel, ChanUnavail, Congestion, Failed:
		return d, nil
	}
	return "", fmt.Errorf("unknown disposition %q", s)
}

// Retryable reports whether a number ending with d may be dialed again
func Retryable(d Disposition) bool {
	switch d {
	case NoAnswer, Busy, Failed, Cancel, ChanUnavail, Congestion:
		return true
	}
	return false
}

// StatusPending is the number status for a scheduled retry
const StatusPending = "pending"

// Decision is the outcome of the retry policy for one finished attempt
type Decision struct {
	Retry  bool
	Status string
}

// Decide applies the retry policy. attempts already counts the attempt that
// just finished.
func Decide(d Disposition, attempts, retryTimes int) Decision {
	if Retryable(d) && attempts < retryTimes {
		return Decision{Retry: true, Status: StatusPending}
	}
	return Decision{Status: string(d)}
}
