package disposition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromCause(t *testing.T) {
	tests := []struct {
		cause    int
		answered bool
		want     Disposition
		known    bool
	}{
		{16, true, Answered, true},
		{31, true, Answered, true},
		{16, false, NoAnswer, true},
		{31, false, NoAnswer, true},
		{17, false, Busy, true},
		{21, false, Cancel, true},
		{18, false, NoAnswer, true},
		{19, true, NoAnswer, true},
		{20, false, NoAnswer, true},
		{34, false, Congestion, true},
		{38, false, Congestion, true},
		{41, false, Congestion, true},
		{42, false, Congestion, true},
		{47, false, Congestion, true},
		{63, false, Congestion, true},
		{0, false, Failed, false},
		{1, true, Failed, false},
		{127, false, Failed, false},
		{-5, false, Failed, false},
	}

	for _, tt := range tests {
		got, known := FromCause(tt.cause, tt.answered)
		assert.Equal(t, tt.want, got, "cause %d answered=%v", tt.cause, tt.answered)
		assert.Equal(t, tt.known, known, "cause %d", tt.cause)
	}
}

func TestParse(t *testing.T) {
	d, err := Parse("chanunavail")
	require.NoError(t, err)
	assert.Equal(t, ChanUnavail, d)

	_, err = Parse("completed")
	assert.Error(t, err)
}

func TestDecide(t *testing.T) {
	assert.Equal(t, Decision{Retry: true, Status: StatusPending}, Decide(Busy, 1, 3))
	assert.Equal(t, Decision{Status: "busy"}, Decide(Busy, 3, 3))
	assert.Equal(t, Decision{Status: "answered"}, Decide(Answered, 1, 3))
	assert.Equal(t, Decision{Status: "no_answer"}, Decide(NoAnswer, 1, 0))
}

// A number cycling pending -> calling -> retry must settle within
// retry_times+1 attempts whatever the outcome of each attempt.
func TestRetryTerminates(t *testing.T) {
	outcomes := []Disposition{NoAnswer, Busy, Failed, Cancel, ChanUnavail, Congestion}
	for retryTimes := 0; retryTimes <= 5; retryTimes++ {
		for _, d := range outcomes {
			attempts := 0
			status := StatusPending
			for status == StatusPending {
				attempts++
				require.LessOrEqual(t, attempts, retryTimes+1)
				status = Decide(d, attempts, retryTimes).Status
			}
			assert.Equal(t, string(d), status)
		}
	}
}
