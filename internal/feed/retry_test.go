package feed

import (
	"testing"
	"time"
)

func TestRetryPolicyDelaySchedule(t *testing.T) {
	policy := DefaultFetchRetry

	testCases := []struct {
		attempt  int
		expected time.Duration
	}{
		{attempt: 1, expected: 2 * time.Second},
		{attempt: 2, expected: 4 * time.Second},
		{attempt: 3, expected: 8 * time.Second},
		{attempt: 4, expected: 10 * time.Second},
		{attempt: 9, expected: 10 * time.Second},
	}
	for _, testCase := range testCases {
		if got := policy.Delay(testCase.attempt); got != testCase.expected {
			t.Fatalf("Delay(%d) = %v, expected %v", testCase.attempt, got, testCase.expected)
		}
	}
}

func TestRetryPolicyDelayClampsLowAttempts(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 3, BaseDelay: time.Second, MaxDelay: 10 * time.Second}
	if got := policy.Delay(0); got != 2*time.Second {
		t.Fatalf("Delay(0) = %v, expected 2s", got)
	}
	if got := policy.Delay(-5); got != 2*time.Second {
		t.Fatalf("Delay(-5) = %v, expected 2s", got)
	}
}

func TestReconnectPolicyIsFixedInterval(t *testing.T) {
	if DefaultReconnect.Interval != 5*time.Second {
		t.Fatalf("expected 5s reconnect interval, got %v", DefaultReconnect.Interval)
	}
}
