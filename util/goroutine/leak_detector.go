package goroutine

import (
	"runtime"
	"testing"
	"time"
)

// AssertNoLeaks records the current goroutine count and fails the test at
// cleanup if the count has not returned to that baseline within five seconds.
// Call it first thing in tests that start runners or subscriptions.
func AssertNoLeaks(t testing.TB) {
	t.Helper()
	AssertNoLeaksWithin(t, 5*time.Second)
}

// AssertNoLeaksWithin is AssertNoLeaks with a custom grace period.
func AssertNoLeaksWithin(t testing.TB, grace time.Duration) {
	t.Helper()
	baseline := runtime.NumGoroutine()

	t.Cleanup(func() {
		if WaitForGoroutineCount(baseline, grace) {
			return
		}
		current := runtime.NumGoroutine()
		buf := make([]byte, 1<<20)
		n := runtime.Stack(buf, true)
		t.Errorf("goroutine leak: baseline %d, now %d", baseline, current)
		t.Logf("active goroutines:\n%s", buf[:n])
	})
}

// WaitForGoroutineCount polls until at most target goroutines are running.
func WaitForGoroutineCount(target int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if runtime.NumGoroutine() <= target {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(25 * time.Millisecond)
	}
}
