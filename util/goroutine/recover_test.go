package goroutine

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestRecover_LogsPanic(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	logger := zap.New(core).Sugar()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer Recover("worker", logger)
		panic("boom")
	}()
	wg.Wait()

	entries := logs.FilterMessage("Goroutine panic recovered").All()
	if assert.Len(t, entries, 1) {
		assert.Equal(t, "worker", entries[0].ContextMap()["goroutine"])
	}
}

func TestRecoverWith_CallsHandler(t *testing.T) {
	var got interface{}
	func() {
		defer RecoverWith("stage", zap.NewNop().Sugar(), func(v interface{}) { got = v })
		panic("stage exploded")
	}()
	assert.Equal(t, "stage exploded", got)
}

func TestRecover_NilLogger(t *testing.T) {
	assert.NotPanics(t, func() {
		defer Recover("nil-logger", nil)
		panic("no logger")
	})
}

func TestGo_RunsFunction(t *testing.T) {
	done := make(chan struct{})
	Go("runner", zap.NewNop().Sugar(), func() { close(done) })
	<-done
}

func TestWaitForGoroutineCount(t *testing.T) {
	AssertNoLeaks(t)

	stop := make(chan struct{})
	Go("parked", nil, func() { <-stop })
	close(stop)
	assert.True(t, WaitForGoroutineCount(1<<20, 0))
}
