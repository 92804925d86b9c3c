package broadcast

import (
	"sync"
	"testing"
	"time"

	"guardian/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func stageEvent(id string, stage core.Stage) core.Event {
	return core.NewEvent(core.EventStageChanged, id, stage, nil)
}

func receive(t *testing.T, sub *Subscription) core.Event {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		require.True(t, ok, "subscription closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return core.Event{}
	}
}

func assertEmpty(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case ev := <-sub.Events():
		t.Fatalf("unexpected event %s for %s", ev.Type, ev.IncidentID)
	default:
	}
}

func TestBroadcaster_RoutesByIncident(t *testing.T) {
	b := NewBroadcaster(8, zaptest.NewLogger(t).Sugar())
	one := b.Subscribe("inc-1")
	two := b.Subscribe("inc-2")
	all := b.Subscribe(AllIncidents)
	defer one.Close()
	defer two.Close()
	defer all.Close()

	b.Publish(stageEvent("inc-1", core.StageAnalyzing))
	b.Publish(stageEvent("inc-2", core.StageAnalyzing))

	assert.Equal(t, "inc-1", receive(t, one).IncidentID)
	assert.Equal(t, "inc-2", receive(t, two).IncidentID)
	assert.Equal(t, "inc-1", receive(t, all).IncidentID)
	assert.Equal(t, "inc-2", receive(t, all).IncidentID)
	assertEmpty(t, one)
	assertEmpty(t, two)
}

func TestBroadcaster_PreservesOrder(t *testing.T) {
	b := NewBroadcaster(16, nil)
	sub := b.Subscribe("inc-1")
	defer sub.Close()

	stages := []core.Stage{core.StageAnalyzing, core.StageInvestigating, core.StagePlanning, core.StageExecuting, core.StageReporting, core.StageComplete}
	for _, s := range stages {
		b.Publish(stageEvent("inc-1", s))
	}
	for _, s := range stages {
		assert.Equal(t, s, receive(t, sub).Stage)
	}
}

func TestBroadcaster_NoReplay(t *testing.T) {
	b := NewBroadcaster(4, nil)
	b.Publish(stageEvent("inc-1", core.StageAnalyzing))

	sub := b.Subscribe("inc-1")
	defer sub.Close()
	assertEmpty(t, sub)
}

func TestBroadcaster_DropsOldestWhenFull(t *testing.T) {
	b := NewBroadcaster(3, nil)
	sub := b.Subscribe("inc-1")
	defer sub.Close()

	stages := []core.Stage{core.StagePending, core.StageAnalyzing, core.StageInvestigating, core.StagePlanning, core.StageExecuting}
	for _, s := range stages {
		b.Publish(stageEvent("inc-1", s))
	}

	assert.Equal(t, uint64(2), sub.Dropped())
	assert.Equal(t, core.StageInvestigating, receive(t, sub).Stage)
	assert.Equal(t, core.StagePlanning, receive(t, sub).Stage)
	assert.Equal(t, core.StageExecuting, receive(t, sub).Stage)
}

func TestBroadcaster_SlowSubscriberDoesNotBlockOthers(t *testing.T) {
	b := NewBroadcaster(2, nil)
	slow := b.Subscribe("inc-1")
	fast := b.Subscribe("inc-1")
	defer slow.Close()
	defer fast.Close()

	var got []core.Stage
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ev := range fast.Events() {
			got = append(got, ev.Stage)
			if ev.Stage == core.StageComplete {
				return
			}
		}
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			b.Publish(stageEvent("inc-1", core.StageExecuting))
			time.Sleep(100 * time.Microsecond)
		}
		b.Publish(stageEvent("inc-1", core.StageComplete))
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
	wg.Wait()
	assert.Equal(t, core.StageComplete, got[len(got)-1])
	assert.Positive(t, slow.Dropped())
}

func TestBroadcaster_CloseUnsubscribes(t *testing.T) {
	b := NewBroadcaster(4, nil)
	sub := b.Subscribe("inc-1")
	other := b.Subscribe("")
	assert.Equal(t, AllIncidents, other.IncidentID())
	assert.Equal(t, 2, b.SubscriberCount())

	sub.Close()
	sub.Close()
	assert.Equal(t, 1, b.SubscriberCount())

	_, ok := <-sub.Events()
	assert.False(t, ok, "channel is closed")

	b.Publish(stageEvent("inc-1", core.StageAnalyzing))
	assert.Equal(t, "inc-1", receive(t, other).IncidentID)

	b.Close()
	assert.Zero(t, b.SubscriberCount())
	_, ok = <-other.Events()
	assert.False(t, ok)
	other.Close()
}

type recordingForwarder struct {
	mu     sync.Mutex
	events []core.Event
}

func (r *recordingForwarder) Forward(ev core.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func TestBroadcaster_ForwardsPublishedButNotDelivered(t *testing.T) {
	b := NewBroadcaster(4, nil)
	fwd := &recordingForwarder{}
	b.SetForwarder(fwd)

	b.Publish(stageEvent("inc-1", core.StageAnalyzing))
	b.Deliver(stageEvent("inc-2", core.StageAnalyzing))

	require.Len(t, fwd.events, 1)
	assert.Equal(t, "inc-1", fwd.events[0].IncidentID)
}
