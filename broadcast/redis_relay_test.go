package broadcast

import (
	"context"
	"testing"
	"time"

	"guardian/core"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap/zaptest"
)

func startRelay(t *testing.T, mr *miniredis.Miniredis) (*Broadcaster, *RedisRelay) {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	logger := zaptest.NewLogger(t).Sugar()
	b := NewBroadcaster(16, logger)
	relay := NewRedisRelay(client, "", b, logger)
	require.NoError(t, relay.Start(context.Background()))
	t.Cleanup(relay.Stop)
	return b, relay
}

func TestRedisRelay_DeliversAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	east, _ := startRelay(t, mr)
	west, _ := startRelay(t, mr)

	local := east.Subscribe("inc-1")
	remote := west.Subscribe(AllIncidents)
	defer local.Close()
	defer remote.Close()

	east.Publish(core.NewEvent(core.EventPlanReady, "inc-1", core.StagePlanning, map[string]interface{}{
		"actions": "block_ip:185.220.101.47",
	}))

	got := receive(t, remote)
	assert.Equal(t, core.EventPlanReady, got.Type)
	assert.Equal(t, "inc-1", got.IncidentID)
	assert.Equal(t, core.StagePlanning, got.Stage)
	assert.Equal(t, "block_ip:185.220.101.47", got.Data["actions"])

	assert.Equal(t, core.EventPlanReady, receive(t, local).Type)
	// the echo of east's own publish must not be delivered twice
	time.Sleep(100 * time.Millisecond)
	assertEmpty(t, local)
}

func TestRedisRelay_IgnoresMalformedPayloads(t *testing.T) {
	mr := miniredis.RunT(t)
	b, relay := startRelay(t, mr)
	sub := b.Subscribe(AllIncidents)
	defer sub.Close()

	mr.Publish(DefaultRelayChannel, "not msgpack")

	foreign, err := msgpack.Marshal(relayEnvelope{
		Origin: "other-instance",
		Event:  core.NewEvent(core.EventIncidentComplete, "inc-9", core.StageComplete, nil),
	})
	require.NoError(t, err)
	mr.Publish(DefaultRelayChannel, string(foreign))

	got := receive(t, sub)
	assert.Equal(t, "inc-9", got.IncidentID)
	assert.NotEqual(t, relay.Origin(), "other-instance")
}

func TestRedisRelay_StartTwiceAndStopIdempotent(t *testing.T) {
	mr := miniredis.RunT(t)
	_, relay := startRelay(t, mr)
	assert.Error(t, relay.Start(context.Background()))
	relay.Stop()
	relay.Stop()
}
