package dispatch

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatewarden/internal/domain"
)

func newTestDispatcher(replayWindow int) *Dispatcher {
	return New(replayWindow, slog.New(slog.DiscardHandler), nil)
}

func publishN(d *Dispatcher, n int) {
	for i := 0; i < n; i++ {
		d.PublishDecision(domain.DecisionEvent{GateID: "gate-1"})
	}
}

func collect(t *testing.T, sub *Subscriber, n int) []domain.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	events := make([]domain.Event, 0, n)
	for len(events) < n {
		event, ok := sub.Next(ctx)
		require.True(t, ok, "stream ended early after %d events", len(events))
		events = append(events, event)
	}
	return events
}

func TestDispatcher_DeliversInPublishOrder(t *testing.T) {
	d := newTestDispatcher(16)
	sub := d.Subscribe(16, 0)
	defer d.Unsubscribe(sub)

	publishN(d, 5)

	events := collect(t, sub, 5)
	for i, event := range events {
		assert.Equal(t, uint64(i+1), event.Seq)
		assert.Equal(t, domain.EventDecision, event.Kind)
	}
}

func TestDispatcher_SlowSubscriberDropsOldestAndSeesMissedMarker(t *testing.T) {
	d := newTestDispatcher(0)
	sub := d.Subscribe(3, 0)
	defer d.Unsubscribe(sub)

	publishN(d, 5) // buffer of 3, so seq 1 and 2 are dropped

	events := collect(t, sub, 4)
	assert.Equal(t, domain.EventMissed, events[0].Kind)
	assert.Equal(t, uint64(2), events[0].Missed)
	assert.Equal(t, uint64(3), events[1].Seq)
	assert.Equal(t, uint64(4), events[2].Seq)
	assert.Equal(t, uint64(5), events[3].Seq)
}

func TestDispatcher_SlowSubscriberDoesNotAffectOthers(t *testing.T) {
	d := newTestDispatcher(0)
	slow := d.Subscribe(1, 0)
	fast := d.Subscribe(16, 0)
	defer d.Unsubscribe(slow)
	defer d.Unsubscribe(fast)

	publishN(d, 5)

	events := collect(t, fast, 5)
	for i, event := range events {
		assert.Equal(t, uint64(i+1), event.Seq)
	}
}

func TestDispatcher_ReconnectReplaysFromLastSeen(t *testing.T) {
	d := newTestDispatcher(16)
	publishN(d, 6)

	sub := d.Subscribe(16, 4)
	defer d.Unsubscribe(sub)

	events := collect(t, sub, 2)
	assert.Equal(t, uint64(5), events[0].Seq)
	assert.Equal(t, uint64(6), events[1].Seq)
}

func TestDispatcher_ReconnectBeyondReplayWindowGetsMissedMarker(t *testing.T) {
	d := newTestDispatcher(3)
	publishN(d, 10) // replay holds seq 8, 9, 10

	sub := d.Subscribe(16, 2)
	defer d.Unsubscribe(sub)

	events := collect(t, sub, 4)
	assert.Equal(t, domain.EventMissed, events[0].Kind)
	assert.Equal(t, uint64(5), events[0].Missed) // seq 3..7 lost
	assert.Equal(t, uint64(8), events[1].Seq)
	assert.Equal(t, uint64(10), events[3].Seq)
}

func TestDispatcher_UnsubscribeEndsStream(t *testing.T) {
	d := newTestDispatcher(0)
	sub := d.Subscribe(4, 0)

	done := make(chan bool, 1)
	go func() {
		_, ok := sub.Next(context.Background())
		done <- ok
	}()

	d.Unsubscribe(sub)
	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Next did not unblock on unsubscribe")
	}
}

func TestDispatcher_NextHonorsContext(t *testing.T) {
	d := newTestDispatcher(0)
	sub := d.Subscribe(4, 0)
	defer d.Unsubscribe(sub)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, ok := sub.Next(ctx)
	assert.False(t, ok)
}

func TestDispatcher_IncidentAndAlarmKinds(t *testing.T) {
	d := newTestDispatcher(8)
	sub := d.Subscribe(8, 0)
	defer d.Unsubscribe(sub)

	d.PublishIncident(&domain.Incident{Number: "INC-2026-0001"}, true)
	d.PublishIncident(&domain.Incident{Number: "INC-2026-0001"}, false)
	d.PublishAlarm(domain.AlarmEvent{Kind: domain.AlarmAuditWriteFailed})

	events := collect(t, sub, 3)
	assert.Equal(t, domain.EventIncidentCreated, events[0].Kind)
	assert.Equal(t, domain.EventIncidentUpdated, events[1].Kind)
	assert.Equal(t, domain.EventAlarm, events[2].Kind)
	require.NotNil(t, events[2].Alarm)
	assert.Equal(t, domain.AlarmAuditWriteFailed, events[2].Alarm.Kind)
}

func TestAlarmEvent_RequestIDAlwaysSerialized(t *testing.T) {
	// Operational alarms often carry no request; consumers still expect the
	// field, with the zero UUID standing in.
	payload, err := json.Marshal(domain.AlarmEvent{Kind: domain.AlarmStoreDegraded})
	require.NoError(t, err)
	assert.Contains(t, string(payload), `"request_id":"00000000-0000-0000-0000-000000000000"`)
}
