package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"sirenlink/internal/metrics"
	"sirenlink/internal/models"
	"sirenlink/internal/realtime"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestIngestor_StateThenHeartbeatMerges(t *testing.T) {
	h := newHarness()

	h.deliver("status/SRN-001/state", `{"online":true,"relay":"ON","siren":"OFF","ip":"10.0.0.5","updatedAt":"2024-05-01T11:00:00Z"}`)
	h.deliver("tele/SRN-001/heartbeat", `{"ts":"2024-05-01T11:05:00Z"}`)

	st, ok := h.store.Get("SRN-001")
	if !ok {
		t.Fatalf("device missing after state message")
	}
	if !st.Online || st.Relay != models.On || st.Siren != models.Off || st.IP == nil || *st.IP != "10.0.0.5" {
		t.Fatalf("heartbeat changed reported fields: %+v", st)
	}
	if !st.UpdatedAt.Equal(time.Date(2024, 5, 1, 11, 0, 0, 0, time.UTC)) {
		t.Fatalf("updatedAt = %v", st.UpdatedAt)
	}
	if st.LastHeartbeatAt == nil || !st.LastHeartbeatAt.Equal(time.Date(2024, 5, 1, 11, 5, 0, 0, time.UTC)) {
		t.Fatalf("lastHeartbeatAt = %v", st.LastHeartbeatAt)
	}

	events := h.events.all()
	if len(events) != 2 || events[0].name != realtime.EventState || events[1].name != realtime.EventHeartbeat {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestIngestor_LastWillPreservesActuators(t *testing.T) {
	h := newHarness()

	h.deliver("status/SRN-001/state", `{"online":true,"relay":"ON","siren":"ON"}`)
	h.clock.Advance(time.Minute)
	h.deliver("status/SRN-001/lwt", ``)

	st, _ := h.store.Get("SRN-001")
	if st.Online || st.Relay != models.On || st.Siren != models.On {
		t.Fatalf("lwt state = %+v, want offline with relay and siren ON", st)
	}
	if !st.UpdatedAt.Equal(h.clock.Now()) {
		t.Fatalf("lwt must stamp updatedAt with receipt time, got %v", st.UpdatedAt)
	}
	saved, err := h.snapshots.Get(context.Background(), "SRN-001")
	if err != nil || saved.Online {
		t.Fatalf("snapshot = %+v, %v; want persisted offline record", saved, err)
	}
	if len(h.cache.set) != 2 {
		t.Fatalf("expected cache mirror for state and lwt, got %d", len(h.cache.set))
	}
}

func TestIngestor_StateThenLastWillScenario(t *testing.T) {
	h := newHarness()

	h.deliver("status/SRN-002/state", `{"deviceId":"SRN-002","online":true,"relay":"OFF","siren":"OFF"}`)
	h.deliver("status/SRN-002/lwt", `offline`)

	st, ok := h.store.Get("SRN-002")
	if !ok || st.Online || st.Relay != models.Off || st.Siren != models.Off {
		t.Fatalf("got %+v, want {online:false relay:OFF siren:OFF}", st)
	}
}

func TestIngestor_HeartbeatOnlyIsNotPersisted(t *testing.T) {
	h := newHarness()

	h.deliver("tele/SRN-003/heartbeat", ``)

	st, ok := h.store.Get("SRN-003")
	if !ok || !st.Online || st.Relay != models.Off || st.Siren != models.Off {
		t.Fatalf("default heartbeat record = %+v", st)
	}
	if _, err := h.snapshots.Get(context.Background(), "SRN-003"); err == nil {
		t.Fatalf("heartbeat must not write a durable snapshot")
	}
}

func TestIngestor_ListAfterTwoDevices(t *testing.T) {
	h := newHarness()

	h.deliver("status/B/state", `{"relay":"OFF"}`)
	h.deliver("tele/A/heartbeat", `{}`)

	list := h.store.List()
	if len(list) != 2 || list[0].DeviceID != "A" || list[1].DeviceID != "B" {
		t.Fatalf("list = %+v", list)
	}
}

func TestIngestor_SnapshotFailureIsSwallowed(t *testing.T) {
	h := newHarness()
	h.snapshots.upsertErr = errors.New("disk full")
	h.cache.err = errors.New("redis down")

	h.deliver("status/SRN-001/state", `{"relay":"ON"}`)

	if _, ok := h.store.Get("SRN-001"); !ok {
		t.Fatalf("in-memory state must update despite persistence failure")
	}
	if len(h.events.all()) != 1 {
		t.Fatalf("event must still be emitted")
	}
}

func TestIngestor_DropsBadInput(t *testing.T) {
	tests := []struct {
		name   string
		topic  string
		body   string
		reason string
	}{
		{name: "invalid json state", topic: "status/SRN-001/state", body: `{online:`, reason: "malformed"},
		{name: "empty state", topic: "status/SRN-001/state", body: ``, reason: "malformed"},
		{name: "bad relay value", topic: "status/SRN-001/state", body: `{"relay":"MAYBE"}`, reason: "malformed"},
		{name: "ack without commandId", topic: "cmd/SRN-001/ack", body: `{"result":"ok"}`, reason: "malformed"},
		{name: "unknown topic", topic: "foo/SRN-001/bar", body: `{}`, reason: "unknown_topic"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			before := testutil.ToFloat64(metrics.TelemetryDropped.WithLabelValues(tt.reason))

			h.deliver(tt.topic, tt.body)

			if len(h.store.List()) != 0 {
				t.Fatalf("bad input must not touch state")
			}
			if len(h.events.all()) != 0 || len(h.ledgerRepo.all()) != 0 {
				t.Fatalf("bad input must not emit or record")
			}
			if after := testutil.ToFloat64(metrics.TelemetryDropped.WithLabelValues(tt.reason)); after != before+1 {
				t.Fatalf("dropped{%s} = %v, want %v", tt.reason, after, before+1)
			}
		})
	}
}

func TestIngestor_AckRecordsOutcome(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantResult models.ActivationResult
		wantReason string
		wantAction models.OnOff
	}{
		{
			name:       "success with explicit action",
			body:       `{"commandId":"c1","result":"success","action":"ON"}`,
			wantResult: models.ResultExecuted,
			wantReason: "commandId=c1",
			wantAction: models.On,
		},
		{
			name:       "error sentinel",
			body:       `{"commandId":"c2","result":"relay_stuck","action":"OFF"}`,
			wantResult: models.ResultFailed,
			wantReason: "commandId=c2 result=relay_stuck",
			wantAction: models.Off,
		},
		{
			name:       "missing action falls back to last known relay",
			body:       `{"commandId":"c3","result":"ok"}`,
			wantResult: models.ResultExecuted,
			wantReason: "commandId=c3",
			wantAction: models.On,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(models.Siren{ID: 7, DeviceID: "SRN-001"})
			h.deliver("status/SRN-001/state", `{"relay":"ON"}`)

			h.deliver("cmd/SRN-001/ack", tt.body)

			entries := h.ledgerRepo.all()
			if len(entries) != 1 {
				t.Fatalf("expected 1 ledger entry, got %d", len(entries))
			}
			e := entries[0]
			if e.Result != tt.wantResult || e.Reason != tt.wantReason || e.Action != tt.wantAction {
				t.Fatalf("entry = %+v", e)
			}
			if e.UserID != nil || e.SirenID == nil || *e.SirenID != 7 {
				t.Fatalf("ack entries carry the siren and no user: %+v", e)
			}
		})
	}
}

func TestIngestor_AckUsesPendingAction(t *testing.T) {
	h := newHarness(models.Siren{ID: 7, DeviceID: "SRN-001"})
	h.deliver("status/SRN-001/state", `{"relay":"ON"}`)
	_ = h.dispatcher.Publish(context.Background(), "SRN-001", &models.CommandPayload{CommandID: "c9", Action: models.Off})

	h.deliver("cmd/SRN-001/ack", `{"commandId":"c9","result":"done"}`)

	entries := h.ledgerRepo.all()
	if len(entries) != 1 || entries[0].Action != models.Off {
		t.Fatalf("ack action should come from the pending OFF, got %+v", entries)
	}
	events := h.events.all()
	ack, ok := events[len(events)-1].data.(AckEvent)
	if !ok || !ack.Matched || ack.ActionSource != "pending" {
		t.Fatalf("ack event = %+v", events[len(events)-1])
	}
}

// Duplicate acks are not deduplicated; each produces its own entry.
func TestIngestor_DuplicateAcksBothRecorded(t *testing.T) {
	h := newHarness(models.Siren{ID: 7, DeviceID: "SRN-001"})

	h.deliver("cmd/SRN-001/ack", `{"commandId":"dup","result":"success","action":"ON"}`)
	h.deliver("cmd/SRN-001/ack", `{"commandId":"dup","result":"success","action":"ON"}`)

	entries := h.ledgerRepo.all()
	if len(entries) != 2 {
		t.Fatalf("expected 2 EXECUTED entries, got %d", len(entries))
	}
	for _, e := range entries {
		if e.Result != models.ResultExecuted {
			t.Fatalf("entry result = %s", e.Result)
		}
	}
}

func TestIngestor_AckForUnknownDeviceStillEmits(t *testing.T) {
	h := newHarness()

	h.deliver("cmd/GHOST/ack", `{"commandId":"c1","result":"ok","action":"ON"}`)

	if len(h.ledgerRepo.all()) != 0 {
		t.Fatalf("unresolved device must not be recorded")
	}
	events := h.events.all()
	if len(events) != 1 || events[0].name != realtime.EventAck {
		t.Fatalf("device.ack must be emitted regardless, got %+v", events)
	}
}

func TestIngestor_AutoOffLifecycle(t *testing.T) {
	h := newHarness(models.Siren{ID: 1, DeviceID: "SRN-001"})
	ctx := context.Background()

	p := &models.CommandPayload{CommandID: "manual-1", Action: models.On, TTLMs: 300000, RequestedBy: "alice", Cause: models.CauseManual}
	if err := h.dispatcher.Publish(ctx, "SRN-001", p); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	h.ledger.Record(ctx, models.ActivationLog{DeviceID: "SRN-001", Action: models.On, Result: models.ResultAccepted, Reason: "commandId=manual-1"})

	h.clock.Advance(300000 * time.Millisecond)

	sent := h.client.sentMessages()
	if len(sent) != 2 {
		t.Fatalf("expected auto-off publish, got %d publishes", len(sent))
	}
	off := decodePayload(t, sent[1].payload)
	if off.Cause != models.CauseAuto || off.Action != models.Off {
		t.Fatalf("auto-off payload = %+v", off)
	}

	h.deliver("cmd/SRN-001/ack", `{"commandId":"`+off.CommandID+`","result":"success"}`)

	entries := h.ledgerRepo.all()
	want := []struct {
		result models.ActivationResult
		reason string
	}{
		{models.ResultAccepted, "commandId=manual-1"},
		{models.ResultAccepted, "AUTO_OFF"},
		{models.ResultExecuted, "commandId=" + off.CommandID},
	}
	if len(entries) != len(want) {
		t.Fatalf("expected %d entries, got %+v", len(want), entries)
	}
	for i, w := range want {
		if entries[i].Result != w.result || entries[i].Reason != w.reason {
			t.Fatalf("entry %d = %s/%s, want %s/%s", i, entries[i].Result, entries[i].Reason, w.result, w.reason)
		}
	}
	if entries[2].Action != models.Off {
		t.Fatalf("ack for the auto OFF must resolve to OFF, got %s", entries[2].Action)
	}
	ack := h.events.all()[0].data.(AckEvent)
	if !ack.Auto {
		t.Fatalf("ack event must flag the auto-off command")
	}
}
