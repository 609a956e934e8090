package orchestration

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/aurasign/aura-core/core/bus"
)

func TestBarrierForwardsOnlyWhenBothFieldsPresent(t *testing.T) {
	ctx := context.Background()
	fakeBroker := newFakeBus()
	store := newFakeFieldStore()
	barrier := newAggregationBarrier(fakeBroker, store)

	_ = store.SetField(ctx, "job-1", "user_tone", "Formal")
	_ = store.SetField(ctx, "job-1", "raw_gloss", "HELLO YOU")

	if err := barrier.notify(ctx, "job-1", "reply-q"); err != nil {
		t.Fatalf("notification with incomplete record errored: %v", err)
	}
	if published := fakeBroker.publishes(); len(published) != 0 {
		t.Fatalf("expected no forward with only one required field, got %d", len(published))
	}
	if _, ok := store.record("job-1"); !ok {
		t.Fatalf("expected the partial record to persist")
	}

	_ = store.SetField(ctx, "job-1", "dominant_emotion", "happy")
	if err := barrier.notify(ctx, "job-1", "reply-q"); err != nil {
		t.Fatalf("notification with complete record errored: %v", err)
	}

	published := fakeBroker.publishesTo(bus.GeminiTaskKey)
	if len(published) != 1 {
		t.Fatalf("expected exactly one forward to the next stage, got %d", len(published))
	}
	if published[0].msg.CorrelationID != "job-1" || published[0].msg.ReplyTo != "reply-q" {
		t.Fatalf("expected forward to keep correlation id and reply destination, got %+v", published[0].msg)
	}

	var merged mergedPayload
	if err := json.Unmarshal(published[0].msg.Body, &merged); err != nil {
		t.Fatalf("failed to decode merged payload: %v", err)
	}
	want := mergedPayload{RawGloss: "HELLO YOU", DominantEmotion: "happy", UserTone: "Formal"}
	if merged != want {
		t.Fatalf("expected merged payload %+v, got %+v", want, merged)
	}

	if _, ok := store.record("job-1"); ok {
		t.Fatalf("expected the record to be consumed after forwarding")
	}
}

func TestBarrierMergeIsIdempotentAfterConsumption(t *testing.T) {
	ctx := context.Background()
	fakeBroker := newFakeBus()
	store := newFakeFieldStore()
	barrier := newAggregationBarrier(fakeBroker, store)

	_ = store.SetField(ctx, "job-1", "raw_gloss", "THANKS")
	_ = store.SetField(ctx, "job-1", "dominant_emotion", "neutral")

	if err := barrier.notify(ctx, "job-1", "reply-q"); err != nil {
		t.Fatalf("first notification errored: %v", err)
	}
	// The duplicate arrives after the record was deleted.
	if err := barrier.notify(ctx, "job-1", "reply-q"); err != nil {
		t.Fatalf("duplicate notification errored: %v", err)
	}

	if published := fakeBroker.publishesTo(bus.GeminiTaskKey); len(published) != 1 {
		t.Fatalf("expected exactly one forward despite duplicate notification, got %d", len(published))
	}
}

func TestBarrierIsOrderIndependent(t *testing.T) {
	orderings := [][]string{
		{"raw_gloss", "dominant_emotion"},
		{"dominant_emotion", "raw_gloss"},
	}

	for _, ordering := range orderings {
		ctx := context.Background()
		fakeBroker := newFakeBus()
		store := newFakeFieldStore()
		barrier := newAggregationBarrier(fakeBroker, store)

		values := map[string]string{"raw_gloss": "GOOD MORNING", "dominant_emotion": "happy"}
		for _, field := range ordering {
			_ = store.SetField(ctx, "job-1", field, values[field])
			if err := barrier.notify(ctx, "job-1", "reply-q"); err != nil {
				t.Fatalf("notification errored: %v", err)
			}
		}

		published := fakeBroker.publishesTo(bus.GeminiTaskKey)
		if len(published) != 1 {
			t.Fatalf("ordering %v: expected one forward, got %d", ordering, len(published))
		}
		var merged mergedPayload
		if err := json.Unmarshal(published[0].msg.Body, &merged); err != nil {
			t.Fatalf("failed to decode merged payload: %v", err)
		}
		if merged.RawGloss != "GOOD MORNING" || merged.DominantEmotion != "happy" {
			t.Fatalf("ordering %v: unexpected merged payload %+v", ordering, merged)
		}
	}
}

func TestBarrierSurvivesConcurrentNotifications(t *testing.T) {
	ctx := context.Background()
	fakeBroker := newFakeBus()
	store := newFakeFieldStore()
	barrier := newAggregationBarrier(fakeBroker, store)

	_ = store.SetField(ctx, "job-1", "raw_gloss", "HI")
	_ = store.SetField(ctx, "job-1", "dominant_emotion", "happy")

	// Both workers finished near-simultaneously, so both notifications race.
	var wg sync.WaitGroup
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := barrier.notify(ctx, "job-1", "reply-q"); err != nil {
				t.Errorf("notification errored: %v", err)
			}
		}()
	}
	wg.Wait()

	if published := fakeBroker.publishesTo(bus.GeminiTaskKey); len(published) != 1 {
		t.Fatalf("expected exactly one forward under racing notifications, got %d", len(published))
	}
}

func TestNotificationAckedOnlyAfterBarrierCompletes(t *testing.T) {
	_, fakeBroker, store := newTestOrchestrator(t)

	_ = store.SetField(context.Background(), "job-1", "raw_gloss", "HELLO")

	acked, err := fakeBroker.deliver(fakeBroker.notificationHandler, []byte(`{"part_received":"sign"}`), "job-1", "reply-q")
	if err != nil {
		t.Fatalf("notification handling errored: %v", err)
	}
	if !acked {
		t.Fatalf("expected notification acknowledged after barrier processing")
	}
}
