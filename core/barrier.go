package orchestration

import (
	"context"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel/codes"

	"github.com/aurasign/aura-core/core/bus"
)

// Aggregation record fields. The two required fields are written by the
// recognition-stage workers, each independently; user_tone is pre-seeded by
// the dispatcher at submit time.
const (
	fieldRawGloss        = "raw_gloss"
	fieldDominantEmotion = "dominant_emotion"
	fieldUserTone        = "user_tone"
)

// mergedPayload is what the barrier forwards to the language-model stage once
// both partial results are in.
type mergedPayload struct {
	RawGloss        string `json:"raw_gloss"`
	DominantEmotion string `json:"dominant_emotion"`
	UserTone        string `json:"user_tone"`
}

// aggregationBarrier joins the two independently-completing recognition
// results for one job. Each worker writes its field straight into the shared
// store and sends a notification naming only the correlation id; the barrier
// re-checks completeness on every notification rather than counting writes.
//
// Completeness means exactly: raw_gloss and dominant_emotion both present.
// Once complete, the merged payload is forwarded and the record deleted, so a
// duplicate or reordered notification observed afterwards reads an empty
// record and no-ops. That makes the merge idempotent under at-least-once
// delivery.
type aggregationBarrier struct {
	bus   Bus
	store FieldStore

	locks keyedMutex
}

func newAggregationBarrier(b Bus, store FieldStore) *aggregationBarrier {
	return &aggregationBarrier{bus: b, store: store}
}

func (a *aggregationBarrier) notify(ctx context.Context, correlationID, replyTo string) error {
	ctx, span := tracer.Start(ctx, "barrier.notify")
	defer span.End()

	// The store's delete is not conditional on completeness, so the
	// check-and-delete must not interleave when both workers' notifications
	// arrive near-simultaneously. The lock is scoped to the job identity;
	// unrelated jobs never contend.
	unlock := a.locks.lock(correlationID)
	defer unlock()

	fields, err := a.store.Fields(ctx, correlationID)
	if err != nil {
		recordedErr := fmt.Errorf("failed to read aggregation record: %w", err)
		span.RecordError(recordedErr)
		span.SetStatus(codes.Error, recordedErr.Error())
		return recordedErr
	}

	gloss, hasGloss := fields[fieldRawGloss]
	emotion, hasEmotion := fields[fieldDominantEmotion]
	if !hasGloss || !hasEmotion {
		// The other worker hasn't finished (or the record is already
		// consumed). Its own notification will re-check.
		return nil
	}

	body, err := json.Marshal(mergedPayload{
		RawGloss:        gloss,
		DominantEmotion: emotion,
		UserTone:        fields[fieldUserTone],
	})
	if err != nil {
		return fmt.Errorf("failed to encode merged payload: %w", err)
	}

	if err := a.bus.Publish(ctx, bus.GeminiTaskKey, bus.Message{
		Body:          body,
		CorrelationID: correlationID,
		ReplyTo:       replyTo,
	}); err != nil {
		recordedErr := fmt.Errorf("failed to forward merged payload: %w", err)
		span.RecordError(recordedErr)
		span.SetStatus(codes.Error, recordedErr.Error())
		return recordedErr
	}

	if err := a.store.Delete(ctx, correlationID); err != nil {
		// The forward already happened; a lingering record is reclaimed by
		// the store's TTL, and a re-read of it can at worst cause a duplicate
		// forward that downstream stages key by correlation id.
		logger.WarnContext(ctx, "failed to delete consumed aggregation record",
			"correlationID", correlationID, "error", err)
	}

	return nil
}
