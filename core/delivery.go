package orchestration

import (
	"context"

	"github.com/aurasign/aura-core/core/protocol"
)

// deliveryRouter writes terminal outcomes back to sessions. Both paths
// tolerate a session that has closed since the job was submitted: an
// already-disconnected client is expected, not exceptional.
type deliveryRouter struct{}

func newDeliveryRouter() *deliveryRouter {
	return &deliveryRouter{}
}

// deliverSuccess writes the finished artifact. The detected conversational
// tone, when the pipeline reported one, goes out first as its own frame so
// clients can update their display before the (much larger) audio frame
// lands.
func (d *deliveryRouter) deliverSuccess(ctx context.Context, session *Session, result resultPayload) {
	if result.ConversationTone != "" {
		if err := session.send(protocol.ToneFrame{ConversationTone: result.ConversationTone}); err != nil {
			logger.WarnContext(ctx, "failed to deliver tone frame",
				"sessionID", session.ID(), "error", err)
		}
	}

	if err := session.send(protocol.SuccessFrame{
		AudioData: result.AudioData,
		Sentence:  result.Sentence,
	}); err != nil {
		logger.WarnContext(ctx, "failed to deliver success frame",
			"sessionID", session.ID(), "error", err)
	}
}

// deliverFailure writes the degraded, transcript-only frame for a job a stage
// could not complete.
func (d *deliveryRouter) deliverFailure(ctx context.Context, session *Session, sentence string) {
	if err := session.send(protocol.NewFailureFrame(sentence)); err != nil {
		logger.WarnContext(ctx, "failed to deliver failure frame",
			"sessionID", session.ID(), "error", err)
	}
}
