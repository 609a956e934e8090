package protocol

import (
	"github.com/invopop/jsonschema"
)

// Schema reflects the client wire frames into a single JSON Schema document,
// keyed by frame name. The gateway serves it so client authors don't have to
// reverse-engineer the frame shapes from traffic.
func Schema() map[string]*jsonschema.Schema {
	reflector := jsonschema.Reflector{DoNotReference: true}

	return map[string]*jsonschema.Schema{
		"append":      reflector.Reflect(&AppendFrame{}),
		"end_of_turn": reflector.Reflect(&EndOfTurnFrame{}),
		"success":     reflector.Reflect(&SuccessFrame{}),
		"tone":        reflector.Reflect(&ToneFrame{}),
		"failure":     reflector.Reflect(&FailureFrame{}),
		"error":       reflector.Reflect(&ErrorFrame{}),
	}
}
