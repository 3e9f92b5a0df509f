package slack

import (
	"encoding/json"
	"fmt"

	"github.com/MikeSquared-Agency/bclparser/internal/orchestrator"
)

// ReactionEvent is a Slack reaction forwarded over NATS.
type ReactionEvent struct {
	Reaction  string `json:"reaction"`
	UserID    string `json:"user_id"`
	Channel   string `json:"channel"`
	MessageTS string `json:"message_ts"`
}

// ParseReaction maps a reaction on a day-failure message to a decision.
// ok is false for reactions that carry no decision.
func ParseReaction(reaction string) (d orchestrator.Decision, ok bool) {
	switch reaction {
	case "arrow_forward", "+1", "thumbsup", "white_check_mark":
		return orchestrator.Continue, true
	case "octagonal_sign", "-1", "thumbsdown", "x":
		return orchestrator.Abort, true
	default:
		return orchestrator.Abort, false
	}
}

// ParseReactionEvent parses a forwarded reaction. The forwarder wraps the
// event fields in a metadata object.
func ParseReactionEvent(data []byte) (*ReactionEvent, error) {
	var wrapper struct {
		Metadata map[string]string `json:"metadata"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return nil, fmt.Errorf("parse reaction wrapper: %w", err)
	}

	evt := &ReactionEvent{
		Reaction:  wrapper.Metadata["text"],
		UserID:    wrapper.Metadata["user_id"],
		Channel:   wrapper.Metadata["channel_id"],
		MessageTS: wrapper.Metadata["message_ts"],
	}
	if len(evt.Reaction) > 2 && evt.Reaction[0] == ':' && evt.Reaction[len(evt.Reaction)-1] == ':' {
		evt.Reaction = evt.Reaction[1 : len(evt.Reaction)-1]
	}
	return evt, nil
}
