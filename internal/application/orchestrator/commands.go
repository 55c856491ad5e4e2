package orchestrator

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aescanero/grantflow/pkg/domain"
	"github.com/mitchellh/mapstructure"
)

const commandEventPrefix = "command."

// EncodeCommand wraps a command in an event for the command topic.
func EncodeCommand(cmd domain.Command) (domain.Event, error) {
	raw, err := json.Marshal(cmd)
	if err != nil {
		return domain.Event{}, fmt.Errorf("failed to encode command: %w", err)
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return domain.Event{}, fmt.Errorf("failed to encode command: %w", err)
	}
	return domain.Event{
		ID:        cmd.ID,
		Type:      domain.EventType(commandEventPrefix + string(cmd.Type)),
		ThreadID:  cmd.ThreadID,
		Timestamp: cmd.Issued,
		Data:      data,
	}, nil
}

// DecodeCommand extracts the command carried by an event. Event data may
// come straight from Publish or from a transport that decoded it as JSON.
func DecodeCommand(event domain.Event) (domain.Command, error) {
	if !strings.HasPrefix(string(event.Type), commandEventPrefix) {
		return domain.Command{}, domain.NewValidationError("type", fmt.Sprintf("event %s is not a command", event.Type))
	}

	var cmd domain.Command
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeHookFunc(time.RFC3339Nano),
		),
		TagName: "json",
		Result:  &cmd,
	})
	if err != nil {
		return domain.Command{}, fmt.Errorf("failed to create command decoder: %w", err)
	}
	if err := decoder.Decode(event.Data); err != nil {
		return domain.Command{}, domain.NewValidationError("data", fmt.Sprintf("malformed command: %v", err))
	}

	if cmd.ID == "" {
		cmd.ID = event.ID
	}
	if cmd.ThreadID == "" {
		cmd.ThreadID = event.ThreadID
	}
	if cmd.Type == "" {
		cmd.Type = domain.CommandType(strings.TrimPrefix(string(event.Type), commandEventPrefix))
	}
	return cmd, nil
}
