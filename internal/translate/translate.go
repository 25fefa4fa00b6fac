package translate

import (
	"strings"

	"github.com/google/uuid"
)

// Options select the translation behavior for one request.
type Options struct {
	ModelID      string // upstream model id, empty when the map has none
	Modality     string // chat, image or video
	Mode         string // direct_chat or battle
	BattleTarget string // A or B, battle mode only

	// Binding to an existing upstream conversation. When set, the graph
	// reuses this evaluation id and regenerates from this message instead
	// of opening a fresh evaluation.
	SessionID string
	MessageID string

	TavernMode              bool
	BypassMode              bool
	InjectTrailingUserSpace bool
}

type processedMessage struct {
	role          string
	content       string
	forcePosition string
}

// Translate builds the full conversation-graph payload for a fresh
// evaluation, plus the uploads extracted from the messages.
func Translate(req *ChatRequest, opts Options) (*Payload, []Attachment) {
	processed, files := processMessages(req.Messages, true)

	if opts.TavernMode {
		processed = mergeTavernSystem(processed)
	}

	if opts.Modality == "chat" && opts.InjectTrailingUserSpace {
		processed = injectTrailingUserSpace(processed)
	}

	if opts.BypassMode && opts.Modality == "chat" {
		processed = append(processed, processedMessage{
			role:          "user",
			content:       " ",
			forcePosition: "a",
		})
	}

	evaluationID := opts.SessionID
	if evaluationID == "" {
		evaluationID = uuid.NewString()
	}
	modelID := optionalID(opts.ModelID)

	messages := make([]ArenaMessage, 0, len(processed)+1)
	ids := make([]string, len(processed))
	for i := range processed {
		ids[i] = uuid.NewString()
	}

	for i, msg := range processed {
		role := normalizeGraphRole(msg.role)
		position := msg.forcePosition
		if position == "" {
			position = participantPosition(role, opts.Mode, opts.BattleTarget)
		}

		var parents []string
		if i > 0 {
			parents = []string{ids[i-1]}
		} else {
			parents = []string{}
		}

		var msgModelID *string
		if role == "assistant" {
			msgModelID = modelID
		}

		messages = append(messages, ArenaMessage{
			ID:                      ids[i],
			Role:                    role,
			Content:                 msg.content,
			ExperimentalAttachments: []Attachment{},
			ParentMessageIDs:        parents,
			ParticipantPosition:     position,
			ModelID:                 msgModelID,
			EvaluationSessionID:     evaluationID,
			Status:                  "pending",
		})
	}

	userMessageID := uuid.NewString()
	if len(ids) > 0 {
		userMessageID = ids[len(ids)-1]
	}

	modelAMessageID := opts.MessageID
	if modelAMessageID == "" {
		modelAMessageID = uuid.NewString()
	}
	messages = append(messages, ArenaMessage{
		ID:                      modelAMessageID,
		Role:                    "assistant",
		Content:                 "",
		ExperimentalAttachments: []Attachment{},
		ParentMessageIDs:        []string{userMessageID},
		ParticipantPosition:     participantPosition("assistant", opts.Mode, opts.BattleTarget),
		ModelID:                 modelID,
		EvaluationSessionID:     evaluationID,
		Status:                  "pending",
	})

	payload := &Payload{
		ID:              evaluationID,
		Mode:            "direct",
		ModelAID:        modelID,
		UserMessageID:   userMessageID,
		ModelAMessageID: modelAMessageID,
		Messages:        messages,
		Modality:        opts.Modality,
	}
	return payload, guardFileCount(files)
}

// BuildRetry builds the lighter payload that reuses a warmed session: only
// the last user message travels, bound to the session's stored ids.
func BuildRetry(req *ChatRequest, sessionID, messageID string) (*RetryPayload, []Attachment) {
	processed, files := processMessages(req.Messages, false)

	lastUserContent := ""
	if len(processed) > 0 && processed[len(processed)-1].role == "user" {
		lastUserContent = processed[len(processed)-1].content
	}

	payload := &RetryPayload{
		Message: RetryMessage{
			Content:     lastUserContent,
			Role:        "user",
			Attachments: []Attachment{},
		},
		Stream:              true,
		MessageID:           messageID,
		EvaluationSessionID: sessionID,
	}
	return payload, guardFileCount(files)
}

// BuildWarmup builds the two-message graph that opens a session: one user
// prompt and the assistant stub the upstream fills in.
func BuildWarmup(modelID, prompt string) *Payload {
	evaluationID := uuid.NewString()
	userMessageID := uuid.NewString()
	modelAMessageID := uuid.NewString()
	id := optionalID(modelID)

	messages := []ArenaMessage{
		{
			ID:                      userMessageID,
			Role:                    "user",
			Content:                 prompt,
			ExperimentalAttachments: []Attachment{},
			ParentMessageIDs:        []string{},
			ParticipantPosition:     "a",
			EvaluationSessionID:     evaluationID,
			Status:                  "pending",
		},
		{
			ID:                      modelAMessageID,
			Role:                    "assistant",
			Content:                 "",
			ExperimentalAttachments: []Attachment{},
			ParentMessageIDs:        []string{userMessageID},
			ParticipantPosition:     "a",
			ModelID:                 id,
			EvaluationSessionID:     evaluationID,
			Status:                  "pending",
		},
	}

	return &Payload{
		ID:              evaluationID,
		Mode:            "direct",
		ModelAID:        id,
		UserMessageID:   userMessageID,
		ModelAMessageID: modelAMessageID,
		Messages:        messages,
		Modality:        "chat",
	}
}

// processMessages normalizes roles, flattens content and extracts uploads.
// extractInline additionally peels data URLs out of plain string content;
// the retry path leaves string content untouched.
func processMessages(messages []ChatMessage, extractInline bool) ([]processedMessage, []Attachment) {
	processed := make([]processedMessage, 0, len(messages))
	var files []Attachment

	for _, msg := range messages {
		role := msg.Role
		if role == "developer" {
			role = "system"
		}

		var content string
		switch {
		case msg.Content.IsList:
			var textParts []string
			for _, part := range msg.Content.Parts {
				switch part.Type {
				case "text":
					textParts = append(textParts, part.Text)
				case "image_url":
					if part.ImageURL == nil {
						continue
					}
					if file, ok := AttachmentFromDataURL(part.ImageURL.URL, part.ImageURL.Detail); ok {
						files = append(files, file)
					}
				}
			}
			content = strings.Join(textParts, "\n\n")
		case extractInline:
			content, files = extractInto(files, msg.Content.Text)
		default:
			content = msg.Content.Text
		}

		// The upstream rejects empty user turns.
		if role == "user" && strings.TrimSpace(content) == "" {
			content = " "
		}

		processed = append(processed, processedMessage{role: role, content: content})
	}

	return processed, files
}

func extractInto(files []Attachment, text string) (string, []Attachment) {
	cleaned, extracted := ExtractInlineAttachments(text)
	return cleaned, append(files, extracted...)
}

// mergeTavernSystem folds every system message into one leading system
// prompt, keeping the remaining messages in order.
func mergeTavernSystem(processed []processedMessage) []processedMessage {
	var systemParts []string
	others := make([]processedMessage, 0, len(processed))
	for _, msg := range processed {
		if msg.role == "system" {
			systemParts = append(systemParts, msg.content)
		} else {
			others = append(others, msg)
		}
	}

	merged := strings.Join(systemParts, "\n\n")
	if merged == "" {
		return others
	}
	return append([]processedMessage{{role: "system", content: merged}}, others...)
}

// injectTrailingUserSpace inserts a space-only user message right after the
// last user message.
func injectTrailingUserSpace(processed []processedMessage) []processedMessage {
	last := -1
	for i := len(processed) - 1; i >= 0; i-- {
		if processed[i].role == "user" {
			last = i
			break
		}
	}
	if last == -1 {
		return processed
	}

	out := make([]processedMessage, 0, len(processed)+1)
	out = append(out, processed[:last+1]...)
	out = append(out, processedMessage{role: "user", content: " "})
	out = append(out, processed[last+1:]...)
	return out
}

// normalizeGraphRole maps roles the upstream graph does not know to "user".
func normalizeGraphRole(role string) string {
	switch role {
	case "user", "assistant", "system", "data":
		return role
	default:
		return "user"
	}
}

// participantPosition assigns the conversation side for one message.
// Direct chat pins system prompts to "b" and everything else to "a";
// battle mode puts every message on the chosen target's side.
func participantPosition(role, mode, battleTarget string) string {
	target := strings.ToLower(battleTarget)
	if target != "a" && target != "b" {
		target = "a"
	}

	if mode == "battle" {
		return target
	}
	if role == "system" {
		return "b"
	}
	return "a"
}

func optionalID(id string) *string {
	if id == "" {
		return nil
	}
	return &id
}
