package translate

import (
	"strings"
	"testing"
)

func textMessage(role, text string) ChatMessage {
	return ChatMessage{Role: role, Content: Content{Text: text}}
}

func directOptions() Options {
	return Options{ModelID: "model-123", Modality: "chat", Mode: "direct_chat", BattleTarget: "A"}
}

func TestTranslateBuildsGraph(t *testing.T) {
	req := &ChatRequest{
		Model: "test-model",
		Messages: []ChatMessage{
			textMessage("system", "be brief"),
			textMessage("user", "hello"),
		},
	}

	payload, files := Translate(req, directOptions())

	if len(files) != 0 {
		t.Fatalf("expected no files, got %d", len(files))
	}
	if payload.Mode != "direct" {
		t.Errorf("mode = %q, want direct", payload.Mode)
	}
	if payload.Modality != "chat" {
		t.Errorf("modality = %q, want chat", payload.Modality)
	}
	if payload.ModelAID == nil || *payload.ModelAID != "model-123" {
		t.Errorf("modelAId = %v, want model-123", payload.ModelAID)
	}

	if len(payload.Messages) != 3 {
		t.Fatalf("got %d messages, want 3", len(payload.Messages))
	}
	system, user, stub := payload.Messages[0], payload.Messages[1], payload.Messages[2]

	if system.Role != "system" || system.Content != "be brief" {
		t.Errorf("first message = %s %q", system.Role, system.Content)
	}
	if system.ParentMessageIDs == nil || len(system.ParentMessageIDs) != 0 {
		t.Errorf("first message parents = %v, want empty list", system.ParentMessageIDs)
	}
	if system.ParticipantPosition != "b" {
		t.Errorf("system position = %q, want b", system.ParticipantPosition)
	}
	if system.ModelID != nil {
		t.Errorf("system modelId = %v, want nil", system.ModelID)
	}

	if user.ParticipantPosition != "a" {
		t.Errorf("user position = %q, want a", user.ParticipantPosition)
	}
	if len(user.ParentMessageIDs) != 1 || user.ParentMessageIDs[0] != system.ID {
		t.Errorf("user parents = %v, want [%s]", user.ParentMessageIDs, system.ID)
	}

	if stub.Role != "assistant" || stub.Content != "" {
		t.Errorf("stub = %s %q, want empty assistant", stub.Role, stub.Content)
	}
	if stub.ModelID == nil || *stub.ModelID != "model-123" {
		t.Errorf("stub modelId = %v, want model-123", stub.ModelID)
	}
	if len(stub.ParentMessageIDs) != 1 || stub.ParentMessageIDs[0] != user.ID {
		t.Errorf("stub parents = %v, want [%s]", stub.ParentMessageIDs, user.ID)
	}

	if payload.UserMessageID != user.ID {
		t.Errorf("userMessageId = %s, want %s", payload.UserMessageID, user.ID)
	}
	if payload.ModelAMessageID != stub.ID {
		t.Errorf("modelAMessageId = %s, want %s", payload.ModelAMessageID, stub.ID)
	}

	for i, msg := range payload.Messages {
		if msg.EvaluationSessionID != payload.ID {
			t.Errorf("message %d session = %s, want %s", i, msg.EvaluationSessionID, payload.ID)
		}
		if msg.Status != "pending" {
			t.Errorf("message %d status = %q, want pending", i, msg.Status)
		}
		if msg.ExperimentalAttachments == nil {
			t.Errorf("message %d attachments nil, want empty list", i)
		}
	}
}

func TestTranslateRoleNormalization(t *testing.T) {
	req := &ChatRequest{Messages: []ChatMessage{
		textMessage("developer", "rules"),
		textMessage("tool", "result"),
		textMessage("user", "hi"),
	}}

	payload, _ := Translate(req, directOptions())

	if payload.Messages[0].Role != "system" {
		t.Errorf("developer role = %q, want system", payload.Messages[0].Role)
	}
	if payload.Messages[0].ParticipantPosition != "b" {
		t.Errorf("developer position = %q, want b", payload.Messages[0].ParticipantPosition)
	}
	if payload.Messages[1].Role != "user" {
		t.Errorf("tool role = %q, want user", payload.Messages[1].Role)
	}
}

func TestTranslateBattlePositions(t *testing.T) {
	req := &ChatRequest{Messages: []ChatMessage{
		textMessage("system", "rules"),
		textMessage("user", "hi"),
	}}

	payload, _ := Translate(req, Options{
		ModelID: "m", Modality: "chat", Mode: "battle", BattleTarget: "B",
	})

	for i, msg := range payload.Messages {
		if msg.ParticipantPosition != "b" {
			t.Errorf("message %d position = %q, want b", i, msg.ParticipantPosition)
		}
	}
}

func TestTranslateBlankUserContent(t *testing.T) {
	req := &ChatRequest{Messages: []ChatMessage{
		textMessage("user", "   "),
		textMessage("assistant", ""),
		textMessage("user", "next"),
	}}

	payload, _ := Translate(req, directOptions())

	if payload.Messages[0].Content != " " {
		t.Errorf("blank user content = %q, want single space", payload.Messages[0].Content)
	}
	if payload.Messages[1].Content != "" {
		t.Errorf("assistant content = %q, want empty", payload.Messages[1].Content)
	}
}

func TestTranslateTavernMerge(t *testing.T) {
	req := &ChatRequest{Messages: []ChatMessage{
		textMessage("system", "first"),
		textMessage("user", "hi"),
		textMessage("system", "second"),
	}}

	opts := directOptions()
	opts.TavernMode = true
	payload, _ := Translate(req, opts)

	// system + user + stub
	if len(payload.Messages) != 3 {
		t.Fatalf("got %d messages, want 3", len(payload.Messages))
	}
	if payload.Messages[0].Role != "system" || payload.Messages[0].Content != "first\n\nsecond" {
		t.Errorf("merged system = %s %q", payload.Messages[0].Role, payload.Messages[0].Content)
	}
	if payload.Messages[1].Role != "user" {
		t.Errorf("second message role = %q, want user", payload.Messages[1].Role)
	}
}

func TestTranslateTavernNoSystem(t *testing.T) {
	req := &ChatRequest{Messages: []ChatMessage{textMessage("user", "hi")}}

	opts := directOptions()
	opts.TavernMode = true
	payload, _ := Translate(req, opts)

	if len(payload.Messages) != 2 {
		t.Fatalf("got %d messages, want 2", len(payload.Messages))
	}
	if payload.Messages[0].Role != "user" {
		t.Errorf("first role = %q, want user", payload.Messages[0].Role)
	}
}

func TestTranslateTrailingUserSpace(t *testing.T) {
	req := &ChatRequest{Messages: []ChatMessage{
		textMessage("user", "hi"),
		textMessage("assistant", "hello"),
	}}

	opts := directOptions()
	opts.InjectTrailingUserSpace = true
	payload, _ := Translate(req, opts)

	// user + injected user + assistant + stub
	if len(payload.Messages) != 4 {
		t.Fatalf("got %d messages, want 4", len(payload.Messages))
	}
	injected := payload.Messages[1]
	if injected.Role != "user" || injected.Content != " " {
		t.Errorf("injected = %s %q, want space-only user", injected.Role, injected.Content)
	}
	if payload.Messages[2].Role != "assistant" {
		t.Errorf("third role = %q, want assistant", payload.Messages[2].Role)
	}
}

func TestTranslateTrailingUserSpaceSkipsNonChat(t *testing.T) {
	req := &ChatRequest{Messages: []ChatMessage{textMessage("user", "a cat")}}

	opts := directOptions()
	opts.Modality = "image"
	opts.InjectTrailingUserSpace = true
	payload, _ := Translate(req, opts)

	if len(payload.Messages) != 2 {
		t.Fatalf("got %d messages, want 2", len(payload.Messages))
	}
}

func TestTranslateBypass(t *testing.T) {
	req := &ChatRequest{Messages: []ChatMessage{textMessage("user", "hi")}}

	opts := Options{ModelID: "m", Modality: "chat", Mode: "battle", BattleTarget: "B", BypassMode: true}
	payload, _ := Translate(req, opts)

	// user + bypass + stub
	if len(payload.Messages) != 3 {
		t.Fatalf("got %d messages, want 3", len(payload.Messages))
	}
	bypass := payload.Messages[1]
	if bypass.Role != "user" || bypass.Content != " " {
		t.Errorf("bypass = %s %q, want space-only user", bypass.Role, bypass.Content)
	}
	if bypass.ParticipantPosition != "a" {
		t.Errorf("bypass position = %q, want a even in battle mode", bypass.ParticipantPosition)
	}
	if payload.UserMessageID != bypass.ID {
		t.Errorf("userMessageId = %s, want bypass id %s", payload.UserMessageID, bypass.ID)
	}
	if payload.Messages[2].ParentMessageIDs[0] != bypass.ID {
		t.Errorf("stub parent = %s, want bypass id", payload.Messages[2].ParentMessageIDs[0])
	}
}

func TestTranslateBypassSkipsNonChat(t *testing.T) {
	req := &ChatRequest{Messages: []ChatMessage{textMessage("user", "a cat")}}

	opts := directOptions()
	opts.Modality = "video"
	opts.BypassMode = true
	payload, _ := Translate(req, opts)

	if len(payload.Messages) != 2 {
		t.Fatalf("got %d messages, want 2", len(payload.Messages))
	}
}

func TestTranslateMultimodalParts(t *testing.T) {
	req := &ChatRequest{Messages: []ChatMessage{
		{Role: "user", Content: Content{IsList: true, Parts: []ContentPart{
			{Type: "text", Text: "look at"},
			{Type: "image_url", ImageURL: &ImageURL{
				URL:    "data:image/png;base64,iVBORw0KGgo=",
				Detail: "diagram.png",
			}},
			{Type: "text", Text: "this"},
			{Type: "image_url", ImageURL: &ImageURL{URL: "https://example.com/x.png"}},
		}}},
	}}

	payload, files := Translate(req, directOptions())

	if payload.Messages[0].Content != "look at\n\nthis" {
		t.Errorf("content = %q, want parts joined by blank line", payload.Messages[0].Content)
	}
	if len(files) != 1 {
		t.Fatalf("got %d files, want 1", len(files))
	}
	if files[0].FileName != "diagram.png" {
		t.Errorf("file name = %q, want diagram.png", files[0].FileName)
	}
	if files[0].ContentType != "image/png" {
		t.Errorf("content type = %q, want image/png", files[0].ContentType)
	}
	if files[0].Data != "iVBORw0KGgo=" {
		t.Errorf("data = %q", files[0].Data)
	}
}

func TestTranslateInlineDataURL(t *testing.T) {
	req := &ChatRequest{Messages: []ChatMessage{
		textMessage("user", "see data:image/png;base64,iVBORw0KGgo= here"),
	}}

	payload, files := Translate(req, directOptions())

	if len(files) != 1 {
		t.Fatalf("got %d files, want 1", len(files))
	}
	content := payload.Messages[0].Content
	if strings.Contains(content, "base64") {
		t.Errorf("content still holds data URL: %q", content)
	}
}

func TestTranslateEmptyMessages(t *testing.T) {
	payload, _ := Translate(&ChatRequest{}, directOptions())

	if len(payload.Messages) != 1 {
		t.Fatalf("got %d messages, want stub only", len(payload.Messages))
	}
	stub := payload.Messages[0]
	if stub.Role != "assistant" {
		t.Errorf("stub role = %q", stub.Role)
	}
	if payload.UserMessageID == "" || payload.UserMessageID == stub.ID {
		t.Errorf("userMessageId = %q, want fresh id distinct from stub", payload.UserMessageID)
	}
	if stub.ParentMessageIDs[0] != payload.UserMessageID {
		t.Errorf("stub parent = %s, want %s", stub.ParentMessageIDs[0], payload.UserMessageID)
	}
}

func TestTranslateNoModelID(t *testing.T) {
	opts := directOptions()
	opts.ModelID = ""
	payload, _ := Translate(&ChatRequest{Messages: []ChatMessage{textMessage("user", "hi")}}, opts)

	if payload.ModelAID != nil {
		t.Errorf("modelAId = %v, want nil", payload.ModelAID)
	}
	if payload.Messages[1].ModelID != nil {
		t.Errorf("stub modelId = %v, want nil", payload.Messages[1].ModelID)
	}
}

func TestBuildRetry(t *testing.T) {
	req := &ChatRequest{Messages: []ChatMessage{
		{Role: "user", Content: Content{IsList: true, Parts: []ContentPart{
			{Type: "text", Text: "first"},
			{Type: "image_url", ImageURL: &ImageURL{URL: "data:image/png;base64,AAAA"}},
		}}},
		textMessage("assistant", "ok"),
		textMessage("user", "and now?"),
	}}

	payload, files := BuildRetry(req, "session-1", "message-1")

	if payload.Message.Content != "and now?" {
		t.Errorf("content = %q, want last user text", payload.Message.Content)
	}
	if payload.Message.Role != "user" {
		t.Errorf("role = %q, want user", payload.Message.Role)
	}
	if payload.Message.Attachments == nil || len(payload.Message.Attachments) != 0 {
		t.Errorf("message attachments = %v, want empty list", payload.Message.Attachments)
	}
	if !payload.Stream {
		t.Error("stream = false, want true")
	}
	if payload.MessageID != "message-1" || payload.EvaluationSessionID != "session-1" {
		t.Errorf("ids = %s/%s", payload.MessageID, payload.EvaluationSessionID)
	}
	if len(files) != 1 {
		t.Errorf("got %d files, want 1 from the part list", len(files))
	}
}

func TestBuildRetryKeepsInlineDataURL(t *testing.T) {
	text := "raw data:image/png;base64,iVBORw0KGgo= stays"
	req := &ChatRequest{Messages: []ChatMessage{textMessage("user", text)}}

	payload, files := BuildRetry(req, "s", "m")

	if payload.Message.Content != text {
		t.Errorf("content = %q, want untouched string", payload.Message.Content)
	}
	if len(files) != 0 {
		t.Errorf("got %d files, want none from string content", len(files))
	}
}

func TestBuildRetryLastNotUser(t *testing.T) {
	req := &ChatRequest{Messages: []ChatMessage{
		textMessage("user", "hi"),
		textMessage("assistant", "hello"),
	}}

	payload, _ := BuildRetry(req, "s", "m")

	if payload.Message.Content != "" {
		t.Errorf("content = %q, want empty when last message is not a user turn", payload.Message.Content)
	}
}

func TestBuildWarmup(t *testing.T) {
	payload := BuildWarmup("model-9", "hello")

	if len(payload.Messages) != 2 {
		t.Fatalf("got %d messages, want 2", len(payload.Messages))
	}
	user, stub := payload.Messages[0], payload.Messages[1]

	if user.Role != "user" || user.Content != "hello" {
		t.Errorf("user = %s %q", user.Role, user.Content)
	}
	if len(user.ParentMessageIDs) != 0 {
		t.Errorf("user parents = %v, want empty", user.ParentMessageIDs)
	}
	if stub.Role != "assistant" || stub.ModelID == nil || *stub.ModelID != "model-9" {
		t.Errorf("stub = %s modelId=%v", stub.Role, stub.ModelID)
	}
	if stub.ParentMessageIDs[0] != user.ID {
		t.Errorf("stub parent = %s, want user id", stub.ParentMessageIDs[0])
	}
	if payload.Modality != "chat" {
		t.Errorf("modality = %q, want chat", payload.Modality)
	}
	if payload.UserMessageID != user.ID || payload.ModelAMessageID != stub.ID {
		t.Errorf("ids = %s/%s", payload.UserMessageID, payload.ModelAMessageID)
	}
	for i, msg := range payload.Messages {
		if msg.ParticipantPosition != "a" {
			t.Errorf("message %d position = %q, want a", i, msg.ParticipantPosition)
		}
	}
}

func TestModalityForType(t *testing.T) {
	cases := map[string]string{
		"image": "image",
		"video": "video",
		"text":  "chat",
		"":      "chat",
		"other": "chat",
	}
	for in, want := range cases {
		if got := ModalityForType(in); got != want {
			t.Errorf("ModalityForType(%q) = %q, want %q", in, got, want)
		}
	}
}
