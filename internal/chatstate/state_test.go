package chatstate

import (
	"context"
	"errors"
	"testing"
	"time"

	"sprache-backend/internal/client"
	"sprache-backend/internal/models"
	"sprache-backend/internal/services"
)

type stubAPI struct {
	conversations []*models.Conversation
	sendResp      *models.ChatResponse
	sendErr       error
	sendPrompt    string
	sendID        *int64
	renamed       *models.Conversation
	getResp       *models.Conversation
	getErr        error
	deleteErr     error
	deleted       []int64
}

func (a *stubAPI) Send(ctx context.Context, prompt string, conversationID *int64) (*models.ChatResponse, error) {
	a.sendPrompt = prompt
	a.sendID = conversationID
	if a.sendErr != nil {
		return nil, a.sendErr
	}
	return a.sendResp, nil
}

func (a *stubAPI) List(ctx context.Context) ([]*models.Conversation, error) {
	return a.conversations, nil
}

func (a *stubAPI) Get(ctx context.Context, id int64) (*models.Conversation, error) {
	if a.getErr != nil {
		return nil, a.getErr
	}
	return a.getResp, nil
}

func (a *stubAPI) Rename(ctx context.Context, id int64, title string) (*models.Conversation, error) {
	return a.renamed, nil
}

func (a *stubAPI) Delete(ctx context.Context, id int64) error {
	if a.deleteErr != nil {
		return a.deleteErr
	}
	a.deleted = append(a.deleted, id)
	return nil
}

func conv(id int64, title string, msgs ...string) *models.Conversation {
	c := &models.Conversation{ID: id, Title: title}
	for i, m := range msgs {
		role := models.RoleUser
		if i%2 == 1 {
			role = models.RoleAssistant
		}
		c.Messages = append(c.Messages, models.Message{ID: int64(i + 1), ConversationID: id, Role: role, Content: m})
	}
	return c
}

func mounted(t *testing.T, api *stubAPI) *State {
	t.Helper()
	s := New(api)
	if err := s.Mount(context.Background()); err != nil {
		t.Fatalf("mount: %v", err)
	}
	return s
}

func TestMount_SelectsMostRecent(t *testing.T) {
	s := mounted(t, &stubAPI{conversations: []*models.Conversation{conv(2, "Lektion2"), conv(1, "Lektion1")}})

	if s.SelectedID() != 2 {
		t.Fatalf("expected first conversation selected, got %d", s.SelectedID())
	}
	if s.InitialLoading() {
		t.Fatalf("initial loading should be cleared")
	}
}

func TestMount_EmptyLeavesNothingSelected(t *testing.T) {
	s := mounted(t, &stubAPI{})

	if _, ok := s.Selected(); ok {
		t.Fatalf("expected no selection")
	}
}

func TestNewChat_PrependsServerConversation(t *testing.T) {
	created := conv(3, "Lektion2", services.GreetingPrompt, "Willkommen!")
	api := &stubAPI{
		conversations: []*models.Conversation{conv(1, "Lektion1", "a", "b")},
		sendResp:      &models.ChatResponse{Message: "Willkommen!", Conversation: created},
	}
	s := mounted(t, api)

	if err := s.NewChat(context.Background()); err != nil {
		t.Fatalf("new chat: %v", err)
	}
	if api.sendPrompt != services.GreetingPrompt || api.sendID != nil {
		t.Fatalf("expected greeting without id, got %q %v", api.sendPrompt, api.sendID)
	}

	convs := s.Conversations()
	if len(convs) != 2 || convs[0].ID != 3 {
		t.Fatalf("expected new conversation first, got %+v", convs)
	}
	if s.SelectedID() != 3 {
		t.Fatalf("expected new conversation selected")
	}
}

func TestNewChat_SynthesizesWhenServerSendsNoRecord(t *testing.T) {
	api := &stubAPI{sendResp: &models.ChatResponse{Message: "Willkommen!"}}
	s := mounted(t, api)

	if err := s.NewChat(context.Background()); err != nil {
		t.Fatalf("new chat: %v", err)
	}
	sel, ok := s.Selected()
	if !ok {
		t.Fatalf("expected synthesized conversation to be selected")
	}
	if len(sel.Messages) != 2 || sel.Messages[0].Content != services.GreetingPrompt || sel.Messages[1].Content != "Willkommen!" {
		t.Fatalf("unexpected synthesized messages %+v", sel.Messages)
	}
	if sel.Title != "Lektion1" {
		t.Fatalf("unexpected synthesized title %q", sel.Title)
	}
}

func TestSend_AppendsPairAndClearsInput(t *testing.T) {
	api := &stubAPI{
		conversations: []*models.Conversation{conv(1, "Lektion1", "a", "b"), conv(2, "Lektion2", "c", "d")},
		sendResp:      &models.ChatResponse{Message: "Gut gemacht!"},
	}
	s := mounted(t, api)
	if err := s.Select(2); err != nil {
		t.Fatalf("select: %v", err)
	}

	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s.now = func() time.Time { return fixed }
	s.SetInput("  Ich lerne Deutsch  ")

	if err := s.Send(context.Background()); err != nil {
		t.Fatalf("send: %v", err)
	}
	if api.sendID == nil || *api.sendID != 2 || api.sendPrompt != "Ich lerne Deutsch" {
		t.Fatalf("unexpected request %q %v", api.sendPrompt, api.sendID)
	}

	sel, _ := s.Selected()
	if n := len(sel.Messages); n != 4 {
		t.Fatalf("expected 4 messages, got %d", n)
	}
	user, assistant := sel.Messages[2], sel.Messages[3]
	if user.Role != models.RoleUser || user.Content != "Ich lerne Deutsch" || !user.CreatedAt.Equal(fixed) {
		t.Fatalf("unexpected user message %+v", user)
	}
	if assistant.Role != models.RoleAssistant || assistant.Content != "Gut gemacht!" {
		t.Fatalf("unexpected assistant message %+v", assistant)
	}
	if s.Input() != "" {
		t.Fatalf("input should be cleared, got %q", s.Input())
	}
	if s.Conversations()[0].ID != 2 {
		t.Fatalf("conversation with the new exchange should move first")
	}
}

func TestSend_Preconditions(t *testing.T) {
	api := &stubAPI{}
	s := mounted(t, api)

	s.SetInput("Hallo")
	if err := s.Send(context.Background()); !errors.Is(err, ErrNoSelection) {
		t.Fatalf("expected ErrNoSelection, got %v", err)
	}

	api.conversations = []*models.Conversation{conv(1, "Lektion1")}
	s = mounted(t, api)
	s.SetInput("   ")
	if err := s.Send(context.Background()); !errors.Is(err, ErrEmptyInput) {
		t.Fatalf("expected ErrEmptyInput, got %v", err)
	}
	if api.sendPrompt != "" {
		t.Fatalf("API should not be called")
	}
}

func TestSend_FailureKeepsInputAndSetsNotice(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		notice string
	}{
		{"quota", &client.APIError{Status: 429, Code: "QUOTA_EXCEEDED"}, services.SpeechFailureMessage},
		{"rate limited", &client.APIError{Status: 429, Code: "RATE_LIMITED", Message: "Too many requests. Please try again later."}, GenericFailureMessage},
		{"server", &client.APIError{Status: 500, Code: "INTERNAL_ERROR", Detail: "database is locked"}, GenericFailureMessage},
		{"network", errors.New("connection refused"), GenericFailureMessage},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			api := &stubAPI{conversations: []*models.Conversation{conv(1, "Lektion1", "a", "b")}, sendErr: tc.err}
			s := mounted(t, api)
			s.SetInput("Hallo")

			if err := s.Send(context.Background()); err == nil {
				t.Fatalf("expected error")
			}
			if got := s.Notice(); got != tc.notice {
				t.Fatalf("expected notice %q, got %q", tc.notice, got)
			}
			if s.Input() != "Hallo" {
				t.Fatalf("input should survive a failed send")
			}
			if sel, _ := s.Selected(); len(sel.Messages) != 2 {
				t.Fatalf("no messages should be appended on failure")
			}
			if s.Loading() {
				t.Fatalf("loading should be cleared")
			}
		})
	}
}

func TestDelete_CallsServerBeforeRemoving(t *testing.T) {
	api := &stubAPI{conversations: []*models.Conversation{conv(1, "Lektion1"), conv(2, "Lektion2")}}
	s := mounted(t, api)

	api.deleteErr = errors.New("connection refused")
	if err := s.Delete(context.Background(), 1); err == nil {
		t.Fatalf("expected error")
	}
	if len(s.Conversations()) != 2 || s.SelectedID() != 1 {
		t.Fatalf("a failed delete must not change local state")
	}

	api.deleteErr = nil
	if err := s.Delete(context.Background(), 1); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(api.deleted) != 1 || api.deleted[0] != 1 {
		t.Fatalf("expected server delete of 1, got %v", api.deleted)
	}
	convs := s.Conversations()
	if len(convs) != 1 || convs[0].ID != 2 {
		t.Fatalf("expected only conversation 2 left, got %+v", convs)
	}
	if s.SelectedID() != 0 {
		t.Fatalf("selection should be cleared after deleting the selected conversation")
	}
}

func TestRename_ReplacesRecord(t *testing.T) {
	renamed := conv(2, "Farben", "a", "b")
	api := &stubAPI{conversations: []*models.Conversation{conv(1, "Lektion1"), conv(2, "Lektion2", "a", "b")}, renamed: renamed}
	s := mounted(t, api)

	if err := s.Rename(context.Background(), 2, "Farben"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	convs := s.Conversations()
	if convs[0].ID != 2 || convs[0].Title != "Farben" {
		t.Fatalf("expected renamed conversation first, got %+v", convs[0])
	}
}

func TestApply_Events(t *testing.T) {
	api := &stubAPI{conversations: []*models.Conversation{conv(1, "Lektion1", "a", "b")}}
	s := mounted(t, api)
	ctx := context.Background()

	api.getResp = conv(5, "Lektion2", "x", "y")
	if err := s.Apply(ctx, models.WSMessage{Type: models.EventConversationCreated, Payload: models.ConversationEvent{ConversationID: 5}}); err != nil {
		t.Fatalf("apply created: %v", err)
	}
	if convs := s.Conversations(); len(convs) != 2 || convs[0].ID != 5 {
		t.Fatalf("expected pushed conversation prepended, got %+v", convs)
	}

	// Duplicate created events are ignored.
	s.Apply(ctx, models.WSMessage{Type: models.EventConversationCreated, Payload: models.ConversationEvent{ConversationID: 5}})
	if len(s.Conversations()) != 2 {
		t.Fatalf("duplicate created event added a conversation")
	}

	api.getResp = conv(1, "Lektion1", "a", "b", "c", "d")
	if err := s.Apply(ctx, models.WSMessage{Type: models.EventMessagesAppended, Payload: models.ConversationEvent{ConversationID: 1}}); err != nil {
		t.Fatalf("apply appended: %v", err)
	}
	convs := s.Conversations()
	if convs[0].ID != 1 || len(convs[0].Messages) != 4 {
		t.Fatalf("expected refreshed conversation first with 4 messages, got %+v", convs[0])
	}
	if s.SelectedID() != 1 {
		t.Fatalf("refresh must keep the selection, got %d", s.SelectedID())
	}

	s.Apply(ctx, models.WSMessage{Type: models.EventConversationRenamed, Payload: models.ConversationEvent{ConversationID: 5, Title: "Zahlen"}})
	for _, c := range s.Conversations() {
		if c.ID == 5 && c.Title != "Zahlen" {
			t.Fatalf("rename event not applied: %q", c.Title)
		}
	}

	s.Apply(ctx, models.WSMessage{Type: models.EventConversationDeleted, Payload: models.ConversationEvent{ConversationID: 1}})
	if convs := s.Conversations(); len(convs) != 1 || convs[0].ID != 5 {
		t.Fatalf("delete event not applied: %+v", convs)
	}
	if s.SelectedID() != 0 {
		t.Fatalf("deleting the selected conversation should clear the selection")
	}
}

func TestApply_AppendedForVanishedConversation(t *testing.T) {
	api := &stubAPI{conversations: []*models.Conversation{conv(1, "Lektion1")}}
	s := mounted(t, api)

	api.getErr = &client.APIError{Status: 404, Code: "NOT_FOUND"}
	if err := s.Apply(context.Background(), models.WSMessage{Type: models.EventMessagesAppended, Payload: models.ConversationEvent{ConversationID: 1}}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(s.Conversations()) != 0 {
		t.Fatalf("expected vanished conversation to be dropped")
	}
}

func TestSelect_Unknown(t *testing.T) {
	s := mounted(t, &stubAPI{conversations: []*models.Conversation{conv(1, "Lektion1")}})

	if err := s.Select(42); !errors.Is(err, ErrUnknownChat) {
		t.Fatalf("expected ErrUnknownChat, got %v", err)
	}
	if s.SelectedID() != 1 {
		t.Fatalf("selection changed after failed select")
	}
}
