// Package chatstate holds what a chat client shows: the conversation list,
// the selected conversation and the pending input. It talks to the server
// through API and reconciles pushed conversation events.
package chatstate

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"sprache-backend/internal/client"
	"sprache-backend/internal/models"
	"sprache-backend/internal/services"
)

// GenericFailureMessage is shown for any failure that is not quota related.
const GenericFailureMessage = "Something went wrong. Please try again."

var (
	ErrNoSelection = errors.New("no conversation selected")
	ErrEmptyInput  = errors.New("message is empty")
	ErrUnknownChat = errors.New("unknown conversation")
)

// API is the subset of the server API the state drives.
type API interface {
	Send(ctx context.Context, prompt string, conversationID *int64) (*models.ChatResponse, error)
	List(ctx context.Context) ([]*models.Conversation, error)
	Get(ctx context.Context, id int64) (*models.Conversation, error)
	Rename(ctx context.Context, id int64, title string) (*models.Conversation, error)
	Delete(ctx context.Context, id int64) error
}

var _ API = (*client.Client)(nil)

type State struct {
	mu  sync.Mutex
	api API
	now func() time.Time

	conversations  []*models.Conversation
	selected       int64
	input          string
	loading        bool
	initialLoading bool
	notice         string

	// ids for conversations synthesized locally when the server reply
	// carries no record; always negative
	nextLocalID int64
}

func New(api API) *State {
	return &State{api: api, now: time.Now}
}

// Mount loads every conversation and selects the most recently updated one
// when nothing is selected yet.
func (s *State) Mount(ctx context.Context) error {
	s.mu.Lock()
	s.initialLoading = true
	s.mu.Unlock()

	convs, err := s.api.List(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.initialLoading = false
	if err != nil {
		s.fail(err)
		return err
	}

	s.conversations = convs
	if s.selected == 0 && len(convs) > 0 {
		s.selected = convs[0].ID
	}
	return nil
}

// NewChat opens a conversation by sending the greeting prompt.
func (s *State) NewChat(ctx context.Context) error {
	if !s.begin() {
		return nil
	}
	resp, err := s.api.Send(ctx, services.GreetingPrompt, nil)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = false
	if err != nil {
		s.fail(err)
		return err
	}

	conv := resp.Conversation
	if conv == nil {
		conv = s.synthesize(resp.Message)
	}
	s.remove(conv.ID)
	s.conversations = append([]*models.Conversation{conv}, s.conversations...)
	s.selected = conv.ID
	return nil
}

// Send posts the pending input to the selected conversation.
func (s *State) Send(ctx context.Context) error {
	s.mu.Lock()
	id := s.selected
	prompt := strings.TrimSpace(s.input)
	switch {
	case id == 0:
		s.mu.Unlock()
		return ErrNoSelection
	case prompt == "":
		s.mu.Unlock()
		return ErrEmptyInput
	case s.loading:
		s.mu.Unlock()
		return nil
	}
	s.loading = true
	s.mu.Unlock()

	resp, err := s.api.Send(ctx, prompt, &id)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = false
	if err != nil {
		s.fail(err)
		return err
	}

	// A pushed refresh may already have brought the pair in.
	if conv := s.find(id); conv != nil && !endsWithExchange(conv, prompt, resp.Message) {
		now := s.now()
		conv.Messages = append(conv.Messages,
			models.Message{ConversationID: id, Role: models.RoleUser, Content: prompt, CreatedAt: now},
			models.Message{ConversationID: id, Role: models.RoleAssistant, Content: resp.Message, CreatedAt: now},
		)
		conv.UpdatedAt = now
		s.moveToFront(id)
	}
	s.input = ""
	return nil
}

func (s *State) Rename(ctx context.Context, id int64, title string) error {
	updated, err := s.api.Rename(ctx, id, title)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.fail(err)
		return err
	}
	s.replace(updated)
	s.moveToFront(updated.ID)
	return nil
}

// Delete removes the conversation on the server and, once that succeeded,
// locally.
func (s *State) Delete(ctx context.Context, id int64) error {
	if err := s.api.Delete(ctx, id); err != nil {
		s.mu.Lock()
		s.fail(err)
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.remove(id)
	return nil
}

// Select makes id the current conversation.
func (s *State) Select(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.find(id) == nil {
		return ErrUnknownChat
	}
	s.selected = id
	return nil
}

func (s *State) SetInput(text string) {
	s.mu.Lock()
	s.input = text
	s.mu.Unlock()
}

// Apply reconciles a conversation event pushed by the server.
func (s *State) Apply(ctx context.Context, ev models.WSMessage) error {
	id := ev.Payload.ConversationID

	switch ev.Type {
	case models.EventConversationCreated:
		s.mu.Lock()
		known := s.find(id) != nil
		s.mu.Unlock()
		if known {
			return nil
		}
		return s.refresh(ctx, id)

	case models.EventMessagesAppended:
		return s.refresh(ctx, id)

	case models.EventConversationRenamed:
		s.mu.Lock()
		if conv := s.find(id); conv != nil {
			conv.Title = ev.Payload.Title
		}
		s.mu.Unlock()

	case models.EventConversationDeleted:
		s.mu.Lock()
		s.remove(id)
		s.mu.Unlock()
	}
	return nil
}

// refresh fetches id from the server and puts it at the top of the list.
func (s *State) refresh(ctx context.Context, id int64) error {
	conv, err := s.api.Get(ctx, id)
	if err != nil {
		var apiErr *client.APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			s.mu.Lock()
			s.remove(id)
			s.mu.Unlock()
			return nil
		}
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.remove(conv.ID)
	reselect := s.selected == 0
	s.conversations = append([]*models.Conversation{conv}, s.conversations...)
	if reselect {
		s.selected = conv.ID
	}
	return nil
}

// Conversations returns a copy of the conversation list.
func (s *State) Conversations() []models.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		out = append(out, copyConversation(c))
	}
	return out
}

// Selected returns a copy of the selected conversation.
func (s *State) Selected() (models.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := s.find(s.selected)
	if conv == nil {
		return models.Conversation{}, false
	}
	return copyConversation(conv), true
}

func (s *State) SelectedID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected
}

func (s *State) Input() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.input
}

func (s *State) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

func (s *State) InitialLoading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialLoading
}

// Notice returns and clears the last user-facing failure message.
func (s *State) Notice() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.notice
	s.notice = ""
	return n
}

func (s *State) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loading {
		return false
	}
	s.loading = true
	return true
}

// fail records the user-facing message for err. Callers hold mu.
func (s *State) fail(err error) {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) && apiErr.QuotaExceeded() {
		s.notice = services.SpeechFailureMessage
		return
	}
	s.notice = GenericFailureMessage
}

func (s *State) synthesize(reply string) *models.Conversation {
	s.nextLocalID--
	now := s.now()
	return &models.Conversation{
		ID:        s.nextLocalID,
		Title:     fmt.Sprintf("Lektion%d", len(s.conversations)+1),
		CreatedAt: now,
		UpdatedAt: now,
		Messages: []models.Message{
			{ConversationID: s.nextLocalID, Role: models.RoleUser, Content: services.GreetingPrompt, CreatedAt: now},
			{ConversationID: s.nextLocalID, Role: models.RoleAssistant, Content: reply, CreatedAt: now},
		},
	}
}

func (s *State) find(id int64) *models.Conversation {
	for _, c := range s.conversations {
		if c.ID == id {
			return c
		}
	}
	return nil
}

func (s *State) replace(conv *models.Conversation) {
	for i, c := range s.conversations {
		if c.ID == conv.ID {
			s.conversations[i] = conv
			return
		}
	}
}

func (s *State) remove(id int64) {
	for i, c := range s.conversations {
		if c.ID == id {
			s.conversations = append(s.conversations[:i], s.conversations[i+1:]...)
			break
		}
	}
	if s.selected == id {
		s.selected = 0
	}
}

func (s *State) moveToFront(id int64) {
	for i, c := range s.conversations {
		if c.ID == id {
			copy(s.conversations[1:i+1], s.conversations[:i])
			s.conversations[0] = c
			return
		}
	}
}

func copyConversation(c *models.Conversation) models.Conversation {
	out := *c
	out.Messages = append([]models.Message(nil), c.Messages...)
	return out
}

func endsWithExchange(c *models.Conversation, prompt, reply string) bool {
	n := len(c.Messages)
	if n < 2 {
		return false
	}
	user, assistant := c.Messages[n-2], c.Messages[n-1]
	return user.Role == models.RoleUser && user.Content == prompt &&
		assistant.Role == models.RoleAssistant && assistant.Content == reply
}
