// Package executor unifies the heterogeneous LLM backends behind a single
// capability contract: execute one task, and admission-check a set of
// models. It also owns the manager that routes a task's model to the
// provider client serving it.
package executor

import (
	"encoding/json"
	"fmt"

	"github.com/dria-x-project/dkn/catalog"
)

// Message roles accepted in a task body.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// UserMessage creates a user chat turn.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AssistantMessage creates an assistant chat turn.
func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// TaskBody is the input of one inference task.
//
// It deserializes from a `{"model": ..., "messages": [...]}` object under
// these rules: at most one system message becomes the preamble, the final
// message must be from the user and becomes the prompt, and any other
// user/assistant messages become the chat history in order.
type TaskBody struct {
	// Preamble is an optional system prompt.
	Preamble *string
	// Prompt is the main user prompt.
	Prompt Message
	// ChatHistory is the preceding conversation context.
	ChatHistory []Message
	// Model is the model to use for the task.
	Model catalog.Model
}

// NewPromptTask creates a task body with a single user prompt.
func NewPromptTask(prompt string, model catalog.Model) TaskBody {
	return TaskBody{
		Prompt: UserMessage(prompt),
		Model:  model,
	}
}

// IsBatchable reports whether the task may execute concurrently with
// others, decided by its model's provider.
func (t TaskBody) IsBatchable() bool {
	return t.Model.Provider().IsBatchable()
}

// messages returns the full chat turn list, preamble excluded.
func (t TaskBody) messages() []Message {
	msgs := make([]Message, 0, len(t.ChatHistory)+1)
	msgs = append(msgs, t.ChatHistory...)
	msgs = append(msgs, t.Prompt)
	return msgs
}

// UnmarshalJSON decodes a raw task object, enforcing the message rules.
func (t *TaskBody) UnmarshalJSON(data []byte) error {
	var raw struct {
		Model    string    `json:"model"`
		Messages []Message `json:"messages"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	model, err := catalog.ParseModel(raw.Model)
	if err != nil {
		return fmt.Errorf("model is not supported by this node: %w", err)
	}

	if len(raw.Messages) == 0 {
		return fmt.Errorf("no messages found in the task body")
	}
	if raw.Messages[len(raw.Messages)-1].Role != RoleUser {
		return fmt.Errorf("last message must be from the user")
	}

	var preamble *string
	var history []Message
	for _, msg := range raw.Messages {
		switch msg.Role {
		case RoleSystem:
			if preamble != nil {
				return fmt.Errorf("only one system message is allowed")
			}
			content := msg.Content
			preamble = &content
		case RoleUser, RoleAssistant:
			history = append(history, msg)
		default:
			return fmt.Errorf("invalid role: %s", msg.Role)
		}
	}

	// the tail is guaranteed to be a user message
	prompt := history[len(history)-1]
	history = history[:len(history)-1]

	t.Preamble = preamble
	t.Prompt = prompt
	t.ChatHistory = history
	t.Model = model
	return nil
}

// MarshalJSON re-encodes the task into the raw object form.
func (t TaskBody) MarshalJSON() ([]byte, error) {
	raw := struct {
		Model    string    `json:"model"`
		Messages []Message `json:"messages"`
	}{Model: t.Model.String()}

	if t.Preamble != nil {
		raw.Messages = append(raw.Messages, Message{Role: RoleSystem, Content: *t.Preamble})
	}
	raw.Messages = append(raw.Messages, t.messages()...)

	return json.Marshal(raw)
}
