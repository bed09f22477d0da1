package agent

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/require"

	"github.com/comigor/chatmem/internal/store"
	"github.com/comigor/chatmem/pkg/tools"
)

type mockLLM struct {
	calls    []openai.ChatCompletionResponse
	requests []openai.ChatCompletionRequest
	err      error
}

func (m *mockLLM) CreateChatCompletion(ctx context.Context, r openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	if m.err != nil {
		return openai.ChatCompletionResponse{}, m.err
	}
	m.requests = append(m.requests, r)
	if len(m.calls) == 0 {
		panic("mockLLM: no more responses configured")
	}
	resp := m.calls[0]
	m.calls = m.calls[1:]
	return resp, nil
}

func textResponse(content string) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{
			Message: openai.ChatCompletionMessage{Content: content},
		}},
	}
}

func toolCallResponse(calls ...openai.ToolCall) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{
			Message: openai.ChatCompletionMessage{ToolCalls: calls},
		}},
	}
}

type stubSearchTool struct {
	output string
	err    error
}

func (s *stubSearchTool) Name() string        { return "web_search" }
func (s *stubSearchTool) Description() string { return "stub search" }
func (s *stubSearchTool) Parameters() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"query":{"type":"string"}},"required":["query"]}`)
}
func (s *stubSearchTool) Call(ctx context.Context, args map[string]any) (string, error) {
	return s.output, s.err
}

func newTestAgent(t *testing.T, llmClient *mockLLM, reg *tools.Registry) (*Agent, *store.Store, string) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	convID, err := st.CreateConversation(context.Background(), DefaultSystemPrompt)
	require.NoError(t, err)

	if reg == nil {
		reg = tools.NewRegistry()
	}
	a := New(llmClient, st, reg, Config{Model: "gpt-4o-mini", ContextMessages: 24})
	return a, st, convID
}

func TestTurn_DirectAnswer(t *testing.T) {
	llmClient := &mockLLM{calls: []openai.ChatCompletionResponse{textResponse("4")}}
	a, st, convID := newTestAgent(t, llmClient, nil)
	ctx := context.Background()

	out, err := a.Turn(ctx, convID, "What's 2+2?")
	require.NoError(t, err)
	require.Equal(t, "4", out)

	// Exactly 3 messages: system, user, assistant.
	n, err := st.MessageCount(ctx, convID)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	msgs, err := st.RecentMessages(ctx, convID, 24)
	require.NoError(t, err)
	require.Equal(t, store.RoleSystem, msgs[0].Role)
	require.Equal(t, store.RoleUser, msgs[1].Role)
	require.Equal(t, store.RoleAssistant, msgs[2].Role)
	require.NotEmpty(t, msgs[2].Content)
}

func TestTurn_SetsTitleFromFirstInput(t *testing.T) {
	llmClient := &mockLLM{calls: []openai.ChatCompletionResponse{textResponse("hi"), textResponse("again")}}
	a, st, convID := newTestAgent(t, llmClient, nil)
	ctx := context.Background()

	_, err := a.Turn(ctx, convID, "first question")
	require.NoError(t, err)
	_, err = a.Turn(ctx, convID, "second question")
	require.NoError(t, err)

	convs, err := st.ListConversations(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, "first question", convs[0].Title)
}

func TestTurn_OneToolRound(t *testing.T) {
	reg := tools.NewRegistry()
	reg.Register(&stubSearchTool{output: `[{"title":"Paris weather","url":"https://a.com","snippet":"Sunny"}]`})

	llmClient := &mockLLM{calls: []openai.ChatCompletionResponse{
		toolCallResponse(openai.ToolCall{
			ID:       "call_123",
			Type:     openai.ToolTypeFunction,
			Function: openai.FunctionCall{Name: "web_search", Arguments: `{"query":"weather in Paris today"}`},
		}),
		textResponse("It's sunny in Paris."),
	}}
	a, st, convID := newTestAgent(t, llmClient, reg)
	ctx := context.Background()

	out, err := a.Turn(ctx, convID, "What's the weather in Paris today?")
	require.NoError(t, err)
	require.Equal(t, "It's sunny in Paris.", out)

	// Log order: system, user, assistant(request), tool(result), assistant(final).
	msgs, err := st.RecentMessages(ctx, convID, 24)
	require.NoError(t, err)
	require.Len(t, msgs, 5)
	require.Equal(t, store.RoleUser, msgs[1].Role)
	require.Equal(t, store.RoleAssistant, msgs[2].Role)
	require.Equal(t, "call_123", msgs[2].ToolCallID)
	require.Equal(t, store.RoleTool, msgs[3].Role)
	require.Equal(t, "call_123", msgs[3].ToolCallID)
	require.Equal(t, store.RoleAssistant, msgs[4].Role)
	require.Equal(t, "It's sunny in Paris.", msgs[4].Content)

	// First call offers tools, the second is tool-free.
	require.Len(t, llmClient.requests, 2)
	require.NotEmpty(t, llmClient.requests[0].Tools)
	require.Empty(t, llmClient.requests[1].Tools)

	// The second call's window carries the request and the result.
	second := llmClient.requests[1].Messages
	require.Equal(t, openai.ChatMessageRoleTool, second[len(second)-1].Role)
	require.Equal(t, "call_123", second[len(second)-1].ToolCallID)
	require.NotEmpty(t, second[len(second)-2].ToolCalls)
}

func TestTurn_UnknownToolIsAbsorbed(t *testing.T) {
	// Registry has web_search but the model asks for something else.
	reg := tools.NewRegistry()
	reg.Register(&stubSearchTool{output: "{}"})

	llmClient := &mockLLM{calls: []openai.ChatCompletionResponse{
		toolCallResponse(openai.ToolCall{
			ID:       "call_9",
			Type:     openai.ToolTypeFunction,
			Function: openai.FunctionCall{Name: "get_stock_price", Arguments: `{}`},
		}),
		textResponse("I couldn't look that up."),
	}}
	a, st, convID := newTestAgent(t, llmClient, reg)
	ctx := context.Background()

	out, err := a.Turn(ctx, convID, "stock price of ACME?")
	require.NoError(t, err)
	require.Equal(t, "I couldn't look that up.", out)

	msgs, err := st.RecentMessages(ctx, convID, 24)
	require.NoError(t, err)
	require.Len(t, msgs, 5)
	require.Equal(t, store.RoleTool, msgs[3].Role)
	require.Contains(t, msgs[3].Content, "Error:")
	require.Contains(t, msgs[3].Content, "tool not found")
}

func TestTurn_ToolErrorIsAbsorbed(t *testing.T) {
	reg := tools.NewRegistry()
	reg.Register(&stubSearchTool{err: context.DeadlineExceeded})

	llmClient := &mockLLM{calls: []openai.ChatCompletionResponse{
		toolCallResponse(openai.ToolCall{
			ID:       "call_7",
			Type:     openai.ToolTypeFunction,
			Function: openai.FunctionCall{Name: "web_search", Arguments: `{"query":"q"}`},
		}),
		textResponse("The search failed, sorry."),
	}}
	a, st, convID := newTestAgent(t, llmClient, reg)

	out, err := a.Turn(context.Background(), convID, "search something")
	require.NoError(t, err)
	require.Equal(t, "The search failed, sorry.", out)

	msgs, err := st.RecentMessages(context.Background(), convID, 24)
	require.NoError(t, err)
	require.Contains(t, msgs[3].Content, "Error:")
}

func TestTurn_SecondRoundRequestBecomesText(t *testing.T) {
	reg := tools.NewRegistry()
	reg.Register(&stubSearchTool{output: "{}"})

	again := openai.ToolCall{
		ID:       "call_2",
		Type:     openai.ToolTypeFunction,
		Function: openai.FunctionCall{Name: "web_search", Arguments: `{"query":"more"}`},
	}
	llmClient := &mockLLM{calls: []openai.ChatCompletionResponse{
		toolCallResponse(openai.ToolCall{
			ID:       "call_1",
			Type:     openai.ToolTypeFunction,
			Function: openai.FunctionCall{Name: "web_search", Arguments: `{"query":"first"}`},
		}),
		// The "final" response asks for tools again; it must be logged,
		// never executed.
		toolCallResponse(again),
	}}
	a, st, convID := newTestAgent(t, llmClient, reg)
	ctx := context.Background()

	out, err := a.Turn(ctx, convID, "chain tools forever")
	require.NoError(t, err)
	require.Contains(t, out, "call_2")

	// Exactly one tool round: one tool message in the log.
	msgs, err := st.RecentMessages(ctx, convID, 24)
	require.NoError(t, err)
	toolCount := 0
	for _, m := range msgs {
		if m.Role == store.RoleTool {
			toolCount++
		}
	}
	require.Equal(t, 1, toolCount)
	require.Len(t, llmClient.requests, 2)
}

func TestTurn_EmptyContentIsNotAnError(t *testing.T) {
	llmClient := &mockLLM{calls: []openai.ChatCompletionResponse{textResponse("   ")}}
	a, st, convID := newTestAgent(t, llmClient, nil)
	ctx := context.Background()

	out, err := a.Turn(ctx, convID, "say nothing")
	require.NoError(t, err)
	require.Equal(t, "", out)

	n, err := st.MessageCount(ctx, convID)
	require.NoError(t, err)
	require.Equal(t, 3, n)
}

func TestTurn_ModelErrorLeavesUserMessagePersisted(t *testing.T) {
	llmClient := &mockLLM{err: context.DeadlineExceeded}
	a, st, convID := newTestAgent(t, llmClient, nil)
	ctx := context.Background()

	_, err := a.Turn(ctx, convID, "hi")
	require.Error(t, err)
	var endpointErr *ModelEndpointError
	require.ErrorAs(t, err, &endpointErr)

	// The user's input survived the failed turn.
	n, err := st.MessageCount(ctx, convID)
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestTurn_WindowIsBounded(t *testing.T) {
	responses := make([]openai.ChatCompletionResponse, 0, 31)
	for i := 0; i < 31; i++ {
		responses = append(responses, textResponse("answer"))
	}
	llmClient := &mockLLM{calls: responses}
	a, st, convID := newTestAgent(t, llmClient, nil)
	ctx := context.Background()

	for i := 0; i < 30; i++ {
		_, err := a.Turn(ctx, convID, "question")
		require.NoError(t, err)
	}

	// 31st turn sees system + last 24 non-system + the new user message,
	// never more than 1 + CONTEXT_MESSAGES.
	_, err := a.Turn(ctx, convID, "question")
	require.NoError(t, err)
	last := llmClient.requests[len(llmClient.requests)-1]
	require.LessOrEqual(t, len(last.Messages), 25)
	require.Equal(t, openai.ChatMessageRoleSystem, last.Messages[0].Role)

	// Older messages are out of the window but still in the history.
	hist, err := st.FullHistory(ctx, convID, 200)
	require.NoError(t, err)
	require.Len(t, hist, 62)
}
