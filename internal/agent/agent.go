// Package agent drives one user turn through zero-or-one tool rounds to a
// final assistant reply. The turn is modeled as a finite state machine; the
// store is written at every step boundary, so a crash mid-turn loses at
// most the in-flight model call.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/qmuntal/stateless"
	"github.com/sashabaranov/go-openai"

	"github.com/comigor/chatmem/internal/llm"
	"github.com/comigor/chatmem/internal/logger"
	"github.com/comigor/chatmem/internal/store"
	"github.com/comigor/chatmem/pkg/tools"
)

// DefaultSystemPrompt seeds new conversations when no prompt is configured.
const DefaultSystemPrompt = "You are a helpful assistant. " +
	"If the user asks for anything that may be time-sensitive or needs verification, " +
	"use web_search to look it up. " +
	"When you use web_search, cite sources by listing URLs."

// FSM states.
type FSMState stateless.State

var (
	StateReadyToCallModel FSMState = "ReadyToCallModel"
	StateExecutingTools   FSMState = "ExecutingTools"
	StateDone             FSMState = "Done"
	StateError            FSMState = "Error"
)

// FSM triggers.
type FSMTrigger stateless.Trigger

var (
	TriggerProcessInput        FSMTrigger = "ProcessInput"
	TriggerModelAnswered       FSMTrigger = "ModelAnswered"
	TriggerModelRequestedTools FSMTrigger = "ModelRequestedTools"
	TriggerToolsExecuted       FSMTrigger = "ToolsExecuted"
	TriggerErrorOccurred       FSMTrigger = "ErrorOccurred"
)

// Config holds the orchestrator's knobs.
type Config struct {
	Model string

	// ContextMessages is the number of non-system messages in the window.
	ContextMessages int

	ModelTimeout time.Duration
	ToolTimeout  time.Duration
}

// Agent orchestrates turns over a conversation store, a model endpoint and
// a tool registry.
type Agent struct {
	llmClient llm.Client
	store     *store.Store
	registry  *tools.Registry
	cfg       Config

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates an agent.
func New(llmClient llm.Client, st *store.Store, registry *tools.Registry, cfg Config) *Agent {
	if cfg.ContextMessages <= 0 {
		cfg.ContextMessages = 24
	}
	if cfg.ModelTimeout <= 0 {
		cfg.ModelTimeout = 90 * time.Second
	}
	if cfg.ToolTimeout <= 0 {
		cfg.ToolTimeout = 30 * time.Second
	}
	return &Agent{
		llmClient: llmClient,
		store:     st,
		registry:  registry,
		cfg:       cfg,
		locks:     make(map[string]*sync.Mutex),
	}
}

// lockFor serializes turns per conversation. Sequence assignment and
// windowing are not safe under concurrent appends to the same log; turns
// on different conversations proceed independently.
func (a *Agent) lockFor(conversationID string) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.locks[conversationID]
	if !ok {
		l = &sync.Mutex{}
		a.locks[conversationID] = l
	}
	return l
}

// Turn runs one user turn: persist the input, call the model, execute at
// most one round of requested tools, and persist the final reply. Tool
// failures are absorbed into the conversation as data; storage and model
// endpoint failures abort the turn with state left as last committed.
func (a *Agent) Turn(ctx context.Context, conversationID, userInput string) (string, error) {
	lock := a.lockFor(conversationID)
	lock.Lock()
	defer lock.Unlock()

	if err := a.store.Append(ctx, store.NewUserMessage(conversationID, userInput)); err != nil {
		return "", fmt.Errorf("persist user message: %w", err)
	}
	if err := a.store.SetTitleIfEmpty(ctx, conversationID, userInput); err != nil {
		logger.L.Warn("failed to set conversation title", "conversation", conversationID, "error", err)
	}

	// Turn-local FSM context.
	type fsmContext struct {
		round        int // 0 = first model call, 1 = final call after tools
		response     *openai.ChatCompletionResponse
		finalContent string
		lastError    error
	}
	fsmCtx := &fsmContext{}

	fsm := stateless.NewStateMachine(StateReadyToCallModel)

	// State: ReadyToCallModel
	// Action: rebuild the window from the store and call the model. Tools
	// are offered only on the first call of the turn; the second call is
	// tool-free so the turn always terminates after one round.
	fsm.Configure(StateReadyToCallModel).
		PermitReentry(TriggerProcessInput).
		OnEntry(func(ctx context.Context, args ...any) error {
			logger.L.Debug("FSM: entering ReadyToCallModel", "round", fsmCtx.round)

			window, err := a.buildWindow(ctx, conversationID)
			if err != nil {
				fsmCtx.lastError = err
				return fsm.FireCtx(ctx, TriggerErrorOccurred)
			}

			req := openai.ChatCompletionRequest{
				Model:    a.cfg.Model,
				Messages: window,
			}
			if fsmCtx.round == 0 && a.registry.Len() > 0 {
				req.Tools = a.registry.OpenAITools()
			}

			callCtx, cancel := context.WithTimeout(ctx, a.cfg.ModelTimeout)
			resp, err := a.llmClient.CreateChatCompletion(callCtx, req)
			cancel()
			if err != nil {
				logger.L.Error("model call failed", "error", err)
				fsmCtx.lastError = &ModelEndpointError{Err: err}
				return fsm.FireCtx(ctx, TriggerErrorOccurred)
			}
			if len(resp.Choices) == 0 {
				fsmCtx.lastError = &ModelEndpointError{Err: errors.New("response has no choices")}
				return fsm.FireCtx(ctx, TriggerErrorOccurred)
			}
			fsmCtx.response = &resp

			if fsmCtx.round == 0 && len(resp.Choices[0].Message.ToolCalls) > 0 {
				return fsm.FireCtx(ctx, TriggerModelRequestedTools)
			}
			return fsm.FireCtx(ctx, TriggerModelAnswered)
		}).
		Permit(TriggerModelRequestedTools, StateExecutingTools).
		Permit(TriggerModelAnswered, StateDone).
		Permit(TriggerErrorOccurred, StateError)

	// State: ExecutingTools
	// Action: persist the assistant's request, then execute every call in
	// the order the model emitted them, persisting each result before the
	// second model call so the results survive a crash.
	fsm.Configure(StateExecutingTools).
		OnEntry(func(ctx context.Context, args ...any) error {
			logger.L.Debug("FSM: entering ExecutingTools")
			calls := fsmCtx.response.Choices[0].Message.ToolCalls

			content, firstID, err := encodeToolCalls(calls)
			if err != nil {
				fsmCtx.lastError = fmt.Errorf("encode tool calls: %w", err)
				return fsm.FireCtx(ctx, TriggerErrorOccurred)
			}
			if err := a.store.Append(ctx, store.NewAssistantToolCallMessage(conversationID, content, firstID)); err != nil {
				fsmCtx.lastError = fmt.Errorf("persist tool-call request: %w", err)
				return fsm.FireCtx(ctx, TriggerErrorOccurred)
			}

			for _, call := range calls {
				output := a.executeTool(ctx, call)
				toolMsg, err := store.NewToolMessage(conversationID, output, call.ID)
				if err != nil {
					fsmCtx.lastError = err
					return fsm.FireCtx(ctx, TriggerErrorOccurred)
				}
				if err := a.store.Append(ctx, toolMsg); err != nil {
					fsmCtx.lastError = fmt.Errorf("persist tool result: %w", err)
					return fsm.FireCtx(ctx, TriggerErrorOccurred)
				}
			}

			fsmCtx.round++
			return fsm.FireCtx(ctx, TriggerToolsExecuted)
		}).
		Permit(TriggerToolsExecuted, StateReadyToCallModel).
		Permit(TriggerErrorOccurred, StateError)

	// State: Done (terminal)
	// Action: persist the final assistant text. A tool request in the
	// final, tool-free response is recorded as text rather than executed,
	// which bounds every turn to one tool round.
	fsm.Configure(StateDone).
		OnEntry(func(ctx context.Context, args ...any) error {
			logger.L.Debug("FSM: entering Done")
			msg := fsmCtx.response.Choices[0].Message

			content := strings.TrimSpace(msg.Content)
			if len(msg.ToolCalls) > 0 {
				logger.L.Warn("model requested tools in its final call; recording as text", "calls", len(msg.ToolCalls))
				if encoded, _, err := encodeToolCalls(msg.ToolCalls); err == nil {
					content = encoded
				}
			}

			if err := a.store.Append(ctx, store.NewAssistantMessage(conversationID, content)); err != nil {
				fsmCtx.lastError = fmt.Errorf("persist assistant message: %w", err)
				return nil
			}
			fsmCtx.finalContent = content
			return nil
		})

	// State: Error (terminal)
	fsm.Configure(StateError).
		OnEntry(func(ctx context.Context, args ...any) error {
			logger.L.Debug("FSM: entering Error")
			if fsmCtx.lastError == nil {
				fsmCtx.lastError = errors.New("turn ended in error state without a specific error")
			}
			return nil
		})

	if fireErr := fsm.FireCtx(ctx, TriggerProcessInput); fireErr != nil {
		logger.L.Warn("FSM fire error", "error", fireErr)
	}

	currentState, err := fsm.State(ctx)
	if err != nil {
		return "", fmt.Errorf("FSM internal error: %w", err)
	}

	switch currentState {
	case StateDone:
		if fsmCtx.lastError != nil {
			return "", fsmCtx.lastError
		}
		return fsmCtx.finalContent, nil
	case StateError:
		return "", fsmCtx.lastError
	default:
		return "", fmt.Errorf("turn ended in unexpected state: %v", currentState)
	}
}

// buildWindow produces the message sequence for the next model call: the
// system message plus the most recent ContextMessages non-system messages,
// rebuilt fresh from the store.
func (a *Agent) buildWindow(ctx context.Context, conversationID string) ([]openai.ChatCompletionMessage, error) {
	msgs, err := a.store.RecentMessages(ctx, conversationID, a.cfg.ContextMessages)
	if err != nil {
		return nil, fmt.Errorf("build context window: %w", err)
	}
	return toChatMessages(msgs), nil
}

// executeTool dispatches one requested call through the registry. Unknown
// tools, bad arguments, and tool-internal failures are deliberately
// non-fatal: the error text becomes the tool's result so the model's
// second call can explain it to the user.
func (a *Agent) executeTool(ctx context.Context, call openai.ToolCall) string {
	callCtx, cancel := context.WithTimeout(ctx, a.cfg.ToolTimeout)
	defer cancel()

	output, err := a.registry.Dispatch(callCtx, call.Function.Name, call.Function.Arguments)
	if err != nil {
		logger.L.Warn("tool call failed", "tool", call.Function.Name, "error", err)
		return "Error: " + err.Error()
	}
	return output
}
