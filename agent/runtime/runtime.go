// Package runtime runs agent sessions on an eino tool-calling chat model and
// exposes each session as a lazy stream of agent events.
package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	contractx "github.com/tanpawarit/agentpay/agent/contract"
	"github.com/tanpawarit/agentpay/agent/stream"
	logx "github.com/tanpawarit/agentpay/pkg/logger"
)

const (
	defaultMaxSteps  = 8
	defaultPipeDepth = 32
)

var _ contractx.AgentRuntime = (*Runtime)(nil)

type Runtime struct {
	model      einomodel.ToolCallingChatModel
	tools      []*schema.ToolInfo
	exec       Executor
	serverName string
	maxSteps   int
	logger     zerolog.Logger
}

type Option func(*Runtime)

// WithTools registers the tools the model may see and how to execute them.
func WithTools(infos []*schema.ToolInfo, exec Executor) Option {
	return func(r *Runtime) {
		r.tools = infos
		r.exec = exec
	}
}

// WithServerName names the tool server reported in session init.
func WithServerName(name string) Option {
	return func(r *Runtime) { r.serverName = name }
}

func WithMaxSteps(n int) Option {
	return func(r *Runtime) {
		if n > 0 {
			r.maxSteps = n
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(r *Runtime) { r.logger = l }
}

func New(model einomodel.ToolCallingChatModel, opts ...Option) (*Runtime, error) {
	if model == nil {
		return nil, errors.New("chat model is required")
	}
	r := &Runtime{
		model:    model,
		exec:     DefaultExecutor(),
		maxSteps: defaultMaxSteps,
		logger:   logx.Component("runtime"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	if r.exec == nil {
		r.exec = DefaultExecutor()
	}
	return r, nil
}

// Query starts a session. Only tools matching req.AllowedTools are offered to
// the model, and every call is re-checked against the allow-list and
// req.CanUseTool before it is executed.
func (r *Runtime) Query(ctx context.Context, req contractx.QueryRequest) (contractx.EventStream, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, fmt.Errorf("%w: empty prompt", contractx.ErrValidation)
	}

	visible := make([]*schema.ToolInfo, 0, len(r.tools))
	for _, info := range r.tools {
		if info != nil && Allowed(req.AllowedTools, info.Name) {
			visible = append(visible, info)
		}
	}

	model := r.model
	if len(visible) > 0 {
		bound, err := r.model.WithTools(visible)
		if err != nil {
			return nil, fmt.Errorf("%w: bind tools: %v", contractx.ErrAgentSession, err)
		}
		model = bound
	}

	sr, sw := schema.Pipe[stream.Event](defaultPipeDepth)
	s := &session{
		id:      uuid.NewString(),
		runtime: r,
		model:   model,
		req:     req,
		visible: visible,
		sw:      sw,
		logger:  r.logger,
	}
	go s.run(ctx)
	return sr, nil
}

type session struct {
	id      string
	runtime *Runtime
	model   einomodel.ToolCallingChatModel
	req     contractx.QueryRequest
	visible []*schema.ToolInfo
	sw      *schema.StreamWriter[stream.Event]
	logger  zerolog.Logger
}

// emit returns false once the consumer has closed the stream.
func (s *session) emit(ev stream.Event) bool {
	return !s.sw.Send(ev, nil)
}

func (s *session) fail(err error) {
	s.sw.Send(nil, err)
}

func (s *session) run(ctx context.Context) {
	defer s.sw.Close()
	defer func() {
		if p := recover(); p != nil {
			s.fail(fmt.Errorf("agent session panic: %v", p))
		}
	}()

	names := make([]string, 0, len(s.visible))
	for _, info := range s.visible {
		names = append(names, info.Name)
	}
	started := stream.SessionInit{SessionID: s.id, Tools: names}
	if s.runtime.serverName != "" && len(names) > 0 {
		started.Servers = []stream.ServerStatus{{Name: s.runtime.serverName, Status: "connected", Tools: names}}
	}
	if !s.emit(started) {
		return
	}

	messages := []*schema.Message{schema.UserMessage(s.req.Prompt)}
	for step := 0; step < s.runtime.maxSteps; step++ {
		msg, ok := s.generate(ctx, messages)
		if !ok {
			return
		}
		if len(msg.ToolCalls) == 0 {
			s.emit(stream.FinalResult{Subtype: "success", Text: msg.Content})
			return
		}

		messages = append(messages, msg)
		for _, call := range msg.ToolCalls {
			result, ok := s.handleToolCall(ctx, call)
			if !ok {
				return
			}
			messages = append(messages, schema.ToolMessage(result, call.ID))
		}
	}

	s.emit(stream.AgentError{
		Type:    "error_max_turns",
		Message: fmt.Sprintf("session stopped after %d model steps", s.runtime.maxSteps),
	})
}

// generate streams one model step, forwarding text as it arrives.
func (s *session) generate(ctx context.Context, messages []*schema.Message) (*schema.Message, bool) {
	reader, err := s.model.Stream(ctx, messages)
	if err != nil {
		s.fail(fmt.Errorf("model stream: %w", err))
		return nil, false
	}
	defer reader.Close()

	var chunks []*schema.Message
	for {
		chunk, err := reader.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			s.fail(fmt.Errorf("model stream recv: %w", err))
			return nil, false
		}
		if chunk == nil {
			continue
		}
		chunks = append(chunks, chunk)
		if chunk.Content != "" && !s.emit(stream.TextDelta{Text: chunk.Content}) {
			return nil, false
		}
	}

	if len(chunks) == 0 {
		return &schema.Message{Role: schema.Assistant}, true
	}
	msg, err := schema.ConcatMessages(chunks)
	if err != nil {
		s.fail(fmt.Errorf("concat model chunks: %w", err))
		return nil, false
	}
	return msg, true
}

func (s *session) handleToolCall(ctx context.Context, call schema.ToolCall) (string, bool) {
	name := call.Function.Name
	input := parseArguments(call.Function.Arguments)
	if !s.emit(stream.ToolUse{ID: call.ID, Name: name, Input: input}) {
		return "", false
	}

	result, isError := s.invoke(ctx, call.ID, name, input)
	if !s.emit(stream.ToolResult{ToolUseID: call.ID, Content: result, IsError: isError}) {
		return "", false
	}
	return result, true
}

func (s *session) invoke(ctx context.Context, callID, name string, input map[string]any) (string, bool) {
	if !Allowed(s.req.AllowedTools, name) {
		s.logger.Warn().Str("tool", name).Msg("tool outside allow-list")
		return fmt.Sprintf("%v: %s is not an allowed tool", contractx.ErrToolDenied, name), true
	}
	if s.req.CanUseTool != nil {
		perm := s.req.CanUseTool(ctx, name, input)
		if !perm.Allow {
			msg := perm.Message
			if msg == "" {
				msg = contractx.ErrToolDenied.Error()
			}
			return msg, true
		}
		if perm.UpdatedInput != nil {
			input = perm.UpdatedInput
		}
	}

	out, err := s.runtime.exec(ctx, name, input)
	if err != nil {
		s.emit(stream.AgentError{Type: "tool_error", Message: err.Error(), ToolUseID: callID})
		if out == "" {
			out = err.Error()
		}
		return out, true
	}
	return out, false
}

func parseArguments(raw string) map[string]any {
	out := map[string]any{}
	if strings.TrimSpace(raw) == "" {
		return out
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return map[string]any{"raw": raw}
	}
	return out
}
