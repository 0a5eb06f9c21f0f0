package agent

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Page-agent message types.
const (
	MsgPing             = "PING"
	MsgInsertPrompt     = "INSERT_PROMPT"
	MsgReadCurrentInput = "READ_CURRENT_INPUT"
	MsgSubmitPrompt     = "SUBMIT_PROMPT"
	MsgCheckLLMStatus   = "CHECK_LLM_STATUS"
)

// Message is a request to a tab's page agent.
type Message struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Response is the agent's answer. Every message gets exactly one.
type Response struct {
	Success   bool   `json:"success"`
	Text      string `json:"text,omitempty"`
	Completed bool   `json:"completed,omitempty"`
	AgentID   string `json:"agentId,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Transport delivers a message to the page agent in a tab. An error means
// the agent could not be reached (absent, navigated away, timed out); a
// Response with Success false means it was reached and refused.
type Transport interface {
	Send(ctx context.Context, tabID int, msg Message) (*Response, error)
}

// Agent is one provisioned page agent: an adapter bound to a page, plus the
// message handler the daemon drives it through. Instances do not survive
// navigation; provisioning creates a fresh one.
type Agent struct {
	id      string
	adapter *Adapter
}

func New(adapter *Adapter) *Agent {
	return &Agent{
		id:      uuid.NewString(),
		adapter: adapter,
	}
}

func (a *Agent) ID() string { return a.id }

// Handle answers one message. Unknown types get a failure response, never
// silence.
func (a *Agent) Handle(msg Message) *Response {
	switch msg.Type {
	case MsgPing:
		return &Response{Success: true, AgentID: a.id}

	case MsgInsertPrompt:
		if ok := a.adapter.InsertText(msg.Text); !ok {
			return &Response{Success: false, Error: "no usable input element found"}
		}
		return &Response{Success: true}

	case MsgReadCurrentInput:
		return &Response{Success: true, Text: a.adapter.ReadText()}

	case MsgSubmitPrompt:
		if ok := a.adapter.Submit(); !ok {
			return &Response{Success: false, Error: "no submit control could be actuated"}
		}
		return &Response{Success: true}

	case MsgCheckLLMStatus:
		return &Response{Success: true, Completed: a.adapter.CheckGenerationStatus()}

	default:
		return &Response{Success: false, Error: fmt.Sprintf("unknown message type: %s", msg.Type)}
	}
}
