// Package protocol defines the JSON frame shapes exchanged between the
// server and connected agents, one JSON object per WebSocket frame, plus the
// error taxonomy shared across the server.
package protocol

import "encoding/json"

// Client → server frame types.
const (
	TypeAuth       = "auth"
	TypeMessage    = "message"
	TypeEdit       = "edit"
	TypeTask       = "task"
	TypeVote       = "vote"
	TypeSwarm      = "swarm"
	TypeWorkflow   = "workflow"
	TypeMemory     = "memory"
	TypeWhoami     = "whoami"
	TypeSwitchRole = "switch-role"
	TypeGetHistory = "get-history"
)

// Server → client frame types.
const (
	TypeAuthSuccess       = "auth-success"
	TypeAuthFailed        = "auth-failed"
	TypeSessionJoined     = "session-joined"
	TypeSessionLeft       = "session-left"
	TypeChat              = "chat"
	TypeEditBroadcast     = "edit"
	TypeTaskCreated       = "task-created"
	TypeTaskAssigned      = "task-assigned"
	TypeTaskCompleted     = "task-completed"
	TypeTaskTimeout       = "task-timeout"
	TypeTaskList          = "task-list"
	TypeIntervention      = "intervention"
	TypeDiversityNotice   = "diversity-intervention"
	TypeMemoryRetrieved   = "memory-retrieved"
	TypeMemoryList        = "memory-list"
	TypeStats             = "stats"
	TypeDiscussionUpdated = "discussion-updated"
	TypeError             = "error"
	TypeWhoamiReply       = "whoami"
	TypeHistoryReply      = "history"
)

// Frame is the envelope for every message on the wire. Payload fields beyond
// Type are kept flat in the original protocol, so Frame carries the raw
// object and decodes per-type payloads on demand.
type Frame struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// DecodeFrame parses the envelope and retains the raw bytes for the
// per-type payload decode.
func DecodeFrame(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	f.Raw = append(json.RawMessage(nil), data...)
	return &f, nil
}

// Payload decodes the frame body into v.
func (f *Frame) Payload(v any) error {
	return json.Unmarshal(f.Raw, v)
}

// AuthRequest authenticates or registers an agent on a new connection.
type AuthRequest struct {
	DisplayName string `json:"display_name"`
	AuthToken   string `json:"auth_token,omitempty"`
	Role        string `json:"role"`
	Perspective string `json:"perspective,omitempty"`
	NewAgent    bool   `json:"new_agent,omitempty"`
}

// AuthSuccess is the reply to a successful auth frame. AuthToken is set only
// when the server issued a fresh token the client must persist.
type AuthSuccess struct {
	Type               string `json:"type"`
	AgentID            string `json:"agent_id"`
	AuthToken          string `json:"auth_token,omitempty"`
	IsReturning        bool   `json:"is_returning"`
	TotalSessions      int    `json:"total_sessions"`
	TotalContributions int    `json:"total_contributions"`
	LastSeen           string `json:"last_seen"`
}

// MessageRequest broadcasts chat text after the diversity check.
type MessageRequest struct {
	Text string `json:"text"`
}

// EditRequest applies an edit to a shared file. Edit is an opaque blob at
// the server layer; schema validation belongs to the emitting agent.
type EditRequest struct {
	File    string          `json:"file"`
	Edit    json.RawMessage `json:"edit"`
	Version int64           `json:"version"`
}

// TaskRequest orchestrates the task lifecycle.
type TaskRequest struct {
	Action string          `json:"action"` // create, claim, complete, list
	Data   json.RawMessage `json:"data,omitempty"`
}

// VoteRequest records or replaces a vote for (proposal, session).
type VoteRequest struct {
	ProposalID string          `json:"proposal_id"`
	Choice     json.RawMessage `json:"choice"`
	Evidence   []string        `json:"evidence,omitempty"`
}

// SwarmRequest decomposes an objective into tasks.
type SwarmRequest struct {
	Objective string          `json:"objective"`
	Strategy  string          `json:"strategy"`
	Options   json.RawMessage `json:"options,omitempty"`
}

// WorkflowRequest drives the workflow lifecycle.
type WorkflowRequest struct {
	WorkflowID string          `json:"workflow_id"`
	Action     string          `json:"action"` // start, progress, complete
	Data       json.RawMessage `json:"data,omitempty"`
}

// MemoryRequest is the memory KV surface.
type MemoryRequest struct {
	Action string          `json:"action"` // store, retrieve, list
	Key    string          `json:"key,omitempty"`
	Value  json.RawMessage `json:"value,omitempty"`
}

// SwitchRoleRequest updates the session role.
type SwitchRoleRequest struct {
	NewRole string `json:"new_role"`
}

// ErrorFrame is the boundary translation of any domain error.
type ErrorFrame struct {
	Type  string `json:"type"`
	Error *Error `json:"error"`
}

// InterventionFrame tells an agent what the diversity enforcer requires.
type InterventionFrame struct {
	Type           string `json:"type"`
	Kind           string `json:"kind"`
	Reason         string `json:"reason"`
	RequiredAction string `json:"required_action"`
	Deadline       string `json:"deadline,omitempty"`
}

// Marshal encodes any frame value to its wire bytes.
func Marshal(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		// Frames are built from plain structs and RawMessage; a marshal
		// failure is a programming error.
		panic("protocol: marshal frame: " + err.Error())
	}
	return data
}

// Critical reports whether a server frame type may never be dropped under
// backpressure. A session whose queue is full of critical frames is closed
// with SLOW_CONSUMER instead.
func Critical(frameType string) bool {
	switch frameType {
	case TypeAuthSuccess, TypeAuthFailed, TypeIntervention:
		return true
	}
	return false
}
