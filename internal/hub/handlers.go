package hub

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/harmonycode/harmonycode/internal/diversity"
	"github.com/harmonycode/harmonycode/internal/events"
	"github.com/harmonycode/harmonycode/internal/orchestrator"
	"github.com/harmonycode/harmonycode/internal/perspective"
	"github.com/harmonycode/harmonycode/internal/protocol"
)

// dispatch routes one inbound frame. Auth is the only frame an
// unauthenticated session may send.
func (h *Hub) dispatch(s *Session, frame *protocol.Frame) {
	if frame.Type == protocol.TypeAuth {
		h.handleAuth(s, frame)
		return
	}
	if s.AgentID() == "" {
		s.SendJSON(protocol.TypeAuthFailed, map[string]any{
			"type": protocol.TypeAuthFailed, "reason": "not authenticated",
		})
		return
	}

	switch frame.Type {
	case protocol.TypeMessage:
		h.handleMessage(s, frame)
	case protocol.TypeEdit:
		h.handleEdit(s, frame)
	case protocol.TypeTask:
		h.handleTask(s, frame)
	case protocol.TypeVote:
		h.handleVote(s, frame)
	case protocol.TypeSwarm:
		h.handleSwarm(s, frame)
	case protocol.TypeWorkflow:
		h.handleWorkflow(s, frame)
	case protocol.TypeMemory:
		h.handleMemory(s, frame)
	case protocol.TypeWhoami:
		h.handleWhoami(s)
	case protocol.TypeSwitchRole:
		h.handleSwitchRole(s, frame)
	case protocol.TypeGetHistory:
		h.handleGetHistory(s)
	default:
		s.sendError(protocol.NewError(protocol.CodeInternal, "unknown frame type %q", frame.Type))
	}
}

func (h *Hub) handleAuth(s *Session, frame *protocol.Frame) {
	var req protocol.AuthRequest
	if err := frame.Payload(&req); err != nil || req.DisplayName == "" {
		s.SendJSON(protocol.TypeAuthFailed, map[string]any{
			"type": protocol.TypeAuthFailed, "reason": "display_name required",
		})
		return
	}

	res, err := h.identities.Authenticate(req)
	if err != nil {
		s.SendJSON(protocol.TypeAuthFailed, map[string]any{
			"type": protocol.TypeAuthFailed, "reason": protocol.AsError(err).Message,
		})
		return
	}
	ident := res.Identity

	s.bind(ident.AgentID, ident.DisplayName, req.Role, h.now())
	h.register(s)
	h.engine.RegisterAgent(ident.AgentID, req.Role)

	// Perspective: honor a valid requested one, otherwise let the
	// middleware fill gaps (skeptic and analytical first).
	assigned := perspective.Perspective(req.Perspective)
	if perspective.Valid(assigned) {
		h.enforcer.Tracker().RegisterAgent(ident.AgentID, assigned)
	} else {
		assigned = h.enforcer.AssignPerspective(ident.AgentID)
	}
	h.identities.SetPerspective(ident.DisplayName, string(assigned))

	s.SendJSON(protocol.TypeAuthSuccess, protocol.AuthSuccess{
		Type:               protocol.TypeAuthSuccess,
		AgentID:            ident.AgentID,
		AuthToken:          res.IssuedToken,
		IsReturning:        res.IsReturning,
		TotalSessions:      ident.TotalSessions,
		TotalContributions: ident.TotalContributions,
		LastSeen:           ident.LastSeen.UTC().Format(time.RFC3339),
	})

	h.bus.Emit(events.SessionJoined, ident.AgentID, map[string]any{"name": ident.DisplayName})
	h.Broadcast(protocol.TypeSessionJoined, map[string]any{
		"type":        protocol.TypeSessionJoined,
		"agent_id":    ident.AgentID,
		"name":        ident.DisplayName,
		"role":        req.Role,
		"perspective": string(assigned),
	}, s)
	slog.Info("session authenticated", "agent", ident.AgentID, "name", ident.DisplayName, "returning", res.IsReturning)
}

func (h *Hub) handleMessage(s *Session, frame *protocol.Frame) {
	var req protocol.MessageRequest
	if err := frame.Payload(&req); err != nil || req.Text == "" {
		s.sendError(protocol.NewError(protocol.CodeInternal, "message text required"))
		return
	}

	out := h.enforcer.CheckContribution(diversity.Contribution{
		Agent:       s.AgentID(),
		Content:     req.Text,
		MsgType:     "message",
		OtherAgents: h.SessionCount() - 1, // peers, the sender excluded
	}, h.recentTexts(3))

	if out.Intervention != nil {
		s.SendJSON(protocol.TypeIntervention, interventionFrame(out.Intervention))
		h.Broadcast(protocol.TypeDiversityNotice, map[string]any{
			"type":   protocol.TypeDiversityNotice,
			"target": s.AgentID(),
			"kind":   out.Intervention.Kind,
			"reason": out.Intervention.Reason,
		}, s)
	}
	if !out.Allowed {
		s.sendError(protocol.NewError(protocol.CodeIntervention, "contribution rejected: %s", out.Intervention.Reason))
		return
	}

	text := out.ContentPrefix + req.Text
	entry := ChatEntry{Agent: s.AgentID(), Name: s.DisplayName(), Text: text, At: h.now()}
	h.appendHistory(entry)
	h.identities.RecordContribution(s.DisplayName())
	h.Broadcast(protocol.TypeChat, map[string]any{
		"type": protocol.TypeChat, "agent_id": entry.Agent, "name": entry.Name,
		"text": entry.Text, "at": entry.At.UTC().Format(time.RFC3339),
	}, nil)
}

func (h *Hub) handleEdit(s *Session, frame *protocol.Frame) {
	var req protocol.EditRequest
	if err := frame.Payload(&req); err != nil || req.File == "" {
		s.sendError(protocol.NewError(protocol.CodeInternal, "edit file required"))
		return
	}

	res := h.engine.ApplyEdit(orchestrator.Edit{
		File:    req.File,
		Op:      req.Edit,
		Session: s.ID,
		Agent:   s.AgentID(),
	})
	s.bumpEdits()

	if res.Conflict {
		s.SendJSON(protocol.TypeError, map[string]any{
			"type":      protocol.TypeError,
			"error":     protocol.NewError(protocol.CodeConflict, "edit conflict on %s", req.File),
			"conflict":  true,
			"conflicts": res.Conflicts,
		})
		return
	}
	h.Broadcast(protocol.TypeEditBroadcast, map[string]any{
		"type": protocol.TypeEditBroadcast, "file": req.File,
		"edit": json.RawMessage(req.Edit), "agent_id": s.AgentID(),
		"version": res.Applied.Version,
	}, s)
}

func (h *Hub) handleTask(s *Session, frame *protocol.Frame) {
	var req protocol.TaskRequest
	if err := frame.Payload(&req); err != nil {
		s.sendError(protocol.NewError(protocol.CodeInternal, "malformed task frame"))
		return
	}

	switch req.Action {
	case "create":
		var partial orchestrator.Task
		if len(req.Data) > 0 {
			if err := json.Unmarshal(req.Data, &partial); err != nil {
				s.sendError(protocol.NewError(protocol.CodeInternal, "malformed task data"))
				return
			}
		}
		task := h.engine.CreateTask(partial)
		s.SendJSON(protocol.TypeTaskCreated, map[string]any{
			"type": protocol.TypeTaskCreated, "task": task,
		})
	case "claim":
		var data struct {
			TaskID string `json:"task_id"`
		}
		if err := json.Unmarshal(req.Data, &data); err != nil || data.TaskID == "" {
			s.sendError(protocol.NewError(protocol.CodeInternal, "task_id required"))
			return
		}
		if err := h.engine.AssignTask(data.TaskID, s.AgentID()); err != nil {
			s.sendError(err)
			return
		}
		s.SendJSON(protocol.TypeTaskAssigned, map[string]any{
			"type": protocol.TypeTaskAssigned, "task_id": data.TaskID, "agent_id": s.AgentID(),
		})
	case "complete":
		var data struct {
			TaskID string `json:"task_id"`
			Result any    `json:"result,omitempty"`
		}
		if err := json.Unmarshal(req.Data, &data); err != nil || data.TaskID == "" {
			s.sendError(protocol.NewError(protocol.CodeInternal, "task_id required"))
			return
		}
		if err := h.engine.CompleteTask(data.TaskID, s.AgentID(), data.Result); err != nil {
			s.sendError(err)
			return
		}
		s.SendJSON(protocol.TypeTaskCompleted, map[string]any{
			"type": protocol.TypeTaskCompleted, "task_id": data.TaskID,
		})
	case "list":
		s.SendJSON(protocol.TypeTaskList, map[string]any{
			"type": protocol.TypeTaskList, "tasks": h.engine.ListTasks(),
		})
	default:
		s.sendError(protocol.NewError(protocol.CodeInternal, "unknown task action %q", req.Action))
	}
}

func (h *Hub) handleVote(s *Session, frame *protocol.Frame) {
	var req protocol.VoteRequest
	if err := frame.Payload(&req); err != nil || req.ProposalID == "" {
		s.sendError(protocol.NewError(protocol.CodeInternal, "proposal_id required"))
		return
	}

	complete := h.engine.RecordVote(diversity.Vote{
		ProposalID: req.ProposalID,
		Session:    s.ID,
		Agent:      s.AgentID(),
		Choice:     string(req.Choice),
		Evidence:   req.Evidence,
	})
	if !complete {
		return
	}
	dec, ok := h.engine.ResolveProposal(req.ProposalID)
	if !ok {
		return
	}
	h.Broadcast(protocol.TypeDiscussionUpdated, map[string]any{
		"type":        protocol.TypeDiscussionUpdated,
		"proposal_id": req.ProposalID,
		"decision":    dec,
	}, nil)
}

func (h *Hub) handleSwarm(s *Session, frame *protocol.Frame) {
	var req protocol.SwarmRequest
	if err := frame.Payload(&req); err != nil || req.Objective == "" {
		s.sendError(protocol.NewError(protocol.CodeInternal, "objective required"))
		return
	}
	tasks := h.engine.DecomposeObjective(orchestrator.SwarmObjective{
		Objective: req.Objective,
		Strategy:  req.Strategy,
	})
	s.SendJSON(protocol.TypeTaskCreated, map[string]any{
		"type": protocol.TypeTaskCreated, "tasks": tasks,
	})
}

func (h *Hub) handleWorkflow(s *Session, frame *protocol.Frame) {
	var req protocol.WorkflowRequest
	if err := frame.Payload(&req); err != nil || req.WorkflowID == "" {
		s.sendError(protocol.NewError(protocol.CodeInternal, "workflow_id required"))
		return
	}

	var (
		w   orchestrator.Workflow
		err error
	)
	switch req.Action {
	case "start":
		w = h.engine.StartWorkflow(req.WorkflowID)
	case "progress":
		w, err = h.engine.UpdateWorkflow(req.WorkflowID, req.Data)
	case "complete":
		w, err = h.engine.CompleteWorkflow(req.WorkflowID)
	default:
		err = protocol.NewError(protocol.CodeInternal, "unknown workflow action %q", req.Action)
	}
	if err != nil {
		s.sendError(err)
		return
	}
	s.SendJSON(protocol.TypeDiscussionUpdated, map[string]any{
		"type": protocol.TypeDiscussionUpdated, "workflow": w,
	})
}

func (h *Hub) handleMemory(s *Session, frame *protocol.Frame) {
	var req protocol.MemoryRequest
	if err := frame.Payload(&req); err != nil {
		s.sendError(protocol.NewError(protocol.CodeInternal, "malformed memory frame"))
		return
	}

	switch req.Action {
	case "store":
		if err := h.engine.StoreMemory(req.Key, s.AgentID(), req.Value); err != nil {
			s.sendError(err)
			return
		}
		s.SendJSON(protocol.TypeMemoryRetrieved, map[string]any{
			"type": protocol.TypeMemoryRetrieved, "key": req.Key, "stored": true,
		})
	case "retrieve":
		val, err := h.engine.RetrieveMemory(req.Key)
		if err != nil {
			s.sendError(err)
			return
		}
		s.SendJSON(protocol.TypeMemoryRetrieved, map[string]any{
			"type": protocol.TypeMemoryRetrieved, "key": req.Key, "value": json.RawMessage(val),
		})
	case "list":
		keys, err := h.engine.ListMemory()
		if err != nil {
			s.sendError(err)
			return
		}
		s.SendJSON(protocol.TypeMemoryList, map[string]any{
			"type": protocol.TypeMemoryList, "keys": keys,
		})
	default:
		s.sendError(protocol.NewError(protocol.CodeInternal, "unknown memory action %q", req.Action))
	}
}

func (h *Hub) handleWhoami(s *Session) {
	ident, ok := h.identities.GetByAgentID(s.AgentID())
	if !ok {
		s.sendError(protocol.NewError(protocol.CodeNotFound, "identity not found"))
		return
	}
	s.SendJSON(protocol.TypeWhoamiReply, map[string]any{
		"type":                protocol.TypeWhoamiReply,
		"agent_id":            ident.AgentID,
		"display_name":        ident.DisplayName,
		"role":                ident.Role,
		"perspective":         ident.Perspective,
		"total_sessions":      ident.TotalSessions,
		"total_contributions": ident.TotalContributions,
	})
}

func (h *Hub) handleSwitchRole(s *Session, frame *protocol.Frame) {
	var req protocol.SwitchRoleRequest
	if err := frame.Payload(&req); err != nil || req.NewRole == "" {
		s.sendError(protocol.NewError(protocol.CodeInternal, "new_role required"))
		return
	}
	ident, err := h.identities.SwitchRole(s.DisplayName(), req.NewRole)
	if err != nil {
		s.sendError(err)
		return
	}
	h.engine.RegisterAgent(ident.AgentID, req.NewRole)
	s.mu.Lock()
	s.role = req.NewRole
	s.mu.Unlock()
	s.SendJSON(protocol.TypeWhoamiReply, map[string]any{
		"type": protocol.TypeWhoamiReply, "agent_id": ident.AgentID, "role": req.NewRole,
	})
}

func (h *Hub) handleGetHistory(s *Session) {
	s.SendJSON(protocol.TypeHistoryReply, map[string]any{
		"type": protocol.TypeHistoryReply, "messages": h.History(),
	})
}

func interventionFrame(iv *diversity.Intervention) protocol.InterventionFrame {
	f := protocol.InterventionFrame{
		Type:           protocol.TypeIntervention,
		Kind:           iv.Kind,
		Reason:         iv.Reason,
		RequiredAction: iv.RequiredAction,
	}
	if !iv.Deadline.IsZero() {
		f.Deadline = iv.Deadline.UTC().Format(time.RFC3339)
	}
	return f
}
