// Package model 定义了会话、消息和知识库分块等领域模型。
package model

import "time"

// Role 是消息的发送方。
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Status 是会话生命周期中的状态。
type Status string

const (
	StatusProcessing         Status = "processing"
	StatusResearching        Status = "researching"
	StatusSolving            Status = "solving"
	StatusWaitingForApproval Status = "waiting_for_approval"
	StatusImproving          Status = "improving"
	StatusCompleted          Status = "completed"
	StatusError              Status = "error"
)

// Message 代表会话中的单条消息，追加后不再修改。
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Session 是一次多轮解题会话的完整状态，由 SessionRepository 独占持有。
type Session struct {
	ID               string
	Messages         []Message
	Status           Status
	CurrentSolution  *string
	ResearchContext  *string
	CurrentTopic     string
	AwaitingApproval bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// NewSession 以首条用户消息创建一个处于 processing 状态的会话。
func NewSession(id, topic string, now time.Time) *Session {
	return &Session{
		ID:           id,
		Messages:     []Message{{Role: RoleUser, Content: topic}},
		Status:       StatusProcessing,
		CurrentTopic: topic,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// SetStatus 切换会话状态，并同步维护 AwaitingApproval 标志：
// 只有进入 waiting_for_approval 且持有当前解答时标志才为 true。
func (s *Session) SetStatus(status Status) {
	s.Status = status
	s.AwaitingApproval = status == StatusWaitingForApproval && s.CurrentSolution != nil
}

// Append 追加一条消息。
func (s *Session) Append(role Role, content string) {
	s.Messages = append(s.Messages, Message{Role: role, Content: content})
}

// Clone 返回会话的深拷贝，调用方可以自由读取而不与后台任务产生竞争。
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Messages = make([]Message, len(s.Messages))
	copy(c.Messages, s.Messages)
	if s.CurrentSolution != nil {
		v := *s.CurrentSolution
		c.CurrentSolution = &v
	}
	if s.ResearchContext != nil {
		v := *s.ResearchContext
		c.ResearchContext = &v
	}
	return &c
}

// WaitingKey 描述会话正在等待的人工输入类型。
type WaitingKey struct {
	Key string `json:"key"`
}

// ChatResponse 是 POST /chat 的响应体。
type ChatResponse struct {
	SessionID string    `json:"session_id"`
	Status    Status    `json:"status"`
	Messages  []Message `json:"messages"`
}

// SessionStateResponse 是 GET /chat/:session_id 以及 WebSocket 推送的响应体。
type SessionStateResponse struct {
	SessionID string      `json:"session_id"`
	Status    Status      `json:"status"`
	Messages  []Message   `json:"messages"`
	Waiting   *WaitingKey `json:"waiting"`
}

// SessionSummary 是会话列表中的一项。
type SessionSummary struct {
	SessionID    string    `json:"session_id"`
	Status       Status    `json:"status"`
	MessageCount int       `json:"message_count"`
	CreatedAt    LocalTime `json:"created_at"`
	UpdatedAt    LocalTime `json:"updated_at"`
}

// StateResponse 由会话生成对外的状态视图。
func (s *Session) StateResponse() SessionStateResponse {
	resp := SessionStateResponse{
		SessionID: s.ID,
		Status:    s.Status,
		Messages:  s.Messages,
	}
	if s.AwaitingApproval {
		resp.Waiting = &WaitingKey{Key: "approval"}
	}
	return resp
}

// Summary 由会话生成列表摘要。
func (s *Session) Summary() SessionSummary {
	return SessionSummary{
		SessionID:    s.ID,
		Status:       s.Status,
		MessageCount: len(s.Messages),
		CreatedAt:    LocalTime(s.CreatedAt),
		UpdatedAt:    LocalTime(s.UpdatedAt),
	}
}
