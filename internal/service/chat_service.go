// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"math-agent-go/internal/model"
	"math-agent-go/internal/repository"
	"math-agent-go/internal/worker"
	"math-agent-go/pkg/log"
	"math-agent-go/pkg/metrics"
)

var (
	// ErrSessionNotFound 表示会话不存在。
	ErrSessionNotFound = repository.ErrSessionNotFound
	// ErrNotAwaitingFeedback 表示会话当前不在等待用户确认。
	ErrNotAwaitingFeedback = errors.New("session is not waiting for feedback")
)

var approvalPhrases = []string{"approve", "approved", "yes", "ok", "correct", "good", "looks good"}

const feedbackAck = "Thank you for the feedback! Let me improve the solution..."

// ChatService 定义了会话生命周期相关的操作。
type ChatService interface {
	// StartOrContinue 创建新会话或在已有会话中追加问题，后台排队执行研究与求解，立即返回。
	StartOrContinue(ctx context.Context, topic, sessionID string) (*model.ChatResponse, error)
	// SubmitFeedback 处理用户对当前解答的反馈；需要修订时等待修订完成后返回。
	SubmitFeedback(ctx context.Context, sessionID, feedback string) error
	GetSession(ctx context.Context, sessionID string) (*model.Session, error)
	DeleteSession(ctx context.Context, sessionID string) error
	ListSessions(ctx context.Context) ([]model.SessionSummary, error)
}

type chatService struct {
	sessionRepo repository.SessionRepository
	tutor       TutorService
	queue       *worker.Queue
	newID       func() string
	now         func() time.Time
}

// NewChatService 创建一个新的 ChatService 实例。
func NewChatService(sessionRepo repository.SessionRepository, tutor TutorService, queue *worker.Queue) ChatService {
	return &chatService{
		sessionRepo: sessionRepo,
		tutor:       tutor,
		queue:       queue,
		newID:       func() string { return strings.ReplaceAll(uuid.NewString(), "-", "") },
		now:         time.Now,
	}
}

func (s *chatService) StartOrContinue(ctx context.Context, topic, sessionID string) (*model.ChatResponse, error) {
	log.Infof("[ChatService] 收到提问, session_id: %q, topic: %.100q", sessionID, topic)

	var session *model.Session
	if sessionID != "" {
		updated, err := s.sessionRepo.Update(ctx, sessionID, func(sess *model.Session) error {
			sess.Append(model.RoleUser, topic)
			sess.CurrentTopic = topic
			sess.CurrentSolution = nil
			sess.SetStatus(model.StatusProcessing)
			sess.UpdatedAt = s.now()
			return nil
		})
		switch {
		case err == nil:
			session = updated
		case errors.Is(err, repository.ErrSessionNotFound):
			// 未知 ID 视为新会话
		default:
			return nil, fmt.Errorf("failed to continue session: %w", err)
		}
	}

	if session == nil {
		session = model.NewSession(s.newID(), topic, s.now())
		if err := s.sessionRepo.Put(ctx, session); err != nil {
			return nil, fmt.Errorf("failed to create session: %w", err)
		}
		metrics.SessionsCreated.Inc()
		log.Infof("[ChatService] 创建新会话: %s", session.ID)
	}

	id := session.ID
	if err := s.queue.Go(id, func(jobCtx context.Context) error {
		return s.runPipeline(jobCtx, id, topic)
	}); err != nil {
		return nil, fmt.Errorf("failed to schedule session pipeline: %w", err)
	}

	return &model.ChatResponse{
		SessionID: id,
		Status:    session.Status,
		Messages:  session.Messages,
	}, nil
}

// runPipeline 依次执行研究、求解，并把会话推进到等待确认状态。
func (s *chatService) runPipeline(ctx context.Context, sessionID, topic string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
		if err != nil && !errors.Is(err, repository.ErrSessionNotFound) {
			log.Errorf("[ChatService] 会话 %s 处理失败: %v", sessionID, err)
			s.markError(sessionID, "I encountered an error: "+err.Error())
		}
	}()

	// 1. 研究
	if err := s.setStatus(ctx, sessionID, model.StatusResearching); err != nil {
		return err
	}
	research := s.tutor.Research(ctx, topic)
	log.Infof("[ChatService] 会话 %s 研究完成", sessionID)

	// 2. 求解
	if _, err := s.sessionRepo.Update(ctx, sessionID, func(sess *model.Session) error {
		sess.ResearchContext = &research
		sess.SetStatus(model.StatusSolving)
		sess.UpdatedAt = s.now()
		return nil
	}); err != nil {
		return err
	}
	solution := s.tutor.Solve(ctx, topic, research)
	log.Infof("[ChatService] 会话 %s 解答生成完成", sessionID)

	// 关闭过程中产出的结果不再写回
	if ctx.Err() != nil {
		return ctx.Err()
	}

	// 3. 等待用户确认
	_, err = s.sessionRepo.Update(ctx, sessionID, func(sess *model.Session) error {
		sess.CurrentSolution = &solution
		sess.SetStatus(model.StatusWaitingForApproval)
		sess.Append(model.RoleAssistant, approvalMessage(solution))
		sess.UpdatedAt = s.now()
		return nil
	})
	if err == nil {
		log.Infof("[ChatService] 会话 %s 等待用户反馈", sessionID)
	}
	return err
}

func (s *chatService) SubmitFeedback(ctx context.Context, sessionID, feedback string) error {
	log.Infof("[ChatService] 处理会话 %s 的反馈: %.100q", sessionID, feedback)

	var (
		approved bool
		solution string
		topic    string
	)
	// 检查与状态切换在同一次原子更新中完成，并发的第二条反馈会看到非等待状态
	_, err := s.sessionRepo.Update(ctx, sessionID, func(sess *model.Session) error {
		if !sess.AwaitingApproval {
			return ErrNotAwaitingFeedback
		}
		sess.Append(model.RoleUser, feedback)
		if sess.CurrentSolution != nil {
			solution = *sess.CurrentSolution
		}
		topic = sess.CurrentTopic
		approved = IsApproval(feedback)
		if approved {
			sess.CurrentSolution = nil
			sess.SetStatus(model.StatusCompleted)
			sess.Append(model.RoleAssistant, approvedMessage(solution))
		} else {
			sess.SetStatus(model.StatusImproving)
			sess.Append(model.RoleAssistant, feedbackAck)
		}
		sess.UpdatedAt = s.now()
		return nil
	})
	if err != nil {
		return err
	}

	if approved {
		metrics.FeedbackDecisions.WithLabelValues("approved").Inc()
		log.Infof("[ChatService] 会话 %s 的解答已被确认", sessionID)
		return nil
	}
	metrics.FeedbackDecisions.WithLabelValues("revise").Inc()

	err = s.queue.Do(ctx, sessionID, func(jobCtx context.Context) error {
		improved := s.tutor.Revise(jobCtx, solution, feedback, topic)
		_, updateErr := s.sessionRepo.Update(jobCtx, sessionID, func(sess *model.Session) error {
			sess.CurrentSolution = &improved
			sess.SetStatus(model.StatusWaitingForApproval)
			sess.Append(model.RoleAssistant, improvedMessage(feedback, improved))
			sess.UpdatedAt = s.now()
			return nil
		})
		return updateErr
	})
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return err
		}
		// 请求方断开时修订仍在队列中继续，不视为失败
		if ctx.Err() != nil {
			return fmt.Errorf("feedback request cancelled: %w", ctx.Err())
		}
		log.Errorf("[ChatService] 会话 %s 修订失败: %v", sessionID, err)
		s.markError(sessionID, "I encountered an error processing your feedback: "+err.Error())
		return fmt.Errorf("failed to improve solution: %w", err)
	}
	return nil
}

func (s *chatService) GetSession(ctx context.Context, sessionID string) (*model.Session, error) {
	return s.sessionRepo.Get(ctx, sessionID)
}

func (s *chatService) DeleteSession(ctx context.Context, sessionID string) error {
	if err := s.sessionRepo.Delete(ctx, sessionID); err != nil {
		return err
	}
	log.Infof("[ChatService] 会话 %s 已删除", sessionID)
	return nil
}

func (s *chatService) ListSessions(ctx context.Context) ([]model.SessionSummary, error) {
	sessions, err := s.sessionRepo.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.SessionSummary, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, sess.Summary())
	}
	return out, nil
}

func (s *chatService) setStatus(ctx context.Context, sessionID string, status model.Status) error {
	_, err := s.sessionRepo.Update(ctx, sessionID, func(sess *model.Session) error {
		sess.SetStatus(status)
		sess.UpdatedAt = s.now()
		return nil
	})
	return err
}

// markError 把会话置为 error 并附上诊断信息。使用独立 context，保证关闭期间也能写回。
func (s *chatService) markError(sessionID, message string) {
	_, err := s.sessionRepo.Update(context.Background(), sessionID, func(sess *model.Session) error {
		sess.SetStatus(model.StatusError)
		sess.Append(model.RoleAssistant, message)
		sess.UpdatedAt = s.now()
		return nil
	})
	if err != nil && !errors.Is(err, repository.ErrSessionNotFound) {
		log.Errorf("[ChatService] 写入会话 %s 错误状态失败: %v", sessionID, err)
	}
}

// IsApproval 判断反馈是否表示认可。按子串匹配，"incorrect" 之类的词也会被当作认可。
func IsApproval(feedback string) bool {
	lower := strings.ToLower(strings.TrimSpace(feedback))
	for _, phrase := range approvalPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

func approvalMessage(solution string) string {
	return "Yay! Solution Complete!\nHere's my step by step solution:\n\n" + solution +
		"\n\n---\nPlease Review:\n- Type \"approve\" if the solution is correct\n- Or provide specific feedback for improvements."
}

func approvedMessage(solution string) string {
	return "Solution Approved!\nFinal Solution:\n" + solution
}

func improvedMessage(feedback, solution string) string {
	return "Solution Improved Based on user Feedback\nYour Feedback: " + feedback +
		"\n\nImproved Solution:\n" + solution +
		"\n\n---\nPlease Review Again:\n- Type \"approve\" if this solution looks good\n- Or provide additional feedback for further refinements"
}
