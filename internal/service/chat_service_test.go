package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"math-agent-go/internal/model"
	"math-agent-go/internal/repository"
	"math-agent-go/internal/worker"
)

type fakeTutor struct {
	release       chan struct{} // 非空时 Solve 阻塞直到关闭
	reviseStarted chan struct{}
	reviseRelease chan struct{} // 非空时 Revise 阻塞直到关闭
	panicSolve    bool
	reviseCalls   int32
}

func (f *fakeTutor) Research(_ context.Context, topic string) string {
	return "research for " + topic
}

func (f *fakeTutor) Solve(_ context.Context, topic, research string) string {
	if f.release != nil {
		<-f.release
	}
	if f.panicSolve {
		panic("boom")
	}
	return "solution for " + topic
}

func (f *fakeTutor) Revise(_ context.Context, original, feedback, topic string) string {
	n := atomic.AddInt32(&f.reviseCalls, 1)
	if f.reviseStarted != nil {
		f.reviseStarted <- struct{}{}
	}
	if f.reviseRelease != nil {
		<-f.reviseRelease
	}
	return fmt.Sprintf("revision %d of %s", n, topic)
}

func newTestChatService(t *testing.T, tutor TutorService) (ChatService, *worker.Queue) {
	t.Helper()
	q := worker.NewQueue(4)
	t.Cleanup(func() { _ = q.Shutdown(context.Background()) })
	return NewChatService(repository.NewMemorySessionRepository(), tutor, q), q
}

// waitIdle 借助队列的按 key FIFO 语义等待该会话此前的任务全部完成。
func waitIdle(t *testing.T, q *worker.Queue, id string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, q.Do(ctx, id, func(context.Context) error { return nil }))
}

func startWaiting(t *testing.T, svc ChatService, q *worker.Queue, topic string) string {
	t.Helper()
	resp, err := svc.StartOrContinue(context.Background(), topic, "")
	require.NoError(t, err)
	waitIdle(t, q, resp.SessionID)
	return resp.SessionID
}

func TestChat_StartCreatesProcessingSession(t *testing.T) {
	tutor := &fakeTutor{release: make(chan struct{})}
	svc, q := newTestChatService(t, tutor)

	resp, err := svc.StartOrContinue(context.Background(), "solve 2x + 3 = 7", "")
	require.NoError(t, err)
	assert.Len(t, resp.SessionID, 32)
	assert.Equal(t, model.StatusProcessing, resp.Status)
	assert.Equal(t, []model.Message{{Role: model.RoleUser, Content: "solve 2x + 3 = 7"}}, resp.Messages)

	close(tutor.release)
	waitIdle(t, q, resp.SessionID)

	sess, err := svc.GetSession(context.Background(), resp.SessionID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusWaitingForApproval, sess.Status)
	assert.True(t, sess.AwaitingApproval)
	require.NotNil(t, sess.CurrentSolution)
	assert.Equal(t, "solution for solve 2x + 3 = 7", *sess.CurrentSolution)
	require.NotNil(t, sess.ResearchContext)
	assert.Equal(t, "research for solve 2x + 3 = 7", *sess.ResearchContext)
	require.Len(t, sess.Messages, 2)
	assert.Contains(t, sess.Messages[1].Content, "Yay! Solution Complete!")
	assert.Contains(t, sess.Messages[1].Content, "solution for solve 2x + 3 = 7")
	assert.Equal(t, &model.WaitingKey{Key: "approval"}, sess.StateResponse().Waiting)
}

func TestChat_ApproveCompletes(t *testing.T) {
	svc, q := newTestChatService(t, &fakeTutor{})
	id := startWaiting(t, svc, q, "integral of x")

	require.NoError(t, svc.SubmitFeedback(context.Background(), id, "  APPROVE "))

	sess, err := svc.GetSession(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, sess.Status)
	assert.False(t, sess.AwaitingApproval)
	assert.Nil(t, sess.CurrentSolution)
	assert.Nil(t, sess.StateResponse().Waiting)
	last := sess.Messages[len(sess.Messages)-1]
	assert.Equal(t, "Solution Approved!\nFinal Solution:\nsolution for integral of x", last.Content)

	assert.ErrorIs(t, svc.SubmitFeedback(context.Background(), id, "approve"), ErrNotAwaitingFeedback)
}

func TestChat_FeedbackRevisesAndKeepsHistory(t *testing.T) {
	tutor := &fakeTutor{}
	svc, q := newTestChatService(t, tutor)
	id := startWaiting(t, svc, q, "derivative of x^3")

	require.NoError(t, svc.SubmitFeedback(context.Background(), id, "please show the algebraic steps"))

	sess, err := svc.GetSession(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusWaitingForApproval, sess.Status)
	assert.True(t, sess.AwaitingApproval)
	require.NotNil(t, sess.CurrentSolution)
	assert.Equal(t, "revision 1 of derivative of x^3", *sess.CurrentSolution)

	require.Len(t, sess.Messages, 5)
	assert.Contains(t, sess.Messages[1].Content, "solution for derivative of x^3")
	assert.Equal(t, model.Message{Role: model.RoleUser, Content: "please show the algebraic steps"}, sess.Messages[2])
	assert.Equal(t, feedbackAck, sess.Messages[3].Content)
	assert.Contains(t, sess.Messages[4].Content, "Your Feedback: please show the algebraic steps")
	assert.Contains(t, sess.Messages[4].Content, "revision 1 of derivative of x^3")

	// 再来一轮
	require.NoError(t, svc.SubmitFeedback(context.Background(), id, "use the power rule explicitly"))
	sess, err = svc.GetSession(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "revision 2 of derivative of x^3", *sess.CurrentSolution)
	assert.Len(t, sess.Messages, 8)
}

func TestChat_FeedbackIsImprovingWhileRevising(t *testing.T) {
	tutor := &fakeTutor{reviseStarted: make(chan struct{}, 1), reviseRelease: make(chan struct{})}
	svc, q := newTestChatService(t, tutor)
	id := startWaiting(t, svc, q, "derivative of x^3")

	done := make(chan error, 1)
	go func() { done <- svc.SubmitFeedback(context.Background(), id, "please show the algebraic steps") }()

	select {
	case <-tutor.reviseStarted:
	case <-time.After(5 * time.Second):
		t.Fatal("revise was not started")
	}

	sess, err := svc.GetSession(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusImproving, sess.Status)
	assert.False(t, sess.AwaitingApproval)
	assert.Nil(t, sess.StateResponse().Waiting)
	assert.Equal(t, feedbackAck, sess.Messages[len(sess.Messages)-1].Content)

	// 修订期间的第二条反馈被拒绝，且不写入消息
	assert.ErrorIs(t, svc.SubmitFeedback(context.Background(), id, "approve"), ErrNotAwaitingFeedback)
	again, err := svc.GetSession(context.Background(), id)
	require.NoError(t, err)
	assert.Len(t, again.Messages, len(sess.Messages))

	close(tutor.reviseRelease)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("feedback did not return after revise finished")
	}

	sess, err = svc.GetSession(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusWaitingForApproval, sess.Status)
	assert.True(t, sess.AwaitingApproval)
	assert.Equal(t, &model.WaitingKey{Key: "approval"}, sess.StateResponse().Waiting)
	assert.Equal(t, "revision 1 of derivative of x^3", *sess.CurrentSolution)
}

// failingReviseRepo 让修订结果的写回失败一次，其余操作交给内存实现。
type failingReviseRepo struct {
	repository.SessionRepository
	armed atomic.Bool
}

func (r *failingReviseRepo) Update(ctx context.Context, id string, fn func(s *model.Session) error) (*model.Session, error) {
	sess, err := r.SessionRepository.Get(ctx, id)
	if err == nil && sess.Status == model.StatusImproving && r.armed.CompareAndSwap(true, false) {
		return nil, errors.New("disk full")
	}
	return r.SessionRepository.Update(ctx, id, fn)
}

func TestChat_ReviseFailureMarksError(t *testing.T) {
	repo := &failingReviseRepo{SessionRepository: repository.NewMemorySessionRepository()}
	q := worker.NewQueue(4)
	t.Cleanup(func() { _ = q.Shutdown(context.Background()) })
	svc := NewChatService(repo, &fakeTutor{}, q)
	id := startWaiting(t, svc, q, "limit of sin(x)/x")

	repo.armed.Store(true)
	err := svc.SubmitFeedback(context.Background(), id, "please use L'Hopital")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotAwaitingFeedback)
	assert.Contains(t, err.Error(), "failed to improve solution")
	assert.Contains(t, err.Error(), "disk full")

	sess, err := svc.GetSession(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusError, sess.Status)
	assert.False(t, sess.AwaitingApproval)
	assert.Nil(t, sess.StateResponse().Waiting)
	assert.Equal(t, "I encountered an error processing your feedback: disk full", sess.Messages[len(sess.Messages)-1].Content)
	assert.ErrorIs(t, svc.SubmitFeedback(context.Background(), id, "approve"), ErrNotAwaitingFeedback)
}

func TestChat_FeedbackWhileNotWaiting(t *testing.T) {
	tutor := &fakeTutor{release: make(chan struct{})}
	svc, q := newTestChatService(t, tutor)

	resp, err := svc.StartOrContinue(context.Background(), "2+2", "")
	require.NoError(t, err)

	assert.ErrorIs(t, svc.SubmitFeedback(context.Background(), resp.SessionID, "approve"), ErrNotAwaitingFeedback)

	close(tutor.release)
	waitIdle(t, q, resp.SessionID)
	assert.NoError(t, svc.SubmitFeedback(context.Background(), resp.SessionID, "approve"))
}

func TestChat_ConcurrentFeedbackOnlyOneWins(t *testing.T) {
	svc, q := newTestChatService(t, &fakeTutor{})
	id := startWaiting(t, svc, q, "solve x^2 = 9")

	var (
		wg        sync.WaitGroup
		succeeded int32
		rejected  int32
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := svc.SubmitFeedback(context.Background(), id, "looks good")
			if err == nil {
				atomic.AddInt32(&succeeded, 1)
			} else if assert.ErrorIs(t, err, ErrNotAwaitingFeedback) {
				atomic.AddInt32(&rejected, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), succeeded)
	assert.Equal(t, int32(7), rejected)
}

func TestChat_ContinueExistingSession(t *testing.T) {
	svc, q := newTestChatService(t, &fakeTutor{})
	id := startWaiting(t, svc, q, "area of a circle")

	resp, err := svc.StartOrContinue(context.Background(), "volume of a sphere", id)
	require.NoError(t, err)
	assert.Equal(t, id, resp.SessionID)
	assert.Equal(t, model.StatusProcessing, resp.Status)
	require.Len(t, resp.Messages, 3)
	assert.Equal(t, "volume of a sphere", resp.Messages[2].Content)

	waitIdle(t, q, id)
	sess, err := svc.GetSession(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "volume of a sphere", sess.CurrentTopic)
	assert.Equal(t, "solution for volume of a sphere", *sess.CurrentSolution)
	assert.Equal(t, model.StatusWaitingForApproval, sess.Status)
}

func TestChat_UnknownSessionIDStartsFresh(t *testing.T) {
	svc, q := newTestChatService(t, &fakeTutor{})

	resp, err := svc.StartOrContinue(context.Background(), "2+2", "does-not-exist")
	require.NoError(t, err)
	assert.NotEqual(t, "does-not-exist", resp.SessionID)
	assert.NotEmpty(t, resp.SessionID)
	waitIdle(t, q, resp.SessionID)
}

func TestChat_PipelinePanicMarksError(t *testing.T) {
	svc, q := newTestChatService(t, &fakeTutor{panicSolve: true})

	resp, err := svc.StartOrContinue(context.Background(), "solve for x", "")
	require.NoError(t, err)
	waitIdle(t, q, resp.SessionID)

	sess, err := svc.GetSession(context.Background(), resp.SessionID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusError, sess.Status)
	assert.False(t, sess.AwaitingApproval)
	assert.Equal(t, "I encountered an error: boom", sess.Messages[len(sess.Messages)-1].Content)
}

func TestChat_DeleteThenGet(t *testing.T) {
	svc, q := newTestChatService(t, &fakeTutor{})
	id := startWaiting(t, svc, q, "2+2")

	list, err := svc.ListSessions(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0].SessionID)
	assert.Equal(t, 2, list[0].MessageCount)

	require.NoError(t, svc.DeleteSession(context.Background(), id))
	_, err = svc.GetSession(context.Background(), id)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, svc.DeleteSession(context.Background(), id), ErrSessionNotFound)
	assert.ErrorIs(t, svc.SubmitFeedback(context.Background(), id, "approve"), ErrSessionNotFound)
}

func TestIsApproval(t *testing.T) {
	tests := []struct {
		feedback string
		want     bool
	}{
		{"approve", true},
		{"Approved!", true},
		{"YES", true},
		{"ok", true},
		{"that's correct", true},
		{"Looks Good", true},
		{"incorrect, redo step 2", true},
		{"please show the algebraic steps", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsApproval(tt.feedback), tt.feedback)
	}
}
