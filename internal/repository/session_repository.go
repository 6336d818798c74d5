// Package repository 提供了数据访问层的实现。
package repository

import (
	"context"
	"errors"
	"sort"
	"sync"

	"math-agent-go/internal/model"
)

// ErrSessionNotFound 表示会话不存在（从未创建或已被删除）。
var ErrSessionNotFound = errors.New("session not found")

// SessionRepository 定义了会话状态的存取接口。
// 读取返回的都是副本；修改必须通过 Put 或 Update 写回。
type SessionRepository interface {
	Get(ctx context.Context, id string) (*model.Session, error)
	Put(ctx context.Context, session *model.Session) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*model.Session, error)
	// Update 在同一把锁内读取、修改并写回会话，fn 返回错误时不写回。
	Update(ctx context.Context, id string, fn func(s *model.Session) error) (*model.Session, error)
}

type memorySessionRepository struct {
	mu       sync.RWMutex
	sessions map[string]*model.Session
}

// NewMemorySessionRepository 创建一个进程内的会话仓库，进程重启后数据丢失。
func NewMemorySessionRepository() SessionRepository {
	return &memorySessionRepository{sessions: make(map[string]*model.Session)}
}

// Get 返回会话的副本。
func (r *memorySessionRepository) Get(_ context.Context, id string) (*model.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s.Clone(), nil
}

// Put 保存会话的副本，已存在则覆盖。
func (r *memorySessionRepository) Put(_ context.Context, session *model.Session) error {
	if session == nil || session.ID == "" {
		return errors.New("session id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[session.ID] = session.Clone()
	return nil
}

// Delete 删除会话。
func (r *memorySessionRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return ErrSessionNotFound
	}
	delete(r.sessions, id)
	return nil
}

// List 按创建时间升序返回所有会话的副本。
func (r *memorySessionRepository) List(_ context.Context) ([]*model.Session, error) {
	r.mu.RLock()
	out := make([]*model.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Update 对会话执行原子的读-改-写，并返回修改后的副本。
func (r *memorySessionRepository) Update(_ context.Context, id string, fn func(s *model.Session) error) (*model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	working := current.Clone()
	if err := fn(working); err != nil {
		return nil, err
	}
	r.sessions[id] = working
	return working.Clone(), nil
}
