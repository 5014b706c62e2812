// Package session 为 HTTP 接口管理按会话独占的工作流控制器，过期会话在访问时惰性清理。
package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	xerrors "ProofChain/internal/errors"
	"ProofChain/internal/workflow"
	"ProofChain/pkg/logger"
)

// Factory 为新会话创建控制器。
type Factory func() *workflow.Controller

// Session 绑定一个控制器。
type Session struct {
	ID         string               `json:"id"`
	CreatedAt  time.Time            `json:"createdAt"`
	Controller *workflow.Controller `json:"-"`

	lastSeen time.Time
}

// Option 定义会话管理器的可选配置。
type Option func(*Manager)

// WithTTL 设置会话闲置过期时间。
func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithMaxSessions 限制同时存在的会话数。
func WithMaxSessions(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.max = n
		}
	}
}

// WithClock 替换时间来源。
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// Manager 保存活跃会话。
type Manager struct {
	factory Factory
	ttl     time.Duration
	max     int
	now     func() time.Time
	log     *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager 创建会话管理器。
func NewManager(factory Factory, opts ...Option) *Manager {
	m := &Manager{
		factory:  factory,
		ttl:      30 * time.Minute,
		max:      1024,
		now:      time.Now,
		log:      logger.Named("session"),
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Create 新建会话。
func (m *Manager) Create() (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepLocked()
	if len(m.sessions) >= m.max {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "too many active sessions", xerrors.WithStage("session"))
	}
	now := m.now()
	s := &Session{
		ID:         uuid.NewString(),
		CreatedAt:  now.UTC(),
		Controller: m.factory(),
		lastSeen:   now,
	}
	m.sessions[s.ID] = s
	m.log.Debug("会话已创建", slog.String("session_id", s.ID))
	return s, nil
}

// Get 返回会话并刷新其活跃时间。
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepLocked()
	s, ok := m.sessions[id]
	if !ok {
		return nil, xerrors.New(xerrors.CodeNotFound, "session not found", xerrors.WithMetadata("session_id", id))
	}
	s.lastSeen = m.now()
	return s, nil
}

// Delete 结束会话并重置其控制器。
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return xerrors.New(xerrors.CodeNotFound, "session not found", xerrors.WithMetadata("session_id", id))
	}
	s.Controller.Reset()
	return nil
}

// Len 返回活跃会话数。
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepLocked()
	return len(m.sessions)
}

func (m *Manager) sweepLocked() {
	cutoff := m.now().Add(-m.ttl)
	for id, s := range m.sessions {
		if s.lastSeen.Before(cutoff) {
			delete(m.sessions, id)
			// 放弃进行中的操作并断开钱包，迟到的结果会被丢弃。
			s.Controller.Reset()
			m.log.Debug("会话已过期", slog.String("session_id", id))
		}
	}
}
