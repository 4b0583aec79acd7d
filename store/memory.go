package store

import (
	"context"
	"fmt"
	"strings"
	"sync"

	goRecover "github.com/MrEthical07/goRecover"
)

// Memory is a map-backed UserStore for demos, mock mode and tests.
type Memory struct {
	mu      sync.RWMutex
	byID    map[string]*goRecover.UserRecord
	byEmail map[string]string
	byPhone map[string]string
}

func NewMemory() *Memory {
	return &Memory{
		byID:    make(map[string]*goRecover.UserRecord),
		byEmail: make(map[string]string),
		byPhone: make(map[string]string),
	}
}

func (m *Memory) Close() error { return nil }

func (m *Memory) CreateUser(_ context.Context, u goRecover.UserRecord) error {
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	u.Phone = strings.TrimSpace(u.Phone)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[u.UserID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateUser, u.UserID)
	}
	if _, ok := m.byEmail[u.Email]; ok && u.Email != "" {
		return fmt.Errorf("%w: %s", ErrDuplicateUser, u.Email)
	}
	if _, ok := m.byPhone[u.Phone]; ok && u.Phone != "" {
		return fmt.Errorf("%w: %s", ErrDuplicateUser, goRecover.MaskPhone(u.Phone))
	}

	rec := u
	m.byID[u.UserID] = &rec
	if u.Email != "" {
		m.byEmail[u.Email] = u.UserID
	}
	if u.Phone != "" {
		m.byPhone[u.Phone] = u.UserID
	}
	return nil
}

func (m *Memory) GetUserByIdentifier(_ context.Context, id goRecover.Identifier) (goRecover.UserRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var userID string
	var ok bool
	if id.Method == goRecover.MethodPhone {
		userID, ok = m.byPhone[strings.TrimSpace(id.Value)]
	} else {
		userID, ok = m.byEmail[strings.ToLower(strings.TrimSpace(id.Value))]
	}
	if !ok {
		return goRecover.UserRecord{}, goRecover.ErrUserNotFound
	}
	return *m.byID[userID], nil
}

func (m *Memory) GetUserByID(_ context.Context, userID string) (goRecover.UserRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.byID[userID]
	if !ok {
		return goRecover.UserRecord{}, goRecover.ErrUserNotFound
	}
	return *u, nil
}

func (m *Memory) UpdatePasswordHash(_ context.Context, userID, newHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[userID]
	if !ok {
		return goRecover.ErrUserNotFound
	}
	u.PasswordHash = newHash
	return nil
}

func (m *Memory) MarkEmailVerified(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[userID]
	if !ok {
		return goRecover.ErrUserNotFound
	}
	u.EmailVerified = true
	return nil
}
