package goRecover

import (
	"context"
	"sync"
)

// MockGateway is an in-memory Gateway. Every well-formed identifier is
// accepted, DefaultMockCode is the only valid code, and commits are
// recorded instead of stored.
type MockGateway struct {
	mu         sync.Mutex
	code       string
	dispatches int
	verified   map[Identifier]bool
	passwords  map[Identifier]string

	// RequestErr, VerifyErr and CommitErr force the matching call to fail
	// when set.
	RequestErr error
	VerifyErr  error
	CommitErr  error
}

// DefaultMockCode is the code MockGateway accepts.
const DefaultMockCode = "123456"

var _ Gateway = (*MockGateway)(nil)

// NewMockGateway returns a MockGateway that accepts DefaultMockCode.
func NewMockGateway() *MockGateway {
	return &MockGateway{
		code:      DefaultMockCode,
		verified:  make(map[Identifier]bool),
		passwords: make(map[Identifier]string),
	}
}

func (m *MockGateway) RequestOTP(_ context.Context, id Identifier) (Dispatch, error) {
	if err := ValidateIdentifier(id.Method, id.Value); err != nil {
		return Dispatch{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.RequestErr != nil {
		return Dispatch{}, m.RequestErr
	}
	m.dispatches++
	return Dispatch{Destination: DescribeDestination(id), ExpiresIn: DefaultFlowConfig().ClaimedExpiry}, nil
}

func (m *MockGateway) VerifyOTP(_ context.Context, id Identifier, code string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.VerifyErr != nil {
		return false, m.VerifyErr
	}
	if code != m.code {
		return false, nil
	}
	m.verified[NormalizeIdentifier(id)] = true
	return true, nil
}

func (m *MockGateway) CommitNewPassword(_ context.Context, id Identifier, newPassword string) error {
	if !IsStrongEnough(newPassword) {
		return ErrPasswordTooWeak
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CommitErr != nil {
		return m.CommitErr
	}
	key := NormalizeIdentifier(id)
	if !m.verified[key] {
		return ErrRecoveryNotVerified
	}
	delete(m.verified, key)
	m.passwords[key] = newPassword
	return nil
}

// Dispatches reports how many codes were "sent".
func (m *MockGateway) Dispatches() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dispatches
}

// Password returns the last committed password for id.
func (m *MockGateway) Password(id Identifier) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pw, ok := m.passwords[NormalizeIdentifier(id)]
	return pw, ok
}
