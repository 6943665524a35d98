// Package nonce issues and verifies single-use, action-scoped request tokens.
// A nonce proves that a state-changing request originated from a legitimate
// prior page load for that user and action.
package nonce

import (
	"crypto/rand"
	"encoding/base64"
	"sync"
	"time"

	"sitegate/pkg/logging"
)

// DefaultTTL is how long an issued nonce stays valid.
const DefaultTTL = 10 * time.Minute

type entry struct {
	userID    string
	action    string
	createdAt time.Time
}

// Service provides thread-safe issuance and single-use verification of
// action-scoped nonces.
type Service struct {
	mu     sync.RWMutex
	tokens map[string]entry

	ttl         time.Duration
	stopCleanup chan struct{}
}

// NewService creates a nonce service with the default TTL and starts the
// background cleanup loop.
func NewService() *Service {
	return NewServiceWithTTL(DefaultTTL)
}

// NewServiceWithTTL creates a nonce service with a custom TTL.
func NewServiceWithTTL(ttl time.Duration) *Service {
	s := &Service{
		tokens:      make(map[string]entry),
		ttl:         ttl,
		stopCleanup: make(chan struct{}),
	}

	go s.cleanupLoop()

	return s
}

// Create issues a new nonce bound to the given user and action.
func (s *Service) Create(userID, action string) (string, error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	token := base64.RawURLEncoding.EncodeToString(raw)

	s.mu.Lock()
	s.tokens[token] = entry{
		userID:    userID,
		action:    action,
		createdAt: time.Now(),
	}
	s.mu.Unlock()

	logging.Debug("Nonce", "Issued nonce for user=%s action=%s", userID, action)
	return token, nil
}

// Verify checks a nonce against the given user and action and consumes it.
// Returns false for unknown, expired, or mismatched nonces.
func (s *Service) Verify(userID, action, token string) bool {
	if token == "" {
		return false
	}

	s.mu.Lock()
	e, ok := s.tokens[token]
	if ok {
		delete(s.tokens, token)
	}
	s.mu.Unlock()

	if !ok {
		logging.Warn("Nonce", "Unknown nonce for user=%s action=%s", userID, action)
		return false
	}
	if e.userID != userID || e.action != action {
		logging.Warn("Nonce", "Nonce scope mismatch for user=%s action=%s", userID, action)
		return false
	}
	if time.Since(e.createdAt) > s.ttl {
		logging.Warn("Nonce", "Expired nonce for user=%s action=%s age=%v", userID, action, time.Since(e.createdAt))
		return false
	}

	return true
}

// Stop stops the background cleanup goroutine.
func (s *Service) Stop() {
	close(s.stopCleanup)
}

// cleanupLoop periodically removes expired nonces.
func (s *Service) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stopCleanup:
			return
		}
	}
}

// cleanup removes all expired nonces.
func (s *Service) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for token, e := range s.tokens {
		if time.Since(e.createdAt) > s.ttl {
			delete(s.tokens, token)
			count++
		}
	}

	if count > 0 {
		logging.Debug("Nonce", "Cleaned up %d expired nonces", count)
	}
}
