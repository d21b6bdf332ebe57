// Package auth validates the admin token that gates printer management
// endpoints, with brute-force protection per client IP.
package auth

import (
	"context"
	"encoding/base64"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/adcondev/printer-proxy/internal/config"
)

const (
	MaxTokenAttempts = 5
	LockoutDuration  = 5 * time.Minute
	CleanupInterval  = 5 * time.Minute
)

type failInfo struct {
	count       int
	lockedUntil time.Time
}

// Manager validates admin tokens and throttles repeated failures.
type Manager struct {
	hashB64       string
	failedAttempt map[string]failInfo
	mu            sync.RWMutex
}

// NewManager creates an auth manager with a cleanup goroutine bound to ctx.
// The token hash comes from the build-time value, overridable through the
// ADMIN_TOKEN_HASH environment variable.
func NewManager(ctx context.Context) *Manager {
	hash := config.AdminTokenHashB64
	if env := os.Getenv("ADMIN_TOKEN_HASH"); env != "" {
		hash = env
	}
	m := &Manager{
		hashB64:       hash,
		failedAttempt: make(map[string]failInfo),
	}
	go m.cleanupLoop(ctx)
	log.Printf("[i] Auth manager initialized (enabled=%v)", m.Enabled())
	return m
}

// Enabled returns true if a token hash is configured. With no hash the
// management endpoints reject every request rather than accepting all.
func (m *Manager) Enabled() bool {
	return m.hashB64 != ""
}

// ValidateToken decodes the base64 hash and compares with bcrypt.
func (m *Manager) ValidateToken(token string) bool {
	if !m.Enabled() {
		log.Println("[!] AUTH DISABLED: No admin token hash configured")
		return false
	}
	hashBytes, err := base64.StdEncoding.DecodeString(m.hashB64)
	if err != nil {
		log.Printf("[X] Failed to decode admin token hash from base64: %v", err)
		return false
	}
	return bcrypt.CompareHashAndPassword(hashBytes, []byte(token)) == nil
}

// TokenFromRequest extracts the admin token from the Authorization bearer
// header, the X-Admin-Token header, or the token query parameter.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return token
		}
	}
	if h := r.Header.Get("X-Admin-Token"); h != "" {
		return h
	}
	return r.URL.Query().Get("token")
}

// Authorize validates the request's token, recording failures against ip.
func (m *Manager) Authorize(r *http.Request, ip string) bool {
	if m.IsLockedOut(ip) {
		return false
	}
	if !m.ValidateToken(TokenFromRequest(r)) {
		m.RecordFailedAttempt(ip)
		return false
	}
	m.ClearFailedAttempts(ip)
	return true
}

// IsLockedOut returns true if the IP has exceeded MaxTokenAttempts.
func (m *Manager) IsLockedOut(ip string) bool {
	m.mu.RLock()
	info, exists := m.failedAttempt[ip]
	m.mu.RUnlock()
	if !exists {
		return false
	}
	return info.count >= MaxTokenAttempts && time.Now().Before(info.lockedUntil)
}

// RecordFailedAttempt increments the failure counter for an IP.
func (m *Manager) RecordFailedAttempt(ip string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	info := m.failedAttempt[ip]
	info.count++
	if info.count >= MaxTokenAttempts {
		info.lockedUntil = time.Now().Add(LockoutDuration)
		log.Printf("[AUDIT] IP %s locked out for %v after %d failed attempts",
			ip, LockoutDuration, info.count)
	}
	m.failedAttempt[ip] = info
}

// ClearFailedAttempts resets the counter after a valid token.
func (m *Manager) ClearFailedAttempts(ip string) {
	m.mu.Lock()
	delete(m.failedAttempt, ip)
	m.mu.Unlock()
}

func (m *Manager) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Println("[i] Auth cleanup goroutine stopped")
			return
		case <-ticker.C:
			m.mu.Lock()
			now := time.Now()
			for k, v := range m.failedAttempt {
				if v.count >= MaxTokenAttempts && now.After(v.lockedUntil) {
					delete(m.failedAttempt, k)
				}
			}
			m.mu.Unlock()
		}
	}
}
