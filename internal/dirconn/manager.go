// Package dirconn owns the at-most-one shared directory session: connect,
// optional StartTLS, simple bind, and invalidation on fatal I/O error.
package dirconn

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"sync"

	"github.com/go-ldap/ldap/v3"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/netresearch/dirauthd/internal/options"
)

// Sentinel error kinds, matching the spec's error-kind taxonomy.
var (
	ErrConnectFailed = errors.New("connect failed")
	ErrBindFailed    = errors.New("bind failed")
)

// Session wraps a bound *ldap.Conn together with the flags the dispatcher needs to
// decide whether it is safe to reuse.
type Session struct {
	conn      *ldap.Conn
	connected bool
	bindDN    string
}

// Conn returns the underlying bound connection for issuing searches.
func (s *Session) Conn() *ldap.Conn {
	return s.conn
}

// Manager owns the single shared Session for a Provider Context and guarantees
// at-most-one concurrent connect attempt via a singleflight group.
type Manager struct {
	server string
	tls    options.TLSPolicy

	mu      sync.Mutex
	session *Session

	group singleflight.Group
}

// New creates a connection manager dialing server (an ldap:// or ldaps:// URI) under
// the given TLS policy.
func New(server string, policy options.TLSPolicy) *Manager {
	return &Manager{server: server, tls: policy}
}

// EnsureConnected returns the shared session, establishing it if necessary. A second
// call arriving while a connect is already in flight subscribes to that same outcome
// instead of dialing twice.
func (m *Manager) EnsureConnected(ctx context.Context, bindDN, authtokType, authtok string) (*Session, error) {
	m.mu.Lock()
	if m.session != nil && m.session.connected {
		s := m.session
		m.mu.Unlock()

		return s, nil
	}

	stale := m.session
	m.session = nil
	m.mu.Unlock()

	if stale != nil {
		_ = stale.conn.Close()
	}

	v, err, _ := m.group.Do(bindDN+"\x00"+authtokType, func() (any, error) {
		return m.connect(ctx, bindDN, authtokType, authtok)
	})
	if err != nil {
		return nil, err
	}

	session, ok := v.(*Session)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected connect result type", ErrConnectFailed)
	}

	m.mu.Lock()
	m.session = session
	m.mu.Unlock()

	return session, nil
}

func (m *Manager) connect(ctx context.Context, bindDN, authtokType, authtok string) (*Session, error) {
	conn, err := ldap.DialURL(m.server)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectFailed, err)
	}

	conn.SetTimeout(0)

	if m.tls != options.TLSPolicyNever {
		strict := m.tls == options.TLSPolicyDemand || m.tls == options.TLSPolicyHard
		tlsConfig := &tls.Config{InsecureSkipVerify: !strict} //nolint:gosec // policy-gated, see options.TLSPolicy

		if err := conn.StartTLS(tlsConfig); err != nil {
			_ = conn.Close()

			return nil, fmt.Errorf("%w: starttls: %w", ErrConnectFailed, err)
		}
	}

	if authtokType != "" && authtokType != "password" {
		_ = conn.Close()

		return nil, fmt.Errorf("%w: unsupported authtok type %q", ErrBindFailed, authtokType)
	}

	if err := conn.Bind(bindDN, authtok); err != nil {
		_ = conn.Close()

		return nil, fmt.Errorf("%w: %w", ErrBindFailed, err)
	}

	log.Debug().Str("bind_dn", bindDN).Msg("directory session established")

	return &Session{conn: conn, connected: true, bindDN: bindDN}, nil
}

// Invalidate marks the shared session as no longer connected without closing it; the
// next EnsureConnected call closes the stale transport and dials a fresh session.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session != nil {
		m.session.connected = false
	}
}

// Close releases the shared session, if any.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil {
		return nil
	}

	err := m.session.conn.Close()
	m.session = nil

	return err
}
