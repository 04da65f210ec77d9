// Package auth implements the PAM authentication pipeline: principal resolution,
// privilege-separated helper invocation, status mapping, and offline-password
// cache triggering.
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/netresearch/dirauthd/internal/authchild"
	"github.com/netresearch/dirauthd/internal/online"
	"github.com/netresearch/dirauthd/internal/pwcache"
	"github.com/netresearch/dirauthd/internal/store"
)

// Cmd identifies the PAM operation a Request carries.
type Cmd int

// PAM commands the pipeline handles; all others pass through as SUCCESS.
const (
	CmdAuthenticate Cmd = iota
	CmdChauthtok
	CmdOther
)

// Status is the result code returned to the front-end for a PAM Request.
type Status int

// Status values, matching the front-end's errno-style result space.
const (
	StatusSuccess Status = iota
	StatusAuthFailed
	StatusAuthUnavailable
	StatusSystemError
)

// ErrSystemError marks a Request that failed for reasons outside the user's
// control (UPN resolution failure, helper exec failure).
var ErrSystemError = errors.New("system error")

// Request is the payload of a PAM authentication request.
type Request struct {
	Cmd        Cmd
	User       string
	UID, GID   uint32
	Authtok    []byte
	NewAuthtok []byte // only meaningful when Cmd == CmdChauthtok
}

// EnvItem is a process-environment-style response item, as produced on a
// successful AUTHENTICATE.
type EnvItem struct {
	Key, Value string
}

// Response is the single completion produced for a PAM Request.
type Response struct {
	Status   Status
	Messages []string
	Env      []EnvItem
}

// Pipeline wires the online tracker, local store, child supervisor, and
// password-cache hook together to answer PAM Requests.
type Pipeline struct {
	tracker    *online.Tracker
	st         store.Store
	supervisor *authchild.Supervisor
	cache      *pwcache.Hook

	realm, kdcAddr   string
	trySimpleUPN     bool
	cacheCredentials bool
}

// New constructs a Pipeline.
func New(
	tracker *online.Tracker,
	st store.Store,
	supervisor *authchild.Supervisor,
	cache *pwcache.Hook,
	realm, kdcAddr string,
	trySimpleUPN, cacheCredentials bool,
) *Pipeline {
	return &Pipeline{
		tracker:          tracker,
		st:               st,
		supervisor:       supervisor,
		cache:            cache,
		realm:            realm,
		kdcAddr:          kdcAddr,
		trySimpleUPN:     trySimpleUPN,
		cacheCredentials: cacheCredentials,
	}
}

// HandlePAM answers a single PAM Request.
func (p *Pipeline) HandlePAM(ctx context.Context, req Request) (Response, error) {
	if p.tracker.IsOffline() {
		return Response{Status: StatusAuthUnavailable, Messages: []string{"retry later"}}, nil
	}

	if req.Cmd != CmdAuthenticate && req.Cmd != CmdChauthtok {
		return Response{Status: StatusSuccess}, nil
	}

	upn, err := p.resolveUPN(ctx, req.User)
	if err != nil {
		return Response{Status: StatusSystemError}, fmt.Errorf("%w: %w", ErrSystemError, err)
	}

	if upn == "" {
		return Response{Status: StatusSystemError}, fmt.Errorf("%w: no UPN available for %s", ErrSystemError, req.User)
	}

	childReq := authchild.Request{UPN: upn, Authtok: req.Authtok}
	if req.Cmd == CmdChauthtok {
		childReq.Cmd = authchild.CmdChauthtok
		childReq.NewAuthtok = req.NewAuthtok
	} else {
		childReq.Cmd = authchild.CmdAuthenticate
	}

	reply, err := p.supervisor.Invoke(ctx, req.UID, req.GID, childReq)
	if err != nil {
		log.Error().Err(err).Str("user", req.User).Msg("kerberos helper invocation failed")

		return Response{Status: StatusSystemError}, fmt.Errorf("%w: %w", ErrSystemError, err)
	}

	resp := Response{Status: mapStatus(reply.Status)}
	if reply.Message != "" {
		resp.Messages = append(resp.Messages, reply.Message)
	}

	if resp.Status == StatusAuthUnavailable {
		p.tracker.MarkOffline()
	}

	if resp.Status == StatusSuccess && req.Cmd == CmdAuthenticate {
		resp.Env = append(resp.Env,
			EnvItem{Key: "REALM", Value: p.realm},
			EnvItem{Key: "KDC", Value: p.kdcAddr},
		)
	}

	if resp.Status == StatusSuccess && p.cacheCredentials {
		password := req.Authtok
		if req.Cmd == CmdChauthtok {
			password = req.NewAuthtok
		}

		if len(password) > 0 {
			// Zero-padded with a trailing NUL terminator before handing off to the
			// cache hook; Hook.Cache strips it before hashing.
			buf := make([]byte, len(password)+1)
			copy(buf, password)

			p.cache.Cache(ctx, req.User, buf)
		}
	}

	return resp, nil
}

// ActiveChildren reports how many helper child processes are currently running.
func (p *Pipeline) ActiveChildren() int64 {
	return p.supervisor.Active()
}

// resolveUPN reads the user's principal name from the local store, falling back to
// a synthesized simple UPN when enabled and a realm is configured.
func (p *Pipeline) resolveUPN(ctx context.Context, user string) (string, error) {
	attrs, err := p.st.GetUserAttr(ctx, user, []string{"UPN"})
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("resolve upn: %w", err)
	}

	values := attrs["UPN"]

	switch len(values) {
	case 0:
		// fall through to the simple-UPN path below
	case 1:
		return values[0], nil
	default:
		log.Warn().Str("user", user).Int("count", len(values)).Msg("multiple UPN values, treating as none")
	}

	if p.trySimpleUPN && p.realm != "" {
		return user + "@" + p.realm, nil
	}

	return "", nil
}

func mapStatus(s authchild.PamStatus) Status {
	switch s {
	case authchild.PamSuccess:
		return StatusSuccess
	case authchild.PamAuthUnavailable:
		return StatusAuthUnavailable
	case authchild.PamAuthFailed:
		return StatusAuthFailed
	case authchild.PamSystemError:
		return StatusSystemError
	default:
		return StatusSystemError
	}
}
