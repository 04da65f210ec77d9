// Package provider wires the online tracker, connection manager, local store,
// dispatcher, enumeration scheduler, and auth pipeline into one owned struct,
// mirroring this codebase's app-bootstrap convention.
package provider

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/netresearch/dirauthd/internal/auth"
	"github.com/netresearch/dirauthd/internal/authchild"
	"github.com/netresearch/dirauthd/internal/dirconn"
	"github.com/netresearch/dirauthd/internal/enum"
	"github.com/netresearch/dirauthd/internal/iddispatch"
	"github.com/netresearch/dirauthd/internal/online"
	"github.com/netresearch/dirauthd/internal/options"
	"github.com/netresearch/dirauthd/internal/pwcache"
	"github.com/netresearch/dirauthd/internal/store"
)

// Context is the process-wide owner of a single configured backend domain: it
// replaces the original's process-wide singleton with one Go struct per the
// corresponding design decision (see the repository's design notes).
type Context struct {
	Opts *options.Opts

	Tracker    *online.Tracker
	Conn       *dirconn.Manager
	Store      store.Store
	Dispatcher *iddispatch.Dispatcher
	Scheduler  *enum.Scheduler
	Auth       *auth.Pipeline

	cancelEnum context.CancelFunc
}

// New reads opts, opens the local store, and wires every component together. It
// does not start the enumeration scheduler; call Start for that.
func New(opts *options.Opts) (*Context, error) {
	if _, err := options.ParseTLSPolicy(opts.TLSReqCert.String()); err != nil {
		return nil, fmt.Errorf("module init: %w", err)
	}

	st, err := store.Open(opts.LocalStorePath, false, userAttrAliases(opts.UserAttrMap))
	if err != nil {
		return nil, fmt.Errorf("module init: open local store: %w", err)
	}

	tracker := online.New(opts.OfflineTimeout)
	conn := dirconn.New(opts.DirectoryServer, opts.TLSReqCert)

	dispatcher := iddispatch.New(
		tracker, conn, st, opts.BaseDN,
		opts.UserAttrMap, opts.GroupAttrMap,
		opts.DefaultBindDN, opts.DefaultAuthtokType, opts.DefaultAuthtok,
	)

	scheduler := enum.New(
		conn, st, opts.BaseDN,
		opts.UserAttrMap, opts.GroupAttrMap,
		opts.DefaultBindDN, opts.DefaultAuthtokType, opts.DefaultAuthtok,
		opts.EnumRefreshTimeout,
	)

	supervisor := authchild.New(opts.HelperBinaryPath)
	cache := pwcache.New(st)

	pipeline := auth.New(
		tracker, st, supervisor, cache,
		opts.Realm, opts.KDCAddr, opts.TrySimpleUPN, opts.CacheCredentials,
	)

	exportHelperEnv(opts)

	return &Context{
		Opts:       opts,
		Tracker:    tracker,
		Conn:       conn,
		Store:      st,
		Dispatcher: dispatcher,
		Scheduler:  scheduler,
		Auth:       pipeline,
	}, nil
}

// userAttrAliases builds the local store's logical-to-directory attribute alias
// table from the configured user attribute map, so callers can query the local
// store by the front-end's logical field spelling (e.g. "UPN") regardless of what
// directory attribute name USER_ATTR_MAP binds it to (e.g. "userPrincipalName").
func userAttrAliases(m options.AttrMap) map[string]string {
	aliases := make(map[string]string, len(m.Attrs))
	for logical, dirAttr := range m.Attrs {
		aliases[strings.ToUpper(logical)] = dirAttr
	}

	return aliases
}

// exportHelperEnv exposes realm/KDC/change-password-principal to the process
// environment so the krb5helper child inherits them via os/exec's default
// environment propagation.
func exportHelperEnv(opts *options.Opts) {
	_ = os.Setenv("SSSD_REALM", opts.Realm)
	_ = os.Setenv("SSSD_KDC", opts.KDCAddr)
	_ = os.Setenv("SSSD_KRB5_CHANGEPW_PRINCIPLE", opts.ChangePwPrincipal)
}

// Start schedules the first enumeration cycle, if enabled, in a background
// goroutine tied to ctx.
func (c *Context) Start(ctx context.Context) {
	if !c.Opts.Enumerate {
		return
	}

	enumCtx, cancel := context.WithCancel(ctx)
	c.cancelEnum = cancel

	go c.Scheduler.Run(enumCtx)
}

// Shutdown cancels the enumeration loop and closes the directory session and
// local store.
func (c *Context) Shutdown() error {
	if c.cancelEnum != nil {
		c.cancelEnum()
	}

	connErr := c.Conn.Close()
	storeErr := c.Store.Close()

	if connErr != nil {
		return fmt.Errorf("shutdown: close directory session: %w", connErr)
	}

	if storeErr != nil {
		return fmt.Errorf("shutdown: close local store: %w", storeErr)
	}

	return nil
}
