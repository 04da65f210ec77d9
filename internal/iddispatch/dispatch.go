// Package iddispatch routes account-info lookups (user, group, initgroups) over the
// shared directory session, building filters, resolving attributes, and persisting
// results into the local store.
package iddispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"
	"github.com/rs/zerolog/log"

	"github.com/netresearch/dirauthd/internal/attrmap"
	"github.com/netresearch/dirauthd/internal/dirconn"
	"github.com/netresearch/dirauthd/internal/online"
	"github.com/netresearch/dirauthd/internal/options"
	"github.com/netresearch/dirauthd/internal/retry"
	"github.com/netresearch/dirauthd/internal/store"
)

// EntryType selects which directory entity an Account Request concerns.
type EntryType int

// Entry types understood by the dispatcher.
const (
	EntryUser EntryType = iota
	EntryGroup
	EntryInitgroups
)

// FilterType selects how the filter value identifies the entity.
type FilterType int

// Filter types understood by the dispatcher.
const (
	FilterName FilterType = iota
	FilterIDNum
)

// Status is the result code returned to the front-end for an Account Request.
type Status int

// Status values, matching the front-end's errno-style result space.
const (
	StatusOK Status = iota
	StatusRetryLater
	StatusInvalidRequest
	StatusSystemError
)

// Sentinel error kinds, matching the daemon-wide error-kind taxonomy.
var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrStore          = errors.New("local store error")
	ErrDirectory      = errors.New("directory error")
)

// AttrType selects which attribute set an Account Request wants back. Only CORE is
// currently used (required for INITGROUPS); it is carried end-to-end for parity with
// the front-end's request shape.
type AttrType int

// Attribute-set types understood by the dispatcher.
const (
	AttrCore AttrType = iota
	AttrAll
)

// AccountRequest is the payload of an ACCOUNT_INFO request.
type AccountRequest struct {
	Entry      EntryType
	Filter     FilterType
	AttrType   AttrType
	FilterVal  string
	GroupNames []string // not set by HandleAccountInfo; initgroups results go to the local store
}

// Response is the single completion produced for an Account Request.
type Response struct {
	Status  Status
	Message string
}

// Dispatcher wires the online tracker, connection manager, attribute resolver, and
// local store together to answer Account Requests.
type Dispatcher struct {
	tracker *online.Tracker
	conn    *dirconn.Manager
	st      store.Store

	baseDN              string
	userOC, groupOC     string
	userAttrs           options.AttrMap
	groupAttrs          options.AttrMap
	bindDN, authtokType string
	authtok             string
}

// New constructs a Dispatcher. baseDN scopes every search issued against the
// directory; bindDN/authtokType/authtok are the default service credentials used to
// (re)establish the shared directory session.
func New(
	tracker *online.Tracker,
	conn *dirconn.Manager,
	st store.Store,
	baseDN string,
	userAttrs, groupAttrs options.AttrMap,
	bindDN, authtokType, authtok string,
) *Dispatcher {
	return &Dispatcher{
		tracker:     tracker,
		conn:        conn,
		st:          st,
		baseDN:      baseDN,
		userOC:      userAttrs.ObjectClass,
		groupOC:     groupAttrs.ObjectClass,
		userAttrs:   userAttrs,
		groupAttrs:  groupAttrs,
		bindDN:      bindDN,
		authtokType: authtokType,
		authtok:     authtok,
	}
}

// HandleAccountInfo answers a single Account Request.
func (d *Dispatcher) HandleAccountInfo(ctx context.Context, req AccountRequest) (Response, error) {
	if d.tracker.IsOffline() {
		return Response{Status: StatusRetryLater, Message: "Offline"}, nil
	}

	if err := validate(req); err != nil {
		return Response{Status: StatusInvalidRequest, Message: invalidRequestMessage(err)}, nil
	}

	if req.FilterVal == "*" && req.Entry != EntryInitgroups {
		return Response{Status: StatusOK, Message: "Success"}, nil
	}

	session, err := d.conn.EnsureConnected(ctx, d.bindDN, d.authtokType, d.authtok)
	if err != nil {
		d.tracker.MarkOffline()

		return Response{Status: StatusRetryLater, Message: "Offline"}, nil
	}

	switch req.Entry {
	case EntryUser:
		return d.handleUser(ctx, session, req)
	case EntryGroup:
		return d.handleGroup(ctx, session, req)
	case EntryInitgroups:
		return d.handleInitgroups(ctx, session, req)
	default:
		return Response{Status: StatusInvalidRequest, Message: "Invalid entry type"}, nil
	}
}

func validate(req AccountRequest) error {
	if req.Entry == EntryInitgroups {
		if req.Filter != FilterName {
			return fmt.Errorf("%w: initgroups filter must be NAME", ErrInvalidRequest)
		}

		if req.AttrType != AttrCore {
			return fmt.Errorf("%w: initgroups attr type must be CORE", ErrInvalidRequest)
		}

		if containsWildcard(req.FilterVal) {
			return fmt.Errorf("%w: Invalid filter value", ErrInvalidRequest)
		}

		return nil
	}

	if req.Entry != EntryUser && req.Entry != EntryGroup {
		return fmt.Errorf("%w: unknown entry type", ErrInvalidRequest)
	}

	return nil
}

// invalidRequestMessage strips the ErrInvalidRequest sentinel prefix, leaving only
// the caller-facing detail (e.g. "Invalid filter value").
func invalidRequestMessage(err error) string {
	return strings.TrimPrefix(err.Error(), ErrInvalidRequest.Error()+": ")
}

func containsWildcard(v string) bool {
	for _, r := range v {
		if r == '*' {
			return true
		}
	}

	return false
}

func (d *Dispatcher) handleUser(ctx context.Context, session *dirconn.Session, req AccountRequest) (Response, error) {
	attr := d.userAttrs.Attrs["name"]
	if req.Filter == FilterIDNum {
		attr = d.userAttrs.Attrs["uid"]
	}

	filter := fmt.Sprintf("(&(%s=%s)(objectclass=%s))", attr, ldap.EscapeFilter(req.FilterVal), d.userOC)
	attrs := attrmap.Resolve(attrmap.EntityUser, d.userAttrs, d.groupAttrs)

	records, err := d.search(ctx, session, filter, attrs, d.userAttrs.Attrs["name"])
	if err != nil {
		log.Error().Err(err).Msg("user search failed")

		return Response{Status: StatusSystemError, Message: "Directory error"}, err
	}

	if err := d.st.PersistUsers(ctx, records); err != nil {
		log.Error().Err(err).Msg("persist users failed")

		return Response{Status: StatusSystemError, Message: "Store error"}, fmt.Errorf("%w: %w", ErrStore, err)
	}

	return Response{Status: StatusOK, Message: "Success"}, nil
}

func (d *Dispatcher) handleGroup(ctx context.Context, session *dirconn.Session, req AccountRequest) (Response, error) {
	attr := d.groupAttrs.Attrs["name"]
	if req.Filter == FilterIDNum {
		attr = d.groupAttrs.Attrs["gid"]
	}

	filter := fmt.Sprintf("(&(%s=%s)(objectclass=%s))", attr, ldap.EscapeFilter(req.FilterVal), d.groupOC)
	attrs := attrmap.Resolve(attrmap.EntityGroup, d.userAttrs, d.groupAttrs)

	records, err := d.search(ctx, session, filter, attrs, d.groupAttrs.Attrs["name"])
	if err != nil {
		log.Error().Err(err).Msg("group search failed")

		return Response{Status: StatusSystemError, Message: "Directory error"}, err
	}

	if err := d.st.PersistGroups(ctx, records); err != nil {
		log.Error().Err(err).Msg("persist groups failed")

		return Response{Status: StatusSystemError, Message: "Store error"}, fmt.Errorf("%w: %w", ErrStore, err)
	}

	return Response{Status: StatusOK, Message: "Success"}, nil
}

func (d *Dispatcher) handleInitgroups(
	ctx context.Context,
	session *dirconn.Session,
	req AccountRequest,
) (Response, error) {
	filter := fmt.Sprintf("(&(memberUid=%s)(objectclass=%s))", ldap.EscapeFilter(req.FilterVal), d.groupOC)

	searchReq := ldap.NewSearchRequest(
		d.baseDN, ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 0, 0, false,
		filter, []string{"cn"}, nil,
	)

	result, err := retry.DoWithResultConfig(ctx, retry.DirectoryConfig(), func() (*ldap.SearchResult, error) {
		return session.Conn().SearchWithPaging(searchReq, 1000)
	})
	if err != nil {
		log.Error().Err(err).Msg("initgroups search failed")

		return Response{Status: StatusSystemError, Message: "Directory error"}, fmt.Errorf("%w: %w", ErrDirectory, err)
	}

	names := make([]string, 0, len(result.Entries))
	for _, e := range result.Entries {
		names = append(names, e.GetAttributeValue("cn"))
	}

	if err := d.st.PersistInitgroups(ctx, req.FilterVal, names); err != nil {
		log.Error().Err(err).Msg("persist initgroups failed")

		return Response{Status: StatusSystemError, Message: "Store error"}, fmt.Errorf("%w: %w", ErrStore, err)
	}

	return Response{Status: StatusOK, Message: "Success"}, nil
}

// search issues a paged search and converts entries into store Records, keyed on
// the entity's configured name attribute.
func (d *Dispatcher) search(
	ctx context.Context,
	session *dirconn.Session,
	filter string,
	attrs []string,
	nameAttr string,
) ([]store.Record, error) {
	searchReq := ldap.NewSearchRequest(
		d.baseDN, ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 0, 0, false,
		filter, attrs, nil,
	)

	result, err := retry.DoWithResultConfig(ctx, retry.DirectoryConfig(), func() (*ldap.SearchResult, error) {
		return session.Conn().SearchWithPaging(searchReq, 1000)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDirectory, err)
	}

	records := make([]store.Record, 0, len(result.Entries))

	for _, entry := range result.Entries {
		name := entry.GetAttributeValue(nameAttr)
		if name == "" {
			continue
		}

		values := make(map[string][]string, len(attrs))
		for _, a := range attrs {
			if v := entry.GetAttributeValues(a); len(v) > 0 {
				values[a] = v
			}
		}

		records = append(records, store.Record{
			Name:  name,
			IDNum: firstOrEmpty(values["uidNumber"], values["gidNumber"]),
			Attrs: values,
		})
	}

	return records, nil
}

func firstOrEmpty(candidates ...[]string) string {
	for _, c := range candidates {
		if len(c) > 0 {
			return c[0]
		}
	}

	return ""
}
