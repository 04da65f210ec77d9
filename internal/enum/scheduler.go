// Package enum runs periodic full/delta enumeration of users then groups, tracking a
// modification-timestamp watermark per entity kind and bounding each cycle with a
// watchdog deadline.
package enum

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/rs/zerolog/log"

	"github.com/netresearch/dirauthd/internal/attrmap"
	"github.com/netresearch/dirauthd/internal/dirconn"
	"github.com/netresearch/dirauthd/internal/options"
	"github.com/netresearch/dirauthd/internal/retry"
	"github.com/netresearch/dirauthd/internal/store"
)

// pageSize bounds each SearchWithPaging round trip during enumeration.
const pageSize = 1000

// Scheduler periodically re-enumerates users then groups from the directory,
// persisting results into the local store and advancing a watermark per kind.
type Scheduler struct {
	conn    *dirconn.Manager
	st      store.Store

	baseDN                       string
	userAttrs, groupAttrs        options.AttrMap
	bindDN, authtokType, authtok string
	refreshTimeout               time.Duration

	mu             sync.Mutex
	userWatermark  string
	groupWatermark string
	lastRun        time.Time
}

// New constructs a Scheduler. baseDN scopes every enumeration search;
// bindDN/authtokType/authtok are the service credentials used to (re)establish the
// shared directory session if needed.
func New(
	conn *dirconn.Manager,
	st store.Store,
	baseDN string,
	userAttrs, groupAttrs options.AttrMap,
	bindDN, authtokType, authtok string,
	refreshTimeout time.Duration,
) *Scheduler {
	return &Scheduler{
		conn:           conn,
		st:             st,
		baseDN:         baseDN,
		userAttrs:      userAttrs,
		groupAttrs:     groupAttrs,
		bindDN:         bindDN,
		authtokType:    authtokType,
		authtok:        authtok,
		refreshTimeout: refreshTimeout,
	}
}

// UserWatermark returns the current user modstamp watermark, or "" if no cycle has
// completed yet.
func (s *Scheduler) UserWatermark() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.userWatermark
}

// GroupWatermark returns the current group modstamp watermark.
func (s *Scheduler) GroupWatermark() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.groupWatermark
}

// LastRun returns the start time of the most recently completed cycle.
func (s *Scheduler) LastRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.lastRun
}

// Run drives the periodic enumeration loop until ctx is canceled. It fires
// immediately, then every refreshTimeout measured from the start of the previous
// successful cycle; a failed cycle reschedules from now instead.
func (s *Scheduler) Run(ctx context.Context) {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		start := time.Now()

		cycleCtx, cancel := context.WithTimeout(ctx, s.refreshTimeout)
		err := s.runCycle(cycleCtx)
		cancel()

		next := s.refreshTimeout

		if err != nil {
			log.Error().Err(err).Msg("enumeration cycle failed")
		} else {
			s.mu.Lock()
			s.lastRun = start
			s.mu.Unlock()

			if elapsed := time.Since(start); elapsed < s.refreshTimeout {
				next = s.refreshTimeout - elapsed
			} else {
				next = 0
			}
		}

		timer.Reset(next)
	}
}

func (s *Scheduler) runCycle(ctx context.Context) error {
	session, err := s.conn.EnsureConnected(ctx, s.bindDN, s.authtokType, s.authtok)
	if err != nil {
		return fmt.Errorf("enum connect: %w", err)
	}

	nameAttr := s.userAttrs.Attrs["name"]
	modAttr := s.userAttrs.Attrs["modstamp"]
	attrs := attrmap.Resolve(attrmap.EntityUser, s.userAttrs, s.groupAttrs)

	userFilter := buildFilter(nameAttr, s.userAttrs.ObjectClass, modAttr, s.UserWatermark())

	records, maxStamp, err := searchAll(ctx, session, s.baseDN, userFilter, attrs, nameAttr, modAttr)
	if err != nil {
		return fmt.Errorf("enum users: %w", err)
	}

	if err := s.st.PersistUsers(ctx, records); err != nil {
		return fmt.Errorf("enum persist users: %w", err)
	}

	if maxStamp != "" {
		s.mu.Lock()
		s.userWatermark = maxStamp
		s.mu.Unlock()
	}

	groupNameAttr := s.groupAttrs.Attrs["name"]
	groupModAttr := s.groupAttrs.Attrs["modstamp"]
	groupAttrsList := attrmap.Resolve(attrmap.EntityGroup, s.userAttrs, s.groupAttrs)

	groupFilter := buildFilter(groupNameAttr, s.groupAttrs.ObjectClass, groupModAttr, s.GroupWatermark())

	groupRecords, groupMaxStamp, err := searchAll(ctx, session, s.baseDN, groupFilter, groupAttrsList, groupNameAttr, groupModAttr)
	if err != nil {
		return fmt.Errorf("enum groups: %w", err)
	}

	if err := s.st.PersistGroups(ctx, groupRecords); err != nil {
		return fmt.Errorf("enum persist groups: %w", err)
	}

	if groupMaxStamp != "" {
		s.mu.Lock()
		s.groupWatermark = groupMaxStamp
		s.mu.Unlock()
	}

	return nil
}

// buildFilter returns the server-side filter for a full enumeration (watermark
// empty) or a delta enumeration strictly newer than watermark.
func buildFilter(nameAttr, objectClass, modAttr, watermark string) string {
	if watermark == "" {
		return fmt.Sprintf("(&(%s=*)(objectclass=%s))", nameAttr, objectClass)
	}

	return fmt.Sprintf(
		"(&(%s=*)(objectclass=%s)(%s>=%s)(!(%s=%s)))",
		nameAttr, objectClass, modAttr, watermark, modAttr, watermark,
	)
}

// searchAll issues a paged search, converts entries into store Records, and returns
// the maximum value observed for modAttr across all entries.
func searchAll(
	ctx context.Context,
	session *dirconn.Session,
	baseDN string,
	filter string,
	attrs []string,
	nameAttr, modAttr string,
) ([]store.Record, string, error) {
	req := ldap.NewSearchRequest(
		baseDN, ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 0, 0, false,
		filter, attrs, nil,
	)

	result, err := retry.DoWithResultConfig(ctx, retry.DirectoryConfig(), func() (*ldap.SearchResult, error) {
		return session.Conn().SearchWithPaging(req, pageSize)
	})
	if err != nil {
		return nil, "", fmt.Errorf("search: %w", err)
	}

	records := make([]store.Record, 0, len(result.Entries))
	maxStamp := ""

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

		if modAttr != "" {
			if stamp := entry.GetAttributeValue(modAttr); stamp > maxStamp {
				maxStamp = stamp
			}
		}

		records = append(records, store.Record{
			Name:  name,
			IDNum: firstOrEmpty(values["uidNumber"], values["gidNumber"]),
			Attrs: values,
		})
	}

	return records, maxStamp, nil
}

func firstOrEmpty(candidates ...[]string) string {
	for _, c := range candidates {
		if len(c) > 0 {
			return c[0]
		}
	}

	return ""
}
