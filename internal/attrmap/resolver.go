// Package attrmap resolves the set of directory attributes to request for a
// given logical entity kind, from the configured attribute map.
package attrmap

import "github.com/netresearch/dirauthd/internal/options"

// EntityKind is the logical directory entity the resolver builds an attribute list for.
type EntityKind int

// Entity kinds understood by the attribute resolver.
const (
	EntityUser EntityKind = iota
	EntityGroup
)

// objectClassAttr is the literal attribute every resolved list begins with.
const objectClassAttr = "objectClass"

// userFields and groupFields give the logical field names in the stable order they
// are emitted in, so the resolved attribute list does not depend on Go's randomized
// map iteration order.
var (
	userFields  = []string{"name", "uid", "gid", "modstamp", "upn"}
	groupFields = []string{"name", "gid", "modstamp"}
)

// Resolve returns the server-side attribute list for kind: objectClass first, then
// each mapped attribute name in a stable order. Unmapped logical fields are skipped.
func Resolve(kind EntityKind, userMap, groupMap options.AttrMap) []string {
	var (
		fields []string
		attrs  map[string]string
	)

	switch kind {
	case EntityUser:
		fields, attrs = userFields, userMap.Attrs
	case EntityGroup:
		fields, attrs = groupFields, groupMap.Attrs
	}

	out := make([]string, 0, len(fields)+1)
	out = append(out, objectClassAttr)

	for _, field := range fields {
		if attr, ok := attrs[field]; ok && attr != "" {
			out = append(out, attr)
		}
	}

	return out
}
