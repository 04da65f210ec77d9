package attrmap

import (
	"reflect"
	"testing"

	"github.com/netresearch/dirauthd/internal/options"
)

func TestResolve_User(t *testing.T) {
	userMap := options.AttrMap{
		ObjectClass: "posixAccount",
		Attrs: map[string]string{
			"name":     "uid",
			"uid":      "uidNumber",
			"modstamp": "modifyTimestamp",
		},
	}

	got := Resolve(EntityUser, userMap, options.AttrMap{})
	want := []string{"objectClass", "uid", "uidNumber", "modifyTimestamp"}

	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestResolve_Group_SkipsUnmapped(t *testing.T) {
	groupMap := options.AttrMap{
		ObjectClass: "posixGroup",
		Attrs: map[string]string{
			"name": "cn",
		},
	}

	got := Resolve(EntityGroup, options.AttrMap{}, groupMap)
	want := []string{"objectClass", "cn"}

	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestResolve_EmptyMapYieldsOnlyObjectClass(t *testing.T) {
	got := Resolve(EntityUser, options.AttrMap{}, options.AttrMap{})
	want := []string{"objectClass"}

	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}
