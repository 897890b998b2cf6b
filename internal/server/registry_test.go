package server

import (
	"testing"

	"github.com/foxhuntgame/foxhunt/internal/game"
)

func TestRegistryBindLookup(t *testing.T) {
	reg := NewRegistry()

	if _, ok := reg.Lookup("c1"); ok {
		t.Fatal("lookup on empty registry should miss")
	}

	id := identity{SessionID: "s1", PlayerID: "p1", Username: "fox", Team: game.TeamRunner}
	reg.Bind("c1", id)

	got, ok := reg.Lookup("c1")
	if !ok || got != id {
		t.Fatalf("lookup = %+v, %v; want %+v", got, ok, id)
	}
	if connID, ok := reg.ConnByPlayer("p1"); !ok || connID != "c1" {
		t.Fatalf("connByPlayer = %q, %v; want c1", connID, ok)
	}

	unbound, ok := reg.Unbind("c1")
	if !ok || unbound != id {
		t.Fatalf("unbind = %+v, %v; want %+v", unbound, ok, id)
	}
	if _, ok := reg.Lookup("c1"); ok {
		t.Fatal("lookup after unbind should miss")
	}
	if _, ok := reg.ConnByPlayer("p1"); ok {
		t.Fatal("connByPlayer after unbind should miss")
	}
	if _, ok := reg.Unbind("c1"); ok {
		t.Fatal("second unbind should report no binding")
	}
}

func TestRegistryRebindKeepsNewClaim(t *testing.T) {
	reg := NewRegistry()
	id := identity{SessionID: "s1", PlayerID: "p1", Username: "fox", Team: game.TeamRunner}

	// The player reconnects before the old connection is torn down.
	reg.Bind("old", id)
	reg.Bind("new", id)

	if connID, _ := reg.ConnByPlayer("p1"); connID != "new" {
		t.Fatalf("connByPlayer = %q, want new", connID)
	}

	// Unbinding the displaced connection must not steal the player index
	// from the live one.
	if _, ok := reg.Unbind("old"); !ok {
		t.Fatal("old connection should still have a binding to remove")
	}
	if connID, ok := reg.ConnByPlayer("p1"); !ok || connID != "new" {
		t.Fatalf("connByPlayer after old unbind = %q, %v; want new", connID, ok)
	}
	if got, ok := reg.Lookup("new"); !ok || got != id {
		t.Fatalf("lookup new = %+v, %v; want %+v", got, ok, id)
	}
}
