package command

import (
	"context"
	"testing"
)

func noopHandler(context.Context, *Request) error { return nil }

func TestRegistry_RegisterValidation(t *testing.T) {
	t.Parallel()

	r := NewRegistry()

	if err := r.Register(Registration{Handler: noopHandler}); err == nil {
		t.Fatal("expected error for missing name")
	}
	if err := r.Register(Registration{Name: "chatid"}); err == nil {
		t.Fatal("expected error for missing handler")
	}
	if err := r.Register(Registration{Name: "chatid", Handler: noopHandler}); err != nil {
		t.Fatalf("valid registration failed: %v", err)
	}
}

func TestRegistry_LookupIsCaseInsensitive(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	if err := r.Register(Registration{Name: "ChatID", Handler: noopHandler}); err != nil {
		t.Fatal(err)
	}

	for _, name := range []string{"chatid", "CHATID", "/chatid", "/ChatId"} {
		if !r.IsRegistered(name) {
			t.Errorf("IsRegistered(%q) = false, want true", name)
		}
	}
	if r.IsRegistered("unknown") {
		t.Error("IsRegistered(unknown) = true, want false")
	}
}

func TestRegistry_AliasSharesRegistration(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	err := r.Register(Registration{
		Name:    "chatid",
		Aliases: []string{"id", "/ID"},
		Handler: noopHandler,
	})
	if err != nil {
		t.Fatal(err)
	}

	canonical, ok := r.Lookup("chatid")
	if !ok {
		t.Fatal("canonical name not found")
	}
	for _, alias := range []string{"id", "Id", "/id"} {
		got, ok := r.Lookup(alias)
		if !ok {
			t.Fatalf("alias %q not found", alias)
		}
		if got != canonical {
			t.Fatalf("alias %q resolved to a different registration", alias)
		}
	}
}

func TestRegistry_ListDeduplicatesAndSorts(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	for _, reg := range []Registration{
		{Name: "info", Handler: noopHandler},
		{Name: "chatid", Aliases: []string{"id"}, Handler: noopHandler},
		{Name: "help", Aliases: []string{"h"}, Handler: noopHandler},
	} {
		if err := r.Register(reg); err != nil {
			t.Fatal(err)
		}
	}

	list := r.List()
	if len(list) != 3 {
		t.Fatalf("List returned %d entries, want 3 (aliases must not duplicate)", len(list))
	}
	want := []string{"chatid", "help", "info"}
	for i, reg := range list {
		if reg.Name != want[i] {
			t.Errorf("List[%d] = %q, want %q", i, reg.Name, want[i])
		}
	}
}

func TestRegistration_AllowsChatType(t *testing.T) {
	t.Parallel()

	unrestricted := &Registration{Name: "help"}
	for _, ct := range []ChatType{ChatPrivate, ChatGroup, ChatSupergroup, ChatChannel} {
		if !unrestricted.AllowsChatType(ct) {
			t.Errorf("empty AllowedChatTypes should allow %s", ct)
		}
	}

	groupsOnly := &Registration{Name: "stats", AllowedChatTypes: []ChatType{ChatGroup, ChatSupergroup}}
	if groupsOnly.AllowsChatType(ChatPrivate) {
		t.Error("private should not be allowed")
	}
	if !groupsOnly.AllowsChatType(ChatSupergroup) {
		t.Error("supergroup should be allowed")
	}
}
