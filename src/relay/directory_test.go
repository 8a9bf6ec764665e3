package relay

import (
	"context"
	"testing"
)

func TestDirectory(t *testing.T) {
	hub := newTestHub(t)
	defer hub.Close()

	ctx := context.Background()
	dir := NewDirectory(hub)

	if err := dir.Register(ctx, Profile{ID: "user_alice", DisplayName: "Alice", Email: "alice@mail.com"}); err != nil {
		t.Fatal(err)
	}
	if err := dir.Register(ctx, Profile{ID: "user_bob", Email: "bobby@mail.com"}); err != nil {
		t.Fatal(err)
	}

	name, err := dir.DisplayName(ctx, "user_alice")
	if err != nil || name != "Alice" {
		t.Fatalf("expected Alice, got %s (%v)", name, err)
	}

	name, _ = dir.DisplayName(ctx, "user_bob")
	if name != "bobby" {
		t.Fatalf("expected bobby, got %s", name)
	}

	name, _ = dir.DisplayName(ctx, "carol@mail.com")
	if name != "carol" {
		t.Fatalf("expected carol, got %s", name)
	}

	name, _ = dir.DisplayName(ctx, "user_dave")
	if name != "user_dave" {
		t.Fatalf("expected user_dave, got %s", name)
	}
}

func TestDirectoryRegisterReplaces(t *testing.T) {
	hub := newTestHub(t)
	defer hub.Close()

	ctx := context.Background()
	dir := NewDirectory(hub)

	dir.Register(ctx, Profile{ID: "user_alice", DisplayName: "Alice"})
	dir.Register(ctx, Profile{ID: "user_alice", DisplayName: "Alice B."})

	recs, err := hub.QueryByField(ctx, UsersTopic, FieldWalkieID, "user_alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected a single entry, got %d", len(recs))
	}

	name, _ := dir.DisplayName(ctx, "user_alice")
	if name != "Alice B." {
		t.Fatalf("expected Alice B., got %s", name)
	}
}
