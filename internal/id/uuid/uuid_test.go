package uuid

import (
	"testing"

	goUUID "github.com/google/uuid"
)

// TestGeneratorNewRunID ensures generated IDs are unique version 7 UUIDs.
func TestGeneratorNewRunID(t *testing.T) {
	t.Parallel()

	gen := New()
	id1, err := gen.NewRunID()
	if err != nil {
		t.Fatalf("NewRunID() error = %v", err)
	}
	id2, err := gen.NewRunID()
	if err != nil {
		t.Fatalf("NewRunID() error = %v", err)
	}
	if id1 == id2 {
		t.Fatalf("expected unique ids, got %s twice", id1)
	}
	if id1.Version() != 7 {
		t.Fatalf("expected version 7, got %d", id1.Version())
	}
	if _, err := goUUID.Parse(id1.String()); err != nil {
		t.Fatalf("expected parseable uuid, got %v", err)
	}
}

// TestGeneratorMustRunID never returns the nil UUID.
func TestGeneratorMustRunID(t *testing.T) {
	t.Parallel()

	if id := New().MustRunID(); id == goUUID.Nil {
		t.Fatal("expected non-nil run id")
	}
}
