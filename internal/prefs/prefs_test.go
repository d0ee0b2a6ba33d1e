package prefs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/antoniostano/aura/internal/state"
)

func TestRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore error = %v", err)
	}

	store.SaveRequestedMediaPerms(state.MediaPerms{Mic: true, Camera: false})

	reopened, err := NewStore(dir)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	got := reopened.RequestedMediaPerms()
	if !got.Mic || got.Camera {
		t.Fatalf("perms = %+v, want mic only", got)
	}
}

func TestMissingFileDefaults(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore error = %v", err)
	}
	got := store.RequestedMediaPerms()
	if !got.Mic || !got.Camera {
		t.Fatalf("perms = %+v, want both requested", got)
	}
}

func TestCorruptFileDefaults(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, fileName), []byte("{nope"), 0o644); err != nil {
		t.Fatalf("seed corrupt file: %v", err)
	}
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore error = %v", err)
	}
	got := store.RequestedMediaPerms()
	if !got.Mic || !got.Camera {
		t.Fatalf("perms = %+v, want defaults on corrupt cache", got)
	}
}
