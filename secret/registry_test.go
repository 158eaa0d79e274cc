package secret

import (
	"errors"
	"testing"
)

func TestRegistry_RegisterAndCreate(t *testing.T) {
	reg := NewRegistry()

	if err := reg.Register("stub", func(cfg map[string]any) (Provider, error) {
		return &stubProvider{name: "stub"}, nil
	}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	p, err := reg.Create("stub", map[string]any{"k": "v"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if p == nil || p.Name() != "stub" {
		t.Fatalf("unexpected provider: %#v", p)
	}
}

func TestRegistry_RegisterInvalid(t *testing.T) {
	reg := NewRegistry()
	stub := func(cfg map[string]any) (Provider, error) { return &stubProvider{name: "stub"}, nil }
	_ = reg.Register("stub", stub)

	if err := reg.Register("stub", stub); err == nil {
		t.Fatalf("expected duplicate registration error")
	}
	if err := reg.Register("  ", stub); err == nil {
		t.Fatalf("expected blank name error")
	}
	if err := reg.Register("other", nil); err == nil {
		t.Fatalf("expected nil factory error")
	}
}

func TestRegistry_CreateUnknown(t *testing.T) {
	reg := NewRegistry()
	if _, err := reg.Create("missing", nil); !errors.Is(err, ErrProviderNotRegistered) {
		t.Fatalf("Create() error = %v, want ErrProviderNotRegistered", err)
	}
}

func TestDefaultRegistry(t *testing.T) {
	names := NewDefaultRegistry().List()
	if len(names) != 2 || names[0] != "env" || names[1] != "file" {
		t.Fatalf("List() = %v, want [env file]", names)
	}

	providers, err := NewDefaultRegistry().CreateAll(map[string]map[string]any{"file": {"root": "/run/secrets"}})
	if err != nil {
		t.Fatalf("CreateAll() error = %v", err)
	}
	if fp, ok := providers[1].(*FileProvider); !ok || fp.root != "/run/secrets" {
		t.Fatalf("file provider = %#v, want root /run/secrets", providers[1])
	}
}
