package fhevm

import (
	"context"
	"errors"
	"testing"

	"salon-gateway/internal/domain"
)

func TestLoader_Load_AlreadyPresent(t *testing.T) {
	host := NewHost()
	host.Install(newMockModule())
	injector := &mockInjector{module: newMockModule(), succeedAt: 1}
	loader := NewLoader(host, injector, "https://cdn.example.com/sdk.json", nil)

	if err := loader.Load(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := loader.Load(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(injector.attempts) != 0 {
		t.Errorf("want 0 injection attempts, got %d", len(injector.attempts))
	}
}

func TestLoader_Load_SecondCallIsNoop(t *testing.T) {
	host := NewHost()
	injector := &mockInjector{module: newMockModule(), succeedAt: 1}
	loader := NewLoader(host, injector, "", []string{"a", "b"})

	if err := loader.Load(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := loader.Load(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(injector.attempts) != 1 {
		t.Errorf("want 1 injection attempt in total, got %d", len(injector.attempts))
	}
}

func TestLoader_Load_ThirdSourceSucceeds(t *testing.T) {
	host := NewHost()
	injector := &mockInjector{module: newMockModule(), succeedAt: 3}
	sources := []string{"https://a.example/sdk.json", "https://b.example/sdk.json", "https://c.example/sdk.json"}
	loader := NewLoader(host, injector, "", sources)

	if err := loader.Load(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(injector.attempts) != 3 {
		t.Fatalf("want 3 injection attempts, got %d", len(injector.attempts))
	}
	for i, src := range sources {
		if injector.attempts[i] != src {
			t.Errorf("attempt %d: want %s, got %s", i, src, injector.attempts[i])
		}
	}
	if !host.Present() {
		t.Error("want module present after load")
	}
}

func TestLoader_Load_PrimaryFirst(t *testing.T) {
	host := NewHost()
	injector := &mockInjector{module: newMockModule(), succeedAt: 1}
	loader := NewLoader(host, injector, "https://primary.example/sdk.json", nil)

	if got := loader.Sources(); len(got) != len(DefaultSources)+1 || got[0] != "https://primary.example/sdk.json" {
		t.Fatalf("unexpected sources: %v", got)
	}
	if err := loader.Load(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if injector.attempts[0] != "https://primary.example/sdk.json" {
		t.Errorf("want primary source first, got %s", injector.attempts[0])
	}
}

func TestLoader_Load_AllSourcesFail(t *testing.T) {
	host := NewHost()
	injector := &mockInjector{module: newMockModule()}
	loader := NewLoader(host, injector, "", []string{"a", "b"})

	err := loader.Load(context.Background())
	if !errors.Is(err, domain.ErrLoadFailure) {
		t.Fatalf("want ErrLoadFailure, got %v", err)
	}
	var loadErr *LoadError
	if !errors.As(err, &loadErr) {
		t.Fatalf("want *LoadError, got %T", err)
	}
	if len(loadErr.Sources) != 2 || loadErr.Sources[0] != "a" || loadErr.Sources[1] != "b" {
		t.Errorf("unexpected attempted sources: %v", loadErr.Sources)
	}

	// 一時的な失敗の後でも再試行できる
	injector.succeedAt = 3
	if err := loader.Load(context.Background()); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
}

func TestHost_Install_KeepsFirstModule(t *testing.T) {
	host := NewHost()
	first := newMockModule()
	if !host.Install(first) {
		t.Fatal("want first install to succeed")
	}
	if host.Install(newMockModule()) {
		t.Error("want second install to be ignored")
	}
	got, ok := host.Module()
	if !ok || got != Module(first) {
		t.Error("want first module to stay installed")
	}
}
