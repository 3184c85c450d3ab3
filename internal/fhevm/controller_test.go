package fhevm

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"salon-gateway/internal/domain"
)

type createResult struct {
	inst Instance
	err  error
}

// mockCreator は呼び出し毎に専用チャネルから結果を受け取るまで待つ。
type mockCreator struct {
	mu      sync.Mutex
	calls   int
	started chan chan createResult
}

func newMockCreator() *mockCreator {
	return &mockCreator{started: make(chan chan createResult, 16)}
}

func (m *mockCreator) Create(ctx context.Context, conn Connection, onStatus StatusFunc) (Instance, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	release := make(chan createResult, 1)
	m.started <- release
	if onStatus != nil {
		onStatus(domain.FactoryStatusCreating)
	}
	select {
	case r := <-release:
		return r.inst, r.err
	case <-ctx.Done():
		return nil, domain.ErrAborted
	}
}

func (m *mockCreator) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func waitStarted(t *testing.T, m *mockCreator) chan<- createResult {
	t.Helper()
	select {
	case release := <-m.started:
		return release
	case <-time.After(2 * time.Second):
		t.Fatal("factory was not invoked")
	}
	return nil
}

func waitSettled(t *testing.T, c *Controller) Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	snap, err := c.Wait(ctx)
	if err != nil {
		t.Fatalf("controller did not settle: %v", err)
	}
	return snap
}

func TestController_InitialState(t *testing.T) {
	c := NewController(context.Background(), newMockCreator())
	defer c.Close()

	snap := c.Snapshot()
	if snap.Status != domain.SessionStatusIdle {
		t.Errorf("want idle, got %s", snap.Status)
	}
	if snap.Ready() {
		t.Error("want not ready")
	}
}

func TestController_Enable_Ready(t *testing.T) {
	creator := newMockCreator()
	c := NewController(context.Background(), creator)
	defer c.Close()
	conn := &mockConnection{id: "wallet"}
	inst := &mockInstance{chainID: 11155111}

	c.Enable(conn, 11155111)
	if got := c.Snapshot().Status; got != domain.SessionStatusLoading {
		t.Fatalf("want loading, got %s", got)
	}
	release := waitStarted(t, creator)
	release <- createResult{inst: inst}

	snap := waitSettled(t, c)
	if snap.Status != domain.SessionStatusReady {
		t.Fatalf("want ready, got %s", snap.Status)
	}
	if snap.Instance != Instance(inst) {
		t.Error("want created instance in snapshot")
	}
	if snap.ChainID != 11155111 {
		t.Errorf("want chain 11155111, got %d", snap.ChainID)
	}
}

func TestController_Enable_Reentrant(t *testing.T) {
	creator := newMockCreator()
	c := NewController(context.Background(), creator)
	defer c.Close()
	conn := &mockConnection{id: "wallet"}

	c.Enable(conn, 11155111)
	c.Enable(conn, 11155111)
	release := waitStarted(t, creator)
	release <- createResult{inst: &mockInstance{chainID: 11155111}}
	waitSettled(t, c)

	// readyになった後の同じコンテキストでの再呼び出しも何もしない
	c.Enable(conn, 11155111)

	if got := creator.callCount(); got != 1 {
		t.Errorf("want 1 factory invocation, got %d", got)
	}
}

func TestController_Enable_Error(t *testing.T) {
	creator := newMockCreator()
	c := NewController(context.Background(), creator)
	defer c.Close()

	c.Enable(&mockConnection{id: "wallet"}, 11155111)
	release := waitStarted(t, creator)
	release <- createResult{err: domain.ErrInit}

	snap := waitSettled(t, c)
	if snap.Status != domain.SessionStatusError {
		t.Fatalf("want error, got %s", snap.Status)
	}
	if !errors.Is(snap.Err, domain.ErrInit) {
		t.Errorf("want ErrInit retained, got %v", snap.Err)
	}
	if snap.Instance != nil {
		t.Error("want no instance in error state")
	}
}

func TestController_Enable_AbortIsNotError(t *testing.T) {
	creator := newMockCreator()
	c := NewController(context.Background(), creator)
	defer c.Close()

	c.Enable(&mockConnection{id: "wallet"}, 11155111)
	release := waitStarted(t, creator)
	release <- createResult{err: domain.ErrAborted}

	snap := waitSettled(t, c)
	if snap.Status != domain.SessionStatusIdle {
		t.Errorf("want idle, got %s", snap.Status)
	}
	if snap.Err != nil {
		t.Errorf("want no error, got %v", snap.Err)
	}
}

func TestController_Refresh_DiscardsInFlight(t *testing.T) {
	creator := newMockCreator()
	c := NewController(context.Background(), creator)
	defer c.Close()
	conn := &mockConnection{id: "wallet"}

	c.Enable(conn, 11155111)
	staleRelease := waitStarted(t, creator)

	c.Refresh()
	if got := c.Snapshot().Status; got != domain.SessionStatusIdle {
		t.Fatalf("want idle after refresh, got %s", got)
	}

	// ガードが解除されているので同じコンテキストで新しい生成が始まる
	c.Enable(conn, 11155111)
	freshRelease := waitStarted(t, creator)
	if got := creator.callCount(); got != 2 {
		t.Fatalf("want 2 factory invocations, got %d", got)
	}

	stale := &mockInstance{chainID: 1}
	fresh := &mockInstance{chainID: 11155111}
	staleRelease <- createResult{inst: stale}
	freshRelease <- createResult{inst: fresh}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap := c.Snapshot()
		if snap.Status == domain.SessionStatusReady {
			if snap.Instance != Instance(fresh) {
				t.Fatal("want stale result discarded")
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("controller did not become ready")
}

func TestController_Enable_NewContextSupersedes(t *testing.T) {
	creator := newMockCreator()
	c := NewController(context.Background(), creator)
	defer c.Close()

	c.Enable(&mockConnection{id: "wallet"}, 11155111)
	waitStarted(t, creator)
	c.Enable(&mockConnection{id: "wallet"}, 31337)
	waitStarted(t, creator)

	if got := creator.callCount(); got != 2 {
		t.Fatalf("want 2 factory invocations, got %d", got)
	}
	snap := c.Snapshot()
	if snap.ChainID != 31337 {
		t.Errorf("want chain 31337, got %d", snap.ChainID)
	}
	if snap.Status != domain.SessionStatusLoading {
		t.Errorf("want loading, got %s", snap.Status)
	}
}

func TestController_Disable_KeepsResult(t *testing.T) {
	creator := newMockCreator()
	c := NewController(context.Background(), creator)
	defer c.Close()
	conn := &mockConnection{id: "wallet"}
	inst := &mockInstance{chainID: 11155111}

	c.Enable(conn, 11155111)
	release := waitStarted(t, creator)
	c.Disable()
	release <- createResult{inst: inst}

	snap := waitSettled(t, c)
	if snap.Status != domain.SessionStatusReady {
		t.Fatalf("want in-flight attempt to complete, got %s", snap.Status)
	}
	if snap.Enabled {
		t.Error("want disabled flag kept")
	}
}

func TestController_Subscribe(t *testing.T) {
	creator := newMockCreator()
	c := NewController(context.Background(), creator)
	defer c.Close()

	ch, cancel := c.Subscribe()
	defer cancel()
	if first := <-ch; first.Status != domain.SessionStatusIdle {
		t.Fatalf("want initial idle snapshot, got %s", first.Status)
	}

	c.Enable(&mockConnection{id: "wallet"}, 11155111)
	release := waitStarted(t, creator)
	release <- createResult{inst: &mockInstance{chainID: 11155111}}

	timeout := time.After(2 * time.Second)
	for {
		select {
		case snap := <-ch:
			if snap.Status == domain.SessionStatusReady {
				return
			}
		case <-timeout:
			t.Fatal("did not observe ready snapshot")
		}
	}
}

func TestController_Close_CancelsInFlight(t *testing.T) {
	creator := newMockCreator()
	c := NewController(context.Background(), creator)

	c.Enable(&mockConnection{id: "wallet"}, 11155111)
	waitStarted(t, creator)
	c.Close()

	snap := waitSettled(t, c)
	if snap.Status != domain.SessionStatusIdle {
		t.Errorf("want idle after close, got %s", snap.Status)
	}
}
