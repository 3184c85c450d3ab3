package fhevm

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"salon-gateway/internal/domain"
)

// Creator はセッション生成を行う。*Factoryが実装する。
type Creator interface {
	Create(ctx context.Context, conn Connection, onStatus StatusFunc) (Instance, error)
}

// Snapshot はControllerのある時点の状態。
type Snapshot struct {
	Status     domain.SessionStatus
	Phase      domain.FactoryStatus
	Err        error
	Instance   Instance
	ChainID    uint64
	Generation uint64
	Enabled    bool
}

// Ready はセッションが利用可能かどうかを返す。
func (s Snapshot) Ready() bool {
	return s.Status == domain.SessionStatusReady && s.Instance != nil
}

// contextKey は接続とチェーンIDの組。同じ組に対する生成は同時に一つまで。
type contextKey struct {
	connection string
	chainID    uint64
}

// Controller はセッション生成を idle → loading → ready | error の状態機械として管理する。
type Controller struct {
	creator Creator
	base    context.Context
	stop    context.CancelFunc

	mu          sync.Mutex
	snap        Snapshot
	current     *contextKey
	inflight    *contextKey
	inflightGen uint64
	generation  uint64
	changed     chan struct{}
	subscribers map[int]chan Snapshot
	nextSubID   int
}

// NewController は新しいControllerを生成する。
// ctxがキャンセルされると進行中の生成も中断される。
func NewController(ctx context.Context, creator Creator) *Controller {
	base, stop := context.WithCancel(ctx)
	return &Controller{
		creator:     creator,
		base:        base,
		stop:        stop,
		snap:        Snapshot{Status: domain.SessionStatusIdle},
		changed:     make(chan struct{}),
		subscribers: make(map[int]chan Snapshot),
	}
}

// Enable は接続とチェーンIDの組に対してセッション生成を開始する。
// 同じ組で生成中、または既にreadyの場合は何もしない。
// 別の組で呼ばれた場合は新しいコンテキストとして扱い、以前の試行の結果は破棄される。
func (c *Controller) Enable(conn Connection, chainID uint64) {
	if conn == nil {
		c.Disable()
		return
	}
	key := contextKey{connection: conn.Identity(), chainID: chainID}

	c.mu.Lock()
	c.snap.Enabled = true
	if c.inflight != nil && *c.inflight == key {
		c.mu.Unlock()
		return
	}
	if c.current != nil && *c.current == key && c.snap.Status == domain.SessionStatusReady {
		c.mu.Unlock()
		return
	}

	c.generation++
	gen := c.generation
	c.current = &key
	c.inflight = &key
	c.inflightGen = gen
	c.setLocked(Snapshot{
		Status:     domain.SessionStatusLoading,
		ChainID:    chainID,
		Generation: gen,
		Enabled:    true,
	})
	ctx, cancel := context.WithCancel(c.base)
	c.mu.Unlock()

	go c.run(ctx, cancel, conn, gen)
}

func (c *Controller) run(ctx context.Context, cancel context.CancelFunc, conn Connection, gen uint64) {
	defer cancel()

	inst, err := c.creator.Create(ctx, conn, func(s domain.FactoryStatus) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if gen == c.generation && c.snap.Phase != s {
			next := c.snap
			next.Phase = s
			c.setLocked(next)
		}
	})

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.inflight != nil && c.inflightGen == gen {
		c.inflight = nil
	}
	if gen != c.generation {
		slog.Debug("discarding stale fhevm session result",
			"operation", "enable_session",
			"generation", gen,
			"current_generation", c.generation,
		)
		return
	}

	next := c.snap
	switch {
	case err == nil:
		next.Status = domain.SessionStatusReady
		next.Instance = inst
		next.Err = nil
	case errors.Is(err, domain.ErrAborted):
		slog.Debug("fhevm session creation cancelled", "operation", "enable_session", "generation", gen)
		next.Status = domain.SessionStatusIdle
		next.Instance = nil
		next.Err = nil
	default:
		slog.Error("fhevm session creation failed",
			"operation", "enable_session",
			"generation", gen,
			"error", err,
		)
		next.Status = domain.SessionStatusError
		next.Instance = nil
		next.Err = err
	}
	c.setLocked(next)
}

// Disable はコントローラを無効化する。
// 既に得られた結果はそのまま残り、進行中の生成も中断しない。
func (c *Controller) Disable() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.snap.Enabled {
		return
	}
	next := c.snap
	next.Enabled = false
	c.setLocked(next)
}

// Refresh はセッションとエラーを破棄してidleに戻し、生成中のガードを解除する。
// 進行中の生成は中断しないが、その結果は破棄される。
func (c *Controller) Refresh() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.inflight = nil
	c.current = nil
	c.setLocked(Snapshot{
		Status:     domain.SessionStatusIdle,
		Generation: c.generation,
		Enabled:    c.snap.Enabled,
	})
}

// Snapshot は現在の状態を返す。
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap
}

// Wait は状態がloading以外になるまで待つ。
func (c *Controller) Wait(ctx context.Context) (Snapshot, error) {
	for {
		c.mu.Lock()
		snap, changed := c.snap, c.changed
		c.mu.Unlock()
		if snap.Status != domain.SessionStatusLoading {
			return snap, nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return snap, ctx.Err()
		}
	}
}

// Subscribe は状態変化を受け取るチャネルを返す。
// 受信側が遅れた場合は最新の状態のみが残る。
func (c *Controller) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	c.mu.Lock()
	id := c.nextSubID
	c.nextSubID++
	c.subscribers[id] = ch
	ch <- c.snap
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subscribers, id)
			c.mu.Unlock()
			close(ch)
		})
	}
}

// Close は進行中の生成を中断し、以降の結果を破棄する。
func (c *Controller) Close() {
	c.stop()
}

// setLocked は状態を更新して待機者と購読者に通知する。c.muを保持して呼ぶ。
func (c *Controller) setLocked(next Snapshot) {
	c.snap = next
	close(c.changed)
	c.changed = make(chan struct{})
	for _, ch := range c.subscribers {
		select {
		case <-ch:
		default:
		}
		ch <- next
	}
}
