package fhevm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"salon-gateway/internal/domain"
)

const tracerName = "salon-gateway/internal/fhevm"

// StatusFunc はセッション生成の進捗を受け取るコールバック。
type StatusFunc func(status domain.FactoryStatus)

// Factory はチェーン接続からセッションを生成する。
type Factory struct {
	host   *Host
	loader *Loader
	tracer trace.Tracer
}

// NewFactory は新しいFactoryを生成する。
func NewFactory(host *Host, loader *Loader) *Factory {
	return &Factory{
		host:   host,
		loader: loader,
		tracer: otel.Tracer(tracerName),
	}
}

// Create は接続のチェーンを解決し、モジュールを読み込み・初期化してセッションを生成する。
// 各段階の境界でctxのキャンセルを確認し、キャンセル時はdomain.ErrAbortedを返す。
// 途中まで生成したセッションを返すことはない。
func (f *Factory) Create(ctx context.Context, conn Connection, onStatus StatusFunc) (inst Instance, err error) {
	ctx, span := f.tracer.Start(ctx, "fhevm.Factory.Create")
	defer func() {
		if err != nil && !errors.Is(err, domain.ErrAborted) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	notify := func(s domain.FactoryStatus) {
		span.AddEvent(string(s))
		if onStatus != nil {
			onStatus(s)
		}
	}

	if err := aborted(ctx); err != nil {
		return nil, err
	}
	if conn == nil {
		return nil, fmt.Errorf("%w: no connection", domain.ErrNetworkResolution)
	}

	notify(domain.FactoryStatusResolveNetwork)
	chainID, err := conn.ChainID(ctx)
	if err != nil {
		if abortErr := aborted(ctx); abortErr != nil {
			return nil, abortErr
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrNetworkResolution, err)
	}
	span.SetAttributes(attribute.Int64("fhevm.chain_id", int64(chainID)))
	if err := aborted(ctx); err != nil {
		return nil, err
	}

	if !f.host.Present() {
		notify(domain.FactoryStatusSDKLoading)
		if err := f.loader.Load(ctx); err != nil {
			if abortErr := aborted(ctx); abortErr != nil {
				return nil, abortErr
			}
			return nil, fmt.Errorf("%w: %w", domain.ErrInit, err)
		}
		if err := aborted(ctx); err != nil {
			return nil, err
		}
		notify(domain.FactoryStatusSDKLoaded)
	}

	mod, ok := f.host.Module()
	if !ok {
		return nil, fmt.Errorf("%w: crypto module not present", domain.ErrInit)
	}

	notify(domain.FactoryStatusSDKInitializing)
	ready, err := mod.Init(ctx)
	if err != nil {
		if abortErr := aborted(ctx); abortErr != nil {
			return nil, abortErr
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrInit, err)
	}
	if !ready {
		return nil, fmt.Errorf("%w: module initialization reported failure", domain.ErrInit)
	}
	if err := aborted(ctx); err != nil {
		return nil, err
	}
	notify(domain.FactoryStatusSDKInitialized)

	cfg, ok := mod.DefaultConfig(chainID)
	if !ok {
		return nil, fmt.Errorf("%w: no default configuration for chain %d", domain.ErrInit, chainID)
	}
	cfg.Network = conn

	notify(domain.FactoryStatusCreating)
	created, err := mod.CreateInstance(ctx, cfg)
	if err != nil {
		if abortErr := aborted(ctx); abortErr != nil {
			return nil, abortErr
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrInit, err)
	}
	if err := aborted(ctx); err != nil {
		return nil, err
	}
	notify(domain.FactoryStatusReady)

	slog.InfoContext(ctx, "fhevm session created",
		"operation", "create_session",
		"chain_id", chainID,
		"connection", conn.Identity(),
	)
	return created, nil
}

func aborted(ctx context.Context) error {
	if ctx.Err() != nil {
		return domain.ErrAborted
	}
	return nil
}
