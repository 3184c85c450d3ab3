package fhevm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"salon-gateway/internal/domain"
)

// DefaultSources は設定されたソースの後に試すフォールバック候補。
var DefaultSources = []string{
	"https://cdn.zama.ai/relayer-sdk-js/0.2.0/relayer-sdk-manifest.json",
	"https://cdn.jsdelivr.net/npm/@zama-fhe/relayer-sdk@0.2.0/dist/relayer-sdk-manifest.json",
	"https://unpkg.com/@zama-fhe/relayer-sdk@0.2.0/dist/relayer-sdk-manifest.json",
}

// Injector は一つのソースからモジュールの読み込みを試みる。
// 成否はInjectの戻り値ではなく、呼び出し後のHost.Presentで判定する。
type Injector interface {
	Inject(ctx context.Context, host *Host, source string) error
}

// LoadError は全ての候補ソースが失敗した場合のエラー。
type LoadError struct {
	Sources []string
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("%s: tried %s", domain.ErrLoadFailure, strings.Join(e.Sources, ", "))
}

func (e *LoadError) Unwrap() error {
	return domain.ErrLoadFailure
}

// Loader は候補ソースを順に試してモジュールをHostに読み込む。
type Loader struct {
	host     *Host
	injector Injector
	sources  []string
}

// NewLoader は新しいLoaderを生成する。
// primaryが空でなければ最初に試し、続けてfallbacksを試す。fallbacksがnilの場合はDefaultSourcesを使う。
func NewLoader(host *Host, injector Injector, primary string, fallbacks []string) *Loader {
	if fallbacks == nil {
		fallbacks = DefaultSources
	}
	sources := make([]string, 0, len(fallbacks)+1)
	if primary != "" {
		sources = append(sources, primary)
	}
	for _, s := range fallbacks {
		if s != "" {
			sources = append(sources, s)
		}
	}
	return &Loader{
		host:     host,
		injector: injector,
		sources:  sources,
	}
}

// Sources は試行順の候補ソースを返す。
func (l *Loader) Sources() []string {
	out := make([]string, len(l.sources))
	copy(out, l.sources)
	return out
}

// Load はモジュールが存在しなければ候補ソースを順に試す。
// 既に存在する場合は何もしない。
func (l *Loader) Load(ctx context.Context) error {
	if l.host.Present() {
		return nil
	}

	attempted := make([]string, 0, len(l.sources))
	for _, src := range l.sources {
		if err := ctx.Err(); err != nil {
			return err
		}
		attempted = append(attempted, src)
		if err := l.injector.Inject(ctx, l.host, src); err != nil {
			slog.WarnContext(ctx, "crypto module injection failed",
				"operation", "load_module",
				"source", src,
				"error", err,
			)
		}
		if l.host.Present() {
			slog.InfoContext(ctx, "crypto module loaded",
				"operation", "load_module",
				"source", src,
				"attempts", len(attempted),
			)
			return nil
		}
	}
	return &LoadError{Sources: attempted}
}
