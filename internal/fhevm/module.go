// Package fhevm は暗号セッションのライフサイクル管理とバッチ復号を提供する。
//
// 外部から読み込まれる暗号モジュールをHostに保持し、Factoryがチェーン接続から
// セッション（Instance）を生成する。ControllerはFactoryを状態機械として包み、
// Decryptorはreadyなセッションを使ってハンドル群を復号する。
package fhevm

import (
	"context"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"

	"salon-gateway/internal/domain"
)

// Connection はチェーン接続。ウォレット型のリクエストチャネルかエンドポイントURLのいずれか。
type Connection interface {
	// Identity は接続を識別する文字列を返す。
	Identity() string
	// ChainID は接続先のチェーンIDを問い合わせる。
	ChainID(ctx context.Context) (uint64, error)
}

// Config はネットワーク毎のモジュール設定。
type Config struct {
	ChainID                     uint64
	GatewayChainID              uint64
	ACLContract                 common.Address
	KMSContract                 common.Address
	InputVerifierContract       common.Address
	VerifyingContractDecryption common.Address
	RelayerURL                  string
	Network                     Connection
}

// Module はプロセスに読み込まれる暗号機能モジュール。
type Module interface {
	// Init はモジュールの一回限りの初期化を行う。
	Init(ctx context.Context) (bool, error)
	// DefaultConfig はチェーンIDに対応する既定設定を返す。
	DefaultConfig(chainID uint64) (Config, bool)
	// CreateInstance は設定に束縛されたセッションを生成する。
	CreateInstance(ctx context.Context, cfg Config) (Instance, error)
}

// Instance は一つのチェーンに束縛された暗号セッション。生成後は不変。
type Instance interface {
	ChainID() uint64
	GenerateKeypair() (domain.KeyPair, error)
	ImportSessionKey(ctx context.Context, publicKey string) error
	CreateAuthorization(ctx context.Context, user common.Address, pair domain.KeyPair, verifying common.Address) (*domain.Authorization, error)
	DecryptHandle(ctx context.Context, verifying common.Address, auth *domain.Authorization, handle domain.Handle) (uint64, error)
}

type installed struct {
	module Module
}

// Host は読み込み済みモジュールを保持するプロセス内のスロット。
// 一度インストールされたモジュールは置き換えられない。
type Host struct {
	slot atomic.Pointer[installed]
}

// NewHost は空のHostを生成する。
func NewHost() *Host {
	return &Host{}
}

// Present はモジュールが読み込み済みかどうかを返す。
func (h *Host) Present() bool {
	return h.slot.Load() != nil
}

// Module は読み込み済みモジュールを返す。
func (h *Host) Module() (Module, bool) {
	p := h.slot.Load()
	if p == nil {
		return nil, false
	}
	return p.module, true
}

// Install はモジュールをインストールする。既に存在する場合は何もせずfalseを返す。
func (h *Host) Install(m Module) bool {
	if m == nil {
		return false
	}
	return h.slot.CompareAndSwap(nil, &installed{module: m})
}
