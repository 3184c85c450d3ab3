// Package domain はドメインモデルとビジネスルールを定義する。
package domain

// SessionStatus は暗号セッションのライフサイクル状態を表す。
type SessionStatus string

const (
	// SessionStatusIdle は接続が無い、または無効化されている状態。
	SessionStatusIdle SessionStatus = "idle"
	// SessionStatusLoading はセッション生成が進行中の状態。
	SessionStatusLoading SessionStatus = "loading"
	// SessionStatusReady は利用可能なセッションを保持している状態。
	SessionStatusReady SessionStatus = "ready"
	// SessionStatusError は直近のセッション生成が失敗した状態。
	SessionStatusError SessionStatus = "error"
)

// FactoryStatus はセッション生成の進捗段階を表す。
type FactoryStatus string

const (
	FactoryStatusResolveNetwork  FactoryStatus = "resolve-network"
	FactoryStatusSDKLoading      FactoryStatus = "sdk-loading"
	FactoryStatusSDKLoaded       FactoryStatus = "sdk-loaded"
	FactoryStatusSDKInitializing FactoryStatus = "sdk-initializing"
	FactoryStatusSDKInitialized  FactoryStatus = "sdk-initialized"
	FactoryStatusCreating        FactoryStatus = "creating"
	FactoryStatusReady           FactoryStatus = "ready"
)
