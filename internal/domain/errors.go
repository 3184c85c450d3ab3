package domain

import "errors"

// セッション確立に関するエラー。
var (
	// ErrLoadFailure は全ての候補ソースから暗号モジュールを読み込めなかった場合のエラー。
	ErrLoadFailure = errors.New("crypto module load failed")

	// ErrAborted は処理がキャンセルされた場合のエラー。ユーザーに報告するエラーではない。
	ErrAborted = errors.New("fhevm operation was cancelled")

	// ErrNetworkResolution は接続からチェーンIDを取得できなかった場合のエラー。
	ErrNetworkResolution = errors.New("network resolution failed")

	// ErrInit はモジュールの初期化またはセッション生成に失敗した場合のエラー。
	ErrInit = errors.New("fhevm init failed")
)

// 復号に関するエラー。
var (
	// ErrPrecondition はセッション・検証先アドレス・コントラクトアドレスが揃っていない場合のエラー。
	ErrPrecondition = errors.New("precondition failed")

	// ErrDecryption はバッチ復号の途中でリレイヤーまたはモジュールが失敗した場合のエラー。
	ErrDecryption = errors.New("decryption failed")

	// ErrSessionNotReady はセッションがready状態でない場合のエラー。
	ErrSessionNotReady = errors.New("fhevm session not ready")

	// ErrKeyNotImported はインポートされていない公開鍵で認可を作成しようとした場合のエラー。
	ErrKeyNotImported = errors.New("session key not imported")
)

// チェーン・コントラクトに関するエラー。
var (
	// ErrContractNotDeployed は現在のチェーンにコントラクトのデプロイ情報が無い場合のエラー。
	ErrContractNotDeployed = errors.New("contract address not found for chain")

	// ErrWorkNotFound は指定された作品が存在しない場合のエラー。
	ErrWorkNotFound = errors.New("work not found")

	// ErrInvalidWorkID は作品IDの形式が不正な場合のエラー。
	ErrInvalidWorkID = errors.New("invalid work ID")

	// ErrInvalidCategory はカテゴリ名が不正な場合のエラー。
	ErrInvalidCategory = errors.New("invalid category")

	// ErrInvalidSubmission は投稿内容が不正な場合のエラー。
	ErrInvalidSubmission = errors.New("invalid work submission")

	// ErrTransactionReverted はトランザクションがリバートされた場合のエラー。
	ErrTransactionReverted = errors.New("transaction reverted")

	// ErrSignerUnavailable は書き込みに必要な署名者が設定されていない場合のエラー。
	ErrSignerUnavailable = errors.New("signer not configured")
)

// マイグレーションに関するエラー。
var (
	// ErrMigrationFailed はマイグレーション実行時のエラー。
	ErrMigrationFailed = errors.New("migration failed")

	// ErrMigrationFileNotFound はマイグレーションファイルが見つからない場合のエラー。
	ErrMigrationFileNotFound = errors.New("migration file not found")

	// ErrInvalidMigrationFile はマイグレーションファイルのフォーマットが不正な場合のエラー。
	ErrInvalidMigrationFile = errors.New("invalid migration file")
)
