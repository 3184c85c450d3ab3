package domain

import "time"

// BatchStatus は復号バッチの結果を表す。
type BatchStatus string

const (
	// BatchStatusSucceeded は全件の処理が完了したバッチ。
	BatchStatusSucceeded BatchStatus = "succeeded"
	// BatchStatusPartial は途中で失敗し一部の結果のみ得られたバッチ。
	BatchStatusPartial BatchStatus = "partial"
	// BatchStatusRejected は前提条件を満たさず実行されなかったバッチ。
	BatchStatusRejected BatchStatus = "rejected"
)

// DecryptBatch は復号バッチの履歴を表す（平文は含まない）。
type DecryptBatch struct {
	ID             string
	ChainID        uint64
	Category       string
	Requested      int
	SucceededCount int
	Status         BatchStatus
	Message        string
	Generation     uint64
	CreatedAt      time.Time
}
