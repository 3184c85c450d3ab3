package domain

import (
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Handle はレジャー上の暗号文を指す不透明な参照（16進文字列）。
type Handle string

// HandleFromHash はbytes32の値からHandleを生成する。
func HandleFromHash(h common.Hash) Handle {
	return Handle(hexutil.Encode(h[:]))
}

// IsDegenerate はハンドルが「データ無し」を表すかどうかを返す。
// 空文字、"0x"、全桁0のハンドルが該当する。
func (h Handle) IsDegenerate() bool {
	s := strings.TrimSpace(string(h))
	if s == "" {
		return true
	}
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	return strings.Trim(s, "0") == ""
}

// RequestKey は復号結果のキー。作品IDと任意のカテゴリ名の組。
type RequestKey struct {
	WorkID   uint64
	Category string
}

// DecryptRequest はバッチ内の1件の復号要求を表す。
type DecryptRequest struct {
	Key    RequestKey
	Handle Handle
}

// KeyPair はバッチ毎に生成される一時鍵ペア（16進エンコード）。
type KeyPair struct {
	PublicKey  string
	PrivateKey string
}

// Authorization はユーザー・公開鍵・検証先コントラクトを束ねた署名付き認可。
type Authorization struct {
	UserAddress       common.Address
	PublicKey         string
	VerifyingContract common.Address
	Signature         []byte
	StartTimestamp    time.Time
	DurationDays      uint64

	privateKey string
}

// NewAuthorization は秘密鍵を内部に保持したAuthorizationを生成する。
func NewAuthorization(user common.Address, pair KeyPair, verifying common.Address, sig []byte, start time.Time, days uint64) *Authorization {
	return &Authorization{
		UserAddress:       user,
		PublicKey:         pair.PublicKey,
		VerifyingContract: verifying,
		Signature:         sig,
		StartTimestamp:    start,
		DurationDays:      days,
		privateKey:        pair.PrivateKey,
	}
}

// PrivateKey はリレイヤー応答の開封に使う一時秘密鍵を返す。
func (a *Authorization) PrivateKey() string {
	return a.privateKey
}
