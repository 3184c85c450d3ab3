package relayer

import (
	"context"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// TypedDataSigner はEIP-712の型付きデータに署名する。
type TypedDataSigner interface {
	SignTypedData(ctx context.Context, account common.Address, data apitypes.TypedData) ([]byte, error)
}

const (
	decryptionDomainName    = "Decryption"
	decryptionDomainVersion = "1"
	userDecryptPrimaryType  = "UserDecryptRequestVerification"

	// DefaultDurationDays は認可の有効日数。
	DefaultDurationDays uint64 = 10
)

// userDecryptTypedData はユーザー復号要求の認可に署名させる型付きデータを組み立てる。
func userDecryptTypedData(cfg decryptDomain, publicKey string, contracts []common.Address, start time.Time, days uint64) apitypes.TypedData {
	addrs := make([]interface{}, len(contracts))
	for i, c := range contracts {
		addrs[i] = c.Hex()
	}
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			userDecryptPrimaryType: {
				{Name: "publicKey", Type: "bytes"},
				{Name: "contractAddresses", Type: "address[]"},
				{Name: "startTimestamp", Type: "uint256"},
				{Name: "durationDays", Type: "uint256"},
				{Name: "extraData", Type: "bytes"},
			},
		},
		PrimaryType: userDecryptPrimaryType,
		Domain: apitypes.TypedDataDomain{
			Name:              decryptionDomainName,
			Version:           decryptionDomainVersion,
			ChainId:           (*math.HexOrDecimal256)(new(big.Int).SetUint64(cfg.chainID)),
			VerifyingContract: cfg.verifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"publicKey":         publicKey,
			"contractAddresses": addrs,
			"startTimestamp":    strconv.FormatInt(start.Unix(), 10),
			"durationDays":      strconv.FormatUint(days, 10),
			"extraData":         "0x00",
		},
	}
}

// decryptDomain は署名ドメインのチェーンIDと検証コントラクト。
type decryptDomain struct {
	chainID           uint64
	verifyingContract common.Address
}
