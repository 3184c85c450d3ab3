package fhevm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"salon-gateway/internal/domain"
)

// バッチ結果のメッセージ。
const (
	MessageSessionNotReady   = "FHEVM not ready, please try again later"
	MessageContractNotFound  = "Contract address not found. Please deploy and generate ABI"
	MessageNothingDecrypted  = "No encrypted values for this batch yet"
	messageDecryptedTemplate = "Decrypted successfully. %d encrypted counts processed"
	messageFailedTemplate    = "Decryption failed: %v"
)

// BatchResult はバッチ復号の結果。失敗時も途中までの結果を保持する。
type BatchResult struct {
	Results        map[domain.RequestKey]uint64
	SucceededCount int
	Message        string
}

// Decryptor はreadyなセッションでハンドル群を順に復号する。
type Decryptor struct {
	tracer trace.Tracer
}

// NewDecryptor は新しいDecryptorを生成する。
func NewDecryptor() *Decryptor {
	return &Decryptor{tracer: otel.Tracer(tracerName)}
}

// DecryptBatch はバッチ毎に一時鍵ペアと認可を一つだけ作り、要求を入力順に復号する。
//
// 縮退ハンドル（空または全桁0）はリレイヤーを呼ばずに0を記録する。
// 途中で失敗した場合は残りを中断し、domain.ErrDecryptionとそれまでの結果を返す。
// セッションまたは検証先が無い場合はdomain.ErrPreconditionを返し、何も実行しない。
func (d *Decryptor) DecryptBatch(ctx context.Context, inst Instance, user, verifying common.Address, reqs []domain.DecryptRequest) (*BatchResult, error) {
	result := &BatchResult{Results: make(map[domain.RequestKey]uint64, len(reqs))}

	if inst == nil {
		result.Message = MessageSessionNotReady
		return result, fmt.Errorf("%w: %w", domain.ErrPrecondition, domain.ErrSessionNotReady)
	}
	if verifying == (common.Address{}) {
		result.Message = MessageContractNotFound
		return result, fmt.Errorf("%w: %w", domain.ErrPrecondition, domain.ErrContractNotDeployed)
	}

	ctx, span := d.tracer.Start(ctx, "fhevm.Decryptor.DecryptBatch", trace.WithAttributes(
		attribute.Int("fhevm.requests", len(reqs)),
		attribute.Int64("fhevm.chain_id", int64(inst.ChainID())),
		attribute.String("fhevm.verifying_contract", verifying.Hex()),
	))
	defer span.End()

	fail := func(err error) (*BatchResult, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		result.Message = fmt.Sprintf(messageFailedTemplate, err)
		slog.ErrorContext(ctx, "batch decryption failed",
			"operation", "decrypt_batch",
			"succeeded", result.SucceededCount,
			"requested", len(reqs),
			"error", err,
		)
		return result, fmt.Errorf("%w: %w", domain.ErrDecryption, err)
	}

	pair, err := inst.GenerateKeypair()
	if err != nil {
		return fail(fmt.Errorf("generating keypair: %w", err))
	}
	if err := inst.ImportSessionKey(ctx, pair.PublicKey); err != nil {
		return fail(fmt.Errorf("importing session key: %w", err))
	}
	auth, err := inst.CreateAuthorization(ctx, user, pair, verifying)
	if err != nil {
		return fail(fmt.Errorf("creating authorization: %w", err))
	}

	for _, req := range reqs {
		if req.Handle.IsDegenerate() {
			result.Results[req.Key] = 0
			continue
		}
		plain, err := inst.DecryptHandle(ctx, verifying, auth, req.Handle)
		if err != nil {
			return fail(fmt.Errorf("work %d: %w", req.Key.WorkID, err))
		}
		result.Results[req.Key] = plain
		result.SucceededCount++
	}

	if result.SucceededCount == 0 {
		result.Message = MessageNothingDecrypted
	} else {
		result.Message = fmt.Sprintf(messageDecryptedTemplate, result.SucceededCount)
	}
	span.SetAttributes(attribute.Int("fhevm.succeeded", result.SucceededCount))
	return result, nil
}
