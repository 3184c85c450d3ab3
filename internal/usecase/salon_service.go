// Package usecase はアプリケーションのユースケースを実装する。
package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"

	"salon-gateway/internal/domain"
	"salon-gateway/internal/fhevm"
)

const (
	// DefaultBatchLimit はバッチ履歴一覧の既定件数。
	DefaultBatchLimit = 20
	// MaxBatchLimit はバッチ履歴一覧の最大件数。
	MaxBatchLimit = 100

	maxCategoryLength = 128
)

// Ledger はチェーン上の作品台帳。*infra.SalonContractが実装する。
type Ledger interface {
	Address() common.Address
	ListWorkIDs(ctx context.Context) ([]uint64, error)
	ReadWork(ctx context.Context, id uint64) (*domain.Work, error)
	ReadEndorsements(ctx context.Context, id uint64, genre string) (domain.Handle, error)
	SubmitWork(ctx context.Context, opts *bind.TransactOpts, s domain.WorkSubmission) (*domain.TxReceipt, error)
	ApplaudWork(ctx context.Context, opts *bind.TransactOpts, id uint64) (*domain.TxReceipt, error)
	EndorseWork(ctx context.Context, opts *bind.TransactOpts, id uint64, genre string) (*domain.TxReceipt, error)
}

// LedgerResolver はチェーンIDに対応する台帳を返す。
// デプロイ情報が無い場合はdomain.ErrContractNotDeployedを返す。
// SalonServiceはこれをdomain.ErrPreconditionとして扱う。
type LedgerResolver func(chainID uint64) (Ledger, error)

// Session は暗号セッションの状態機械。*fhevm.Controllerが実装する。
type Session interface {
	Snapshot() fhevm.Snapshot
	Enable(conn fhevm.Connection, chainID uint64)
	Refresh()
}

// BatchDecryptor はreadyなセッションでハンドル群を復号する。*fhevm.Decryptorが実装する。
type BatchDecryptor interface {
	DecryptBatch(ctx context.Context, inst fhevm.Instance, user, verifying common.Address, reqs []domain.DecryptRequest) (*fhevm.BatchResult, error)
}

// BatchRepository は復号バッチ履歴の保存先。
type BatchRepository interface {
	Create(ctx context.Context, b *domain.DecryptBatch) error
	ListRecent(ctx context.Context, limit int) ([]*domain.DecryptBatch, error)
}

// Signer はゲートウェイの書き込み用アカウント。*chain.LocalSignerが実装する。
type Signer interface {
	Address() common.Address
	TransactOpts(ctx context.Context, chainID uint64) (*bind.TransactOpts, error)
}

// AccountSource はウォレット接続のアカウント一覧。*chain.Providerが実装する。
type AccountSource interface {
	Accounts(ctx context.Context) ([]common.Address, error)
}

// CategoryResult は一件の復号結果。
type CategoryResult struct {
	WorkID   uint64
	Category string
	Value    uint64
}

// DecryptOutcome はバッチ復号の結果。失敗時も途中までの結果を保持する。
type DecryptOutcome struct {
	Batch   *domain.DecryptBatch
	Results []CategoryResult
}

// SalonOption はSalonServiceの任意設定。
type SalonOption func(*SalonService)

// WithSigner は書き込みと復号の認可に使う署名者を設定する。
func WithSigner(s Signer) SalonOption {
	return func(svc *SalonService) { svc.signer = s }
}

// WithAccounts は署名者が無い場合に利用者アドレスを引く接続を設定する。
func WithAccounts(a AccountSource) SalonOption {
	return func(svc *SalonService) { svc.accounts = a }
}

// WithBatchRepository はバッチ履歴の保存先を設定する。
func WithBatchRepository(r BatchRepository) SalonOption {
	return func(svc *SalonService) { svc.batches = r }
}

// SalonService は作品台帳と暗号セッションを組み合わせたユースケースを提供する。
type SalonService struct {
	network   fhevm.Connection
	ledgers   LedgerResolver
	session   Session
	decryptor BatchDecryptor
	signer    Signer
	accounts  AccountSource
	batches   BatchRepository
}

// NewSalonService は新しいSalonServiceを生成する。
func NewSalonService(network fhevm.Connection, ledgers LedgerResolver, session Session, decryptor BatchDecryptor, opts ...SalonOption) *SalonService {
	s := &SalonService{
		network:   network,
		ledgers:   ledgers,
		session:   session,
		decryptor: decryptor,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SessionStatus は暗号セッションの現在の状態を返す。
func (s *SalonService) SessionStatus() fhevm.Snapshot {
	return s.session.Snapshot()
}

// RefreshSession はセッションを破棄し、接続先の現在のチェーンで作り直す。
func (s *SalonService) RefreshSession(ctx context.Context) error {
	s.session.Refresh()
	chainID, err := s.network.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrNetworkResolution, err)
	}
	s.session.Enable(s.network, chainID)
	return nil
}

// UserAddress は復号を要求する利用者のアドレスを返す。
func (s *SalonService) UserAddress(ctx context.Context) (common.Address, error) {
	if s.signer != nil {
		return s.signer.Address(), nil
	}
	if s.accounts != nil {
		accounts, err := s.accounts.Accounts(ctx)
		if err != nil {
			return common.Address{}, fmt.Errorf("listing accounts: %w", err)
		}
		if len(accounts) > 0 {
			return accounts[0], nil
		}
	}
	return common.Address{}, domain.ErrSignerUnavailable
}

// currentLedger は接続先チェーンの台帳を返す。
func (s *SalonService) currentLedger(ctx context.Context) (Ledger, uint64, error) {
	chainID, err := s.network.ChainID(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", domain.ErrNetworkResolution, err)
	}
	ledger, err := s.resolveLedger(chainID)
	if err != nil {
		return nil, chainID, err
	}
	return ledger, chainID, nil
}

// resolveLedger はデプロイ情報の欠落を前提条件エラーとして返す。
func (s *SalonService) resolveLedger(chainID uint64) (Ledger, error) {
	ledger, err := s.ledgers(chainID)
	if err != nil {
		if errors.Is(err, domain.ErrContractNotDeployed) && !errors.Is(err, domain.ErrPrecondition) {
			return nil, fmt.Errorf("%w: %w", domain.ErrPrecondition, err)
		}
		return nil, err
	}
	return ledger, nil
}

// ListWorks は全作品を返す。contributorが指定された場合はその投稿者の作品のみ返す。
func (s *SalonService) ListWorks(ctx context.Context, contributor *common.Address) ([]*domain.Work, error) {
	ledger, _, err := s.currentLedger(ctx)
	if err != nil {
		return nil, err
	}
	ids, err := ledger.ListWorkIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing works: %w", err)
	}

	works := make([]*domain.Work, 0, len(ids))
	for _, id := range ids {
		w, err := ledger.ReadWork(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("reading work %d: %w", id, err)
		}
		if contributor != nil && !w.IsContributedBy(*contributor) {
			continue
		}
		works = append(works, w)
	}
	return works, nil
}

// MyWorks は利用者自身が投稿した作品を返す。
func (s *SalonService) MyWorks(ctx context.Context) ([]*domain.Work, error) {
	user, err := s.UserAddress(ctx)
	if err != nil {
		return nil, err
	}
	return s.ListWorks(ctx, &user)
}

// GetWork は作品を返す。存在しない場合はdomain.ErrWorkNotFoundを返す。
func (s *SalonService) GetWork(ctx context.Context, id uint64) (*domain.Work, error) {
	ledger, _, err := s.currentLedger(ctx)
	if err != nil {
		return nil, err
	}
	return readExistingWork(ctx, ledger, id)
}

func readExistingWork(ctx context.Context, ledger Ledger, id uint64) (*domain.Work, error) {
	if id == 0 {
		return nil, domain.ErrInvalidWorkID
	}
	w, err := ledger.ReadWork(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("reading work %d: %w", id, err)
	}
	// 未登録のIDはゼロ値の構造体が返る
	if w.Contributor == (common.Address{}) {
		return nil, fmt.Errorf("%w: %d", domain.ErrWorkNotFound, id)
	}
	return w, nil
}

// writer は書き込み先の台帳とトランザクションオプションを返す。
func (s *SalonService) writer(ctx context.Context) (Ledger, *bind.TransactOpts, error) {
	if s.signer == nil {
		return nil, nil, domain.ErrSignerUnavailable
	}
	ledger, chainID, err := s.currentLedger(ctx)
	if err != nil {
		return nil, nil, err
	}
	opts, err := s.signer.TransactOpts(ctx, chainID)
	if err != nil {
		return nil, nil, fmt.Errorf("preparing transaction: %w", err)
	}
	return ledger, opts, nil
}

// SubmitWork は作品を投稿する。
func (s *SalonService) SubmitWork(ctx context.Context, sub domain.WorkSubmission) (*domain.TxReceipt, error) {
	sub = sub.Normalize()
	if sub.Title == "" || sub.ContentHash == "" {
		return nil, fmt.Errorf("%w: title and content hash are required", domain.ErrInvalidSubmission)
	}
	for _, g := range sub.Genres {
		if err := validateCategory(g); err != nil {
			return nil, err
		}
	}

	ledger, opts, err := s.writer(ctx)
	if err != nil {
		return nil, err
	}
	receipt, err := ledger.SubmitWork(ctx, opts, sub)
	if err != nil {
		return nil, fmt.Errorf("submitting work: %w", err)
	}
	slog.InfoContext(ctx, "work submitted",
		"operation", "submit_work",
		"work_id", receipt.WorkID,
		"tx_hash", receipt.TxHash.Hex(),
	)
	return receipt, nil
}

// Applaud は作品に拍手する。
func (s *SalonService) Applaud(ctx context.Context, id uint64) (*domain.TxReceipt, error) {
	if id == 0 {
		return nil, domain.ErrInvalidWorkID
	}
	ledger, opts, err := s.writer(ctx)
	if err != nil {
		return nil, err
	}
	receipt, err := ledger.ApplaudWork(ctx, opts, id)
	if err != nil {
		return nil, fmt.Errorf("applauding work %d: %w", id, err)
	}
	return receipt, nil
}

// Endorse は作品をカテゴリで推薦する。
func (s *SalonService) Endorse(ctx context.Context, id uint64, category string) (*domain.TxReceipt, error) {
	if id == 0 {
		return nil, domain.ErrInvalidWorkID
	}
	category = strings.TrimSpace(category)
	if err := validateCategory(category); err != nil {
		return nil, err
	}
	ledger, opts, err := s.writer(ctx)
	if err != nil {
		return nil, err
	}
	receipt, err := ledger.EndorseWork(ctx, opts, id, category)
	if err != nil {
		return nil, fmt.Errorf("endorsing work %d: %w", id, err)
	}
	return receipt, nil
}

func validateCategory(category string) error {
	if category == "" || len(category) > maxCategoryLength {
		return fmt.Errorf("%w: %q", domain.ErrInvalidCategory, category)
	}
	return nil
}

// DecryptCategory は全作品のカテゴリ別推薦数を一つのバッチで復号する。
func (s *SalonService) DecryptCategory(ctx context.Context, category string) (*DecryptOutcome, error) {
	category = strings.TrimSpace(category)
	if err := validateCategory(category); err != nil {
		return nil, err
	}

	return s.decrypt(ctx, category, func(ledger Ledger) ([]domain.DecryptRequest, error) {
		ids, err := ledger.ListWorkIDs(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing works: %w", err)
		}
		reqs := make([]domain.DecryptRequest, 0, len(ids))
		for _, id := range ids {
			h, err := ledger.ReadEndorsements(ctx, id, category)
			if err != nil {
				return nil, fmt.Errorf("reading endorsements of work %d: %w", id, err)
			}
			reqs = append(reqs, domain.DecryptRequest{
				Key:    domain.RequestKey{WorkID: id, Category: category},
				Handle: h,
			})
		}
		return reqs, nil
	})
}

// DecryptApplause は一作品の拍手数を復号する。
func (s *SalonService) DecryptApplause(ctx context.Context, id uint64) (*DecryptOutcome, error) {
	if id == 0 {
		return nil, domain.ErrInvalidWorkID
	}
	return s.decrypt(ctx, domain.ApplauseCategory, func(ledger Ledger) ([]domain.DecryptRequest, error) {
		w, err := readExistingWork(ctx, ledger, id)
		if err != nil {
			return nil, err
		}
		return []domain.DecryptRequest{{
			Key:    domain.RequestKey{WorkID: id, Category: domain.ApplauseCategory},
			Handle: w.ApplauseHandle,
		}}, nil
	})
}

// decrypt はセッションのチェーンの台帳から要求を組み立ててバッチ復号し、履歴を保存する。
func (s *SalonService) decrypt(ctx context.Context, category string, build func(Ledger) ([]domain.DecryptRequest, error)) (*DecryptOutcome, error) {
	snap := s.session.Snapshot()
	batch := &domain.DecryptBatch{
		ChainID:    snap.ChainID,
		Category:   category,
		Generation: snap.Generation,
	}
	outcome := &DecryptOutcome{Batch: batch}

	reject := func(message string, err error) (*DecryptOutcome, error) {
		batch.Status = domain.BatchStatusRejected
		batch.Message = message
		s.record(ctx, batch)
		return outcome, err
	}

	if !snap.Ready() {
		return reject(fhevm.MessageSessionNotReady, fmt.Errorf("%w: %w", domain.ErrPrecondition, domain.ErrSessionNotReady))
	}
	ledger, err := s.resolveLedger(snap.ChainID)
	if err != nil {
		return reject(fhevm.MessageContractNotFound, err)
	}
	user, err := s.UserAddress(ctx)
	if err != nil {
		return nil, err
	}
	reqs, err := build(ledger)
	if err != nil {
		return nil, err
	}
	batch.Requested = len(reqs)

	result, err := s.decryptor.DecryptBatch(ctx, snap.Instance, user, ledger.Address(), reqs)
	if result != nil {
		batch.SucceededCount = result.SucceededCount
		batch.Message = result.Message
		for _, req := range reqs {
			if v, ok := result.Results[req.Key]; ok {
				outcome.Results = append(outcome.Results, CategoryResult{
					WorkID:   req.Key.WorkID,
					Category: req.Key.Category,
					Value:    v,
				})
			}
		}
	}
	switch {
	case err == nil:
		batch.Status = domain.BatchStatusSucceeded
	case errors.Is(err, domain.ErrPrecondition):
		batch.Status = domain.BatchStatusRejected
	default:
		batch.Status = domain.BatchStatusPartial
	}
	s.record(ctx, batch)
	return outcome, err
}

// record はバッチ履歴を保存する。保存の失敗は復号結果に影響させない。
func (s *SalonService) record(ctx context.Context, batch *domain.DecryptBatch) {
	if s.batches == nil {
		return
	}
	if err := s.batches.Create(ctx, batch); err != nil {
		slog.WarnContext(ctx, "failed to record decrypt batch",
			"operation", "record_batch",
			"category", batch.Category,
			"error", err,
		)
	}
}

// ListBatches は新しい順に復号バッチ履歴を返す。保存先が無い場合は空を返す。
func (s *SalonService) ListBatches(ctx context.Context, limit int) ([]*domain.DecryptBatch, error) {
	if limit <= 0 {
		limit = DefaultBatchLimit
	}
	if limit > MaxBatchLimit {
		limit = MaxBatchLimit
	}
	if s.batches == nil {
		return []*domain.DecryptBatch{}, nil
	}
	batches, err := s.batches.ListRecent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("listing batches: %w", err)
	}
	return batches, nil
}
