package infra

import (
	"context"
	_ "embed"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"salon-gateway/internal/domain"
)

//go:embed abi/classic_salon.json
var classicSalonABI string

// SalonABI はClassicSalonコントラクトのABI。
var SalonABI = mustParseABI(classicSalonABI)

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(fmt.Sprintf("parsing salon ABI: %v", err))
	}
	return parsed
}

// ContractBackend はコントラクトの読み書きとレシート待ちに使うバックエンド。*ethclient.Clientが実装する。
type ContractBackend interface {
	bind.ContractBackend
	bind.DeployBackend
}

// SalonContract はClassicSalonコントラクトのバインディング。
type SalonContract struct {
	address  common.Address
	backend  ContractBackend
	contract *bind.BoundContract
}

// NewSalonContract はaddressにデプロイされたコントラクトのバインディングを生成する。
func NewSalonContract(address common.Address, backend ContractBackend) *SalonContract {
	return &SalonContract{
		address:  address,
		backend:  backend,
		contract: bind.NewBoundContract(address, SalonABI, backend, backend, backend),
	}
}

// Address はコントラクトのアドレスを返す。
func (c *SalonContract) Address() common.Address {
	return c.address
}

func (c *SalonContract) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	var out []interface{}
	if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, method, args...); err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	return out, nil
}

// ListWorkIDs は全作品のIDを返す。
func (c *SalonContract) ListWorkIDs(ctx context.Context) ([]uint64, error) {
	out, err := c.call(ctx, "listAllWorks")
	if err != nil {
		return nil, err
	}
	raw := *abi.ConvertType(out[0], new([]*big.Int)).(*[]*big.Int)
	ids := make([]uint64, len(raw))
	for i, id := range raw {
		ids[i] = id.Uint64()
	}
	return ids, nil
}

// NextWorkID は次に割り当てられる作品IDを返す。
func (c *SalonContract) NextWorkID(ctx context.Context) (uint64, error) {
	out, err := c.call(ctx, "nextWorkId")
	if err != nil {
		return 0, err
	}
	return (*abi.ConvertType(out[0], new(*big.Int)).(**big.Int)).Uint64(), nil
}

// ReadWork は作品を読み込む。
func (c *SalonContract) ReadWork(ctx context.Context, id uint64) (*domain.Work, error) {
	out, err := c.call(ctx, "readWork", new(big.Int).SetUint64(id))
	if err != nil {
		return nil, err
	}
	if len(out) != 9 {
		return nil, fmt.Errorf("readWork: want 9 outputs, got %d", len(out))
	}
	return &domain.Work{
		ID:             (*abi.ConvertType(out[0], new(*big.Int)).(**big.Int)).Uint64(),
		Contributor:    *abi.ConvertType(out[1], new(common.Address)).(*common.Address),
		Title:          *abi.ConvertType(out[2], new(string)).(*string),
		SynopsisHash:   *abi.ConvertType(out[3], new(string)).(*string),
		ContentHash:    *abi.ConvertType(out[4], new(string)).(*string),
		Tags:           *abi.ConvertType(out[5], new([]string)).(*[]string),
		Genres:         *abi.ConvertType(out[6], new([]string)).(*[]string),
		Timestamp:      time.Unix(int64(*abi.ConvertType(out[7], new(uint64)).(*uint64)), 0).UTC(),
		ApplauseHandle: domain.HandleFromHash(*abi.ConvertType(out[8], new([32]byte)).(*[32]byte)),
	}, nil
}

// ReadEndorsements は作品のジャンル別推薦数のハンドルを返す。
func (c *SalonContract) ReadEndorsements(ctx context.Context, id uint64, genre string) (domain.Handle, error) {
	out, err := c.call(ctx, "readEndorsements", new(big.Int).SetUint64(id), genre)
	if err != nil {
		return "", err
	}
	return domain.HandleFromHash(*abi.ConvertType(out[0], new([32]byte)).(*[32]byte)), nil
}

// SubmitWork は作品を投稿し、マイニングされるまで待つ。
func (c *SalonContract) SubmitWork(ctx context.Context, opts *bind.TransactOpts, s domain.WorkSubmission) (*domain.TxReceipt, error) {
	tags, genres := s.Tags, s.Genres
	if tags == nil {
		tags = []string{}
	}
	if genres == nil {
		genres = []string{}
	}
	receipt, err := c.transact(ctx, opts, "submitWork", s.Title, s.SynopsisHash, s.ContentHash, tags, genres)
	if err != nil {
		return nil, err
	}
	for _, l := range receipt.Logs {
		ev := new(struct {
			WorkId      *big.Int
			Contributor common.Address
			Title       string
		})
		if len(l.Topics) == 0 || l.Topics[0] != SalonABI.Events["WorkSubmitted"].ID {
			continue
		}
		if err := c.contract.UnpackLog(ev, "WorkSubmitted", *l); err != nil {
			return nil, fmt.Errorf("decoding WorkSubmitted: %w", err)
		}
		receipt.WorkID = ev.WorkId.Uint64()
		break
	}
	return &receipt.TxReceipt, nil
}

// ApplaudWork は作品に拍手する。
func (c *SalonContract) ApplaudWork(ctx context.Context, opts *bind.TransactOpts, id uint64) (*domain.TxReceipt, error) {
	receipt, err := c.transact(ctx, opts, "applaudWork", new(big.Int).SetUint64(id))
	if err != nil {
		return nil, err
	}
	receipt.WorkID = id
	return &receipt.TxReceipt, nil
}

// EndorseWork は作品をジャンルで推薦する。
func (c *SalonContract) EndorseWork(ctx context.Context, opts *bind.TransactOpts, id uint64, genre string) (*domain.TxReceipt, error) {
	receipt, err := c.transact(ctx, opts, "endorseWorkInGenre", new(big.Int).SetUint64(id), genre)
	if err != nil {
		return nil, err
	}
	receipt.WorkID = id
	return &receipt.TxReceipt, nil
}

type minedReceipt struct {
	domain.TxReceipt
	Logs []*types.Log
}

func (c *SalonContract) transact(ctx context.Context, opts *bind.TransactOpts, method string, args ...interface{}) (*minedReceipt, error) {
	opts.Context = ctx
	tx, err := c.contract.Transact(opts, method, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	receipt, err := bind.WaitMined(ctx, c.backend, tx)
	if err != nil {
		return nil, fmt.Errorf("waiting for %s %s: %w", method, tx.Hash().Hex(), err)
	}
	if receipt.Status == types.ReceiptStatusFailed {
		return nil, fmt.Errorf("%w: %s %s", domain.ErrTransactionReverted, method, tx.Hash().Hex())
	}
	var block uint64
	if receipt.BlockNumber != nil {
		block = receipt.BlockNumber.Uint64()
	}
	return &minedReceipt{
		TxReceipt: domain.TxReceipt{TxHash: tx.Hash(), BlockNumber: block},
		Logs:      receipt.Logs,
	}, nil
}
