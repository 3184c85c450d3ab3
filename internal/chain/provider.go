// Package chain はチェーンへの接続、型付きデータの署名、チェーン切り替えの監視を提供する。
package chain

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Provider はウォレット型のリクエストチャネル。任意のJSON-RPCメソッドを転送する。
type Provider struct {
	client *rpc.Client
	id     string
}

// Dial はURLに接続してProviderを生成する。
func Dial(ctx context.Context, rawurl string) (*Provider, error) {
	client, err := rpc.DialContext(ctx, rawurl)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", rawurl, err)
	}
	return NewProvider(client, rawurl), nil
}

// NewProvider は既存のRPCクライアントからProviderを生成する。idは接続の識別に使う。
func NewProvider(client *rpc.Client, id string) *Provider {
	return &Provider{client: client, id: id}
}

// Identity は接続を識別する文字列を返す。
func (p *Provider) Identity() string {
	return "provider:" + p.id
}

// Request はメソッドを呼び出し、結果をそのまま返す。
func (p *Provider) Request(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := p.client.CallContext(ctx, &raw, method, params...); err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	return raw, nil
}

// ChainID はeth_chainIdで接続先のチェーンIDを問い合わせる。
func (p *Provider) ChainID(ctx context.Context) (uint64, error) {
	var id hexutil.Uint64
	if err := p.client.CallContext(ctx, &id, "eth_chainId"); err != nil {
		return 0, fmt.Errorf("eth_chainId: %w", err)
	}
	return uint64(id), nil
}

// Accounts は接続済みのアカウントを返す。
func (p *Provider) Accounts(ctx context.Context) ([]common.Address, error) {
	var accounts []common.Address
	if err := p.client.CallContext(ctx, &accounts, "eth_accounts"); err != nil {
		return nil, fmt.Errorf("eth_accounts: %w", err)
	}
	return accounts, nil
}

// RequestAccounts はアカウントへのアクセスを要求する。
func (p *Provider) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	var accounts []common.Address
	if err := p.client.CallContext(ctx, &accounts, "eth_requestAccounts"); err != nil {
		return nil, fmt.Errorf("eth_requestAccounts: %w", err)
	}
	return accounts, nil
}

// SignTypedData はeth_signTypedData_v4で接続先に署名を依頼する。
func (p *Provider) SignTypedData(ctx context.Context, account common.Address, data apitypes.TypedData) ([]byte, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encoding typed data: %w", err)
	}
	var sig hexutil.Bytes
	if err := p.client.CallContext(ctx, &sig, "eth_signTypedData_v4", account, string(payload)); err != nil {
		return nil, fmt.Errorf("eth_signTypedData_v4: %w", err)
	}
	return sig, nil
}

// Backend はコントラクト呼び出しに使うクライアントを返す。
func (p *Provider) Backend() *ethclient.Client {
	return ethclient.NewClient(p.client)
}

// Close は接続を閉じる。
func (p *Provider) Close() {
	p.client.Close()
}
