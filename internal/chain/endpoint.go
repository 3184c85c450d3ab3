package chain

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/ethclient"
)

// Endpoint はURLのみで表されるチェーン接続。問い合わせの度に接続する。
type Endpoint string

// Identity は接続を識別する文字列を返す。
func (e Endpoint) Identity() string {
	return "url:" + string(e)
}

// ChainID はエンドポイントに接続してチェーンIDを問い合わせる。
func (e Endpoint) ChainID(ctx context.Context) (uint64, error) {
	client, err := ethclient.DialContext(ctx, string(e))
	if err != nil {
		return 0, fmt.Errorf("dialing %s: %w", string(e), err)
	}
	defer client.Close()

	id, err := client.ChainID(ctx)
	if err != nil {
		return 0, fmt.Errorf("eth_chainId: %w", err)
	}
	if !id.IsUint64() {
		return 0, fmt.Errorf("chain ID %s out of range", id)
	}
	return id.Uint64(), nil
}
