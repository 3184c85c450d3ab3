package infra

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"salon-gateway/internal/domain"
)

// Deployment はチェーン上のコントラクトのデプロイ情報。
type Deployment struct {
	Address   common.Address `json:"address"`
	ChainID   uint64         `json:"chainId"`
	ChainName string         `json:"chainName"`
}

// Registry はチェーンIDからコントラクトのデプロイ情報を引く。
type Registry struct {
	byChain map[uint64]Deployment
}

// NewRegistry はデプロイ情報からRegistryを生成する。
func NewRegistry(deployments ...Deployment) *Registry {
	r := &Registry{byChain: make(map[uint64]Deployment, len(deployments))}
	for _, d := range deployments {
		r.byChain[d.ChainID] = d
	}
	return r
}

// LoadRegistry はgenabi形式のアドレスファイルを読み込む。
// pathが空の場合は空のRegistryを返す。
//
//	{"11155111": {"address": "0x...", "chainId": 11155111, "chainName": "Sepolia"}}
func LoadRegistry(path string) (*Registry, error) {
	if path == "" {
		return NewRegistry(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading deployments file: %w", err)
	}
	return ParseRegistry(data)
}

// ParseRegistry はgenabi形式のJSONからRegistryを生成する。
func ParseRegistry(data []byte) (*Registry, error) {
	var raw map[string]Deployment
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing deployments: %w", err)
	}

	r := NewRegistry()
	for key, d := range raw {
		id, err := strconv.ParseUint(key, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing deployments: chain key %q: %w", key, err)
		}
		if d.ChainID == 0 {
			d.ChainID = id
		}
		if d.ChainID != id {
			return nil, fmt.Errorf("parsing deployments: chain %s declares chainId %d", key, d.ChainID)
		}
		if d.Address == (common.Address{}) {
			continue
		}
		r.byChain[id] = d
	}
	return r, nil
}

// Lookup はチェーンIDのデプロイ情報を返す。
// 見つからない場合はdomain.ErrPreconditionとdomain.ErrContractNotDeployedを返す。
func (r *Registry) Lookup(chainID uint64) (Deployment, error) {
	d, ok := r.byChain[chainID]
	if !ok {
		return Deployment{}, fmt.Errorf("%w: %w: chain %d", domain.ErrPrecondition, domain.ErrContractNotDeployed, chainID)
	}
	return d, nil
}

// ChainIDs は登録されたチェーンIDを返す。
func (r *Registry) ChainIDs() []uint64 {
	ids := make([]uint64, 0, len(r.byChain))
	for id := range r.byChain {
		ids = append(ids, id)
	}
	return ids
}
