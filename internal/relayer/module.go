package relayer

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"salon-gateway/internal/fhevm"
)

// SepoliaChainID はSepoliaテストネットのチェーンID。
const SepoliaChainID uint64 = 11155111

// SepoliaConfig はSepolia向けの既定設定。マニフェストの値で上書きされる。
var SepoliaConfig = fhevm.Config{
	ChainID:                     SepoliaChainID,
	GatewayChainID:              55815,
	ACLContract:                 common.HexToAddress("0x687820221192C5B662b25367F70076A37bc79b6c"),
	KMSContract:                 common.HexToAddress("0x1364cBBf2cDF5032C47d8226a6f6FBD2AFCDacAC"),
	InputVerifierContract:       common.HexToAddress("0xbc91f3daD1A5F19F8390c400196e58073B6a0BC4"),
	VerifyingContractDecryption: common.HexToAddress("0xb6E160B1ff80D67Bfe90A85eE06Ce0A2613607D1"),
	RelayerURL:                  "https://relayer.testnet.zama.cloud",
}

// Module はマニフェストから構築されるfhevm.Module。
type Module struct {
	manifest *Manifest
	client   *http.Client
	signer   TypedDataSigner
	now      func() time.Time

	mu     sync.Mutex
	inited bool
}

// NewModule は新しいModuleを生成する。
func NewModule(m *Manifest, client *http.Client, signer TypedDataSigner) *Module {
	if client == nil {
		client = http.DefaultClient
	}
	return &Module{
		manifest: m,
		client:   client,
		signer:   signer,
		now:      time.Now,
	}
}

// Version はマニフェストのバージョンを返す。
func (m *Module) Version() string {
	return m.manifest.Version
}

// Init はリレイヤーの疎通を確認する。成功後の呼び出しは何もしない。
// リレイヤーが応答したが利用できない状態の場合はfalseを返す。
func (m *Module) Init(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inited {
		return true, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, joinURL(m.manifest.RelayerURL, "/v1/keyurl"), nil)
	if err != nil {
		return false, fmt.Errorf("building keyurl request: %w", err)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("contacting relayer: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return false, nil
	}
	m.inited = true
	return true, nil
}

// DefaultConfig はチェーンIDに対応する設定を返す。
// Sepoliaは組み込みの既定値にマニフェストの値を重ね、それ以外はマニフェストに記載がある場合のみ返す。
func (m *Module) DefaultConfig(chainID uint64) (fhevm.Config, bool) {
	var cfg fhevm.Config
	known := false
	if chainID == SepoliaChainID {
		cfg = SepoliaConfig
		known = true
	}
	if m.manifest.RelayerURL != "" {
		cfg.RelayerURL = m.manifest.RelayerURL
	}

	n, ok := m.manifest.Networks[strconv.FormatUint(chainID, 10)]
	if !ok {
		return cfg, known
	}
	cfg.ChainID = chainID
	if n.GatewayChainID != 0 {
		cfg.GatewayChainID = n.GatewayChainID
	}
	overrideAddress(&cfg.ACLContract, n.ACLContract)
	overrideAddress(&cfg.KMSContract, n.KMSContract)
	overrideAddress(&cfg.InputVerifierContract, n.InputVerifierContract)
	overrideAddress(&cfg.VerifyingContractDecryption, n.VerifyingContractDecryption)
	if n.RelayerURL != "" {
		cfg.RelayerURL = n.RelayerURL
	}
	return cfg, true
}

// CreateInstance は設定に束縛されたInstanceを生成する。
func (m *Module) CreateInstance(ctx context.Context, cfg fhevm.Config) (fhevm.Instance, error) {
	if cfg.ChainID == 0 {
		return nil, fmt.Errorf("config has no chain ID")
	}
	if err := validateURL(cfg.RelayerURL); err != nil {
		return nil, fmt.Errorf("config relayer URL: %w", err)
	}
	if cfg.VerifyingContractDecryption == (common.Address{}) {
		return nil, fmt.Errorf("config has no decryption verifying contract")
	}

	signer := m.signer
	if signer == nil {
		// ウォレット型の接続は自身で署名できる
		if s, ok := cfg.Network.(TypedDataSigner); ok {
			signer = s
		}
	}
	return newInstance(cfg, m.client, signer, m.now), nil
}

func overrideAddress(dst *common.Address, hex string) {
	if common.IsHexAddress(hex) {
		*dst = common.HexToAddress(hex)
	}
}

func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + path
}
