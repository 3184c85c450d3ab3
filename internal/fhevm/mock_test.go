package fhevm

import (
	"context"
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"salon-gateway/internal/domain"
)

// mockConnection はテスト用のチェーン接続。
type mockConnection struct {
	id         string
	chainID    uint64
	chainIDErr error
	calls      int
}

func (m *mockConnection) Identity() string { return m.id }

func (m *mockConnection) ChainID(ctx context.Context) (uint64, error) {
	m.calls++
	if m.chainIDErr != nil {
		return 0, m.chainIDErr
	}
	return m.chainID, nil
}

// mockInjector は指定回目の試行でモジュールをインストールするインジェクタ。
type mockInjector struct {
	module    Module
	succeedAt int // 1始まり。0の場合は常に失敗
	attempts  []string
}

func (m *mockInjector) Inject(ctx context.Context, host *Host, source string) error {
	m.attempts = append(m.attempts, source)
	if m.succeedAt > 0 && len(m.attempts) == m.succeedAt {
		host.Install(m.module)
		return nil
	}
	return errors.New("script load error")
}

// mockModule はテスト用の暗号モジュール。
type mockModule struct {
	initResult bool
	initErr    error
	createErr  error
	configs    map[uint64]Config
	instance   *mockInstance
	initCalls  int
	lastConfig Config
}

func newMockModule() *mockModule {
	return &mockModule{
		initResult: true,
		configs: map[uint64]Config{
			11155111: {ChainID: 11155111, RelayerURL: "https://relayer.testnet.zama.cloud"},
		},
		instance: &mockInstance{chainID: 11155111},
	}
}

func (m *mockModule) Init(ctx context.Context) (bool, error) {
	m.initCalls++
	return m.initResult, m.initErr
}

func (m *mockModule) DefaultConfig(chainID uint64) (Config, bool) {
	cfg, ok := m.configs[chainID]
	return cfg, ok
}

func (m *mockModule) CreateInstance(ctx context.Context, cfg Config) (Instance, error) {
	m.lastConfig = cfg
	if m.createErr != nil {
		return nil, m.createErr
	}
	return m.instance, nil
}

// mockInstance はテスト用のセッション。
type mockInstance struct {
	chainID     uint64
	keypairErr  error
	importErr   error
	authErr     error
	plaintexts  map[domain.Handle]uint64
	failHandles map[domain.Handle]error

	mu           sync.Mutex
	keypairCalls int
	importCalls  int
	authCalls    int
	decryptCalls []domain.Handle
	authsUsed    map[*domain.Authorization]int
	importedKey  string
}

func (m *mockInstance) ChainID() uint64 { return m.chainID }

func (m *mockInstance) GenerateKeypair() (domain.KeyPair, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keypairCalls++
	if m.keypairErr != nil {
		return domain.KeyPair{}, m.keypairErr
	}
	return domain.KeyPair{PublicKey: "0xpub", PrivateKey: "0xpriv"}, nil
}

func (m *mockInstance) ImportSessionKey(ctx context.Context, publicKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.importCalls++
	m.importedKey = publicKey
	return m.importErr
}

func (m *mockInstance) CreateAuthorization(ctx context.Context, user common.Address, pair domain.KeyPair, verifying common.Address) (*domain.Authorization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authCalls++
	if m.authErr != nil {
		return nil, m.authErr
	}
	return domain.NewAuthorization(user, pair, verifying, []byte{0x01}, testStart, 1), nil
}

func (m *mockInstance) DecryptHandle(ctx context.Context, verifying common.Address, auth *domain.Authorization, handle domain.Handle) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decryptCalls = append(m.decryptCalls, handle)
	if m.authsUsed == nil {
		m.authsUsed = make(map[*domain.Authorization]int)
	}
	m.authsUsed[auth]++
	if err, ok := m.failHandles[handle]; ok {
		return 0, err
	}
	return m.plaintexts[handle], nil
}
