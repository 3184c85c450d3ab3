package relayer

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"

	"salon-gateway/internal/domain"
	"salon-gateway/internal/fhevm"
)

var (
	testUser     = common.HexToAddress("0x1111111111111111111111111111111111111111")
	testContract = common.HexToAddress("0x2222222222222222222222222222222222222222")
	testHandle   = domain.Handle("0xabababababababababababababababababababababababababababababababab")
	fixedNow     = time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
)

// fakeSigner は型付きデータのハッシュを計算して固定の署名を返す。
type fakeSigner struct {
	mu      sync.Mutex
	err     error
	calls   int
	account common.Address
	data    apitypes.TypedData
}

func (f *fakeSigner) SignTypedData(ctx context.Context, account common.Address, data apitypes.TypedData) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.account = account
	f.data = data
	if f.err != nil {
		return nil, f.err
	}
	if _, _, err := apitypes.TypedDataAndHash(data); err != nil {
		return nil, err
	}
	sig := make([]byte, 65)
	sig[64] = 27
	return sig, nil
}

// seal はリレイヤー側の処理を模して値を受信者の公開鍵向けに封印する。
func seal(t *testing.T, recipientPub string, handle domain.Handle, value uint64) sealedValue {
	t.Helper()
	rpub, err := decodeKey(recipientPub)
	if err != nil {
		t.Fatalf("recipient key: %v", err)
	}
	var epriv [32]byte
	if _, err := rand.Read(epriv[:]); err != nil {
		t.Fatal(err)
	}
	epub, err := curve25519.X25519(epriv[:], curve25519.Basepoint)
	if err != nil {
		t.Fatal(err)
	}
	shared, err := curve25519.X25519(epriv[:], rpub)
	if err != nil {
		t.Fatal(err)
	}
	key, err := sealKey(shared, epub, rpub)
	if err != nil {
		t.Fatal(err)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		t.Fatal(err)
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		t.Fatal(err)
	}
	pt := make([]byte, 32)
	new(big.Int).SetUint64(value).FillBytes(pt)
	ct := aead.Seal(nonce, nonce, pt, hexutil.MustDecode(string(handle)))
	return sealedValue{
		Handle:             string(handle),
		EphemeralPublicKey: hexutil.Encode(epub),
		Ciphertext:         hexutil.Encode(ct),
	}
}

// newRelayerServer はハンドル毎の値を封印して返すテスト用リレイヤー。
func newRelayerServer(t *testing.T, values map[domain.Handle]uint64) (*httptest.Server, *[]userDecryptRequest) {
	t.Helper()
	var mu sync.Mutex
	var received []userDecryptRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/user-decrypt" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		var req userDecryptRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		mu.Lock()
		received = append(received, req)
		mu.Unlock()

		var out userDecryptResponse
		for _, p := range req.HandleContractPairs {
			v, ok := values[domain.Handle(p.Handle)]
			if !ok {
				continue
			}
			out.Response = append(out.Response, seal(t, "0x"+req.PublicKey, domain.Handle(p.Handle), v))
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(out)
	}))
	t.Cleanup(srv.Close)
	return srv, &received
}

func newTestInstance(relayerURL string, signer TypedDataSigner) *Instance {
	cfg := SepoliaConfig
	cfg.RelayerURL = relayerURL
	return newInstance(cfg, http.DefaultClient, signer, func() time.Time { return fixedNow })
}

func prepare(t *testing.T, inst *Instance) *domain.Authorization {
	t.Helper()
	ctx := context.Background()
	pair, err := inst.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	if err := inst.ImportSessionKey(ctx, pair.PublicKey); err != nil {
		t.Fatalf("ImportSessionKey: %v", err)
	}
	auth, err := inst.CreateAuthorization(ctx, testUser, pair, testContract)
	if err != nil {
		t.Fatalf("CreateAuthorization: %v", err)
	}
	return auth
}

func TestInstance_DecryptHandle(t *testing.T) {
	srv, received := newRelayerServer(t, map[domain.Handle]uint64{testHandle: 42})
	signer := &fakeSigner{}
	inst := newTestInstance(srv.URL, signer)
	auth := prepare(t, inst)

	got, err := inst.DecryptHandle(context.Background(), testContract, auth, testHandle)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 42 {
		t.Errorf("want 42, got %d", got)
	}

	if len(*received) != 1 {
		t.Fatalf("want 1 relayer request, got %d", len(*received))
	}
	req := (*received)[0]
	if req.UserAddress != testUser.Hex() {
		t.Errorf("want user %s, got %s", testUser.Hex(), req.UserAddress)
	}
	if req.ContractsChainID != "11155111" {
		t.Errorf("want chain 11155111, got %s", req.ContractsChainID)
	}
	if req.RequestValidity.DurationDays != "10" {
		t.Errorf("want 10 days, got %s", req.RequestValidity.DurationDays)
	}
	if req.RequestValidity.StartTimestamp != "1746100800" {
		t.Errorf("unexpected start timestamp %s", req.RequestValidity.StartTimestamp)
	}
	if strings.HasPrefix(req.PublicKey, "0x") || strings.HasPrefix(req.Signature, "0x") {
		t.Error("want hex without prefix for key and signature")
	}
}

func TestInstance_CreateAuthorization_TypedData(t *testing.T) {
	signer := &fakeSigner{}
	inst := newTestInstance("https://relayer.example", signer)
	auth := prepare(t, inst)

	if signer.calls != 1 {
		t.Fatalf("want 1 signature, got %d", signer.calls)
	}
	if signer.account != testUser {
		t.Errorf("want signing account %s, got %s", testUser, signer.account)
	}
	if signer.data.PrimaryType != "UserDecryptRequestVerification" {
		t.Errorf("unexpected primary type %s", signer.data.PrimaryType)
	}
	if got := signer.data.Domain.ChainId; got == nil || (*big.Int)(got).Uint64() != SepoliaConfig.GatewayChainID {
		t.Errorf("want domain chain %d, got %v", SepoliaConfig.GatewayChainID, got)
	}
	if signer.data.Domain.VerifyingContract != SepoliaConfig.VerifyingContractDecryption.Hex() {
		t.Errorf("unexpected verifying contract %s", signer.data.Domain.VerifyingContract)
	}
	if !auth.StartTimestamp.Equal(fixedNow) {
		t.Errorf("want start %v, got %v", fixedNow, auth.StartTimestamp)
	}
	if auth.PrivateKey() == "" {
		t.Error("want private key kept in authorization")
	}
}

func TestInstance_CreateAuthorization_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("key not imported", func(t *testing.T) {
		inst := newTestInstance("https://relayer.example", &fakeSigner{})
		pair, _ := inst.GenerateKeypair()
		_, err := inst.CreateAuthorization(ctx, testUser, pair, testContract)
		if !errors.Is(err, domain.ErrKeyNotImported) {
			t.Errorf("want ErrKeyNotImported, got %v", err)
		}
	})

	t.Run("no signer", func(t *testing.T) {
		inst := newTestInstance("https://relayer.example", nil)
		pair, _ := inst.GenerateKeypair()
		_ = inst.ImportSessionKey(ctx, pair.PublicKey)
		_, err := inst.CreateAuthorization(ctx, testUser, pair, testContract)
		if !errors.Is(err, domain.ErrSignerUnavailable) {
			t.Errorf("want ErrSignerUnavailable, got %v", err)
		}
	})

	t.Run("user rejects", func(t *testing.T) {
		rejected := errors.New("user rejected")
		inst := newTestInstance("https://relayer.example", &fakeSigner{err: rejected})
		pair, _ := inst.GenerateKeypair()
		_ = inst.ImportSessionKey(ctx, pair.PublicKey)
		_, err := inst.CreateAuthorization(ctx, testUser, pair, testContract)
		if !errors.Is(err, rejected) {
			t.Errorf("want signer error, got %v", err)
		}
	})
}

func TestInstance_CreateAuthorization_KeyIsSingleUse(t *testing.T) {
	ctx := context.Background()
	inst := newTestInstance("https://relayer.example", &fakeSigner{})

	first, _ := inst.GenerateKeypair()
	if err := inst.ImportSessionKey(ctx, first.PublicKey); err != nil {
		t.Fatalf("ImportSessionKey: %v", err)
	}
	if _, err := inst.CreateAuthorization(ctx, testUser, first, testContract); err != nil {
		t.Fatalf("CreateAuthorization: %v", err)
	}

	// 後続のバッチ
	for n := 0; n < 100; n++ {
		prepare(t, inst)
	}

	_, err := inst.CreateAuthorization(ctx, testUser, first, testContract)
	if !errors.Is(err, domain.ErrKeyNotImported) {
		t.Errorf("want ErrKeyNotImported for an earlier batch key, got %v", err)
	}
	if n := len(inst.imported); n != 0 {
		t.Errorf("want no imported keys retained, got %d", n)
	}
}

func TestInstance_CreateAuthorization_ConcurrentBatches(t *testing.T) {
	ctx := context.Background()
	inst := newTestInstance("https://relayer.example", &fakeSigner{})

	a, _ := inst.GenerateKeypair()
	b, _ := inst.GenerateKeypair()
	_ = inst.ImportSessionKey(ctx, a.PublicKey)
	_ = inst.ImportSessionKey(ctx, b.PublicKey)

	// 別のバッチのインポートで先の鍵が失われない
	for _, pair := range []domain.KeyPair{b, a} {
		if _, err := inst.CreateAuthorization(ctx, testUser, pair, testContract); err != nil {
			t.Errorf("CreateAuthorization: %v", err)
		}
	}
}

func TestInstance_CreateAuthorization_FailedSigningConsumesKey(t *testing.T) {
	ctx := context.Background()
	signer := &fakeSigner{err: errors.New("user rejected")}
	inst := newTestInstance("https://relayer.example", signer)

	pair, _ := inst.GenerateKeypair()
	_ = inst.ImportSessionKey(ctx, pair.PublicKey)
	if _, err := inst.CreateAuthorization(ctx, testUser, pair, testContract); err == nil {
		t.Fatal("expected signing error")
	}

	signer.err = nil
	_, err := inst.CreateAuthorization(ctx, testUser, pair, testContract)
	if !errors.Is(err, domain.ErrKeyNotImported) {
		t.Errorf("want ErrKeyNotImported after a failed attempt, got %v", err)
	}
}

func TestInstance_ImportSessionKey_Invalid(t *testing.T) {
	inst := newTestInstance("https://relayer.example", nil)
	for _, key := range []string{"", "0x", "0x1234", "zz"} {
		if err := inst.ImportSessionKey(context.Background(), key); err == nil {
			t.Errorf("want error for key %q", key)
		}
	}
}

func TestInstance_DecryptHandle_MissingValueIsZero(t *testing.T) {
	srv, _ := newRelayerServer(t, map[domain.Handle]uint64{})
	inst := newTestInstance(srv.URL, &fakeSigner{})
	auth := prepare(t, inst)

	got, err := inst.DecryptHandle(context.Background(), testContract, auth, testHandle)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 0 {
		t.Errorf("want 0, got %d", got)
	}
}

func TestInstance_DecryptHandle_RelayerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "kms unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	inst := newTestInstance(srv.URL, &fakeSigner{})
	auth := prepare(t, inst)

	_, err := inst.DecryptHandle(context.Background(), testContract, auth, testHandle)
	if err == nil {
		t.Fatal("want error")
	}
	if !strings.Contains(err.Error(), "kms unavailable") {
		t.Errorf("want relayer message in error, got %v", err)
	}
}

func TestInstance_DecryptHandle_WrongRecipient(t *testing.T) {
	// 別の鍵向けに封印された応答は開封できない
	other, _ := generateKeypair()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		out := userDecryptResponse{Response: []sealedValue{seal(t, other.PublicKey, testHandle, 5)}}
		_ = json.NewEncoder(w).Encode(out)
	}))
	defer srv.Close()
	inst := newTestInstance(srv.URL, &fakeSigner{})
	auth := prepare(t, inst)

	_, err := inst.DecryptHandle(context.Background(), testContract, auth, testHandle)
	if !errors.Is(err, errSealedReply) {
		t.Errorf("want sealed reply error, got %v", err)
	}
}

func TestInstance_DecryptHandle_AuthorizationMismatch(t *testing.T) {
	inst := newTestInstance("https://relayer.example", &fakeSigner{})
	auth := prepare(t, inst)
	other := common.HexToAddress("0x3333333333333333333333333333333333333333")

	if _, err := inst.DecryptHandle(context.Background(), other, auth, testHandle); err == nil {
		t.Error("want error for authorization bound to another contract")
	}
	if _, err := inst.DecryptHandle(context.Background(), testContract, nil, testHandle); err == nil {
		t.Error("want error for missing authorization")
	}
}

func TestModule_CreateInstance_UsesConnectionSigner(t *testing.T) {
	m := NewModule(&Manifest{Name: ManifestName, Version: "0.2.0", RelayerURL: "https://relayer.example"}, nil, nil)
	cfg, ok := m.DefaultConfig(SepoliaChainID)
	if !ok {
		t.Fatal("want sepolia config")
	}
	conn := &signingConnection{fakeSigner: &fakeSigner{}}
	cfg.Network = conn

	inst, err := m.CreateInstance(context.Background(), cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ri := inst.(*Instance)
	pair, _ := ri.GenerateKeypair()
	_ = ri.ImportSessionKey(context.Background(), pair.PublicKey)
	if _, err := ri.CreateAuthorization(context.Background(), testUser, pair, testContract); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if conn.calls != 1 {
		t.Errorf("want connection to sign, got %d calls", conn.calls)
	}
}

func TestModule_CreateInstance_InvalidConfig(t *testing.T) {
	m := NewModule(&Manifest{Name: ManifestName, Version: "0.2.0", RelayerURL: "https://relayer.example"}, nil, nil)
	tests := []struct {
		name string
		cfg  fhevm.Config
	}{
		{"no chain", fhevm.Config{RelayerURL: "https://relayer.example", VerifyingContractDecryption: testContract}},
		{"no relayer", fhevm.Config{ChainID: 1, VerifyingContractDecryption: testContract}},
		{"no verifying contract", fhevm.Config{ChainID: 1, RelayerURL: "https://relayer.example"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := m.CreateInstance(context.Background(), tt.cfg); err == nil {
				t.Error("want error")
			}
		})
	}
}

type signingConnection struct {
	*fakeSigner
}

func (c *signingConnection) Identity() string { return "wallet" }

func (c *signingConnection) ChainID(ctx context.Context) (uint64, error) {
	return SepoliaChainID, nil
}
