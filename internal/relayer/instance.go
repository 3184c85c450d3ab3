package relayer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"salon-gateway/internal/domain"
	"salon-gateway/internal/fhevm"
)

// Instance はリレイヤー経由で復号を行うfhevm.Instance。
type Instance struct {
	cfg    fhevm.Config
	client *http.Client
	signer TypedDataSigner
	now    func() time.Time

	// 認可の作成で消費される。並行するバッチの分だけ保持する
	mu       sync.Mutex
	imported map[string]struct{}
}

var _ fhevm.Instance = (*Instance)(nil)

func newInstance(cfg fhevm.Config, client *http.Client, signer TypedDataSigner, now func() time.Time) *Instance {
	return &Instance{
		cfg:      cfg,
		client:   client,
		signer:   signer,
		now:      now,
		imported: make(map[string]struct{}),
	}
}

// ChainID はセッションが束縛されたチェーンIDを返す。
func (i *Instance) ChainID() uint64 {
	return i.cfg.ChainID
}

// Config はセッションの設定を返す。
func (i *Instance) Config() fhevm.Config {
	return i.cfg
}

// GenerateKeypair はX25519の一時鍵ペアを生成する。
func (i *Instance) GenerateKeypair() (domain.KeyPair, error) {
	return generateKeypair()
}

// ImportSessionKey は公開鍵をこのセッションで利用可能にする。
func (i *Instance) ImportSessionKey(ctx context.Context, publicKey string) error {
	if _, err := decodeKey(publicKey); err != nil {
		return fmt.Errorf("invalid session public key: %w", err)
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	i.imported[strings.ToLower(publicKey)] = struct{}{}
	return nil
}

// takeImported はインポート済みの公開鍵を取り出す。一度取り出した鍵は再利用できない。
func (i *Instance) takeImported(publicKey string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	key := strings.ToLower(publicKey)
	if _, ok := i.imported[key]; !ok {
		return false
	}
	delete(i.imported, key)
	return true
}

// CreateAuthorization はユーザー・公開鍵・検証先コントラクトを束ねた認可を作成し、署名者に署名させる。
// 公開鍵のインポートはこの呼び出しで消費される（署名に失敗した場合も）。
func (i *Instance) CreateAuthorization(ctx context.Context, user common.Address, pair domain.KeyPair, verifying common.Address) (*domain.Authorization, error) {
	if !i.takeImported(pair.PublicKey) {
		return nil, domain.ErrKeyNotImported
	}
	if i.signer == nil {
		return nil, domain.ErrSignerUnavailable
	}

	start := i.now().UTC().Truncate(time.Second)
	td := userDecryptTypedData(i.domain(), pair.PublicKey, []common.Address{verifying}, start, DefaultDurationDays)
	sig, err := i.signer.SignTypedData(ctx, user, td)
	if err != nil {
		return nil, fmt.Errorf("signing decryption request: %w", err)
	}
	return domain.NewAuthorization(user, pair, verifying, sig, start, DefaultDurationDays), nil
}

func (i *Instance) domain() decryptDomain {
	chainID := i.cfg.GatewayChainID
	if chainID == 0 {
		chainID = i.cfg.ChainID
	}
	return decryptDomain{chainID: chainID, verifyingContract: i.cfg.VerifyingContractDecryption}
}

type handleContractPair struct {
	Handle          string `json:"handle"`
	ContractAddress string `json:"contractAddress"`
}

type requestValidity struct {
	StartTimestamp string `json:"startTimestamp"`
	DurationDays   string `json:"durationDays"`
}

type userDecryptRequest struct {
	HandleContractPairs []handleContractPair `json:"handleContractPairs"`
	RequestValidity     requestValidity      `json:"requestValidity"`
	ContractsChainID    string               `json:"contractsChainId"`
	ContractAddresses   []string             `json:"contractAddresses"`
	UserAddress         string               `json:"userAddress"`
	Signature           string               `json:"signature"`
	PublicKey           string               `json:"publicKey"`
	ExtraData           string               `json:"extraData"`
}

type sealedValue struct {
	Handle             string `json:"handle"`
	EphemeralPublicKey string `json:"ephemeralPublicKey"`
	Ciphertext         string `json:"ciphertext"`
}

type userDecryptResponse struct {
	Response []sealedValue `json:"response"`
}

// DecryptHandle はリレイヤーに一つのハンドルの復号を要求し、応答を開封する。
// 応答にハンドルが含まれない場合は0を返す。
func (i *Instance) DecryptHandle(ctx context.Context, verifying common.Address, auth *domain.Authorization, handle domain.Handle) (uint64, error) {
	if auth == nil {
		return 0, fmt.Errorf("missing authorization")
	}
	if auth.VerifyingContract != verifying {
		return 0, fmt.Errorf("authorization is for %s, not %s", auth.VerifyingContract.Hex(), verifying.Hex())
	}

	body := userDecryptRequest{
		HandleContractPairs: []handleContractPair{{Handle: string(handle), ContractAddress: verifying.Hex()}},
		RequestValidity: requestValidity{
			StartTimestamp: strconv.FormatInt(auth.StartTimestamp.Unix(), 10),
			DurationDays:   strconv.FormatUint(auth.DurationDays, 10),
		},
		ContractsChainID:  strconv.FormatUint(i.cfg.ChainID, 10),
		ContractAddresses: []string{verifying.Hex()},
		UserAddress:       auth.UserAddress.Hex(),
		Signature:         strings.TrimPrefix(hexutil.Encode(auth.Signature), "0x"),
		PublicKey:         strings.TrimPrefix(auth.PublicKey, "0x"),
		ExtraData:         "0x00",
	}

	var out userDecryptResponse
	if err := i.post(ctx, "/v1/user-decrypt", body, &out); err != nil {
		return 0, err
	}

	for _, v := range out.Response {
		if !strings.EqualFold(v.Handle, string(handle)) {
			continue
		}
		return openReply(auth.PrivateKey(), v.EphemeralPublicKey, v.Ciphertext, handle)
	}
	return 0, nil
}

func (i *Instance) post(ctx context.Context, path string, in, out any) error {
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(in); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, joinURL(i.cfg.RelayerURL, path), buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := i.client.Do(req)
	if err != nil {
		return fmt.Errorf("relayer post %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("relayer post %s: %s: %s", path, resp.Status, strings.TrimSpace(string(msg)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
