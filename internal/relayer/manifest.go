// Package relayer はHTTPリレイヤーを使う暗号機能モジュールを提供する。
//
// ManifestInjectorがSDKマニフェストを取得してModuleをfhevm.Hostにインストールし、
// ModuleはチェーンIDに束縛されたInstanceを生成する。
package relayer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"salon-gateway/internal/fhevm"
)

// ManifestName はインストール対象とするマニフェストの名前。
const ManifestName = "relayer-sdk"

// マニフェストが大きすぎる場合は読み込まない
const maxManifestBytes = 1 << 20

var (
	errInvalidManifest = errors.New("invalid relayer sdk manifest")
)

// Manifest はCDNで配布されるSDKマニフェスト。
type Manifest struct {
	Name       string                   `json:"name"`
	Version    string                   `json:"version"`
	RelayerURL string                   `json:"relayerUrl"`
	Networks   map[string]NetworkConfig `json:"networks"`
}

// NetworkConfig はチェーン毎の設定値。省略された項目は既定値を使う。
type NetworkConfig struct {
	ChainID                     uint64 `json:"chainId"`
	GatewayChainID              uint64 `json:"gatewayChainId"`
	ACLContract                 string `json:"aclContractAddress"`
	KMSContract                 string `json:"kmsContractAddress"`
	InputVerifierContract       string `json:"inputVerifierContractAddress"`
	VerifyingContractDecryption string `json:"verifyingContractAddressDecryption"`
	RelayerURL                  string `json:"relayerUrl"`
}

// Validate はマニフェストの必須項目を検証する。
func (m *Manifest) Validate() error {
	if m.Name != ManifestName {
		return fmt.Errorf("%w: unexpected name %q", errInvalidManifest, m.Name)
	}
	if m.Version == "" {
		return fmt.Errorf("%w: version is required", errInvalidManifest)
	}
	if err := validateURL(m.RelayerURL); err != nil {
		return fmt.Errorf("%w: relayerUrl: %v", errInvalidManifest, err)
	}
	for key, n := range m.Networks {
		id, err := strconv.ParseUint(key, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: network key %q is not a chain ID", errInvalidManifest, key)
		}
		if n.ChainID != 0 && n.ChainID != id {
			return fmt.Errorf("%w: network %s declares chain %d", errInvalidManifest, key, n.ChainID)
		}
		if n.RelayerURL != "" {
			if err := validateURL(n.RelayerURL); err != nil {
				return fmt.Errorf("%w: network %s relayerUrl: %v", errInvalidManifest, key, err)
			}
		}
	}
	return nil
}

func validateURL(raw string) error {
	if raw == "" {
		return errors.New("empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}

// ManifestInjector はマニフェストURLからModuleを読み込むfhevm.Injector。
type ManifestInjector struct {
	client *http.Client
	signer TypedDataSigner
}

// NewManifestInjector は新しいManifestInjectorを生成する。
// signerがnilの場合、認可の署名はチェーン接続に委ねられる。
func NewManifestInjector(client *http.Client, signer TypedDataSigner) *ManifestInjector {
	if client == nil {
		client = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	return &ManifestInjector{client: client, signer: signer}
}

// Inject はマニフェストを取得・検証し、Moduleをhostにインストールする。
func (i *ManifestInjector) Inject(ctx context.Context, host *fhevm.Host, source string) error {
	manifest, err := i.fetch(ctx, source)
	if err != nil {
		return err
	}
	if !host.Install(NewModule(manifest, i.client, i.signer)) {
		slog.DebugContext(ctx, "crypto module already installed",
			"operation", "inject_module",
			"source", source,
		)
	}
	return nil
}

func (i *ManifestInjector) fetch(ctx context.Context, source string) (*Manifest, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, fmt.Errorf("building manifest request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := i.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching manifest: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("fetching manifest %s: %s", source, resp.Status)
	}

	var m Manifest
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxManifestBytes)).Decode(&m); err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidManifest, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}
