package relayer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"salon-gateway/internal/fhevm"
)

const validManifest = `{
  "name": "relayer-sdk",
  "version": "0.2.0",
  "relayerUrl": "https://relayer.testnet.zama.cloud",
  "networks": {
    "11155111": {"chainId": 11155111, "gatewayChainId": 55815},
    "31337": {
      "chainId": 31337,
      "verifyingContractAddressDecryption": "0x5ffdaAB0373E62E2ea2944776209aEf29E631A64",
      "relayerUrl": "http://localhost:3000"
    }
  }
}`

func serveManifest(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestManifestInjector_Inject(t *testing.T) {
	srv := serveManifest(t, http.StatusOK, validManifest)
	host := fhevm.NewHost()

	if err := NewManifestInjector(srv.Client(), nil).Inject(context.Background(), host, srv.URL); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m, ok := host.Module()
	if !ok {
		t.Fatal("want module installed")
	}
	if v := m.(*Module).Version(); v != "0.2.0" {
		t.Errorf("want version 0.2.0, got %s", v)
	}
}

func TestManifestInjector_InvalidManifest(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"not found", http.StatusNotFound, "not found"},
		{"not json", http.StatusOK, "window.relayerSDK = {}"},
		{"foreign name", http.StatusOK, `{"name":"other-sdk","version":"1","relayerUrl":"https://x.example"}`},
		{"missing version", http.StatusOK, `{"name":"relayer-sdk","relayerUrl":"https://x.example"}`},
		{"bad relayer url", http.StatusOK, `{"name":"relayer-sdk","version":"1","relayerUrl":"ftp://x"}`},
		{"bad network key", http.StatusOK, `{"name":"relayer-sdk","version":"1","relayerUrl":"https://x.example","networks":{"sepolia":{}}}`},
		{"mismatched chain", http.StatusOK, `{"name":"relayer-sdk","version":"1","relayerUrl":"https://x.example","networks":{"1":{"chainId":2}}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := serveManifest(t, tt.status, tt.body)
			host := fhevm.NewHost()

			err := NewManifestInjector(srv.Client(), nil).Inject(context.Background(), host, srv.URL)
			if err == nil {
				t.Fatal("want error")
			}
			if host.Present() {
				t.Error("want nothing installed")
			}
		})
	}
}

func TestManifestInjector_WithLoader(t *testing.T) {
	bad := serveManifest(t, http.StatusInternalServerError, "")
	good := serveManifest(t, http.StatusOK, validManifest)
	host := fhevm.NewHost()

	loader := fhevm.NewLoader(host, NewManifestInjector(http.DefaultClient, nil), bad.URL, []string{good.URL})
	if err := loader.Load(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !host.Present() {
		t.Error("want module installed from fallback")
	}
}

func TestModule_DefaultConfig(t *testing.T) {
	srv := serveManifest(t, http.StatusOK, validManifest)
	m, err := NewManifestInjector(srv.Client(), nil).fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	mod := NewModule(m, nil, nil)

	t.Run("sepolia defaults", func(t *testing.T) {
		cfg, ok := mod.DefaultConfig(SepoliaChainID)
		if !ok {
			t.Fatal("want config")
		}
		if cfg.ACLContract != SepoliaConfig.ACLContract {
			t.Errorf("want default ACL, got %s", cfg.ACLContract)
		}
		if cfg.GatewayChainID != 55815 {
			t.Errorf("want gateway chain 55815, got %d", cfg.GatewayChainID)
		}
		if cfg.RelayerURL != "https://relayer.testnet.zama.cloud" {
			t.Errorf("unexpected relayer URL %s", cfg.RelayerURL)
		}
	})

	t.Run("manifest only chain", func(t *testing.T) {
		cfg, ok := mod.DefaultConfig(31337)
		if !ok {
			t.Fatal("want config")
		}
		if cfg.ChainID != 31337 {
			t.Errorf("want chain 31337, got %d", cfg.ChainID)
		}
		want := common.HexToAddress("0x5ffdaAB0373E62E2ea2944776209aEf29E631A64")
		if cfg.VerifyingContractDecryption != want {
			t.Errorf("want %s, got %s", want, cfg.VerifyingContractDecryption)
		}
		if cfg.RelayerURL != "http://localhost:3000" {
			t.Errorf("want network relayer URL, got %s", cfg.RelayerURL)
		}
	})

	t.Run("unknown chain", func(t *testing.T) {
		if _, ok := mod.DefaultConfig(1); ok {
			t.Error("want no config for mainnet")
		}
	})
}

func TestModule_Init(t *testing.T) {
	calls := 0
	status := http.StatusServiceUnavailable
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.URL.Path != "/v1/keyurl" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.WriteHeader(status)
	}))
	defer srv.Close()
	mod := NewModule(&Manifest{Name: ManifestName, Version: "0.2.0", RelayerURL: srv.URL}, srv.Client(), nil)

	ok, err := mod.Init(context.Background())
	if err != nil || ok {
		t.Fatalf("want (false, nil) while unavailable, got (%v, %v)", ok, err)
	}

	status = http.StatusOK
	ok, err = mod.Init(context.Background())
	if err != nil || !ok {
		t.Fatalf("want (true, nil), got (%v, %v)", ok, err)
	}
	if _, err := mod.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Errorf("want initialization to run until success only, got %d calls", calls)
	}
}

func TestModule_Init_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	mod := NewModule(&Manifest{Name: ManifestName, Version: "0.2.0", RelayerURL: url}, nil, nil)
	ok, err := mod.Init(context.Background())
	if err == nil || ok {
		t.Errorf("want error, got (%v, %v)", ok, err)
	}
}

func TestManifest_ValidateError(t *testing.T) {
	m := &Manifest{Name: "x"}
	if err := m.Validate(); !errors.Is(err, errInvalidManifest) {
		t.Errorf("want errInvalidManifest, got %v", err)
	}
}
