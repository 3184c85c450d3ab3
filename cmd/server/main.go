// Package main はゲートウェイAPIサーバーのエントリポイント。
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"salon-gateway/config"
	"salon-gateway/internal/chain"
	"salon-gateway/internal/domain"
	"salon-gateway/internal/fhevm"
	"salon-gateway/internal/handler"
	"salon-gateway/internal/infra"
	"salon-gateway/internal/relayer"
	"salon-gateway/internal/repository"
	"salon-gateway/internal/usecase"
)

func main() {
	// .envファイルを読み込む（存在しない場合は無視）
	// 既存の環境変数は上書きしない
	_ = godotenv.Load()

	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// トレーサー初期化（ロガー設定の前に実行）
	tp, err := infra.InitTracer(ctx, cfg)
	if err != nil {
		slog.Error("failed to init tracer", "error", err)
		os.Exit(1)
	}
	if tp != nil {
		defer func() {
			if err := tp.Shutdown(context.Background()); err != nil {
				slog.Error("failed to shutdown tracer", "error", err)
			}
		}()
	}

	// トレース情報付きロガーを設定
	infra.SetupLogger(cfg)

	if err := run(ctx, cfg); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	// デプロイ情報
	registry, err := infra.LoadRegistry(cfg.DeploymentsFile)
	if err != nil {
		return err
	}

	// 署名者（任意）
	signer, err := loadSigner(ctx, cfg)
	if err != nil {
		return err
	}

	// チェーン接続
	provider, err := chain.Dial(ctx, cfg.RPCURL)
	if err != nil {
		return err
	}
	defer provider.Close()

	// 暗号セッション
	var typedSigner relayer.TypedDataSigner
	if signer != nil {
		typedSigner = signer
	}
	host := fhevm.NewHost()
	loader := fhevm.NewLoader(host, relayer.NewManifestInjector(nil, typedSigner), cfg.FhevmSDKCDN, nil)
	controller := fhevm.NewController(ctx, fhevm.NewFactory(host, loader))
	defer controller.Close()

	// DI
	opts := []usecase.SalonOption{usecase.WithAccounts(provider)}
	if signer != nil {
		opts = append(opts, usecase.WithSigner(signer))
	}
	if cfg.DatabaseURL != "" {
		db, err := infra.NewDB(cfg.DatabaseURL, cfg)
		if err != nil {
			return err
		}
		opts = append(opts, usecase.WithBatchRepository(repository.NewBatchRepository(db)))
	} else {
		slog.Warn("DATABASE_URL is not set; decrypt batch history is disabled")
	}
	ledgers := func(chainID uint64) (usecase.Ledger, error) {
		d, err := registry.Lookup(chainID)
		if err != nil {
			return nil, err
		}
		return infra.NewSalonContract(d.Address, provider.Backend()), nil
	}
	service := usecase.NewSalonService(provider, ledgers, controller, fhevm.NewDecryptor(), opts...)
	router := handler.NewRouter(handler.NewSalonHandler(service))

	// チェーンIDの変化に追従してセッションを作り直す。生成に失敗している間は次のティックで再試行する
	watcher := chain.NewWatcher(provider, cfg.ChainPollInterval).RetryWhen(func() bool {
		return controller.Snapshot().Status == domain.SessionStatusError
	})
	go func() {
		_ = watcher.Run(ctx, func(chainID uint64) {
			controller.Enable(provider, chainID)
		})
	}()

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		slog.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("starting server",
		"port", cfg.Port,
		"rpc", cfg.RPCURL,
		"sources", loader.Sources(),
		"signer", signer != nil,
	)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// loadSigner はSIGNER_KEYまたはKMSで暗号化されたSIGNER_KEY_CIPHERTEXTから署名者を作る。
// どちらも未設定の場合はnilを返す。
func loadSigner(ctx context.Context, cfg *config.Config) (*chain.LocalSigner, error) {
	key := cfg.SignerKey
	if key == "" && cfg.SignerKeyEncrypted != "" {
		kmsClient, err := infra.NewKMSClient(ctx, cfg.KMSKeyName)
		if err != nil {
			return nil, err
		}
		defer func() {
			if closeErr := kmsClient.Close(); closeErr != nil {
				slog.Error("failed to close KMS client", "error", closeErr)
			}
		}()
		key, err = infra.UnwrapSecret(ctx, kmsClient, cfg.SignerKeyEncrypted)
		if err != nil {
			return nil, err
		}
	}
	if key == "" {
		return nil, nil
	}
	signer, err := chain.NewLocalSigner(key)
	if err != nil {
		return nil, err
	}
	slog.Info("signer configured", "address", signer.Address().Hex())
	return signer, nil
}
