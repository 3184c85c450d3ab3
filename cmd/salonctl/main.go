// Package main はゲートウェイ操作用CLIのエントリポイント。
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

const version = "1.0.0"

var (
	apiURL  string
	output  string
	timeout time.Duration
)

// HTTPクライアント
var httpClient *http.Client

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "salonctl",
		Short: "Classic Salon gateway CLI",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if apiURL == "" {
				apiURL = os.Getenv("SALONCTL_API_URL")
			}
			if apiURL == "" {
				apiURL = "http://localhost:8080"
			}
			apiURL = strings.TrimRight(apiURL, "/")
			httpClient = &http.Client{Timeout: timeout}
		},
		SilenceUsage: true,
	}

	// グローバルフラグ
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "", "Gateway URL (or set SALONCTL_API_URL)")
	rootCmd.PersistentFlags().StringVar(&output, "output", "text", "Output format: text, json")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 2*time.Minute, "Request timeout")

	// サブコマンド登録
	rootCmd.AddCommand(sessionCmd())
	rootCmd.AddCommand(worksCmd())
	rootCmd.AddCommand(decryptCmd())
	rootCmd.AddCommand(batchesCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(signerCmd())
	rootCmd.AddCommand(chainCmd())
	rootCmd.AddCommand(versionCmd())
	return rootCmd
}

// versionCmd はバージョン情報を表示する。
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "salonctl version %s\n", version)
		},
	}
}

// callAPI はゲートウェイにリクエストを送り、期待したステータスでなければエラーを返す。
// 期待外のステータスでもボディは返す（部分的な復号結果の表示に使う）。
func callAPI(method, path string, in interface{}, want int) ([]byte, error) {
	var reader io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, apiURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != want {
		return body, handleErrorResponse(resp.StatusCode, body)
	}
	return body, nil
}

// APIError はゲートウェイが返したエラー。
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("server returned status %d", e.Status)
}

func handleErrorResponse(statusCode int, body []byte) error {
	var errResp struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	apiErr := &APIError{Status: statusCode}
	if err := json.NewDecoder(bytes.NewReader(body)).Decode(&errResp); err == nil {
		apiErr.Code, apiErr.Message = errResp.Code, errResp.Message
	}
	return apiErr
}

func contextWithTimeout(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, timeout)
}

// printJSON はjson出力モードの場合にボディをそのまま出力してtrueを返す。
func printJSON(cmd *cobra.Command, body []byte) bool {
	if output != "json" {
		return false
	}
	fmt.Fprintln(cmd.OutOrStdout(), strings.TrimSpace(string(body)))
	return true
}

func newSpinner(suffix string) *spinner.Spinner {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " " + suffix
	return s
}

func success(msg string) string {
	return color.GreenString("✓") + " " + msg
}

func failure(msg string) string {
	return color.RedString("✗") + " " + msg
}

func hint(msg string) string {
	return color.CyanString("→") + " " + msg
}
