package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"salon-gateway/config"
	"salon-gateway/internal/chain"
	"salon-gateway/internal/infra"
)

func signerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "signer",
		Short: "Manage the gateway signing key",
	}
	cmd.AddCommand(signerWrapCmd(), signerAddressCmd())
	return cmd
}

// readKey はフラグ、なければ標準入力の1行目から鍵を読む。
func readKey(cmd *cobra.Command, flagValue string) (string, error) {
	if flagValue != "" {
		return strings.TrimSpace(flagValue), nil
	}
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	key := strings.TrimSpace(line)
	if key == "" {
		if err != nil {
			return "", fmt.Errorf("reading key from stdin: %w", err)
		}
		return "", fmt.Errorf("no key given")
	}
	return key, nil
}

func signerWrapCmd() *cobra.Command {
	var key string
	cmd := &cobra.Command{
		Use:   "wrap",
		Short: "Encrypt a signing key with Cloud KMS for SIGNER_KEY_CIPHERTEXT",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if cfg.KMSKeyName == "" {
				return fmt.Errorf("KMS_KEY_NAME environment variable is required")
			}
			hexKey, err := readKey(cmd, key)
			if err != nil {
				return err
			}
			// 暗号化前に鍵として読めるか確認する
			signer, err := chain.NewLocalSigner(hexKey)
			if err != nil {
				return err
			}

			client, err := infra.NewKMSClient(cmd.Context(), cfg.KMSKeyName)
			if err != nil {
				return err
			}
			defer client.Close()

			wrapped, err := infra.WrapSecret(cmd.Context(), client, hexKey)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.ErrOrStderr(), success("Wrapped key for "+signer.Address().Hex()))
			fmt.Fprintln(cmd.OutOrStdout(), wrapped)
			return nil
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "Hex private key (read from stdin when omitted)")
	return cmd
}

func signerAddressCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "address",
		Short: "Print the address of SIGNER_KEY",
		RunE: func(cmd *cobra.Command, args []string) error {
			key := os.Getenv("SIGNER_KEY")
			if key == "" {
				return fmt.Errorf("SIGNER_KEY environment variable is required")
			}
			signer, err := chain.NewLocalSigner(key)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), signer.Address().Hex())
			return nil
		},
	}
}
