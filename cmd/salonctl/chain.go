package main

import (
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"salon-gateway/config"
	"salon-gateway/internal/chain"
	"salon-gateway/internal/domain"
	"salon-gateway/internal/infra"
)

func chainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chain",
		Short: "Inspect the chain the gateway is configured for",
	}
	cmd.AddCommand(chainCheckCmd())
	return cmd
}

// chainCheckCmd はゲートウェイを介さずRPCとデプロイ情報を確認する。
func chainCheckCmd() *cobra.Command {
	var rpcURL, deployments string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check the RPC endpoint and the contract deployment for its chain",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if rpcURL == "" {
				rpcURL = cfg.RPCURL
			}
			if deployments == "" {
				deployments = cfg.DeploymentsFile
			}

			registry, err := infra.LoadRegistry(deployments)
			if err != nil {
				return err
			}

			ctx, cancel := contextWithTimeout(cmd)
			defer cancel()
			chainID, err := chain.Endpoint(rpcURL).ChainID(ctx)
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), failure("RPC endpoint unreachable: "+rpcURL))
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), success(fmt.Sprintf("Chain %d at %s", chainID, rpcURL)))

			d, err := registry.Lookup(chainID)
			if errors.Is(err, domain.ErrContractNotDeployed) {
				fmt.Fprintln(cmd.OutOrStdout(), failure(fmt.Sprintf("No contract deployment for chain %d", chainID)))
				fmt.Fprintln(cmd.OutOrStdout(), hint("Set DEPLOYMENTS_FILE or pass --deployments"))
				return err
			}
			if err != nil {
				return err
			}
			name := d.ChainName
			if name == "" {
				name = "unnamed"
			}
			fmt.Fprintln(cmd.OutOrStdout(), success(fmt.Sprintf("Contract %s (%s)", color.YellowString(d.Address.Hex()), name)))
			return nil
		},
	}
	cmd.Flags().StringVar(&rpcURL, "rpc-url", "", "RPC endpoint (defaults to RPC_URL)")
	cmd.Flags().StringVar(&deployments, "deployments", "", "Deployments file (defaults to DEPLOYMENTS_FILE)")
	return cmd
}
