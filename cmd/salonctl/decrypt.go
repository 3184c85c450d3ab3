package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

type decryptResponse struct {
	BatchID        string `json:"batch_id"`
	Category       string `json:"category"`
	Status         string `json:"status"`
	SucceededCount int    `json:"succeeded_count"`
	Message        string `json:"message"`
	Results        []struct {
		WorkID   uint64 `json:"work_id"`
		Category string `json:"category"`
		Value    uint64 `json:"value"`
	} `json:"results"`
}

func decryptCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decrypt",
		Short: "Decrypt confidential counts",
	}
	cmd.AddCommand(decryptCategoryCmd(), decryptApplauseCmd())
	return cmd
}

func decryptCategoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "category <name>",
		Short: "Decrypt the endorsement counts of every work in a category",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sp := newSpinner("Decrypting " + args[0] + "...")
			sp.Start()
			body, err := callAPI(http.MethodPost, "/v1/categories/"+url.PathEscape(args[0])+"/decrypt", nil, http.StatusOK)
			sp.Stop()

			// 502は途中までの結果を含む
			var apiErr *APIError
			if err != nil && !(errors.As(err, &apiErr) && apiErr.Status == http.StatusBadGateway && len(body) > 0) {
				return decryptFailure(cmd, err)
			}
			if printJSON(cmd, body) {
				return err
			}

			var resp decryptResponse
			if jsonErr := json.Unmarshal(body, &resp); jsonErr != nil {
				return fmt.Errorf("parsing response: %w", jsonErr)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "WORK\tCATEGORY\tCOUNT")
			for _, r := range resp.Results {
				fmt.Fprintf(w, "%d\t%s\t%d\n", r.WorkID, r.Category, r.Value)
			}
			if flushErr := w.Flush(); flushErr != nil {
				return flushErr
			}
			if err != nil {
				fmt.Fprintln(cmd.OutOrStdout(), failure(resp.Message))
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), success(resp.Message))
			return nil
		},
	}
}

func decryptApplauseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "applause <work-id>",
		Short: "Decrypt the applause count of a work",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseWorkArg(args[0])
			if err != nil {
				return err
			}
			sp := newSpinner("Decrypting applause...")
			sp.Start()
			body, err := callAPI(http.MethodPost, fmt.Sprintf("/v1/works/%d/applause/decrypt", id), nil, http.StatusOK)
			sp.Stop()
			if err != nil {
				return decryptFailure(cmd, err)
			}
			if printJSON(cmd, body) {
				return nil
			}
			var resp struct {
				WorkID   uint64 `json:"work_id"`
				Applause uint64 `json:"applause"`
			}
			if err := json.Unmarshal(body, &resp); err != nil {
				return fmt.Errorf("parsing response: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), success(fmt.Sprintf("Work %d has %s applause", resp.WorkID, color.YellowString("%d", resp.Applause))))
			return nil
		},
	}
}

// decryptFailure は前提条件エラーに対処方法を添えて表示する。
func decryptFailure(cmd *cobra.Command, err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case "SESSION_NOT_READY":
			fmt.Fprintln(cmd.ErrOrStderr(), failure(apiErr.Message))
			fmt.Fprintln(cmd.ErrOrStderr(), hint("Run "+color.YellowString("salonctl session wait")+" and try again"))
		case "CONTRACT_NOT_DEPLOYED":
			fmt.Fprintln(cmd.ErrOrStderr(), failure(apiErr.Message))
			fmt.Fprintln(cmd.ErrOrStderr(), hint("Deploy the contract and set DEPLOYMENTS_FILE on the gateway"))
		}
	}
	return err
}

func batchesCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "batches",
		Short: "List recent decrypt batches",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := callAPI(http.MethodGet, fmt.Sprintf("/v1/batches?limit=%d", limit), nil, http.StatusOK)
			if err != nil {
				return err
			}
			if printJSON(cmd, body) {
				return nil
			}
			var result struct {
				Batches []struct {
					ID             string `json:"id"`
					Category       string `json:"category"`
					Requested      int    `json:"requested"`
					SucceededCount int    `json:"succeeded_count"`
					Status         string `json:"status"`
					CreatedAt      string `json:"created_at"`
				} `json:"batches"`
			}
			if err := json.Unmarshal(body, &result); err != nil {
				return fmt.Errorf("parsing response: %w", err)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "ID\tCATEGORY\tSTATUS\tSUCCEEDED\tREQUESTED\tCREATED AT")
			for _, b := range result.Batches {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n", b.ID, b.Category, b.Status, b.SucceededCount, b.Requested, b.CreatedAt)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Number of batches to show")
	return cmd
}
