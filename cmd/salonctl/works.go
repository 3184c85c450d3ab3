package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

type workResponse struct {
	ID          uint64   `json:"id"`
	Contributor string   `json:"contributor"`
	Title       string   `json:"title"`
	Genres      []string `json:"genres"`
	Timestamp   string   `json:"timestamp"`
}

type txResponse struct {
	WorkID      uint64 `json:"work_id"`
	TxHash      string `json:"tx_hash"`
	BlockNumber uint64 `json:"block_number"`
}

func parseWorkArg(arg string) (uint64, error) {
	id, err := strconv.ParseUint(arg, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid work ID %q", arg)
	}
	return id, nil
}

func worksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "works",
		Short: "List and write works on the ledger",
	}
	cmd.AddCommand(worksListCmd(), worksSubmitCmd(), worksApplaudCmd(), worksEndorseCmd())
	return cmd
}

func worksListCmd() *cobra.Command {
	var (
		mine        bool
		contributor string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List works",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/v1/works"
			switch {
			case mine:
				path += "?contributor=me"
			case contributor != "":
				path += "?contributor=" + url.QueryEscape(contributor)
			}

			body, err := callAPI(http.MethodGet, path, nil, http.StatusOK)
			if err != nil {
				return err
			}
			if printJSON(cmd, body) {
				return nil
			}

			var result struct {
				Works []workResponse `json:"works"`
			}
			if err := json.Unmarshal(body, &result); err != nil {
				return fmt.Errorf("parsing response: %w", err)
			}
			if len(result.Works) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), color.YellowString("!")+" No works found")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "ID\tTITLE\tGENRES\tCONTRIBUTOR\tSUBMITTED AT")
			for _, work := range result.Works {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", work.ID, work.Title, strings.Join(work.Genres, ","), work.Contributor, work.Timestamp)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&mine, "mine", false, "Only works submitted by the gateway account")
	cmd.Flags().StringVar(&contributor, "contributor", "", "Only works submitted by this address")
	return cmd
}

func printTx(cmd *cobra.Command, body []byte, verb string) error {
	if printJSON(cmd, body) {
		return nil
	}
	var tx txResponse
	if err := json.Unmarshal(body, &tx); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), success(fmt.Sprintf("%s work %d", verb, tx.WorkID)))
	fmt.Fprintln(cmd.OutOrStdout(), hint("Transaction: "+tx.TxHash))
	return nil
}

func worksSubmitCmd() *cobra.Command {
	var req struct {
		Title        string   `json:"title"`
		SynopsisHash string   `json:"synopsis_hash"`
		ContentHash  string   `json:"content_hash"`
		Tags         []string `json:"tags"`
		Genres       []string `json:"genres"`
	}
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a new work",
		RunE: func(cmd *cobra.Command, args []string) error {
			sp := newSpinner("Waiting for the transaction to be mined...")
			sp.Start()
			body, err := callAPI(http.MethodPost, "/v1/works", req, http.StatusCreated)
			sp.Stop()
			if err != nil {
				return err
			}
			return printTx(cmd, body, "Submitted")
		},
	}
	cmd.Flags().StringVar(&req.Title, "title", "", "Title (required)")
	cmd.Flags().StringVar(&req.SynopsisHash, "synopsis-hash", "", "Content hash of the synopsis")
	cmd.Flags().StringVar(&req.ContentHash, "content-hash", "", "Content hash of the work (required)")
	cmd.Flags().StringSliceVar(&req.Tags, "tag", nil, "Tag (repeatable)")
	cmd.Flags().StringSliceVar(&req.Genres, "genre", nil, "Genre (repeatable)")
	cmd.MarkFlagRequired("title")
	cmd.MarkFlagRequired("content-hash")
	return cmd
}

func worksApplaudCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "applaud <work-id>",
		Short: "Applaud a work",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseWorkArg(args[0])
			if err != nil {
				return err
			}
			sp := newSpinner("Waiting for the transaction to be mined...")
			sp.Start()
			body, err := callAPI(http.MethodPost, fmt.Sprintf("/v1/works/%d/applause", id), nil, http.StatusAccepted)
			sp.Stop()
			if err != nil {
				return err
			}
			return printTx(cmd, body, "Applauded")
		},
	}
}

func worksEndorseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "endorse <work-id> <category>",
		Short: "Endorse a work in a category",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseWorkArg(args[0])
			if err != nil {
				return err
			}
			sp := newSpinner("Waiting for the transaction to be mined...")
			sp.Start()
			body, err := callAPI(http.MethodPost, fmt.Sprintf("/v1/works/%d/endorsements", id),
				map[string]string{"category": args[1]}, http.StatusAccepted)
			sp.Stop()
			if err != nil {
				return err
			}
			return printTx(cmd, body, "Endorsed")
		},
	}
}
