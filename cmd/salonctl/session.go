package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

type sessionResponse struct {
	Status     string `json:"status"`
	Phase      string `json:"phase"`
	Error      string `json:"error"`
	ChainID    uint64 `json:"chain_id"`
	Generation uint64 `json:"generation"`
	Enabled    bool   `json:"enabled"`
}

func fetchSession() (*sessionResponse, []byte, error) {
	body, err := callAPI(http.MethodGet, "/v1/session", nil, http.StatusOK)
	if err != nil {
		return nil, nil, err
	}
	var s sessionResponse
	if err := json.Unmarshal(body, &s); err != nil {
		return nil, nil, fmt.Errorf("parsing response: %w", err)
	}
	return &s, body, nil
}

func formatSession(s *sessionResponse) string {
	var status string
	switch s.Status {
	case "ready":
		status = color.GreenString(s.Status)
	case "error":
		status = color.RedString(s.Status)
	case "loading":
		status = color.YellowString(s.Status)
	default:
		status = s.Status
	}
	line := fmt.Sprintf("session %s (chain %d, generation %d)", status, s.ChainID, s.Generation)
	if s.Phase != "" && s.Status == "loading" {
		line += " phase " + s.Phase
	}
	if s.Error != "" {
		line += "\n" + hint(s.Error)
	}
	return line
}

func sessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect the FHEVM session",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the session status",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, body, err := fetchSession()
			if err != nil {
				return err
			}
			if printJSON(cmd, body) {
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), formatSession(s))
			return nil
		},
	})

	var waitFor time.Duration
	wait := &cobra.Command{
		Use:   "wait",
		Short: "Wait until the session leaves the loading state",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), waitFor)
			defer cancel()

			sp := newSpinner("Waiting for FHEVM session...")
			sp.Start()
			s, err := waitSession(ctx, time.Second)
			if err != nil {
				sp.FinalMSG = failure(err.Error()) + "\n"
				sp.Stop()
				return err
			}
			if s.Status == "ready" {
				sp.FinalMSG = success(formatSession(s)) + "\n"
			} else {
				sp.FinalMSG = failure(formatSession(s)) + "\n"
			}
			sp.Stop()
			if s.Status != "ready" {
				return fmt.Errorf("session is %s", s.Status)
			}
			return nil
		},
	}
	wait.Flags().DurationVar(&waitFor, "for", 2*time.Minute, "Maximum time to wait")
	cmd.AddCommand(wait)

	cmd.AddCommand(&cobra.Command{
		Use:   "refresh",
		Short: "Discard the session and create it again",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := callAPI(http.MethodPost, "/v1/session/refresh", nil, http.StatusAccepted); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), success("Session refresh requested"))
			fmt.Fprintln(cmd.OutOrStdout(), hint("Run "+color.YellowString("salonctl session wait")+" to follow it"))
			return nil
		},
	})
	return cmd
}

// waitSession はセッションがloading以外になるまでポーリングする。
func waitSession(ctx context.Context, interval time.Duration) (*sessionResponse, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		s, _, err := fetchSession()
		if err != nil {
			return nil, err
		}
		// 有効化済みのidleはリフレッシュ直後なので待ち続ける
		if s.Status == "ready" || s.Status == "error" || (s.Status == "idle" && !s.Enabled) {
			return s, nil
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return s, fmt.Errorf("session still %s after waiting", s.Status)
			}
			return s, ctx.Err()
		case <-ticker.C:
		}
	}
}
