package main

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/PratikDhanave/shotlog/internal/auth"
	"github.com/PratikDhanave/shotlog/internal/models"
)

var (
	sendID     string
	sendDevice string
	sendBoot   float64
	sendIndex  float64
	sendEpoch  int64
)

var sendCmd = &cobra.Command{
	Use:   "send <shot_ms>",
	Short: "Record a shot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if apiKey == "" {
			return fmt.Errorf("--api-key or API_KEY is required")
		}

		payload := map[string]any{"shot_ms": args[0]}
		if sendID != "" {
			payload["id"] = sendID
		}
		if sendDevice != "" {
			payload["device_id"] = sendDevice
		}
		if cmd.Flags().Changed("boot") {
			payload["boot_id"] = sendBoot
		}
		if cmd.Flags().Changed("index") {
			payload["shot_index"] = sendIndex
		}
		if sendEpoch > 0 {
			payload["epoch"] = sendEpoch
		}
		body, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshaling JSON: %w", err)
		}

		req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, strings.TrimRight(baseURL, "/")+"/api/ingest", bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(auth.HeaderAPIKey, apiKey)

		resp, err := (&http.Client{Timeout: 10 * time.Second}).Do(req)
		if err != nil {
			return fmt.Errorf("sending shot: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusNoContent {
			var e models.ErrorResponse
			raw, _ := io.ReadAll(resp.Body)
			if json.Unmarshal(raw, &e) == nil && e.Error != "" {
				return fmt.Errorf("server rejected shot: %s (%d)", e.Error, resp.StatusCode)
			}
			return fmt.Errorf("server rejected shot: status %d", resp.StatusCode)
		}
		if jsonOutput {
			fmt.Fprintln(cmd.OutOrStdout(), `{"ok":true}`)
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), "recorded")
		}
		return nil
	},
}

func init() {
	sendCmd.Flags().StringVar(&sendID, "id", "", "explicit shot id")
	sendCmd.Flags().StringVar(&sendDevice, "device", "", "device id")
	sendCmd.Flags().Float64Var(&sendBoot, "boot", 0, "device boot id")
	sendCmd.Flags().Float64Var(&sendIndex, "index", 0, "shot index within the session")
	sendCmd.Flags().Int64Var(&sendEpoch, "epoch", 0, "shot time in unix seconds")
}
