package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	var bridgeURL string

	cmd := &cobra.Command{
		Use:   "model-updater",
		Short: "Ask the bridge to refresh its model inventory from the browser",
		Long: `model-updater asks the bridge to pull the current page source from the
connected browser tab. The bridge extracts the model inventory from it and
writes the result to available_models.json.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(bridgeURL)
		},
	}

	cmd.Flags().StringVar(&bridgeURL, "bridge", "http://127.0.0.1:5102", "bridge base URL")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(bridgeURL string) error {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(strings.TrimRight(bridgeURL, "/")+"/internal/request_model_update", "application/json", nil)
	if err != nil {
		return fmt.Errorf("cannot reach the bridge at %s, is it running? (%w)", bridgeURL, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var reply struct {
		Status  string `json:"status"`
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &reply); err != nil {
		return fmt.Errorf("bridge returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if resp.StatusCode != http.StatusOK || reply.Status != "success" {
		msg := reply.Message
		if msg == "" {
			msg = reply.Error
		}
		return fmt.Errorf("bridge refused the update: %s", msg)
	}

	fmt.Println("✅ Model inventory update requested.")
	fmt.Println("Keep the arena tab open; the userscript sends the page source back.")
	fmt.Println("The bridge writes the extracted list to available_models.json.")
	return nil
}
