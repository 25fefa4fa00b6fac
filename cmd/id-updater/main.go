package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"
	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/arenalabs/arena-bridge/internal/config"
)

// capturePayload is what the userscript posts after the operator clicks
// Retry on the arena page.
type capturePayload struct {
	SessionID string `json:"sessionId"`
	MessageID string `json:"messageId"`
}

func main() {
	var (
		configPath      string
		endpointMapPath string
		bridgeURL       string
		listenAddr      string
		model           string
	)

	cmd := &cobra.Command{
		Use:   "id-updater",
		Short: "Capture a fresh session id pair from the browser",
		Long: `id-updater flips the bridge into id-capture mode and runs a one-shot
listener for the userscript to post the captured session pair to. The pair is
written into the settings file; with --model it is also recorded as an
endpoint map entry for that model.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, endpointMapPath, bridgeURL, listenAddr, model)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "config.jsonc", "settings file to update")
	cmd.Flags().StringVar(&endpointMapPath, "endpoint-map", "model_endpoint_map.json", "per-model endpoint map file")
	cmd.Flags().StringVar(&bridgeURL, "bridge", "http://127.0.0.1:5102", "bridge base URL")
	cmd.Flags().StringVar(&listenAddr, "listen", "127.0.0.1:5103", "capture listener address")
	cmd.Flags().StringVarP(&model, "model", "m", "", "also record the captured pair for this model in the endpoint map")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, endpointMapPath, bridgeURL, listenAddr, model string) error {
	settings, err := config.LoadSettings(configPath)
	if err != nil {
		return err
	}

	in := bufio.NewScanner(os.Stdin)

	mode := promptMode(in, settings.IDUpdaterLastMode)
	if err := config.SaveSettingsValue(configPath, "id_updater_last_mode", mode); err != nil {
		return err
	}
	fmt.Printf("Mode: %s\n", strings.ToUpper(mode))

	target := settings.IDUpdaterBattleTarget
	if mode == "battle" {
		target = promptBattleTarget(in, target)
		if err := config.SaveSettingsValue(configPath, "id_updater_battle_target", target); err != nil {
			return err
		}
		fmt.Printf("Battle target: assistant %s\n", target)
		fmt.Println("Whichever side you pick, the captured pair lands in the main session_id and message_id.")
	}

	if err := notifyBridge(bridgeURL); err != nil {
		return fmt.Errorf("cannot start capture: %w", err)
	}

	return serveCapture(listenAddr, configPath, endpointMapPath, model, mode, target)
}

func promptMode(in *bufio.Scanner, last string) string {
	fmt.Printf("Select mode [a: DirectChat, b: Battle] (default: %s): ", last)
	switch strings.ToLower(readLine(in)) {
	case "":
		return last
	case "a":
		return "direct_chat"
	case "b":
		return "battle"
	default:
		fmt.Printf("Unrecognized choice, keeping %s.\n", last)
		return last
	}
}

func promptBattleTarget(in *bufio.Scanner, last string) string {
	fmt.Printf("Select the assistant to capture [A or B] (default: %s): ", last)
	switch strings.ToUpper(readLine(in)) {
	case "":
		return last
	case "A":
		return "A"
	case "B":
		return "B"
	default:
		fmt.Printf("Unrecognized choice, keeping %s.\n", last)
		return last
	}
}

func readLine(in *bufio.Scanner) string {
	if !in.Scan() {
		return ""
	}
	return strings.TrimSpace(in.Text())
}

// notifyBridge tells the bridge to arm id-capture mode so the userscript
// starts watching for the next retry.
func notifyBridge(bridgeURL string) error {
	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Post(strings.TrimRight(bridgeURL, "/")+"/internal/start_id_capture", "application/json", nil)
	if err != nil {
		return fmt.Errorf("notify bridge: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("bridge returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	fmt.Println("✅ Bridge switched to id-capture mode.")
	return nil
}

// serveCapture runs the one-shot listener and shuts down after the first
// successfully saved capture.
func serveCapture(listenAddr, configPath, endpointMapPath, model, mode, target string) error {
	done := make(chan struct{})
	var once sync.Once

	router := chi.NewRouter()
	router.Post("/update", func(w http.ResponseWriter, req *http.Request) {
		var payload capturePayload
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil ||
			payload.SessionID == "" || payload.MessageID == "" {
			writeJSON(w, http.StatusBadRequest, `{"error": "Missing sessionId or messageId"}`)
			return
		}

		fmt.Println("\n🎉 Captured a session pair from the browser!")
		fmt.Printf("  - Session ID: %s\n", payload.SessionID)
		fmt.Printf("  - Message ID: %s\n", payload.MessageID)

		if err := saveCapture(configPath, endpointMapPath, model, mode, target, payload); err != nil {
			fmt.Printf("❌ Failed to save the captured pair: %v\n", err)
			writeJSON(w, http.StatusInternalServerError, `{"error": "failed to save ids"}`)
			return
		}

		writeJSON(w, http.StatusOK, `{"status": "success"}`)
		fmt.Println("\nDone, shutting the listener down.")
		once.Do(func() { close(done) })
	})

	handler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(router)

	srv := &http.Server{Addr: listenAddr, Handler: handler}
	go func() {
		<-done
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(ctx) //nolint:errcheck
	}()

	fmt.Println(strings.Repeat("=", 50))
	fmt.Println("  🚀 Session id listener running")
	fmt.Printf("  - Address: http://%s\n", listenAddr)
	fmt.Println("  - Click Retry on the arena page to capture a pair.")
	fmt.Println("  - The listener exits after one capture.")
	fmt.Println(strings.Repeat("=", 50))

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func saveCapture(configPath, endpointMapPath, model, mode, target string, payload capturePayload) error {
	if err := config.SaveSettingsValue(configPath, "session_id", payload.SessionID); err != nil {
		return err
	}
	if err := config.SaveSettingsValue(configPath, "message_id", payload.MessageID); err != nil {
		return err
	}
	fmt.Printf("✅ Updated %s.\n", configPath)

	if model == "" {
		return nil
	}

	entry := config.EndpointEntry{
		SessionID: payload.SessionID,
		MessageID: payload.MessageID,
		Mode:      mode,
	}
	if mode == "battle" {
		entry.BattleTarget = target
	}
	if err := recordEndpoint(endpointMapPath, model, entry); err != nil {
		return err
	}
	fmt.Printf("✅ Recorded the pair for %q in %s.\n", model, endpointMapPath)
	return nil
}

// recordEndpoint adds the captured entry to the endpoint map without
// disturbing the rest of the file. A single-object value becomes a
// two-element list, a list gets an append, a missing key gets the object.
func recordEndpoint(path, model string, entry config.EndpointEntry) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("read endpoint map: %w", err)
		}
		data = []byte("{}\n")
	}

	encoded, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode endpoint entry: %w", err)
	}

	key := escapePath(model)
	existing := gjson.GetBytes(data, key)
	switch {
	case !existing.Exists():
		data, err = sjson.SetRawBytes(data, key, encoded)
	case existing.IsArray():
		data, err = sjson.SetRawBytes(data, key+".-1", encoded)
	default:
		merged := "[" + existing.Raw + "," + string(encoded) + "]"
		data, err = sjson.SetRawBytes(data, key, []byte(merged))
	}
	if err != nil {
		return fmt.Errorf("update endpoint map: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write endpoint map: %w", err)
	}
	return nil
}

// escapePath escapes a model name for use as a single gjson/sjson path key.
func escapePath(key string) string {
	r := strings.NewReplacer(`\`, `\\`, `.`, `\.`, `:`, `\:`, `*`, `\*`, `?`, `\?`, `|`, `\|`)
	return r.Replace(key)
}

func writeJSON(w http.ResponseWriter, code int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	io.WriteString(w, body) //nolint:errcheck
}
