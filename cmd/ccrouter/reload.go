package main

import (
	"fmt"
	"io"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/ccrouter/ccrouter/internal/config"
)

var reloadAddr string

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Tell a running ccrouter server to reload its config from disk",
	Long: `reload loads --config to validate the address settings, then sends
POST /api/reload to the running server's admin API. The server re-reads its
own config file at that point, not the path passed here — use --addr if the
admin API isn't listening on the address configured in --config.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr := reloadAddr
		if addr == "" {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			host := cfg.Server.Host
			if host == "0.0.0.0" || host == "" {
				host = "127.0.0.1"
			}
			addr = fmt.Sprintf("%s:%d", host, cfg.Server.Port)
		}

		resp, err := http.Post(fmt.Sprintf("http://%s/api/reload", addr), "application/json", nil)
		if err != nil {
			return fmt.Errorf("calling /api/reload: %w", err)
		}
		defer resp.Body.Close()

		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("reload failed (%s): %s", resp.Status, string(body))
		}
		fmt.Println("reload ok")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(reloadCmd)
	reloadCmd.Flags().StringVar(&reloadAddr, "addr", "", "host:port of the running server's admin API (default: derived from --config)")
}
