package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// Flags shared by the commands that talk to a running server's admin API.
var (
	apiAddr  string
	apiToken string
)

func registerAdminFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&apiAddr, "addr", "http://localhost:8389", "admin API base URL")
	cmd.Flags().StringVar(&apiToken, "token", "", "admin API bearer token")
}

func adminRequest(method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequest(method, apiAddr+path, body)
	if err != nil {
		return nil, err
	}
	if apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+apiToken)
	}
	if body != nil {
		req.Header.Set("Content-Type", "text/plain")
	}
	client := &http.Client{Timeout: 30 * time.Second}
	return client.Do(req)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check a running server's health",
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := adminRequest(http.MethodGet, "/healthz", nil)
		if err != nil {
			return fmt.Errorf("server unreachable: %w", err)
		}
		defer resp.Body.Close()
		payload, _ := io.ReadAll(resp.Body)
		cmd.Printf("%s\n", payload)
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("server unhealthy: %s", resp.Status)
		}
		return nil
	},
}

var ldifCmd = &cobra.Command{
	Use:   "ldif <file>",
	Short: "Apply an LDIF file through a running server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		resp, err := adminRequest(http.MethodPost, "/v1/ldif", bytes.NewReader(doc))
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		payload, _ := io.ReadAll(resp.Body)
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("ldif apply failed (%s): %s", resp.Status, payload)
		}
		cmd.Printf("%s\n", payload)
		return nil
	},
}

var revertCmd = &cobra.Command{
	Use:   "revert <revision>",
	Short: "Revert the directory to an earlier change-log revision",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var revision uint64
		if _, err := fmt.Sscanf(args[0], "%d", &revision); err != nil {
			return fmt.Errorf("revision must be an integer: %w", err)
		}
		body, _ := json.Marshal(map[string]uint64{"revision": revision})
		resp, err := adminRequest(http.MethodPost, "/v1/revert", bytes.NewReader(body))
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		payload, _ := io.ReadAll(resp.Body)
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("revert failed (%s): %s", resp.Status, payload)
		}
		cmd.Printf("%s\n", payload)
		return nil
	},
}

func init() {
	registerAdminFlags(statusCmd)
	registerAdminFlags(ldifCmd)
	registerAdminFlags(revertCmd)
}
