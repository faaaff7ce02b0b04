package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/tubeq/tubeq/internal/config"
	"github.com/tubeq/tubeq/internal/utils"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Print the auth token used by the tubeq daemon",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(ensureAuthToken())
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)
}

func tokenPath() string {
	return filepath.Join(config.GetRuntimeDir(), "token")
}

// ensureAuthToken returns the persisted daemon token, creating it on first use.
func ensureAuthToken() string {
	path := tokenPath()
	if data, err := os.ReadFile(path); err == nil {
		if token := strings.TrimSpace(string(data)); token != "" {
			return token
		}
	}

	token := uuid.New().String()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		utils.Debug("Failed to create token dir: %v", err)
		return token
	}
	if err := os.WriteFile(path, []byte(token), 0o600); err != nil {
		utils.Debug("Failed to persist token: %v", err)
	}
	return token
}
