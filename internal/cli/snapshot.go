package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"Pairline/internal/models"
)

func newSnapshotCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot",
		Short: "Print the live state of a session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, err := loadIdentity(v)
			if err != nil {
				return err
			}

			ev, err := fetchSnapshot(cmd, id)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(ev)
		},
	}
}

func fetchSnapshot(cmd *cobra.Command, id identity) (models.CollaborationEvent, error) {
	q := url.Values{}
	q.Set("userId", id.userID)
	q.Set("token", id.token)
	endpoint := fmt.Sprintf("%s/sessions/%s/snapshot?%s", id.server, url.PathEscape(id.sessionID), q.Encode())

	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, endpoint, nil)
	if err != nil {
		return models.CollaborationEvent{}, fmt.Errorf("build request: %w", err)
	}

	httpClient := &http.Client{Timeout: 10 * time.Second}
	resp, err := httpClient.Do(req)
	if err != nil {
		return models.CollaborationEvent{}, fmt.Errorf("fetch snapshot: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return models.CollaborationEvent{}, fmt.Errorf("fetch snapshot: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var ev models.CollaborationEvent
	if err := json.NewDecoder(resp.Body).Decode(&ev); err != nil {
		return models.CollaborationEvent{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return ev, nil
}
