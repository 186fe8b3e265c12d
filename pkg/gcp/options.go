// Package gcp holds helpers shared by the Google Cloud clients.
package gcp

import (
	"strings"

	"github.com/angelmondragon/shopdeck-backend/pkg/config"
	"google.golang.org/api/option"
)

// ClientOptions picks inline JSON credentials over a credentials file and
// falls back to application default credentials when neither is set.
func ClientOptions(cfg config.GCPConfig) []option.ClientOption {
	switch {
	case strings.TrimSpace(cfg.CredentialsJSON) != "":
		return []option.ClientOption{option.WithCredentialsJSON([]byte(cfg.CredentialsJSON))}
	case strings.TrimSpace(cfg.ApplicationCredentials) != "":
		return []option.ClientOption{option.WithCredentialsFile(cfg.ApplicationCredentials)}
	}
	return nil
}
