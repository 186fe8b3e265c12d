// Package instance names the running process for logs and lock ownership.
package instance

import (
	"os"

	"github.com/google/uuid"
)

// GetID returns SHOPDECK_INSTANCE_ID, else the hostname suffixed with a random
// token so two processes on one host never share an id.
func GetID() string {
	if id := os.Getenv("SHOPDECK_INSTANCE_ID"); id != "" {
		return id
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return host + "-" + uuid.NewString()[:8]
}
