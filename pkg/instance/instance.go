package instance

import (
	"os"

	"github.com/angelmondragon/oakline-backend/pkg/env"
)

// ID identifies this process in logs and the cron lock. WORKER_ID wins over
// the platform's DYNO name.
func ID() string {
	if id := env.First("", "WORKER_ID", "DYNO"); id != "" {
		return id
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "local"
	}
	return host
}
