package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/danmuck/beaconctl/internal/catalog"
)

// Template returns a starter file for kind: server, agent or catalog.
func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "server", "beacond":
		return serverTemplate, nil
	case "agent", "beacon-agent":
		return agentTemplate, nil
	case "catalog":
		b, err := EncodeCatalog(catalog.DefaultTargets())
		if err != nil {
			return "", err
		}
		return string(b), nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const serverTemplate = `name = "beacond"
plugin = "beacon"
data_addr = "127.0.0.1:9999"
control_socket = "/tmp/beacond.sock"
metrics_addr = "127.0.0.1:9998"
# catalog = "catalog.toml"
dequeue_policy = "both"
contention_timeout = "5s"
rate_limit = 50.0
rate_burst = 100
`

const agentTemplate = `target = "JFK"
server_addr = "127.0.0.1:9999"
server_name = "beacond"
plugin = "beacon"
interval = "5s"
exchange_timeout = "2s"
max_attempts = 3
max_chain = 64
journal_dir = "local/agent"
`
