package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# tradeshare configuration

[identity]
# Your user id. Can also be set with TRADESHARE_USER_ID, in the
# environment or in a .env file next to this one.
user_id = ""
user_name = ""

# People you can share positions with.
# [[identity.recipients]]
# id = "bob"
# name = "Bob"

[store]
# Backend: "sqlite" or "memory" (memory loses everything on exit)
backend = "sqlite"
# Database path. Empty uses tradeshare.db in this directory.
# Can also be set with TRADESHARE_DB_PATH.
path = ""

[sync]
# How often 'watch' checks for change events
poll_interval = "30s"
# Replicas synced at once by 'sync all'
parallelism = 4
# Attempts per replica when a write fails
retry_attempts = 3
# Processed events older than this are pruned
event_retention = "720h"
# Replicas not synced for this long are shown as stale
stale_after = "1h"

# Applied when a sync has no conflicts and no local edits.
# Strategies: local, remote, merge
[sync.default_policy]
tags = "merge"
comments = "merge"
details = "remote"

[logging]
# Level: debug, info, warn, error
level = "info"
console = true
file = true
# Rotated log file. Empty uses logs/tradeshare.log in this directory.
# file_path = ""
max_size = 100
max_backups = 7
max_age = 30

[ui]
# Enable colored output
color_enabled = true
# Time format for timestamps
time_format = "2006-01-02 15:04"
`

func createTemplateConfig(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "config.toml")
	if err := os.WriteFile(path, []byte(configTemplate), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}
	return nil
}
