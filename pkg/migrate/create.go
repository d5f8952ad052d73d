package migrate

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"text/template"

	"github.com/pressly/goose/v3"
)

var nameSanitizeRe = regexp.MustCompile(`[^a-z0-9]+`)

// Stock and payment tables are hot; a migration that waits on their locks
// would stall checkout, so new files start with a short lock timeout.
var sqlTemplate = template.Must(template.New("goose.sql").Parse(`-- +goose Up
-- +goose StatementBegin
SET lock_timeout = '5s';
-- +goose StatementEnd

-- +goose Down
-- +goose StatementBegin
SET lock_timeout = '5s';
-- +goose StatementEnd
`))

// CreateSQLMigration writes <dir>/<YYYYMMDDHHMMSS>_<name>.sql through goose
// and returns its path. Names are reduced to snake case and must be unique
// within dir.
func CreateSQLMigration(dir string, name string) (string, error) {
	if dir == "" {
		return "", fmt.Errorf("dir is required")
	}
	safe := sanitizeName(name)
	if safe == "" {
		return "", fmt.Errorf("migration name %q has no usable characters", name)
	}

	pattern := filepath.Join(dir, "*_"+safe+".sql")
	if existing, _ := filepath.Glob(pattern); len(existing) > 0 {
		return "", fmt.Errorf("migration %q already exists: %s", safe, existing[0])
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir %q: %w", dir, err)
	}

	goose.SetSequential(false)
	if err := goose.CreateWithTemplate(nil, dir, sqlTemplate, safe, "sql"); err != nil {
		return "", fmt.Errorf("create migration %q: %w", safe, err)
	}
	created, err := filepath.Glob(pattern)
	if err != nil || len(created) != 1 {
		return "", fmt.Errorf("locate created migration %q in %s", safe, dir)
	}
	return created[0], nil
}

func sanitizeName(name string) string {
	safe := nameSanitizeRe.ReplaceAllString(strings.ToLower(name), "_")
	return strings.Trim(safe, "_")
}
