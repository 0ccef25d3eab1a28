package migration

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(schema, "migrations")
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		default:
			t.Fatalf("unexpected file %s", name)
		}
	}
	require.Equal(t, ups, downs)
}

func TestUpCreatesEveryStoreTable(t *testing.T) {
	raw, err := fs.ReadFile(schema, "migrations/000001_init.up.sql")
	require.NoError(t, err)
	ddl := strings.ToLower(string(raw))

	for _, table := range []string{
		"accounts", "plans", "referral_profile_templates", "referral_assignments",
		"referral_commissions", "referral_payouts", "referral_payment_reversals",
		"audit_logs", "webhook_events",
	} {
		require.Contains(t, ddl, "create table if not exists "+table+" (", table)
	}
}

func TestUpRequiresHandle(t *testing.T) {
	_, err := Up(nil)
	require.ErrorIs(t, err, ErrNoDatabase)
}
