package cli

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/KafClaw/wagate/internal/audit"
	"github.com/KafClaw/wagate/internal/config"
	"github.com/KafClaw/wagate/internal/credstore"
)

func TestVersionCommand(t *testing.T) {
	out, err := runRootCommand(t, "version")
	require.NoError(t, err)
	require.Contains(t, out, "Version: "+version)
}

func TestCredsListAndDelete(t *testing.T) {
	setHome(t)

	out, err := runRootCommand(t, "creds", "list")
	require.NoError(t, err)
	require.Contains(t, out, "(none)")

	cfg, err := config.Load()
	require.NoError(t, err)
	store, closeStore, err := credstore.Open(cfg.Credentials)
	require.NoError(t, err)
	require.NoError(t, store.Save(context.Background(), "tenant-a", []byte("blob")))
	require.NoError(t, closeStore())

	devices := deviceDir(cfg)
	require.NoError(t, os.MkdirAll(devices, 0o700))

	out, err = runRootCommand(t, "creds", "list")
	require.NoError(t, err)
	require.Contains(t, out, "tenant-a")

	_, err = runRootCommand(t, "creds", "delete", "tenant-a")
	require.NoError(t, err)

	out, err = runRootCommand(t, "creds", "list")
	require.NoError(t, err)
	require.NotContains(t, out, "tenant-a")

	// Deleting an unknown tenant is not an error.
	_, err = runRootCommand(t, "creds", "delete", "tenant-b")
	require.NoError(t, err)
}

func TestAuditListCommand(t *testing.T) {
	setHome(t)

	_, err := runRootCommand(t, "audit", "list")
	require.Error(t, err)

	cfg, err := config.Load()
	require.NoError(t, err)
	require.NoError(t, config.EnsureDir(filepath.Dir(cfg.Audit.DBPath)))
	store, err := audit.OpenStore(cfg.Audit.Driver, cfg.Audit.DBPath)
	require.NoError(t, err)
	now := time.Now()
	for i, e := range []audit.Entry{
		{ID: "e1", TenantID: "tenant-a", Kind: "command.sendText", Status: audit.StatusOK, Timestamp: now.Add(-time.Minute)},
		{ID: "e2", TenantID: "tenant-b", Kind: "session.logged_out", Status: audit.StatusOK, Timestamp: now},
		{ID: "e3", TenantID: "tenant-a", Kind: "command.sendMedia", Status: audit.StatusError, Error: "upload failed", Timestamp: now},
	} {
		require.NoError(t, store.Write(context.Background(), e), "entry %d", i)
	}
	require.NoError(t, store.Close())

	out, err := runRootCommand(t, "audit", "list", "--tenant", "tenant-a", "--json=false")
	require.NoError(t, err)
	require.Contains(t, out, "command.sendText")
	require.Contains(t, out, "upload failed")
	require.NotContains(t, out, "tenant-b")

	out, err = runRootCommand(t, "audit", "list", "--tenant", "", "--kind", "session.logged_out", "--json")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(out, "["), "expected JSON array, got %q", out)
	require.Contains(t, out, `"tenantId": "tenant-b"`)
	require.NotContains(t, out, "command.")
}

func TestDoctorCommandDefaults(t *testing.T) {
	setHome(t)
	out, err := runRootCommand(t, "doctor")
	require.NoError(t, err)
	require.Contains(t, out, "gateway_exposure")
	require.Contains(t, out, "admin_token")
}

func TestStatusRequiresAdminToken(t *testing.T) {
	setHome(t)
	_, err := runRootCommand(t, "status")
	require.Error(t, err)
	require.Contains(t, err.Error(), "adminToken")
}
