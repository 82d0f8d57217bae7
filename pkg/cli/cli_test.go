package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/repwatch/pkg/api"
	"github.com/platinummonkey/repwatch/pkg/entitlements"
	"github.com/platinummonkey/repwatch/pkg/plans"
	"github.com/platinummonkey/repwatch/pkg/subjects"
)

// captureOutput redirects command output for the duration of the test
func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	old := stdout
	stdout = &buf
	t.Cleanup(func() { stdout = old })
	return &buf
}

func startServer(t *testing.T, records ...*subjects.Record) string {
	t.Helper()
	store := subjects.NewMemoryStore()
	for _, rec := range records {
		require.NoError(t, store.CreateSubject(context.Background(), rec))
	}
	svc, err := entitlements.NewService(entitlements.NewEvaluator(nil, nil, nil), store)
	require.NoError(t, err)

	srv := httptest.NewServer(api.NewServer(svc, nil, nil, nil))
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestRootCommand(t *testing.T) {
	root := NewRootCommand()
	assert.Equal(t, "repwatch-cli", root.Name)
	for _, name := range []string{"plans", "validate", "check", "change-plan", "consume"} {
		assert.Contains(t, root.Subcommands, name)
	}

	out := captureOutput(t)
	require.NoError(t, root.ExecuteArgs(context.Background(), nil))
	assert.Contains(t, out.String(), "Usage: repwatch-cli <command> [args]")
	assert.Contains(t, out.String(), "change-plan")

	assert.EqualError(t, root.ExecuteArgs(context.Background(), []string{"bogus"}), "unknown command: bogus")
}

func TestPlansCommand(t *testing.T) {
	out := captureOutput(t)
	require.NoError(t, runPlans(context.Background(), nil))

	text := out.String()
	assert.Contains(t, text, "Enterprise")
	assert.Contains(t, text, "maxTrackedKeywords")
	assert.Contains(t, text, "unlimited")
}

func TestPlansCommand_JSONWithCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plans.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tiers:\n  pro:\n    maxSocialAccounts: 15\n"), 0644))

	out := captureOutput(t)
	require.NoError(t, runPlans(context.Background(), []string{"--catalog", path, "--json"}))

	var got map[string]map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.EqualValues(t, 15, got["pro"]["maxSocialAccounts"])
	assert.Equal(t, false, got["free"]["hasAPIAccess"])
}

func TestValidateCommand(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(good, []byte("tiers:\n  basic:\n    maxTeamMembers: 4\n"), 0644))
	// Basic above pro breaks tier monotonicity
	require.NoError(t, os.WriteFile(bad, []byte("tiers:\n  basic:\n    maxTeamMembers: 50\n"), 0644))

	out := captureOutput(t)
	require.NoError(t, runValidate(context.Background(), []string{good}))
	assert.Contains(t, out.String(), "ok")

	assert.Error(t, runValidate(context.Background(), []string{bad}))
	assert.Error(t, runValidate(context.Background(), nil))
}

func TestCheckCommand(t *testing.T) {
	server := startServer(t, &subjects.Record{ID: "acme", Plan: "free"})
	out := captureOutput(t)

	require.NoError(t, runCheck(context.Background(), []string{"--server", server, "--subject", "acme", "--feature", "hasAPIAccess"}))
	assert.Contains(t, out.String(), "hasAPIAccess on free: denied")
	assert.Contains(t, out.String(), "Upgrade to Pro")

	out.Reset()
	require.NoError(t, runCheck(context.Background(), []string{"--server", server, "--subject", "acme", "--feature", "maxTrackedKeywords", "--usage", "2", "--json"}))
	var resp api.FeatureCheckResponse
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	assert.True(t, resp.Allowed)
	assert.Equal(t, int64(2), resp.Usage)

	assert.Error(t, runCheck(context.Background(), []string{"--server", server, "--feature", "hasAPIAccess"}))
	assert.Error(t, runCheck(context.Background(), []string{"--server", server, "--subject", "acme", "--feature", "teleport"}))
	assert.Error(t, runCheck(context.Background(), []string{"--server", server, "--subject", "ghost", "--feature", "hasAPIAccess"}))
}

func TestCheckCommand_Cancelled(t *testing.T) {
	server := startServer(t, &subjects.Record{ID: "acme", Plan: "free"})
	captureOutput(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := runCheck(ctx, []string{"--server", server, "--subject", "acme", "--feature", "hasAPIAccess"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestChangePlanCommand(t *testing.T) {
	server := startServer(t, &subjects.Record{ID: "acme", Plan: "free"})
	out := captureOutput(t)

	require.NoError(t, runChangePlan(context.Background(), []string{"--server", server, "--subject", "acme", "--plan", "pro"}))
	assert.Equal(t, "acme: free -> pro\n", out.String())

	assert.Error(t, runChangePlan(context.Background(), []string{"--server", server, "--subject", "acme", "--plan", "gold"}))
}

func TestConsumeCommand(t *testing.T) {
	server := startServer(t, &subjects.Record{ID: "acme", Plan: "free"})
	out := captureOutput(t)

	require.NoError(t, runConsume(context.Background(), []string{"--server", server, "--subject", "acme", "--feature", "maxMonthlyCredits", "--units", "40"}))
	assert.Equal(t, "maxMonthlyCredits: 40 used, 60 remaining\n", out.String())

	err := runConsume(context.Background(), []string{"--server", server, "--subject", "acme", "--feature", "maxMonthlyCredits", "--units", "61"})
	var apiErr *apiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 403, apiErr.Status)
	assert.Contains(t, err.Error(), "upgrade to Basic")

	assert.Error(t, runConsume(context.Background(), []string{"--server", server, "--subject", "acme", "--feature", "maxMonthlyCredits", "--units", "0"}))
}

func TestPlansMatchCatalogKeys(t *testing.T) {
	out := captureOutput(t)
	require.NoError(t, runPlans(context.Background(), nil))
	for _, key := range plans.Keys() {
		assert.Contains(t, out.String(), string(key))
	}
}
