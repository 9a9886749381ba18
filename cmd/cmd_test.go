package cmd

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theirongolddev/chatmeter/internal/model"
	"github.com/theirongolddev/chatmeter/internal/store"
)

func TestParseBudgetArgs(t *testing.T) {
	bt, amount, err := budgetArgs([]string{"Daily", "$2.50"})
	require.NoError(t, err)
	assert.Equal(t, model.BudgetDaily, bt)
	assert.True(t, decimal.RequireFromString("2.5").Equal(amount))

	_, _, err = budgetArgs([]string{"weekly", "5"})
	assert.ErrorContains(t, err, "unknown budget type")
	_, _, err = budgetArgs([]string{"total", "five"})
	assert.ErrorContains(t, err, "invalid amount")
}

func TestMaskAPIKey(t *testing.T) {
	assert.Equal(t, "sk-or-v1...cdef", maskAPIKey("sk-or-v1-0123456789abcdef"))
	assert.Equal(t, "sk-o...", maskAPIKey("sk-or-v1"))
	assert.Equal(t, "****", maskAPIKey("abc"))
}

func TestFilterDetachArg(t *testing.T) {
	got := filterDetachArg([]string{"serve", "--detach", "--addr", ":9000", "--detach=true"})
	assert.Equal(t, []string{"serve", "--addr", ":9000"}, got)
}

func TestPIDFileRoundTrip(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "serve.pid")
	_, err := readPID(pidFile)
	assert.ErrorIs(t, err, os.ErrNotExist)
	require.NoError(t, ensureServeNotRunning(pidFile))

	require.NoError(t, writePID(pidFile, os.Getpid()))
	pid, err := readPID(pidFile)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
	assert.True(t, processAlive(pid))
	assert.ErrorContains(t, ensureServeNotRunning(pidFile), "already running")

	st := serveRuntimeState{PID: pid, Addr: "127.0.0.1:9999", DBPath: "x.db"}
	require.NoError(t, writeState(statePath(pidFile), st))
	got, err := readState(statePath(pidFile))
	require.NoError(t, err)
	assert.Equal(t, st.Addr, got.Addr)
}

// run executes the root command against a private database and config.
func run(t *testing.T, dbPath string, args ...string) error {
	t.Helper()
	cfgPath := filepath.Join(filepath.Dir(dbPath), "config.toml")
	rootCmd.SetArgs(append(args, "--db", dbPath, "--config", cfgPath, "--quiet"))
	return rootCmd.ExecuteContext(context.Background())
}

func openTestDB(t *testing.T, path string) *store.SQLite {
	t.Helper()
	db, err := store.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestBudgetCommands(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "chatmeter.db")
	ctx := context.Background()

	require.NoError(t, run(t, dbPath, "budget", "set", "daily", "5"))
	require.NoError(t, run(t, dbPath, "budget", "spend", "daily", "4.5"))
	require.NoError(t, run(t, dbPath, "budget", "limit", "daily", "6"))

	db := openTestDB(t, dbPath)
	b, err := db.Budget(ctx, model.BudgetDaily)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(6).Equal(b.Limit), b.Limit.String())
	assert.True(t, decimal.RequireFromString("4.5").Equal(b.Spent), b.Spent.String())

	require.NoError(t, run(t, dbPath, "budget", "status"))
	require.NoError(t, run(t, dbPath, "budget", "remove", "daily"))
	_, err = db.Budget(ctx, model.BudgetDaily)
	assert.ErrorIs(t, err, store.ErrNotFound)

	err = run(t, dbPath, "budget", "reset", "daily")
	assert.ErrorContains(t, err, "no active daily budget")
	assert.Error(t, run(t, dbPath, "budget", "set", "weekly", "5"))
}

func TestExportCommand(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "chatmeter.db")
	out := filepath.Join(dir, "sessions.csv")

	assert.ErrorContains(t, run(t, dbPath, "export", "--output", out), "nothing to export")
	_, err := os.Stat(out)
	assert.ErrorIs(t, err, os.ErrNotExist)

	db := openTestDB(t, dbPath)
	require.NoError(t, db.CreateSession(context.Background(), model.Session{
		SessionID:         "session_a",
		Model:             "gpt-4o-mini",
		StartTime:         time.Now().Add(-time.Hour),
		TotalCost:         decimal.RequireFromString("0.0125"),
		TotalMessages:     2,
		TotalInputTokens:  120,
		TotalOutputTokens: 340,
	}))

	require.NoError(t, run(t, dbPath, "export", "--format", "csv", "--output", out))
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "session_id,model_used"))
	assert.Contains(t, lines[1], "session_a")
}
