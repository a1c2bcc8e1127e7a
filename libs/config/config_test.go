package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInt(t *testing.T) {
	t.Setenv("SLOT_STEP_MINUTES", "")
	n, err := Int("SLOT_STEP_MINUTES", 30)
	require.NoError(t, err)
	assert.Equal(t, 30, n)

	t.Setenv("SLOT_STEP_MINUTES", "15")
	n, err = Int("SLOT_STEP_MINUTES", 30)
	require.NoError(t, err)
	assert.Equal(t, 15, n)

	t.Setenv("SLOT_STEP_MINUTES", "-5")
	_, err = Int("SLOT_STEP_MINUTES", 30)
	assert.Error(t, err)
}

func TestIntList(t *testing.T) {
	t.Setenv("REMINDER_OFFSETS_MINUTES", " 1440, 120 ,")
	got, err := IntList("REMINDER_OFFSETS_MINUTES", "60")
	require.NoError(t, err)
	assert.Equal(t, []int{1440, 120}, got)

	t.Setenv("REMINDER_OFFSETS_MINUTES", "1440,abc")
	_, err = IntList("REMINDER_OFFSETS_MINUTES", "60")
	assert.Error(t, err)
}

func TestPortAndRequired(t *testing.T) {
	t.Setenv("PORT", "70000")
	_, err := Port("PORT", "8083")
	assert.Error(t, err)

	t.Setenv("DATABASE_URL", "")
	_, err = RequiredString("DATABASE_URL")
	assert.Error(t, err)
}

func TestLocation(t *testing.T) {
	t.Setenv("SHOP_TIMEZONE", "")
	loc, err := Location("SHOP_TIMEZONE", "UTC")
	require.NoError(t, err)
	assert.Equal(t, "UTC", loc.String())

	t.Setenv("SHOP_TIMEZONE", "Mars/Olympus")
	_, err = Location("SHOP_TIMEZONE", "UTC")
	assert.Error(t, err)
}

func TestLoadDotEnvDoesNotOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(path, []byte("SHOPBOOK_A=from-file\nSHOPBOOK_B=from-file\n"), 0o600))

	t.Setenv("SHOPBOOK_A", "from-env")
	t.Setenv("SHOPBOOK_B", "")
	require.NoError(t, os.Unsetenv("SHOPBOOK_B"))
	t.Cleanup(func() { _ = os.Unsetenv("SHOPBOOK_B") })

	require.NoError(t, LoadDotEnv(path, filepath.Join(dir, "missing.env")))
	assert.Equal(t, "from-env", String("SHOPBOOK_A", ""))
	assert.Equal(t, "from-file", String("SHOPBOOK_B", ""))
}

func TestDuration(t *testing.T) {
	t.Setenv("POLL_INTERVAL", "")
	d, err := Duration("POLL_INTERVAL", 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, d)

	t.Setenv("POLL_INTERVAL", "750ms")
	d, err = Duration("POLL_INTERVAL", 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 750*time.Millisecond, d)

	t.Setenv("POLL_INTERVAL", "soon")
	_, err = Duration("POLL_INTERVAL", 2*time.Second)
	assert.Error(t, err)
}
