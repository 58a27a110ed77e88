package sqlite_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relves/trustledger/internal/storage/sqlite"
)

func TestStoreManager_GetStore(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "sqlite-manager-test-*")
	require.NoError(t, err)
	defer os.RemoveAll(tmpDir)

	manager := sqlite.NewStoreManager(tmpDir)
	defer manager.CloseAll()

	store1, err := manager.GetStore("acme")
	require.NoError(t, err)
	require.NotNil(t, store1)

	// Get same store again - should be cached
	store2, err := manager.GetStore("acme")
	require.NoError(t, err)
	assert.Same(t, store1, store2)
	assert.Equal(t, "acme", store1.Name())
}

func TestStoreManager_MultipleStores(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "sqlite-manager-test-*")
	require.NoError(t, err)
	defer os.RemoveAll(tmpDir)

	manager := sqlite.NewStoreManager(tmpDir)
	defer manager.CloseAll()

	store1, err := manager.GetStore("acme")
	require.NoError(t, err)
	store2, err := manager.GetStore("globex")
	require.NoError(t, err)

	assert.NotSame(t, store1, store2)
	assert.Equal(t, tmpDir, manager.BasePath())
}

func TestStoreManager_CloseAll(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "sqlite-manager-test-*")
	require.NoError(t, err)
	defer os.RemoveAll(tmpDir)

	manager := sqlite.NewStoreManager(tmpDir)

	_, err = manager.GetStore("acme")
	require.NoError(t, err)
	_, err = manager.GetStore("globex")
	require.NoError(t, err)

	require.NoError(t, manager.CloseAll())

	// A fresh store is opened after CloseAll
	store, err := manager.GetStore("acme")
	require.NoError(t, err)
	require.NotNil(t, store)
	require.NoError(t, manager.CloseAll())
}
