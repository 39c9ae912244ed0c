package orchestrator

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sakurayuki-A/stardriver/internal/manifestclient"
	"github.com/Sakurayuki-A/stardriver/internal/model"
)

func md5Hex(data string) string {
	sum := md5.Sum([]byte(data))
	return hex.EncodeToString(sum[:])
}

func TestRunAbortsOnForbiddenRootBeforeWorkersStart(t *testing.T) {
	opener := manifestclient.NewFakeOpener()
	opener.RootErr = &manifestclient.ForbiddenError{URL: "https://example.invalid/management_beta.txt"}

	installRoot := t.TempDir()
	o := New()
	_, err := o.Run(context.Background(), Options{
		Opener:      opener,
		InstallRoot: installRoot,
		CachePath:   filepath.Join(installRoot, "cache.json"),
		Selection:   model.FullDataset,
		Policy:      model.DefaultScanPolicy,
		Log:         zerolog.Nop(),
	})
	require.Error(t, err)

	for _, call := range opener.Calls {
		assert.NotContains(t, call, "OpenStream", "no worker must start fetching files once the root descriptor fetch is Forbidden")
	}
}

func TestRunEmptyDownloadSetCompletesImmediately(t *testing.T) {
	opener := manifestclient.NewFakeOpener()
	opener.Root = model.RootDescriptor{PatchURL: "https://patch.invalid", MasterURL: "https://master.invalid"}

	installRoot := t.TempDir()
	o := New()
	summary, err := o.Run(context.Background(), Options{
		Opener:      opener,
		InstallRoot: installRoot,
		CachePath:   filepath.Join(installRoot, "cache.json"),
		Selection:   model.FullDataset,
		Policy:      model.DefaultScanPolicy,
		Log:         zerolog.Nop(),
	})
	require.NoError(t, err)
	assert.Equal(t, Summary{}, summary)
}

func TestRunDownloadsEntriesAndFlushesCache(t *testing.T) {
	content := "payload-bytes-for-the-orchestrator-test"
	entryName := "data/file.bin.pat"

	opener := manifestclient.NewFakeOpener()
	opener.Root = model.RootDescriptor{PatchURL: "https://patch.invalid", MasterURL: "https://master.invalid"}
	opener.Lists[manifestclient.ListPrologue] = []model.Entry{
		{Name: entryName, Size: int64(len(content)), MD5: md5Hex(content)},
	}
	opener.Bodies[entryName] = []manifestclient.FakeBody{{Data: []byte(content)}}

	installRoot := t.TempDir()
	cachePath := filepath.Join(installRoot, "cache.json")

	o := New()
	summary, err := o.Run(context.Background(), Options{
		Opener:      opener,
		InstallRoot: installRoot,
		CachePath:   cachePath,
		Selection:   model.FullDataset,
		Policy:      model.DefaultScanPolicy,
		MaxRetries:  2,
		Log:         zerolog.Nop(),
	})
	require.NoError(t, err)
	assert.Equal(t, Summary{Total: 1, Succeeded: 1, Failed: 0, Cancelled: 0}, summary)

	got, readErr := os.ReadFile(filepath.Join(installRoot, "data/file.bin"))
	require.NoError(t, readErr)
	assert.Equal(t, content, string(got))

	_, statErr := os.Stat(cachePath)
	require.NoError(t, statErr, "a successful run must flush the digest cache to disk")
}

func TestRescanAfterSuccessfulRunIsIdempotent(t *testing.T) {
	content := "rescan-content"
	entryName := "file.bin.pat"

	opener := manifestclient.NewFakeOpener()
	opener.Root = model.RootDescriptor{PatchURL: "https://patch.invalid", MasterURL: "https://master.invalid"}
	opener.Lists[manifestclient.ListPrologue] = []model.Entry{
		{Name: entryName, Size: int64(len(content)), MD5: md5Hex(content)},
	}
	opener.Bodies[entryName] = []manifestclient.FakeBody{{Data: []byte(content)}}

	installRoot := t.TempDir()
	cachePath := filepath.Join(installRoot, "cache.json")

	first := New()
	firstSummary, err := first.Run(context.Background(), Options{
		Opener:      opener,
		InstallRoot: installRoot,
		CachePath:   cachePath,
		Selection:   model.FullDataset,
		Policy:      model.DefaultScanPolicy,
		Log:         zerolog.Nop(),
	})
	require.NoError(t, err)
	require.Equal(t, 1, firstSummary.Succeeded)

	// A second pass over the same tree, with the same manifest, must find
	// nothing left to fetch (spec property P6 / §4.4 rescan idempotence).
	second := New()
	secondSummary, err := second.Run(context.Background(), Options{
		Opener:      opener,
		InstallRoot: installRoot,
		CachePath:   cachePath,
		Selection:   model.FullDataset,
		Policy:      model.DefaultScanPolicy,
		Log:         zerolog.Nop(),
	})
	require.NoError(t, err)
	assert.Equal(t, Summary{}, secondSummary, "a rescan of an already-synced tree must enqueue nothing")
}

func TestConcurrentRunsAreRejected(t *testing.T) {
	o := New()
	require.True(t, o.running.CompareAndSwap(false, true))
	defer o.running.Store(false)

	_, err := o.Run(context.Background(), Options{
		Opener: manifestclient.NewFakeOpener(),
		Log:    zerolog.Nop(),
	})
	assert.ErrorIs(t, err, ErrAlreadyRunning)
}
