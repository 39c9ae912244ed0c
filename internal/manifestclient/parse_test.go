package manifestclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sakurayuki-A/stardriver/internal/model"
)

func TestParseRootDefaults(t *testing.T) {
	body := []byte("PatchURL=https://patch.example.com\nMasterURL=https://master.example.com\n")
	root, err := ParseRoot(body)
	require.NoError(t, err)
	assert.Equal(t, "https://patch.example.com", root.PatchURL)
	assert.Equal(t, "https://master.example.com", root.MasterURL)
	assert.Equal(t, model.DefaultThreadNum, root.ThreadNum)
	assert.Equal(t, model.DefaultParallelThreadNum, root.ParallelThreadNum)
	assert.Equal(t, model.DefaultRetryNum, root.RetryNum)
	assert.Equal(t, model.DefaultTimeoutMS, root.TimeoutMS)
}

func TestParseRootFullySpecified(t *testing.T) {
	body := []byte(`PatchURL=https://patch.example.com
MasterURL=https://master.example.com
BackupPatchURL=https://patch-backup.example.com
BackupMasterURL=https://master-backup.example.com
ThreadNum=4
ParallelThreadNum=8
RetryNum=5
TimeOut=15000
UnknownKey=ignored
`)
	root, err := ParseRoot(body)
	require.NoError(t, err)
	assert.Equal(t, "https://patch-backup.example.com", root.BackupPatchURL)
	assert.Equal(t, "https://master-backup.example.com", root.BackupMasterURL)
	assert.Equal(t, 4, root.ThreadNum)
	assert.Equal(t, 8, root.ParallelThreadNum)
	assert.Equal(t, 5, root.RetryNum)
	assert.Equal(t, 15000, root.TimeoutMS)
}

func TestParseRootMissingRequired(t *testing.T) {
	_, err := ParseRoot([]byte("MasterURL=https://master.example.com\n"))
	require.Error(t, err)
	var perr *ManifestParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "PatchURL", perr.Missing)
}

func TestParseListThreeField(t *testing.T) {
	body := []byte("a.bin.pat\t4\tABCD1234\nb.bin.pat\t0\tD41D8CD98F00B204E9800998ECF8427E\n")
	entries, skipped := ParseList(body, false)
	require.Len(t, entries, 2)
	assert.Equal(t, 0, skipped)
	assert.Equal(t, "a.bin.pat", entries[0].Name)
	assert.Equal(t, int64(4), entries[0].Size)
	assert.Equal(t, "ABCD1234", entries[0].MD5)
	assert.Equal(t, model.ChannelUnknown, entries[0].Channel)
}

func TestParseListFourFieldPatchChannel(t *testing.T) {
	body := []byte("c.bin.pat\tABCD\t10\tp\nd.bin.pat\tEF01\t20\tm\n")
	entries, skipped := ParseList(body, true)
	require.Len(t, entries, 2)
	assert.Equal(t, 0, skipped)
	assert.Equal(t, model.ChannelPatch, entries[0].Channel)
	assert.Equal(t, model.ChannelUnknown, entries[1].Channel)
	assert.True(t, entries[0].Reboot)
}

func TestParseListSkipsUnparseableLines(t *testing.T) {
	body := []byte("good.pat\t4\tABCD\nnot-enough-fields\nbad-size.pat\tnotanumber\tABCD\n\n")
	entries, skipped := ParseList(body, false)
	require.Len(t, entries, 1)
	assert.Equal(t, 2, skipped)
	assert.Equal(t, "good.pat", entries[0].Name)
}
