package cnv

import (
	"context"
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/grailbio/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteCalls(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := context.Background()
	calls := []Call{
		{Chr: "chr21", Start: 1001, End: 3000, RD: 200, Type: Duplication},
		{Chr: "chr21", Start: 9001, End: 9500, RD: 12.5, Type: Deletion},
	}

	path := filepath.Join(tempDir, "calls.tsv")
	require.NoError(t, WriteCalls(ctx, path, calls))
	data, err := ioutil.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t,
		"chr\tstart\tend\ttype\tRD\n"+
			"chr21\t1001\t3000\tduplication\t200\n"+
			"chr21\t9001\t9500\tdeletion\t12.5\n",
		string(data))

	got, err := ReadCalls(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, calls, got)

	gzPath := filepath.Join(tempDir, "calls.tsv.gz")
	require.NoError(t, WriteCalls(ctx, gzPath, calls))
	got, err = ReadCalls(ctx, gzPath)
	require.NoError(t, err)
	assert.Equal(t, calls, got)
}

func TestWriteCallsEmpty(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := context.Background()
	path := filepath.Join(tempDir, "empty.tsv")
	require.NoError(t, WriteCalls(ctx, path, nil))
	got, err := ReadCalls(ctx, path)
	require.NoError(t, err)
	assert.Empty(t, got)
}
