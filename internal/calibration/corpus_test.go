package calibration

import (
	"compress/gzip"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeC4Shard(t *testing.T, path string, texts []string) {
	t.Helper()
	file, err := os.Create(path)
	require.NoError(t, err)
	gz := gzip.NewWriter(file)
	enc := json.NewEncoder(gz)
	for _, text := range texts {
		require.NoError(t, enc.Encode(c4Record{Text: text}))
	}
	require.NoError(t, gz.Close())
	require.NoError(t, file.Close())
}

func TestFileSource_Wikitext2(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "wikitext2"), 0o755))
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "wikitext2", "wiki.train.raw"),
		[]byte("first line\nsecond line\n"), 0o644))
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "wikitext2", "wiki.test.raw"),
		[]byte("held out\n"), 0o644))

	src := &FileSource{Dir: dir}

	train, err := src.Records(Wikitext2, SplitTrain)
	require.NoError(t, err)
	assert.Equal(t, []string{"first line", "second line"}, train)

	eval, err := src.Records(Wikitext2, SplitEval)
	require.NoError(t, err)
	assert.Equal(t, []string{"held out"}, eval)
}

func TestFileSource_C4(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "c4"), 0o755))
	writeC4Shard(t, filepath.Join(dir, "c4", "c4-train.00000-of-01024.json.gz"),
		[]string{"record one", "record two"})
	writeC4Shard(t, filepath.Join(dir, "c4", "c4-validation.00000-of-00008.json.gz"),
		[]string{"val record"})

	src := &FileSource{Dir: dir}

	train, err := src.Records(C4, SplitTrain)
	require.NoError(t, err)
	assert.Equal(t, []string{"record one", "record two"}, train)

	eval, err := src.Records(C4, SplitEval)
	require.NoError(t, err)
	assert.Equal(t, []string{"val record"}, eval)
}

func TestFileSource_MissingShards(t *testing.T) {
	src := &FileSource{Dir: t.TempDir()}

	_, err := src.Records(C4, SplitTrain)
	assert.Error(t, err)

	_, err = src.Records(Wikitext2, SplitTrain)
	assert.Error(t, err)
}

func TestFileSource_VLUnsupported(t *testing.T) {
	src := &FileSource{Dir: t.TempDir()}
	_, err := src.Records(QwenVL, SplitTrain)
	assert.ErrorIs(t, err, ErrNoVLCalibration)
}
