package worker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeUploader struct {
	mu       sync.Mutex
	failures int
	uploads  map[time.Time][]byte
}

func (u *fakeUploader) UploadReport(runAt time.Time, data []byte) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.failures > 0 {
		u.failures--
		return "", errors.New("oss unavailable")
	}
	if u.uploads == nil {
		u.uploads = make(map[time.Time][]byte)
	}
	u.uploads[runAt.UTC()] = data
	return "https://reports.example.com/" + runAt.UTC().Format(spoolLayout), nil
}

func TestReportSpool_UploadsDirectly(t *testing.T) {
	up := &fakeUploader{}
	spool, err := NewReportSpool(up, t.TempDir())
	require.NoError(t, err)

	runAt := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	url, err := spool.UploadReport(runAt, []byte(`{"scanned":1}`))
	require.NoError(t, err)
	assert.Equal(t, "https://reports.example.com/20240301T120000Z", url)

	pending, err := spool.Pending()
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestReportSpool_SpoolsAndFlushes(t *testing.T) {
	dir := t.TempDir()
	up := &fakeUploader{failures: 1}
	spool, err := NewReportSpool(up, dir)
	require.NoError(t, err)

	runAt := time.Date(2024, 3, 1, 12, 30, 5, 0, time.UTC)
	url, err := spool.UploadReport(runAt, []byte(`{"scanned":2}`))
	require.NoError(t, err)
	assert.Equal(t, "file://"+filepath.Join(dir, "20240301T123005Z.json"), url)

	pending, err := spool.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 1)

	// 非报告文件不参与重传
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	assert.Equal(t, 1, spool.Flush(context.Background()))
	assert.Equal(t, []byte(`{"scanned":2}`), up.uploads[runAt])

	pending, err = spool.Pending()
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestReportSpool_LocalOnly(t *testing.T) {
	spool, err := NewReportSpool(nil, filepath.Join(t.TempDir(), "reports"))
	require.NoError(t, err)

	_, err = spool.UploadReport(time.Now(), []byte(`{}`))
	require.NoError(t, err)

	assert.Equal(t, 0, spool.Flush(context.Background()))
	pending, err := spool.Pending()
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}
