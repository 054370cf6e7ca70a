package worker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/qs3c/pricing_server/internal/service"
)

const (
	flushInterval = 5 * time.Minute
	spoolLayout   = "20060102T150405Z"
)

// ReportSpool 包装对账报告存储。上传失败时报告落到本地目录，后台定期重传
type ReportSpool struct {
	upstream service.ReportUploader
	dir      string
}

// NewReportSpool 创建报告暂存。upstream 为空时只写本地
func NewReportSpool(upstream service.ReportUploader, dir string) (*ReportSpool, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create report spool dir: %w", err)
	}
	return &ReportSpool{upstream: upstream, dir: dir}, nil
}

// UploadReport 实现 service.ReportUploader
func (s *ReportSpool) UploadReport(runAt time.Time, data []byte) (string, error) {
	if s.upstream != nil {
		url, err := s.upstream.UploadReport(runAt, data)
		if err == nil {
			return url, nil
		}
		logrus.WithError(err).Warn("report upload failed, spooling locally")
	}

	path := s.path(runAt)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to spool report: %w", err)
	}
	return "file://" + path, nil
}

// Pending 本地待重传的报告文件，按时间排序
func (s *ReportSpool) Pending() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		files = append(files, filepath.Join(s.dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// Flush 重传本地报告，成功后删除。返回成功数量
func (s *ReportSpool) Flush(ctx context.Context) int {
	if s.upstream == nil {
		return 0
	}
	files, err := s.Pending()
	if err != nil {
		logrus.WithError(err).Warn("failed to list spooled reports")
		return 0
	}

	uploaded := 0
	for _, path := range files {
		if ctx.Err() != nil {
			break
		}
		runAt, err := time.Parse(spoolLayout, strings.TrimSuffix(filepath.Base(path), ".json"))
		if err != nil {
			logrus.WithField("file", path).Warn("skipping unrecognized spooled report")
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			logrus.WithError(err).WithField("file", path).Warn("failed to read spooled report")
			continue
		}

		b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2), ctx)
		err = backoff.Retry(func() error {
			_, err := s.upstream.UploadReport(runAt, data)
			return err
		}, b)
		if err != nil {
			logrus.WithError(err).WithField("file", path).Warn("failed to re-upload report")
			continue
		}

		if err := os.Remove(path); err != nil {
			logrus.WithError(err).WithField("file", path).Warn("failed to remove spooled report")
		}
		uploaded++
	}
	if uploaded > 0 {
		logrus.WithField("uploaded", uploaded).Info("spooled reports re-uploaded")
	}
	return uploaded
}

// Start 后台重传循环，启动后先执行一次
func (s *ReportSpool) Start(ctx context.Context) {
	s.Flush(ctx)

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Flush(ctx)
		}
	}
}

func (s *ReportSpool) path(runAt time.Time) string {
	return filepath.Join(s.dir, runAt.UTC().Format(spoolLayout)+".json")
}
