package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	domain "github.com/mohammadpnp/cnpj-import/internal/domain/cnpj"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	userAgent        = "cnpj-import/1.0"
	progressInterval = 64 << 20
)

type DownloaderConfig struct {
	Dir            string
	ConnectTimeout time.Duration
	// IdleTimeout aborts a body transfer that makes no progress for this long.
	IdleTimeout time.Duration
	MaxAttempts int
	// InitialBackoff is the first retry delay; it doubles on every attempt.
	InitialBackoff time.Duration
}

// ByteCounter receives the number of bytes written to disk.
type ByteCounter interface {
	Add(float64)
}

type Downloader struct {
	client  *http.Client
	cfg     DownloaderConfig
	logger  *zap.Logger
	counter ByteCounter
	group   singleflight.Group
}

// NewHTTPClient returns a client honouring the connect timeout. Body reads are
// bounded by the downloader's idle timeout instead of a total deadline.
func NewHTTPClient(connectTimeout, idleTimeout time.Duration) *http.Client {
	dialer := &net.Dialer{Timeout: connectTimeout, KeepAlive: 30 * time.Second}
	return &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           dialer.DialContext,
			TLSHandshakeTimeout:   connectTimeout,
			ResponseHeaderTimeout: idleTimeout,
			MaxIdleConnsPerHost:   8,
		},
	}
}

func NewDownloader(client *http.Client, cfg DownloaderConfig, logger *zap.Logger) *Downloader {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 300 * time.Second
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 2 * time.Second
	}
	return &Downloader{
		client: client,
		cfg:    cfg,
		logger: logger.Named("downloader"),
	}
}

func (d *Downloader) WithByteCounter(counter ByteCounter) *Downloader {
	d.counter = counter
	return d
}

func (d *Downloader) LocalPath(archive domain.Archive) string {
	return filepath.Join(d.cfg.Dir, archive.Name)
}

// Download streams the archive to the download directory unless a local copy
// already exists. Concurrent calls for the same URL share one fetch.
func (d *Downloader) Download(ctx context.Context, archive domain.Archive) (string, error) {
	dest := d.LocalPath(archive)
	if info, err := os.Stat(dest); err == nil && info.Size() > 0 {
		d.logger.Debug("archive already present", zap.String("name", archive.Name), zap.Int64("bytes", info.Size()))
		return dest, nil
	}
	if archive.URL == "" {
		return "", domain.NewPipelineError(domain.KindTransientNetwork, "download "+archive.Name, errors.New("archive has no source url"))
	}

	_, err, _ := d.group.Do(archive.URL, func() (any, error) {
		return nil, d.downloadWithRetry(ctx, archive, dest)
	})
	if err != nil {
		return "", domain.NewPipelineError(domain.KindTransientNetwork, "download "+archive.Name, err)
	}
	return dest, nil
}

func (d *Downloader) Discard(archive domain.Archive) error {
	if err := os.Remove(d.LocalPath(archive)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", archive.Name, err)
	}
	return nil
}

func (d *Downloader) downloadWithRetry(ctx context.Context, archive domain.Archive, dest string) error {
	if err := os.MkdirAll(d.cfg.Dir, 0o755); err != nil {
		return fmt.Errorf("create download dir: %w", err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = d.cfg.InitialBackoff
	policy.MaxElapsedTime = 0

	attempt := 0
	operation := func() error {
		attempt++
		err := d.fetch(ctx, archive, dest)
		if err != nil {
			d.logger.Warn("download attempt failed",
				zap.String("name", archive.Name),
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", d.cfg.MaxAttempts),
				zap.Error(err))
		}
		return err
	}

	retryPolicy := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(d.cfg.MaxAttempts-1)), ctx)
	if err := backoff.Retry(operation, retryPolicy); err != nil {
		return fmt.Errorf("request failed after %d attempts: %w", attempt, err)
	}
	return nil
}

type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d", e.code)
}

func (d *Downloader) fetch(ctx context.Context, archive domain.Archive, dest string) (err error) {
	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, archive.URL, nil)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		statusErr := &statusError{code: resp.StatusCode}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return statusErr
		}
		return backoff.Permanent(statusErr)
	}

	partial := dest + ".part"
	out, err := os.Create(partial)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("create %s: %w", partial, err))
	}
	defer func() {
		if err != nil {
			out.Close()
			os.Remove(partial)
		}
	}()

	timer := time.AfterFunc(d.cfg.IdleTimeout, cancel)
	defer timer.Stop()

	body := &progressReader{
		reader:  resp.Body,
		timer:   timer,
		idle:    d.cfg.IdleTimeout,
		total:   resp.ContentLength,
		name:    archive.Name,
		logger:  d.logger,
		counter: d.counter,
	}

	written, err := io.Copy(out, body)
	if err != nil {
		if reqCtx.Err() != nil && ctx.Err() == nil {
			return fmt.Errorf("body idle for more than %s: %w", d.cfg.IdleTimeout, err)
		}
		return fmt.Errorf("stream body: %w", err)
	}
	if resp.ContentLength > 0 && written != resp.ContentLength {
		return fmt.Errorf("short body: got %d of %d bytes", written, resp.ContentLength)
	}
	if err = out.Close(); err != nil {
		return fmt.Errorf("close %s: %w", partial, err)
	}
	if err = os.Rename(partial, dest); err != nil {
		return backoff.Permanent(fmt.Errorf("rename %s: %w", partial, err))
	}

	d.logger.Info("archive downloaded", zap.String("name", archive.Name), zap.Int64("bytes", written))
	return nil
}

// progressReader resets the idle timer on every read and logs progress.
type progressReader struct {
	reader  io.Reader
	timer   *time.Timer
	idle    time.Duration
	read    int64
	next    int64
	total   int64
	name    string
	logger  *zap.Logger
	counter ByteCounter
}

func (r *progressReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	if n > 0 {
		r.timer.Reset(r.idle)
		r.read += int64(n)
		if r.counter != nil {
			r.counter.Add(float64(n))
		}
		if r.read >= r.next {
			r.logger.Debug("download progress",
				zap.String("name", r.name),
				zap.Int64("bytes", r.read),
				zap.Int64("total", r.total))
			r.next = r.read + progressInterval
		}
	}
	return n, err
}
