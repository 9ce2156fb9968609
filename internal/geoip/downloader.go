// Package geoip fetches the MaxMind GeoLite2 City database used to tag
// audit entries with a country.
package geoip

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ibero-data/modgate/internal/logging"
)

const (
	DefaultURL      = "https://download.maxmind.com/geoip/databases/GeoLite2-City/download?suffix=tar.gz"
	DefaultFileName = "GeoLite2-City.mmdb"
)

var (
	ErrMissingCredentials = errors.New("MaxMind credentials not configured")
	ErrNoDatabase         = errors.New("no .mmdb file found in archive")
)

// Downloader handles downloading and extracting the MaxMind GeoIP database
type Downloader struct {
	AccountID  string
	LicenseKey string
	DataDir    string

	url    string
	client *http.Client
	logger *zap.Logger
}

// Status represents the current state of the GeoIP database
type Status struct {
	Exists       bool      `json:"exists"`
	Path         string    `json:"path"`
	FileSize     int64     `json:"fileSize"`
	LastModified time.Time `json:"lastModified"`
}

type Option func(*Downloader)

// WithURL overrides the MaxMind download endpoint.
func WithURL(url string) Option { return func(d *Downloader) { d.url = url } }

func WithHTTPClient(c *http.Client) Option { return func(d *Downloader) { d.client = c } }
func WithLogger(l *zap.Logger) Option { return func(d *Downloader) { d.logger = logging.OrNop(l) } }

func NewDownloader(accountID, licenseKey, dataDir string, opts ...Option) *Downloader {
	d := &Downloader{
		AccountID:  accountID,
		LicenseKey: licenseKey,
		DataDir:    dataDir,
		url:        DefaultURL,
		client:     &http.Client{Timeout: 5 * time.Minute},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Path is where the database is installed.
func (d *Downloader) Path() string {
	return filepath.Join(d.DataDir, DefaultFileName)
}

// Download fetches the archive and atomically replaces the installed
// database with the .mmdb it contains.
func (d *Downloader) Download(ctx context.Context) error {
	if d.AccountID == "" || d.LicenseKey == "" {
		return ErrMissingCredentials
	}
	if err := os.MkdirAll(d.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.SetBasicAuth(d.AccountID, d.LicenseKey)

	start := time.Now()
	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed with status: %s", resp.Status)
	}

	tmpPath, err := d.extract(resp.Body)
	if err != nil {
		return fmt.Errorf("extract database: %w", err)
	}
	if err := os.Rename(tmpPath, d.Path()); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("install database: %w", err)
	}

	d.logger.Info("geoip database installed",
		zap.String("path", d.Path()),
		zap.Duration("took", time.Since(start)))
	return nil
}

// extract streams the gzipped tarball and writes the first .mmdb entry next
// to the final path.
func (d *Downloader) extract(archive io.Reader) (string, error) {
	gzReader, err := gzip.NewReader(archive)
	if err != nil {
		return "", err
	}
	defer gzReader.Close()

	tarReader := tar.NewReader(gzReader)
	for {
		header, err := tarReader.Next()
		if errors.Is(err, io.EOF) {
			return "", ErrNoDatabase
		}
		if err != nil {
			return "", err
		}
		if header.Typeflag != tar.TypeReg || !strings.HasSuffix(header.Name, ".mmdb") {
			continue
		}

		out, err := os.CreateTemp(d.DataDir, DefaultFileName+".*.tmp")
		if err != nil {
			return "", err
		}
		_, err = io.Copy(out, tarReader)
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(out.Name())
			return "", err
		}
		return out.Name(), nil
	}
}

// GetStatus returns the current status of the GeoIP database
func (d *Downloader) GetStatus() Status {
	path := d.Path()
	info, err := os.Stat(path)
	if err != nil {
		return Status{Path: path}
	}
	return Status{
		Exists:       true,
		Path:         path,
		FileSize:     info.Size(),
		LastModified: info.ModTime(),
	}
}
