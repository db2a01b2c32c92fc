package publish

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/lox/surfcast/internal/models"
)

type ftpConn interface {
	Login(user, password string) error
	ChangeDir(path string) error
	Stor(path string, r io.Reader) error
	Rename(from, to string) error
	Quit() error
}

// FTPConfig locates the artifact on a web host.
type FTPConfig struct {
	Addr     string // host:port
	User     string
	Password string
	Dir      string
	Name     string
	Timeout  time.Duration
}

// FTPUploader publishes the artifact table to an FTP server. The file is
// stored under a temporary name and renamed into place.
type FTPUploader struct {
	cfg  FTPConfig
	loc  *time.Location
	dial func(ctx context.Context, addr string, timeout time.Duration) (ftpConn, error)
}

func NewFTPUploader(cfg FTPConfig, loc *time.Location) *FTPUploader {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Name == "" {
		cfg.Name = "forecast.csv"
	}
	return &FTPUploader{cfg: cfg, loc: loc, dial: dialFTP}
}

func dialFTP(ctx context.Context, addr string, timeout time.Duration) (ftpConn, error) {
	return ftp.Dial(addr, ftp.DialWithTimeout(timeout), ftp.DialWithContext(ctx))
}

func (u *FTPUploader) Name() string { return "ftp" }

func (u *FTPUploader) Publish(ctx context.Context, records []models.ForecastRecord) error {
	var buf bytes.Buffer
	if err := EncodeCSV(&buf, records, u.loc); err != nil {
		return fmt.Errorf("encode forecast: %w", err)
	}

	conn, err := u.dial(ctx, u.cfg.Addr, u.cfg.Timeout)
	if err != nil {
		return fmt.Errorf("ftp dial: %w", err)
	}
	defer conn.Quit()

	if err := conn.Login(u.cfg.User, u.cfg.Password); err != nil {
		return fmt.Errorf("ftp login: %w", err)
	}
	if u.cfg.Dir != "" {
		if err := conn.ChangeDir(u.cfg.Dir); err != nil {
			return fmt.Errorf("ftp cwd: %w", err)
		}
	}

	tmp := "." + path.Base(u.cfg.Name) + ".part"
	if err := conn.Stor(tmp, &buf); err != nil {
		return fmt.Errorf("ftp stor: %w", err)
	}
	if err := conn.Rename(tmp, u.cfg.Name); err != nil {
		return fmt.Errorf("ftp rename: %w", err)
	}
	return nil
}
