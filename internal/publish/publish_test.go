package publish

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/surfcast/internal/models"
)

func zurich(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Zurich")
	require.NoError(t, err)
	return loc
}

func sampleRecords() []models.ForecastRecord {
	vd := time.Date(2026, 10, 17, 8, 10, 0, 0, time.UTC)
	return []models.ForecastRecord{
		{ValidDate: vd, Model: "gusts", Criterion: "Quinten, wind_gusts_10m:kmh", Horizon: 10 * time.Minute, Mean: 21.5, Std: 1.25, Error: 3},
		{ValidDate: vd, Model: "gusts", Criterion: "Quinten, wind_dir_10m:d", Horizon: 10 * time.Minute, Mean: 270, Std: math.NaN(), Error: math.NaN()},
	}
}

func TestEncodeCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, EncodeCSV(&buf, sampleRecords(), zurich(t)))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, Header, rows[0])
	assert.Equal(t, []string{"2026-10-17 10:10:00", "gusts", "Quinten, wind_gusts_10m:kmh", "21.5", "1.25", "3"}, rows[1])
	assert.Equal(t, "", rows[2][4])
	assert.Equal(t, "", rows[2][5])
}

func TestCSVWriterOverwrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out", "forecast.csv")
	w := NewCSVWriter(path, zurich(t))

	require.NoError(t, w.Write(sampleRecords()))
	first, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(string(first), "\n"))

	require.NoError(t, w.Write(sampleRecords()[:1]))
	second, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(second), "\n"), "artifact is replaced, not appended")

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

type fakeFTP struct {
	stored  map[string]string
	renamed [][2]string
	dir     string
	failOn  string
	quit    bool
}

func (f *fakeFTP) Login(user, password string) error {
	if f.failOn == "login" {
		return errors.New("530 login incorrect")
	}
	return nil
}

func (f *fakeFTP) ChangeDir(path string) error { f.dir = path; return nil }

func (f *fakeFTP) Stor(path string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.stored[path] = string(data)
	return nil
}

func (f *fakeFTP) Rename(from, to string) error {
	f.renamed = append(f.renamed, [2]string{from, to})
	return nil
}

func (f *fakeFTP) Quit() error { f.quit = true; return nil }

func TestFTPUploader(t *testing.T) {
	conn := &fakeFTP{stored: make(map[string]string)}
	u := NewFTPUploader(FTPConfig{Addr: "ftp.example.com:21", User: "u", Password: "p", Dir: "/www/data"}, zurich(t))
	u.dial = func(ctx context.Context, addr string, timeout time.Duration) (ftpConn, error) {
		assert.Equal(t, "ftp.example.com:21", addr)
		assert.Equal(t, 30*time.Second, timeout)
		return conn, nil
	}

	require.NoError(t, u.Publish(context.Background(), sampleRecords()))
	assert.Equal(t, "/www/data", conn.dir)
	assert.Contains(t, conn.stored[".forecast.csv.part"], "validdate,model,criterion")
	assert.Equal(t, [][2]string{{".forecast.csv.part", "forecast.csv"}}, conn.renamed)
	assert.True(t, conn.quit)

	failing := &fakeFTP{stored: make(map[string]string), failOn: "login"}
	u.dial = func(context.Context, string, time.Duration) (ftpConn, error) { return failing, nil }
	err := u.Publish(context.Background(), sampleRecords())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ftp login")
	assert.Empty(t, failing.renamed)
}

type fakeWriter struct {
	msgs []kafkago.Message
	err  error
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafkago.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestKafkaSink(t *testing.T) {
	fw := &fakeWriter{}
	sink := &KafkaSink{writer: fw, logger: slog.New(slog.NewTextHandler(io.Discard, nil))}

	require.NoError(t, sink.Publish(context.Background(), sampleRecords()))
	require.Len(t, fw.msgs, 2)
	assert.Equal(t, "gusts|Quinten, wind_gusts_10m:kmh|2026-10-17T08:10:00Z", string(fw.msgs[0].Key))
	assert.Contains(t, string(fw.msgs[1].Value), `"std":null`)
	assert.Equal(t, "model", fw.msgs[0].Headers[0].Key)

	require.NoError(t, sink.Publish(context.Background(), nil))
	assert.Len(t, fw.msgs, 2)

	fw.err = errors.New("broker down")
	assert.Error(t, sink.Publish(context.Background(), sampleRecords()))
}
