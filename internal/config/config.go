// Package config holds the settings shared by every surfcast command.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lox/surfcast/internal/features"
	"github.com/lox/surfcast/internal/geo"
	"github.com/lox/surfcast/internal/ingest"
	"github.com/lox/surfcast/internal/meteo"
	"github.com/lox/surfcast/internal/publish"
)

// Globals are flags accepted by every command. Each flag can also be set
// through its SURFCAST_* environment variable or a .env file.
type Globals struct {
	DB        string `help:"Path to the SQLite database." default:"data/surfcast.db" env:"SURFCAST_DB" type:"path"`
	CacheDir  string `help:"Directory of the request cache." default:"data/cache" env:"SURFCAST_CACHE_DIR" type:"path"`
	ModelsDir string `help:"Directory of model bundles." default:"models" env:"SURFCAST_MODELS_DIR" type:"path"`
	Output    string `help:"Path of the forecast CSV artifact." default:"data/forecast.csv" env:"SURFCAST_OUTPUT" type:"path"`
	Timezone  string `help:"Zone of published valid dates." default:"Europe/Zurich" env:"SURFCAST_TIMEZONE"`

	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info" env:"SURFCAST_LOG_LEVEL" enum:"debug,info,warn,error"`
	LogFormat string `help:"Log format (text, json)." default:"text" env:"SURFCAST_LOG_FORMAT" enum:"text,json"`

	Latitude  float64  `help:"Latitude of the point of interest." default:"47.12885" env:"SURFCAST_LAT"`
	Longitude float64  `help:"Longitude of the point of interest." default:"9.21567" env:"SURFCAST_LON"`
	RadiusKM  float64  `name:"radius-km" help:"Station search radius in kilometres." default:"50" env:"SURFCAST_RADIUS_KM"`
	Params    []string `name:"param" help:"Observed parameters." default:"wind_speed_10m:kmh,wind_gusts_10m:kmh,wind_dir_10m:d,msl_pressure:hPa,t_2m:C,global_rad:W" env:"SURFCAST_PARAMS" sep:","`

	ProviderURL      string        `help:"Weather provider base URL." default:"https://api.meteomatics.com" env:"SURFCAST_PROVIDER_URL"`
	ProviderUser     string        `help:"Weather provider username." env:"SURFCAST_PROVIDER_USER"`
	ProviderPassword string        `help:"Weather provider password." env:"SURFCAST_PROVIDER_PASSWORD"`
	ProviderRetry    time.Duration `help:"How long one provider request is retried." default:"1m" env:"SURFCAST_PROVIDER_RETRY"`
	Model            string        `help:"Provider observation model." default:"mix-obs" env:"SURFCAST_MODEL"`

	Interval      time.Duration `help:"Provider sampling interval." default:"10m" env:"SURFCAST_INTERVAL"`
	Period        time.Duration `help:"Refresh period." default:"2m" env:"SURFCAST_PERIOD"`
	MaxProbes     int           `help:"Latest-timestamp probes per cycle." default:"6" env:"SURFCAST_MAX_PROBES"`
	RollingWindow int           `help:"Feature smoothing window." default:"3" env:"SURFCAST_ROLLING_WINDOW"`
	DiffWindow    int           `help:"Window of the smoothed first differences." default:"2" env:"SURFCAST_DIFF_WINDOW"`
	DataWindow    int           `help:"Complete feature rows per cycle." default:"1" env:"SURFCAST_DATA_WINDOW"`
	History       time.Duration `help:"How long refresh runs and provider call audits are kept (0 keeps them)." default:"168h" env:"SURFCAST_HISTORY"`

	FTPAddr     string `name:"ftp-addr" help:"Upload the artifact to this FTP server (host:port)." env:"SURFCAST_FTP_ADDR"`
	FTPUser     string `name:"ftp-user" help:"FTP username." env:"SURFCAST_FTP_USER"`
	FTPPassword string `name:"ftp-password" help:"FTP password." env:"SURFCAST_FTP_PASSWORD"`
	FTPDir      string `name:"ftp-dir" help:"Remote directory of the upload." env:"SURFCAST_FTP_DIR"`

	KafkaBrokers []string `help:"Publish forecast records to these Kafka brokers." env:"SURFCAST_KAFKA_BROKERS" sep:","`
	KafkaTopic   string   `help:"Kafka topic of forecast records." default:"surfcast.forecasts" env:"SURFCAST_KAFKA_TOPIC"`

	TelegramToken string `help:"Telegram bot token. Notifications are logged when empty." env:"SURFCAST_TELEGRAM_TOKEN"`
}

// Validate is called by kong after parsing.
func (g *Globals) Validate() error {
	var errs []error
	if _, err := time.LoadLocation(g.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("timezone: %w", err))
	}
	if g.Latitude < -90 || g.Latitude > 90 {
		errs = append(errs, fmt.Errorf("latitude %v out of range", g.Latitude))
	}
	if g.Longitude < -180 || g.Longitude > 180 {
		errs = append(errs, fmt.Errorf("longitude %v out of range", g.Longitude))
	}
	if g.RadiusKM <= 0 {
		errs = append(errs, errors.New("radius must be positive"))
	}
	if len(g.Params) == 0 {
		errs = append(errs, errors.New("at least one parameter is required"))
	}
	if g.Interval <= 0 || g.Period <= 0 {
		errs = append(errs, errors.New("interval and period must be positive"))
	}
	if g.History < 0 {
		errs = append(errs, errors.New("history must not be negative"))
	}
	if g.MaxProbes < 1 {
		errs = append(errs, errors.New("max probes must be at least 1"))
	}
	if g.RollingWindow < 1 || g.DiffWindow < 1 || g.DataWindow < 1 {
		errs = append(errs, errors.New("feature windows must be at least 1"))
	}
	if g.FTPAddr != "" && g.FTPUser == "" {
		errs = append(errs, errors.New("ftp-user is required with ftp-addr"))
	}
	if len(g.KafkaBrokers) > 0 && strings.TrimSpace(g.KafkaTopic) == "" {
		errs = append(errs, errors.New("kafka-topic is required with kafka-brokers"))
	}
	return errors.Join(errs...)
}

func (g *Globals) Location() (*time.Location, error) {
	return time.LoadLocation(g.Timezone)
}

func (g *Globals) PointOfInterest() geo.Point {
	return geo.Point{Lat: g.Latitude, Lon: g.Longitude}
}

// SearchRegion is the buffered point of interest used for station discovery.
func (g *Globals) SearchRegion() geo.Region {
	return geo.Buffer(g.PointOfInterest(), g.RadiusKM*1000, 64)
}

func (g *Globals) ProviderConfig() meteo.Config {
	return meteo.Config{
		BaseURL:    g.ProviderURL,
		Username:   g.ProviderUser,
		Password:   g.ProviderPassword,
		MaxElapsed: g.ProviderRetry,
	}
}

func (g *Globals) PipelineConfig() (features.Config, ingest.SchedulerConfig) {
	fc := features.DefaultConfig()
	fc.RollingWindow = g.RollingWindow
	fc.DiffWindow = g.DiffWindow
	fc.DataWindow = g.DataWindow

	sc := ingest.SchedulerConfig{
		Interval:  g.Interval,
		Period:    g.Period,
		MaxProbes: g.MaxProbes,
		History:   g.History,
	}
	return fc, sc
}

// FTPConfig returns the upload target, or false when uploads are disabled.
func (g *Globals) FTPConfig() (publish.FTPConfig, bool) {
	if g.FTPAddr == "" {
		return publish.FTPConfig{}, false
	}
	return publish.FTPConfig{
		Addr:     g.FTPAddr,
		User:     g.FTPUser,
		Password: g.FTPPassword,
		Dir:      g.FTPDir,
	}, true
}
