package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lox/surfcast/internal/api"
	"github.com/lox/surfcast/internal/config"
	"github.com/lox/surfcast/internal/ingest"
	"github.com/lox/surfcast/internal/models"
	"github.com/lox/surfcast/internal/notify"
	"github.com/lox/surfcast/internal/store"
)

type RunCmd struct {
	Port       string        `help:"Status API port." default:"8080" env:"SURFCAST_PORT"`
	NoAPI      bool          `name:"no-api" help:"Refresh only, without the status API."`
	StaleAfter time.Duration `help:"Age of the newest data at which /health degrades." default:"30m" env:"SURFCAST_STALE_AFTER"`
}

func (c *RunCmd) Run(g *config.Globals) error {
	a, err := newApp(g)
	if err != nil {
		return err
	}
	defer a.Close()

	sched, closeSinks, err := a.scheduler()
	if err != nil {
		return err
	}
	defer closeSinks()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if c.NoAPI {
		sched.Run(ctx)
		return nil
	}

	go sched.Run(ctx)

	server := api.NewServer(a.store, c.Port, a.loc, a.logger)
	server.SetStaleAfter(c.StaleAfter)
	if err := server.Run(ctx); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

type OnceCmd struct{}

func (c *OnceCmd) Run(g *config.Globals) error {
	a, err := newApp(g)
	if err != nil {
		return err
	}
	defer a.Close()

	sched, closeSinks, err := a.scheduler()
	if err != nil {
		return err
	}
	defer closeSinks()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	res, err := sched.RunCycle(ctx)
	switch {
	case errors.Is(err, ingest.ErrNoRecentData):
		a.logger.Info("no recent data", "run_id", res.RunID)
		return nil
	case err != nil:
		return err
	}
	fmt.Printf("%s %s data_end=%s records=%d pruned=%d\n",
		res.RunID, res.Result, res.DataEnd.In(a.loc).Format(time.RFC3339), res.Records, res.Pruned)
	return nil
}

type DiscoverCmd struct {
	Lookback time.Duration `help:"Window over which stations must have reported." default:"24h"`
	DryRun   bool          `help:"Print the map without storing it."`
}

func (c *DiscoverCmd) Run(g *config.Globals) error {
	a, err := newApp(g)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	end := time.Now().UTC().Truncate(g.Interval)
	window := models.Window{Start: end.Add(-c.Lookback), End: end, Interval: g.Interval}

	pairs, stations := a.acquirer.BuildParamStations(ctx, g.Params, g.SearchRegion(), window)
	if len(pairs) == 0 {
		return errors.New("no stations found, keeping the current map")
	}

	for _, p := range pairs {
		fmt.Printf("%-24s %-32s %.5f,%.5f\n", p.Parameter, p.StationName, p.Latitude, p.Longitude)
	}
	if c.DryRun {
		return nil
	}

	if err := a.store.UpsertStations(stations); err != nil {
		return fmt.Errorf("store stations: %w", err)
	}
	if err := a.store.ReplaceParamStations(pairs); err != nil {
		return fmt.Errorf("store parameter map: %w", err)
	}
	a.logger.Info("parameter map rebuilt", "pairs", len(pairs), "stations", len(stations))
	return nil
}

type CacheCmd struct {
	Clear CacheClearCmd `cmd:"" help:"Remove every cache entry."`
	List  CacheListCmd  `cmd:"" help:"List cache keys."`
}

type CacheClearCmd struct{}

func (c *CacheClearCmd) Run(g *config.Globals) error {
	a, err := newApp(g)
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.cache.Clear()
	if err != nil {
		return err
	}
	a.logger.Info("cache cleared", "dir", a.cache.Dir(), "entries", n)
	return nil
}

type CacheListCmd struct{}

func (c *CacheListCmd) Run(g *config.Globals) error {
	a, err := newApp(g)
	if err != nil {
		return err
	}
	defer a.Close()

	keys, err := a.cache.Keys()
	if err != nil {
		return err
	}
	for _, k := range keys {
		fmt.Println(k)
	}
	return nil
}

type NotifyCmd struct {
	To   string `help:"Recipient chat id." required:""`
	Text string `help:"Message text. A verification code is sent when empty."`
}

func (c *NotifyCmd) Run(g *config.Globals) error {
	a, err := newApp(g)
	if err != nil {
		return err
	}
	defer a.Close()

	var n notify.Notifier = notify.NewLog(a.logger)
	if g.TelegramToken != "" {
		n = notify.NewTelegram(g.TelegramToken, a.logger)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if c.Text != "" {
		err = n.Send(ctx, c.To, c.Text)
	} else {
		var code string
		code, err = notify.NewVerificationCode()
		if err != nil {
			return err
		}
		err = n.SendVerification(ctx, c.To, code)
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stderr, "sent")
	return nil
}

// StatusCmd prints the outcome of the most recent cycle.
type StatusCmd struct{}

func (c *StatusCmd) Run(g *config.Globals) error {
	a, err := newApp(g)
	if err != nil {
		return err
	}
	defer a.Close()

	run, err := a.store.LatestRefreshRun()
	if err != nil {
		return err
	}
	if run == nil {
		fmt.Println("no refresh runs")
		return nil
	}
	fmt.Printf("%s %s started=%s", run.RunID, run.Result, run.StartedAt.In(a.loc).Format(time.RFC3339))
	if run.DataEnd.Valid {
		fmt.Printf(" data_end=%s", run.DataEnd.Time.In(a.loc).Format(time.RFC3339))
	}
	if run.Result == store.ResultSuccess {
		fmt.Printf(" records=%d", run.Records.Int64)
	}
	if run.ErrorMessage.Valid {
		fmt.Printf(" error=%q", run.ErrorMessage.String)
	}
	fmt.Println()
	return nil
}
