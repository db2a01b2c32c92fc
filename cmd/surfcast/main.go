package main

import (
	"github.com/alecthomas/kong"
	kongdotenv "github.com/titusjaka/kong-dotenv-go"

	"github.com/lox/surfcast/internal/config"
)

type CLI struct {
	config.Globals

	Run      RunCmd      `cmd:"" default:"1" help:"Refresh forecasts continuously and serve the status API."`
	Once     OnceCmd     `cmd:"" help:"Run a single refresh cycle and exit."`
	Discover DiscoverCmd `cmd:"" help:"Rebuild the parameter/station map around the point of interest."`
	Cache    CacheCmd    `cmd:"" help:"Manage the request cache."`
	Notify   NotifyCmd   `cmd:"" help:"Send a message through the notification channel."`
	Status   StatusCmd   `cmd:"" help:"Show the most recent refresh cycle."`
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("surfcast"),
		kong.Description("Incremental wind forecast refresh service."),
		kong.UsageOnError(),
		kong.Configuration(kongdotenv.ENVFileReader, ".env"),
	)
	ctx.FatalIfErrorf(ctx.Run(&cli.Globals))
}
