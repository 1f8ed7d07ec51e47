// Command yeelightctl discovers Yeelight bulbs on the local network and
// prints their state, caching a device id -> name/capability record across
// runs.
package main

import (
	"flag"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/lumenhouse/yeelight"

	"github.com/MatusOllah/slogcolor"
)

const configFile = "yeelightctl.yaml"

var isVerbose = flag.Bool("verbose", false, "Enable display of DEBUG log messages")
var timeout = flag.Duration("timeout", 2*time.Second, "How long to wait for bulb replies")

func main() {
	flag.Parse()

	opts := slogcolor.DefaultOptions
	if *isVerbose {
		opts.Level = slog.LevelDebug
	} else {
		opts.Level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slogcolor.NewHandler(os.Stderr, opts)))

	conf := config{}
	if err := conf.load(configFile); err != nil {
		if os.IsNotExist(err) {
			slog.Warn("Configuration file does not exist", "fn", configFile)
		} else {
			slog.Error("Unable to load configuration file", "fn", configFile, "err", err)
		}
	}
	defer func() {
		if err := conf.write(configFile); err != nil {
			slog.Error("Error writing out configuration file", "fn", configFile, "err", err)
		}
	}()

	client, err := yeelight.New()
	if err != nil {
		slog.Error("Unable to create discovery client", "err", err)
		os.Exit(1)
	}
	defer client.Close()

	slog.Info("Searching for bulbs", "timeout", *timeout)
	devices := client.FindLights(*timeout)
	slog.Info("Discovery complete", "count", len(devices))

	for _, d := range devices {
		support := make([]string, 0, len(d.Support))
		for m := range d.Support {
			support = append(support, m)
		}
		sort.Strings(support)

		name := conf.seen(d.ID, support)
		slog.Info("Found bulb", "name", name, "device", d.String())
		slog.Debug("Bulb state", "dump", d.Dump())
		d.Close()
	}
}
