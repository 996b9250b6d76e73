package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/urfave/cli"

	"eventmanager/internal/config"
	"eventmanager/internal/engine"
	logx "eventmanager/pkg/logx"
)

var (
	watchDir   string
	confPath   string
	logPath    string
	concurrent int

	recursiveFlag bool
	refreshFlag   bool
	deleteFlag    bool
	debugFlag     bool
)

func startCommand() cli.Command {
	return cli.Command{
		Name:  "start",
		Usage: "start the engine",
		Flags: []cli.Flag{
			cli.StringFlag{
				Name:        "watch, d",
				Usage:       "watch directory",
				Value:       ".",
				Destination: &watchDir,
			},
			cli.StringFlag{
				Name:        "config, f",
				Usage:       "config file",
				Value:       storedConfigPath(),
				Destination: &confPath,
			},
			cli.StringFlag{
				Name:        "log, l",
				Usage:       "log file (stdout if blank)",
				Destination: &logPath,
			},
			cli.IntFlag{
				Name:        "concurrent, c",
				Usage:       "maximum concurrency",
				Value:       10,
				Destination: &concurrent,
			},
			cli.BoolFlag{
				Name:        "recursive, r",
				Usage:       "watch directory recursively",
				Destination: &recursiveFlag,
			},
			cli.BoolFlag{
				Name:        "auto-refresh, a",
				Usage:       "reload when the config file is updated",
				Destination: &refreshFlag,
			},
			cli.BoolFlag{
				Name:        "delete, e",
				Usage:       "delete files after finishing jobs",
				Destination: &deleteFlag,
			},
			cli.BoolFlag{
				Name:        "verbose, v",
				Usage:       "debug mode",
				Destination: &debugFlag,
			},
		},
		Action: start,
	}
}

func start(_ *cli.Context) error {
	base, err := config.GeneralConfig{
		Watch:      watchDir,
		Conf:       confPath,
		Log:        logPath,
		Concurrent: concurrent,
		Recursive:  recursiveFlag,
		Refresh:    refreshFlag,
		Delete:     deleteFlag,
		Debug:      debugFlag,
	}.Resolve()
	if err != nil {
		return err
	}

	level := "info"
	if base.Debug {
		level = "debug"
	}
	logSvc, log := logx.New(logx.Config{
		Level:   level,
		Console: base.Log == "",
		File:    logx.FileConfig{Enabled: base.Log != "", Path: base.Log},
	})
	defer logSvc.Close()

	eng, err := engine.New(base, logSvc, log)
	if err != nil {
		// Fatal startup validation: exit non-zero before Running.
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// SIGHUP reloads without waiting for a config-file change record.
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for range hup {
			_ = eng.Reload()
		}
	}()

	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	err = eng.Run(ctx)
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	return err
}
