// Copyright (C) 2014-2024 Nippon Telegraph and Telephone Corporation.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/jessevdk/go-flags"
	"github.com/kr/pretty"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/osrg/bgpcep/internal/pkg/metrics"
	"github.com/osrg/bgpcep/internal/pkg/version"
	"github.com/osrg/bgpcep/pkg/config"
	"github.com/osrg/bgpcep/pkg/log"
	"github.com/osrg/bgpcep/pkg/server"
)

var logger = logrus.New()

type options struct {
	ConfigFile       string `short:"f" long:"config-file" description:"specifying a config file"`
	ConfigType       string `short:"t" long:"config-type" description:"specifying config type (toml, yaml, json)" default:"toml"`
	ConfigAutoReload bool   `short:"a" long:"config-auto-reload" description:"activate config auto reload on changes"`
	LogLevel         string `short:"l" long:"log-level" description:"specifying log level"`
	LogPlain         bool   `short:"p" long:"log-plain" description:"use plain format for logging (json by default)"`
	UseSyslog        string `short:"s" long:"syslog" description:"use syslogd"`
	Facility         string `long:"syslog-facility" description:"specify syslog facility"`
	DisableStdlog    bool   `long:"disable-stdlog" description:"disable standard logging"`
	Dry              bool   `short:"d" long:"dry-run" description:"check configuration"`
	PProfHost        string `long:"pprof-host" description:"specify the host that bgpcepd listens on for pprof and metrics" default:"localhost:6060"`
	PProfDisable     bool   `long:"pprof-disable" description:"disable pprof profiling"`
	MetricsPath      string `long:"metrics-path" description:"specify path for prometheus metrics, empty value disables them" default:"/metrics"`
	UseSdNotify      bool   `long:"sdnotify" description:"use sd_notify protocol"`
	Version          bool   `long:"version" description:"show version number"`
}

func setupLogger(opts *options) {
	switch opts.LogLevel {
	case "debug":
		logger.SetLevel(logrus.DebugLevel)
	case "warn":
		logger.SetLevel(logrus.WarnLevel)
	default:
		logger.SetLevel(logrus.InfoLevel)
	}

	if opts.DisableStdlog {
		logger.SetOutput(io.Discard)
	} else {
		logger.SetOutput(os.Stdout)
	}

	if opts.UseSyslog != "" {
		if err := addSyslogHook(opts.UseSyslog, opts.Facility); err != nil {
			logger.Error("Unable to connect to syslog daemon, ", opts.UseSyslog)
		}
	}

	if opts.LogPlain {
		if opts.DisableStdlog {
			logger.SetFormatter(&logrus.TextFormatter{
				DisableColors: true,
			})
		}
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
}

func serveHTTP(opts *options) {
	httpMux := http.NewServeMux()
	if !opts.PProfDisable {
		httpMux.HandleFunc("/debug/pprof/", pprof.Index)
		httpMux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		httpMux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		httpMux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		httpMux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	if opts.MetricsPath != "" {
		httpMux.Handle(opts.MetricsPath, promhttp.Handler())
	}
	if !opts.PProfDisable || opts.MetricsPath != "" {
		go func() {
			logger.Println(http.ListenAndServe(opts.PProfHost, httpMux))
		}()
	}
}

// dryRun checks the config file and prints it back completed with the
// defaults.
func dryRun(opts *options) {
	c, err := config.ReadConfigFile(opts.ConfigFile, opts.ConfigType)
	if err != nil {
		logger.WithFields(logrus.Fields{
			"Topic": "Config",
			"Error": err,
		}).Fatalf("Can't read config file %s", opts.ConfigFile)
	}
	logger.WithFields(logrus.Fields{
		"Topic": "Config",
	}).Info("Finished reading the config file")
	if opts.LogLevel == "debug" {
		pretty.Println(c)
	}
	if err := config.Encode(os.Stdout, c); err != nil {
		logger.WithFields(logrus.Fields{
			"Topic": "Config",
			"Error": err,
		}).Fatal("Can't print the config")
	}
}

func main() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	var opts options
	_, err := flags.Parse(&opts)
	if err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
			os.Exit(0)
		}
		logger.Fatalf("Error parsing flags: %v", err)
	}

	if opts.Version {
		fmt.Println("bgpcepd version", version.Version())
		os.Exit(0)
	}

	setupLogger(&opts)

	if opts.Dry {
		dryRun(&opts)
		os.Exit(0)
	}

	serveHTTP(&opts)

	logger.Info("bgpcepd started")
	bgpServer := server.NewBgpServer(server.LoggerOption(log.NewLogrusLogger(logger)))
	prometheus.MustRegister(metrics.NewBgpCollector(bgpServer))
	go bgpServer.Serve()

	if opts.UseSdNotify {
		if status, err := daemon.SdNotify(false, daemon.SdNotifyReady); !status {
			if err != nil {
				logger.Warnf("Failed to send notification via sd_notify(): %s", err)
			} else {
				logger.Warnf("The socket sd_notify() isn't available")
			}
		}
	}

	if opts.ConfigFile == "" {
		<-sigCh
		stopServer(bgpServer, opts.UseSdNotify)
		return
	}

	signal.Notify(sigCh, syscall.SIGHUP)

	initialConfig, err := config.ReadConfigFile(opts.ConfigFile, opts.ConfigType)
	if err != nil {
		logger.WithFields(logrus.Fields{
			"Topic": "Config",
			"Error": err,
		}).Fatalf("Can't read config file %s", opts.ConfigFile)
	}
	logger.WithFields(logrus.Fields{
		"Topic": "Config",
	}).Info("Finished reading the config file")

	currentConfig, err := server.InitialConfig(context.Background(), bgpServer, initialConfig)
	if err != nil {
		logger.WithFields(logrus.Fields{
			"Topic": "Config",
			"Error": err,
		}).Fatalf("Failed to apply initial configuration %s", opts.ConfigFile)
	}

	if opts.ConfigAutoReload {
		logger.WithFields(logrus.Fields{
			"Topic": "Config",
		}).Info("Watching for config changes to trigger auto-reload")

		// an editor saving the file fires several events in a row
		rateLimiter := rate.Sometimes{Interval: 100 * time.Millisecond}

		config.WatchConfigFile(opts.ConfigFile, opts.ConfigType, func() {
			rateLimiter.Do(func() {
				logger.WithFields(logrus.Fields{
					"Topic": "Config",
				}).Info("Config changes detected, reloading configuration")

				sigCh <- syscall.SIGHUP
			})
		})
	}

	for sig := range sigCh {
		if sig != syscall.SIGHUP {
			stopServer(bgpServer, opts.UseSdNotify)
			return
		}

		logger.WithFields(logrus.Fields{
			"Topic": "Config",
		}).Info("Reload the config file")
		newConfig, err := config.ReadConfigFile(opts.ConfigFile, opts.ConfigType)
		if err != nil {
			logger.WithFields(logrus.Fields{
				"Topic": "Config",
				"Error": err,
			}).Warningf("Can't read config file %s", opts.ConfigFile)
			continue
		}

		currentConfig, err = server.UpdateConfig(context.Background(), bgpServer, currentConfig, newConfig)
		if err != nil {
			logger.WithFields(logrus.Fields{
				"Topic": "Config",
				"Error": err,
			}).Warningf("Failed to update config %s", opts.ConfigFile)
			continue
		}
	}
}

func stopServer(bgpServer *server.BgpServer, useSdNotify bool) {
	logger.Info("stopping bgpcepd server")

	if useSdNotify {
		daemon.SdNotify(false, daemon.SdNotifyStopping)
	}
	bgpServer.Shutdown()
}
