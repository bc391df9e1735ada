// Copyright (C) 2025 Josh Simonot
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package main

import (
	"context"
	"os"

	"pidloop/internal/config"
	"pidloop/internal/datalog"
	"pidloop/internal/history"
	"pidloop/internal/loop"
	"pidloop/internal/loopweb"
	"pidloop/pkg/appctx"
	"pidloop/pkg/eventbus"
	"pidloop/pkg/logger"
	"pidloop/pkg/modbus"
	"pidloop/pkg/rootserv"
	"pidloop/pkg/service"
	"pidloop/pkg/sysmon"

	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	var configPath string
	var debug bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the configured loops with the web API",
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := run(cmd.Context(), config.Path(configPath), debug)
			if err != nil {
				return err
			}
			if code != 0 {
				os.Exit(code)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "config file (default $"+config.EnvPath+" or "+config.DefaultPath+")")
	cmd.Flags().BoolVar(&debug, "debug", false, "enable debug logs")
	return cmd
}

func run(parent context.Context, configPath string, debug bool) (int, error) {
	appConf, err := config.Load(configPath)
	if err != nil {
		return 1, err
	}
	if err := logger.Init(appConf.LogFile); err != nil {
		return 1, err
	}
	defer logger.Close()
	if debug {
		logger.EnableDebug(true)
	}
	log := logger.New("Main")
	log.Info("config %s, %d loop(s)", configPath, len(appConf.Loops))

	// use conf to pass eventbus to whoever needs it
	appConf.EventBus = eventbus.New()
	defer appConf.EventBus.Close()

	var modbusClient *modbus.Client
	if appConf.Modbus != nil {
		modbusClient = modbus.NewClient(appConf.Modbus)
		defer modbusClient.Close()
	}

	if parent == nil {
		parent = context.Background()
	}
	ctx, ctxCancel := appctx.New(parent)
	defer ctxCancel()

	// init services
	loops, err := loop.NewSet(appConf, modbusClient)
	if err != nil {
		return 1, err
	}
	server := rootserv.New(appConf.HTTPAddr)
	sysMonitorService := sysmon.New(appConf.DataDir)
	historyService := history.New(appConf.EventBus, loops.Names(), appConf.DataDir)
	webService := loopweb.New(loops, historyService, appConf.EventBus)
	dataLoggerService := datalog.New(appConf.DataLogger, historyService)

	// attach web handler enabled services
	server.Attach("/", "PID Loops", webService)
	server.Attach("/logger", "Logger", logger.WebService("/logger"))
	server.Attach("/monitor", "System Monitor", sysMonitorService)
	if modbusClient != nil {
		server.Attach("/modbus", "Modbus Registers", modbusClient.WebService())
	}

	// start runnable services
	exitCh := service.Start(ctx, ctxCancel, []service.Runnable{
		service.Func(loops.Run),
		historyService,
		webService,
		dataLoggerService,
		server,
	})

	// waits for all services to stop
	return <-exitCh, nil
}
