// flashforge-host drives the Flashforge load cell and air quality hardware
// over a serial MCU link: synchronous operator commands, the recurring
// safety sampler, and an HTTP/WebSocket telemetry surface.
//
// Copyright (C) 2026  Flashforge Host Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/cobra"

	"flashforge-host/pkg/command"
	"flashforge-host/pkg/config"
	"flashforge-host/pkg/hosterr"
	"flashforge-host/pkg/loadcell"
	"flashforge-host/pkg/log"
	"flashforge-host/pkg/mculink"
	"flashforge-host/pkg/printjob"
	"flashforge-host/pkg/reactor"
	"flashforge-host/pkg/safety"
	"flashforge-host/pkg/sensor"
	"flashforge-host/pkg/serial"
	"flashforge-host/pkg/status"
	"flashforge-host/pkg/tvoc"
)

const identifyTimeout = 5.0

var (
	configPath string
	tcpAddr    string
	listenAddr string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "flashforge-host",
	Short: "Host controller for Flashforge load cell and air quality sensors",
	Long: `flashforge-host connects to the printer MCU over a serial link (or TCP,
for a simulated MCU), exposes the load cell operator commands, runs the
force safety monitor, and serves telemetry over HTTP and WebSocket.

Commands can also be entered interactively on stdin.`,
	Version:      "1.0.0",
	SilenceUsage: true,
}

func init() {
	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return runHost()
	}
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "flashforge-host.cfg", "Configuration file")
	rootCmd.Flags().StringVar(&tcpAddr, "tcp", "", "Connect to a TCP MCU instead of the configured serial port")
	rootCmd.Flags().StringVarP(&listenAddr, "listen", "l", ":7130", "Telemetry listen address (empty to disable)")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// linkAdapter narrows *mculink.Link to the device-facing interfaces. The
// indirection keeps a missing command as an untyped nil.
type linkAdapter struct {
	link *mculink.Link
}

func (a *linkAdapter) TryLookupCommand(template string) loadcell.MCUCommand {
	if cmd := a.link.TryLookupCommand(template); cmd != nil {
		return cmd
	}
	return nil
}

func (a *linkAdapter) RegisterResponse(name string, handler mculink.ResponseHandler) {
	a.link.RegisterResponse(name, handler)
}

func (a *linkAdapter) EstimatedPrintTime(eventtime float64) (float64, error) {
	return a.link.EstimatedPrintTime(eventtime)
}

func openTransport(cfg *config.Config) (io.ReadWriteCloser, error) {
	if tcpAddr != "" {
		return net.Dial("tcp", tcpAddr)
	}

	mcuSection, err := cfg.GetSection("mcu")
	if err != nil {
		return nil, err
	}
	device, err := mcuSection.Get("serial")
	if err != nil {
		return nil, err
	}
	baud, err := mcuSection.GetInt("baud", 115200)
	if err != nil {
		return nil, err
	}
	return serial.Open(serial.Config{Device: device, BaudRate: baud})
}

func runHost() error {
	log.SetDefaultLevel(log.ParseLevel(logLevel))
	logger := log.GetLogger("host")

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	r := reactor.New()
	r.Run()
	defer func() {
		r.End()
		r.Wait()
	}()

	safetyMgr := safety.New()
	jobs := printjob.New()
	registry := command.NewRegistry()
	jobs.RegisterCommands(registry)

	registry.Register("EMERGENCY_STOP", func(req *command.Request) error {
		safetyMgr.EmergencyStop("operator emergency stop")
		req.Respond("Emergency stop invoked")
		return nil
	}, "Shut the host down immediately")

	transport, err := openTransport(cfg)
	if err != nil {
		return err
	}
	link := mculink.NewLink(transport, r)
	defer link.Close()

	if err := link.Identify(identifyTimeout); err != nil {
		return err
	}
	mcuName, mcuVersion := link.MCUInfo()
	adapter := &linkAdapter{link: link}

	// Load cell devices and their safety monitors.
	cells := make(map[string]*loadcell.LoadCell)
	for _, section := range cfg.SectionsWithPrefix("flashforge_loadcell") {
		lc, err := loadcell.New(section, adapter, r)
		if err != nil {
			return err
		}
		if err := lc.HandleConnect(); err != nil {
			return err
		}
		lc.RegisterCommands(registry)
		cells[lc.Name()] = lc
		logger.Info("load cell '%s' ready", lc.Name())
	}

	sensors := sensor.NewRegistry()
	var monitors []*loadcell.Monitor
	sensors.RegisterType("flashforge_loadcell", func(section *config.Section) (sensor.Sensor, error) {
		lc := cells[section.InstanceName()]
		if lc == nil {
			return nil, fmt.Errorf("no [flashforge_loadcell %s] section for this sensor",
				section.InstanceName())
		}
		m, err := loadcell.NewMonitor(section, lc, r, safetyMgr, jobs)
		if err != nil {
			return nil, err
		}
		m.RegisterCommands(registry)
		monitors = append(monitors, m)
		return m, nil
	})

	airSensors := make(map[string]*tvoc.Sensor)
	airDevices := make(map[string]*tvoc.TVOC)
	sensors.RegisterType("flashforge_tvoc", func(section *config.Section) (sensor.Sensor, error) {
		tv, err := tvoc.New(section, adapter, r)
		if err != nil {
			return nil, err
		}
		tv.RegisterCommands(registry)
		airDevices[tv.Name()] = tv
		s := tvoc.NewSensor(tv, r)
		airSensors[tv.Name()] = s
		return s, nil
	})

	for _, section := range cfg.SectionsWithPrefix("loadcell_sensor") {
		if _, err := sensors.Create("flashforge_loadcell", section); err != nil {
			return err
		}
	}
	for _, section := range cfg.SectionsWithPrefix("flashforge_tvoc") {
		if _, err := sensors.Create("flashforge_tvoc", section); err != nil {
			return err
		}
	}

	safetyMgr.OnShutdown(func(reason safety.Reason, msg string) {
		logger.Error("host shut down (%s): %s", reason, msg)
	})

	registerSensorQuery(registry, sensors, r)

	// Telemetry producers back both the status server and the STATUS
	// operator command.
	producers := telemetryProducers(mcuName, mcuVersion, safetyMgr, jobs,
		cells, monitors, airDevices, sensors)

	registry.Register("STATUS", func(req *command.Request) error {
		names := make([]string, 0, len(producers))
		for name := range producers {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			buf, err := json.Marshal(producers[name]())
			if err != nil {
				return err
			}
			req.Respondf("%s: %s", name, buf)
		}
		return nil
	}, "Report the status of every module")

	// Telemetry surface. The [status_server] config section supplies the
	// listen address unless the flag overrides it.
	if cfg.HasSection("status_server") && !rootCmd.Flags().Changed("listen") {
		listenAddr, err = cfg.GetSectionOrEmpty("status_server").Get("listen", listenAddr)
		if err != nil {
			return err
		}
	}
	if listenAddr != "" {
		server := status.New(listenAddr, registry)
		for name, fn := range producers {
			server.RegisterProducer(name, fn)
		}
		if err := server.Start(); err != nil {
			return err
		}
		defer server.Stop()
	}

	// Arm the recurring samplers once everything is connected.
	for _, m := range monitors {
		m.Start()
	}
	for _, s := range airSensors {
		s.Start()
	}

	logger.Info("connected to mcu '%s' (%s); %d load cell(s)", mcuName, mcuVersion, len(cells))

	go commandConsole(registry)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down")
	return nil
}

// telemetryProducers assembles the per-module snapshot functions backing the
// status server and the STATUS operator command.
func telemetryProducers(mcuName, mcuVersion string, safetyMgr *safety.Manager,
	jobs *printjob.Controller, cells map[string]*loadcell.LoadCell,
	monitors []*loadcell.Monitor, air map[string]*tvoc.TVOC,
	sensors *sensor.Registry) map[string]func() interface{} {

	producers := map[string]func() interface{}{
		"mcu": func() interface{} {
			return map[string]string{"name": mcuName, "version": mcuVersion}
		},
		"safety":    func() interface{} { return safetyMgr.GetStatus() },
		"print_job": func() interface{} { return jobs.GetStatus() },
		"sensors": func() interface{} {
			names := sensors.Names()
			sort.Strings(names)
			return names
		},
	}
	for name, lc := range cells {
		lc := lc
		producers["flashforge_loadcell "+name] = func() interface{} { return lc.GetStatus() }
	}
	for _, m := range monitors {
		m := m
		producers["loadcell_sensor "+m.GetName()] = func() interface{} { return m.GetStatus() }
	}
	for name, tv := range air {
		tv := tv
		producers["flashforge_tvoc "+name] = func() interface{} { return tv.GetStatus() }
	}
	return producers
}

// registerSensorQuery installs the generic sensor inspection command. It
// works across sensor types through the registry rather than any concrete
// device.
func registerSensorQuery(registry *command.Registry, sensors *sensor.Registry, r *reactor.Reactor) {
	registry.Register("QUERY_SENSOR", func(req *command.Request) error {
		name, err := req.GetRequired("NAME")
		if err != nil {
			return err
		}
		s := sensors.Lookup(name)
		if s == nil {
			return hosterr.CommandParam(req.Name, "NAME",
				fmt.Sprintf("unknown sensor '%s'", name))
		}
		value, _ := s.GetValue(r.Monotonic())
		req.Respondf("%s: value=%.0f report_interval=%.1fs",
			s.GetName(), value, s.GetReportTimeDelta())
		return nil
	}, "Report a sensor's current value")
}

// commandConsole feeds stdin lines through the operator command registry.
func commandConsole(registry *command.Registry) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		err := registry.Run(line, func(msg string) {
			fmt.Println(msg)
		})
		if err != nil {
			fmt.Printf("!! %v\n", err)
		}
	}
}
