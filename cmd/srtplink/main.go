// Srtplink - GE-SRTP PLC Gateway
//
// A headless gateway that polls GE / Emerson PLCs over SRTP and
// republishes tag changes to MQTT, Valkey, and Kafka.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"srtplink/config"
	"srtplink/kafka"
	"srtplink/logging"
	"srtplink/mqtt"
	"srtplink/plcman"
	"srtplink/valkey"
)

// Version is set at build time via -ldflags
var Version = "dev"

const defaultNamespace = "srtplink"

func main() {
	configPath := flag.String("config", config.DefaultPath(), "Path to configuration file")
	debugFlag := flag.Bool("debug", false, "Enable protocol debug logging")
	debugFilter := flag.String("debug-filter", "", "Comma-separated protocol filter for debug logging (e.g. srtp,kafka)")
	logFile := flag.String("logfile", "", "Write session events to the given file")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("srtplink %s\n", Version)
		os.Exit(0)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	namespace := cfg.Namespace
	if namespace == "" {
		namespace = defaultNamespace
	}

	// Set up protocol debug logging (flag overrides config)
	if *debugFlag || cfg.Debug.Enabled {
		path := cfg.Debug.Path
		if path == "" {
			path = "debug.log"
		}
		debugLogger, err := logging.NewDebugLogger(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: debug logging disabled: %v\n", err)
		} else {
			filter := cfg.Debug.Filter
			if *debugFilter != "" {
				filter = *debugFilter
			}
			debugLogger.SetFilter(filter)
			logging.SetGlobalDebugLogger(debugLogger)
			defer debugLogger.Close()
		}
	}

	// Set up the session event log. Connection transitions and lifecycle
	// events land here; protocol traffic stays in the debug log.
	var eventLog *logging.FileLogger
	if *logFile != "" {
		eventLog, err = logging.NewFileLogger(*logFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: session logging disabled: %v\n", err)
			eventLog = nil
		} else {
			defer eventLog.Close()
		}
	}
	logEvent := func(format string, args ...interface{}) {
		if eventLog != nil {
			eventLog.Log(format, args...)
		}
	}

	// Create PLC manager and load configured PLCs
	manager := plcman.NewManager(cfg.PollRate)
	manager.LoadFromConfig(cfg)

	// Create MQTT manager. Publishers without a root topic fall back to
	// the instance namespace.
	for i := range cfg.MQTT {
		if cfg.MQTT[i].RootTopic == "" {
			cfg.MQTT[i].RootTopic = namespace
		}
	}
	mqttMgr := mqtt.NewManager()
	mqttMgr.LoadFromConfig(cfg.MQTT)

	// Create Valkey manager
	valkeyMgr := valkey.NewManager(namespace)
	valkeyMgr.LoadFromConfig(cfg.Valkey)

	// Create Kafka manager
	kafkaMgr := kafka.NewManager()
	kafkaMgr.LoadFromConfigs(cfg.Kafka)

	// Fan out value changes to all publishers.
	// MQTT, Valkey, and Kafka run in separate goroutines to avoid blocking each other.
	manager.SetOnValueChange(func(changes []plcman.ValueChange) {
		mqttRunning := mqttMgr.AnyRunning()
		valkeyRunning := valkeyMgr.AnyRunning()
		kafkaPublishing := kafkaMgr.AnyPublishing()

		if !mqttRunning && !valkeyRunning && !kafkaPublishing {
			return
		}

		// Copy changes for goroutines
		changesCopy := make([]plcman.ValueChange, len(changes))
		copy(changesCopy, changes)

		if mqttRunning {
			go func() {
				for _, c := range changesCopy {
					// force=true: change detection already ran in the poll loop
					mqttMgr.Publish(c.PLCName, c.TagName, c.Address, c.Value, true)
				}
			}()
		}

		if valkeyRunning {
			go func() {
				for _, c := range changesCopy {
					valkeyMgr.Publish(c.PLCName, c.TagName, c.Address, c.Value)
				}
			}()
		}

		if kafkaPublishing {
			go func() {
				for _, c := range changesCopy {
					kafkaMgr.Publish(c.PLCName, c.TagName, c.Address, c.Value, true)
				}
			}()
		}
	})

	// Publish the full current value set when a Valkey server (re)connects
	valkeyMgr.SetOnConnectCallback(func() {
		for _, c := range manager.GetAllCurrentValues() {
			valkeyMgr.Publish(c.PLCName, c.TagName, c.Address, c.Value)
		}
	})

	// Publish health transitions. Status changes also go to the session
	// log, once per transition.
	lastStatus := make(map[string]string)
	manager.SetOnChange(func() {
		for _, plc := range manager.ListPLCs() {
			status := plc.GetStatus()
			online := status == plcman.StatusConnected
			errMsg := ""
			if err := plc.GetError(); err != nil {
				errMsg = err.Error()
			}
			if s := status.String(); lastStatus[plc.Config.Name] != s {
				lastStatus[plc.Config.Name] = s
				if errMsg != "" {
					logEvent("PLC %s: %s (%s)", plc.Config.Name, s, errMsg)
				} else {
					logEvent("PLC %s: %s", plc.Config.Name, s)
				}
			}
			valkeyMgr.PublishHealth(plc.Config.Name, "srtp", online, status.String(), errMsg)
			kafkaMgr.PublishHealth(plc.Config.Name, online, status.String(), errMsg)
		}
	})

	// Start manager polling
	manager.Start()

	// Auto-connect enabled PLCs first (so we have values to publish)
	manager.ConnectEnabled()

	// Auto-start enabled MQTT publishers in background
	go func() {
		if started := mqttMgr.StartAll(); started > 0 {
			for _, c := range manager.GetAllCurrentValues() {
				mqttMgr.Publish(c.PLCName, c.TagName, c.Address, c.Value, true)
			}
		}
	}()

	// Auto-start enabled Valkey publishers in background
	// (initial sync runs via the on-connect callback)
	go valkeyMgr.StartAll()

	// Auto-connect enabled Kafka clusters in background
	go kafkaMgr.ConnectEnabled()

	fmt.Printf("srtplink %s started, namespace %q, %d PLCs configured\n",
		Version, namespace, len(cfg.PLCs))
	logEvent("srtplink %s started, namespace %q, %d PLCs configured",
		Version, namespace, len(cfg.PLCs))

	// Run until interrupted
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	fmt.Println("shutting down")
	logEvent("srtplink shutting down")
	manager.Stop()
	manager.DisconnectAll()
	mqttMgr.StopAll()
	valkeyMgr.StopAll()
	kafkaMgr.StopAll()
}
