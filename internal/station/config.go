package station

import (
	"fmt"
	"time"

	"github.com/autopeer-io/multiprog/internal/pkg/metrics"
	"github.com/autopeer-io/multiprog/internal/station/batch"
	"github.com/autopeer-io/multiprog/internal/station/core"
	"github.com/autopeer-io/multiprog/internal/station/core/orchestrator"
	"github.com/autopeer-io/multiprog/internal/station/core/workflow"
	"github.com/autopeer-io/multiprog/internal/station/flasher"
	"github.com/autopeer-io/multiprog/internal/station/link"
	"github.com/autopeer-io/multiprog/internal/station/notifier"
	"github.com/autopeer-io/multiprog/internal/station/readiness"
	"github.com/autopeer-io/multiprog/internal/station/server"
	serverhttp "github.com/autopeer-io/multiprog/internal/station/server/http"
	servermqtt "github.com/autopeer-io/multiprog/internal/station/server/mqtt"
	"github.com/autopeer-io/multiprog/internal/station/storage"
	"github.com/autopeer-io/multiprog/internal/station/webprov"
	"github.com/autopeer-io/multiprog/pkg/log"
	"github.com/autopeer-io/multiprog/pkg/mqtt"
	"github.com/autopeer-io/multiprog/pkg/mqtt/topic"
	"github.com/autopeer-io/multiprog/pkg/options"
)

// Config carries everything needed to assemble a station. Nil option groups
// disable the surface they configure.
type Config struct {
	SerialOptions  *options.SerialOptions
	FlasherOptions *options.FlasherOptions
	BrowserOptions *options.BrowserOptions
	DeviceOptions  *options.DeviceOptions
	HttpOptions    *options.HttpOptions
	MqttOptions    *options.MqttOptions
	S3Options      *options.S3Options
	WatchOptions   *options.WatchOptions

	ShutdownGrace time.Duration

	// Observers receive every event after the built-in ones.
	Observers []core.Observer
}

// NewStation wires the adapters into the core and the core into the servers.
func (cfg *Config) NewStation() (*Station, error) {
	if cfg.SerialOptions == nil || cfg.FlasherOptions == nil || cfg.BrowserOptions == nil || cfg.DeviceOptions == nil {
		return nil, fmt.Errorf("serial, flasher, browser and device options are required")
	}

	// 1. Infrastructure: hardware and device adapters
	linkMgr := link.NewManager()
	runner := flasher.NewRunner(cfg.FlasherOptions.ToolPath)

	waiter := readiness.NewWaiter()
	waiter.Interval = cfg.DeviceOptions.PollInterval
	waiter.DialTimeout = cfg.DeviceOptions.DialTimeout

	webCfg := webprov.DefaultConfig()
	webCfg.Username = cfg.BrowserOptions.Username
	webCfg.Password = cfg.BrowserOptions.Password
	driver := webprov.NewDriver(&webprov.ChromeLauncher{
		ExecPath:  cfg.BrowserOptions.ExecPath,
		RemoteURL: cfg.BrowserOptions.RemoteURL,
		Headless:  cfg.BrowserOptions.Headless,
		Logger:    log.WithName("browser").Logr(),
	}, webCfg)

	images, err := cfg.newImageStore()
	if err != nil {
		return nil, err
	}

	// 2. Core: the workflow and the queue that owns it
	wf := workflow.New(workflow.Config{
		DeviceAddr:   cfg.DeviceOptions.Addr,
		BaseURL:      cfg.DeviceOptions.URL(),
		ReadyTimeout: cfg.DeviceOptions.ReadyTimeout,
		SelectSettle: cfg.DeviceOptions.SelectSettle,
		ResetSettle:  cfg.DeviceOptions.ResetSettle,
	}, linkMgr, runner, waiter, driver, images)

	board := notifier.NewBoard()
	m := metrics.New()
	observers := []core.Observer{
		core.SinkObserver(notifier.NewLogSink(nil)),
		board,
		m,
	}

	var (
		mqttClient mqtt.Client
		events     *notifier.MQTTNotifier
		topics     *topic.TopicBuilder
	)
	if cfg.MqttOptions.Enabled() {
		mqttClient, err = mqtt.NewClient(cfg.MqttOptions.ToClientConfig())
		if err != nil {
			return nil, fmt.Errorf("failed to init mqtt client: %w", err)
		}
		topics = topic.NewTopicBuilder(cfg.MqttOptions.TopicRoot)
		events = notifier.NewMQTTNotifier(mqttClient, topics, cfg.MqttOptions.StationID)
		observers = append(observers, events)
	}
	observers = append(observers, cfg.Observers...)

	orchCfg := orchestrator.DefaultConfig()
	if cfg.ShutdownGrace > 0 {
		orchCfg.ShutdownGrace = cfg.ShutdownGrace
	}

	s := &Station{
		link:        linkMgr,
		linkCfg:     cfg.linkConfig(),
		openOnStart: cfg.SerialOptions.OpenOnStart,
		board:       board,
		metrics:     m,
	}
	s.orch = orchestrator.New(orchCfg, wf,
		orchestrator.WithObservers(observers...),
		orchestrator.WithEnqueueGuard(s.requireLink),
	)

	// 3. Ingress servers
	var servers []server.Server
	if cfg.HttpOptions != nil && cfg.HttpOptions.Addr != "" {
		servers = append(servers, serverhttp.NewServer(cfg.HttpOptions, s, m.Handler()))
	}
	if mqttClient != nil {
		servers = append(servers, servermqtt.NewServer(mqttClient, topics, cfg.MqttOptions.StationID, s, events))
	}
	if cfg.WatchOptions != nil && cfg.WatchOptions.Dir != "" {
		w := batch.NewWatcher(cfg.WatchOptions.Dir, cfg.WatchOptions.DoneSuffix, s.submitAndStart)
		servers = append(servers, server.ServerFunc(w.Run))
	}
	s.servers = server.NewManager(servers...)

	return s, nil
}

func (cfg *Config) linkConfig() link.Config {
	lc := link.DefaultConfig(cfg.SerialOptions.Port)
	if cfg.SerialOptions.BaudRate > 0 {
		lc.BaudRate = cfg.SerialOptions.BaudRate
	}
	if cfg.SerialOptions.ReadTimeout > 0 {
		lc.ReadTimeout = cfg.SerialOptions.ReadTimeout
	}
	return lc
}

func (cfg *Config) newImageStore() (*storage.Store, error) {
	var cacheDir string
	if cfg.S3Options != nil {
		cacheDir = cfg.S3Options.CacheDir
	}
	if !cfg.S3Options.Enabled() {
		return storage.NewStore(nil, cacheDir), nil
	}

	client, err := storage.NewMinIOClient(cfg.S3Options)
	if err != nil {
		return nil, err
	}
	return storage.NewStore(client, cacheDir), nil
}
