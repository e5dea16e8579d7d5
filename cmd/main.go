package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/pprof"
	"net/url"
	"os"
	"reflect"
	"syscall"
	"time"

	"github.com/aukilabs/go-tooling/pkg/cli"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/events"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/go-tooling/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/encoding/json"
	"golang.org/x/net/websocket"

	"github.com/geovista/pointstream/cache"
	"github.com/geovista/pointstream/client"
	"github.com/geovista/pointstream/featureflag"
	pshttp "github.com/geovista/pointstream/http"
	"github.com/geovista/pointstream/models"
	"github.com/geovista/pointstream/smoketest"
	"github.com/geovista/pointstream/stream"
	pswebsocket "github.com/geovista/pointstream/websocket"
)

var (
	// The pointstream version number. Set at build.
	version = "v0.3.0"

	infoGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name:        "pointstream_info",
		Help:        "Pointstream information.",
		ConstLabels: prometheus.Labels{"version": version},
	})
)

// This will effectively disable obfuscation of the config struct. Without it, the keys would get obfuscated causing the cli package to generate garbled command-line options.
// https://github.com/burrowers/garble/issues/403
var _ = reflect.TypeOf(config{})

type config struct {
	Addr               string        `cli:""        env:"POINTSTREAM_ADDR"                 help:"Listening address for viewer connections."`
	AdminAddr          string        `cli:""        env:"POINTSTREAM_ADMIN_ADDR"           help:"Admin listening address."`
	PublicEndpoint     string        `cli:""        env:"POINTSTREAM_PUBLIC_ENDPOINT"      help:"The public endpoint where this server is reachable."`
	UpstreamEndpoint   string        `cli:""        env:"POINTSTREAM_UPSTREAM_ENDPOINT"    help:"The upstream LIDAR analysis API endpoint."`
	LogLevel           string        `cli:""        env:"POINTSTREAM_LOG_LEVEL"            help:"Log level (debug|info|warning|error)."`
	LogIndent          bool          `cli:""        env:"POINTSTREAM_LOG_INDENT"           help:"Indent logs."`
	ClientIdleTimeout  time.Duration `cli:",hidden" env:"POINTSTREAM_CLIENT_IDLE_TIMEOUT"  help:"Time until an idle viewer will be disconnected."`
	FrameDuration      time.Duration `cli:",hidden" env:"POINTSTREAM_FRAME_DURATION"       help:"The duration of a session frame."`
	LogSummaryInterval time.Duration `cli:",hidden" env:"POINTSTREAM_LOG_SUMMARY_INTERVAL" help:"The duration between each log summary by connection."`
	TuningFile         string        `cli:""        env:"POINTSTREAM_TUNING_FILE"          help:"A YAML file that overrides the streaming tuning."`
	SmokeTestDataset   string        `cli:",hidden" env:"POINTSTREAM_SMOKE_TEST_DATASET"   help:"The dataset probed by the smoke test."`
	Cache              cacheConfig   `cli:",hidden" env:"-"                                help:"Tile cache configuration."`
	Events             eventsConfig  `cli:",hidden" env:"-"                                help:"Event pusher configuration."`
	FeatureFlags       []string      `cli:",hidden" env:"POINTSTREAM_FEATURE_FLAGS"        help:"Comma separated feature flags"`
	Version            bool          `cli:""        env:"-"                                help:"Show version."`
	Help               bool          `cli:""        env:"-"                                help:"Show help."`
}

type cacheConfig struct {
	Path    string `cli:",hidden" env:"POINTSTREAM_CACHE_PATH"     help:"The tile cache database file. Empty disables persistence."`
	MaxRows int    `cli:",hidden" env:"POINTSTREAM_CACHE_MAX_ROWS" help:"The maximum number of cached tile buffers."`
}

type eventsConfig struct {
	Endpoint      string        `cli:",hidden" env:"POINTSTREAM_EVENTS_ENDPOINT"       help:"Endpoint to where events are pushed."`
	FlushInterval time.Duration `cli:",hidden" env:"POINTSTREAM_EVENTS_FLUSH_INTERVAL" help:"The duration between each event flush."`
	BatchSize     int           `cli:",hidden" env:"POINTSTREAM_EVENTS_BATCH_SIZE"     help:"The maximum number of events sent at once."`
	QueueSize     int           `cli:",hidden" env:"POINTSTREAM_EVENTS_QUEUE_SIZE"     help:"The size of the queue where events are stored."`
}

func main() {
	conf := config{
		Addr:               ":4000",
		AdminAddr:          ":18190",
		PublicEndpoint:     "http://localhost:4000",
		UpstreamEndpoint:   "http://localhost:8080",
		LogLevel:           logs.InfoLevel.String(),
		ClientIdleTimeout:  time.Minute * 5,
		FrameDuration:      time.Millisecond * 100,
		LogSummaryInterval: time.Minute,
		Cache: cacheConfig{
			Path:    "pointstream-cache.db",
			MaxRows: 65536,
		},
		Events: eventsConfig{
			FlushInterval: events.DefaultFlushInterval,
			BatchSize:     events.DefaultBatchSize,
			QueueSize:     events.DefaultQueueSize,
		},
	}

	// set the information gauge to 1, useful for SUM query
	infoGauge.Set(1)

	ctx, cancel := cli.ContextWithSignals(context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer cancel()

	cli.Register().
		Help("Starts the pointstream server.").
		Options(&conf)
	cli.Load()

	if conf.Version {
		fmt.Println(version)
		os.Exit(0)
	}

	if err := validateConfig(conf); err != nil {
		logs.Fatal(err)
	}

	logs.SetLevel(logs.ParseLevel(conf.LogLevel))
	logs.Encoder = json.Marshal
	if conf.LogIndent {
		logs.Encoder = func(v any) ([]byte, error) {
			return json.MarshalIndent(v, "", "  ")
		}
	}

	errors.Encoder = json.Marshal

	transport := metrics.HTTPTransport(http.DefaultTransport)

	if conf.Events.Endpoint != "" {
		eventsPusher := events.Pusher{
			Endpoint:      conf.Events.Endpoint,
			FlushInterval: conf.Events.FlushInterval,
			BatchSize:     conf.Events.BatchSize,
			QueueSize:     conf.Events.QueueSize,
			Transport:     transport,
		}
		go eventsPusher.Start()
		defer eventsPusher.Close()

		eventsLogger := events.Logger{
			Pusher:           &eventsPusher,
			SDKType:          "pointstream",
			SDKVersionFamily: version,
		}
		logs.SetLogger(eventsLogger.Log)
	}

	tuning, err := loadTuning(conf.TuningFile)
	if err != nil {
		logs.Fatal(errors.New("loading tuning failed").Wrap(err))
	}

	flags := featureflag.New(conf.FeatureFlags)

	clientOpts := []client.Option{
		client.WithEndpoint(conf.UpstreamEndpoint),
		client.WithUserAgent(fmt.Sprintf("pointstream %s", version)),
		client.WithTransport(transport),
		client.WithEncoder(json.Marshal),
		client.WithDecoder(json.Unmarshal),
	}
	if flags.IsSet(featureflag.FlagDisableCompressedTransfer) {
		clientOpts = append(clientOpts, client.WithoutCompression())
	}
	upstream := client.NewClient(clientOpts...)

	var fetcher stream.TileFetcher = upstream
	if conf.Cache.Path != "" && !flags.IsSet(featureflag.FlagDisableTileCache) {
		tileCache, err := cache.Open(conf.Cache.Path, conf.Cache.MaxRows)
		if err != nil {
			logs.Fatal(errors.New("opening tile cache failed").
				WithTag("path", conf.Cache.Path).
				Wrap(err))
		}
		defer tileCache.Close()

		fetcher = cache.FetcherWithCache(upstream, tileCache)
	}

	sessions := models.SessionStore{}
	streams := pswebsocket.StreamStore{}

	var service http.ServeMux

	service.Handle("/health", pshttp.HandleWithCORS(http.HandlerFunc(pshttp.HandleHealthCheck)))
	service.Handle("/ready", pshttp.HandleWithCORS(pshttp.HandleReadyCheck(func() bool {
		return true
	})))
	service.Handle("/version", pshttp.HandleWithCORS(pshttp.HandleVersion(version)))
	service.HandleFunc("/smoke-test", smoketest.HandleSmokeTest(smoketest.Options{
		Endpoint: conf.UpstreamEndpoint,
		Dataset:  conf.SmokeTestDataset,
		Index:    upstream,
		Fetcher:  fetcher,
	}))

	service.Handle("/view", pshttp.HandleWithCORS(websocket.Server{
		Handler: func(conn *websocket.Conn) {
			defer conn.Close()

			var vh pswebsocket.Handler = &pswebsocket.ViewerHandler{
				ClientIdleTimeout: conf.ClientIdleTimeout,
				FrameDuration:     conf.FrameDuration,
				Sessions:          &sessions,
				Streams:           &streams,
				Index:             upstream,
				Fetcher:           fetcher,
				Tuning:            tuning,
				FeatureFlags:      flags,
			}
			h := pswebsocket.HandlerWithLogs(vh, conf.LogSummaryInterval)
			h = pswebsocket.HandlerWithMetrics(h, conf.PublicEndpoint)
			defer h.Close()

			pswebsocket.Handle(ctx, conn, h)
		},
	}))

	service.Handle("/ping", websocket.Server{
		Handler: func(ws *websocket.Conn) {
			defer ws.Close()
			io.Copy(ws, ws)
		},
	})

	var admin http.ServeMux
	admin.Handle("/metrics", promhttp.Handler())
	admin.HandleFunc("/health", pshttp.HandleHealthCheck)
	admin.HandleFunc("/debug/pprof/", pprof.Index)
	admin.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	admin.HandleFunc("/debug/pprof/profile", pprof.Profile)
	admin.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	admin.HandleFunc("/debug/pprof/trace", pprof.Trace)
	admin.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
	admin.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	admin.Handle("/debug/pprof/threadcreate", pprof.Handler("threadcreate"))
	admin.Handle("/debug/pprof/block", pprof.Handler("block"))

	logs.WithTag("version", version).
		WithTag("log_level", conf.LogLevel).
		WithTag("endpoint", conf.PublicEndpoint).
		WithTag("upstream", conf.UpstreamEndpoint).
		Info("starting pointstream server")

	pshttp.ListenAndServe(ctx,
		&http.Server{Addr: conf.Addr, Handler: metrics.HTTPHandler(&service,
			pshttp.MetricsPathFormatter)},
		&http.Server{Addr: conf.AdminAddr, Handler: &admin},
	)
}

func loadTuning(path string) (stream.Tuning, error) {
	if path == "" {
		return stream.DefaultTuning(), nil
	}
	return stream.LoadTuning(path)
}

func validateConfig(conf config) error {
	if _, err := url.ParseRequestURI(conf.PublicEndpoint); err != nil {
		return errors.New("invalid public endpoint").Wrap(err)
	}

	if _, err := url.ParseRequestURI(conf.UpstreamEndpoint); err != nil {
		return errors.New("invalid upstream endpoint").Wrap(err)
	}

	return nil
}
