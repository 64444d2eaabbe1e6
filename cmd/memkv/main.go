package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rcrowley/go-metrics"

	"github.com/skipor/memkv"
	"github.com/skipor/memkv/cmd/memkv/config"
	"github.com/skipor/memkv/internal/tag"
	"github.com/skipor/memkv/log"
)

const usage = `
Config values merge rules:
1) config file value overrides default
2) command line value overrides any
Options:
`

func init() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage of %s:\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "%s", usage)
		flag.PrintDefaults()
	}
}

func main() {
	conf, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Config error:", err)
		os.Exit(2)
	}
	l := log.NewLogger(conf.LogLevel, conf.LogDestination)
	defer log.Sync(l)
	l.Debugf("Config: %+v", conf.Server)
	if tag.Debug {
		l.Warn("Using debug build. It has more runtime checks and large performance overhead.")
	}

	s, err := memkv.NewServer(l, conf.Server, metrics.DefaultRegistry)
	if err != nil {
		l.Fatal("Server create error: ", err)
	}
	shutdown := make(chan struct{})
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		l.Infof("Got %s signal. Shutdown.", <-sig)
		s.Shutdown(true)
		close(shutdown)
	}()

	err = s.ListenAndServe()
	if err != memkv.ErrServerClosed {
		l.Fatal("Serve error: ", err)
	}
	<-shutdown
	l.Info("Server stopped.")
}

// loadConfig parses command flags, reads config file if any, returns merged config.
func loadConfig() (config.Parsed, error) {
	flg := parseFlags()
	conf := config.Default()
	if flg.ConfigPath != "" {
		fileConf, err := config.Load(flg.ConfigPath)
		if err != nil {
			return config.Parsed{}, err
		}
		config.Merge(conf, fileConf)
	}
	config.Merge(conf, &flg.Config)
	return config.Parse(conf)
}

type Flags struct {
	ConfigPath string
	config.Config
}

func parseFlags() Flags {
	var f Flags
	flag.StringVar(&f.ConfigPath, "config", "", "path to TOML config")

	def := config.Default()
	usage := func(usage string, defVal interface{}) string {
		if _, ok := defVal.(string); ok {
			usage += fmt.Sprintf(" (default %q)", defVal)
		} else {
			usage += fmt.Sprintf(" (default %v)", defVal)
		}
		return usage
	}
	var low, high, queue int
	flag.StringVar(&f.Host, "host", "", usage("host address to bind", def.Host))
	flag.IntVar(&f.Port, "port", 0, usage("port num", def.Port))
	flag.StringVar(&f.LogDestination, "log-destination", "", usage("log destination: stderr, stdout or file path", def.LogDestination))
	flag.StringVar(&f.LogLevel, "log-level", "", usage("log level: debug, info, warn, error, fatal", def.LogLevel))
	flag.StringVar(&f.CacheSize, "cache-size", "", usage("cache size: 2g, 64m", def.CacheSize))
	flag.StringVar(&f.MaxItemSize, "max-item-size", "", usage("max item size: 10m, 1024k", def.MaxItemSize))
	flag.IntVar(&low, "low-watermark", 0, usage("workers kept alive when idle", *def.Executor.LowWatermark))
	flag.IntVar(&high, "high-watermark", 0, usage("max workers, that is max concurrently served connections", *def.Executor.HighWatermark))
	flag.IntVar(&queue, "max-queue", 0, usage("max connections waiting for free worker", *def.Executor.MaxQueue))
	flag.StringVar(&f.Executor.IdleTime, "idle-time", "", usage("idle time after which worker above low watermark exits", def.Executor.IdleTime))
	flag.Parse()
	// Only explicitly passed numbers should override, zero included.
	flag.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "low-watermark":
			f.Executor.LowWatermark = config.Int(low)
		case "high-watermark":
			f.Executor.HighWatermark = config.Int(high)
		case "max-queue":
			f.Executor.MaxQueue = config.Int(queue)
		}
	})
	return f
}
