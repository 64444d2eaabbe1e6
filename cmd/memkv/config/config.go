// Package config contains memkv daemon configuration: TOML file format,
// defaults, merge rules and parsing into server config.
package config

import (
	"bytes"
	"io"
	"net"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/docker/go-units"
	"github.com/facebookgo/stackerr"

	"github.com/skipor/memkv"
	"github.com/skipor/memkv/executor"
	"github.com/skipor/memkv/internal/util"
	"github.com/skipor/memkv/log"
)

type Config struct {
	Port           int    `toml:"port,omitempty"`
	Host           string `toml:"host,omitempty"`
	LogDestination string `toml:"log-destination,omitempty"` // Stdout, stderr, or file path.
	LogLevel       string `toml:"log-level,omitempty"`
	// Size values like 1g, 64m, 1024k, 1000000.
	CacheSize   string         `toml:"cache-size,omitempty"`
	MaxItemSize string         `toml:"max-item-size,omitempty"`
	Executor    ExecutorConfig `toml:"executor"`
}

// ExecutorConfig numbers are pointers, so explicit zero overrides default.
type ExecutorConfig struct {
	LowWatermark  *int   `toml:"low-watermark,omitempty"`
	HighWatermark *int   `toml:"high-watermark,omitempty"`
	MaxQueue      *int   `toml:"max-queue,omitempty"`
	IdleTime      string `toml:"idle-time,omitempty"` // Go duration: 10s, 1m30s.
}

func Default() *Config {
	return &Config{
		Port:           11211,
		Host:           "",
		LogDestination: "stderr",
		LogLevel:       "info",
		CacheSize:      "64m",
		MaxItemSize:    "1m",
		Executor: ExecutorConfig{
			LowWatermark:  Int(4),
			HighWatermark: Int(64),
			MaxQueue:      Int(128),
			IdleTime:      "10s",
		},
	}
}

func Int(i int) *int { return &i }

// Load reads TOML config file. Unknown keys are error.
func Load(path string) (*Config, error) {
	conf := &Config{}
	md, err := toml.DecodeFile(path, conf)
	if err != nil {
		return nil, stackerr.Newf("Config %s decode error: %v", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) != 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, stackerr.Newf("Config %s has unknown keys: %s", path, strings.Join(keys, ", "))
	}
	return conf, nil
}

// Merge overwrites def values with non zero override values.
func Merge(def, override *Config) {
	merge(reflect.ValueOf(def).Elem(), reflect.ValueOf(override).Elem())
}

func merge(def, override reflect.Value) {
	for i, end := 0, def.NumField(); i < end; i++ {
		overrideField := override.Field(i)
		if overrideField.Kind() == reflect.Struct {
			merge(def.Field(i), overrideField)
			continue
		}
		if !util.IsZeroVal(overrideField) {
			def.Field(i).Set(overrideField)
		}
	}
}

func Marshal(conf *Config) []byte {
	buf := &bytes.Buffer{}
	err := toml.NewEncoder(buf).Encode(conf)
	if err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// Parsed is validated config, ready for use.
type Parsed struct {
	Server         memkv.Config
	LogDestination io.Writer
	LogLevel       log.Level
}

func Parse(conf *Config) (p Parsed, err error) {
	p.LogDestination, err = log.Destination(conf.LogDestination)
	if err != nil {
		err = stackerr.Newf("Log destination open error: %v", err)
		return
	}
	p.LogLevel, err = log.LevelFromString(conf.LogLevel)
	if err != nil {
		err = stackerr.Newf("Log level parse error: %v", err)
		return
	}
	p.Server.Cache.Size, err = units.RAMInBytes(conf.CacheSize)
	if err != nil {
		err = stackerr.Newf("Cache size parse error: %v", err)
		return
	}
	if p.Server.Cache.Size <= 0 {
		err = stackerr.Newf("Non positive cache size: %v", conf.CacheSize)
		return
	}
	var maxItemSize int64
	maxItemSize, err = units.RAMInBytes(conf.MaxItemSize)
	if err != nil {
		err = stackerr.Newf("Max item size parse error: %v", err)
		return
	}
	if maxItemSize <= 0 || maxItemSize > memkv.MaxItemSize {
		err = stackerr.Newf("Max item size %v is out of range (0, %v]", conf.MaxItemSize, units.BytesSize(memkv.MaxItemSize))
		return
	}
	p.Server.MaxItemSize = int(maxItemSize)
	p.Server.Executor, err = parseExecutor(conf.Executor)
	if err != nil {
		return
	}
	p.Server.Addr = net.JoinHostPort(conf.Host, strconv.Itoa(conf.Port))
	return
}

func parseExecutor(conf ExecutorConfig) (ec executor.Config, err error) {
	deref := func(i *int) int {
		if i == nil {
			return 0
		}
		return *i
	}
	ec.LowWatermark = deref(conf.LowWatermark)
	ec.HighWatermark = deref(conf.HighWatermark)
	ec.MaxQueueSize = deref(conf.MaxQueue)
	ec.IdleTime, err = time.ParseDuration(conf.IdleTime)
	if err != nil {
		err = stackerr.Newf("Idle time parse error: %v", err)
		return
	}
	err = ec.Validate()
	if err != nil {
		err = stackerr.Newf("Invalid executor config: %v", util.Unwrap(err))
	}
	return
}
