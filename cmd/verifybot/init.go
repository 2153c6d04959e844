package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/knadh/stuffbin"
	"github.com/knadh/verifybot/internal/mailq"
	"github.com/knadh/verifybot/internal/store"
	"github.com/knadh/verifybot/internal/store/mongo"
	"github.com/knadh/verifybot/internal/store/redis"
	"github.com/knadh/verifybot/internal/store/sqlite"
	flag "github.com/spf13/pflag"
	"github.com/zerodha/logf"
)

const envPrefix = "VERIFYBOT_"

type constants struct {
	Address        string
	ServerTimeout  time.Duration
	RequestTimeout time.Duration
}

var validate = validator.New()

func initLogger(debug bool) logf.Logger {
	opt := logf.Opts{
		EnableCaller:    true,
		TimestampFormat: "2006-01-02 15:04:05",
		Level:           logf.InfoLevel,
	}
	if debug {
		opt.Level = logf.DebugLevel
	}
	return logf.New(opt)
}

func initConfig() {
	// Register --help handler.
	f := flag.NewFlagSet("config", flag.ContinueOnError)
	f.Usage = func() {
		fmt.Println(f.FlagUsages())
		os.Exit(0)
	}
	f.StringSlice("config", []string{"config.toml"},
		"Path to one or more TOML config files to load in order")
	f.StringSlice("env-file", []string{},
		"Path to one or more .env files to load before the environment. Defaults to .env if it exists")
	f.Bool("new-config", false, "Generate a sample config.toml in the current directory")
	f.Bool("debug", false, "Enable debug logging")
	f.Bool("version", false, "Show build version")
	if err := f.Parse(os.Args[1:]); err != nil {
		lo.Fatal("error parsing flags", "error", err)
	}

	// Display version.
	if ok, _ := f.GetBool("version"); ok {
		fmt.Println(buildString)
		os.Exit(0)
	}

	// Generating a config doesn't need one.
	if ok, _ := f.GetBool("new-config"); ok {
		ko.Load(posflag.Provider(f, ".", ko), nil)
		return
	}

	// Read the config files.
	cFiles, _ := f.GetStringSlice("config")
	for _, f := range cFiles {
		lo.Info("reading config", "file", f)
		if err := ko.Load(file.Provider(f), toml.Parser()); err != nil {
			lo.Fatal("error reading config", "error", err)
		}
	}

	// .env files go into the environment before it's read.
	envFiles, _ := f.GetStringSlice("env-file")
	if err := loadEnvFiles(envFiles); err != nil {
		lo.Fatal("error loading env file", "error", err)
	}

	// Load environment variables and merge into the loaded config.
	if err := ko.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		lo.Error("error loading env config", "error", err)
	}

	ko.Load(posflag.Provider(f, ".", ko), nil)
}

// envKey maps VERIFYBOT_DISCORD__TOKEN to discord.token.
func envKey(s string) string {
	return strings.Replace(strings.ToLower(
		strings.TrimPrefix(s, envPrefix)), "__", ".", -1)
}

// loadEnvFiles loads .env files into the environment without overriding
// variables that are already set. With no files, .env is loaded if it
// exists.
func loadEnvFiles(files []string) error {
	if len(files) == 0 {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
		files = []string{".env"}
	}

	for _, f := range files {
		lo.Info("reading env file", "file", f)
	}
	return godotenv.Load(files...)
}

// unmarshal decodes a config section into o. Keys that don't map to a
// field are rejected. Fields missing in the config keep their values in
// o, which lets o carry defaults.
func unmarshal(k *koanf.Koanf, path string, o interface{}) error {
	if !k.Exists(path) {
		return nil
	}

	return k.UnmarshalWithConf(path, o, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
				mapstructure.TextUnmarshallerHookFunc()),
			Result:           o,
			TagName:          "koanf",
			WeaklyTypedInput: true,
			ErrorUnused:      true,
			ZeroFields:       true,
		},
	})
}

func initConstants() constants {
	c := constants{
		Address:        ko.String("app.address"),
		ServerTimeout:  ko.Duration("app.server_timeout"),
		RequestTimeout: ko.Duration("app.request_timeout"),
	}
	if c.Address == "" {
		c.Address = "localhost:9000"
	}
	if c.ServerTimeout < time.Second {
		c.ServerTimeout = time.Second * 5
	}
	if c.RequestTimeout < time.Second {
		c.RequestTimeout = time.Second * 10
	}
	return c
}

// initAuth loads the username:password maps for the admin API.
func initAuth() map[string]string {
	out := make(map[string]string)
	for _, a := range ko.MapKeys("auth") {
		k := ko.StringMap("auth." + a)
		var (
			username = k["username"]
			password = k["password"]
		)

		if username == "" || password == "" {
			lo.Fatal("username or password keys not found", "auth", a)
		}
		out[username] = password
	}

	if len(out) == 0 {
		lo.Warn("no auth entries found in config. The admin API is only partially available")
	}
	return out
}

// initStore loads the record store backend set in store.type.
func initStore(ctx context.Context, k *koanf.Koanf) (store.Store, error) {
	typ := k.String("store.type")
	lo.Info("initializing store", "type", typ)

	switch typ {
	case "mongo":
		c := mongo.Conf{Timeout: time.Second * 5}
		if err := unmarshal(k, "store.mongo", &c); err != nil {
			return nil, err
		}
		return mongo.New(ctx, c)

	case "redis":
		c := redis.Conf{Host: "localhost", Port: 6379, Timeout: time.Second * 5}
		if err := unmarshal(k, "store.redis", &c); err != nil {
			return nil, err
		}
		st := redis.New(c)
		if err := st.Ping(ctx); err != nil {
			return nil, fmt.Errorf("error connecting to redis: %v", err)
		}
		return st, nil

	case "sqlite":
		c := sqlite.Conf{Path: "verifybot.db"}
		if err := unmarshal(k, "store.sqlite", &c); err != nil {
			return nil, err
		}
		return sqlite.New(c)
	}

	return nil, fmt.Errorf("%w: '%s'", store.ErrUnknownType, typ)
}

// initMailQueue sets up the SMTP pool and the queue that flushes
// through it.
func initMailQueue(k *koanf.Koanf) (*mailq.Queue, error) {
	var sc mailq.Conf
	if err := unmarshal(k, "smtp", &sc); err != nil {
		return nil, err
	}
	if err := validate.Struct(sc); err != nil {
		return nil, err
	}
	pool, err := mailq.NewPool(sc)
	if err != nil {
		return nil, err
	}

	opt := mailq.Opt{Interval: time.Second * 30, RetryWait: time.Second}
	if err := unmarshal(k, "queue", &opt); err != nil {
		return nil, err
	}
	if err := validate.Struct(opt); err != nil {
		return nil, err
	}

	return mailq.New(pool, opt, lo), nil
}

func initFS(exe string) stuffbin.FileSystem {
	// Read stuffed data from self.
	fs, err := stuffbin.UnStuff(exe)
	if err != nil {
		// Binary is unstuffed or is running in dev mode.
		// Fall back to the local filesystem.
		if err == stuffbin.ErrNoID {
			fs, err = stuffbin.NewLocalFS("/", "static/config.sample.toml:/config.sample.toml")
			if err != nil {
				lo.Fatal("error falling back to local filesystem", "error", err)
			}
		} else {
			lo.Fatal("error reading stuffed binary", "error", err)
		}
	}

	return fs
}

// newConfigFile writes the embedded sample config to path. It won't
// overwrite an existing file.
func newConfigFile(fs stuffbin.FileSystem, path string) error {
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%s exists. Remove it to generate a new one", path)
	}

	b, err := fs.Read("/config.sample.toml")
	if err != nil {
		return fmt.Errorf("error reading sample config: %v", err)
	}
	return os.WriteFile(path, b, 0o600)
}
