package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/knadh/koanf/v2"
	"github.com/knadh/stuffbin"
	"github.com/knadh/verifybot/internal/cache"
	"github.com/knadh/verifybot/internal/discord"
	"github.com/knadh/verifybot/internal/mailq"
	"github.com/knadh/verifybot/internal/store"
	"github.com/knadh/verifybot/internal/verify"
	"github.com/zerodha/logf"
)

// App is the global app context that groups the necessary
// controls (store, queue, config etc.) to be injected into the
// HTTP and Discord handlers.
type App struct {
	ctrl  *verify.Controller
	cache *cache.Cache
	queue *mailq.Queue
	store store.Store
	bot   *discord.Bot
	lo    logf.Logger
	fs    stuffbin.FileSystem

	constants constants
}

var (
	lo = initLogger(false)
	ko = koanf.New(".")

	// Version of the build injected at build time.
	buildString = "unknown"
)

func main() {
	initConfig()
	if ko.Bool("debug") || ko.String("app.log_level") == "debug" {
		lo = initLogger(true)
	}

	fs := initFS(os.Args[0])
	if ko.Bool("new-config") {
		if err := newConfigFile(fs, "config.toml"); err != nil {
			lo.Fatal("error generating config", "error", err)
		}
		lo.Info("config.toml generated. Edit it and run the app again.")
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &App{
		cache:     cache.New(),
		lo:        lo,
		fs:        fs,
		constants: initConstants(),
	}

	// Load the store.
	st, err := initStore(ctx, ko)
	if err != nil {
		lo.Fatal("error initializing store", "error", err)
	}
	app.store = st

	// Mail queue.
	q, err := initMailQueue(ko)
	if err != nil {
		lo.Fatal("error initializing mail queue", "error", err)
	}
	app.queue = q

	// Discord.
	var dc discord.Conf
	if err := unmarshal(ko, "discord", &dc); err != nil {
		lo.Fatal("error reading discord config", "error", err)
	}
	if err := validate.Struct(dc); err != nil {
		lo.Fatal("invalid discord config", "error", err)
	}
	bot, err := discord.New(dc, lo)
	if err != nil {
		lo.Fatal("error initializing discord", "error", err)
	}
	app.bot = bot

	// Verification flow.
	cfg := verify.DefaultConfig()
	if err := unmarshal(ko, "verify", &cfg); err != nil {
		lo.Fatal("error reading verify config", "error", err)
	}
	ctrl, err := verify.New(cfg, verify.Deps{
		Cache:   app.cache,
		Mailer:  app.queue,
		Store:   app.store,
		Granter: app.bot,
		Log:     lo,
	})
	if err != nil {
		lo.Fatal("error initializing verification", "error", err)
	}
	app.ctrl = ctrl

	// Start the mail flush loop. It does a final flush once ctx is done.
	qDone := make(chan struct{})
	go func() {
		app.queue.Run(ctx)
		close(qDone)
	}()

	bot.Session().AddHandler(app.handleInteraction)
	bot.Session().AddHandler(app.handleMessage)
	if err := bot.Open(); err != nil {
		lo.Fatal("error connecting to discord", "error", err)
	}

	// HTTP admin API.
	srv := &http.Server{
		Addr:         app.constants.Address,
		ReadTimeout:  app.constants.ServerTimeout,
		WriteTimeout: app.constants.ServerTimeout,
		Handler:      initHTTP(app, initAuth()),
	}
	go func() {
		lo.Info("starting HTTP server", "address", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lo.Fatal("couldn't start server", "error", err)
		}
	}()

	<-ctx.Done()
	lo.Info("shutting down")

	sCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(sCtx); err != nil {
		lo.Error("error shutting down HTTP server", "error", err)
	}
	if err := bot.Close(); err != nil {
		lo.Error("error closing discord session", "error", err)
	}

	<-qDone

	if err := app.store.Close(sCtx); err != nil {
		lo.Error("error closing store", "error", err)
	}
}

// initHTTP registers the admin API handlers.
func initHTTP(app *App, authCreds map[string]string) http.Handler {
	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("verifybot"))
	})
	r.Get("/api/health", wrap(app, handleHealthCheck))
	r.Get("/api/stats", auth(authCreds, wrap(app, handleGetStats)))
	r.Get("/api/records", auth(authCreds, wrap(app, handleGetRecords)))

	return r
}
