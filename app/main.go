package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/umputun/go-flags"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/umputun/jobtrack/app/enums"
	"github.com/umputun/jobtrack/app/events"
	"github.com/umputun/jobtrack/app/feed"
	"github.com/umputun/jobtrack/app/notify"
	"github.com/umputun/jobtrack/app/snapshot"
	"github.com/umputun/jobtrack/app/storage"
	"github.com/umputun/jobtrack/app/tracker"
	"github.com/umputun/jobtrack/app/web"
)

var opts struct {
	Store struct {
		Type     string `long:"type" env:"TYPE" choice:"memory" choice:"file" choice:"sqlite" choice:"redis" default:"file" description:"storage backend"`
		Path     string `long:"path" env:"PATH" default:"var" description:"data directory for file store, database file for sqlite"`
		Key      string `long:"key" env:"KEY" default:"canada_tech_jobs_tracker" description:"storage key of the tracker data"`
		RedisURL string `long:"redis-url" env:"REDIS_URL" default:"redis://localhost:6379/0" description:"redis url"`
	} `group:"store" namespace:"store" env-namespace:"JOBTRACK_STORE"`

	Feed struct {
		File string `long:"file" env:"FILE" description:"job postings feed, yaml or json"`
	} `group:"feed" namespace:"feed" env-namespace:"JOBTRACK_FEED"`

	Web struct {
		Address      string        `long:"address" env:"ADDRESS" default:":8080" description:"web server listen address"`
		BaseURL      string        `long:"base-url" env:"BASE_URL" description:"base url path for reverse proxy (e.g., /jobtrack)"`
		Hostname     string        `long:"hostname" env:"HOSTNAME" description:"hostname shown in the footer"`
		PasswordHash string        `long:"password-hash" env:"PASSWORD_HASH" description:"bcrypt hash of the ui password, enables auth"`
		LoginTTL     time.Duration `long:"login-ttl" env:"LOGIN_TTL" default:"24h" description:"login session ttl"`
		Pages        string        `long:"pages" env:"PAGES" description:"directory with static job pages to mount widgets into"`
		Events       int           `long:"events-buffer" env:"EVENTS_BUFFER" default:"16" description:"per-subscriber event buffer"`
	} `group:"web" namespace:"web" env-namespace:"JOBTRACK_WEB"`

	Notify struct {
		URLs     []string      `long:"webhook" env:"WEBHOOK" env-delim:"," description:"webhook url(s) for change events"`
		Headers  []string      `long:"header" env:"HEADER" env-delim:"," description:"extra webhook headers, name:value"`
		Timeout  time.Duration `long:"timeout" env:"TIMEOUT" default:"10s" description:"webhook request timeout"`
		Attempts int           `long:"attempts" env:"ATTEMPTS" default:"3" description:"how many times to repeat failed delivery"`
		Duration time.Duration `long:"duration" env:"DURATION" default:"1s" description:"initial retry delay"`
		Factor   float64       `long:"factor" env:"FACTOR" default:"2" description:"retry backoff factor"`
	} `group:"notify" namespace:"notify" env-namespace:"JOBTRACK_NOTIFY"`

	Snapshot struct {
		Schedule string `long:"schedule" env:"SCHEDULE" description:"cron schedule of csv snapshots, disabled if empty"`
		Dir      string `long:"dir" env:"DIR" default:"var/snapshots" description:"snapshots directory"`
		Keep     int    `long:"keep" env:"KEEP" default:"7" description:"number of snapshots to keep, 0 keeps all"`
	} `group:"snapshot" namespace:"snapshot" env-namespace:"JOBTRACK_SNAPSHOT"`

	Log struct {
		Enabled         bool   `long:"enabled" env:"ENABLED" description:"enable logging to file"`
		Filename        string `long:"filename" env:"FILENAME" default:"jobtrack.log" description:"log file name"`
		MaxSize         int    `long:"max-size" env:"MAX_SIZE" default:"100" description:"max log file size in MB"`
		MaxBackups      int    `long:"max-backups" env:"MAX_BACKUPS" default:"7" description:"max number of rotated files"`
		MaxAge          int    `long:"max-age" env:"MAX_AGE" default:"0" description:"max age of rotated files in days"`
		EnabledCompress bool   `long:"compress" env:"COMPRESS" description:"compress rotated files"`
	} `group:"log" namespace:"log" env-namespace:"JOBTRACK_LOG"`

	Schema bool `long:"schema" description:"print json schema of the stored data and exit"`
	Dbg    bool `long:"dbg" env:"JOBTRACK_DEBUG" description:"debug mode"`
}

var revision = "unknown"

func main() {
	fmt.Printf("jobtrack %s\n", revision)

	if _, err := flags.Parse(&opts); err != nil {
		os.Exit(2)
	}

	if opts.Schema {
		if err := printSchema(os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "failed to print schema: %v\n", err)
			os.Exit(1)
		}
		return
	}

	setupLog(opts.Dbg, setupLogs())

	defer func() {
		if x := recover(); x != nil {
			log.Printf("[WARN] run time panic:\n%v", x)
			panic(x)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	signals(cancel) // handle SIGQUIT, SIGINT and SIGTERM

	if err := run(ctx); err != nil {
		log.Printf("[ERROR] %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	storeType, err := enums.ParseStoreType(opts.Store.Type)
	if err != nil {
		return fmt.Errorf("invalid store type: %w", err)
	}
	engine, err := storage.New(storage.Params{Type: storeType, Path: opts.Store.Path, RedisURL: opts.Store.RedisURL})
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer func() {
		if err := engine.Close(); err != nil {
			log.Printf("[WARN] failed to close storage: %v", err)
		}
	}()

	hub := events.NewHub(opts.Web.Events)
	defer hub.Close()

	notifiers := events.Multi{hub}
	if wh := makeWebhook(); wh != nil {
		notifiers = append(notifiers, wh)
		go wh.Run(ctx)
	}

	store := tracker.New(engine, tracker.WithKey(opts.Store.Key), tracker.WithNotifier(notifiers))
	log.Printf("[INFO] tracker store %s, key %q", storeType, opts.Store.Key)

	if opts.Snapshot.Schedule != "" {
		snap := snapshot.New(store, snapshot.Params{Dir: opts.Snapshot.Dir, Keep: opts.Snapshot.Keep})
		go func() {
			if err := snap.Run(ctx, opts.Snapshot.Schedule); err != nil && ctx.Err() == nil {
				log.Printf("[WARN] snapshots disabled: %v", err)
			}
		}()
	}

	cfg := web.Config{
		Store:        store,
		Events:       hub,
		PagesDir:     opts.Web.Pages,
		BaseURL:      validateBaseURL(opts.Web.BaseURL),
		Hostname:     makeHostName(),
		Version:      revision,
		PasswordHash: opts.Web.PasswordHash,
		LoginTTL:     opts.Web.LoginTTL,
	}
	if opts.Feed.File != "" {
		cfg.JobsProvider = feed.New(opts.Feed.File)
	}
	srv, err := web.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create web server: %w", err)
	}
	return srv.Run(ctx, opts.Web.Address)
}

// makeWebhook returns nil if no webhook urls set
func makeWebhook() *notify.Webhook {
	return notify.NewWebhook(notify.Params{
		URLs:     opts.Notify.URLs,
		Timeout:  opts.Notify.Timeout,
		Headers:  opts.Notify.Headers,
		Attempts: opts.Notify.Attempts,
		Duration: opts.Notify.Duration,
		Factor:   opts.Notify.Factor,
	})
}

func makeHostName() string {
	if opts.Web.Hostname != "" {
		return opts.Web.Hostname
	}
	host, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return host
}

func printSchema(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(tracker.Schema())
}

// setupLogs returns the log destination, rotated file if enabled, stdout otherwise
func setupLogs() io.Writer {
	if !opts.Log.Enabled {
		return os.Stdout
	}
	return &lumberjack.Logger{
		Filename:   opts.Log.Filename,
		MaxSize:    opts.Log.MaxSize,
		MaxBackups: opts.Log.MaxBackups,
		MaxAge:     opts.Log.MaxAge,
		Compress:   opts.Log.EnabledCompress,
	}
}

func setupLog(dbg bool, out io.Writer) {
	if dbg {
		log.Setup(log.Debug, log.Msec, log.CallerFunc, log.CallerPkg, log.CallerFile, log.Out(out), log.Err(out))
		return
	}
	log.Setup(log.Msec, log.Out(out), log.Err(out))
}

// validateBaseURL normalizes base url, trailing slash removed and root treated as empty
func validateBaseURL(u string) string {
	u = strings.TrimRight(u, "/")
	if u != "" && !strings.HasPrefix(u, "/") {
		u = "/" + u
	}
	return u
}

func signals(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	go func() {
		stacktrace := make([]byte, 8192)
		for sig := range sigChan {
			if sig == syscall.SIGQUIT { // catch SIGQUIT and print stack traces
				length := runtime.Stack(stacktrace, true)
				fmt.Println(string(stacktrace[:length]))
				continue
			}
			log.Printf("[INFO] signal %s received, shutting down", sig)
			cancel()
		}
	}()
	signal.Notify(sigChan, syscall.SIGQUIT, syscall.SIGINT, syscall.SIGTERM)
}
