package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/robfig/cron/v3"
	"golang.org/x/term"

	"smartcal/internal/assistant"
	"smartcal/internal/auth"
	"smartcal/internal/calendar"
	"smartcal/internal/capture"
	"smartcal/internal/config"
	"smartcal/internal/ics"
	appLog "smartcal/internal/log"
	"smartcal/internal/metrics"
	"smartcal/internal/offline"
	"smartcal/internal/store"
	"smartcal/internal/weather"
	"smartcal/internal/web"
)

const version = "0.1.0"

type flagConfig struct {
	configPath string
	listen     string
	noCapture  bool
}

func main() {
	if len(os.Args) > 1 && os.Args[1] == "add-user" {
		if err := addUser(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, "add-user:", err)
			os.Exit(1)
		}
		return
	}

	appLog.Info("smartcal starting", "version", version)
	flags := parseFlags(flag.CommandLine, os.Args[1:])

	conf, err := loadConfig(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	// CLI --listen overrides config file listen if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"store", conf.Store.Mode,
		"auth", conf.Auth.Mode,
		"data_dir", conf.Store.DataDir,
		"holiday_feed", conf.HolidayFeed.URL != "",
		"gemini", conf.Gemini.APIKey != "",
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, conf, flags); err != nil {
		appLog.Error("smartcal stopped with error", err)
		appLog.Sync()
		os.Exit(1)
	}
	appLog.Info("smartcal exiting")
	appLog.Sync()
}

func parseFlags(fs *flag.FlagSet, args []string) flagConfig {
	var cfg flagConfig
	fs.StringVar(&cfg.configPath, "config", "/etc/smartcal/config.yaml", "Path to config file")
	fs.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	fs.BoolVar(&cfg.noCapture, "no-capture", false, "Disable the headless browser PNG export")
	_ = fs.Parse(args)
	return cfg
}

func loadConfig(path string) (*config.Config, error) {
	conf, err := config.Load(path)
	if err != nil {
		if conf == nil {
			return nil, err
		}
		// 기본 설정 파일을 쓰지 못해도 기본값으로 계속 진행한다.
		appLog.Warn("could not write default config", "path", path, "err", err.Error())
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))
	return conf, nil
}

func run(ctx context.Context, conf *config.Config, flags flagConfig) error {
	db, err := store.OpenDB(conf.Store.DataDir)
	if err != nil {
		return fmt.Errorf("open data dir: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			appLog.Error("close badger", err)
		}
	}()

	m := metrics.NewCollector("smartcal")
	loc := conf.Location()

	events, err := openStore(ctx, conf, db, m)
	if err != nil {
		return err
	}
	provider, err := openAuth(conf, db)
	if err != nil {
		return err
	}

	forecaster := weather.NewCachedForecaster(weather.NewClient(weather.Options{
		BaseURL:      conf.Weather.BaseURL,
		ForecastDays: conf.Weather.ForecastDays,
		Timeout:      conf.Weather.Timeout,
		Recorder:     m,
	}), conf.Weather.CacheTTL)

	gemini, err := assistant.NewGemini(ctx, assistant.GeminiOptions{
		APIKey:      conf.Gemini.APIKey,
		Model:       conf.Gemini.Model,
		Temperature: conf.Gemini.Temperature,
		Recorder:    m,
	})
	if err != nil {
		return fmt.Errorf("gemini: %w", err)
	}
	sessions := assistant.NewSessions(gemini, conf.Chat.IdleTTL)

	c := cron.New(cron.WithLocation(loc))
	if err := sessions.Schedule(c, conf.Chat.SweepCron); err != nil {
		return fmt.Errorf("chat sweep schedule: %w", err)
	}

	holidays := calendar.NewTable(nil)
	if conf.HolidayFeed.URL != "" {
		feed := ics.NewHolidayFeed(ics.NewFetcher(conf.HolidayFeed.CacheDir, nil), conf.HolidayFeed.URL, loc)
		if err := feed.Schedule(c, conf.HolidayFeed.RefreshCron); err != nil {
			return fmt.Errorf("holiday feed schedule: %w", err)
		}
		go func() {
			if err := feed.Refresh(ctx); err != nil {
				appLog.Warn("initial holiday feed refresh failed", "err", err.Error())
			}
		}()
		holidays = calendar.NewTable(feed)
	}

	var capturer *capture.Capturer
	if !flags.noCapture {
		capturer = capture.New(capture.Options{
			Width:   conf.Capture.Width,
			Height:  conf.Capture.Height,
			Timeout: conf.Capture.Timeout,
		})
	}

	deps := web.Deps{
		Config:     conf,
		Store:      events,
		Auth:       provider,
		Holidays:   holidays,
		Forecaster: forecaster,
		Chat:       sessions,
		Capturer:   capturer,
		Metrics:    m,
	}

	// The offline layer fronts either a proxied dev server or the
	// embedded UI.
	upstream := web.StaticHandler()
	if conf.Offline.Upstream != "" {
		upstream, err = offline.ProxyUpstream(conf.Offline.Upstream)
		if err != nil {
			return fmt.Errorf("offline upstream: %w", err)
		}
	}
	off := offline.New(upstream, offline.NewCaches(db), offline.Options{
		Version:  conf.Offline.Version,
		Precache: conf.Offline.Precache,
	})
	if err := off.Install(ctx); err != nil {
		appLog.Warn("offline precache incomplete", "err", err.Error())
	}
	if purged, err := off.Activate(); err != nil {
		appLog.Warn("offline activate failed", "err", err.Error())
	} else if len(purged) > 0 {
		appLog.Info("purged stale offline caches", "caches", strings.Join(purged, ","))
	}
	deps.Offline = off

	c.Start()
	defer func() {
		<-c.Stop().Done()
	}()

	srv := web.NewServer(deps)
	if err := srv.Serve(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func openStore(ctx context.Context, conf *config.Config, db *badger.DB, m *metrics.Collector) (*store.Store, error) {
	opts := store.Options{
		RequireOwner: conf.RemoteStore(),
		PollInterval: conf.Store.PollInterval,
		Recorder:     m,
	}
	switch conf.Store.Mode {
	case config.StoreSupabase:
		client, err := store.NewSupabaseClient(conf.Supabase.URL, conf.Supabase.Key)
		if err != nil {
			return nil, err
		}
		return store.New(store.NewSupabase(client, conf.Supabase.Table), opts), nil
	case config.StoreDynamoDB:
		client, err := store.NewDynamoClient(ctx, conf.DynamoDB.Region, conf.DynamoDB.Endpoint)
		if err != nil {
			return nil, err
		}
		return store.New(store.NewDynamo(client, conf.DynamoDB.Table, conf.DynamoDB.Index), opts), nil
	default:
		// local mode is one profile; nothing to poll
		opts.PollInterval = 0
		return store.New(store.NewLocal(db), opts), nil
	}
}

func openAuth(conf *config.Config, db *badger.DB) (auth.Provider, error) {
	if conf.Auth.Mode == config.AuthSupabase {
		client, err := store.NewSupabaseClient(conf.Supabase.URL, conf.Supabase.Key)
		if err != nil {
			return nil, err
		}
		return auth.NewSupabase(client.Auth), nil
	}
	return auth.NewLocal(db, auth.LocalOptions{
		Secret:   []byte(conf.Auth.JWTSecret),
		Issuer:   conf.Auth.Issuer,
		TokenTTL: conf.Auth.TokenTTL,
	})
}

// addUser creates a local account from the terminal:
//
//	smartcal add-user --config /etc/smartcal/config.yaml someone@example.com
func addUser(args []string) error {
	fs := flag.NewFlagSet("add-user", flag.ExitOnError)
	configPath := fs.String("config", "/etc/smartcal/config.yaml", "Path to config file")
	_ = fs.Parse(args)

	conf, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if conf.Auth.Mode != config.AuthLocal {
		return fmt.Errorf("auth.mode is %q; accounts are managed by the provider", conf.Auth.Mode)
	}

	stdin := bufio.NewReader(os.Stdin)
	email := fs.Arg(0)
	if email == "" {
		fmt.Print("Email: ")
		line, err := stdin.ReadString('\n')
		if err != nil {
			return err
		}
		email = strings.TrimSpace(line)
	}
	password, err := readPassword(stdin)
	if err != nil {
		return err
	}

	db, err := store.OpenDB(conf.Store.DataDir)
	if err != nil {
		return fmt.Errorf("open data dir: %w", err)
	}
	defer db.Close()

	local, err := auth.NewLocal(db, auth.LocalOptions{
		Secret:   []byte(conf.Auth.JWTSecret),
		Issuer:   conf.Auth.Issuer,
		TokenTTL: time.Minute,
	})
	if err != nil {
		return err
	}
	id, err := local.CreateAccount(context.Background(), email, password)
	if err != nil {
		return errors.New(auth.Message(err))
	}
	fmt.Printf("created %s (%s)\n", id.Email, id.UID)
	return nil
}

func readPassword(stdin *bufio.Reader) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		line, err := stdin.ReadString('\n')
		if err != nil && line == "" {
			return "", err
		}
		return strings.TrimRight(line, "\r\n"), nil
	}
	fmt.Print("Password: ")
	first, err := term.ReadPassword(fd)
	fmt.Println()
	if err != nil {
		return "", err
	}
	fmt.Print("Repeat password: ")
	second, err := term.ReadPassword(fd)
	fmt.Println()
	if err != nil {
		return "", err
	}
	if string(first) != string(second) {
		return "", errors.New("passwords do not match")
	}
	return string(first), nil
}
