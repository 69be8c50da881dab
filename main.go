package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"

	"github.com/ShehabShan/TaskGuru-server/internal/applog"
	"github.com/ShehabShan/TaskGuru-server/internal/config"
	"github.com/ShehabShan/TaskGuru-server/internal/coordinator"
	"github.com/ShehabShan/TaskGuru-server/internal/events"
	"github.com/ShehabShan/TaskGuru-server/internal/fanout"
	"github.com/ShehabShan/TaskGuru-server/internal/notify"
	"github.com/ShehabShan/TaskGuru-server/internal/registry"
	"github.com/ShehabShan/TaskGuru-server/internal/store"
	"github.com/ShehabShan/TaskGuru-server/internal/webserver"
)

func openStore(cfg config.Config) (*store.Store, error) {
	path := cfg.Store.Path
	if path == "" {
		path = config.DBPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, err
	}
	st, err := store.Open(path, store.Options{
		PoolSize:  cfg.Store.PoolSize,
		OpTimeout: config.Duration(cfg.Store.OpTimeout, 5*time.Second),
	})
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(); err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}

func readPassword(prompt string) ([]byte, error) {
	fmt.Print(prompt)
	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	return pw, err
}

func main() {
	if len(os.Args) >= 3 && os.Args[1] == "adduser" {
		email := os.Args[2]
		pw, err := readPassword(fmt.Sprintf("Password for %s: ", email))
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		hash, err := bcrypt.GenerateFromPassword(pw, bcrypt.DefaultCost)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		cfg, _ := config.Load(config.DefaultPath())
		st, err := openStore(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		defer st.Close()
		if _, err := st.CreateUser(context.Background(), &store.User{
			Email:        email,
			PasswordHash: string(hash),
		}); err != nil {
			fmt.Fprintf(os.Stderr, "error creating user: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("User created: %s\n", email)
		return
	}

	if len(os.Args) >= 3 && os.Args[1] == "passwd" {
		email := os.Args[2]
		pw, err := readPassword(fmt.Sprintf("New password for %s: ", email))
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		hash, err := bcrypt.GenerateFromPassword(pw, bcrypt.DefaultCost)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		cfg, _ := config.Load(config.DefaultPath())
		st, err := openStore(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		defer st.Close()
		if err := st.UpdateUserPassword(context.Background(), email, string(hash)); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Password updated: %s\n", email)
		return
	}

	configPath := flag.String("config", config.DefaultPath(), "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not load config: %v\n", err)
		cfg = config.Defaults()
	}

	if err := config.EnsureAuthSecret(*configPath, &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not persist auth secret: %v\n", err)
	}

	logger, logCloser, err := applog.Init(applog.InitConfig{
		LogDir:   cfg.Log.Dir,
		LogLevel: cfg.Log.Level,
		Format:   cfg.Log.Format,
		Stderr:   true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not init log file: %v\n", err)
		logger = slog.Default() // falls back to default (stderr)
	} else {
		defer logCloser.Close()
	}

	st, err := openStore(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: could not open store: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	// Refuse to start against a store that cannot answer. After startup,
	// store trouble degrades individual requests instead.
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	err = st.Ping(pingCtx)
	cancelPing()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: store unreachable at startup: %v\n", err)
		os.Exit(1)
	}

	reg := registry.New(logger)
	fan := fanout.New(reg, logger)
	notifier := notify.New(notify.Config{
		Enabled: cfg.Notifications.Enabled,
		Webhook: cfg.Notifications.Webhook,
		NtfyURL: cfg.Notifications.NtfyURL,
	}, logger)
	notifier.Start()

	coord := coordinator.New(st, events.Multi(fan, notifier), logger)

	watcher := store.NewWatcher(st, config.Duration(cfg.Store.PingInterval, 30*time.Second), logger)
	watcher.Start()

	srv := webserver.New(st, coord, reg, webserver.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
		TLS: webserver.TLSConfig{
			Mode:     cfg.Server.TLS.Mode,
			CertFile: cfg.Server.TLS.CertFile,
			KeyFile:  cfg.Server.TLS.KeyFile,
			CacheDir: cfg.Server.TLS.CacheDir,
		},
		Auth: webserver.AuthConfig{
			JWTSecret:    cfg.Auth.JWTSecret,
			TokenTTL:     cfg.Auth.TokenTTL,
			RequireToken: cfg.Auth.RequireToken,
		},
	}, logger)
	if err := srv.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "error: could not start server: %v\n", err)
		os.Exit(1)
	}
	logger.Info("taskguru: listening",
		"host", cfg.Server.Host, "port", cfg.Server.Port, "tls", cfg.Server.TLS.Mode != "")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	logger.Info("taskguru: shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("taskguru: shutdown incomplete", "err", err)
	}
	cancelShutdown()
	reg.CloseAll()
	watcher.Stop()
	notifier.Stop()
}
