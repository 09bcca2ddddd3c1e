package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"dqx0.com/go/httpd/httpx"
	"dqx0.com/go/httpd/internal/access"
	"dqx0.com/go/httpd/internal/admin"
	"dqx0.com/go/httpd/internal/config"
	"dqx0.com/go/httpd/internal/obs"
	"dqx0.com/go/httpd/internal/static"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "httpd:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("httpd", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: httpd [flags] [port [docroot]]\n")
		fs.PrintDefaults()
	}
	var (
		configPath  = fs.StringP("config", "c", "", "YAML configuration file")
		port        = fs.IntP("port", "p", 0, "listen port")
		root        = fs.StringP("root", "r", "", "document root")
		rules       = fs.String("rules", "", "access rule file (default <root>/.htaccess)")
		maxConns    = fs.Int("max-conns", 0, "maximum live connections")
		dispatch    = fs.String("dispatch", "", "dispatch mode: gate or batch")
		idleTimeout = fs.Duration("idle-timeout", 0, "per-read timeout")
		adminAddr   = fs.String("admin", "", "admin status address, e.g. 127.0.0.1:9090")
		logLevel    = fs.String("log-level", "", "debug, info, warn or error")
		logFormat   = fs.String("log-format", "", "console or json")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	// positional form: httpd <port> <docroot>
	if rest := fs.Args(); len(rest) > 0 {
		p, err := strconv.Atoi(rest[0])
		if err != nil {
			return fmt.Errorf("invalid port %q", rest[0])
		}
		cfg.Server.Port = p
		if len(rest) > 1 {
			cfg.Static.Root = rest[1]
		}
	}
	if fs.Changed("port") {
		cfg.Server.Port = *port
	}
	if fs.Changed("root") {
		cfg.Static.Root = *root
	}
	if fs.Changed("rules") {
		cfg.Access.Rules = *rules
	}
	if fs.Changed("max-conns") {
		cfg.Server.MaxConns = *maxConns
	}
	if fs.Changed("dispatch") {
		cfg.Server.Dispatch = *dispatch
	}
	if fs.Changed("idle-timeout") {
		cfg.Server.IdleTimeout = *idleTimeout
	}
	if fs.Changed("admin") {
		cfg.Admin.Addr = *adminAddr
	}
	if fs.Changed("log-level") {
		cfg.Log.Level = *logLevel
	}
	if fs.Changed("log-format") {
		cfg.Log.Format = *logFormat
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return err
	}

	level, err := obs.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	logger := obs.NewZerolog(os.Stderr, level, cfg.Log.Format == "console")
	registry := obs.NewRegistry()

	ruleList, err := access.Load(cfg.RulesPath())
	switch {
	case errors.Is(err, access.ErrRulesUnavailable):
		logger.Logf(obs.Warn, "%v; serving every client", err)
	case err != nil:
		logger.Logf(obs.Warn, "ignoring rule file: %v; serving every client", err)
		ruleList = nil
	default:
		logger.Logf(obs.Info, "loaded %d access rules from %s", ruleList.Len(), cfg.RulesPath())
	}

	mode, err := httpx.ParseDispatchMode(cfg.Server.Dispatch)
	if err != nil {
		return err
	}
	srv := &httpx.Server{
		Addr: cfg.ServerAddress(),
		Handler: &httpx.FileServer{
			Root: &static.Root{
				Dir:          cfg.Static.Root,
				IndexFile:    cfg.Static.IndexFile,
				SniffUnknown: cfg.Static.SniffUnknown,
			},
			Rules:  ruleList,
			Logger: logger,
		},
		Rules:           ruleList,
		AdvisoryDenial:  cfg.Server.AdvisoryDenial,
		IdleTimeout:     cfg.Server.IdleTimeout,
		MaxIdleTimeouts: cfg.Server.MaxIdleTimeouts,
		WriteTimeout:    cfg.Server.WriteTimeout,
		MaxHeaderBytes:  cfg.Server.MaxHeaderBytes,
		MaxBodyBytes:    cfg.Server.MaxBodyBytes,
		MaxConns:        cfg.Server.MaxConns,
		Dispatch:        mode,
		AcceptRate:      cfg.Server.AcceptRate,
		ServerName:      cfg.Server.Name,
		Logger:          logger,
		Meter:           registry,
	}

	var adm *admin.Server
	if cfg.Admin.Addr != "" {
		adm = admin.New(cfg.Admin.Addr, registry, logger)
		if err := adm.Start(); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	if adm != nil {
		adm.SetReady(true)
	}
	logger.Logf(obs.Info, "serving %s on %s", cfg.Static.Root, cfg.ServerAddress())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Logf(obs.Info, "shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if adm != nil {
		if err := adm.Shutdown(shutdownCtx); err != nil {
			logger.Logf(obs.Warn, "%v", err)
		}
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, httpx.ErrServerClosed) {
		return err
	}
	return nil
}
