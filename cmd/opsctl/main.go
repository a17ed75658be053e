// Command opsctl inspects and serves an opsclient configuration.
//
//	opsctl [-config file] health
//	opsctl [-config file] get <target> [key=value ...]
//	opsctl [-config file] ratelimit <target>
//	opsctl [-config file] serve
//	opsctl version
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ambiyansyah-risyal/opsclient"
	"github.com/ambiyansyah-risyal/opsclient/internal/opsapi"
)

func main() {
	var (
		configPath = flag.String("config", os.Getenv("OPSCLIENT_CONFIG"), "Path to a YAML config file")
		timeout    = flag.Duration("timeout", 30*time.Second, "Deadline for one-shot commands")
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: opsctl [flags] health|get|ratelimit|serve|version [args]\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}
	if args[0] == "version" {
		fmt.Println(opsclient.GetVersion())
		return
	}

	cfg, err := opsclient.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := opsclient.NewFromConfig(ctx, cfg)
	if err != nil {
		log.Fatalf("build client: %v", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := client.Close(closeCtx); err != nil {
			log.Printf("close client: %v", err)
		}
	}()

	switch args[0] {
	case "serve":
		err = serve(ctx, client, cfg.Ops)
	case "health":
		err = withTimeout(ctx, *timeout, func(ctx context.Context) error { return health(ctx, client) })
	case "get":
		err = withTimeout(ctx, *timeout, func(ctx context.Context) error { return get(ctx, client, args[1:]) })
	case "ratelimit":
		if len(args) < 2 {
			err = errors.New("ratelimit requires a target")
			break
		}
		err = printJSON(client.RateLimitInfo(args[1]))
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		log.Printf("%s: %v", args[0], err)
		stop()
		os.Exit(1)
	}
}

func withTimeout(ctx context.Context, d time.Duration, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	return fn(ctx)
}

func health(ctx context.Context, client *opsclient.Client) error {
	report := client.HealthCheck(ctx)
	if err := printJSON(report); err != nil {
		return err
	}
	if !report.Healthy() {
		return errors.New("unhealthy")
	}
	return nil
}

func get(ctx context.Context, client *opsclient.Client, args []string) error {
	if len(args) == 0 {
		return errors.New("get requires a target")
	}
	query := make(map[string]string, len(args)-1)
	for _, kv := range args[1:] {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return fmt.Errorf("query argument %q is not key=value", kv)
		}
		query[k] = v
	}

	resp, err := client.Get(ctx, args[0], query)
	if err != nil {
		var apiErr *opsclient.APIError
		if errors.As(err, &apiErr) {
			fmt.Fprintln(os.Stderr, apiErr.DebugInfo())
		}
		return err
	}
	return printJSON(resp)
}

func serve(ctx context.Context, client *opsclient.Client, cfg opsclient.OpsConfig) error {
	if cfg.Maintenance != "" {
		m, err := client.StartMaintenance(cfg.Maintenance)
		if err != nil {
			return err
		}
		defer m.Stop(context.Background())
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           opsapi.NewRouter(client),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		client.Logger().Info("Operations server listening", "addr", cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
