package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cubdb/internal/config"
	"cubdb/pkg/db"
	"cubdb/pkg/reader"
)

func initLogger(cfg config.Config) *slog.Logger {
	var handler slog.Handler
	opts := &slog.HandlerOptions{AddSource: false}
	if cfg.Logger.JSON {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

func usage() {
	fmt.Println("Usage: cubdb [-dir path] [-config path] <command> [args]")
	fmt.Println("Commands:")
	fmt.Println("  put <key> <value>     write key/value")
	fmt.Println("  get <key>             print value; fails with a not-found error if absent")
	fmt.Println("  delete <key>          remove key")
	fmt.Println("  select [prefix]       print all key/value pairs, optionally filtered by a key prefix")
	fmt.Println("  compact               trigger a background compaction")
	fmt.Println("  stats                 print size and dirt factor")
}

func main() {
	args := os.Args[1:]
	dataDir := "./data"
	configPath := ""

	for len(args) > 0 {
		consumed := false
		switch args[0] {
		case "-dir":
			if len(args) < 2 {
				usage()
				os.Exit(1)
			}
			dataDir = args[1]
			args = args[2:]
			consumed = true
		case "-config":
			if len(args) < 2 {
				usage()
				os.Exit(1)
			}
			configPath = args[1]
			args = args[2:]
			consumed = true
		}
		if !consumed {
			break
		}
	}
	if len(args) < 1 {
		usage()
		os.Exit(1)
	}
	command := args[0]
	rest := args[1:]

	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "cubdb: load config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	cfg.DataDir = dataDir
	log := initLogger(cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	handle, err := db.Open(ctx, dataDir, db.Options{Config: cfg, Logger: log})
	if err != nil {
		fmt.Fprintf(os.Stderr, "cubdb: open %s: %v\n", dataDir, err)
		os.Exit(1)
	}

	done := make(chan error, 1)
	go func() { done <- run(handle, command, rest) }()

	select {
	case err := <-done:
		handle.Close()
		if err != nil {
			fmt.Fprintf(os.Stderr, "cubdb: %v\n", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		log.Warn("received shutdown signal, closing database")
		handle.Close()
		os.Exit(1)
	}
}

func run(handle *db.DB, command string, args []string) error {
	switch command {
	case "put":
		if len(args) != 2 {
			return fmt.Errorf("put requires <key> <value>")
		}
		return handle.Put([]byte(args[0]), []byte(args[1]))

	case "get":
		if len(args) != 1 {
			return fmt.Errorf("get requires <key>")
		}
		value, err := handle.Fetch([]byte(args[0]))
		if err != nil {
			return err
		}
		fmt.Println(string(value))
		return nil

	case "delete":
		if len(args) != 1 {
			return fmt.Errorf("delete requires <key>")
		}
		return handle.Delete([]byte(args[0]))

	case "select":
		opts := reader.SelectOptions{Reduction: reader.Reduction{}}
		if len(args) == 1 {
			prefix := []byte(args[0])
			opts.Pipeline = []reader.Stage{reader.FilterStage(func(key, value []byte) (bool, error) {
				return len(key) >= len(prefix) && string(key[:len(prefix)]) == string(prefix), nil
			})}
		}
		result, err := handle.Select(opts, 10*time.Second)
		if err != nil {
			return err
		}
		entries, ok := result.([]reader.Entry)
		if !ok {
			return fmt.Errorf("unexpected select result type %T", result)
		}
		for _, e := range entries {
			fmt.Printf("%s\t%s\n", e.Key, e.Value)
		}
		return nil

	case "compact":
		return handle.Compact()

	case "stats":
		fmt.Printf("size=%d dirt_factor=%.4f\n", handle.Size(), handle.DirtFactor())
		return nil

	default:
		usage()
		return fmt.Errorf("unknown command %q", command)
	}
}
