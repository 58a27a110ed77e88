// Command trustledger runs operation scripts against a persistent
// organization state and inspects its event journal.
package main

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	ucansigner "github.com/storacha/go-ucanto/principal/ed25519/signer"

	"github.com/relves/trustledger/internal/storage/sqlite"
	"github.com/relves/trustledger/pkg/dao"
	"github.com/relves/trustledger/pkg/runtime"
	"github.com/relves/trustledger/pkg/tlog"
	"github.com/relves/trustledger/pkg/types"
)

const usage = `usage: trustledger <command> [flags]

commands:
  run <script.json>            apply a script of operations
  events [-type T] [-emitter E] list journal events as JSON lines
  prove <seq>                  print an inclusion proof for an event
  checkpoint                   print a signed checkpoint of the journal
  audit                        verify every stored event against the journal
`

func main() {
	levelStr := getEnv("LOG_LEVEL", "info")
	var level slog.Level
	if err := level.UnmarshalText([]byte(levelStr)); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1], os.Args[2:], os.Stdout, logger); err != nil {
		logger.Error("command failed", "command", os.Args[1], "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd string, args []string, out io.Writer, logger *slog.Logger) error {
	cacheSize, err := strconv.Atoi(getEnv("CACHE_SIZE", "10000"))
	if err != nil {
		return fmt.Errorf("invalid CACHE_SIZE: %w", err)
	}
	delay, err := strconv.ParseUint(getEnv("SECURITY_DELAY", "10"), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid SECURITY_DELAY: %w", err)
	}
	org := getEnv("TRUSTLEDGER_ORG", "trustledger")

	storeManager := sqlite.NewStoreManager(getEnv("DATA_PATH", "./data"))
	defer storeManager.CloseAll()

	ds, err := storeManager.GetStore(org)
	if err != nil {
		return fmt.Errorf("open state: %w", err)
	}

	clock := runtime.NewCounter(1)
	rt, err := runtime.New(ctx,
		runtime.WithStore(ds),
		runtime.WithClock(clock),
		runtime.WithAutoAdvance(),
		runtime.WithCacheSize(cacheSize),
		runtime.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	// Resume the clock after the last recorded tick.
	if size := rt.Journal().Size(); size > 0 {
		last, err := rt.Journal().Get(size - 1)
		if err != nil {
			return err
		}
		if err := clock.Set(types.Tick(last.Tick + 1)); err != nil {
			return err
		}
	}

	svc := dao.New(rt, dao.Config{Org: org, SecurityDelay: delay, Logger: logger})
	if err := svc.Restore(ctx); err != nil {
		return err
	}

	switch cmd {
	case "run":
		if len(args) != 1 {
			return fmt.Errorf("run expects one script path")
		}
		script, err := loadScript(args[0])
		if err != nil {
			return err
		}
		return runScript(ctx, svc, clock, script, out)

	case "events":
		fs := flag.NewFlagSet("events", flag.ContinueOnError)
		typ := fs.String("type", "", "event type")
		emitter := fs.String("emitter", "", "emitting component")
		if err := fs.Parse(args); err != nil {
			return err
		}
		enc := json.NewEncoder(out)
		for _, e := range svc.Journal().Events(tlog.Query{Type: *typ, Emitter: *emitter}) {
			if err := enc.Encode(e); err != nil {
				return err
			}
		}
		return nil

	case "prove":
		if len(args) != 1 {
			return fmt.Errorf("prove expects a sequence number")
		}
		seq, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid sequence number: %w", err)
		}
		p, err := svc.Journal().Prove(seq)
		if err != nil {
			return err
		}
		c, err := svc.Journal().EventCID(seq)
		if err != nil {
			return err
		}
		return json.NewEncoder(out).Encode(struct {
			CID   string `json:"cid"`
			Proof *tlog.InclusionProof
		}{c.String(), p})

	case "checkpoint":
		priv, err := loadKey()
		if err != nil {
			return err
		}
		signer, err := tlog.NewEd25519Signer(priv, org)
		if err != nil {
			return err
		}
		principal, err := ucansigner.FromRaw(priv)
		if err != nil {
			return fmt.Errorf("derive signer identity: %w", err)
		}
		note, err := svc.Journal().Checkpoint(org+"/journal", signer)
		if err != nil {
			return err
		}
		logger.Info("checkpoint signed", "signer", principal.DID().String(), "size", svc.Journal().Size())
		_, err = out.Write(note)
		return err

	case "audit":
		if err := svc.Journal().Audit(ctx, ds); err != nil {
			return err
		}
		root, size, err := svc.Journal().Root()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "ok: %d events, root %s\n", size, base64.StdEncoding.EncodeToString(root))
		return nil
	}
	return fmt.Errorf("unknown command %q\n%s", cmd, usage)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// loadKey loads the checkpoint signing key from TRUSTLEDGER_PRIVATE_KEY or
// generates an ephemeral one.
func loadKey() (ed25519.PrivateKey, error) {
	if env := os.Getenv("TRUSTLEDGER_PRIVATE_KEY"); env != "" {
		priv, err := base64.StdEncoding.DecodeString(env)
		if err != nil {
			return nil, fmt.Errorf("failed to decode TRUSTLEDGER_PRIVATE_KEY: %w", err)
		}
		if len(priv) != ed25519.PrivateKeySize {
			return nil, fmt.Errorf("TRUSTLEDGER_PRIVATE_KEY must be %d bytes, got %d", ed25519.PrivateKeySize, len(priv))
		}
		return ed25519.PrivateKey(priv), nil
	}

	slog.Warn("TRUSTLEDGER_PRIVATE_KEY not set, signing with an ephemeral key")
	_, priv, err := ed25519.GenerateKey(nil)
	return priv, err
}
