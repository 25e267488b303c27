// Package dizzy parses dizzy command flags and runs todo commands through
// the dispatch loop against a SQLite journal.
package dizzy

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/louisbranch/dizzy/internal/app/todo"
	"github.com/louisbranch/dizzy/internal/dispatch/codec"
	"github.com/louisbranch/dizzy/internal/dispatch/engine"
	"github.com/louisbranch/dizzy/internal/dispatch/provenance"
	"github.com/louisbranch/dizzy/internal/dispatch/sink"
	"github.com/louisbranch/dizzy/internal/dispatch/submit"
	entrypoint "github.com/louisbranch/dizzy/internal/platform/cmd"
	"github.com/louisbranch/dizzy/internal/platform/config"
	"github.com/louisbranch/dizzy/internal/platform/errors/i18n"
	"github.com/louisbranch/dizzy/internal/platform/logging"
	"github.com/louisbranch/dizzy/internal/storage/sqlite"
)

const maxLineBytes = 1 << 20

// Config holds dizzy command configuration. Env tags are relative to the
// DIZZY_ prefix.
type Config struct {
	config.Dispatch

	Locale  string `env:"LOCALE" envDefault:"en-US"`
	Metrics bool   `env:"METRICS"`

	// Type and Payload submit one command. Without Type, commands are read
	// from stdin as JSON lines.
	Type    string
	Payload string

	List      bool
	Filter    string
	AfterSeq  uint64
	Limit     int
	PageToken string

	Verify  bool
	Lineage string
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite journal path")
	fs.IntVar(&cfg.MaxDispatches, "max-dispatches", cfg.MaxDispatches, "dispatch guard per run (negative disables)")
	fs.DurationVar(&cfg.HandlerTimeout, "handler-timeout", cfg.HandlerTimeout, "per handler timeout (0 disables)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "zerolog level")
	fs.BoolVar(&cfg.LogConsole, "log-console", cfg.LogConsole, "human readable logs")
	fs.BoolVar(&cfg.Provenance, "provenance", cfg.Provenance, "record provenance of every handler invocation")
	fs.BoolVar(&cfg.Metrics, "metrics", cfg.Metrics, "print dispatch metrics after the run")
	fs.StringVar(&cfg.Locale, "locale", cfg.Locale, "locale for error messages")
	fs.StringVar(&cfg.Type, "type", "", "command type to submit")
	fs.StringVar(&cfg.Payload, "payload", "{}", "JSON payload for -type")
	fs.BoolVar(&cfg.List, "list", false, "list journal events")
	fs.StringVar(&cfg.Filter, "filter", "", "AIP-160 filter for -list")
	fs.Uint64Var(&cfg.AfterSeq, "after", 0, "list events after this journal position")
	fs.IntVar(&cfg.Limit, "limit", 0, "page size for -list")
	fs.StringVar(&cfg.PageToken, "page-token", "", "continue a previous -list page")
	fs.BoolVar(&cfg.Verify, "verify", false, "verify the journal hash chain")
	fs.StringVar(&cfg.Lineage, "lineage", "", "print the provenance lineage of an entity id")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run executes the selected mode. Errors are also reported to errOut with a
// localized message.
func Run(ctx context.Context, cfg Config, in io.Reader, out io.Writer, errOut io.Writer) error {
	if out == nil {
		out = io.Discard
	}
	if errOut == nil {
		errOut = io.Discard
	}
	logging.Configure(logging.Config{
		Level:   cfg.LogLevel,
		Output:  errOut,
		Service: entrypoint.ServiceDizzy,
		Console: cfg.LogConsole,
	})

	err := entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceDizzy, func(ctx context.Context) error {
		if strings.TrimSpace(cfg.DBPath) == "" {
			return errors.New("db path is required")
		}
		store, err := sqlite.Open(cfg.DBPath)
		if err != nil {
			return err
		}
		defer store.Close()

		switch {
		case cfg.Verify:
			if err := store.VerifyChain(ctx); err != nil {
				return err
			}
			fmt.Fprintln(out, "journal ok")
			return nil
		case cfg.Lineage != "":
			return printLineage(ctx, store, cfg.Lineage, out)
		case cfg.List:
			return listEvents(ctx, store, cfg, out, errOut)
		default:
			return submitCommands(ctx, store, cfg, in, out, errOut)
		}
	})
	if err != nil {
		reportError(errOut, err, cfg.Locale)
	}
	return err
}

func submitCommands(ctx context.Context, store *sqlite.Store, cfg Config, in io.Reader, out, errOut io.Writer) error {
	envs, err := readCommands(cfg, in)
	if err != nil {
		return err
	}

	app, err := todo.New(todo.NewStore())
	if err != nil {
		return err
	}
	entries, err := store.EventsByTypes(ctx, todo.EventTypes()...)
	if err != nil {
		return fmt.Errorf("load journal: %w", err)
	}
	history := make([]codec.Envelope, 0, len(entries))
	for _, entry := range entries {
		history = append(history, entry.Event)
	}
	if err := app.Replay(ctx, history); err != nil {
		return err
	}

	sinks := []engine.Sink{
		sink.NewLog(logging.WithComponent("dispatch"), zerolog.DebugLevel),
		sink.NewTrace(nil),
	}
	var registry *prometheus.Registry
	if cfg.Metrics {
		registry = prometheus.NewRegistry()
		sinks = append(sinks, sink.NewMetrics(registry))
	}
	if cfg.Provenance {
		sinks = append(sinks, provenance.NewRecorder(store))
	}
	loop, err := app.Loop(
		engine.WithSinks(sinks...),
		engine.WithMaxDispatches(cfg.MaxDispatches),
		engine.WithHandlerTimeout(cfg.HandlerTimeout),
	)
	if err != nil {
		return err
	}
	service, err := submit.NewService(loop, submit.WithJournal(submit.JournalFunc(
		func(ctx context.Context, envs []codec.Envelope) error {
			_, err := store.AppendEvents(ctx, envs)
			return err
		},
	)))
	if err != nil {
		return err
	}

	reply, err := service.SubmitEnvelopes(ctx, envs...)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	for _, evt := range reply.Events {
		if err := enc.Encode(evt); err != nil {
			return err
		}
	}
	if registry != nil {
		return writeMetrics(errOut, registry)
	}
	return nil
}

// readCommands returns the -type command, or every JSON line of in.
func readCommands(cfg Config, in io.Reader) ([]codec.Envelope, error) {
	if cfg.Type != "" {
		payload := strings.TrimSpace(cfg.Payload)
		if payload == "" {
			payload = "{}"
		}
		return []codec.Envelope{{Type: cfg.Type, Payload: json.RawMessage(payload)}}, nil
	}
	if in == nil {
		return nil, errors.New("command type or stdin input is required")
	}
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	var envs []codec.Envelope
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var env codec.Envelope
		if err := json.Unmarshal([]byte(text), &env); err != nil {
			return nil, fmt.Errorf("line %d: %w: %v", line, codec.ErrEnvelopeInvalid, err)
		}
		envs = append(envs, env)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read commands: %w", err)
	}
	if len(envs) == 0 {
		return nil, errors.New("no commands to submit")
	}
	return envs, nil
}

// journalRecord is the JSON line printed for each listed journal entry.
type journalRecord struct {
	Seq           uint64          `json:"seq"`
	Type          string          `json:"type"`
	Payload       json.RawMessage `json:"payload"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	CausationID   string          `json:"causation_id,omitempty"`
	Cycle         int             `json:"cycle,omitempty"`
	Hash          string          `json:"hash"`
	ChainHash     string          `json:"chain_hash"`
	EntityID      string          `json:"entity_id"`
	RecordedAt    time.Time       `json:"recorded_at"`
}

func listEvents(ctx context.Context, store *sqlite.Store, cfg Config, out, errOut io.Writer) error {
	page, err := store.ListPage(ctx, sqlite.ListRequest{
		AfterSeq:  cfg.AfterSeq,
		Limit:     cfg.Limit,
		Filter:    cfg.Filter,
		PageToken: cfg.PageToken,
	})
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	for _, entry := range page.Entries {
		entityID, err := provenance.EntityID(entry.Event.Type, entry.Event.Payload)
		if err != nil {
			return err
		}
		if err := enc.Encode(journalRecord{
			Seq:           entry.Seq,
			Type:          entry.Event.Type,
			Payload:       entry.Event.Payload,
			CorrelationID: entry.Event.CorrelationID,
			CausationID:   entry.Event.CausationID,
			Cycle:         entry.Event.Cycle,
			Hash:          entry.Hash,
			ChainHash:     entry.ChainHash,
			EntityID:      entityID,
			RecordedAt:    entry.RecordedAt,
		}); err != nil {
			return err
		}
	}
	if page.NextPageToken != "" {
		fmt.Fprintf(errOut, "next page: -page-token %s\n", page.NextPageToken)
	}
	return nil
}

type derivationRecord struct {
	EntityID   string `json:"entity_id"`
	SourceID   string `json:"source_id"`
	ActivityID string `json:"activity_id"`
	Handler    string `json:"handler,omitempty"`
}

func printLineage(ctx context.Context, store *sqlite.Store, entityID string, out io.Writer) error {
	derivations, err := provenance.Lineage(ctx, store, entityID)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	for _, d := range derivations {
		record := derivationRecord{EntityID: d.EntityID, SourceID: d.SourceID, ActivityID: d.ActivityID}
		if activity, err := store.GetActivity(ctx, d.ActivityID); err == nil {
			record.Handler = activity.Handler
		}
		if err := enc.Encode(record); err != nil {
			return err
		}
	}
	return nil
}

func reportError(w io.Writer, err error, locale string) {
	classified := submit.Classify(err)
	catalog := i18n.GetCatalog(locale)
	fmt.Fprintf(w, "%s: %s\n", classified.Code, catalog.Format(string(classified.Code), classified.Metadata))
}
