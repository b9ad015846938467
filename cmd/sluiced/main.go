// sluiced is the coordination daemon and operator CLI: long-running worker
// and janitor processes, plus one-shot commands to submit runs and inspect
// queue state.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	sluice "github.com/SluiceQ/sluice-go"
	"github.com/SluiceQ/sluice-go/internal/config"
	"github.com/SluiceQ/sluice-go/metrics"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

var configFile string

func main() {
	if err := buildCLI().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func buildCLI() *cobra.Command {
	root := &cobra.Command{
		Use:     "sluiced",
		Short:   "Sluice coordination daemon",
		Long:    "Content-addressed artifact store and stream-backed task queue:\nworkers, janitor and fan-out orchestration over Redis.",
		Version: "1.0.0",
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "sluiced.yaml", "config file path")

	root.AddCommand(buildWorkerCommand())
	root.AddCommand(buildJanitorCommand())
	root.AddCommand(buildSubmitCommand())
	root.AddCommand(buildEnqueueCommand())
	root.AddCommand(buildPendingCommand())
	root.AddCommand(buildStatusCommand())
	return root
}

// loadConfig reads the config file; a missing file at the default location
// just means defaults.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if errors.Is(err, fs.ErrNotExist) {
		return config.Default(), nil
	}
	return cfg, err
}

func newRedisClient(cfg *config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

func serveMetrics(cfg *config.Config, col *metrics.Collector, log sluice.Logger) {
	if !cfg.Metrics.Enabled {
		return
	}
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", col.Handler())
		addr := fmt.Sprintf(":%d", cfg.Metrics.Port)
		log.Infof("metrics listening on %s", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Errorf("metrics server: err=%v", err)
		}
	}()
}

func awaitSignal() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
}

func buildWorkerCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run a worker over the configured queue",
		Long:  "Claims tasks from the configured consumer group and runs the external handler command mapped to each payload type.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if len(cfg.Handlers) == 0 {
				return fmt.Errorf("no handlers configured; nothing to run")
			}
			log := sluice.NewFmtLogger()
			rdb := newRedisClient(cfg)
			defer rdb.Close()

			mux := sluice.NewMux()
			for typ, h := range cfg.Handlers {
				mux.Handle(typ, sluice.ProcHandler(h.Command, h.Args...))
			}

			col := metrics.NewCollector()
			serveMetrics(cfg, col, log)

			q := sluice.NewQueue(rdb)
			w := sluice.NewWorker(q, sluice.NewArtifactStore(rdb), mux, sluice.WorkerConfig{
				Queue:       cfg.Queue.Name,
				Group:       cfg.Queue.Group,
				Consumer:    cfg.Worker.Consumer,
				Concurrency: cfg.Worker.Concurrency,
				ClaimBlock:  cfg.ClaimBlock(),
				StatusTTL:   cfg.StatusTTL(),
				Logger:      log,
				Metrics:     col,
			})
			w.Start()
			awaitSignal()
			log.Infof("shutting down")
			w.Stop()
			return nil
		},
	}
}

func buildJanitorCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "janitor",
		Short: "Run the recovery agent",
		Long:  "Periodically reclaims pending tasks whose consumer went silent, per the configured reclaim policy.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			policy, ok := sluice.ParseReclaimPolicy(cfg.Janitor.Policy)
			if !ok {
				return fmt.Errorf("unknown reclaim policy %q", cfg.Janitor.Policy)
			}
			log := sluice.NewFmtLogger()
			rdb := newRedisClient(cfg)
			defer rdb.Close()

			col := metrics.NewCollector()
			serveMetrics(cfg, col, log)

			j := sluice.NewJanitor(sluice.NewQueue(rdb), sluice.JanitorConfig{
				Watches:       []sluice.Watch{{Queue: cfg.Queue.Name, Group: cfg.Queue.Group, Policy: policy}},
				Interval:      cfg.JanitorInterval(),
				MaxIdle:       cfg.MaxIdle(),
				MaxDeliveries: cfg.Janitor.MaxDeliveries,
				Consumer:      cfg.Janitor.Consumer,
				Logger:        log,
				Metrics:       col,
			})
			j.Start()
			awaitSignal()
			log.Infof("shutting down")
			j.Stop()
			return nil
		},
	}
}

func buildSubmitCommand() *cobra.Command {
	var docFile string

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a corpus and wait for the aggregated result",
		Long:  "Reads a JSON array of document strings, stores each as an artifact, fans the run out over the queue and prints the aggregated result once every batch has reported.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			raw, err := os.ReadFile(docFile)
			if err != nil {
				return fmt.Errorf("read documents: %w", err)
			}
			var docs []string
			if err := json.Unmarshal(raw, &docs); err != nil {
				return fmt.Errorf("parse documents: %w", err)
			}

			log := sluice.NewFmtLogger()
			rdb := newRedisClient(cfg)
			defer rdb.Close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			st := sluice.NewArtifactStore(rdb)
			ids := make([]string, 0, len(docs))
			for _, d := range docs {
				id, err := st.Put(ctx, []byte(d))
				if err != nil {
					return err
				}
				ids = append(ids, id)
			}

			o := sluice.NewOrchestrator(sluice.NewQueue(rdb), st, sluice.OrchestratorConfig{
				Queue:      cfg.Queue.Name,
				Planner:    sluice.SizePlanner{MaxDocs: cfg.Orchestrator.MaxDocs},
				AwaitPoll:  cfg.Poll(),
				RunTimeout: cfg.AwaitTimeout(),
				Logger:     log,
			})
			res, err := o.Execute(ctx, &sluice.Request{Documents: ids})
			if err != nil {
				var partial *sluice.PartialCompletionError
				if errors.As(err, &partial) {
					return fmt.Errorf("run %s incomplete: missing batches %v", partial.RunID, partial.Missing)
				}
				return err
			}
			if res.ArtifactID == "" {
				fmt.Println("empty corpus; nothing dispatched")
				return nil
			}
			out, err := st.Get(ctx, res.ArtifactID)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "run=%s artifact=%s\n", res.RunID, res.ArtifactID)
			_, err = os.Stdout.Write(out)
			return err
		},
	}
	cmd.Flags().StringVarP(&docFile, "file", "f", "", "JSON file with an array of document strings")
	cmd.MarkFlagRequired("file")
	return cmd
}

func buildEnqueueCommand() *cobra.Command {
	var taskFile string

	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Enqueue raw task envelopes from a JSON file",
		Long:  "Reads a JSON array of payload envelopes ({\"type\": ..., \"data\": ...}) and appends each as one task.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			raw, err := os.ReadFile(taskFile)
			if err != nil {
				return fmt.Errorf("read tasks: %w", err)
			}
			var envelopes []json.RawMessage
			if err := json.Unmarshal(raw, &envelopes); err != nil {
				return fmt.Errorf("parse tasks: %w", err)
			}

			rdb := newRedisClient(cfg)
			defer rdb.Close()
			q := sluice.NewQueue(rdb)

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			for i, env := range envelopes {
				id, err := q.EnqueueRaw(ctx, cfg.Queue.Name, env)
				if err != nil {
					return fmt.Errorf("enqueue task %d: %w", i, err)
				}
				fmt.Println(id)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&taskFile, "file", "f", "", "JSON file with an array of payload envelopes")
	cmd.MarkFlagRequired("file")
	return cmd
}

func buildPendingCommand() *cobra.Command {
	var count int64

	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List the consumer group's pending entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			rdb := newRedisClient(cfg)
			defer rdb.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			entries, err := sluice.NewQueue(rdb).PendingRange(ctx, cfg.Queue.Name, cfg.Queue.Group, count)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println("no pending entries")
				return nil
			}
			fmt.Printf("%-20s %-24s %10s %12s\n", "TASK", "CONSUMER", "DELIVERED", "IDLE")
			for _, e := range entries {
				fmt.Printf("%-20s %-24s %10d %12s\n", e.TaskID, e.Consumer, e.DeliveryCount, e.Idle.Truncate(time.Millisecond))
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&count, "count", 128, "maximum entries to list")
	return cmd
}

func buildStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status <task-id>...",
		Short: "Show recorded task statuses",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			rdb := newRedisClient(cfg)
			defer rdb.Close()
			q := sluice.NewQueue(rdb)

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			for _, id := range args {
				st, found, err := q.TaskStatus(ctx, cfg.Queue.Name, id)
				switch {
				case err != nil:
					return err
				case !found:
					fmt.Printf("%s\tunknown\n", id)
				default:
					fmt.Printf("%s\t%s\n", id, st)
				}
			}
			return nil
		},
	}
}
