package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/AustinJeremiah05/Prop99/internal/config"
	"github.com/AustinJeremiah05/Prop99/internal/db"
	"github.com/AustinJeremiah05/Prop99/internal/domain"
	"github.com/AustinJeremiah05/Prop99/internal/ledger"
	"github.com/AustinJeremiah05/Prop99/internal/orchestrator"
	"github.com/AustinJeremiah05/Prop99/internal/repo"
	"github.com/AustinJeremiah05/Prop99/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "prop99",
	Short: "Prop99 verification oracle",
	Long: `Prop99 verifies real-world property claims and settles the result on a ledger.
How a request moves through the pipeline:
- Intake: a request arrives over the API, the CLI, or the on-chain watcher and is queued.
- Measurement: a satellite provider measures the parcel at the request coordinates.
- Valuation: independent agents each price the property from the same evidence package.
- Consensus: agent responses are reduced to one valuation with an agreement score.
- Evidence: the full bundle is pinned to content-addressed storage for audit.
- Settlement: the outcome is submitted on-chain exactly once, verified or rejected.
Every stage is recorded; 'prop99 requests get <id>' shows where a request stands.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("PROP99")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(verifyCmd())
	rootCmd.AddCommand(requestsCmd())
	rootCmd.AddCommand(evidenceCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(versionCmd())
}

// buildVersion is set with -ldflags "-X main.buildVersion=...".
var buildVersion = "dev"

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the prop99 version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("prop99", buildVersion)
		},
	}
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage oracle config"}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var oracleID string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default prop99.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(oracleID)), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&oracleID, "id", "prop99-oracle", "oracle identifier")
	return cmd
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the resolved config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrIndent(cfg)
		},
	}
	return cmd
}

func verifyCmd() *cobra.Command {
	var lat, lon float64
	var cids []string
	cmd := &cobra.Command{
		Use:   "verify <request-id>",
		Short: "Run one request through the full pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			requestID := strings.TrimSpace(args[0])
			if requestID == "" {
				return fmt.Errorf("request id is required")
			}
			return withOrchestrator(cmd.Context(), func(ctx context.Context, o *orchestrator.Orchestrator) error {
				req := domain.VerificationRequest{
					RequestID:    requestID,
					Latitude:     lat,
					Longitude:    lon,
					DocumentCIDs: cids,
				}
				rec, err := o.Run(ctx, req)
				if err != nil {
					// the failed record still carries the stage and cause
					_ = printJSONOrIndent(rec)
					return err
				}
				return printJSONOrIndent(rec)
			})
		},
	}
	cmd.Flags().Float64Var(&lat, "lat", 0, "parcel latitude")
	cmd.Flags().Float64Var(&lon, "lon", 0, "parcel longitude")
	cmd.Flags().StringArrayVar(&cids, "cid", []string{}, "document CID (repeatable)")
	_ = cmd.MarkFlagRequired("lat")
	_ = cmd.MarkFlagRequired("lon")
	return cmd
}

func requestsCmd() *cobra.Command {
	req := &cobra.Command{Use: "requests", Short: "Inspect verification requests"}
	req.AddCommand(requestsListCmd())
	req.AddCommand(requestsGetCmd())
	return req
}

func requestsListCmd() *cobra.Command {
	var stage string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListRequests(ctx, stage, limit, "", "")
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Request", "Stage", "Valuation", "Confidence", "Evidence", "Updated"})
				for _, rec := range items {
					valuation := ""
					if rec.Valuation != nil {
						valuation = fmt.Sprintf("%.2f", *rec.Valuation)
					}
					confidence := ""
					if rec.Confidence != nil {
						confidence = fmt.Sprintf("%d", *rec.Confidence)
					}
					stageCell := rec.Stage
					if rec.Stage == domain.StageFailed && rec.FailedStage != "" {
						stageCell = fmt.Sprintf("failed (%s)", rec.FailedStage)
					}
					tw.AppendRow(table.Row{rec.RequestID, stageCell, valuation, confidence, rec.EvidenceCID, rec.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&stage, "stage", "", "stage filter")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows")
	return cmd
}

func requestsGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <request-id>",
		Short: "Show a request lifecycle record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				rec, err := r.GetRequest(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrIndent(rec)
			})
		},
	}
	return cmd
}

func evidenceCmd() *cobra.Command {
	ev := &cobra.Command{Use: "evidence", Short: "Inspect archived evidence"}
	ev.AddCommand(evidenceGetCmd())
	return ev
}

func evidenceGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <request-id>",
		Short: "Show the evidence reference for a request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				ref, err := r.GetEvidenceRef(ctx, args[0])
				if err != nil {
					return err
				}
				cfg, _ := config.LoadOptional(viper.GetString("workspace"))
				out := map[string]string{
					"request_id": ref.RequestID,
					"cid":        ref.CID,
					"updated_at": ref.UpdatedAt,
				}
				if cfg != nil && cfg.Storage.GatewayURL != "" {
					out["url"] = strings.TrimRight(cfg.Storage.GatewayURL, "/") + "/" + ref.CID
				}
				return printJSONOrIndent(out)
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of everything that happened to a request: stage transitions, agent results, submissions.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var requestID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				var items []domain.Event
				var err error
				if requestID != "" {
					items, err = r.EventsForRequest(ctx, requestID, n)
				} else {
					items, err = r.EventsAfter(ctx, n, 0)
				}
				if err != nil {
					return err
				}
				return printJSONOrIndent(items)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&requestID, "request", "", "request id filter")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var watch bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the oracle: HTTP API, request dispatcher, and ledger watcher",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			conn, err := db.Open(workspace)
			if err != nil {
				return err
			}
			defer conn.Close()
			o, err := orchestrator.Build(cmd.Context(), conn, cfg)
			if err != nil {
				return err
			}
			dispatcher := server.NewDispatcher(o, 0)
			if addr == "" {
				addr = cfg.Server.Listen
			}
			if addr == "" {
				addr = "127.0.0.1:8080"
			}
			handler, err := server.New(server.Config{
				Orchestrator: o,
				Dispatcher:   dispatcher,
				BasePath:     basePath,
				GatewayURL:   cfg.Storage.GatewayURL,
				Auth:         server.AuthConfig{JWTSecret: os.Getenv(cfg.Server.JWTSecret)},
			})
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			go dispatcher.Run(ctx)
			if watch {
				sub, ok := o.Submitter.(*ledger.EthSubmitter)
				if !ok {
					return fmt.Errorf("ledger watcher needs an RPC-backed submitter")
				}
				watcher := &ledger.Watcher{
					Client: sub.Client(),
					Router: sub.Router(),
					Handle: func(ctx context.Context, req domain.VerificationRequest) {
						if err := o.Accept(ctx, req); err != nil {
							fmt.Printf("watcher: request %s: %v\n", req.RequestID, err)
							return
						}
						dispatcher.Wake()
					},
				}
				go func() {
					if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
						fmt.Printf("watcher stopped: %v\n", err)
					}
				}()
			}

			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-ctx.Done()
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer shutdownCancel()
				srv.Shutdown(shutdownCtx)
			}()
			fmt.Printf("Serving Prop99 oracle API on http://%s%s (OpenAPI at /openapi.json)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to config server.listen)")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&watch, "watch", true, "watch the ledger router for new requests")
	return cmd
}

// --- helpers ---

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(workspace)
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(ctx, repo.Repo{DB: conn})
}

func withOrchestrator(ctx context.Context, fn func(context.Context, *orchestrator.Orchestrator) error) error {
	workspace := viper.GetString("workspace")
	cfg, err := config.Load(workspace)
	if err != nil {
		return err
	}
	conn, err := db.Open(workspace)
	if err != nil {
		return err
	}
	defer conn.Close()
	o, err := orchestrator.Build(ctx, conn, cfg)
	if err != nil {
		return err
	}
	return fn(ctx, o)
}

func printJSONOrIndent(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
