package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskmarket/internal/app"
	"taskmarket/internal/config"
	"taskmarket/internal/db"
	"taskmarket/internal/domain"
	"taskmarket/internal/engine"
	"taskmarket/internal/migrate"
	"taskmarket/internal/observability"
	"taskmarket/internal/repo"
	"taskmarket/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "tm",
	Short: "Taskmarket CLI",
	Long: `Taskmarket is a ledger for an agent task marketplace.
- Cells: fixed-size accounts holding tasks, agents, judges, stakes and deliverables. Fund them with 'tm account create'.
- Keys: wallets in .taskmarket/keys; every instruction is signed by one of them.
- Tasks: opened by a creator with a reward, claimed by a staking worker, judged, then completed and burned.
- Tokens: balances per wallet and currency; 'tm deposit' funds a wallet.
- Event log: every transaction and funding step, view with 'tm log tail'.
Pass --api to send transactions to a running 'tm serve' instead of the local ledger.`,
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
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		stop()
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("TASKMARKET")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor recorded on local funding events")
	rootCmd.PersistentFlags().String("api", "", "remote API base URL (default: local ledger)")
	rootCmd.PersistentFlags().String("api-key", "", "API key for --api")
	rootCmd.PersistentFlags().String("token", "", "bearer token for --api")
	for _, name := range []string{"workspace", "json", "actor-id", "api", "api-key", "token"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(keysCmd())
	rootCmd.AddCommand(accountCmd())
	rootCmd.AddCommand(depositCmd())
	rootCmd.AddCommand(balanceCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(agentCmd())
	rootCmd.AddCommand(judgeCmd())
	rootCmd.AddCommand(stakeCmd())
	rootCmd.AddCommand(deliverableCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(apiKeyCmd())
}

func initCmd() *cobra.Command {
	var programID string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a workspace ledger",
		Long:  "Writes taskmarket.yml (unless present) and stores it as the ledger's active config.",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
				if programID == "" {
					programID = solana.NewWallet().PublicKey().String()
				}
				if _, err := solana.PublicKeyFromBase58(programID); err != nil {
					return fmt.Errorf("invalid --program-id: %w", err)
				}
				if err := os.WriteFile(path, []byte(config.GenerateDefault(programID)), 0o644); err != nil {
					return err
				}
			} else if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	}
	cmd.Flags().StringVar(&programID, "program-id", "", "program id (default: random)")
	return cmd
}

func keysCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "keys", Short: "Local wallets"}
	cmd.AddCommand(keysNewCmd())
	cmd.AddCommand(keysListCmd())
	return cmd
}

func keysNewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "new <name>",
		Short: "Generate a wallet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ks, err := openKeystore(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			priv, err := ks.create(args[0])
			if err != nil {
				return err
			}
			return printJSONOrTable(storedKey{Name: args[0], Pubkey: priv.PublicKey().String()})
		},
	}
	return cmd
}

func keysListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List wallets",
		RunE: func(cmd *cobra.Command, args []string) error {
			ks, err := openKeystore(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			keys, err := ks.list()
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(keys)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Name", "Public key"})
			for _, k := range keys {
				tw.AppendRow(table.Row{k.Name, k.Pubkey})
			}
			tw.Render()
			return nil
		},
	}
}

func accountCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "account", Short: "Ledger cells"}
	cmd.AddCommand(accountCreateCmd())
	cmd.AddCommand(accountShowCmd())
	cmd.AddCommand(accountListCmd())
	return cmd
}

func accountCreateCmd() *cobra.Command {
	var opts engine.AccountOptions
	var key, owner string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Fund a zeroed cell",
		RunE: func(cmd *cobra.Command, args []string) error {
			ks, err := openKeystore(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			if key != "" {
				if opts.Key, err = ks.resolve(key); err != nil {
					return err
				}
			}
			if owner != "" {
				if opts.Owner, err = ks.resolve(owner); err != nil {
					return err
				}
			}
			opts.ActorID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.CreateAccount(ctx, opts)
				if err != nil {
					return err
				}
				return printAccounts([]domain.Account{a})
			})
		},
	}
	cmd.Flags().StringVar(&opts.Kind, "kind", "", "task, agent, judge, stake or deliverable")
	cmd.Flags().IntVar(&opts.Space, "space", 0, "data size (default: size of --kind)")
	cmd.Flags().Uint64Var(&opts.Lamports, "lamports", 0, "funding (default: rent-exempt minimum)")
	cmd.Flags().BoolVar(&opts.AllowNonExempt, "allow-non-exempt", false, "accept funding below the rent-exempt minimum")
	cmd.Flags().StringVar(&key, "pubkey", "", "cell key (default: random)")
	cmd.Flags().StringVar(&owner, "owner", "", "owning program (default: the ledger program)")
	return cmd
}

func accountShowCmd() *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "show <pubkey>",
		Short: "Show a cell and its decoded record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ks, err := openKeystore(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			key, err := ks.resolve(args[0])
			if err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				a, err := r.GetAccount(ctx, key)
				if err != nil {
					return err
				}
				if kind != "" {
					a.Kind = kind
				}
				record, err := engine.DecodeCell(a.Kind, a.Data)
				if err != nil {
					return err
				}
				return printJSON(map[string]any{
					"pubkey":   a.Key.String(),
					"owner":    a.Owner.String(),
					"lamports": a.Lamports,
					"space":    len(a.Data),
					"kind":     a.Kind,
					"record":   record,
				})
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "decode as this kind")
	return cmd
}

func accountListCmd() *cobra.Command {
	var f repo.AccountFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cells",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListAccounts(ctx, f)
				if err != nil {
					return err
				}
				return printAccounts(items)
			})
		},
	}
	cmd.Flags().StringVar(&f.Owner, "owner", "", "owner filter")
	cmd.Flags().StringVar(&f.Kind, "kind", "", "kind filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max rows")
	return cmd
}

func printAccounts(items []domain.Account) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Pubkey", "Kind", "Owner", "Lamports", "Space", "Initialized"})
	for _, a := range items {
		initialized := len(a.Data) > 0 && a.Data[0] != 0
		tw.AppendRow(table.Row{a.Key, a.Kind, a.Owner, a.Lamports, len(a.Data), initialized})
	}
	tw.Render()
	return nil
}

func depositCmd() *cobra.Command {
	var owner, currency string
	var amount uint64
	cmd := &cobra.Command{
		Use:   "deposit",
		Short: "Credit tokens to a wallet",
		RunE: func(cmd *cobra.Command, args []string) error {
			ks, err := openKeystore(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			key, err := ks.resolve(owner)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				b, err := e.Deposit(ctx, key, currency, amount, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printBalances([]domain.Balance{b})
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "wallet (key name or pubkey)")
	cmd.Flags().StringVar(&currency, "currency", "USDC", "currency")
	cmd.Flags().Uint64Var(&amount, "amount", 0, "amount")
	_ = cmd.MarkFlagRequired("owner")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func balanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "balance <wallet>",
		Short: "Show token balances",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ks, err := openKeystore(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			key, err := ks.resolve(args[0])
			if err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListBalances(ctx, key)
				if err != nil {
					return err
				}
				return printBalances(items)
			})
		},
	}
}

func printBalances(items []domain.Balance) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Owner", "Currency", "Amount"})
	for _, b := range items {
		tw.AppendRow(table.Row{b.Owner, b.Currency, b.Amount})
	}
	tw.Render()
	return nil
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "Every transaction outcome, cell funding, deposit and API key issued.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var f repo.EventFilters
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.LatestEvents(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Entity", "Actor", "Payload"})
				for _, evt := range events {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.EntityKind + ":" + evt.EntityID, evt.ActorID, evt.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&f.Limit, "n", 20, "number of events")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath, logLevel, logFormat string
	var legacyActor bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := observability.NewLogger(observability.LogConfig{Level: logLevel, Format: logFormat})
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(cmd.Context(), conn); err != nil {
				return err
			}
			cfg, err := app.ResolveConfig(cmd.Context(), workspace, repo.Repo{DB: conn})
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			e.Logger = logger
			if e.Metrics, err = observability.NewMetrics(prometheus.DefaultRegisterer); err != nil {
				return err
			}
			authCfg := server.AuthConfig{
				JWTSecret:              viper.GetString("jwt-secret"),
				AllowLegacyActorHeader: legacyActor,
				Logger:                 logger,
			}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("TASKMARKET_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			server.StartWebhookDispatcher(cmd.Context(), e, logger)
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			logger.Info("serving taskmarket API", "addr", addr, "base_path", basePath, "program_id", cfg.Program.ID)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "debug, info, warn or error")
	cmd.Flags().StringVar(&logFormat, "log-format", "text", "text or json")
	cmd.Flags().BoolVar(&legacyActor, "allow-actor-header", false, "trust X-Actor-Id without credentials (local use only)")
	cmd.Flags().String("jwt-secret", "", "HS256 secret for bearer tokens")
	_ = viper.BindPFlag("jwt-secret", cmd.Flags().Lookup("jwt-secret"))
	return cmd
}

func apiKeyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "apikey", Short: "API keys bound to wallets"}
	cmd.AddCommand(apiKeyCreateCmd())
	cmd.AddCommand(apiKeyListCmd())
	cmd.AddCommand(apiKeyRevokeCmd())
	return cmd
}

func apiKeyCreateCmd() *cobra.Command {
	var actor, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Issue an API key for a wallet; the key is printed once",
		RunE: func(cmd *cobra.Command, args []string) error {
			ks, err := openKeystore(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			wallet, err := ks.resolve(actor)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				key, secret, err := e.IssueAPIKey(ctx, wallet, name, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"id": key.ID, "actor_id": key.ActorID, "name": key.Name, "key": secret})
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "wallet (key name or pubkey)")
	cmd.Flags().StringVar(&name, "name", "", "label")
	_ = cmd.MarkFlagRequired("actor")
	return cmd
}

func apiKeyListCmd() *cobra.Command {
	var actor string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			actorID := ""
			if actor != "" {
				ks, err := openKeystore(viper.GetString("workspace"))
				if err != nil {
					return err
				}
				wallet, err := ks.resolve(actor)
				if err != nil {
					return err
				}
				actorID = wallet.String()
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx, actorID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Actor", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.ActorID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "wallet filter")
	return cmd
}

func apiKeyRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.RevokeAPIKey(ctx, args[0])
			})
		},
	}
}

// --- helpers ---

func printJSONOrTable(v any) error {
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
