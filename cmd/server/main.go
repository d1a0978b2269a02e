package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/good-yellow-bee/blazetrack/internal/alerting"
	"github.com/good-yellow-bee/blazetrack/internal/api/auth"
	"github.com/good-yellow-bee/blazetrack/internal/app"
	"github.com/good-yellow-bee/blazetrack/internal/escalation"
	"github.com/good-yellow-bee/blazetrack/internal/logging"
	"github.com/good-yellow-bee/blazetrack/internal/metrics"
	"github.com/good-yellow-bee/blazetrack/pkg/config"
)

var (
	configFile string
	httpAddr   string
	verbose    bool

	tokenRole string
	tokenTTL  time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "blazetrack-server",
	Short: "BlazeTrack Server - error tracking and alerting",
	Long: `BlazeTrack Server groups captured errors, raises alerts from rules,
escalates unacknowledged alerts and delivers notifications.`,
	SilenceUsage: true,
	RunE:         runServer,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the server (default command)",
	RunE:  runServer,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("blazetrack-server %s\n", config.Version)
		fmt.Printf("  commit: %s\n", config.Commit)
		fmt.Printf("  built:  %s\n", config.BuildTime)
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token <subject>",
	Short: "Mint an API token signed with the configured secret",
	Args:  cobra.ExactArgs(1),
	RunE:  runToken,
}

var checkRulesCmd = &cobra.Command{
	Use:   "check-rules",
	Short: "Validate the configured alert and escalation rule files",
	RunE:  runCheckRules,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path (optional)")
	rootCmd.PersistentFlags().StringVarP(&httpAddr, "address", "a", "", "HTTP listen address")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	tokenCmd.Flags().StringVar(&tokenRole, "role", string(auth.RoleOperator), "token role (viewer, operator, admin)")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "token lifetime (default server.token_ttl)")

	rootCmd.AddCommand(serveCmd, versionCmd, tokenCmd, checkRulesCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*Config, error) {
	var cfg *Config
	if configFile != "" {
		var err error
		cfg, err = LoadConfig(configFile)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	} else {
		cfg = DefaultConfig()
	}

	// CLI flags win over the file.
	if httpAddr != "" {
		cfg.Server.HTTPAddress = httpAddr
	}
	cfg.Verbose = verbose
	if verbose {
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}

	a, err := app.New(cfg.toApp(), logger)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.SetBuildInfo(config.Version, config.Commit, config.BuildTime)
	logger.Info("starting blazetrack-server", "version", config.Version, "address", cfg.Server.HTTPAddress)
	if err := a.Run(ctx); err != nil {
		return fmt.Errorf("run server: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Server.JWTSecret == "" {
		return fmt.Errorf("no jwt secret configured (set server.jwt_secret or %s)", jwtSecretEnv)
	}
	role, ok := auth.ParseRole(tokenRole)
	if !ok {
		return fmt.Errorf("unknown role %q", tokenRole)
	}

	svc := auth.NewJWTService([]byte(cfg.Server.JWTSecret), cfg.Server.TokenTTL.Std())
	token, err := svc.GenerateToken(args[0], role, tokenTTL)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}

func runCheckRules(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	checked := 0
	if path := cfg.Alerting.RulesFile; path != "" {
		rules, err := alerting.LoadRulesFromFile(path)
		if err != nil {
			return fmt.Errorf("alert rules %s: %w", path, err)
		}
		fmt.Fprintf(out, "%s: %d alert rules ok\n", path, len(rules))
		checked++
	}
	if path := cfg.Escalation.RulesFile; path != "" {
		rules, err := escalation.LoadRulesFromFile(path)
		if err != nil {
			return fmt.Errorf("escalation rules %s: %w", path, err)
		}
		fmt.Fprintf(out, "%s: %d escalation rules ok\n", path, len(rules))
		checked++
	}
	if checked == 0 {
		fmt.Fprintln(out, "no rule files configured")
	}
	return nil
}
