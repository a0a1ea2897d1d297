package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/answerhive/answerhive/config"
	"github.com/answerhive/answerhive/internal/credstore"
	"github.com/answerhive/answerhive/internal/search"
	srv "github.com/answerhive/answerhive/internal/server"
)

func main() {
	var cfgPath string
	root := &cobra.Command{Use: "answerhive"}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return srv.Run(config.LoadConfig(cfgPath))
		},
	}

	var (
		platforms      []string
		allowSimulated bool
		integrate      bool
		timeout        time.Duration
	)
	searchCmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Run one search in-process and print the merged answer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd.Context(), config.LoadConfig(cfgPath), args[0], platforms, allowSimulated, integrate, timeout)
		},
	}
	searchCmd.Flags().StringSliceVar(&platforms, "platforms", nil, "platforms to query (default: all configured)")
	searchCmd.Flags().BoolVar(&allowSimulated, "allow-simulated", true, "permit the simulated fallback tier")
	searchCmd.Flags().BoolVar(&integrate, "integrate", false, "synthesize one answer from the merged document")
	searchCmd.Flags().DurationVar(&timeout, "timeout", 0, "session timeout (default: from config)")

	platformsCmd := &cobra.Command{
		Use:   "platforms",
		Short: "List configured platforms and tier availability",
		RunE: func(cmd *cobra.Command, args []string) error {
			return listPlatforms(cmd.Context(), config.LoadConfig(cfgPath))
		},
	}

	credCmd := &cobra.Command{
		Use:   "credential <platform>",
		Short: "Store an API credential for a platform",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return storeCredential(config.LoadConfig(cfgPath), args[0])
		},
	}

	root.AddCommand(serve, searchCmd, platformsCmd, credCmd)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runSearch(ctx context.Context, cfg *config.Config, query string, platforms []string, allowSimulated, integrate bool, timeout time.Duration) error {
	app := srv.Build(cfg)
	defer app.Close()

	if len(platforms) == 0 {
		platforms = cfg.PlatformNames()
	}
	id, err := app.Orchestrator.Start(ctx, query, search.Options{
		Platforms:      platforms,
		AllowSimulated: allowSimulated,
		Timeout:        timeout,
	})
	if err != nil {
		return err
	}

	var sess *search.SearchSession
	for {
		sess, err = app.Orchestrator.Status(ctx, id)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "\rprogress %3.0f%%  %s", sess.Progress*100, taskSummary(sess))
		if sess.Status != search.SessionRunning {
			break
		}
		time.Sleep(500 * time.Millisecond)
	}
	fmt.Fprintln(os.Stderr)

	if sess.Document == nil {
		return fmt.Errorf("session %s ended without a document", id)
	}
	content := sess.Document.Content
	if integrate && app.Integrator != nil && !sess.Document.NoResults {
		if merged, err := app.Integrator.Integrate(ctx, query, content); err != nil {
			fmt.Fprintf(os.Stderr, "integration failed, printing structural merge: %v\n", err)
		} else {
			content = merged
		}
	}
	fmt.Println(content)

	if sess.Status == search.SessionFailed {
		return fmt.Errorf("all platforms failed")
	}
	return nil
}

func taskSummary(sess *search.SearchSession) string {
	parts := make([]string, 0, len(sess.Platforms))
	for _, p := range sess.Platforms {
		if t := sess.Task(p); t != nil {
			parts = append(parts, fmt.Sprintf("%s:%s", p, t.State))
		}
	}
	return strings.Join(parts, " ")
}

func listPlatforms(ctx context.Context, cfg *config.Config) error {
	app := srv.Build(cfg)
	defer app.Close()

	for _, p := range cfg.Platforms {
		fmt.Printf("%-10s %s\n", p.Name, p.Description)
		for _, d := range app.Drivers {
			fmt.Printf("  %-11s %v\n", d.Tier(), d.Available(ctx, p.Name))
		}
	}
	return nil
}

func storeCredential(cfg *config.Config, platform string) error {
	if cfg.Platform(platform) == nil {
		return fmt.Errorf("unknown platform: %s", platform)
	}
	fmt.Fprintf(os.Stderr, "API key for %s: ", platform)
	key, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return err
	}
	store := credstore.NewFileStore(cfg.Credentials.Path, cfg.Credentials.KeyEnv)
	if err := store.Save(platform, credstore.Credential{APIKey: strings.TrimSpace(key)}); err != nil {
		return err
	}
	fmt.Printf("credential stored for %s\n", platform)
	return nil
}
