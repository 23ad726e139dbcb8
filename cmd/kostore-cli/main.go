// Command-line companion for managing KOReader plugins and patches without
// the web UI. Talks to the same database and cache as the server.

package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sreramk/kostore-go/internal/config"
	"github.com/sreramk/kostore-go/internal/db"
	"github.com/sreramk/kostore-go/internal/device"
	"github.com/sreramk/kostore-go/internal/github"
	"github.com/sreramk/kostore-go/internal/installer"
	"github.com/sreramk/kostore-go/internal/models"
	"github.com/sreramk/kostore-go/internal/store"
	"github.com/sreramk/kostore-go/internal/updates"
	"github.com/sreramk/kostore-go/internal/websocket"
)

var (
	flagKind       string
	flagDevicePath string
)

// env bundles the components every subcommand needs.
type env struct {
	cfg     *config.Config
	db      *sql.DB
	st      *store.Store
	client  *github.Client
	locator *device.Locator
}

func setup() (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	database, err := db.InitDB(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	if err := db.RunMigrations(database); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to run database migrations: %w", err)
	}
	st := store.New(database)
	return &env{
		cfg:     cfg,
		db:      database,
		st:      st,
		client:  github.NewClient(st, cfg),
		locator: device.NewLocator(cfg),
	}, nil
}

func (e *env) close() {
	e.db.Close()
}

// pickDevice resolves the target device: an explicit --device flag, or the
// sole detected one. Multiple devices require the flag.
func (e *env) pickDevice() (models.DevicePath, error) {
	if flagDevicePath != "" {
		return e.locator.Validate(flagDevicePath)
	}
	devices := e.locator.Detect()
	switch len(devices) {
	case 0:
		return models.DevicePath{}, fmt.Errorf("no KOReader device detected; pass --device")
	case 1:
		return devices[0], nil
	default:
		return models.DevicePath{}, fmt.Errorf("%d devices detected; pick one with --device", len(devices))
	}
}

func parseKind(raw string) (models.PackageKind, error) {
	switch raw {
	case "", "plugin":
		return models.KindPlugin, nil
	case "patch":
		return models.KindPatch, nil
	}
	return "", fmt.Errorf("unknown kind %q (want plugin or patch)", raw)
}

// warnIfStale prints the stale-cache notice and swallows the warning; any
// other error is returned as-is.
func warnIfStale(err error) error {
	if err == nil {
		return nil
	}
	var warning *github.StaleDataWarning
	if errors.As(err, &warning) {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", warning)
		return nil
	}
	return err
}

var rootCmd = &cobra.Command{
	Use:   "kostore-cli",
	Short: "Manage KOReader plugins and patches from the command line",
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List available packages",
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := parseKind(flagKind)
		if err != nil {
			return err
		}
		e, err := setup()
		if err != nil {
			return err
		}
		defer e.close()

		packages, err := e.client.ListPackages(context.Background(), kind)
		if err := warnIfStale(err); err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tVERSION\tPUBLISHED")
		for _, pkg := range packages {
			published := ""
			if !pkg.PublishedAt.IsZero() {
				published = pkg.PublishedAt.Format("2006-01-02")
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", pkg.ID, pkg.Name, pkg.LatestVersion, published)
		}
		return w.Flush()
	},
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "Detect connected KOReader devices",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup()
		if err != nil {
			return err
		}
		defer e.close()

		devices := e.locator.Detect()
		if len(devices) == 0 {
			fmt.Println("No KOReader devices detected.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "PATH\tFIRMWARE")
		for _, dev := range devices {
			info := e.locator.Info(dev)
			fmt.Fprintf(w, "%s\t%s\n", dev.RootPath, info.FirmwareVersion)
		}
		return w.Flush()
	},
}

var installCmd = &cobra.Command{
	Use:   "install <package-id>",
	Short: "Install a package onto a device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := parseKind(flagKind)
		if err != nil {
			return err
		}
		e, err := setup()
		if err != nil {
			return err
		}
		defer e.close()

		dev, err := e.pickDevice()
		if err != nil {
			return err
		}

		pkg, err := e.client.GetReleaseAsset(context.Background(), args[0])
		if err := warnIfStale(err); err != nil {
			return err
		}
		pkg.Kind = kind

		hub := websocket.NewHub()
		go hub.Run()
		worker := installer.NewWorker(e.st, hub, e.cfg)
		worker.CleanStaging(dev)

		job, err := worker.Submit(context.Background(), *pkg, dev)
		if err != nil {
			return err
		}
		for update := range job.Events() {
			if update.TotalBytes > 0 && update.Status == models.StatusDownloading {
				fmt.Printf("\r%s: %d/%d bytes", update.Status, update.ProgressBytes, update.TotalBytes)
				continue
			}
			fmt.Printf("\r%s: %s\n", update.Status, update.Message)
		}
		if err := job.Wait(); err != nil {
			return err
		}
		fmt.Printf("Installed %s %s\n", pkg.Name, pkg.LatestVersion)
		return nil
	},
}

var uninstallCmd = &cobra.Command{
	Use:   "uninstall <package-id>",
	Short: "Remove an installed package",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup()
		if err != nil {
			return err
		}
		defer e.close()

		hub := websocket.NewHub()
		go hub.Run()
		worker := installer.NewWorker(e.st, hub, e.cfg)
		if err := worker.Uninstall(args[0]); err != nil {
			return err
		}
		fmt.Printf("Uninstalled %s\n", args[0])
		return nil
	},
}

var installedCmd = &cobra.Command{
	Use:   "installed",
	Short: "List installed packages",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup()
		if err != nil {
			return err
		}
		defer e.close()

		records, err := e.st.GetAllInstalledRecords()
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tVERSION\tKIND\tPATH")
		for _, rec := range records {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				rec.PackageID, rec.Name, rec.InstalledVersion, rec.Kind, rec.InstallPath)
		}
		return w.Flush()
	},
}

var updatesCmd = &cobra.Command{
	Use:   "updates",
	Short: "Check installed packages for newer releases",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup()
		if err != nil {
			return err
		}
		defer e.close()

		result, err := updates.NewService(e.st, e.client).CheckAll(context.Background())
		if err != nil {
			return err
		}
		if len(result) == 0 {
			fmt.Println("Everything is up to date.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tINSTALLED\tAVAILABLE")
		for _, u := range result {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				u.PackageID, u.Name, u.InstalledVersion, u.AvailableVersion)
		}
		return w.Flush()
	},
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Show cached repository metadata",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup()
		if err != nil {
			return err
		}
		defer e.close()

		entries, err := e.st.ListCacheEntries()
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "KEY\tSIZE\tFETCHED")
		for _, entry := range entries {
			fmt.Fprintf(w, "%s\t%d\t%s\n",
				entry.Key, entry.Size, entry.FetchedAt.Format("2006-01-02 15:04"))
		}
		return w.Flush()
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drop all cached repository metadata",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup()
		if err != nil {
			return err
		}
		defer e.close()

		if err := e.st.ClearCache(); err != nil {
			return err
		}
		fmt.Println("Cache cleared.")
		return nil
	},
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	listCmd.Flags().StringVar(&flagKind, "kind", "plugin", "package kind: plugin or patch")
	installCmd.Flags().StringVar(&flagKind, "kind", "plugin", "package kind: plugin or patch")
	installCmd.Flags().StringVar(&flagDevicePath, "device", "", "path to the KOReader root (auto-detected when omitted)")

	cacheCmd.AddCommand(cacheClearCmd)
	rootCmd.AddCommand(listCmd, devicesCmd, installCmd, uninstallCmd, installedCmd, updatesCmd, cacheCmd)
}

func main() {
	log.SetOutput(os.Stderr)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
