package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"aridialer/internal/ariclient"
	"aridialer/internal/campaign"
	"aridialer/internal/config"
	"aridialer/internal/database"
	"aridialer/internal/dialer"
	"aridialer/internal/logging"
	"aridialer/internal/metrics"
	"aridialer/internal/monitor"
)

const defaultConfigPath = "/etc/aridialer/aridialer.yaml"

var (
	version    = "dev"
	configPath string
)

func main() {
	var rootCmd = &cobra.Command{
		Use:   "aridialer",
		Short: "Outbound campaign dialer for Asterisk ARI",
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default $DIALER_CONFIG or "+defaultConfigPath+")")

	var startCmd = &cobra.Command{
		Use:   "start",
		Short: "Run the dialer",
		RunE:  runStart,
	}

	var campaignsCmd = &cobra.Command{
		Use:   "campaigns",
		Short: "List campaigns and their dialing state",
		RunE:  runCampaigns,
	}

	var migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE:  runMigrate,
	}

	var versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("aridialer", version)
		},
	}

	rootCmd.AddCommand(startCmd, campaignsCmd, migrateCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = os.Getenv("DIALER_CONFIG")
	}
	if path == "" {
		path = defaultConfigPath
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := logging.Setup(cfg.Log); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	defer logging.Close()

	log := logging.Component("main")
	log.Infof("aridialer %s starting", version)
	metrics.Init(logrus.StandardLogger())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbConn, err := database.NewConnection(ctx, cfg.Database)
	if err != nil {
		log.WithError(err).Fatal("Error connecting to database")
	}
	defer dbConn.Close()
	batcher := database.NewCDRBatcher(dbConn.DB)
	batcher.Start()
	defer batcher.Stop()
	repo := database.NewRepository(dbConn)
	repo.UseBatcher(batcher)
	log.Info("Database connected")

	if cfg.Dialer.RecoverOrphansOnStart {
		n, err := repo.RecoverOrphans(ctx)
		if err != nil {
			log.WithError(err).Warn("Orphan recovery failed")
		} else if n > 0 {
			log.Warnf("Recovered %d calls left open by a previous run", n)
		}
	}

	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	ari, err := ariclient.Reconnect(connectCtx, cfg.ARI)
	cancel()
	if err != nil {
		log.WithError(err).Fatal("Error connecting to ARI")
	}
	defer ari.Close()
	log.Infof("ARI connected to %s as %s", cfg.ARI.URL(), cfg.ARI.Application)

	hub := monitor.NewHub()
	engine := dialer.NewEngine(dialer.Deps{
		Control:   ari,
		Campaigns: repo,
		CDR:       repo,
		IVR:       repo,
		Observer:  hub,
	}, dialer.Options{
		AppName:              cfg.ARI.Application,
		AgentDialTimeout:     cfg.Dialer.AgentDialTimeout,
		QueueContext:         cfg.Dialer.QueueContext,
		SoundsPrefix:         cfg.Dialer.SoundsPrefix,
		RecordingMaxDuration: time.Duration(cfg.Dialer.RecordingMaxDuration) * time.Second,
		MaxIVRHops:           cfg.Dialer.MaxIVRHops,
		ProcessInterval:      cfg.Dialer.ProcessInterval(),
		StaleGrace:           time.Duration(cfg.Dialer.StaleGraceSeconds) * time.Second,
	})

	sweeper := campaign.NewSweeper(engine, cfg.Dialer.CampaignPollInterval())
	reaper := dialer.NewReaper(engine, cfg.Dialer.ReaperInterval())
	server := monitor.NewServer(cfg.HTTP.Address(), hub, engine)

	g, gctx := errgroup.WithContext(ctx)
	// subscribe before the sweeper dials so no early channel event is missed
	events := ari.Events(gctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return engine.Run(gctx, events)
	})
	g.Go(func() error {
		sweeper.Start(gctx)
		reaper.Start()
		<-gctx.Done()
		sweeper.Stop()
		reaper.Stop()
		return nil
	})
	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Error("Dialer stopped with error")
	}

	log.Info("Shutting down, active calls are left up")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := engine.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("Shutdown incomplete")
	}
	return nil
}

func runCampaigns(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	dbConn, err := database.NewConnection(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer dbConn.Close()
	repo := database.NewRepository(dbConn)

	campaigns, err := repo.ListCampaigns(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTATUS\tTRUNK\tDESTINATION\tCONCURRENT\tOPEN")
	fmt.Fprintln(w, "--\t----\t------\t-----\t-----------\t----------\t----")
	for _, c := range campaigns {
		open, err := repo.CountOpenNumbers(ctx, c.ID)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s/%s\t%s:%s\t%d\t%d\n",
			c.ID, c.Name, c.Status, c.TrunkType, c.TrunkValue, c.AgentDestType, c.AgentDestValue, c.ConcurrentCalls, open)
	}
	return w.Flush()
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	dbConn, err := database.NewConnection(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer dbConn.Close()

	if err := database.RunMigrations(ctx, dbConn.DB); err != nil {
		return err
	}
	fmt.Println("Schema up to date")
	return nil
}
