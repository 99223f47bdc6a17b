package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"dirsrv/internal/logger"
	"dirsrv/internal/telemetry"
	"dirsrv/pkg/api"
	"dirsrv/pkg/blobstore"
	"dirsrv/pkg/config"
	"dirsrv/pkg/configstore"
	"dirsrv/pkg/directory"
	"dirsrv/pkg/dn"
	"dirsrv/pkg/metrics"
	"dirsrv/pkg/partition"
	"dirsrv/pkg/partition/badgerpart"
	"dirsrv/pkg/partition/memory"
	"dirsrv/pkg/partition/postgrespart"
	"dirsrv/pkg/schema"
	"dirsrv/pkg/session"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the directory server",
	RunE:  runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(cfgFile)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       true,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}

	metrics.InitRegistry()
	m := metrics.NewDirectoryMetrics()

	svc, err := buildService(ctx, cfg, m)
	if err != nil {
		return err
	}

	if cfg.Registry.Enabled {
		if err := persistRegistry(ctx, cfg); err != nil {
			return err
		}
	}

	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer = api.NewServer(cfg.API, svc)
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Error("admin api server failed", logger.Err(err))
				stop()
			}
		}()
	}

	// Hot-reload log level/format and change-log enablement on config
	// file changes; structural sections need a restart.
	watcher := config.NewWatcher(cfgFile, logger.Slog(), func(next *config.Config) {
		logger.SetLevel(next.Logging.Level)
		logger.SetFormat(next.Logging.Format)
		svc.EnableChangelog(next.Changelog.Enabled)
	})
	if cfgFile != "" {
		if err := watcher.Start(); err != nil {
			logger.Warn("config hot-reload unavailable", logger.Err(err))
		}
		defer watcher.Stop()
	}

	logger.Info("directory server started",
		"partitions", len(cfg.Partitions),
		"stages", len(svc.StageNames()),
		"changelog", cfg.Changelog.Enabled,
	)

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if apiServer != nil {
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("admin api shutdown error", logger.Err(err))
		}
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		logger.Warn("telemetry shutdown error", logger.Err(err))
	}
	return nil
}

// buildService assembles the schema, pipeline, and partitions from config.
func buildService(ctx context.Context, cfg *config.Config, m *metrics.DirectoryMetrics) (*directory.Service, error) {
	sch := schema.New()

	dirCfg := directory.Config{
		Schema:           sch,
		Metrics:          m,
		Logger:           logger.Slog(),
		ChangelogEnabled: cfg.Changelog.Enabled,
	}

	if cfg.AdminDN != "" {
		admin, err := dn.Parse(cfg.AdminDN, sch.CanonicalName, sch.NormalizeValue)
		if err != nil {
			return nil, fmt.Errorf("admin_dn: %w", err)
		}
		dirCfg.AdminDN = admin.Normalized()
	}

	if cfg.Kerberos.Enabled {
		provider, err := session.NewKerberosProvider(cfg.Kerberos.KeytabPath, cfg.Kerberos.ServicePrincipal, cfg.Kerberos.MaxClockSkew)
		if err != nil {
			return nil, fmt.Errorf("kerberos: %w", err)
		}
		dirCfg.Kerberos = provider
		dirCfg.PrincipalMapper = session.NewPrincipalMapper(cfg.Kerberos.PrincipalMap, cfg.Kerberos.BindDNTemplate)
	}

	if cfg.Blobstore.Enabled {
		store, err := blobstore.NewFromConfig(ctx, blobstore.Config{
			Bucket:         cfg.Blobstore.Bucket,
			Region:         cfg.Blobstore.Region,
			Endpoint:       cfg.Blobstore.Endpoint,
			ForcePathStyle: cfg.Blobstore.Endpoint != "",
		})
		if err != nil {
			return nil, fmt.Errorf("blobstore: %w", err)
		}
		dirCfg.ExtraStages = append(dirCfg.ExtraStages, directory.NamedStage{
			Name:  blobstore.StageName,
			Stage: blobstore.NewStage(store, cfg.Blobstore.Threshold),
		})
	}

	svc, err := directory.New(dirCfg)
	if err != nil {
		return nil, err
	}

	for _, pc := range cfg.Partitions {
		p, err := buildPartition(ctx, pc, sch, m)
		if err != nil {
			return nil, fmt.Errorf("partition %q: %w", pc.Suffix, err)
		}
		if err := svc.RegisterPartition(ctx, p); err != nil {
			return nil, fmt.Errorf("registering partition %q: %w", pc.Suffix, err)
		}
		logger.Info("partition registered", logger.KeySuffix, pc.Suffix, logger.KeyBackend, pc.Backend)
	}
	return svc, nil
}

func buildPartition(ctx context.Context, pc config.PartitionConfig, sch *schema.Schema, m *metrics.DirectoryMetrics) (partition.Partition, error) {
	suffix, err := dn.Parse(pc.Suffix, sch.CanonicalName, sch.NormalizeValue)
	if err != nil {
		return nil, err
	}
	switch pc.Backend {
	case "", "memory":
		return memory.New(suffix, sch, m), nil
	case "badger":
		return badgerpart.Open(pc.Dir, suffix, sch, m)
	case "postgres":
		return postgrespart.Open(ctx, pc.DSN, suffix, sch, m)
	default:
		return nil, fmt.Errorf("unknown backend %q", pc.Backend)
	}
}

// persistRegistry mirrors the configured partitions into the control-plane
// database so operational tooling can inspect the registry without parsing
// config files.
func persistRegistry(ctx context.Context, cfg *config.Config) error {
	store, err := configstore.Open(cfg.Registry.DSN)
	if err != nil {
		return fmt.Errorf("opening control-plane store: %w", err)
	}
	defer store.Close()

	for _, pc := range cfg.Partitions {
		rec := &configstore.PartitionRecord{
			Suffix:  pc.Suffix,
			Backend: pc.Backend,
			Dir:     pc.Dir,
			DSN:     pc.DSN,
		}
		if err := store.SavePartition(ctx, rec); err != nil {
			return fmt.Errorf("persisting partition %q: %w", pc.Suffix, err)
		}
	}
	return nil
}
