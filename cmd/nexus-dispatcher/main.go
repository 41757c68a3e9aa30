// Command nexus-dispatcher runs the routing core: the weighted deficit
// round robin dispatcher and the UDP request/reply server that fronts it.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/dengwxn/nexus/internal/adminapi"
	"github.com/dengwxn/nexus/internal/config"
	"github.com/dengwxn/nexus/internal/diagnostics"
	"github.com/dengwxn/nexus/internal/diagnostics/selfcheck"
	"github.com/dengwxn/nexus/internal/metrics"
	"github.com/dengwxn/nexus/internal/netinfo"
	"github.com/dengwxn/nexus/internal/platform/logger"
	"github.com/dengwxn/nexus/internal/secrets"
	"github.com/dengwxn/nexus/internal/secrets/vault"
	"github.com/dengwxn/nexus/internal/telemetry"
	"github.com/dengwxn/nexus/internal/version"
	"github.com/dengwxn/nexus/pkg/dispatcher"
	"github.com/dengwxn/nexus/pkg/udpserver"
)

func main() {
	showVersion := flag.Bool("version", false, "Print version and exit")
	diagMode := flag.Bool("diagnostics", false, "Print diagnostic information and exit")
	diagFormat := flag.String("diag-format", "text", "Diagnostics output format (text|json)")
	dumpConfig := flag.String("dump-config", "", "Print the effective config in the given format (yaml|json) and exit")
	flag.Parse()

	cfg := config.Load()
	if *showVersion {
		fmt.Printf("nexus-dispatcher %s (commit %s, date %s)\n", version.Version, version.Commit, version.Date)
		return
	}
	if *dumpConfig != "" {
		out, err := cfg.MarshalEffective(*dumpConfig)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error rendering config: %v\n", err)
			os.Exit(1)
		}
		os.Stdout.Write(out)
		return
	}
	if *diagMode {
		info := diagnostics.Collect(cfg, false)
		if err := diagnostics.Print(info, *diagFormat); err != nil {
			fmt.Fprintf(os.Stderr, "error printing diagnostics: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if errs, warns := cfg.Validate(); len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintf(os.Stderr, "config error: %s\n", e)
		}
		os.Exit(2)
	} else if len(warns) > 0 {
		for _, w := range warns {
			fmt.Fprintf(os.Stderr, "config warning: %s\n", w)
		}
	}

	logger.Init(logger.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	log := logger.Zap()
	log.Info("starting nexus-dispatcher", zap.String("version", version.Version))

	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		log.Fatal("telemetry init failed", zap.Error(err))
	}
	defer shutdownTelemetry(context.Background())

	var vaultClient *vault.Client
	if cfg.Vault.Enabled {
		vc, err := vault.NewClient(cfg.Vault)
		if err != nil {
			log.Fatal("vault init failed", zap.Error(err))
		}
		vaultClient = vc
		if err := secrets.ReplacePlaceholders(ctx, cfg, vc); err != nil {
			log.Fatal("secret placeholder resolution failed", zap.Error(err))
		}
	}

	if err := selfcheck.Run(ctx, cfg, selfcheckDeps(vaultClient)); err != nil {
		log.Fatal("startup selfcheck failed", zap.Error(err))
	}

	geo := netinfo.New(cfg.NetInfo.GeoIPPath)

	disp := dispatcher.New()

	udpSrv := udpserver.New(udpserver.Config{
		ListenAddr: cfg.UDP.ListenAddr,
		RXCPU:      cfg.UDP.RXCPU,
		WorkerCPUs: cfg.UDP.WorkerCPUs,
		NumWorkers: cfg.UDP.NumThreads,
		QueueDepth: cfg.UDP.QueueDepth,
	}, disp, log)

	udpCtx, cancelUDP := context.WithCancel(ctx)
	defer cancelUDP()
	if err := udpSrv.Start(udpCtx); err != nil {
		log.Fatal("udp server failed to start", zap.Error(err))
	}

	admin := adminapi.New(adminapi.Config{Dispatch: disp, GeoIP: geo}, log)
	adminSrv := &http.Server{Addr: cfg.Admin.ListenAddr, Handler: admin.Handler()}
	go func() {
		if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("admin server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received")
	sdCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = adminSrv.Shutdown(sdCtx)
	udpSrv.Stop()
	log.Info("shutdown complete")
}

func selfcheckDeps(vc *vault.Client) selfcheck.Dependencies {
	if vc == nil {
		return selfcheck.Dependencies{}
	}
	return selfcheck.Dependencies{Vault: vc}
}
