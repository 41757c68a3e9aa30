// Command nexus-backend runs the per-GPU model execution core: admission,
// batch assembly, the preprocess worker pool, and the model forward loop.
// How tasks arrive (gRPC, a local queue, a benchmarking harness) is an
// external integration concern; this binary wires the pieces that are in
// scope and exposes Executor.Enqueue for an integrator to call.
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
	"github.com/dengwxn/nexus/internal/outputs/azure_blob"
	"github.com/dengwxn/nexus/internal/platform/logger"
	"github.com/dengwxn/nexus/internal/secrets"
	"github.com/dengwxn/nexus/internal/secrets/vault"
	"github.com/dengwxn/nexus/internal/telemetry"
	"github.com/dengwxn/nexus/internal/version"
	"github.com/dengwxn/nexus/pkg/executor"
	"github.com/dengwxn/nexus/pkg/executor/models/echo"
	"github.com/dengwxn/nexus/pkg/preprocess"
	"github.com/dengwxn/nexus/pkg/trace"
)

func main() {
	showVersion := flag.Bool("version", false, "Print version and exit")
	diagMode := flag.Bool("diagnostics", false, "Print diagnostic information and exit")
	diagFormat := flag.String("diag-format", "text", "Diagnostics output format (text|json)")
	dumpConfig := flag.String("dump-config", "", "Print the effective config in the given format (yaml|json) and exit")
	gpuFlag := flag.Int("gpu-id", -1, "GPU id to bind this daemon to (overrides config)")
	flag.Parse()

	cfg := config.Load()
	if *showVersion {
		fmt.Printf("nexus-backend %s (commit %s, date %s)\n", version.Version, version.Commit, version.Date)
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
	if *gpuFlag >= 0 {
		cfg.GPUID = *gpuFlag
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
	log := logger.Zap().With(zap.Int("gpu_id", cfg.GPUID))
	log.Info("starting nexus-backend", zap.String("version", version.Version))

	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		log.Fatal("telemetry init failed", zap.Error(err))
	}
	defer shutdownTelemetry(context.Background())

	var vaultClient *vaultapiClient
	if cfg.Vault.Enabled {
		vc, err := vault.NewClient(cfg.Vault)
		if err != nil {
			log.Fatal("vault init failed", zap.Error(err))
		}
		vaultClient = &vaultapiClient{vc}
		if err := secrets.ReplacePlaceholders(ctx, cfg, vc); err != nil {
			log.Fatal("secret placeholder resolution failed", zap.Error(err))
		}
	}

	if err := selfcheck.Run(ctx, cfg, selfcheckDeps(vaultClient)); err != nil {
		log.Fatal("startup selfcheck failed", zap.Error(err))
	}

	decisions := trace.NewRing(4096)

	var sink *azure_blob.DecisionSink
	if cfg.TraceSink.AzureBlob.Enabled {
		sink, err = azure_blob.NewDecisionSink(&azure_blob.Config{
			StorageAccount:  "", // resolved via placeholder/secret in production configs
			Container:       cfg.TraceSink.AzureBlob.ContainerURL,
			AuthType:        azure_blob.AuthTypeManagedIdentity,
			WriteMode:       azure_blob.WriteModeBlock,
			FlushInterval:   cfg.TraceSink.AzureBlob.FlushInterval.String(),
			LocalBufferPath: cfg.TraceSink.AzureBlob.LocalBufferPath,
			LocalBufferSize: cfg.TraceSink.AzureBlob.LocalBufferMax,
			CompressionType: "gzip",
			MaxBatchBytes:   cfg.TraceSink.AzureBlob.FlushBytes,
		}, log)
		if err != nil {
			log.Warn("azure blob trace sink disabled, failed to init", zap.Error(err))
			sink = nil
		} else if err := sink.Start(); err != nil {
			log.Warn("azure blob trace sink failed to start", zap.Error(err))
			sink = nil
		} else {
			defer sink.Stop()
		}
	}

	model := echo.New(cfg.Model.MaxBatch, echo.Profile{
		PerTaskForward:     2 * time.Millisecond,
		PreprocessLatency_: 500 * time.Microsecond,
	})

	onReply := func(task *executor.Task) {
		rec := trace.DecisionRecord{
			TaskID:         task.ID,
			ModelSessionID: task.ModelSessionID,
			EnqueuedAt:     task.EnqueuedAt,
			Deadline:       task.Deadline,
			TerminalState:  task.State.String(),
			DropReason:     task.DropReason.String(),
		}
		decisions.Add(rec)
		if sink != nil {
			sink.Write(rec)
		}
	}

	var batchPolicy executor.BatchPolicy = executor.EarliestDeadlineFirst{}
	if cfg.Model.BatchPolicy == "sliding_window" {
		batchPolicy = executor.SlidingWindow{Window: time.Duration(cfg.Model.SlidingWindowMS) * time.Millisecond}
	}

	modelLabel := fmt.Sprintf("gpu-%d", cfg.GPUID)

	exec := executor.New(model, executor.Config{
		Name:                modelLabel,
		AdmissionMultiplier: cfg.Model.AdmissionMultiplier,
		PreBatchQueueDepth:  cfg.Model.PreBatchQueueDepth,
		Policy:              batchPolicy,
		EWMAAlpha:           cfg.Model.EWMAAlpha,
		RateBucket:          cfg.Model.RateBucket,
		MaxConsecutiveFails: cfg.Model.MaxConsecutiveForwardFailures,
	}, onReply, log)
	exec.Run()
	defer exec.Close()

	pool := preprocess.New(cfg.Model.NumPreprocessWorkers, model, exec, exec.PreBatchQueue(), log, modelLabel)
	pool.Start()
	defer pool.Stop()

	go executeLoop(ctx, exec, cfg.Model.MaxBatch, log)

	geo := netinfo.New(cfg.NetInfo.GeoIPPath)
	admin := adminapi.New(adminapi.Config{Executor: exec, GeoIP: geo}, log)
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
	log.Info("shutdown complete")
}

// executeLoop repeatedly calls Execute, pacing itself off the returned
// forward duration instead of a fixed ticker so the backend never issues a
// forward faster than the model can actually drain its queue.
func executeLoop(ctx context.Context, exec *executor.Executor, batchHint int, log *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		d, err := exec.Execute(batchHint)
		if err != nil {
			log.Warn("batch forward failed", zap.Error(err))
		}
		if d < time.Millisecond {
			d = time.Millisecond
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(d):
		}
	}
}

func selfcheckDeps(vc *vaultapiClient) selfcheck.Dependencies {
	if vc == nil {
		return selfcheck.Dependencies{}
	}
	return selfcheck.Dependencies{Vault: vc}
}

// vaultapiClient adapts *vault.Client to the selfcheck.Dependencies.Vault
// capability without selfcheck importing the vault package directly.
type vaultapiClient struct {
	c *vault.Client
}

func (v *vaultapiClient) HealthCheck(ctx context.Context) error { return v.c.HealthCheck(ctx) }
