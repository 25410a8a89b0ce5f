// Copyright (c) 2025 The chainweb-mining-client-go developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Command chainweb-mining-client drives the fetch/mine/submit loop against
// a Chainweb-style node, using whichever solver backend the configuration
// selects.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kadena-community/chainweb-mining-client-go/internal/config"
	"github.com/kadena-community/chainweb-mining-client-go/internal/logs"
	"github.com/kadena-community/chainweb-mining-client-go/internal/mcerr"
	"github.com/kadena-community/chainweb-mining-client-go/internal/nodeclient"
	"github.com/kadena-community/chainweb-mining-client-go/internal/orchestrator"
	"github.com/kadena-community/chainweb-mining-client-go/internal/retry"
	"github.com/kadena-community/chainweb-mining-client-go/internal/solver"
	"github.com/kadena-community/chainweb-mining-client-go/internal/stratum"
	"github.com/kadena-community/chainweb-mining-client-go/internal/work"
)

// Exit codes per spec.md section 6.
const (
	exitOK     = 0
	exitConfig = 1
	exitFatal  = 2
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, err := config.Load(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitConfig
	}
	if cfg.ShowVersion {
		fmt.Println("chainweb-mining-client-go")
		return exitOK
	}
	if cfg.GenerateKey {
		pub, priv, err := config.GenerateKeypair()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return exitFatal
		}
		fmt.Printf("public key: %s\nprivate key: %s\n", pub, priv)
		return exitOK
	}

	if cfg.LogFilePath() != "" {
		if err := logs.InitLogRotator(cfg.LogFilePath()); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return exitConfig
		}
		defer logs.Close()
	}
	if err := logs.InitLogging(cfg.LogLevel); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitConfig
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := runClient(ctx, cfg); err != nil {
		if mcerr.IsKind(err, mcerr.Config) {
			fmt.Fprintln(os.Stderr, err)
			return exitConfig
		}
		fmt.Fprintln(os.Stderr, err)
		return exitFatal
	}
	return exitOK
}

func runClient(ctx context.Context, cfg *config.Config) error {
	client, err := nodeclient.New(nodeclient.Config{
		BaseURL:        cfg.NodeURL,
		RequestTimeout: cfg.HTTPTimeout,
		InsecureTLS:    cfg.TLSInsecure,
		RetryPolicy:    retry.Policy{MaxAttempts: cfg.RetryMax},
	})
	if err != nil {
		return err
	}

	info, err := client.Info(ctx)
	if err != nil {
		return err
	}

	s, stratumSrv, err := buildSolver(cfg)
	if err != nil {
		return err
	}

	mlog := logs.Main()

	if od, ok := s.(*solver.OnDemand); ok {
		odSrv := &http.Server{Addr: ":9090", Handler: od, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := odSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				mlog.Warnf("ondemand: trigger server: %v", err)
			}
		}()
		go func() {
			<-ctx.Done()
			_ = odSrv.Shutdown(context.Background())
		}()
	}

	if stratumSrv != nil {
		go func() {
			if err := stratumSrv.Run(ctx); err != nil {
				mlog.Errorf("stratum: server exited: %v", err)
			}
		}()

		scheduler := stratum.NewScheduler(stratumSrv)
		if err := scheduler.Start("@every 1m", "@every 5m"); err != nil {
			return mcerr.Wrap(mcerr.Config, err, "stratum: starting scheduler")
		}
		defer scheduler.Stop()

		mux := stratumSrv.AdminRouter()
		adminSrv := &http.Server{Addr: ":9090", Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				mlog.Warnf("stratum: admin server: %v", err)
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = adminSrv.Shutdown(shutdownCtx)
		}()
	}

	miner := nodeclient.Miner{Account: cfg.Account, PublicKeys: []string{cfg.PublicKey}}
	orchCfg := orchestrator.DefaultConfig()
	orchCfg.UpdateTimeout = cfg.UpdateTimeout

	errCh := make(chan error, info.NodeNumberOfChains)
	for i := 0; i < info.NodeNumberOfChains; i++ {
		orch := orchestrator.New(client, s, miner, work.ChainID(i), orchCfg)
		go func() {
			errCh <- orch.Run(ctx)
		}()
	}

	<-ctx.Done()
	for i := 0; i < info.NodeNumberOfChains; i++ {
		<-errCh
	}
	return nil
}

// buildSolver selects and constructs the solver backend named by
// cfg.Worker. For the stratum backend it also returns the pool server so
// the caller can start its TCP listener, scheduler, and admin endpoint.
func buildSolver(cfg *config.Config) (solver.Solver, *stratum.Server, error) {
	switch config.WorkerType(cfg.Worker) {
	case config.WorkerCPU:
		return solver.NewCPU(cfg.Threads), nil, nil

	case config.WorkerExternal:
		return solver.NewExternal(cfg.ExternalCommand, cfg.ExternalArgs...), nil, nil

	case config.WorkerSimulation:
		return solver.NewSimulation(time.Duration(cfg.SimulationMeanMS) * time.Millisecond), nil, nil

	case config.WorkerConstantDelay:
		return solver.NewConstDelay(time.Duration(cfg.ConstantDelayMS) * time.Millisecond), nil, nil

	case config.WorkerOnDemand:
		return solver.NewOnDemand(cfg.AllowNonCompliantSolvers), nil, nil

	case config.WorkerGPU:
		return nil, nil, mcerr.New(mcerr.Config, "worker: gpu backend requires a build-specific kernel, not available from this binary")

	case config.WorkerStratum:
		diff, err := config.ParseStratumDifficulty(cfg.StratumDifficulty)
		if err != nil {
			return nil, nil, err
		}
		strCfg := stratum.DefaultConfig()
		strCfg.ListenAddr = cfg.StratumAddr()
		strCfg.Difficulty = stratumDifficultyConfig(diff)
		srv := stratum.NewServer(strCfg)
		return srv, srv, nil

	default:
		return nil, nil, mcerr.New(mcerr.Config, "worker: unknown type %q", cfg.Worker)
	}
}

func stratumDifficultyConfig(d config.StratumDifficulty) stratum.DifficultyConfig {
	switch d.Mode {
	case config.DifficultyFixed:
		return stratum.DifficultyConfig{Mode: stratum.ModeFixedLevel, FixedLevel: d.FixedLevel}
	case config.DifficultyAdaptive:
		return stratum.DifficultyConfig{
			Mode:                 stratum.ModeAdaptive,
			AdaptiveTargetPeriod: time.Duration(d.PeriodMS) * time.Millisecond,
			AdaptiveTolerance:    d.Tolerance,
			AdaptiveWindow:       30 * time.Second,
		}
	default:
		return stratum.DifficultyConfig{Mode: stratum.ModeBlock}
	}
}
