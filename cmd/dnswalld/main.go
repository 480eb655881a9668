// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Command dnswalld runs the DNS-triggered policy engine: a UDP DNS
// responder coupled to an SDN controller, plus the REST control
// surface used to manage its policy trie.
package main

import (
	"context"
	"flag"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"grimm.is/dnswall/internal/api"
	"grimm.is/dnswall/internal/cache"
	"grimm.is/dnswall/internal/config"
	"grimm.is/dnswall/internal/dnsforwarder"
	"grimm.is/dnswall/internal/logging"
	"grimm.is/dnswall/internal/metrics"
	"grimm.is/dnswall/internal/policy"
	"grimm.is/dnswall/internal/querylog"
	"grimm.is/dnswall/internal/reconciler"
	"grimm.is/dnswall/internal/sdnclient"
	"grimm.is/dnswall/internal/services"
)

func main() {
	configPath := flag.String("config", "/etc/dnswall/dnswall.conf", "path to a directive file or directory")
	apiAddr := flag.String("api-addr", ":8080", "address for the policy REST control surface")
	controllerURL := flag.String("controller-url", "http://127.0.0.1:8181", "SDN controller northbound API base URL")
	queryLogSize := flag.Int("querylog-size", 1000, "number of recent queries retained for GET /api/querylog")
	flag.Parse()

	logger := logging.WithComponent("dnswalld")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load configuration", "path", *configPath, "error", err)
		os.Exit(1)
	}

	trie := policy.New()
	trie.Rebuild(seedsFromConfig(cfg))

	respCache := cache.New(cfg.CacheSize)

	m := metrics.NewMetrics(prometheus.DefaultRegisterer)
	m.TrieRules.Set(float64(len(trie.AllRulesFlat())))

	fwd := dnsforwarder.New(trie, respCache)
	fwd.Addr = net.JoinHostPort(cfg.ListenAddress.String(), strconv.Itoa(cfg.ListenPort))
	fwd.DefaultUpstreams = cfg.DefaultUpstreams
	fwd.QueryLog = querylog.New(*queryLogSize)
	fwd.Metrics = m

	for _, rec := range cfg.StaticRecords {
		fwd.PinStatic(rec.Domain, rec.IP)
	}

	controller := sdnclient.New(*controllerURL)
	controller.Metrics = m

	rec := reconciler.New(controller, respCache)
	fwd.PostResolution = rec.OnPostResolution
	trie.OnUpdate(rec.OnTrieUpdate)

	rulesHandler := api.NewRulesHandler(trie, fwd, controller, fwd.QueryLog)
	rulesHandler.Metrics = m
	server := api.NewServer(*apiAddr, rulesHandler)

	svcs := []services.Service{fwd, server}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, svc := range svcs {
		if err := svc.Start(ctx); err != nil {
			logger.Error("failed to start service", "service", svc.Name(), "error", err)
			os.Exit(1)
		}
		logger.Info("service started", "service", svc.Name())
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutting down", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	for _, svc := range svcs {
		if err := svc.Stop(shutdownCtx); err != nil {
			logger.Warn("error stopping service", "service", svc.Name(), "error", err)
		}
	}
}

// seedsFromConfig converts the parsed config's flat rule list into the
// trie's seed format, translating each directive into the Rule fields
// it sets.
func seedsFromConfig(cfg *config.Config) []policy.SeedRule {
	seeds := make([]policy.SeedRule, 0, len(cfg.Rules))
	for _, rs := range cfg.Rules {
		rule := &policy.Rule{
			Domain:   rs.Domain,
			Block:    rs.Block,
			Upstream: rs.Upstream,
			DBR:      rs.Block || rs.Route != nil,
		}
		if rs.Route != nil {
			rule.Route = rs.Route.String()
		}
		if rs.Address != nil {
			rule.Address = rs.Address.String()
		}
		seeds = append(seeds, policy.SeedRule{Domain: rs.Domain, Rule: rule})
	}
	return seeds
}
