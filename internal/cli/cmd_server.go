package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/koltyakov/vpnfleet/internal/config"
	"github.com/koltyakov/vpnfleet/internal/debughttp"
	"github.com/koltyakov/vpnfleet/internal/fleet"
	ilog "github.com/koltyakov/vpnfleet/internal/log"
	"github.com/koltyakov/vpnfleet/internal/mgmt"
	"github.com/koltyakov/vpnfleet/internal/server"
	"github.com/koltyakov/vpnfleet/internal/store/sqlite"
)

func runServer(ctx context.Context, args []string) int {
	if len(args) > 0 && args[0] == "apikey" {
		return runAPIKeyAdmin(ctx, args[1:])
	}

	cfg, err := config.ParseServerFlags(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, "server config error:", err)
		return 2
	}
	logger := ilog.New(cfg.LogLevel)

	profiles, err := config.LoadProfiles(cfg.ProfilesPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "profiles config error:", err)
		return 2
	}

	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "db error:", err)
		return 1
	}
	defer func() { _ = store.Close() }()
	if err := store.Migrate(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "db migrate error:", err)
		return 1
	}

	if err := debughttp.StartPprofServer(ctx, cfg.PprofAddr, logger, "vpnfleet-server"); err != nil {
		fmt.Fprintln(os.Stderr, "pprof server error:", err)
		return 1
	}

	dial := func(ctx context.Context, addr string) (mgmt.Channel, error) {
		return mgmt.Dial(ctx, addr)
	}
	dispatcher := fleet.NewDispatcher(cfg.MgmtHost, profiles, dial, cfg.EndpointTimeout, cfg.FanoutLimit, logger)

	logger.Info("control plane starting", "profiles", len(profiles), "listen", cfg.Listen)
	s := server.New(cfg, store, profiles, dispatcher, logger)
	if err := s.Run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "server error:", err)
		return 1
	}
	return 0
}
