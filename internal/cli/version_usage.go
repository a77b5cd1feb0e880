package cli

import (
	"fmt"
	"os/exec"
	"strings"
)

func printUsage() {
	fmt.Println(`vpnfleet - VPN fleet control plane

Authorizes connection attempts, keeps a crash-tolerant connection ledger,
and drives the management channels of the termination processes.

Usage:
  vpnfleet server                         Start the control plane daemon
  vpnfleet apikey create --name NAME      Create a new ops API key
  vpnfleet apikey list                    List all API keys
  vpnfleet apikey revoke --id=ID          Revoke an API key
  vpnfleet sessions                       List live sessions across the fleet
  vpnfleet kill <common-name>             Kill every session of one identity
  vpnfleet audit <ip> [--at RFC3339]      Who held this address at this instant
  vpnfleet notifications <account>        Show stored messages for an account
  vpnfleet version                        Print version
  vpnfleet help                           Show this help

Quick Start:
  1. vpnfleet apikey create --name ops         # create an API key
  2. vpnfleet server                           # start the control plane
  3. vpnfleet sessions --api-key KEY           # inspect the fleet

Environment Variables:
  VPNFLEET_LISTEN            Ops API listen address (default: :9190)
  VPNFLEET_DB_PATH           SQLite database path (default: ./vpnfleet.db)
  VPNFLEET_PROFILES          Fleet profiles YAML file (default: ./profiles.yaml)
  VPNFLEET_MGMT_HOST         Host of the termination process management ports
  VPNFLEET_API_KEY_PEPPER    API key hash pepper
  VPNFLEET_TLS_MODE          TLS mode: off|static|auto (default: off)
  VPNFLEET_LOG_LEVEL         Log level: debug|info|warn|error (default: info)
  VPNFLEET_API               Control plane URL for fleet subcommands
  VPNFLEET_API_KEY           Ops API key for fleet subcommands`)
}

// Version is set at build time via -ldflags.
var Version = "dev"

func init() {
	if Version == "dev" {
		if desc, err := exec.Command("git", "describe", "--tags", "--always").Output(); err == nil {
			if v := strings.TrimSpace(string(desc)); v != "" {
				Version = v + "-dev"
			}
		}
	}
	if Version != "dev" && !strings.HasPrefix(Version, "v") {
		Version = "v" + Version
	}
}

func printVersion() {
	fmt.Println("vpnfleet", Version)
}
