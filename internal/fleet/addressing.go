// Package fleet addresses the termination processes and fans control
// commands out across them.
package fleet

import (
	"fmt"
	"net"
	"strconv"

	"github.com/koltyakov/vpnfleet/internal/config"
	"github.com/koltyakov/vpnfleet/internal/domain"
)

// BasePort is the control port of profile 1, process 0. Every other
// process follows deterministically; nothing is registered or discovered.
const BasePort = 11940

// Port maps a profile number and process index to a control port:
// the profile selects a 64-port block above [BasePort], the process
// index selects the slot inside it.
func Port(profileNumber, processIndex int) (int, error) {
	if profileNumber < config.MinProfileNumber || profileNumber > config.MaxProfileNumber {
		return 0, fmt.Errorf("profile number %d: %w", profileNumber, domain.ErrEndpointRange)
	}
	if processIndex < 0 || processIndex >= config.MaxProcesses {
		return 0, fmt.Errorf("process index %d: %w", processIndex, domain.ErrEndpointRange)
	}
	return BasePort + ((profileNumber-1)<<6 | processIndex), nil
}

// Endpoint returns the dialable host:port of one termination process.
func Endpoint(host string, profileNumber, processIndex int) (string, error) {
	port, err := Port(profileNumber, processIndex)
	if err != nil {
		return "", err
	}
	return net.JoinHostPort(host, strconv.Itoa(port)), nil
}
