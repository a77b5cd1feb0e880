// Package mgmt speaks the control channel of a single VPN termination
// process: a line-oriented text session over TCP, modelled on the OpenVPN
// management interface. The process greets with an INFO line and then
// answers one command at a time:
//
//	status      CLIENT rows terminated by END
//	kill <cn>   SUCCESS: ... n client(s) killed | ERROR: common name not found
//
// Failure is always per-endpoint; callers decide how to aggregate.
package mgmt

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/koltyakov/vpnfleet/internal/domain"
)

// Channel is one open control session to one termination process.
type Channel interface {
	// ListSessions returns the live sessions in the order the process
	// reports them.
	ListSessions(ctx context.Context) ([]domain.ProcessSession, error)
	// KillSession terminates every session held by the common name and
	// returns how many were killed; an identity unknown to this process
	// kills zero without error.
	KillSession(ctx context.Context, commonName string) (int, error)
	Close() error
}

// Dialer opens a control channel to one endpoint address. The fleet
// dispatcher is written against this type so tests can substitute fakes.
type Dialer func(ctx context.Context, addr string) (Channel, error)

// Client implements [Channel] over a TCP connection.
type Client struct {
	conn net.Conn
	r    *bufio.Reader
}

const greetingPrefix = ">INFO"

// Dial connects to a termination process control port and consumes the
// greeting. The ctx deadline bounds the dial and the greeting read.
func Dial(ctx context.Context, addr string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	c := &Client{conn: conn, r: bufio.NewReader(conn)}
	c.applyDeadline(ctx)

	line, err := c.r.ReadString('\n')
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("read greeting: %w", err)
	}
	if !strings.HasPrefix(line, greetingPrefix) {
		_ = conn.Close()
		return nil, fmt.Errorf("unexpected greeting %q", strings.TrimSpace(line))
	}
	return c, nil
}

// applyDeadline projects the ctx deadline onto the connection. Commands are
// strictly request/response, so one deadline covers both directions.
func (c *Client) applyDeadline(ctx context.Context) {
	if dl, ok := ctx.Deadline(); ok {
		_ = c.conn.SetDeadline(dl)
	} else {
		_ = c.conn.SetDeadline(time.Time{})
	}
}

func (c *Client) command(ctx context.Context, cmd string) error {
	c.applyDeadline(ctx)
	_, err := fmt.Fprintf(c.conn, "%s\n", cmd)
	return err
}

// ListSessions issues a status command and parses the CLIENT rows:
//
//	CLIENT,<cn>,<real address>,<ip4>,<ip6>,<bytes in>,<bytes out>,<connected unix>
//
// Unknown row types are skipped so the process can extend its status output
// without breaking older control planes.
func (c *Client) ListSessions(ctx context.Context) ([]domain.ProcessSession, error) {
	if err := c.command(ctx, "status"); err != nil {
		return nil, fmt.Errorf("send status: %w", err)
	}

	var out []domain.ProcessSession
	for {
		line, err := c.r.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("read status: %w", err)
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "END" {
			return out, nil
		}
		if strings.HasPrefix(line, "ERROR:") {
			return nil, fmt.Errorf("status failed: %s", strings.TrimSpace(strings.TrimPrefix(line, "ERROR:")))
		}
		if !strings.HasPrefix(line, "CLIENT,") {
			continue
		}
		sess, err := parseClientRow(line)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
}

func parseClientRow(line string) (domain.ProcessSession, error) {
	fields := strings.Split(line, ",")
	if len(fields) != 8 {
		return domain.ProcessSession{}, fmt.Errorf("malformed client row %q", line)
	}
	bytesIn, err := strconv.ParseInt(fields[5], 10, 64)
	if err != nil {
		return domain.ProcessSession{}, fmt.Errorf("client row bytes in: %w", err)
	}
	bytesOut, err := strconv.ParseInt(fields[6], 10, 64)
	if err != nil {
		return domain.ProcessSession{}, fmt.Errorf("client row bytes out: %w", err)
	}
	connected, err := strconv.ParseInt(fields[7], 10, 64)
	if err != nil {
		return domain.ProcessSession{}, fmt.Errorf("client row connected since: %w", err)
	}
	return domain.ProcessSession{
		CommonName:  fields[1],
		RealAddress: fields[2],
		IP4:         fields[3],
		IP6:         fields[4],
		BytesIn:     bytesIn,
		BytesOut:    bytesOut,
		ConnectedAt: time.Unix(connected, 0).UTC(),
	}, nil
}

// KillSession issues a kill command. The process answers either
// "SUCCESS: common name '<cn>' found, <n> client(s) killed" or
// "ERROR: common name '<cn>' not found"; not-found is zero, not a failure.
func (c *Client) KillSession(ctx context.Context, commonName string) (int, error) {
	if err := c.command(ctx, "kill "+commonName); err != nil {
		return 0, fmt.Errorf("send kill: %w", err)
	}
	line, err := c.r.ReadString('\n')
	if err != nil {
		return 0, fmt.Errorf("read kill reply: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")

	switch {
	case strings.HasPrefix(line, "SUCCESS:"):
		return parseKilledCount(line)
	case strings.HasPrefix(line, "ERROR:") && strings.Contains(line, "not found"):
		return 0, nil
	default:
		return 0, fmt.Errorf("kill failed: %s", line)
	}
}

func parseKilledCount(line string) (int, error) {
	// The count is the last integer before "client(s) killed".
	fields := strings.Fields(line)
	for i, f := range fields {
		if strings.HasPrefix(f, "client(s)") && i > 0 {
			n, err := strconv.Atoi(fields[i-1])
			if err != nil {
				return 0, fmt.Errorf("kill reply count: %w", err)
			}
			return n, nil
		}
	}
	return 0, fmt.Errorf("malformed kill reply %q", line)
}

// Close sends a best-effort quit and closes the connection.
func (c *Client) Close() error {
	_, _ = fmt.Fprint(c.conn, "quit\n")
	return c.conn.Close()
}
