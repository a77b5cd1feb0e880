package cli

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// opsClient is a thin HTTP client for the running control plane.
type opsClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func newOpsClient(baseURL, apiKey string) *opsClient {
	return &opsClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *opsClient) do(ctx context.Context, method, path string, body any, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = strings.NewReader(string(b))
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type fleetSession struct {
	CommonName  string    `json:"CommonName"`
	RealAddress string    `json:"RealAddress"`
	IP4         string    `json:"IP4"`
	IP6         string    `json:"IP6"`
	BytesIn     int64     `json:"BytesIn"`
	BytesOut    int64     `json:"BytesOut"`
	ConnectedAt time.Time `json:"ConnectedAt"`
}

type fleetProcess struct {
	Profile  string         `json:"profile"`
	Process  int            `json:"process"`
	Endpoint string         `json:"endpoint"`
	Sessions []fleetSession `json:"sessions"`
}

type fleetFailure struct {
	Endpoint string `json:"endpoint"`
	Op       string `json:"op"`
	Error    string `json:"error"`
}

type fleetSessionsResult struct {
	Processes []fleetProcess `json:"processes"`
	Failures  []fleetFailure `json:"failures"`
}

type fleetKillResult struct {
	Killed   int            `json:"killed"`
	Failures []fleetFailure `json:"failures"`
}

type auditResult struct {
	RecordID       string     `json:"record_id"`
	Profile        string     `json:"profile"`
	CommonName     string     `json:"common_name"`
	IP4            string     `json:"ip4"`
	IP6            string     `json:"ip6"`
	ConnectedAt    time.Time  `json:"connected_at"`
	DisconnectedAt *time.Time `json:"disconnected_at"`
	Lost           bool       `json:"lost"`
}

type notificationResult struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// opsFlags registers the flags every fleet subcommand shares.
func opsFlags(fs *flag.FlagSet) (api, apiKey *string) {
	api = fs.String("api", envOr("VPNFLEET_API", "http://127.0.0.1:9190"), "control plane base URL")
	apiKey = fs.String("api-key", envOr("VPNFLEET_API_KEY", ""), "ops API key")
	return api, apiKey
}

func runSessions(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("sessions", flag.ContinueOnError)
	api, apiKey := opsFlags(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	var result fleetSessionsResult
	if err := newOpsClient(*api, *apiKey).do(ctx, http.MethodGet, "/v1/sessions", nil, &result); err != nil {
		fmt.Fprintln(os.Stderr, "sessions error:", err)
		return 1
	}

	for _, p := range result.Processes {
		fmt.Printf("%s[%d] %s: %d session(s)\n", p.Profile, p.Process, p.Endpoint, len(p.Sessions))
		for _, sess := range p.Sessions {
			addr := sess.IP4
			if addr == "" {
				addr = sess.IP6
			}
			fmt.Printf("  %s\t%s\t%s\tin=%d out=%d\tsince %s\n",
				sess.CommonName, addr, sess.RealAddress, sess.BytesIn, sess.BytesOut,
				sess.ConnectedAt.Format(time.RFC3339))
		}
	}
	for _, f := range result.Failures {
		fmt.Fprintf(os.Stderr, "unreachable: %s (%s)\n", f.Endpoint, f.Error)
	}
	return 0
}

func runKill(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("kill", flag.ContinueOnError)
	api, apiKey := opsFlags(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: vpnfleet kill [flags] <common-name>")
		return 2
	}
	commonName := fs.Arg(0)

	var result fleetKillResult
	body := map[string]string{"common_name": commonName}
	if err := newOpsClient(*api, *apiKey).do(ctx, http.MethodPost, "/v1/kill", body, &result); err != nil {
		fmt.Fprintln(os.Stderr, "kill error:", err)
		return 1
	}
	fmt.Printf("killed %d session(s) of %s\n", result.Killed, commonName)
	for _, f := range result.Failures {
		fmt.Fprintf(os.Stderr, "unreachable: %s (%s)\n", f.Endpoint, f.Error)
	}
	if len(result.Failures) > 0 {
		return 1
	}
	return 0
}

func runAudit(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("audit", flag.ContinueOnError)
	api, apiKey := opsFlags(fs)
	at := fs.String("at", "", "instant to query, RFC 3339 (default: now)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: vpnfleet audit [flags] <ip>")
		return 2
	}

	q := url.Values{}
	q.Set("ip", fs.Arg(0))
	if *at != "" {
		q.Set("at", *at)
	}

	var result auditResult
	if err := newOpsClient(*api, *apiKey).do(ctx, http.MethodGet, "/v1/audit?"+q.Encode(), nil, &result); err != nil {
		fmt.Fprintln(os.Stderr, "audit error:", err)
		return 1
	}

	fmt.Printf("record:     %s\n", result.RecordID)
	fmt.Printf("profile:    %s\n", result.Profile)
	fmt.Printf("identity:   %s\n", result.CommonName)
	fmt.Printf("connected:  %s\n", result.ConnectedAt.Format(time.RFC3339))
	if result.DisconnectedAt != nil {
		fmt.Printf("disconnected: %s\n", result.DisconnectedAt.Format(time.RFC3339))
	} else {
		fmt.Println("disconnected: still open")
	}
	if result.Lost {
		fmt.Println("note: closed by crash reconciliation, disconnect instant is approximate")
	}
	return 0
}

func runNotifications(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("notifications", flag.ContinueOnError)
	api, apiKey := opsFlags(fs)
	limit := fs.Int("limit", 20, "max entries")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: vpnfleet notifications [flags] <account>")
		return 2
	}

	q := url.Values{}
	q.Set("account", fs.Arg(0))
	q.Set("limit", fmt.Sprint(*limit))

	var result []notificationResult
	if err := newOpsClient(*api, *apiKey).do(ctx, http.MethodGet, "/v1/notifications?"+q.Encode(), nil, &result); err != nil {
		fmt.Fprintln(os.Stderr, "notifications error:", err)
		return 1
	}
	for _, n := range result {
		fmt.Printf("%s\t%s\n", n.CreatedAt.Format(time.RFC3339), n.Text)
	}
	return 0
}
