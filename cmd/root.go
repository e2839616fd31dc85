// Package cmd wires up the CLI flags and dispatches to the party line core.
package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	flag "github.com/spf13/pflag"

	"partyline/config"
	"partyline/internal/core"
	"partyline/util"
)

// version is overridable at link time:
//
//	go build -ldflags "-X partyline/cmd.version=2.0.0"
var version = "1.0.0" //nolint:gochecknoglobals

// flagValues holds what the command line says.  Only flags the user
// actually set override the file and environment layers.
type flagValues struct {
	listen           string
	peers            []string
	initiate         []string
	handshakeTimeout time.Duration
	writeTimeout     time.Duration
	exitToken        string
	farewell         string
	maxLine          int
	concurrency      int
	acl              []string
	metrics          string
	configFile       string

	tunnel        string
	sshKey        string
	sshPassword   bool
	sshAgent      bool
	strictHostKey bool
	knownHosts    string

	verbose int
	dryRun  bool
}

// Execute parses args and runs the party line.
func Execute(ctx context.Context, args []string) error {
	var fv flagValues
	fs := flag.NewFlagSet("partyline", flag.ContinueOnError)

	// ── party line ───────────────────────────────────────────────
	fs.StringVarP(&fv.listen, "listen", "l", "", "Accept logins on [host]:port")
	fs.StringArrayVar(&fv.peers, "peer", nil, "Known peer as identity=host:port (repeatable)")
	fs.StringSliceVar(&fv.initiate, "initiate", nil, "Open chats with these peers on startup")
	fs.DurationVarP(&fv.handshakeTimeout, "handshake-timeout", "w", config.DefaultHandshakeTimeout, "Handshake and login timeout")
	fs.DurationVar(&fv.writeTimeout, "write-timeout", config.DefaultWriteTimeout, "Per-line write timeout (0 disables)")
	fs.StringVar(&fv.exitToken, "exit-token", config.DefaultExitToken, "Command that leaves the party line")
	fs.StringVar(&fv.farewell, "farewell", config.DefaultFarewell, "Line sent to a session that exits (empty sends nothing)")
	fs.IntVar(&fv.maxLine, "max-line", config.DefaultMaxLineLength, "Longest accepted line in bytes")
	fs.IntVar(&fv.concurrency, "broadcast-concurrency", config.DefaultBroadcastConcurrency, "Parallel writes per broadcast")
	fs.StringArrayVar(&fv.acl, "acl", nil, "Grant capabilities as mask=cap1,cap2 (repeatable)")

	// ── observability ────────────────────────────────────────────
	fs.StringVar(&fv.metrics, "metrics", "", "Serve /metrics and /who on this address")
	fs.StringVar(&fv.configFile, "config", "", "YAML configuration file")

	// ── SSH tunnel ───────────────────────────────────────────────
	fs.StringVarP(&fv.tunnel, "tunnel", "T", "", "Dial peers via SSH gateway [user@]host[:port]")
	fs.StringVar(&fv.sshKey, "ssh-key", "", "SSH private key file")
	fs.BoolVar(&fv.sshPassword, "ssh-password", false, "Prompt for SSH password")
	fs.BoolVar(&fv.sshAgent, "ssh-agent", false, "Use SSH agent")
	fs.BoolVar(&fv.strictHostKey, "strict-hostkey", false, "Verify SSH host keys")
	fs.StringVar(&fv.knownHosts, "known-hosts", "", "Custom known_hosts path")

	// ── output ───────────────────────────────────────────────────
	fs.CountVarP(&fv.verbose, "verbose", "v", "Increase verbosity (repeatable)")
	fs.BoolVar(&fv.dryRun, "dry-run", false, "Validate the configuration and exit")

	var showVersion, showHelp bool
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	fs.BoolVarP(&showHelp, "help", "h", false, "Show this help")

	fs.Usage = func() { printUsage(fs) }

	// ── parse ────────────────────────────────────────────────────
	if err := fs.Parse(args); err != nil {
		return err
	}

	if showHelp || len(args) == 0 {
		printUsage(fs)
		return nil
	}
	if showVersion {
		fmt.Printf("partyline %s\n", version)
		return nil
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}

	// ── layer configuration ──────────────────────────────────────
	cfg := config.Default()
	path := fv.configFile
	if path == "" {
		path = os.Getenv("PARTYLINE_CONFIG")
	}
	if path != "" {
		if err := config.LoadFile(cfg, path); err != nil {
			return err
		}
	}
	config.LoadFromEnv(cfg)
	if err := applyFlags(fs, &fv, cfg); err != nil {
		return err
	}

	if err := cfg.ApplyTunnelSpec(); err != nil {
		return fmt.Errorf("tunnel: %w", err)
	}

	// ── validate ─────────────────────────────────────────────────
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.DryRun {
		printSummary(cfg)
		return nil
	}

	// ── build and run ────────────────────────────────────────────
	logger := util.NewLogger(cfg.Verbose)
	mode, err := core.Build(cfg, logger)
	if err != nil {
		return err
	}
	return mode.Run(ctx)
}

// ── helpers ──────────────────────────────────────────────────────────

func applyFlags(fs *flag.FlagSet, fv *flagValues, cfg *config.Config) error {
	changed := fs.Changed

	if changed("listen") {
		cfg.Listen = fv.listen
	}
	if cfg.Peers == nil {
		cfg.Peers = make(map[string]string)
	}
	for _, spec := range fv.peers {
		id, addr, err := config.ParsePeerSpec(spec)
		if err != nil {
			return fmt.Errorf("peer: %w", err)
		}
		cfg.Peers[id] = addr
	}
	if changed("initiate") {
		cfg.Initiate = fv.initiate
	}
	if changed("handshake-timeout") {
		cfg.HandshakeTimeout = fv.handshakeTimeout
	}
	if changed("write-timeout") {
		cfg.WriteTimeout = fv.writeTimeout
	}
	if changed("exit-token") {
		cfg.ExitToken = fv.exitToken
	}
	if changed("farewell") {
		cfg.Farewell = fv.farewell
	}
	if changed("max-line") {
		cfg.MaxLineLength = fv.maxLine
	}
	if changed("broadcast-concurrency") {
		cfg.BroadcastConcurrency = fv.concurrency
	}
	for _, spec := range fv.acl {
		rule, err := parseACLSpec(spec)
		if err != nil {
			return err
		}
		cfg.ACL = append(cfg.ACL, rule)
	}
	if changed("metrics") {
		cfg.MetricsAddr = fv.metrics
	}
	if changed("config") {
		cfg.ConfigFile = fv.configFile
	}

	if changed("tunnel") {
		cfg.TunnelSpec = fv.tunnel
	}
	if changed("ssh-key") {
		cfg.SSHKeyPath = fv.sshKey
	}
	if changed("ssh-password") {
		cfg.SSHPassword = fv.sshPassword
	}
	if changed("ssh-agent") {
		cfg.UseSSHAgent = fv.sshAgent
	}
	if changed("strict-hostkey") {
		cfg.StrictHostKey = fv.strictHostKey
	}
	if changed("known-hosts") {
		cfg.KnownHostsPath = fv.knownHosts
	}

	if changed("verbose") {
		cfg.Verbose = fv.verbose
	}
	cfg.DryRun = fv.dryRun
	return nil
}

// parseACLSpec splits "ops-*=broadcast,op" into a rule.
func parseACLSpec(spec string) (config.ACLRule, error) {
	mask, caps, ok := strings.Cut(spec, "=")
	if !ok || strings.TrimSpace(mask) == "" {
		return config.ACLRule{}, fmt.Errorf("invalid acl %q – expected mask=cap1,cap2", spec)
	}
	var rule config.ACLRule
	rule.Mask = strings.TrimSpace(mask)
	for _, c := range strings.Split(caps, ",") {
		if c = strings.TrimSpace(c); c != "" {
			rule.Capabilities = append(rule.Capabilities, c)
		}
	}
	if len(rule.Capabilities) == 0 {
		return config.ACLRule{}, fmt.Errorf("acl %q grants nothing", spec)
	}
	return rule, nil
}

func printSummary(cfg *config.Config) {
	listen := cfg.Listen
	if listen == "" {
		listen = "(none)"
	}
	fmt.Printf("listen:     %s\n", listen)
	for _, id := range cfg.PeerIdentities() {
		fmt.Printf("peer:       %s=%s\n", id, cfg.Peers[id])
	}
	if len(cfg.Initiate) > 0 {
		fmt.Printf("initiate:   %s\n", strings.Join(cfg.Initiate, ", "))
	}
	fmt.Printf("handshake:  %s\n", cfg.HandshakeTimeout)
	fmt.Printf("exit token: %s\n", cfg.ExitToken)
	for _, r := range cfg.ACL {
		fmt.Printf("acl:        %s=%s\n", r.Mask, strings.Join(r.Capabilities, ","))
	}
	if cfg.TunnelEnabled {
		fmt.Printf("tunnel:     %s@%s:%d\n", cfg.TunnelUser, cfg.TunnelHost, cfg.TunnelPort)
	}
	if cfg.MetricsAddr != "" {
		fmt.Printf("metrics:    %s\n", cfg.MetricsAddr)
	}
}

func printUsage(fs *flag.FlagSet) {
	fmt.Fprintf(os.Stderr, `Partyline – DCC chat relay v%s

Every connected session hears what the others say.

Usage:
  partyline -l :7000 [options]                       Accept logins
  partyline --peer alice=host:port --initiate alice  Dial a peer
  partyline --config partyline.yaml                  Load settings from YAML

Options:
`, version)
	fs.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
Examples:
  partyline -l :7000                                 Telnet/nc users join with a nickname
  partyline -l :7000 --metrics 127.0.0.1:9100        Expose Prometheus metrics
  partyline -l :7000 --acl 'ops-*=broadcast'         ops-* nicknames receive .ops notices
  partyline -T admin@bastion --peer bob=10.0.0.9:5000 --initiate bob
`)
}
