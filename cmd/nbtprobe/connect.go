package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/irctrakz/nbtransport/pkg/config"
	"github.com/irctrakz/nbtransport/pkg/core"
	"github.com/irctrakz/nbtransport/pkg/logging"
	"github.com/irctrakz/nbtransport/pkg/nbt"
	"github.com/irctrakz/nbtransport/pkg/transport"
)

// genericServerName is accepted by servers that do not know their own
// NetBIOS name, used when the target is given as an IP address.
const genericServerName = "*SMBSERVER"

var connectFlags struct {
	host, mode, name, scope, localName, iface, metricsListen string
	port                                                      int
	hold                                                      time.Duration
}

var connectCmd = &cobra.Command{
	Use:   "connect [host]",
	Short: "Connect to a server and establish a transport session",
	Long: `Connect to a server, run session establishment when in NetBIOS mode, and
report the negotiated endpoint and timeout.

With --hold the session is kept open and any message or keepalive traffic
is logged until the hold expires or the command is interrupted.

Examples:
  nbtprobe connect fileserver --port 139
  nbtprobe connect 10.0.0.5 --port 445 --hold 1m --metrics-listen :9100`,
	Args: cobra.MaximumNArgs(1),
	RunE: runConnect,
}

func init() {
	f := connectCmd.Flags()
	f.StringVar(&connectFlags.host, "host", "", "server host or address")
	f.IntVar(&connectFlags.port, "port", 0, "server port (139 NetBIOS, 445 direct)")
	f.StringVar(&connectFlags.mode, "mode", "", "force framing: netbios or direct")
	f.StringVar(&connectFlags.name, "name", "", "server NetBIOS name")
	f.StringVar(&connectFlags.scope, "scope", "", "NetBIOS scope")
	f.StringVar(&connectFlags.localName, "local-name", "", "local NetBIOS name")
	f.StringVar(&connectFlags.iface, "interface", "", "bind outgoing traffic to this interface")
	f.StringVar(&connectFlags.metricsListen, "metrics-listen", "", "serve /metrics and /health on this address")
	f.DurationVar(&connectFlags.hold, "hold", 0, "keep the session open for this long")
}

func applyConnectFlags(cmd *cobra.Command, args []string, cfg *config.Config) {
	f := cmd.Flags()
	if len(args) == 1 {
		cfg.Target.Host = args[0]
	}
	if f.Changed("host") {
		cfg.Target.Host = connectFlags.host
	}
	if f.Changed("port") {
		cfg.Target.Port = connectFlags.port
	}
	if f.Changed("mode") {
		cfg.Target.Mode = connectFlags.mode
	}
	if f.Changed("name") {
		cfg.Target.Name = connectFlags.name
	}
	if f.Changed("scope") {
		cfg.Target.Scope = connectFlags.scope
	}
	if f.Changed("local-name") {
		cfg.Target.LocalName = connectFlags.localName
	}
	if f.Changed("interface") {
		cfg.Target.Interface = connectFlags.iface
	}
	if f.Changed("metrics-listen") {
		cfg.Metrics.Listen = connectFlags.metricsListen
	}
}

// serverName picks the called name: the configured one, the first label of
// a host name, or the generic name for a bare address.
func serverName(cfg *config.Config) string {
	if cfg.Target.Name != "" {
		return cfg.Target.Name
	}
	host := cfg.Target.Host
	if net.ParseIP(host) != nil {
		return genericServerName
	}
	if i := strings.IndexByte(host, '.'); i > 0 {
		host = host[:i]
	}
	return strings.ToUpper(host)
}

func peerAddr(cfg *config.Config) (*nbt.Addr, error) {
	hostport := net.JoinHostPort(cfg.Target.Host, strconv.Itoa(cfg.Target.Port))
	tcp, err := net.ResolveTCPAddr("tcp", hostport)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", hostport, err)
	}
	if !cfg.NetBIOS() {
		return nbt.DirectAddr(tcp), nil
	}
	return nbt.NewAddr(tcp, serverName(cfg), cfg.Target.Scope, nbt.SuffixServer)
}

func runConnect(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyConnectFlags(cmd, args, cfg)
	if cfg.Target.Host == "" {
		return fmt.Errorf("no target host given")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.ApplyLogging(); err != nil {
		return err
	}
	applyDebug()

	peer, err := peerAddr(cfg)
	if err != nil {
		return err
	}
	log := logging.WithPeer(peer)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tr := transport.New(cfg.Transport,
		transport.WithShutdown(ctx.Done()),
		transport.WithUpcall(core.UpcallFunc(func(ev core.Event) {
			log.WithField("event", ev.String()).Debug("transport event")
		})),
	)
	defer tr.Done()

	if cfg.Target.Interface != "" {
		if err := tr.SetParam(core.ParamBoundInterface, cfg.Target.Interface); err != nil {
			return err
		}
	}
	if peer.IsNetBIOS() {
		local, err := nbt.NewAddr(nil, cfg.Target.LocalName, cfg.Target.Scope, nbt.SuffixWorkstation)
		if err != nil {
			return err
		}
		if err := tr.Bind(local); err != nil {
			return err
		}
	}

	if cfg.Metrics.Listen != "" {
		go serveHealth(ctx, cfg.Metrics.Listen, tr)
	}
	if cfg.Metrics.ReportInterval > 0 {
		go runMetricsReporter(ctx, tr, cfg.Metrics.ReportInterval)
	}

	start := time.Now()
	if err := tr.Connect(ctx, peer); err != nil {
		log.WithFields(logrus.Fields{
			"errno": transport.Errno(err).Error(),
			"fatal": tr.Fatal(err),
		}).WithError(err).Error("connect failed")
		return err
	}

	state, flags := tr.State()
	fmt.Fprintf(cmd.OutOrStdout(), "connected to %s from %s in %v (state=%s flags=%s timeout=%v)\n",
		tr.Peer(), tr.LocalAddr(), time.Since(start).Round(time.Millisecond), state, flags, tr.Timeout())

	if connectFlags.hold > 0 {
		hold(ctx, tr, connectFlags.hold)
	}
	return tr.Disconnect()
}

// hold reads from the transport until d elapses, the context ends, or the
// connection fails.
func hold(ctx context.Context, tr *transport.NBT, d time.Duration) {
	errc := make(chan error, 1)
	go func() {
		for {
			msg, err := tr.Recv()
			if err != nil {
				errc <- err
				return
			}
			logging.Infof("received %d byte message", msg.Len())
			msg.Release()
		}
	}()

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	case err := <-errc:
		logging.Warnf("session ended: %v (fatal=%t)", err, tr.Fatal(err))
	}
}
