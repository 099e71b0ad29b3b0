package main

import (
	"crypto/rand"
	"encoding/hex"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	meshcore "github.com/meshcore-project/meshcore"
	"github.com/meshcore-project/meshcore/pkg/iface"
	"github.com/meshcore-project/meshcore/pkg/logger"
	"github.com/meshcore-project/meshcore/pkg/subscriber"
)

const version = "0.1.0"

func main() {
	var sidHex string
	var udpListen string
	var dedupTTL time.Duration

	root := &cobra.Command{
		Use:   "meshcore",
		Short: "Delay-tolerant mesh networking overlay daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(sidHex, udpListen, dedupTTL)
		},
	}

	flags := root.Flags()
	flags.StringVar(&sidHex, "sid", "", "this node's subscriber id, hex-encoded (random if omitted)")
	flags.StringVar(&udpListen, "udp-listen", "0.0.0.0:4110", "address for the ANY-bound dgram interface")
	flags.DurationVar(&dedupTTL, "broadcast-dedup-ttl", 30*time.Second, "how long a broadcast id is remembered")

	if err := root.Execute(); err != nil {
		logger.Fatal("%v", err)
	}
}

func run(sidHex, udpListen string, dedupTTL time.Duration) error {
	logger.Banner("meshcore overlay daemon", version)

	sid, err := parseOrGenerateSID(sidHex)
	if err != nil {
		return err
	}
	logger.Info("local SID: %s", sid.String())

	ctx, err := meshcore.NewContext(meshcore.Config{SID: sid, BroadcastDedupTTL: dedupTTL})
	if err != nil {
		return err
	}

	logger.Section("Interfaces")
	if err := registerUDPInterface(ctx, udpListen); err != nil {
		return err
	}
	logger.Success("dgram interface listening on %s", udpListen)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	errCh := make(chan error, 1)
	go func() {
		if err := ctx.Run(); err != nil {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		logger.Error("event loop stopped: %v", err)
		return err
	case sig := <-sigCh:
		logger.Warn("received signal: %v", sig)
		logger.Info("shutting down gracefully...")
		ctx.Shutdown()
		logger.Success("stopped")
		return nil
	}
}

func registerUDPInterface(ctx *meshcore.Context, addr string) error {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return err
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return err
	}
	transport := iface.NewDgramTransport(conn, nil)
	ifc := ctx.Ifaces.Register("udp0", iface.KindEthernet, transport, iface.NewTokenBucket(1<<20, 1<<18))
	ifc.State = iface.StateUp
	return ctx.RegisterInterface(ifc)
}

func parseOrGenerateSID(h string) (subscriber.SID, error) {
	var sid subscriber.SID
	if h == "" {
		if _, err := rand.Read(sid[:]); err != nil {
			return sid, err
		}
		return sid, nil
	}
	b, err := hex.DecodeString(h)
	if err != nil {
		return sid, err
	}
	copy(sid[:], b)
	return sid, nil
}
