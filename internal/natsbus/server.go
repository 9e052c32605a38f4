package natsbus

import (
	"fmt"
	"net"
	"os"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"

	"github.com/mtzanidakis/crew/internal/config"
)

const readyTimeout = 5 * time.Second

// Bus is the embedded NATS server the gateway components talk through.
// It listens on loopback only; crewctl runs on the same host.
type Bus struct {
	server *natsserver.Server
	port   int
}

func serverOptions(cfg config.NATSConfig) *natsserver.Options {
	return &natsserver.Options{
		ServerName: "crew",
		Host:       "127.0.0.1",
		Port:       cfg.Port,
		NoLog:      true,
		NoSigs:     true,
		JetStream:  true,
		StoreDir:   cfg.DataDir,
	}
}

// New starts the server and waits until it accepts connections. Port -1
// picks a random free port.
func New(cfg config.NATSConfig) (*Bus, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create nats data dir: %w", err)
	}

	ns, err := natsserver.NewServer(serverOptions(cfg))
	if err != nil {
		return nil, fmt.Errorf("create nats server: %w", err)
	}
	go ns.Start()

	if !ns.ReadyForConnections(readyTimeout) {
		ns.Shutdown()
		return nil, fmt.Errorf("nats server not ready after %s", readyTimeout)
	}

	b := &Bus{server: ns, port: cfg.Port}
	if addr, ok := ns.Addr().(*net.TCPAddr); ok {
		b.port = addr.Port
	}
	return b, nil
}

func (b *Bus) ClientURL() string {
	return b.server.ClientURL()
}

// Port returns the bound port, which differs from the configured one when a
// random port was requested.
func (b *Bus) Port() int {
	return b.port
}

func (b *Bus) Close() {
	b.server.Shutdown()
	b.server.WaitForShutdown()
}
