// Command enclave-agent hosts isolated runtimes in a separate process. It
// listens on a unix socket (spawned per runtime by the server) or on vsock
// (one shared agent inside a VM), executes dispatched tasks against
// per-connection namespaces, and sends result envelopes back to the host.
//
// Build with: CGO_ENABLED=0 go build -o enclave-agent ./cmd/enclave-agent
package main

import (
	"flag"
	"log"
	"net"
	"strconv"
	"strings"

	"github.com/mdlayher/vsock"
	"github.com/sirupsen/logrus"

	"github.com/seantiz/enclave/internal/agent"

	_ "github.com/seantiz/enclave/internal/builtin"
)

func main() {
	listenAddr := flag.String("listen", "", `listen address: "unix:///path/to.sock" or "vsock://:<port>"`)
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	l, err := listen(*listenAddr)
	if err != nil {
		log.Fatalf("listen on %q: %v", *listenAddr, err)
	}
	defer l.Close()

	logger.WithField("addr", *listenAddr).Info("enclave-agent listening")

	a := agent.New(l, logger)
	if err := a.Serve(); err != nil {
		log.Fatalf("serve: %v", err)
	}
}

func listen(addr string) (net.Listener, error) {
	if path, ok := strings.CutPrefix(addr, "unix://"); ok {
		return net.Listen("unix", path)
	}
	if rest, ok := strings.CutPrefix(addr, "vsock://"); ok {
		_, portStr, _ := strings.Cut(rest, ":")
		port, err := strconv.ParseUint(portStr, 10, 32)
		if err != nil {
			return nil, err
		}
		return vsock.Listen(uint32(port), nil)
	}
	return net.Listen("unix", addr)
}
