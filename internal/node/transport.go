package node

import (
	"net"
	"strconv"
)

// udpTransport implements both gossip.Transport and consensus.Transport:
// both require exactly Send(host string, port int, payload []byte) error,
// so the Node Orchestrator's single UDP socket serves both engines.
type udpTransport struct {
	conn net.PacketConn
}

func (t *udpTransport) Send(host string, port int, payload []byte) error {
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return err
	}
	_, err = t.conn.WriteTo(payload, addr)
	return err
}
