package scan

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/d1childress/neo/pkg/logger"
	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
)

const icmpProtocol = 1 // iana.ProtocolICMP

var errNoIPv4Address = errors.New("host has no IPv4 address")

// ICMPPinger answers the single question "does this host respond to
// echo at all" before a sweep commits to probing its whole port range.
// Requires raw-socket privilege; construction fails without it and the
// caller degrades to TCP-only.
type ICMPPinger struct {
	timeout time.Duration
	logger  logger.Logger
}

func NewICMPPinger(timeout time.Duration, log logger.Logger) *ICMPPinger {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	return &ICMPPinger{timeout: timeout, logger: log}
}

// Ping sends one echo request and waits for a matching reply until the
// timeout. A false return with nil error means the host stayed silent.
func (p *ICMPPinger) Ping(ctx context.Context, host string) (bool, time.Duration, error) {
	ip, err := resolveIPv4(ctx, host)
	if err != nil {
		return false, 0, err
	}

	conn, err := icmp.ListenPacket("ip4:icmp", "0.0.0.0")
	if err != nil {
		return false, 0, fmt.Errorf("failed to open ICMP socket: %w", err)
	}

	defer func() {
		if cerr := conn.Close(); cerr != nil {
			p.logger.Debug().Err(cerr).Msg("failed to close ICMP socket")
		}
	}()

	id := os.Getpid() & 0xffff

	msg := icmp.Message{
		Type: ipv4.ICMPTypeEcho,
		Code: 0,
		Body: &icmp.Echo{
			ID:   id,
			Seq:  1,
			Data: []byte("neo-precheck"),
		},
	}

	payload, err := msg.Marshal(nil)
	if err != nil {
		return false, 0, fmt.Errorf("failed to marshal echo request: %w", err)
	}

	start := time.Now()

	if _, err := conn.WriteTo(payload, &net.IPAddr{IP: ip}); err != nil {
		return false, 0, fmt.Errorf("failed to send echo request: %w", err)
	}

	deadline := start.Add(p.timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}

	if err := conn.SetReadDeadline(deadline); err != nil {
		return false, 0, fmt.Errorf("failed to set read deadline: %w", err)
	}

	buf := make([]byte, 1500)

	for {
		n, peer, err := conn.ReadFrom(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return false, time.Since(start), nil
			}

			return false, time.Since(start), err
		}

		reply, err := icmp.ParseMessage(icmpProtocol, buf[:n])
		if err != nil {
			continue
		}

		if reply.Type != ipv4.ICMPTypeEchoReply {
			continue
		}

		echo, ok := reply.Body.(*icmp.Echo)
		if !ok || echo.ID != id {
			continue
		}

		if ipAddr, ok := peer.(*net.IPAddr); !ok || !ipAddr.IP.Equal(ip) {
			continue
		}

		return true, time.Since(start), nil
	}
}

func resolveIPv4(ctx context.Context, host string) (net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		if v4 := ip.To4(); v4 != nil {
			return v4, nil
		}

		return nil, errNoIPv4Address
	}

	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", host, err)
	}

	for _, addr := range addrs {
		if v4 := addr.IP.To4(); v4 != nil {
			return v4, nil
		}
	}

	return nil, errNoIPv4Address
}
