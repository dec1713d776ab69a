package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"time"
)

// checkProxyTimeout bounds a SOCKS5 probe.
const checkProxyTimeout = 2 * time.Second

// socks5ProbeHost is a reserved name that never resolves. The proxy only
// has to answer the CONNECT, not complete it.
const socks5ProbeHost = "probe.invalid"

var (
	socks5Greeting = []byte{0x05, 0x01, 0x00} // version 5, one method: no auth
	socks5Connect  = append(append([]byte{0x05, 0x01, 0x00, 0x03, byte(len(socks5ProbeHost))},
		socks5ProbeHost...), 0x00, 80)
)

// CheckSOCKS5 verifies that addr ("host:port") speaks SOCKS5 without
// authentication and answers CONNECT requests.
func CheckSOCKS5(ctx context.Context, addr string) ProxyStatus {
	ctx, cancel := context.WithTimeout(ctx, checkProxyTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ProxyStatusTimeout
		}
		return ProxyStatusCannotConnect
	}
	defer conn.Close()

	deadline, _ := ctx.Deadline()
	if err := conn.SetDeadline(deadline); err != nil {
		return ProxyStatusCannotConnect
	}

	// method selection must pick "no auth"
	reply, status := exchange(conn, socks5Greeting, 2)
	if status != ProxyStatusOK {
		return status
	}
	if reply[0] != 0x05 || reply[1] != 0x00 {
		return ProxyStatusWrongType
	}

	// any reply code counts: the proxy processed the request
	reply, status = exchange(conn, socks5Connect, 4)
	if status != ProxyStatusOK {
		return status
	}
	if reply[0] != 0x05 {
		return ProxyStatusWrongType
	}
	return ProxyStatusOK
}

// exchange writes msg and reads exactly n bytes back.
func exchange(conn net.Conn, msg []byte, n int) ([]byte, ProxyStatus) {
	if _, err := conn.Write(msg); err != nil {
		return nil, ProxyStatusCannotConnect
	}
	reply := make([]byte, n)
	if _, err := io.ReadFull(conn, reply); err != nil {
		if isTimeout(err) {
			return nil, ProxyStatusTimeout
		}
		return nil, ProxyStatusWrongType
	}
	return reply, ProxyStatusOK
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
