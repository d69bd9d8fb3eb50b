// Package discovery performs the one piece of out-of-band coordination
// the Engine does: a fire-and-forget Redis write so other infrastructure
// can look up where this instance's PSI port is listening. The system
// itself never discovers peers (spec §7 non-goals) — this is a write-only
// breadcrumb for external tooling.
package discovery

import (
	"fmt"
	"net"

	"github.com/gomodule/redigo/redis"
	"github.com/rs/zerolog"
)

// Config configures the discovery write. Addr may be empty, in which case
// Announce is a no-op (discovery is optional); Password may be empty for a
// Redis without auth.
type Config struct {
	Addr     string
	Password string
}

// Announce writes network:<id> = <routable-ip>:<port> into Redis,
// fire-and-forget: no read-back, and failures are logged rather than
// propagated, matching the original's execute.rs use of local_ip() plus the
// redis crate for this same write. psiBindAddr is this instance's PSI bind
// address (e.g. "0.0.0.0:6324"); since a bind address is not dialable by an
// external lookup, only its port is kept and combined with the host's own
// outbound-routable IP.
func Announce(cfg Config, id, psiBindAddr string, log zerolog.Logger) {
	if cfg.Addr == "" {
		return
	}
	_, port, err := net.SplitHostPort(psiBindAddr)
	if err != nil {
		log.Warn().Err(err).Str("psi_addr", psiBindAddr).Msg("discovery: malformed psi bind address")
		return
	}
	ip, err := localIP()
	if err != nil {
		log.Warn().Err(err).Msg("discovery: resolving local IP failed")
		return
	}
	localAddr := net.JoinHostPort(ip, port)

	conn, err := redis.Dial("tcp", cfg.Addr, redis.DialPassword(cfg.Password))
	if err != nil {
		log.Warn().Err(err).Str("redis_addr", cfg.Addr).Msg("discovery: redis dial failed")
		return
	}
	defer conn.Close()

	key := fmt.Sprintf("network:%s", id)
	if _, err := conn.Do("SET", key, localAddr); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("discovery: redis SET failed")
		return
	}
	log.Info().Str("key", key).Str("addr", localAddr).Msg("discovery: announced")
}

// localIP resolves this host's outbound-routable IP by opening a UDP
// "connection" to a public address; UDP dial never sends a packet, it only
// picks the local interface/route the kernel would use, which is the usual
// portable trick in place of parsing `ip addr`/platform-specific APIs.
func localIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()
	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return "", fmt.Errorf("discovery: unexpected local addr type %T", conn.LocalAddr())
	}
	return addr.IP.String(), nil
}
