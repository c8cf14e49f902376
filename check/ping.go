package check

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
	"golang.org/x/sync/errgroup"
)

const (
	timeSliceLength  = 8
	trackerLength    = len(uuid.UUID{})
	protocolICMP     = 1
	protocolIPv6ICMP = 58
)

var (
	ipv4Proto = map[string]string{"icmp": "ip4:icmp", "udp": "udp4"}
	ipv6Proto = map[string]string{"icmp": "ip6:ipv6-icmp", "udp": "udp6"}
)

// NewPinger returns a Pinger sending unprivileged UDP echoes with a two
// second timeout.
func NewPinger() *Pinger {
	r := rand.New(rand.NewSource(getSeed()))
	return &Pinger{
		Timeout: 2 * time.Second,
		Size:    timeSliceLength + trackerLength,
		TTL:     64,

		id:       r.Intn(math.MaxUint16),
		network:  "ip",
		protocol: "udp",
	}
}

// Pinger sends one ICMP echo request per Probe call and waits at most Timeout
// for the matching reply.
type Pinger struct {
	// Timeout bounds how long a probe waits for its reply.
	Timeout time.Duration

	// Size of the echo payload, at least 24 bytes.
	Size int

	TTL int

	// Source is the local address to send from, empty for any.
	Source string

	id       int
	sequence uint32
	// network is one of "ip", "ip4", or "ip6".
	network string
	// protocol is "icmp" or "udp".
	protocol string
	lock     sync.Mutex
}

// Packet is a received and matched echo reply.
type Packet struct {
	Rtt    time.Duration
	Addr   net.Addr
	Nbytes int
	Seq    int
	Ttl    int
	ID     int
}

// SetNetwork allows configuration of DNS resolution.
// * "ip" will automatically select IPv4 or IPv6.
// * "ip4" will select IPv4.
// * "ip6" will select IPv6.
func (p *Pinger) SetNetwork(n string) {
	switch n {
	case "ip4":
		p.network = "ip4"
	case "ip6":
		p.network = "ip6"
	default:
		p.network = "ip"
	}
}

// SetPrivileged sets the type of ping pinger will send.
// false means pinger will send an "unprivileged" UDP ping.
// true means pinger will send a "privileged" raw ICMP ping.
// NOTE: setting to true requires that it be run with super-user privileges.
func (p *Pinger) SetPrivileged(privileged bool) {
	if privileged {
		p.protocol = "icmp"
	} else {
		p.protocol = "udp"
	}
}

func (p *Pinger) Privileged() bool {
	return p.protocol == "icmp"
}

// Probe sends one echo request to host. Resolution and send failures are
// reported as an unsuccessful Result, only socket setup errors are returned.
func (p *Pinger) Probe(ctx context.Context, host string) (Result, error) {
	if p.Size < timeSliceLength+trackerLength {
		return Result{}, fmt.Errorf("size %d is less than minimum required size %d", p.Size, timeSliceLength+trackerLength)
	}

	ipaddr, err := net.ResolveIPAddr(p.network, host)
	if err != nil {
		return Result{Output: fmt.Sprintf("ping: %s: %v", host, err)}, nil
	}

	conn, err := p.listen(isIPv4(ipaddr.IP))
	if err != nil {
		return Result{}, fmt.Errorf("listen %s: %w", p.protocol, err)
	}
	defer conn.Close()

	conn.SetTTL(p.TTL)
	if err := conn.SetFlagTTL(); err != nil {
		logrus.Debug("Unable to request TTL control messages: ", err)
	}

	deadline := time.Now().Add(p.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return Result{}, err
	}

	seq := p.nextSequence()
	tracker := uuid.New()

	var reply *Packet
	var g errgroup.Group

	g.Go(func() (err error) {
		reply, err = p.recvEcho(conn, tracker, seq)
		return
	})

	g.Go(func() error {
		err := p.sendEcho(conn, ipaddr, tracker, seq)
		if err != nil {
			// Wake the receiver, nothing is coming back.
			conn.SetReadDeadline(time.Now())
		}
		return err
	})

	if err := g.Wait(); err != nil {
		return Result{Output: fmt.Sprintf("PING %s (%s): %v", host, ipaddr, err)}, nil
	}

	if reply == nil {
		return Result{Output: fmt.Sprintf("PING %s (%s)\nRequest timeout for icmp_seq %d\n1 packets transmitted, 0 packets received, 100.0%% packet loss", host, ipaddr, seq)}, nil
	}

	return Result{
		Success: true,
		RTT:     reply.Rtt,
		Output: fmt.Sprintf("PING %s (%s)\n%d bytes from %s: icmp_seq=%d ttl=%d time=%.3f ms",
			host, ipaddr, reply.Nbytes, ipaddr, reply.Seq, reply.Ttl, float64(reply.Rtt)/float64(time.Millisecond)),
	}, nil
}

func (p *Pinger) nextSequence() int {
	return int(atomic.AddUint32(&p.sequence, 1) & 0xffff)
}

func (p *Pinger) listen(v4 bool) (packetConn, error) {
	p.lock.Lock()
	defer p.lock.Unlock()

	if v4 {
		src := p.Source
		if src == "" {
			src = "0.0.0.0"
		}
		c, err := icmp.ListenPacket(ipv4Proto[p.protocol], src)
		if err != nil {
			return nil, err
		}
		return &icmpv4Conn{icmpConn{c: c}}, nil
	}

	src := p.Source
	if src == "" {
		src = "::"
	}
	c, err := icmp.ListenPacket(ipv6Proto[p.protocol], src)
	if err != nil {
		return nil, err
	}
	return &icmpV6Conn{icmpConn{c: c}}, nil
}

func (p *Pinger) sendEcho(conn packetConn, ipaddr *net.IPAddr, tracker uuid.UUID, seq int) error {
	var dst net.Addr = ipaddr
	if p.protocol == "udp" {
		dst = &net.UDPAddr{IP: ipaddr.IP, Zone: ipaddr.Zone}
	}

	uuidEncoded, err := tracker.MarshalBinary()
	if err != nil {
		return fmt.Errorf("unable to marshal UUID binary: %w", err)
	}
	t := append(timeToBytes(time.Now()), uuidEncoded...)
	if remainSize := p.Size - timeSliceLength - trackerLength; remainSize > 0 {
		t = append(t, bytes.Repeat([]byte{1}, remainSize)...)
	}

	msg := &icmp.Message{
		Type: conn.ICMPRequestType(),
		Code: 0,
		Body: &icmp.Echo{
			ID:   p.id,
			Seq:  seq,
			Data: t,
		},
	}

	msgBytes, err := msg.Marshal(nil)
	if err != nil {
		return err
	}

	_, err = conn.WriteTo(msgBytes, dst)
	return err
}

// recvEcho reads until the reply carrying tracker and seq arrives. A read
// deadline expiring returns a nil packet and no error.
func (p *Pinger) recvEcho(conn packetConn, tracker uuid.UUID, seq int) (*Packet, error) {
	buf := make([]byte, p.Size+128)
	for {
		n, ttl, src, err := conn.ReadFrom(buf)
		if err != nil {
			var neterr net.Error
			if errors.As(err, &neterr) && neterr.Timeout() {
				return nil, nil
			}
			return nil, err
		}
		receivedAt := time.Now()

		m, err := icmp.ParseMessage(conn.Proto(), buf[:n])
		if err != nil {
			logrus.Debug("Error parsing icmp message: ", err)
			continue
		}
		if m.Type != ipv4.ICMPTypeEchoReply && m.Type != ipv6.ICMPTypeEchoReply {
			continue
		}

		echo, ok := m.Body.(*icmp.Echo)
		if !ok {
			continue
		}
		// Unprivileged sockets have their ID rewritten by the kernel.
		if p.Privileged() && echo.ID != p.id {
			continue
		}
		if echo.Seq != seq || len(echo.Data) < timeSliceLength+trackerLength {
			continue
		}

		var pktUUID uuid.UUID
		if err := pktUUID.UnmarshalBinary(echo.Data[timeSliceLength : timeSliceLength+trackerLength]); err != nil || pktUUID != tracker {
			continue
		}

		return &Packet{
			Rtt:    receivedAt.Sub(bytesToTime(echo.Data[:timeSliceLength])),
			Addr:   src,
			Nbytes: n,
			Seq:    echo.Seq,
			Ttl:    ttl,
			ID:     echo.ID,
		}, nil
	}
}

func bytesToTime(b []byte) time.Time {
	var nsec int64
	for i := uint8(0); i < 8; i++ {
		nsec += int64(b[i]) << ((7 - i) * 8)
	}
	return time.Unix(nsec/1000000000, nsec%1000000000)
}

func isIPv4(ip net.IP) bool {
	return len(ip.To4()) == net.IPv4len
}

func timeToBytes(t time.Time) []byte {
	nsec := t.UnixNano()
	b := make([]byte, 8)
	for i := uint8(0); i < 8; i++ {
		b[i] = byte((nsec >> ((7 - i) * 8)) & 0xff)
	}
	return b
}

var seed int64 = time.Now().UnixNano()

// getSeed returns a goroutine-safe unique seed
func getSeed() int64 {
	return atomic.AddInt64(&seed, 1)
}
