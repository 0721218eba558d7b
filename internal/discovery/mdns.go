package discovery

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/hashicorp/mdns"
)

const ServiceType = "_whiteboard._tcp"

// Announces the server on the local network until closed
type Advertiser struct {
	server *mdns.Server
}

// Starts answering mDNS queries for instance on port. An empty instance
// uses the host name.
func Advertise(instance string, port int) (*Advertiser, error) {
	if instance == "" {
		host, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("could not get hostname: %w", err)
		}
		instance = host
	}

	service, err := buildService(instance, "", port, []net.IP{firstIPv4()})
	if err != nil {
		return nil, err
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return nil, fmt.Errorf("start mDNS server: %w", err)
	}
	return &Advertiser{server: server}, nil
}

func (a *Advertiser) Close() error {
	return a.server.Shutdown()
}

func buildService(instance, hostName string, port int, ips []net.IP) (*mdns.MDNSService, error) {
	service, err := mdns.NewMDNSService(instance, ServiceType, "", hostName, port, ips, []string{"whiteboard", "path=/ws"})
	if err != nil {
		return nil, fmt.Errorf("create mDNS service: %w", err)
	}
	return service, nil
}

// A whiteboard server seen on the network
type Peer struct {
	Instance string
	Addr     string
}

// Queries the local network for whiteboard servers for up to timeout
func Browse(timeout time.Duration) ([]Peer, error) {
	entries := make(chan *mdns.ServiceEntry, 8)
	var peers []Peer
	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range entries {
			if e.AddrV4 == nil || e.Port == 0 {
				continue
			}
			peers = append(peers, Peer{Instance: e.Name, Addr: fmt.Sprintf("%s:%d", e.AddrV4, e.Port)})
		}
	}()

	params := mdns.DefaultParams(ServiceType)
	params.Entries = entries
	params.Timeout = timeout
	params.DisableIPv6 = true
	err := mdns.Query(params)
	close(entries)
	<-done
	return peers, err
}

func firstIPv4() net.IP {
	ifaces, _ := net.Interfaces()
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, _ := iface.Addrs()
		for _, a := range addrs {
			if ipnet, ok := a.(*net.IPNet); ok && ipnet.IP.To4() != nil {
				return ipnet.IP.To4()
			}
		}
	}
	return net.IPv4(127, 0, 0, 1)
}
