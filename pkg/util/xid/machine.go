package xid

import (
	"fmt"
	"hash/fnv"
	"net"
	"net/netip"
	"os"
	"strconv"
)

// 机器 ID 相关环境变量
const (
	EnvMachineID = "XJOB_MACHINE_ID"
	EnvPodName   = "POD_NAME"
)

var (
	osHostname        = os.Hostname
	netInterfaceAddrs = net.InterfaceAddrs
)

// DefaultMachineID 依次尝试环境变量、Pod 名、主机名和私有 IP。
func DefaultMachineID() (uint16, error) {
	if s := os.Getenv(EnvMachineID); s != "" {
		id, err := strconv.ParseUint(s, 10, 16)
		if err != nil {
			return 0, fmt.Errorf("xid: invalid %s %q: %w", EnvMachineID, s, err)
		}
		return uint16(id), nil
	}
	if pod := os.Getenv(EnvPodName); pod != "" {
		return hashMachineID(pod), nil
	}
	host, hostErr := osHostname()
	if hostErr == nil && host != "" {
		return hashMachineID(host), nil
	}
	ip, err := privateIPv4()
	if err != nil {
		return 0, fmt.Errorf("xid: no machine id source (hostname: %v): %w", hostErr, err)
	}
	b := ip.As4()
	return uint16(b[2])<<8 | uint16(b[3]), nil
}

// hashMachineID FNV-1a 32 位哈希折叠为 16 位。
func hashMachineID(s string) uint16 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	sum := h.Sum32()
	return uint16(sum>>16) ^ uint16(sum&0xFFFF)
}

func privateIPv4() (netip.Addr, error) {
	addrs, err := netInterfaceAddrs()
	if err != nil {
		return netip.Addr{}, err
	}
	for _, addr := range addrs {
		ipnet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		ip, ok := netip.AddrFromSlice(ipnet.IP)
		if !ok {
			continue
		}
		ip = ip.Unmap()
		if ip.Is4() && !ip.IsLoopback() && (ip.IsPrivate() || ip.IsLinkLocalUnicast()) {
			return ip, nil
		}
	}
	return netip.Addr{}, ErrNoPrivateAddress
}
