//go:build linux

/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * Portions are derived from of Linux's tcp.h, used under the syscall exception
 * (see https://spdx.org/licenses/Linux-syscall-note.html).
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

// Package tcpinfo retrieves Linux's struct tcp_info for a connection's fd via
// getsockopt(TCP_INFO), giving pkg/exporter real per-connection RTT and
// retransmit counts to put alongside the reconnect coordinator's own state.
package tcpinfo

import (
	"errors"
	"fmt"
	"syscall"
	"unsafe"

	"github.com/docker/docker/pkg/parsers/kernel"
)

var linuxKernelVersion *kernel.VersionInfo
var sizeOfRawTCPInfo int

type versionedStructSize struct {
	version kernel.VersionInfo
	size    int
	flag    *bool
}

var (
	kernelVersionIsAtLeast_2_6_2 = false
	kernelVersionIsAtLeast_3_15  = false
	kernelVersionIsAtLeast_4_1   = false
	kernelVersionIsAtLeast_4_2   = false
	kernelVersionIsAtLeast_4_6   = false
	kernelVersionIsAtLeast_4_9   = false
	kernelVersionIsAtLeast_4_10  = false
	kernelVersionIsAtLeast_4_18  = false
	kernelVersionIsAtLeast_4_19  = false
	kernelVersionIsAtLeast_5_4   = false
	kernelVersionIsAtLeast_5_5   = false
	kernelVersionIsAtLeast_6_2   = false
	kernelVersionIsAtLeast_6_7   = false
)

var tcpInfoSizes = []versionedStructSize{
	{version: kernel.VersionInfo{Kernel: 2, Major: 6, Minor: 2}, size: 104, flag: &kernelVersionIsAtLeast_2_6_2},
	{version: kernel.VersionInfo{Kernel: 3, Major: 15, Minor: 0}, size: 120, flag: &kernelVersionIsAtLeast_3_15},
	{version: kernel.VersionInfo{Kernel: 4, Major: 1, Minor: 0}, size: 136, flag: &kernelVersionIsAtLeast_4_1},
	{version: kernel.VersionInfo{Kernel: 4, Major: 2, Minor: 0}, size: 144, flag: &kernelVersionIsAtLeast_4_2},
	{version: kernel.VersionInfo{Kernel: 4, Major: 6, Minor: 0}, size: 160, flag: &kernelVersionIsAtLeast_4_6},
	{version: kernel.VersionInfo{Kernel: 4, Major: 9, Minor: 0}, size: 168, flag: &kernelVersionIsAtLeast_4_9},
	{version: kernel.VersionInfo{Kernel: 4, Major: 10, Minor: 0}, size: 192, flag: &kernelVersionIsAtLeast_4_10},
	{version: kernel.VersionInfo{Kernel: 4, Major: 18, Minor: 0}, size: 200, flag: &kernelVersionIsAtLeast_4_18},
	{version: kernel.VersionInfo{Kernel: 4, Major: 19, Minor: 0}, size: 224, flag: &kernelVersionIsAtLeast_4_19},
	{version: kernel.VersionInfo{Kernel: 5, Major: 4, Minor: 0}, size: 232, flag: &kernelVersionIsAtLeast_5_4},
	{version: kernel.VersionInfo{Kernel: 5, Major: 5, Minor: 0}, size: 232, flag: &kernelVersionIsAtLeast_5_5},
	{version: kernel.VersionInfo{Kernel: 6, Major: 2, Minor: 0}, size: 240, flag: &kernelVersionIsAtLeast_6_2},
	{version: kernel.VersionInfo{Kernel: 6, Major: 7, Minor: 0}, size: 248, flag: &kernelVersionIsAtLeast_6_7},
}

func init() {
	var err error
	if linuxKernelVersion, err = kernel.GetKernelVersion(); err != nil {
		panic(fmt.Errorf("tcpinfo: error getting kernel version: %w", err))
	}
	adaptToKernelVersion()
}

func adaptToKernelVersion() {
	for i := len(tcpInfoSizes) - 1; i >= 0; i-- {
		if kernel.CompareKernelVersion(*linuxKernelVersion, tcpInfoSizes[i].version) >= 0 {
			sizeOfRawTCPInfo = tcpInfoSizes[i].size
			for j := i; j >= 0; j-- {
				*tcpInfoSizes[j].flag = true
			}
			return
		}
		*tcpInfoSizes[i].flag = false
	}
}

// rawTCPInfo has identical memory layout to Linux kernel tcp_info struct
// (current as of kernel 6.7). bitfield0/bitfield1 capture the packed
// fields; their offsets hold across the kernel versions below thanks to
// struct alignment rules.
type rawTCPInfo struct {
	state              uint8
	caState            uint8
	retransmits        uint8
	probes             uint8
	backoff            uint8
	options            uint8
	bitfield0          uint8 // tcpi_snd_wscale:4, tcpi_rcv_wscale:4
	bitfield1          uint8 // tcpi_delivery_rate_app_limited:1, tcpi_fastopen_client_fail:2
	rto                uint32
	ato                uint32
	sndMSS             uint32
	rcvMSS             uint32
	unacked            uint32
	sacked             uint32
	lost               uint32
	retrans            uint32
	fackets            uint32
	lastDataSent       uint32
	lastAckSent        uint32
	lastDataRecv       uint32
	lastAckRecv        uint32
	pmtu               uint32
	rcvSSThresh        uint32
	rtt                uint32
	rttvar             uint32
	sndSSThresh        uint32
	sndCWnd            uint32
	advMSS             uint32
	reordering         uint32
	rcvRTT             uint32
	rcvSpace           uint32
	totalRetrans       uint32
	pacingRate         uint64
	maxPacingRate      uint64
	bytesAcked         uint64
	bytesReceived      uint64
	segsOut            uint32
	segsIn             uint32
	notsentBytes       uint32
	minRTT             uint32
	dataSegsIn         uint32
	dataSegsOut        uint32
	deliveryRate       uint64
	busyTime           uint64
	rwndLimited        uint64
	sndbufLimited      uint64
	delivered          uint32
	deliveredCE        uint32
	bytesSent          uint64
	bytesRetrans       uint64
	dsackDups          uint32
	reordSeen          uint32
	rcvOOOPack         uint32
	sndWnd             uint32
	rcvWnd             uint32
	rehash             uint32
	totalRTO           uint16
	totalRTORecoveries uint16
	totalRTOTime       uint32
}

// Info is the subset of struct tcp_info this module keeps; pkg/exporter
// reports RTT and TotalRetrans from it alongside the reconnect
// coordinator's own state.
type Info struct {
	State        uint8
	Retransmits  uint8
	RTT          uint32 // microseconds
	RTTVar       uint32 // microseconds
	TotalRetrans uint32
}

func (packed *rawTCPInfo) unpack() *Info {
	return &Info{
		State:        packed.state,
		Retransmits:  packed.retransmits,
		RTT:          packed.rtt,
		RTTVar:       packed.rttvar,
		TotalRetrans: packed.totalRetrans,
	}
}

var ErrKernelTooOld = errors.New("tcpinfo: tcp_info is not available on Linux prior to kernel 2.6.2")

// Get calls getsockopt(2) to retrieve tcp_info for fd and unpacks the subset
// of fields this module reports as metrics.
func Get(fd int) (*Info, error) {
	if !kernelVersionIsAtLeast_2_6_2 {
		return nil, ErrKernelTooOld
	}

	var value rawTCPInfo
	length := uint32(sizeOfRawTCPInfo)

	_, _, errNo := syscall.Syscall6(
		syscall.SYS_GETSOCKOPT,
		uintptr(fd),
		uintptr(syscall.SOL_TCP),
		uintptr(syscall.TCP_INFO),
		uintptr(unsafe.Pointer(&value)),
		uintptr(unsafe.Pointer(&length)),
		0,
	)
	if errNo != 0 {
		return nil, errNo
	}
	return value.unpack(), nil
}
