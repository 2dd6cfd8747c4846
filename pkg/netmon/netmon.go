// Copyright 2025 AUTHORS
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package netmon maintains the agent's picture of host network
// interfaces, fed by a Unix-domain event stream, so the lifecycle
// engine can resolve a parent interface's subnet and gateway without
// calling out to the kernel itself.
package netmon

import (
	"strconv"
	"strings"
	"time"
)

// IPv4Address is one address assigned to an interface.
type IPv4Address struct {
	Address        string `json:"address"`
	Prefixlen      int    `json:"prefixlen"`
	Subnet         string `json:"subnet"`
	NetworkAddress string `json:"network_address"`
}

// Interface is a cache entry for one host interface, built from the
// event stream's wire representation (F in the data model).
type Interface struct {
	Name          string        `json:"interface"`
	Index         int           `json:"index"`
	Operstate     string        `json:"operstate"`
	IPv4Addresses []IPv4Address `json:"ipv4_addresses"`
	Gateway       string        `json:"gateway,omitempty"`
	LastUpdate    time.Time     `json:"-"`
}

// eligible reports whether an interface is UP with at least one IPv4
// address, the only interfaces lookup() ever returns.
func (i Interface) eligible() bool {
	return i.Operstate == "UP" && len(i.IPv4Addresses) > 0
}

// diagnosticOnly reports whether name belongs to a class of interface
// that's cached for visibility but never returned by lookup: loopback,
// the engine's own bridges, and veth-family pairs created per
// container.
func diagnosticOnly(name string) bool {
	switch {
	case name == "lo":
		return true
	case strings.HasPrefix(name, "veth"):
		return true
	case strings.HasPrefix(name, "docker"):
		return true
	case strings.HasPrefix(name, "br-"):
		return true
	}
	return false
}

// Subnet resolves the first IPv4 address's subnet in CIDR notation
// (e.g. "192.168.1.0/24"), used by the lifecycle engine to derive
// parent_subnet when a vNIC doesn't specify one explicitly.
func (i Interface) Subnet() string {
	if len(i.IPv4Addresses) == 0 {
		return ""
	}
	a := i.IPv4Addresses[0]
	if a.NetworkAddress == "" || a.Prefixlen == 0 {
		return ""
	}
	return a.NetworkAddress + "/" + strconv.Itoa(a.Prefixlen)
}
