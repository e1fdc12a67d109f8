/**
 * Licensed to the Apache Software Foundation (ASF) under one
 * or more contributor license agreements.  See the NOTICE file
 * distributed with this work for additional information
 * regarding copyright ownership.  The ASF licenses this file
 * to you under the Apache License, Version 2.0 (the
 * "License"); you may not use this file except in compliance
 * with the License.  You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing,
 * software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
 * KIND, either express or implied.  See the License for the
 * specific language governing permissions and limitations
 * under the License.
 */

package model

import (
	"fmt"
)

// Security modes.
const (
	SecModePSK   int64 = 0
	SecModeNoSec int64 = 3
)

// Security is a typed snapshot of a Security object instance.
type Security struct {
	Slot      uint16
	URI       string
	Bootstrap bool
	Mode      int64
	Identity  []byte
	PSK       []byte
	SSID      uint16
	HoldOff   int64
	BsTimeout int64
}

func SecurityFrom(inst *Instance) Security {
	return Security{
		Slot:      inst.InstanceID,
		URI:       inst.String(SecServerURI),
		Bootstrap: inst.Bool(SecBootstrap),
		Mode:      inst.Int(SecMode),
		Identity:  inst.Bytes(SecIdentity),
		PSK:       inst.Bytes(SecSecretKey),
		SSID:      uint16(inst.Int(SecShortServerID)),
		HoldOff:   inst.Int(SecHoldOffTime),
		BsTimeout: inst.Int(SecBsTimeout),
	}
}

// HasCredentials reports whether the record carries a PSK identity and key
// to install into the credential store.
func (s Security) HasCredentials() bool {
	return s.Mode == SecModePSK && len(s.Identity) > 0 && len(s.PSK) > 0
}

func (s Security) String() string {
	return fmt.Sprintf("slot=%d uri=%s bs=%t mode=%d ssid=%d holdoff=%d",
		s.Slot, s.URI, s.Bootstrap, s.Mode, s.SSID, s.HoldOff)
}

// Server is a typed snapshot of a Server object instance.
type Server struct {
	Instance    uint16
	SSID        uint16
	Lifetime    int64
	DefaultPmin int64
	DefaultPmax int64
	DisableTmo  int64
	NotifStore  bool
	Binding     string
}

// Disable timeout used when a server leaves the resource unset.
const DefaultDisableTimeout = 86400

func ServerFrom(inst *Instance) Server {
	srv := Server{
		Instance:    inst.InstanceID,
		SSID:        uint16(inst.Int(SrvShortServerID)),
		Lifetime:    inst.Int(SrvLifetime),
		DefaultPmin: inst.Int(SrvDefaultPmin),
		DefaultPmax: inst.Int(SrvDefaultPmax),
		DisableTmo:  DefaultDisableTimeout,
		NotifStore:  inst.Bool(SrvNotifStoring),
		Binding:     inst.String(SrvBinding),
	}
	if inst.Has(SrvDisableTmo) {
		srv.DisableTmo = inst.Int(SrvDisableTmo)
	}
	if srv.Binding == "" {
		srv.Binding = "U"
	}
	return srv
}

func (s Server) String() string {
	return fmt.Sprintf("inst=%d ssid=%d lt=%d pmin=%d pmax=%d b=%s",
		s.Instance, s.SSID, s.Lifetime, s.DefaultPmin, s.DefaultPmax,
		s.Binding)
}

// ValidBinding reports whether a binding string only uses the U, Q and S
// modes.
func ValidBinding(b string) bool {
	if b == "" {
		return false
	}
	for _, c := range b {
		if c != 'U' && c != 'Q' && c != 'S' {
			return false
		}
	}
	return true
}
