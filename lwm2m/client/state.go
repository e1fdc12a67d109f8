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

package client

type State int

const (
	StateBooting State = iota
	StateLinkDown
	StateDisconnected
	StateRequestConnect
	StateBootstrapHoldOff
	StateBootstrapConnect
	StateBootstrapConnectWait
	StateBootstrapConnectRetryWait
	StateBootstrapConnected
	StateBootstrapRequested
	StateBootstrapWait
	StateBootstrapping
	StateBootstrapTimedOut
	StateClientHoldOff
	StateServerConnect
	StateServerConnectWait
	StateServerConnectRetryWait
	StateServerConnected
	StateServerRegisterWait
	StateIdle
	StateServerDeregister
	StateServerDeregistering
	StateRequestDisconnect
	StateReset
	StateShutdown
	StateModemFirmwareUpdate
)

var stateNameMap = map[State]string{
	StateBooting:                   "booting",
	StateLinkDown:                  "link_down",
	StateDisconnected:              "disconnected",
	StateRequestConnect:            "request_connect",
	StateBootstrapHoldOff:          "bootstrap_hold_off",
	StateBootstrapConnect:          "bootstrap_connect",
	StateBootstrapConnectWait:      "bootstrap_connect_wait",
	StateBootstrapConnectRetryWait: "bootstrap_connect_retry_wait",
	StateBootstrapConnected:        "bootstrap_connected",
	StateBootstrapRequested:        "bootstrap_requested",
	StateBootstrapWait:             "bootstrap_wait",
	StateBootstrapping:             "bootstrapping",
	StateBootstrapTimedOut:         "bootstrap_timed_out",
	StateClientHoldOff:             "client_hold_off",
	StateServerConnect:             "server_connect",
	StateServerConnectWait:         "server_connect_wait",
	StateServerConnectRetryWait:    "server_connect_retry_wait",
	StateServerConnected:           "server_connected",
	StateServerRegisterWait:        "server_register_wait",
	StateIdle:                      "idle",
	StateServerDeregister:          "server_deregister",
	StateServerDeregistering:       "server_deregistering",
	StateRequestDisconnect:         "request_disconnect",
	StateReset:                     "reset",
	StateShutdown:                  "shutdown",
	StateModemFirmwareUpdate:       "modem_firmware_update",
}

func (s State) String() string {
	n := stateNameMap[s]
	if n == "" {
		return "???"
	}
	return n
}

// bootstrapPhase reports whether the state belongs to the bootstrap
// sequence.
func (s State) bootstrapPhase() bool {
	return s >= StateBootstrapHoldOff && s <= StateBootstrapTimedOut
}

// connectPhase reports whether the state is part of bringing up a session
// to a server.
func (s State) connectPhase() bool {
	return s >= StateBootstrapHoldOff && s <= StateServerRegisterWait
}
