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

package xport

import (
	"encoding/hex"
	"net"

	log "github.com/sirupsen/logrus"

	"mynewt.apache.org/lwm2mclient/lwm2m/lwutil"
)

type UdpSesn struct {
	conn   *net.UDPConn
	remote string
}

func dialUdp(p Params, rx RxFn) (*UdpSesn, error) {
	if p.APN != "" {
		log.Debugf("apn %s has no host equivalent; using default route",
			p.APN)
	}

	conn, err := net.DialUDP("udp", nil, p.Addr)
	if err != nil {
		return nil, lwutil.FmtXportError("failed to open UDP socket: %s",
			err.Error())
	}

	s := &UdpSesn{
		conn:   conn,
		remote: p.Addr.String(),
	}

	go func() {
		data := make([]byte, MaxPacketSize)

		for {
			nr, err := conn.Read(data)
			if err != nil {
				// Connection closed or read error.
				return
			}

			log.Debugf("rx %d bytes from %s", nr, s.remote)
			rx(s, append([]byte(nil), data[:nr]...))
		}
	}()

	return s, nil
}

func (s *UdpSesn) Write(b []byte) error {
	log.Debugf("tx %d bytes to %s:\n%s", len(b), s.remote, hex.Dump(b))

	if _, err := s.conn.Write(b); err != nil {
		return lwutil.FmtXportError("UDP write failed: %s", err.Error())
	}
	return nil
}

func (s *UdpSesn) Remote() string {
	return s.remote
}

func (s *UdpSesn) Poll() error {
	return nil
}

func (s *UdpSesn) Close() error {
	return s.conn.Close()
}
