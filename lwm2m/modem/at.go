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

package modem

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/tarm/serial"

	"mynewt.apache.org/lwm2mclient/lwm2m/lwutil"
)

const DefaultCmdTimeout = 5 * time.Second

type SerialCfg struct {
	DevPath     string
	Baud        int
	ReadTimeout time.Duration
}

func NewSerialCfg() SerialCfg {
	return SerialCfg{
		Baud:        115200,
		ReadTimeout: 10 * time.Second,
	}
}

// AtModem drives a cellular modem over its AT command port.  A reader
// goroutine splits the line stream into command responses and unsolicited
// result codes.
type AtModem struct {
	port       io.ReadWriteCloser
	CmdTimeout time.Duration

	// Serializes commands.
	cmdMtx sync.Mutex
	rspCh  chan string

	mtx     sync.Mutex
	regCb   func(s RegStatus)
	pdnCids map[string]int
	closed  bool
}

func OpenAtModem(cfg SerialCfg) (*AtModem, error) {
	c := &serial.Config{
		Name:        cfg.DevPath,
		Baud:        cfg.Baud,
		ReadTimeout: cfg.ReadTimeout,
	}

	log.Debugf("Opening modem port %s", cfg.DevPath)
	port, err := serial.OpenPort(c)
	if err != nil {
		return nil, lwutil.FmtXportError("failed to open modem port %s: %s",
			cfg.DevPath, err.Error())
	}

	// Discard stale data in the buffers.
	port.Flush()

	m := NewAtModem(port)
	if _, err := m.Command("AT+CEREG=5"); err != nil {
		log.Warnf("failed to enable registration notifications: %s",
			err.Error())
	}
	return m, nil
}

// NewAtModem wraps an already-open AT port.
func NewAtModem(port io.ReadWriteCloser) *AtModem {
	m := &AtModem{
		port:       port,
		CmdTimeout: DefaultCmdTimeout,
		rspCh:      make(chan string, 32),
		pdnCids:    map[string]int{},
	}

	go m.rxLoop()
	return m
}

func (m *AtModem) isClosed() bool {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	return m.closed
}

func (m *AtModem) rxLoop() {
	for {
		scanner := bufio.NewScanner(m.port)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}

			log.Debugf("Rx modem: %s", line)
			if m.handleUrc(line) {
				continue
			}

			select {
			case m.rspCh <- line:
			default:
				log.Debugf("dropping unexpected modem line: %s", line)
			}
		}

		if m.isClosed() {
			return
		}
		if err := scanner.Err(); err != nil {
			log.Debugf("modem read error: %s", err.Error())
			if err == io.ErrClosedPipe {
				return
			}
		}

		// Read timeout; start a new scanner.
		time.Sleep(10 * time.Millisecond)
	}
}

func fields(line string, prefix string) []string {
	s := strings.TrimSpace(strings.TrimPrefix(line, prefix))
	parts := strings.Split(s, ",")
	for i, p := range parts {
		parts[i] = strings.Trim(strings.TrimSpace(p), "\"")
	}
	return parts
}

func (m *AtModem) handleUrc(line string) bool {
	if !strings.HasPrefix(line, "+CEREG:") {
		return false
	}

	f := fields(line, "+CEREG:")
	stat, err := strconv.Atoi(f[0])
	if err != nil {
		log.Debugf("malformed +CEREG: %s", line)
		return true
	}

	m.mtx.Lock()
	cb := m.regCb
	m.mtx.Unlock()

	log.Debugf("network registration: %s", RegStatus(stat))
	if cb != nil {
		cb(RegStatus(stat))
	}
	return true
}

// Command sends one AT command and collects its response lines, not
// including the final OK.
func (m *AtModem) Command(cmd string) ([]string, error) {
	m.cmdMtx.Lock()
	defer m.cmdMtx.Unlock()

	// Drain leftovers from a previous timed-out command.
	for {
		select {
		case <-m.rspCh:
			continue
		default:
		}
		break
	}

	log.Debugf("Tx modem: %s", cmd)
	if _, err := m.port.Write([]byte(cmd + "\r\n")); err != nil {
		return nil, lwutil.FmtXportError("modem write failed: %s",
			err.Error())
	}

	var lines []string
	timer := time.NewTimer(m.CmdTimeout)
	defer timer.Stop()

	for {
		select {
		case line := <-m.rspCh:
			switch {
			case line == cmd:
				// Echo.
			case line == "OK":
				return lines, nil
			case line == "ERROR" || strings.HasPrefix(line, "+CME ERROR") ||
				strings.HasPrefix(line, "+CMS ERROR"):
				return nil, errors.Errorf("%s: %s", cmd, line)
			default:
				lines = append(lines, line)
			}

		case <-timer.C:
			return nil, lwutil.FmtRspTimeoutError(
				"timeout waiting for response to %s", cmd)
		}
	}
}

// query runs a command and returns the first response line carrying the
// given prefix, with the prefix stripped.
func (m *AtModem) query(cmd string, prefix string) (string, error) {
	lines, err := m.Command(cmd)
	if err != nil {
		return "", err
	}

	for _, l := range lines {
		if prefix == "" {
			return l, nil
		}
		if strings.HasPrefix(l, prefix) {
			return strings.TrimSpace(strings.TrimPrefix(l, prefix)), nil
		}
	}
	return "", errors.Errorf("%s: no %q in response", cmd, prefix)
}

func (m *AtModem) IMEI() (string, error) {
	return m.query("AT+CGSN", "")
}

func (m *AtModem) MSISDN() (string, error) {
	s, err := m.query("AT+CNUM", "+CNUM:")
	if err != nil {
		return "", err
	}

	f := fields(s, "")
	if len(f) < 2 || f[1] == "" {
		return "", errors.Errorf("no MSISDN in %q", s)
	}
	return strings.TrimPrefix(f[1], "+"), nil
}

func (m *AtModem) ICCID() (string, error) {
	return m.query("AT%XICCID", "%XICCID:")
}

func (m *AtModem) Operator() (string, error) {
	// Numeric operator format.
	if _, err := m.Command("AT+COPS=3,2"); err != nil {
		return "", err
	}

	s, err := m.query("AT+COPS?", "+COPS:")
	if err != nil {
		return "", err
	}

	f := fields(s, "")
	if len(f) < 3 {
		return "", errors.Errorf("not attached to a network: %q", s)
	}
	return f[2], nil
}

func (m *AtModem) FirmwareVersion() (string, error) {
	return m.query("AT+CGMR", "")
}

func (m *AtModem) SetOnline(on bool) error {
	cmd := "AT+CFUN=4"
	if on {
		cmd = "AT+CFUN=1"
	}
	_, err := m.Command(cmd)
	return err
}

// cid returns the PDP context ID bound to an APN, allocating one if
// needed.  The default context 0 is never reassigned.
func (m *AtModem) cid(apn string, alloc bool) (int, bool) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	if cid, ok := m.pdnCids[apn]; ok {
		return cid, true
	}
	if !alloc {
		return 0, false
	}

	cid := 1
	for _, c := range m.pdnCids {
		if c >= cid {
			cid = c + 1
		}
	}
	m.pdnCids[apn] = cid
	return cid, true
}

func (m *AtModem) ActivatePDN(apn string) error {
	if apn == "" {
		return nil
	}

	cid, _ := m.cid(apn, true)
	if _, err := m.Command(
		fmt.Sprintf("AT+CGDCONT=%d,\"IPV4V6\",\"%s\"", cid, apn)); err != nil {

		return err
	}
	if _, err := m.Command(fmt.Sprintf("AT+CGACT=1,%d", cid)); err != nil {
		return lwutil.NewPdnDownError(err.Error())
	}
	return nil
}

func (m *AtModem) DeactivatePDN(apn string) error {
	cid, ok := m.cid(apn, false)
	if !ok {
		return nil
	}

	_, err := m.Command(fmt.Sprintf("AT+CGACT=0,%d", cid))
	return err
}

// IPv6Ready reports whether the PDN for an APN has an IPv6 address.
func (m *AtModem) IPv6Ready(apn string) (bool, error) {
	cid := 0
	if apn != "" {
		c, ok := m.cid(apn, false)
		if !ok {
			return false, lwutil.NewPdnDownError("no PDN for " + apn)
		}
		cid = c
	}

	s, err := m.query(fmt.Sprintf("AT+CGPADDR=%d", cid), "+CGPADDR:")
	if err != nil {
		return false, err
	}
	for _, a := range fields(s, "")[1:] {
		if strings.Contains(a, ":") {
			return true, nil
		}
	}
	return false, nil
}

func (m *AtModem) Shutdown() error {
	_, err := m.Command("AT+CFUN=0")
	return err
}

func (m *AtModem) SetRegStatusCb(cb func(s RegStatus)) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	m.regCb = cb
}

func (m *AtModem) Close() error {
	m.mtx.Lock()
	m.closed = true
	m.mtx.Unlock()

	return m.port.Close()
}
