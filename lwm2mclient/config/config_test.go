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

package config

import (
	"io/ioutil"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mynewt.apache.org/lwm2mclient/lwm2m/retry"
)

const testYaml = `
carrier: vzw
modem: /dev/ttyACM0
db: /tmp/lwm2m.db
con_interval: 12h
bootstrap_holdoff: 10
bootstrap_identity: dev1
bootstrap_psk: "01:02:03:04"
factory_servers:
  - uri: coaps://dm.example.com
    ssid: 102
    lifetime: 300
    psk: a1b2
  - uri: coap://repo.example.com:5690
    ssid: "1000"
    lifetime: 1h
    binding: UQ
device:
  manufacturer: Acme
`

func writeConfig(t *testing.T, text string) string {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	require.NoError(t, ioutil.WriteFile(path, []byte(text), 0600))
	return path
}

func TestLoadConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, testYaml))
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyACM0", cfg.Modem)
	assert.Equal(t, "info", cfg.LogLevel)

	cc, err := cfg.ClientConfig()
	require.NoError(t, err)

	assert.Equal(t, retry.CarrierVZW, cc.Carrier)
	assert.Equal(t, 12*time.Hour, cc.ConInterval)
	assert.Equal(t, int64(10), cc.BootstrapHoldOff)
	assert.Equal(t, []byte("dev1"), cc.BootstrapIdentity)
	assert.Equal(t, []byte{1, 2, 3, 4}, cc.BootstrapPSK)
	assert.Equal(t, "Acme", cc.Device.Manufacturer)

	require.Len(t, cc.FactoryServers, 2)
	fs := cc.FactoryServers[0]
	assert.Equal(t, uint16(102), fs.SSID)
	assert.Equal(t, int64(300), fs.Lifetime)
	assert.Equal(t, "U", fs.Binding)
	assert.Equal(t, []byte{0xa1, 0xb2}, fs.PSK)

	fs = cc.FactoryServers[1]
	assert.Equal(t, uint16(1000), fs.SSID)
	assert.Equal(t, int64(3600), fs.Lifetime)
	assert.Equal(t, "UQ", fs.Binding)
}

func TestLoadMissingConfig(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultModemConnString, cfg.Modem)

	cc, err := cfg.ClientConfig()
	require.NoError(t, err)
	assert.Equal(t, retry.CarrierGeneric, cc.Carrier)
	assert.Empty(t, cc.FactoryServers)
}

func TestSaveConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")

	cfg := NewConfig()
	cfg.Carrier = "att"
	cfg.Dns = "8.8.8.8"
	require.NoError(t, cfg.Save(path))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "att", cfg.Carrier)
	assert.Equal(t, "8.8.8.8", cfg.Dns)
}

func TestBadConfig(t *testing.T) {
	tests := []string{
		"carrier: tmobile\n",
		"con_interval: soon\n",
		"bootstrap_psk: xyz\n",
		"factory_servers:\n  - uri: http://x\n    ssid: 1\n",
		"factory_servers:\n  - uri: coap://x\n    ssid: 0\n",
		"factory_servers:\n  - uri: coap://x\n    ssid: 70000\n",
	}

	for _, text := range tests {
		cfg, err := Load(writeConfig(t, text))
		require.NoError(t, err, text)

		_, err = cfg.ClientConfig()
		assert.Error(t, err, text)
	}
}

func TestParseModemConnString(t *testing.T) {
	sc, err := ParseModemConnString("dev=/dev/ttyUSB0,baud=9600")
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB0", sc.DevPath)
	assert.Equal(t, 9600, sc.Baud)

	sc, err = ParseModemConnString("/dev/ttyUSB1")
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB1", sc.DevPath)
	assert.Equal(t, 115200, sc.Baud)

	_, err = ParseModemConnString("dev=/dev/ttyUSB0,baud=fast")
	assert.Error(t, err)
	_, err = ParseModemConnString("dev=/dev/ttyUSB0,parity=none")
	assert.Error(t, err)
	_, err = ParseModemConnString("baud=9600")
	assert.Error(t, err)
}
