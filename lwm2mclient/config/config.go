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
	"encoding/hex"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"

	"mynewt.apache.org/lwm2mclient/lwm2m/client"
	"mynewt.apache.org/lwm2mclient/lwm2m/objects"
	"mynewt.apache.org/lwm2mclient/lwm2m/retry"
	"mynewt.apache.org/lwm2mclient/lwm2mclient/clutil"
	"mynewt.apache.org/newt/util"
)

const (
	DefaultModemConnString = "dev=/dev/ttyUSB2,baud=115200"
	DefaultDbFilename      = ".lwm2mclient.db"
)

type DeviceCfg struct {
	Manufacturer string `yaml:"manufacturer"`
	Model        string `yaml:"model"`
	HwVersion    string `yaml:"hw_version"`
	SwVersion    string `yaml:"sw_version"`
	DeviceType   string `yaml:"device_type"`
}

type ServerCfg struct {
	URI      string      `yaml:"uri"`
	SSID     interface{} `yaml:"ssid"`
	Lifetime interface{} `yaml:"lifetime"`
	Binding  string      `yaml:"binding"`
	Identity string      `yaml:"identity"`
	PSK      string      `yaml:"psk"`
}

// Config is the on-disk client configuration.  Durations accept either a
// number of seconds or a duration string such as "90s".
type Config struct {
	Carrier    string `yaml:"carrier"`
	Modem      string `yaml:"modem"`
	Db         string `yaml:"db"`
	Dfu        string `yaml:"dfu"`
	Dns        string `yaml:"dns"`
	LogLevel   string `yaml:"log_level"`
	RoamAsHome bool   `yaml:"roam_as_home"`

	BootstrapURI      string      `yaml:"bootstrap_uri"`
	BootstrapHoldOff  interface{} `yaml:"bootstrap_holdoff"`
	BootstrapIdentity string      `yaml:"bootstrap_identity"`
	BootstrapPSK      string      `yaml:"bootstrap_psk"`

	FactoryServers  []ServerCfg `yaml:"factory_servers"`
	DisableFallback bool        `yaml:"disable_fallback"`
	ConInterval     interface{} `yaml:"con_interval"`
	ResolveTimeout  interface{} `yaml:"resolve_timeout"`

	APNs   []string  `yaml:"apns"`
	Device DeviceCfg `yaml:"device"`
}

func NewConfig() *Config {
	return &Config{
		Carrier:  "auto",
		Modem:    DefaultModemConnString,
		Db:       "~/" + DefaultDbFilename,
		LogLevel: "info",
		Device: DeviceCfg{
			Manufacturer: "Apache Mynewt",
			Model:        clutil.ToolInfo.ExeName,
		},
	}
}

// DefaultPath returns the configuration file in the user's home directory.
func DefaultPath() (string, error) {
	dir, err := homedir.Dir()
	if err != nil {
		return "", util.NewNewtError(err.Error())
	}

	return filepath.Join(dir, clutil.ToolInfo.CfgFilename), nil
}

// Load reads the configuration at path.  A missing file yields the
// defaults.
func Load(path string) (*Config, error) {
	cfg := NewConfig()

	if path == "" {
		var err error
		path, err = DefaultPath()
		if err != nil {
			return nil, err
		}
	}

	b, err := ioutil.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Debugf("no config file at %s; using defaults", path)
			return cfg, nil
		}
		return nil, util.ChildNewtError(err)
	}

	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, util.FmtNewtError("Error parsing config file %s: %s",
			path, err.Error())
	}

	return cfg, nil
}

// Save writes the configuration to path.
func (c *Config) Save(path string) error {
	if path == "" {
		var err error
		path, err = DefaultPath()
		if err != nil {
			return err
		}
	}

	b, err := yaml.Marshal(c)
	if err != nil {
		return util.ChildNewtError(err)
	}

	if err := ioutil.WriteFile(path, b, 0600); err != nil {
		return util.ChildNewtError(err)
	}
	return nil
}

// DbPath returns the database path with a leading ~ expanded.
func (c *Config) DbPath() (string, error) {
	p, err := homedir.Expand(c.Db)
	if err != nil {
		return "", util.ChildNewtError(err)
	}
	return p, nil
}

// parseDuration accepts a number of seconds or a duration string.
func parseDuration(v interface{}) (time.Duration, error) {
	if v == nil {
		return 0, nil
	}

	if s, ok := v.(string); ok {
		s = strings.TrimSpace(s)
		if strings.IndexAny(s, "hms") >= 0 {
			return cast.ToDurationE(s)
		}
		v = s
	}

	secs, err := cast.ToInt64E(v)
	if err != nil {
		return 0, err
	}
	return time.Duration(secs) * time.Second, nil
}

func parseHex(name string, s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}

	b, err := hex.DecodeString(strings.Replace(s, ":", "", -1))
	if err != nil {
		return nil, util.FmtNewtError("Invalid %s: %s", name, err.Error())
	}
	return b, nil
}

func parseCarrier(s string) (retry.Carrier, error) {
	if s == "" || strings.ToLower(s) == "auto" {
		return retry.CarrierGeneric, nil
	}

	c, err := retry.ParseCarrier(s)
	if err != nil {
		return c, util.ChildNewtError(err)
	}
	return c, nil
}

func (sc *ServerCfg) factoryServer() (client.FactoryServer, error) {
	fs := client.FactoryServer{
		URI:      sc.URI,
		Binding:  sc.Binding,
		Identity: []byte(sc.Identity),
	}

	if _, err := client.ParseServerURI(sc.URI); err != nil {
		return fs, util.FmtNewtError("Invalid factory server URI \"%s\": %s",
			sc.URI, err.Error())
	}

	ssid, err := cast.ToIntE(sc.SSID)
	if err != nil || ssid <= 0 || ssid >= 65535 {
		return fs, util.FmtNewtError("Invalid ssid for %s: %v", sc.URI,
			sc.SSID)
	}
	fs.SSID = uint16(ssid)

	lt, err := parseDuration(sc.Lifetime)
	if err != nil {
		return fs, util.FmtNewtError("Invalid lifetime for %s: %s", sc.URI,
			err.Error())
	}
	fs.Lifetime = int64(lt / time.Second)

	fs.PSK, err = parseHex("psk", sc.PSK)
	if err != nil {
		return fs, err
	}

	if fs.Binding == "" {
		fs.Binding = "U"
	}

	return fs, nil
}

// ClientConfig converts the file configuration into a client
// configuration.
func (c *Config) ClientConfig() (client.Config, error) {
	cc := client.Config{
		RoamAsHome:      c.RoamAsHome,
		BootstrapURI:    c.BootstrapURI,
		DisableFallback: c.DisableFallback,
		APNs:            c.APNs,
		Device: objects.DeviceInfo{
			Manufacturer: c.Device.Manufacturer,
			Model:        c.Device.Model,
			HwVersion:    c.Device.HwVersion,
			SwVersion:    c.Device.SwVersion,
			DeviceType:   c.Device.DeviceType,
		},
	}

	var err error
	if cc.Carrier, err = parseCarrier(c.Carrier); err != nil {
		return cc, err
	}

	holdOff, err := parseDuration(c.BootstrapHoldOff)
	if err != nil {
		return cc, util.FmtNewtError("Invalid bootstrap_holdoff: %s",
			err.Error())
	}
	cc.BootstrapHoldOff = int64(holdOff / time.Second)

	if cc.ConInterval, err = parseDuration(c.ConInterval); err != nil {
		return cc, util.FmtNewtError("Invalid con_interval: %s", err.Error())
	}
	if cc.ResolveTimeout, err = parseDuration(c.ResolveTimeout); err != nil {
		return cc, util.FmtNewtError("Invalid resolve_timeout: %s",
			err.Error())
	}

	if c.BootstrapIdentity != "" {
		cc.BootstrapIdentity = []byte(c.BootstrapIdentity)
	}
	if cc.BootstrapPSK, err = parseHex("bootstrap_psk", c.BootstrapPSK); err != nil {
		return cc, err
	}

	for i := range c.FactoryServers {
		fs, err := c.FactoryServers[i].factoryServer()
		if err != nil {
			return cc, err
		}
		cc.FactoryServers = append(cc.FactoryServers, fs)
	}

	return cc, nil
}
