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

package cli

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"mynewt.apache.org/lwm2mclient/lwm2m/client"
	"mynewt.apache.org/lwm2mclient/lwm2m/creds"
	"mynewt.apache.org/lwm2mclient/lwm2m/fota"
	"mynewt.apache.org/lwm2mclient/lwm2m/modem"
	"mynewt.apache.org/lwm2mclient/lwm2m/persist"
	"mynewt.apache.org/lwm2mclient/lwm2m/xport"
	"mynewt.apache.org/lwm2mclient/lwm2mclient/clutil"
	"mynewt.apache.org/lwm2mclient/lwm2mclient/config"
	"mynewt.apache.org/newt/util"
)

var stdout = color.Output

func clUsage(cmd *cobra.Command, err error) {
	if err != nil {
		if nerr, ok := err.(*util.NewtError); ok {
			log.Debugf("%s", nerr.StackTrace)
			fmt.Fprintf(os.Stderr, "Error: %s\n", nerr.Text)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err.Error())
		}
	}

	if cmd != nil {
		fmt.Printf("\n")
		fmt.Printf("%s - ", cmd.Name())
		cmd.Help()
	}

	os.Exit(1)
}

// loadConfig reads the config file and applies command line overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(clutil.CfgPath)
	if err != nil {
		return nil, err
	}

	if clutil.ModemConnString != "" {
		cfg.Modem = clutil.ModemConnString
	}
	if clutil.DbPath != "" {
		cfg.Db = clutil.DbPath
	}
	if clutil.Carrier != "" {
		cfg.Carrier = clutil.Carrier
	}

	return cfg, nil
}

// stores is the client database: records and credentials share one bbolt
// file.
type stores struct {
	kv    *persist.BoltKV
	creds *creds.BoltStore
}

func (s *stores) Close() error {
	return s.kv.Close()
}

func openStores(cfg *config.Config) (*stores, error) {
	path, err := cfg.DbPath()
	if err != nil {
		return nil, err
	}

	kv, err := persist.OpenBoltKV(path)
	if err != nil {
		return nil, util.ChildNewtError(err)
	}

	cs, err := creds.NewBoltStore(kv.DB())
	if err != nil {
		kv.Close()
		return nil, util.ChildNewtError(err)
	}

	return &stores{kv: kv, creds: cs}, nil
}

// instance is a client with the platform it runs on.
type instance struct {
	c      *client.Client
	cfg    *config.Config
	st     *stores
	modem  *modem.AtModem
	events chan client.Event
}

func (in *instance) Close() {
	if in.modem != nil {
		in.modem.Close()
	}
	if in.st != nil {
		in.st.Close()
	}
}

var (
	colorGood = color.New(color.FgGreen).SprintFunc()
	colorBad  = color.New(color.FgRed).SprintFunc()
	colorNote = color.New(color.FgYellow).SprintFunc()
)

func eventColor(ev client.Event) string {
	switch ev.Type {
	case client.EventReady, client.EventConnected, client.EventBootstrapped:
		return colorGood(ev.String())
	case client.EventError:
		return colorBad(ev.String())
	default:
		return colorNote(ev.String())
	}
}

// buildClient opens the stores and the modem and creates an initialized
// client.  Events are forwarded on the returned instance's channel; a full
// channel drops events.
func buildClient() (*instance, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	cc, err := cfg.ClientConfig()
	if err != nil {
		return nil, err
	}

	sc, err := config.ParseModemConnString(cfg.Modem)
	if err != nil {
		return nil, err
	}

	in := &instance{
		cfg:    cfg,
		events: make(chan client.Event, 16),
	}

	in.st, err = openStores(cfg)
	if err != nil {
		return nil, err
	}

	in.modem, err = modem.OpenAtModem(sc)
	if err != nil {
		in.Close()
		return nil, util.ChildNewtError(err)
	}
	in.modem.CmdTimeout = clutil.CmdTimeout()

	deps := client.Deps{
		Modem:    in.modem,
		Resolver: modem.NewDnsResolver(cfg.Dns),
		Dialer:   xport.NewNetDialer(in.st.creds),
		Creds:    in.st.creds,
		KV:       in.st.kv,
		Events: func(ev client.Event) int {
			select {
			case in.events <- ev:
			default:
			}
			return 0
		},
	}
	if cfg.Dfu != "" {
		deps.DFU = fota.NewFileDFU(cfg.Dfu)
	}

	in.c, err = client.New(cc, deps)
	if err != nil {
		in.Close()
		return nil, util.ChildNewtError(err)
	}

	if err := in.c.Init(); err != nil {
		in.Close()
		return nil, util.ChildNewtError(err)
	}

	return in, nil
}
