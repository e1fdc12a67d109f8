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

	"github.com/spf13/cobra"

	"mynewt.apache.org/lwm2mclient/lwm2mclient/clutil"
	"mynewt.apache.org/lwm2mclient/lwm2mclient/config"
	"mynewt.apache.org/newt/util"
)

func configShowCmd(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig()
	if err != nil {
		clUsage(nil, err)
	}

	cc, err := cfg.ClientConfig()
	if err != nil {
		clUsage(nil, err)
	}

	fmt.Printf("carrier:       %s\n", cfg.Carrier)
	fmt.Printf("modem:         %s\n", cfg.Modem)
	fmt.Printf("db:            %s\n", cfg.Db)
	if cc.BootstrapURI != "" {
		fmt.Printf("bootstrap uri: %s\n", cc.BootstrapURI)
	}
	if cc.ConInterval != 0 {
		fmt.Printf("con interval:  %s\n", cc.ConInterval)
	}
	for _, fs := range cc.FactoryServers {
		fmt.Printf("factory server: uri=%s ssid=%d lifetime=%d binding=%s\n",
			fs.URI, fs.SSID, fs.Lifetime, fs.Binding)
	}
}

func configInitCmd(cmd *cobra.Command, args []string) {
	path := clutil.CfgPath
	if path == "" {
		var err error
		path, err = config.DefaultPath()
		if err != nil {
			clUsage(nil, err)
		}
	}

	if _, err := os.Stat(path); err == nil {
		clUsage(nil, util.FmtNewtError("Config file %s already exists",
			path))
	}

	if err := config.NewConfig().Save(path); err != nil {
		clUsage(nil, err)
	}
	fmt.Printf("Wrote %s\n", path)
}

func configCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the client configuration",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.HelpFunc()(cmd, args)
		},
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Display the effective configuration",
		Run:   configShowCmd,
	}
	configCmd.AddCommand(showCmd)

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		Run:   configInitCmd,
	}
	configCmd.AddCommand(initCmd)

	return configCmd
}
