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

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"mynewt.apache.org/lwm2mclient/lwm2m/lwutil"
	"mynewt.apache.org/lwm2mclient/lwm2mclient/clutil"
	"mynewt.apache.org/newt/util"
)

var ClientLogLevel log.Level

func Commands() *cobra.Command {
	logLevelStr := ""
	clCmd := &cobra.Command{
		Use:   clutil.ToolInfo.ExeName,
		Short: clutil.ToolInfo.ShortName + " runs an LwM2M device client",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if logLevelStr == "" {
				cfg, err := loadConfig()
				if err == nil {
					logLevelStr = cfg.LogLevel
				} else {
					logLevelStr = "info"
				}
			}

			var err error
			ClientLogLevel, err = log.ParseLevel(logLevelStr)
			if err != nil {
				clUsage(nil, util.ChildNewtError(err))
			}

			err = util.Init(ClientLogLevel, "", util.VERBOSITY_DEFAULT)
			if err != nil {
				clUsage(nil, err)
			}
			lwutil.SetLogLevel(ClientLogLevel)
		},
		Run: func(cmd *cobra.Command, args []string) {
			cmd.HelpFunc()(cmd, args)
		},
	}

	clCmd.PersistentFlags().StringVarP(&logLevelStr, "loglevel", "l", "",
		"log level to use; overrides the config file")

	clCmd.PersistentFlags().StringVarP(&clutil.CfgPath, "config", "f", "",
		"configuration file (default ~/"+clutil.ToolInfo.CfgFilename+")")

	clCmd.PersistentFlags().StringVarP(&clutil.ModemConnString, "modem", "m",
		"", "modem key-value pairs (dev=<path>,baud=<rate>); overrides "+
			"the config file")

	clCmd.PersistentFlags().StringVarP(&clutil.DbPath, "db", "d", "",
		"client database; overrides the config file")

	clCmd.PersistentFlags().StringVar(&clutil.Carrier, "carrier", "",
		"carrier profile (vzw, att, auto); overrides the config file")

	clCmd.PersistentFlags().Float64VarP(&clutil.Timeout, "timeout", "t", 10.0,
		"modem command timeout in seconds (partial seconds allowed)")

	versCmd := &cobra.Command{
		Use:     "version",
		Short:   "Display the " + clutil.ToolInfo.ShortName + " version number",
		Example: "  " + clutil.ToolInfo.ExeName + " version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s %s\n",
				clutil.ToolInfo.LongName,
				clutil.ToolInfo.VersionString)
		},
	}
	clCmd.AddCommand(versCmd)

	clCmd.AddCommand(runCmd())
	clCmd.AddCommand(statusCmd())
	clCmd.AddCommand(observersCmd())
	clCmd.AddCommand(factoryResetCmd())
	clCmd.AddCommand(fotaCmd())
	clCmd.AddCommand(shellCmd())
	clCmd.AddCommand(configCmd())

	return clCmd
}
