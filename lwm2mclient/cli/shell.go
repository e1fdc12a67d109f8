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
	"context"

	"github.com/spf13/cast"
	"github.com/spf13/cobra"
	"gopkg.in/abiosoft/ishell.v2"

	"mynewt.apache.org/lwm2mclient/lwm2m/client"
	"mynewt.apache.org/lwm2mclient/lwm2m/model"
	"mynewt.apache.org/newt/util"
)

func slotArg(c *ishell.Context) (int, bool) {
	if len(c.Args) < 1 {
		c.Println("Error: missing slot")
		return 0, false
	}

	idx, err := cast.ToIntE(c.Args[0])
	if err != nil || idx <= client.BootstrapSlot || idx >= client.MaxSlots {
		c.Println("Error: invalid slot:", c.Args[0])
		return 0, false
	}
	return idx, true
}

func addShellCmds(shell *ishell.Shell, cl *client.Client) {
	shell.AddCmd(&ishell.Cmd{
		Name: "status",
		Help: "Show the client state and server slots: status",
		Func: func(c *ishell.Context) {
			c.Printf("state: %s\n", cl.State())
			c.Printf("endpoint: %s (%s)\n", cl.Endpoint(), cl.Carrier())
			printSlots(stdout, cl.Slots())
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "observers",
		Help: "List active observations: observers",
		Func: func(c *ishell.Context) {
			printObservers(stdout, cl.Observers())
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "events",
		Help: "Show recent events: events",
		Func: func(c *ishell.Context) {
			for _, ev := range cl.Events() {
				c.Println(eventColor(ev))
			}
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "connect",
		Help: "Connect after a disconnect: connect",
		Func: func(c *ishell.Context) {
			cl.RequestConnect()
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "disconnect",
		Help: "Close every server session: disconnect",
		Func: func(c *ishell.Context) {
			cl.RequestDisconnect()
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "update",
		Help: "Send a registration update: update <slot> [reconnect]",
		Func: func(c *ishell.Context) {
			idx, ok := slotArg(c)
			if !ok {
				return
			}
			reconnect := len(c.Args) > 1 && c.Args[1] == "reconnect"
			cl.RequestServerUpdate(idx, reconnect)
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "dereg",
		Help: "Deregister from one server: dereg <slot>",
		Func: func(c *ishell.Context) {
			if idx, ok := slotArg(c); ok {
				cl.RequestServerDeregister(idx)
			}
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "dereg-all",
		Help: "Deregister from every server and disconnect: dereg-all",
		Func: func(c *ishell.Context) {
			cl.RequestDeregisterAll()
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "battery",
		Help: "Set the reported battery level: battery <percent>",
		Func: func(c *ishell.Context) {
			if len(c.Args) < 1 {
				c.Println("Error: missing level")
				return
			}
			lvl, err := cast.ToIntE(c.Args[0])
			if err != nil || lvl < 0 || lvl > 100 {
				c.Println("Error: invalid level:", c.Args[0])
				return
			}
			p := model.ResourcePath(model.ObjDevice, 0,
				model.DevBatteryLevel)
			cl.Set(p, lvl)
			cl.ObservableValueChanged(p)
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "fota",
		Help: "Start a firmware download: fota <package-uri>",
		Func: func(c *ishell.Context) {
			if len(c.Args) < 1 {
				c.Println("Error: missing package URI")
				return
			}
			cl.StartFirmwareDownload(c.Args[0])
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "reset",
		Help: "Deregister and reboot: reset",
		Func: func(c *ishell.Context) {
			cl.RequestReset()
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "factory-reset",
		Help: "Erase servers and credentials: factory-reset",
		Func: func(c *ishell.Context) {
			cl.FactoryReset()
		},
	})
}

func startShell(cmd *cobra.Command, args []string) {
	in, err := buildClient()
	if err != nil {
		clUsage(nil, err)
	}
	defer in.Close()

	// By default, the shell includes 'exit', 'help' and 'clear' commands.
	shell := ishell.New()
	shell.SetPrompt("lwm2m> ")

	shell.Println()
	shell.Println(" LwM2M client console")
	shell.Println("	Endpoint: ", in.c.Endpoint())
	shell.Println()

	addShellCmds(shell, in.c)

	err = runInstance(context.Background(), in,
		func(ctx context.Context) error {
			go func() {
				<-ctx.Done()
				shell.Stop()
			}()

			shell.Run()
			return nil
		})
	shell.Close()

	if err != nil {
		clUsage(nil, util.ChildNewtError(err))
	}
}

func shellCmd() *cobra.Command {
	shellCmd := &cobra.Command{
		Use:   "shell",
		Short: "Run the client with an interactive console",
		Run:   startShell,
	}

	return shellCmd
}
