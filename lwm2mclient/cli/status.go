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
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/structs"
	"github.com/spf13/cobra"

	"mynewt.apache.org/lwm2mclient/lwm2m/client"
	"mynewt.apache.org/lwm2mclient/lwm2m/creds"
	"mynewt.apache.org/lwm2mclient/lwm2m/model"
	"mynewt.apache.org/lwm2mclient/lwm2m/observe"
	"mynewt.apache.org/lwm2mclient/lwm2m/persist"
	"mynewt.apache.org/newt/util"
)

// fieldString renders a struct as "name=value" pairs in field order.
func fieldString(v interface{}) string {
	var parts []string
	for _, f := range structs.Fields(v) {
		if !f.IsExported() {
			continue
		}

		val := f.Value()
		if b, ok := val.([]byte); ok {
			val = hex.EncodeToString(b)
		}
		parts = append(parts, fmt.Sprintf("%s=%v",
			strings.ToLower(f.Name()), val))
	}
	return strings.Join(parts, " ")
}

func slotLine(s client.SlotStatus) string {
	line := fieldString(s)
	switch {
	case s.Registered:
		return colorGood(line)
	case s.Disabled:
		return colorBad(line)
	default:
		return line
	}
}

func printSlots(w io.Writer, slots []client.SlotStatus) {
	for _, s := range slots {
		fmt.Fprintf(w, "  %s\n", slotLine(s))
	}
}

func printObservers(w io.Writer, obs []observe.Observer) {
	if len(obs) == 0 {
		fmt.Fprintf(w, "  (none)\n")
		return
	}
	for i := range obs {
		fmt.Fprintf(w, "  %s seq=%d\n", obs[i].String(), obs[i].Seq)
	}
}

// storedSlots reads the slots a client would start with from the database.
func storedSlots(ps *persist.Store) ([]client.SlotStatus, error) {
	st := model.NewStore()
	st.AddObject(model.SecurityDef, nil)
	st.AddObject(model.ServerDef, nil)

	regs, err := ps.LoadObjects(st)
	if err != nil {
		return nil, err
	}

	servers := map[uint16]*model.Instance{}
	for _, inst := range st.Instances(model.ObjServer) {
		servers[model.ServerFrom(inst).SSID] = inst
	}

	var slots []client.SlotStatus
	for _, inst := range st.Instances(model.ObjSecurity) {
		sec := model.SecurityFrom(inst)
		ss := client.SlotStatus{
			Index:     int(sec.Slot),
			Bootstrap: sec.Bootstrap,
			SSID:      sec.SSID,
			URI:       sec.URI,
		}

		if srvInst := servers[sec.SSID]; srvInst != nil && !sec.Bootstrap {
			srv := model.ServerFrom(srvInst)
			ss.Lifetime = srv.Lifetime
			ss.Binding = srv.Binding

			reg := regs[srvInst.InstanceID]
			ss.Registered = reg.Registered
			ss.Location = reg.Location
		}
		slots = append(slots, ss)
	}

	return slots, nil
}

func withStores(fn func(st *stores) error) {
	cfg, err := loadConfig()
	if err != nil {
		clUsage(nil, err)
	}

	st, err := openStores(cfg)
	if err != nil {
		clUsage(nil, err)
	}
	defer st.Close()

	if err := fn(st); err != nil {
		clUsage(nil, util.ChildNewtError(err))
	}
}

func statusRunCmd(cmd *cobra.Command, args []string) {
	withStores(func(st *stores) error {
		ps := persist.New(st.kv)

		misc, err := ps.LoadMisc()
		if err != nil {
			return err
		}

		fmt.Printf("bootstrapped: %t\n", misc.Bootstrapped)
		if misc.Operator != "" {
			fmt.Printf("operator:     %s\n", misc.Operator)
		}
		if misc.MSISDN != "" {
			fmt.Printf("msisdn:       %s\n", misc.MSISDN)
		}
		fmt.Printf("firmware:     %s (result %d)\n", misc.FwState,
			misc.FwResult)

		slots, err := storedSlots(ps)
		if err != nil {
			return err
		}
		fmt.Printf("slots:\n")
		printSlots(stdout, slots)

		for _, s := range slots {
			if s.Index == client.BootstrapSlot {
				continue
			}
			ok, err := st.creds.PSKExists(creds.SecTag(s.Index))
			if err != nil {
				return err
			}
			fmt.Printf("  slot %d psk: %t\n", s.Index, ok)
		}

		return nil
	})
}

func observersRunCmd(cmd *cobra.Command, args []string) {
	withStores(func(st *stores) error {
		obs, _, err := persist.New(st.kv).LoadObservers()
		if err != nil {
			return err
		}

		list := make([]observe.Observer, 0, len(obs))
		for _, o := range obs {
			list = append(list, *o)
		}

		fmt.Printf("observers:\n")
		printObservers(stdout, list)
		return nil
	})
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Display the stored registration state",
		Run:   statusRunCmd,
	}
}

func observersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "observers",
		Short: "List the stored observations",
		Run:   observersRunCmd,
	}
}

func factoryResetRunCmd(cmd *cobra.Command, args []string) {
	withStores(func(st *stores) error {
		if err := persist.New(st.kv).Wipe(); err != nil {
			return err
		}
		for i := 1; i < client.MaxSlots; i++ {
			err := st.creds.Delete(creds.SecTag(i))
			if err != nil && !creds.IsNotFound(err) {
				return err
			}
		}

		fmt.Printf("client state erased\n")
		return nil
	})
}

func factoryResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "factory-reset",
		Short: "Erase servers, registrations, observations and credentials",
		Run:   factoryResetRunCmd,
	}
}
