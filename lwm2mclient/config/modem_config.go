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
	"fmt"
	"strconv"
	"strings"

	"mynewt.apache.org/lwm2mclient/lwm2m/modem"
	"mynewt.apache.org/newt/util"
)

func einvalModemConnString(f string, args ...interface{}) error {
	suffix := fmt.Sprintf(f, args...)
	return util.FmtNewtError("Invalid modem connstring; %s", suffix)
}

// ParseModemConnString parses a "dev=<path>,baud=<rate>" string.  A single
// token names the device.
func ParseModemConnString(cs string) (modem.SerialCfg, error) {
	sc := modem.NewSerialCfg()

	parts := strings.Split(cs, ",")
	for _, p := range parts {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) == 1 {
			kv = []string{"dev", kv[0]}
		}

		k := kv[0]
		v := kv[1]

		switch k {
		case "dev":
			sc.DevPath = v

		case "baud":
			var err error
			sc.Baud, err = strconv.Atoi(v)
			if err != nil {
				return sc, einvalModemConnString("Invalid baud: %s", v)
			}

		default:
			return sc, einvalModemConnString("Unrecognized key: %s", k)
		}
	}

	if sc.DevPath == "" {
		return sc, einvalModemConnString("Missing device")
	}

	return sc, nil
}
