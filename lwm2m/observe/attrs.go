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

package observe

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

type Attr int

const (
	AttrPmin Attr = iota
	AttrPmax
	AttrGt
	AttrLt
	AttrSt

	NumAttrs
)

var attrNameMap = map[Attr]string{
	AttrPmin: "pmin",
	AttrPmax: "pmax",
	AttrGt:   "gt",
	AttrLt:   "lt",
	AttrSt:   "st",
}

func (a Attr) String() string {
	return attrNameMap[a]
}

func attrByName(name string) (Attr, bool) {
	for a, n := range attrNameMap {
		if n == name {
			return a, true
		}
	}
	return 0, false
}

// Level is the granularity an attribute was assigned at.  LevelNone means
// the attribute is not set.
type Level int

const (
	LevelNone Level = iota
	LevelObject
	LevelInstance
	LevelResource
)

// Attributes holds notification attributes.  An attribute is set iff its
// level is not LevelNone.
type Attributes struct {
	Values [NumAttrs]float64
	Levels [NumAttrs]Level
}

func (as *Attributes) Set(a Attr, v float64, lvl Level) {
	as.Values[a] = v
	as.Levels[a] = lvl
}

func (as *Attributes) Unset(a Attr) {
	as.Values[a] = 0
	as.Levels[a] = LevelNone
}

func (as *Attributes) IsSet(a Attr) bool {
	return as.Levels[a] != LevelNone
}

func (as *Attributes) Get(a Attr) (float64, bool) {
	return as.Values[a], as.IsSet(a)
}

func (as *Attributes) Empty() bool {
	for a := Attr(0); a < NumAttrs; a++ {
		if as.IsSet(a) {
			return false
		}
	}
	return true
}

// Merge fills every attribute unset in as from other.
func (as *Attributes) Merge(other *Attributes) {
	for a := Attr(0); a < NumAttrs; a++ {
		if !as.IsSet(a) && other.IsSet(a) {
			as.Values[a] = other.Values[a]
			as.Levels[a] = other.Levels[a]
		}
	}
}

func (as *Attributes) hasThresholds() bool {
	return as.IsSet(AttrGt) || as.IsSet(AttrLt) || as.IsSet(AttrSt)
}

func formatAttr(a Attr, v float64) string {
	if a == AttrPmin || a == AttrPmax {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// String renders the set attributes in link-format parameter form, e.g.
// ";pmin=10;gt=50".
func (as Attributes) String() string {
	s := ""
	for a := Attr(0); a < NumAttrs; a++ {
		if as.IsSet(a) {
			s += fmt.Sprintf(";%s=%s", a, formatAttr(a, as.Values[a]))
		}
	}
	return s
}

// AttrUpdate is one parsed Write-Attributes query parameter.  A parameter
// without a value clears the attribute.
type AttrUpdate struct {
	Attr  Attr
	Value float64
	Clear bool
}

// ParseAttrQueries parses Write-Attributes URI queries.  Unknown parameters
// are rejected.
func ParseAttrQueries(queries []string) ([]AttrUpdate, error) {
	var ups []AttrUpdate

	for _, q := range queries {
		parts := strings.SplitN(q, "=", 2)

		a, ok := attrByName(parts[0])
		if !ok {
			return nil, fmt.Errorf("unknown attribute \"%s\"", parts[0])
		}

		if len(parts) == 1 || parts[1] == "" {
			ups = append(ups, AttrUpdate{Attr: a, Clear: true})
			continue
		}

		var v float64
		var err error
		if a == AttrPmin || a == AttrPmax {
			var n uint64
			n, err = strconv.ParseUint(parts[1], 10, 32)
			v = float64(n)
		} else {
			v, err = strconv.ParseFloat(parts[1], 64)
			if err == nil && (math.IsNaN(v) || math.IsInf(v, 0)) {
				err = fmt.Errorf("not finite")
			}
		}
		if err != nil {
			return nil, fmt.Errorf("invalid %s value \"%s\"", a, parts[1])
		}
		if a == AttrSt && v < 0 {
			return nil, fmt.Errorf("negative st")
		}

		ups = append(ups, AttrUpdate{Attr: a, Value: v})
	}

	return ups, nil
}
