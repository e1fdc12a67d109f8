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

package model

import (
	"sort"
)

type ResourceType int

const (
	TypeNone ResourceType = iota
	TypeString
	TypeInt
	TypeFloat
	TypeBool
	TypeOpaque
	TypeTime
)

var resTypeNameMap = map[ResourceType]string{
	TypeNone:   "none",
	TypeString: "string",
	TypeInt:    "integer",
	TypeFloat:  "float",
	TypeBool:   "boolean",
	TypeOpaque: "opaque",
	TypeTime:   "time",
}

func (t ResourceType) String() string {
	return resTypeNameMap[t]
}

// Numeric reports whether values of this type take part in gt/lt/st
// threshold checks.
func (t ResourceType) Numeric() bool {
	return t == TypeInt || t == TypeFloat || t == TypeTime
}

type Operations uint8

const (
	OpRead Operations = 1 << iota
	OpWrite
	OpExecute
)

const OpReadWrite = OpRead | OpWrite

type ResourceDef struct {
	ID       uint16
	Name     string
	Type     ResourceType
	Ops      Operations
	Multiple bool
}

type ObjectDef struct {
	ID        uint16
	Name      string
	Multiple  bool
	Resources []ResourceDef
}

func (od *ObjectDef) Resource(id uint16) *ResourceDef {
	for i := range od.Resources {
		if od.Resources[i].ID == id {
			return &od.Resources[i]
		}
	}
	return nil
}

func (od *ObjectDef) ResourceIDs() []uint16 {
	ids := make([]uint16, 0, len(od.Resources))
	for _, r := range od.Resources {
		ids = append(ids, r.ID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

const (
	ObjSecurity     uint16 = 0
	ObjServer       uint16 = 1
	ObjAccessCtrl   uint16 = 2
	ObjDevice       uint16 = 3
	ObjConnMon      uint16 = 4
	ObjFirmware     uint16 = 5
	ObjLocation     uint16 = 6
	ObjConnStats    uint16 = 7
	InvalidInstance uint16 = 0xffff
)

// Security object resources.
const (
	SecServerURI     uint16 = 0
	SecBootstrap     uint16 = 1
	SecMode          uint16 = 2
	SecIdentity      uint16 = 3
	SecServerPubKey  uint16 = 4
	SecSecretKey     uint16 = 5
	SecShortServerID uint16 = 10
	SecHoldOffTime   uint16 = 11
	SecBsTimeout     uint16 = 12
)

// Server object resources.
const (
	SrvShortServerID uint16 = 0
	SrvLifetime      uint16 = 1
	SrvDefaultPmin   uint16 = 2
	SrvDefaultPmax   uint16 = 3
	SrvDisable       uint16 = 4
	SrvDisableTmo    uint16 = 5
	SrvNotifStoring  uint16 = 6
	SrvBinding       uint16 = 7
	SrvUpdateTrigger uint16 = 8
)

// Device object resources.
const (
	DevManufacturer  uint16 = 0
	DevModel         uint16 = 1
	DevSerial        uint16 = 2
	DevFwVersion     uint16 = 3
	DevReboot        uint16 = 4
	DevFactoryReset  uint16 = 5
	DevPowerSources  uint16 = 6
	DevVoltage       uint16 = 7
	DevCurrent       uint16 = 8
	DevBatteryLevel  uint16 = 9
	DevMemoryFree    uint16 = 10
	DevErrorCode     uint16 = 11
	DevCurrentTime   uint16 = 13
	DevUtcOffset     uint16 = 14
	DevTimezone      uint16 = 15
	DevBindings      uint16 = 16
	DevType          uint16 = 17
	DevHwVersion     uint16 = 18
	DevSwVersion     uint16 = 19
	DevBatteryStatus uint16 = 20
	DevMemoryTotal   uint16 = 21
)

// Connectivity Monitoring object resources.
const (
	ConnBearer        uint16 = 0
	ConnAvailBearers  uint16 = 1
	ConnSignal        uint16 = 2
	ConnLinkQuality   uint16 = 3
	ConnIPAddrs       uint16 = 4
	ConnRouterIPAddrs uint16 = 5
	ConnLinkUtil      uint16 = 6
	ConnAPN           uint16 = 7
	ConnCellID        uint16 = 8
	ConnSMNC          uint16 = 9
	ConnSMCC          uint16 = 10
)

// Firmware Update object resources.
const (
	FwPackage      uint16 = 0
	FwPackageURI   uint16 = 1
	FwUpdate       uint16 = 2
	FwState        uint16 = 3
	FwUpdateResult uint16 = 5
	FwPkgName      uint16 = 6
	FwPkgVersion   uint16 = 7
	FwProtocols    uint16 = 8
	FwDelivery     uint16 = 9
)

var SecurityDef = &ObjectDef{
	ID:       ObjSecurity,
	Name:     "LwM2M Security",
	Multiple: true,
	Resources: []ResourceDef{
		{SecServerURI, "LWM2M Server URI", TypeString, 0, false},
		{SecBootstrap, "Bootstrap-Server", TypeBool, 0, false},
		{SecMode, "Security Mode", TypeInt, 0, false},
		{SecIdentity, "Public Key or Identity", TypeOpaque, 0, false},
		{SecServerPubKey, "Server Public Key", TypeOpaque, 0, false},
		{SecSecretKey, "Secret Key", TypeOpaque, 0, false},
		{SecShortServerID, "Short Server ID", TypeInt, 0, false},
		{SecHoldOffTime, "Client Hold Off Time", TypeInt, 0, false},
		{SecBsTimeout, "Bootstrap-Server Account Timeout", TypeInt, 0, false},
	},
}

var ServerDef = &ObjectDef{
	ID:       ObjServer,
	Name:     "LwM2M Server",
	Multiple: true,
	Resources: []ResourceDef{
		{SrvShortServerID, "Short Server ID", TypeInt, OpRead, false},
		{SrvLifetime, "Lifetime", TypeInt, OpReadWrite, false},
		{SrvDefaultPmin, "Default Minimum Period", TypeInt, OpReadWrite, false},
		{SrvDefaultPmax, "Default Maximum Period", TypeInt, OpReadWrite, false},
		{SrvDisable, "Disable", TypeNone, OpExecute, false},
		{SrvDisableTmo, "Disable Timeout", TypeInt, OpReadWrite, false},
		{SrvNotifStoring, "Notification Storing When Disabled or Offline",
			TypeBool, OpReadWrite, false},
		{SrvBinding, "Binding", TypeString, OpReadWrite, false},
		{SrvUpdateTrigger, "Registration Update Trigger", TypeNone,
			OpExecute, false},
	},
}

var DeviceDef = &ObjectDef{
	ID:   ObjDevice,
	Name: "Device",
	Resources: []ResourceDef{
		{DevManufacturer, "Manufacturer", TypeString, OpRead, false},
		{DevModel, "Model Number", TypeString, OpRead, false},
		{DevSerial, "Serial Number", TypeString, OpRead, false},
		{DevFwVersion, "Firmware Version", TypeString, OpRead, false},
		{DevReboot, "Reboot", TypeNone, OpExecute, false},
		{DevFactoryReset, "Factory Reset", TypeNone, OpExecute, false},
		{DevPowerSources, "Available Power Sources", TypeInt, OpRead, true},
		{DevVoltage, "Power Source Voltage", TypeInt, OpRead, true},
		{DevCurrent, "Power Source Current", TypeInt, OpRead, true},
		{DevBatteryLevel, "Battery Level", TypeInt, OpRead, false},
		{DevMemoryFree, "Memory Free", TypeInt, OpRead, false},
		{DevErrorCode, "Error Code", TypeInt, OpRead, true},
		{DevCurrentTime, "Current Time", TypeTime, OpReadWrite, false},
		{DevUtcOffset, "UTC Offset", TypeString, OpReadWrite, false},
		{DevTimezone, "Timezone", TypeString, OpReadWrite, false},
		{DevBindings, "Supported Binding and Modes", TypeString, OpRead, false},
		{DevType, "Device Type", TypeString, OpRead, false},
		{DevHwVersion, "Hardware Version", TypeString, OpRead, false},
		{DevSwVersion, "Software Version", TypeString, OpRead, false},
		{DevBatteryStatus, "Battery Status", TypeInt, OpRead, false},
		{DevMemoryTotal, "Memory Total", TypeInt, OpRead, false},
	},
}

var ConnMonDef = &ObjectDef{
	ID:   ObjConnMon,
	Name: "Connectivity Monitoring",
	Resources: []ResourceDef{
		{ConnBearer, "Network Bearer", TypeInt, OpRead, false},
		{ConnAvailBearers, "Available Network Bearer", TypeInt, OpRead, true},
		{ConnSignal, "Radio Signal Strength", TypeInt, OpRead, false},
		{ConnLinkQuality, "Link Quality", TypeInt, OpRead, false},
		{ConnIPAddrs, "IP Addresses", TypeString, OpRead, true},
		{ConnRouterIPAddrs, "Router IP Addresses", TypeString, OpRead, true},
		{ConnLinkUtil, "Link Utilization", TypeInt, OpRead, false},
		{ConnAPN, "APN", TypeString, OpRead, true},
		{ConnCellID, "Cell ID", TypeInt, OpRead, false},
		{ConnSMNC, "SMNC", TypeInt, OpRead, false},
		{ConnSMCC, "SMCC", TypeInt, OpRead, false},
	},
}

var FirmwareDef = &ObjectDef{
	ID:   ObjFirmware,
	Name: "Firmware Update",
	Resources: []ResourceDef{
		{FwPackage, "Package", TypeOpaque, OpWrite, false},
		{FwPackageURI, "Package URI", TypeString, OpReadWrite, false},
		{FwUpdate, "Update", TypeNone, OpExecute, false},
		{FwState, "State", TypeInt, OpRead, false},
		{FwUpdateResult, "Update Result", TypeInt, OpRead, false},
		{FwPkgName, "PkgName", TypeString, OpRead, false},
		{FwPkgVersion, "PkgVersion", TypeString, OpRead, false},
		{FwProtocols, "Firmware Update Protocol Support", TypeInt, OpRead, true},
		{FwDelivery, "Firmware Update Delivery Method", TypeInt, OpRead, false},
	},
}
