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

// Package persist lays client state out over numbered KV records.
// Security and Server records use the TLV content format; observer,
// attribute and misc records use CBOR.  Every record carries a CRC-16
// trailer.
package persist

import (
	"encoding/binary"
	"fmt"

	"github.com/joaojeronimo/go-crc16"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/ugorji/go/codec"

	"mynewt.apache.org/lwm2mclient/lwm2m/model"
	"mynewt.apache.org/lwm2mclient/lwm2m/observe"
	"mynewt.apache.org/lwm2mclient/lwm2m/tlv"
)

const MaxSlots = 4

// Record id layout.
const (
	SecurityBase uint16 = 0x0100
	ServerBase   uint16 = 0x0110
	ObserverBase uint16 = 0x0200
	AttrBase     uint16 = 0x0300
	MiscID       uint16 = 0x0400
)

// Private resource ids carried in Security and Server records.
const (
	resRegistered uint16 = 65000
	resLocation   uint16 = 65001
	resACLAccess  uint16 = 65010
	resACLOwner   uint16 = 65011
)

// Returned when a record fails its CRC check.
type CorruptError struct {
	ID uint16
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("record 0x%04x is corrupt", e.ID)
}

func IsCorrupt(err error) bool {
	_, ok := errors.Cause(err).(*CorruptError)
	return ok
}

type Store struct {
	kv KV
}

func New(kv KV) *Store {
	return &Store{kv: kv}
}

func (s *Store) KV() KV {
	return s.kv
}

func (s *Store) write(id uint16, data []byte) error {
	rec := make([]byte, len(data)+2)
	copy(rec, data)
	binary.BigEndian.PutUint16(rec[len(data):], crc16.Crc16(data))

	if err := s.kv.Write(id, rec); err != nil {
		return errors.Wrapf(err, "failed to write record 0x%04x", id)
	}
	return nil
}

// read returns a record's payload, or nil if the record does not exist.
func (s *Store) read(id uint16) ([]byte, error) {
	rec, err := s.kv.Read(id)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "failed to read record 0x%04x", id)
	}

	if len(rec) < 2 {
		return nil, &CorruptError{id}
	}
	data := rec[:len(rec)-2]
	if crc16.Crc16(data) != binary.BigEndian.Uint16(rec[len(data):]) {
		return nil, &CorruptError{id}
	}

	return data, nil
}

func (s *Store) del(id uint16) error {
	if err := s.kv.Delete(id); err != nil && !IsNotFound(err) {
		return errors.Wrapf(err, "failed to delete record 0x%04x", id)
	}
	return nil
}

func cborEncode(v interface{}) ([]byte, error) {
	var payload []byte
	enc := codec.NewEncoderBytes(&payload, new(codec.CborHandle))
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return payload, nil
}

func cborDecode(b []byte, v interface{}) error {
	return codec.NewDecoderBytes(b, new(codec.CborHandle)).Decode(v)
}

/* Security / Server */

// RegState is the registration handle kept with a Server record.
type RegState struct {
	Registered bool
	Location   string
}

func skipCredentials(rid uint16) bool {
	return rid == model.SecSecretKey || rid == model.SecIdentity
}

// SaveSecurity writes a Security instance at record index idx.  The PSK
// identity and secret key are never written.
func (s *Store) SaveSecurity(idx int, inst *model.Instance) error {
	entries := model.InstanceEntries(inst, true, skipCredentials)
	entries = append(entries, inst.ACL.TLV(resACLAccess, resACLOwner)...)

	b := tlv.Encode([]tlv.Entry{tlv.ObjectInstance(inst.InstanceID,
		entries...)})
	return s.write(SecurityBase+uint16(idx), b)
}

// SaveServer writes a Server instance and its registration handle at
// record index idx.
func (s *Store) SaveServer(idx int, inst *model.Instance,
	reg RegState) error {

	entries := model.InstanceEntries(inst, true, nil)
	entries = append(entries, inst.ACL.TLV(resACLAccess, resACLOwner)...)
	entries = append(entries,
		tlv.BoolResource(resRegistered, reg.Registered),
		tlv.StringResource(resLocation, reg.Location))

	b := tlv.Encode([]tlv.Entry{tlv.ObjectInstance(inst.InstanceID,
		entries...)})
	return s.write(ServerBase+uint16(idx), b)
}

func (s *Store) DeleteSecurity(idx int) error {
	return s.del(SecurityBase + uint16(idx))
}

func (s *Store) DeleteServer(idx int) error {
	return s.del(ServerBase + uint16(idx))
}

func (s *Store) loadInstance(id uint16, st *model.Store,
	oid uint16) (*model.Instance, []tlv.Entry, error) {

	b, err := s.read(id)
	if err != nil || b == nil {
		return nil, nil, err
	}

	entries, err := tlv.Decode(b)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "record 0x%04x", id)
	}
	if len(entries) != 1 || entries[0].Type != tlv.TypeObjectInstance {
		return nil, nil, &CorruptError{id}
	}
	oi := entries[0]

	acl, err := model.ParseACL(oi.Children, resACLAccess, resACLOwner)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "record 0x%04x", id)
	}

	if old := st.Instance(oid, oi.ID); old != nil {
		st.DeleteInstance(oid, oi.ID)
	}
	inst, err := st.CreateInstance(oid, oi.ID, acl)
	if err != nil {
		return nil, nil, err
	}

	// Private ids are unknown to the object definition and skipped.
	if err := st.WriteEntries(inst, oi.Children, true); err != nil {
		return nil, nil, err
	}

	return inst, oi.Children, nil
}

// LoadObjects reads every Security and Server record into st.  The returned
// map holds the registration handle of each Server instance.
func (s *Store) LoadObjects(st *model.Store) (map[uint16]RegState, error) {
	regs := map[uint16]RegState{}

	for i := 0; i < MaxSlots; i++ {
		_, _, err := s.loadInstance(SecurityBase+uint16(i), st,
			model.ObjSecurity)
		if err != nil {
			if !IsCorrupt(err) {
				return nil, err
			}
			log.Warnf("dropping security record %d: %s", i, err.Error())
			s.DeleteSecurity(i)
		}
	}

	for i := 0; i < MaxSlots; i++ {
		inst, entries, err := s.loadInstance(ServerBase+uint16(i), st,
			model.ObjServer)
		if err != nil {
			if !IsCorrupt(err) {
				return nil, err
			}
			log.Warnf("dropping server record %d: %s", i, err.Error())
			s.DeleteServer(i)
			continue
		}
		if inst == nil {
			continue
		}

		reg := RegState{}
		if e := tlv.Find(entries, tlv.TypeResourceValue,
			resRegistered); e != nil {

			reg.Registered, _ = e.Bool()
		}
		if e := tlv.Find(entries, tlv.TypeResourceValue,
			resLocation); e != nil {

			reg.Location = e.Text()
		}
		regs[inst.InstanceID] = reg
	}

	return regs, nil
}

/* Observers and notification attributes */

type observerRecord struct {
	Remote string `codec:"remote"`
	Token  []byte `codec:"token"`
	Path   string `codec:"path"`
	Format int    `codec:"fmt"`
	SSID   uint16 `codec:"ssid"`
}

type attrRecord struct {
	Path   string    `codec:"path"`
	SSID   uint16    `codec:"ssid"`
	Values []float64 `codec:"vals"`
	Levels []int     `codec:"lvls"`
}

func (s *Store) SaveObserver(o *observe.Observer) error {
	if o.Slot < 0 || o.Slot >= observe.MaxObservers {
		return fmt.Errorf("observer slot %d out of range", o.Slot)
	}

	b, err := cborEncode(observerRecord{
		Remote: o.Remote,
		Token:  o.Token,
		Path:   o.Path.String(),
		Format: o.Format,
		SSID:   o.SSID,
	})
	if err != nil {
		return err
	}
	return s.write(ObserverBase+uint16(o.Slot), b)
}

func (s *Store) DeleteObserver(slot int) error {
	return s.del(ObserverBase + uint16(slot))
}

func (s *Store) SaveMetadata(m *observe.Metadata) error {
	if m.Slot < 0 || m.Slot >= observe.MaxMetadata {
		return fmt.Errorf("attribute slot %d out of range", m.Slot)
	}

	rec := attrRecord{
		Path: m.Path.String(),
		SSID: m.SSID,
	}
	for a := observe.Attr(0); a < observe.NumAttrs; a++ {
		rec.Values = append(rec.Values, m.Attrs.Values[a])
		rec.Levels = append(rec.Levels, int(m.Attrs.Levels[a]))
	}

	b, err := cborEncode(rec)
	if err != nil {
		return err
	}
	return s.write(AttrBase+uint16(m.Slot), b)
}

func (s *Store) DeleteMetadata(slot int) error {
	return s.del(AttrBase + uint16(slot))
}

// LoadObservers reads stored observers and attribute entries.  Unreadable
// entries are deleted.
func (s *Store) LoadObservers() ([]*observe.Observer, []*observe.Metadata,
	error) {

	var obs []*observe.Observer
	for i := 0; i < observe.MaxObservers; i++ {
		b, err := s.read(ObserverBase + uint16(i))
		if err != nil && !IsCorrupt(err) {
			return nil, nil, err
		}
		if b == nil && err == nil {
			continue
		}

		var rec observerRecord
		var p model.Path
		if err == nil {
			err = cborDecode(b, &rec)
		}
		if err == nil {
			p, err = model.ParsePathString(rec.Path)
		}
		if err != nil {
			log.Warnf("dropping observer record %d: %s", i, err.Error())
			s.DeleteObserver(i)
			continue
		}

		obs = append(obs, &observe.Observer{
			Slot:   i,
			Remote: rec.Remote,
			Token:  rec.Token,
			Path:   p,
			Format: rec.Format,
			SSID:   rec.SSID,
		})
	}

	var metas []*observe.Metadata
	for i := 0; i < observe.MaxMetadata; i++ {
		b, err := s.read(AttrBase + uint16(i))
		if err != nil && !IsCorrupt(err) {
			return nil, nil, err
		}
		if b == nil && err == nil {
			continue
		}

		var rec attrRecord
		var p model.Path
		if err == nil {
			err = cborDecode(b, &rec)
		}
		if err == nil {
			p, err = model.ParsePathString(rec.Path)
		}
		if err == nil && (len(rec.Values) != int(observe.NumAttrs) ||
			len(rec.Levels) != int(observe.NumAttrs)) {

			err = fmt.Errorf("bad attribute count")
		}
		if err != nil {
			log.Warnf("dropping attribute record %d: %s", i, err.Error())
			s.DeleteMetadata(i)
			continue
		}

		m := &observe.Metadata{
			Slot: i,
			Path: p,
			SSID: rec.SSID,
		}
		for a := observe.Attr(0); a < observe.NumAttrs; a++ {
			m.Attrs.Values[a] = rec.Values[a]
			m.Attrs.Levels[a] = observe.Level(rec.Levels[a])
		}
		metas = append(metas, m)
	}

	return obs, metas, nil
}

// ClearObservers deletes every observer and attribute record.
func (s *Store) ClearObservers() error {
	for i := 0; i < observe.MaxObservers; i++ {
		if err := s.DeleteObserver(i); err != nil {
			return err
		}
	}
	for i := 0; i < observe.MaxMetadata; i++ {
		if err := s.DeleteMetadata(i); err != nil {
			return err
		}
	}
	return nil
}

/* Misc data */

type FwUpdateState int

const (
	FwUpdateNone FwUpdateState = iota
	FwUpdateScheduled
	FwUpdateExecuted
)

var fwUpdateStateNameMap = map[FwUpdateState]string{
	FwUpdateNone:      "none",
	FwUpdateScheduled: "scheduled",
	FwUpdateExecuted:  "executed",
}

func (s FwUpdateState) String() string {
	return fwUpdateStateNameMap[s]
}

// Misc is the single record of client-wide flags.
type Misc struct {
	Bootstrapped bool          `codec:"bs"`
	Operator     string        `codec:"op"`
	MSISDN       string        `codec:"msisdn"`
	FwState      FwUpdateState `codec:"fw_state"`
	FwVersion    []byte        `codec:"fw_ver"`
	FwResult     int           `codec:"fw_result"`
}

// LoadMisc returns the misc record, or a zero record if none is stored.
func (s *Store) LoadMisc() (Misc, error) {
	var m Misc

	b, err := s.read(MiscID)
	if err != nil {
		if IsCorrupt(err) {
			log.Warnf("misc record corrupt; using defaults")
			return m, nil
		}
		return m, err
	}
	if b == nil {
		return m, nil
	}

	if err := cborDecode(b, &m); err != nil {
		log.Warnf("misc record unreadable; using defaults: %s", err.Error())
		return Misc{}, nil
	}
	return m, nil
}

func (s *Store) SaveMisc(m Misc) error {
	b, err := cborEncode(m)
	if err != nil {
		return err
	}
	return s.write(MiscID, b)
}

// Wipe deletes every record the client owns.
func (s *Store) Wipe() error {
	for i := 0; i < MaxSlots; i++ {
		if err := s.DeleteSecurity(i); err != nil {
			return err
		}
		if err := s.DeleteServer(i); err != nil {
			return err
		}
	}
	if err := s.ClearObservers(); err != nil {
		return err
	}
	return s.del(MiscID)
}
