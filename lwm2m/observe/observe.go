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

// Package observe tracks server observations and decides when each one is
// due a notification.
package observe

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/runtimeco/go-coap"
	log "github.com/sirupsen/logrus"

	"mynewt.apache.org/lwm2mclient/lwm2m/lwcoap"
	"mynewt.apache.org/lwm2mclient/lwm2m/lwutil"
	"mynewt.apache.org/lwm2mclient/lwm2m/model"
)

const (
	MaxObservers = 16
	MaxMetadata  = 32

	DefaultConInterval = 24 * time.Hour
)

// Observer is one CoAP-level subscription.
type Observer struct {
	Slot   int
	Remote string
	Token  []byte
	Path   model.Path
	Format int
	SSID   uint16
	Seq    uint32

	// Transport the notifications go out on; nil until the owning server
	// has a live session.
	Conn lwcoap.Conn

	force bool
}

func (o *Observer) String() string {
	return fmt.Sprintf("remote=%s token=%s path=%s ssid=%d fmt=%d",
		o.Remote, hex.EncodeToString(o.Token), o.Path, o.SSID, o.Format)
}

type ValueKind int

const (
	KindNoCheck ValueKind = iota
	KindNumeric
	KindOther
)

// Metadata is the notification state of one (path, ssid) observable.  It
// outlives its observers when a server wrote attributes for it.
type Metadata struct {
	Slot  int
	Path  model.Path
	SSID  uint16
	Kind  ValueKind
	Attrs Attributes

	LastNotify time.Duration
	LastCon    time.Duration
	LastValue  float64
	Changed    bool
}

func (m *Metadata) String() string {
	return fmt.Sprintf("path=%s ssid=%d%s changed=%t", m.Path, m.SSID,
		m.Attrs, m.Changed)
}

// Source gives the registry read access to the data model.
type Source interface {
	Exists(p model.Path) bool
	Numeric(p model.Path) (float64, bool)
	ResourceType(p model.Path) model.ResourceType
}

// Persister stores observers and metadata in fixed slots.
type Persister interface {
	SaveObserver(o *Observer) error
	DeleteObserver(slot int) error
	SaveMetadata(m *Metadata) error
	DeleteMetadata(slot int) error
}

// DefaultsFn returns the default pmin / pmax of a server's Server record.
type DefaultsFn func(ssid uint16) (pmin int64, pmax int64)

// NotifyFn sends one notification.  A non-nil error leaves the observable
// due so it is retried on the next tick.
type NotifyFn func(o *Observer, con bool) error

type metaKey struct {
	path model.Path
	ssid uint16
}

type Registry struct {
	ConInterval time.Duration

	clock     lwutil.Clock
	src       Source
	defaults  DefaultsFn
	persister Persister

	observers []*Observer
	meta      map[metaKey]*Metadata
}

func NewRegistry(clock lwutil.Clock, src Source, defaults DefaultsFn,
	persister Persister) *Registry {

	return &Registry{
		ConInterval: DefaultConInterval,
		clock:       clock,
		src:         src,
		defaults:    defaults,
		persister:   persister,
		meta:        map[metaKey]*Metadata{},
	}
}

func (r *Registry) freeObserverSlot() int {
	used := map[int]bool{}
	for _, o := range r.observers {
		used[o.Slot] = true
	}
	for i := 0; i < MaxObservers; i++ {
		if !used[i] {
			return i
		}
	}
	return -1
}

func (r *Registry) freeMetaSlot() int {
	used := map[int]bool{}
	for _, m := range r.meta {
		used[m.Slot] = true
	}
	for i := 0; i < MaxMetadata; i++ {
		if !used[i] {
			return i
		}
	}
	return -1
}

func (r *Registry) saveObserver(o *Observer) {
	if r.persister == nil {
		return
	}
	if err := r.persister.SaveObserver(o); err != nil {
		log.Warnf("failed to store observer %s: %s", o, err.Error())
	}
}

func (r *Registry) deleteObserver(o *Observer) {
	if r.persister == nil {
		return
	}
	if err := r.persister.DeleteObserver(o.Slot); err != nil {
		log.Warnf("failed to delete observer %s: %s", o, err.Error())
	}
}

func (r *Registry) saveMeta(m *Metadata) {
	if r.persister == nil || m.Attrs.Empty() {
		return
	}
	if err := r.persister.SaveMetadata(m); err != nil {
		log.Warnf("failed to store attributes %s: %s", m, err.Error())
	}
}

func (r *Registry) deleteMeta(m *Metadata) {
	if r.persister == nil {
		return
	}
	if err := r.persister.DeleteMetadata(m.Slot); err != nil {
		log.Warnf("failed to delete attributes %s: %s", m, err.Error())
	}
}

func (r *Registry) valueKind(p model.Path) ValueKind {
	if p.Len < 3 {
		return KindNoCheck
	}
	if r.src.ResourceType(p).Numeric() {
		return KindNumeric
	}
	return KindOther
}

func (r *Registry) current(m *Metadata) (float64, bool) {
	if m.Kind != KindNumeric {
		return 0, false
	}
	return r.src.Numeric(m.Path)
}

func (r *Registry) ensureMeta(p model.Path, ssid uint16) (*Metadata, error) {
	key := metaKey{p, ssid}
	if m := r.meta[key]; m != nil {
		return m, nil
	}

	slot := r.freeMetaSlot()
	if slot < 0 {
		return nil, lwutil.NewCoapError(coap.ServiceUnavailable,
			"observable table full")
	}

	m := &Metadata{
		Slot: slot,
		Path: p,
		SSID: ssid,
		Kind: r.valueKind(p),
	}
	r.meta[key] = m
	return m, nil
}

// Add registers an observation.  A repeated registration with the same
// remote and token replaces the earlier one.
func (r *Registry) Add(remote string, conn lwcoap.Conn, token []byte,
	p model.Path, format int, ssid uint16) (*Observer, error) {

	if !r.src.Exists(p) {
		return nil, lwutil.FmtCoapError(coap.NotFound,
			"cannot observe %s", p.String())
	}

	if old := r.Find(remote, token); old != nil {
		r.remove(old)
	}

	slot := r.freeObserverSlot()
	if slot < 0 {
		return nil, lwutil.NewCoapError(coap.ServiceUnavailable,
			"observer table full")
	}

	m, err := r.ensureMeta(p, ssid)
	if err != nil {
		return nil, err
	}

	now := r.clock.Uptime()
	m.LastNotify = now
	m.LastCon = now
	m.Changed = false
	if v, ok := r.current(m); ok {
		m.LastValue = v
	}

	o := &Observer{
		Slot:   slot,
		Remote: remote,
		Token:  append([]byte(nil), token...),
		Path:   p,
		Format: format,
		SSID:   ssid,
		Conn:   conn,
	}
	r.observers = append(r.observers, o)
	r.saveObserver(o)

	log.Debugf("observer added: %s", o)
	return o, nil
}

func (r *Registry) Find(remote string, token []byte) *Observer {
	for _, o := range r.observers {
		if o.Remote == remote && bytes.Equal(o.Token, token) {
			return o
		}
	}
	return nil
}

func (r *Registry) referenced(p model.Path, ssid uint16) bool {
	for _, o := range r.observers {
		if o.Path == p && o.SSID == ssid {
			return true
		}
	}
	return false
}

func (r *Registry) remove(o *Observer) {
	for i, cur := range r.observers {
		if cur == o {
			r.observers = append(r.observers[:i], r.observers[i+1:]...)
			break
		}
	}
	r.deleteObserver(o)

	key := metaKey{o.Path, o.SSID}
	if m := r.meta[key]; m != nil && m.Attrs.Empty() &&
		!r.referenced(o.Path, o.SSID) {

		delete(r.meta, key)
	}

	log.Debugf("observer removed: %s", o)
}

// Cancel removes the observation identified by remote and token.  Used for
// Observe=1, RST replies and error responses to notifications.
func (r *Registry) Cancel(remote string, token []byte) bool {
	o := r.Find(remote, token)
	if o == nil {
		return false
	}
	r.remove(o)
	return true
}

// CancelPath removes the observation of p by remote, if any.
func (r *Registry) CancelPath(remote string, p model.Path) bool {
	for _, o := range r.observers {
		if o.Remote == remote && o.Path == p {
			r.remove(o)
			return true
		}
	}
	return false
}

// RemoveRemote removes every observation belonging to remote and returns
// how many were removed.
func (r *Registry) RemoveRemote(remote string) int {
	var victims []*Observer
	for _, o := range r.observers {
		if o.Remote == remote {
			victims = append(victims, o)
		}
	}
	for _, o := range victims {
		r.remove(o)
	}
	return len(victims)
}

// Rebind points every observation of remote at a new transport and forces
// a notification on the next tick.
func (r *Registry) Rebind(remote string, conn lwcoap.Conn) int {
	n := 0
	for _, o := range r.observers {
		if o.Remote == remote {
			o.Conn = conn
			o.force = conn != nil
			n++
		}
	}
	return n
}

// Clear drops every observer and every observable along with their stored
// copies.
func (r *Registry) Clear() {
	for _, o := range r.observers {
		r.deleteObserver(o)
	}
	for _, m := range r.meta {
		r.deleteMeta(m)
	}
	r.observers = nil
	r.meta = map[metaKey]*Metadata{}
}

// Restore installs observers and metadata loaded from storage.  Observers
// stay unbound until Rebind is called for their remote.
func (r *Registry) Restore(obs []*Observer, metas []*Metadata) {
	for _, m := range metas {
		m.Kind = r.valueKind(m.Path)
		r.meta[metaKey{m.Path, m.SSID}] = m
	}

	now := r.clock.Uptime()
	for _, o := range obs {
		o.Conn = nil
		m := r.meta[metaKey{o.Path, o.SSID}]
		if m == nil {
			m = &Metadata{
				Slot: r.freeMetaSlot(),
				Path: o.Path,
				SSID: o.SSID,
				Kind: r.valueKind(o.Path),
			}
			if m.Slot < 0 {
				continue
			}
			r.meta[metaKey{o.Path, o.SSID}] = m
		}
		m.LastNotify = now
		m.LastCon = now
		if v, ok := r.current(m); ok {
			m.LastValue = v
		}
		r.observers = append(r.observers, o)
	}
}

// ValueChanged marks the observables of p and of its enclosing instance
// and object as changed.
func (r *Registry) ValueChanged(p model.Path) {
	for q := p; q.Len > 0; q = q.Parent() {
		for _, m := range r.meta {
			if m.Path == q {
				m.Changed = true
			}
		}
	}
}

// Effective returns the attributes governing an observation: attributes
// written at the path beat those of its instance, which beat those of its
// object.  Unset pmin / pmax come from the server's defaults.
func (r *Registry) Effective(p model.Path, ssid uint16) Attributes {
	var as Attributes

	for q := p; q.Len > 0; q = q.Parent() {
		if m := r.meta[metaKey{q, ssid}]; m != nil {
			as.Merge(&m.Attrs)
		}
	}

	if r.defaults != nil {
		pmin, pmax := r.defaults(ssid)
		if !as.IsSet(AttrPmin) && pmin > 0 {
			as.Values[AttrPmin] = float64(pmin)
		}
		if !as.IsSet(AttrPmax) && pmax > 0 {
			as.Values[AttrPmax] = float64(pmax)
		}
	}

	return as
}

// WriteAttributes applies Write-Attributes query parameters for ssid at p.
func (r *Registry) WriteAttributes(p model.Path, ssid uint16,
	queries []string) error {

	if p.Len == 0 || p.Len > 3 || !r.src.Exists(p) {
		return lwutil.FmtCoapError(coap.NotFound,
			"cannot write attributes of %s", p.String())
	}

	ups, err := ParseAttrQueries(queries)
	if err != nil {
		return lwutil.NewCoapError(coap.BadRequest, err.Error())
	}

	m, err := r.ensureMeta(p, ssid)
	if err != nil {
		return err
	}

	as := m.Attrs
	lvl := Level(p.Len)
	for _, u := range ups {
		if u.Clear {
			as.Unset(u.Attr)
			continue
		}
		if u.Attr >= AttrGt && m.Kind != KindNumeric {
			r.dropIfUnused(m)
			return lwutil.FmtCoapError(coap.BadRequest,
				"%s requires a numeric resource", u.Attr)
		}
		as.Set(u.Attr, u.Value, lvl)
	}

	gt, hasGt := as.Get(AttrGt)
	lt, hasLt := as.Get(AttrLt)
	if hasGt && hasLt && lt >= gt {
		r.dropIfUnused(m)
		return lwutil.NewCoapError(coap.BadRequest, "lt must be below gt")
	}

	m.Attrs = as
	if as.Empty() {
		r.deleteMeta(m)
		r.dropIfUnused(m)
	} else {
		r.saveMeta(m)
	}

	log.Debugf("attributes written: %s", m)
	return nil
}

func (r *Registry) dropIfUnused(m *Metadata) {
	if m.Attrs.Empty() && !r.referenced(m.Path, m.SSID) {
		delete(r.meta, metaKey{m.Path, m.SSID})
	}
}

// AttrString returns the attributes written for (p, ssid) in link-format
// parameter form.
func (r *Registry) AttrString(p model.Path, ssid uint16) string {
	if m := r.meta[metaKey{p, ssid}]; m != nil {
		return m.Attrs.String()
	}
	return ""
}

// Due decides whether an observable with attributes as must be notified at
// now.
func Due(m *Metadata, as *Attributes, now time.Duration, cur float64,
	haveCur bool) bool {

	elapsed := now - m.LastNotify

	pmax := time.Duration(as.Values[AttrPmax]) * time.Second
	if pmax > 0 && elapsed >= pmax {
		return true
	}

	pmin := time.Duration(as.Values[AttrPmin]) * time.Second
	if elapsed < pmin || !m.Changed {
		return false
	}

	if m.Kind != KindNumeric || !haveCur || !as.hasThresholds() {
		return true
	}

	v0 := m.LastValue
	v := cur

	if gt, ok := as.Get(AttrGt); ok {
		if (v0 <= gt && gt < v) || (v < gt && gt <= v0) {
			return true
		}
	}
	if lt, ok := as.Get(AttrLt); ok {
		if (v0 >= lt && lt > v) || (v > lt && lt >= v0) {
			return true
		}
	}
	if st, ok := as.Get(AttrSt); ok {
		d := v - v0
		if d < 0 {
			d = -d
		}
		if d >= st {
			return true
		}
	}

	return false
}

// Tick sends every due notification.  ready reports whether a server may
// currently receive notifications.
func (r *Registry) Tick(ready func(ssid uint16) bool, send NotifyFn) {
	now := r.clock.Uptime()

	// Copy; send may cancel observers.
	obs := append([]*Observer(nil), r.observers...)
	sent := map[*Metadata]bool{}

	for _, o := range obs {
		if o.Conn == nil || (ready != nil && !ready(o.SSID)) {
			continue
		}

		m := r.meta[metaKey{o.Path, o.SSID}]
		if m == nil {
			continue
		}

		as := r.Effective(o.Path, o.SSID)
		cur, haveCur := r.current(m)

		if !o.force && !sent[m] && !Due(m, &as, now, cur, haveCur) {
			continue
		}

		con := now-m.LastCon >= r.ConInterval
		o.Seq++
		if err := send(o, con); err != nil {
			log.Debugf("notification failed: %s: %s", o, err.Error())
			continue
		}

		o.force = false
		sent[m] = true
		m.LastNotify = now
		if con {
			m.LastCon = now
		}
		if haveCur {
			m.LastValue = cur
		}
		m.Changed = false
	}
}

// Observers returns a copy of the current observers.
func (r *Registry) Observers() []Observer {
	out := make([]Observer, 0, len(r.observers))
	for _, o := range r.observers {
		out = append(out, *o)
	}
	return out
}

// Metadata returns the observable state for (p, ssid), or nil.
func (r *Registry) Metadata(p model.Path, ssid uint16) *Metadata {
	return r.meta[metaKey{p, ssid}]
}

func (r *Registry) NumMetadata() int {
	return len(r.meta)
}
