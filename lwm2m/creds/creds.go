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

// Package creds holds DTLS PSK credentials addressed by security tag.
package creds

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"go.etcd.io/bbolt"
)

// Credentials of server slot i live at SecTagBase + i.
const SecTagBase uint32 = 25

func SecTag(slot int) uint32 {
	return SecTagBase + uint32(slot)
}

type Store interface {
	WriteIdentity(tag uint32, identity []byte) error
	WritePSK(tag uint32, psk []byte) error
	IdentityExists(tag uint32) (bool, error)
	PSKExists(tag uint32) (bool, error)
	Read(tag uint32) (identity []byte, psk []byte, err error)
	Delete(tag uint32) error
}

type NotFoundError struct {
	Tag uint32
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no credentials at sec_tag %d", e.Tag)
}

func IsNotFound(err error) bool {
	_, ok := errors.Cause(err).(*NotFoundError)
	return ok
}

// Zero overwrites secret material in place.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

type entry struct {
	identity []byte
	psk      []byte
}

// MemStore keeps credentials in memory.  WriteGuard, if set, runs before
// every write and can refuse it.
type MemStore struct {
	WriteGuard func(tag uint32) error

	mtx     sync.Mutex
	entries map[uint32]*entry
	writes  []uint32
}

func NewMemStore() *MemStore {
	return &MemStore{
		entries: map[uint32]*entry{},
	}
}

func (m *MemStore) get(tag uint32) *entry {
	e := m.entries[tag]
	if e == nil {
		e = &entry{}
		m.entries[tag] = e
	}
	return e
}

func (m *MemStore) guard(tag uint32) error {
	if m.WriteGuard != nil {
		return m.WriteGuard(tag)
	}
	return nil
}

func (m *MemStore) WriteIdentity(tag uint32, identity []byte) error {
	if err := m.guard(tag); err != nil {
		return err
	}

	m.mtx.Lock()
	defer m.mtx.Unlock()

	m.get(tag).identity = append([]byte(nil), identity...)
	m.writes = append(m.writes, tag)
	return nil
}

func (m *MemStore) WritePSK(tag uint32, psk []byte) error {
	if err := m.guard(tag); err != nil {
		return err
	}

	m.mtx.Lock()
	defer m.mtx.Unlock()

	m.get(tag).psk = append([]byte(nil), psk...)
	m.writes = append(m.writes, tag)
	return nil
}

func (m *MemStore) IdentityExists(tag uint32) (bool, error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	e := m.entries[tag]
	return e != nil && len(e.identity) > 0, nil
}

func (m *MemStore) PSKExists(tag uint32) (bool, error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	e := m.entries[tag]
	return e != nil && len(e.psk) > 0, nil
}

func (m *MemStore) Read(tag uint32) ([]byte, []byte, error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	e := m.entries[tag]
	if e == nil || len(e.psk) == 0 {
		return nil, nil, &NotFoundError{tag}
	}
	return append([]byte(nil), e.identity...),
		append([]byte(nil), e.psk...), nil
}

func (m *MemStore) Delete(tag uint32) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	delete(m.entries, tag)
	return nil
}

// Writes returns the tags written so far, one per identity or PSK write.
func (m *MemStore) Writes() []uint32 {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	return append([]uint32(nil), m.writes...)
}

var (
	identityBucket = []byte("cred-identity")
	pskBucket      = []byte("cred-psk")
)

// BoltStore keeps credentials in their own buckets of a bbolt database.
type BoltStore struct {
	db *bbolt.DB
}

func NewBoltStore(db *bbolt.DB) (*BoltStore, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(identityBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(pskBucket)
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create credential buckets")
	}

	return &BoltStore{db: db}, nil
}

func tagKey(tag uint32) []byte {
	k := make([]byte, 4)
	binary.BigEndian.PutUint32(k, tag)
	return k
}

func (b *BoltStore) put(bucket []byte, tag uint32, val []byte) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucket).Put(tagKey(tag), val)
	})
}

func (b *BoltStore) exists(bucket []byte, tag uint32) (bool, error) {
	found := false
	err := b.db.View(func(tx *bbolt.Tx) error {
		found = tx.Bucket(bucket).Get(tagKey(tag)) != nil
		return nil
	})
	return found, err
}

func (b *BoltStore) WriteIdentity(tag uint32, identity []byte) error {
	return b.put(identityBucket, tag, identity)
}

func (b *BoltStore) WritePSK(tag uint32, psk []byte) error {
	return b.put(pskBucket, tag, psk)
}

func (b *BoltStore) IdentityExists(tag uint32) (bool, error) {
	return b.exists(identityBucket, tag)
}

func (b *BoltStore) PSKExists(tag uint32) (bool, error) {
	return b.exists(pskBucket, tag)
}

func (b *BoltStore) Read(tag uint32) ([]byte, []byte, error) {
	var identity, psk []byte

	err := b.db.View(func(tx *bbolt.Tx) error {
		if v := tx.Bucket(identityBucket).Get(tagKey(tag)); v != nil {
			identity = append([]byte(nil), v...)
		}
		if v := tx.Bucket(pskBucket).Get(tagKey(tag)); v != nil {
			psk = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	if psk == nil {
		return nil, nil, &NotFoundError{tag}
	}

	return identity, psk, nil
}

func (b *BoltStore) Delete(tag uint32) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(identityBucket).Delete(tagKey(tag)); err != nil {
			return err
		}
		return tx.Bucket(pskBucket).Delete(tagKey(tag))
	})
}
