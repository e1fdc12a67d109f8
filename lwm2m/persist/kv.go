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

package persist

import (
	"encoding/binary"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.etcd.io/bbolt"
)

// KV stores byte blobs under numeric record ids.  Each write is atomic.
type KV interface {
	Read(id uint16) ([]byte, error)
	Write(id uint16, data []byte) error
	Delete(id uint16) error
}

// Returned by KV.Read for an id that holds no record.
type NotFoundError struct {
	ID uint16
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no record with id 0x%04x", e.ID)
}

func IsNotFound(err error) bool {
	_, ok := errors.Cause(err).(*NotFoundError)
	return ok
}

// MemKV is an in-memory KV.  WriteHook, if set, runs before every write and
// can fail it.
type MemKV struct {
	WriteHook func(id uint16) error

	mtx    sync.Mutex
	recs   map[uint16][]byte
	writes []uint16
}

func NewMemKV() *MemKV {
	return &MemKV{
		recs: map[uint16][]byte{},
	}
}

func (m *MemKV) Read(id uint16) ([]byte, error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	b, ok := m.recs[id]
	if !ok {
		return nil, &NotFoundError{id}
	}
	return append([]byte(nil), b...), nil
}

func (m *MemKV) Write(id uint16, data []byte) error {
	if m.WriteHook != nil {
		if err := m.WriteHook(id); err != nil {
			return err
		}
	}

	m.mtx.Lock()
	defer m.mtx.Unlock()

	m.recs[id] = append([]byte(nil), data...)
	m.writes = append(m.writes, id)
	return nil
}

func (m *MemKV) Delete(id uint16) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	delete(m.recs, id)
	return nil
}

// Writes returns the ids written so far, in order.
func (m *MemKV) Writes() []uint16 {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	return append([]uint16(nil), m.writes...)
}

// IDs returns the ids currently holding a record.
func (m *MemKV) IDs() []uint16 {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	ids := make([]uint16, 0, len(m.recs))
	for id := range m.recs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Raw returns the stored bytes of a record, or nil.
func (m *MemKV) Raw(id uint16) []byte {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	return m.recs[id]
}

var recordBucket = []byte("records")

// BoltKV keeps records in a bbolt database file.
type BoltKV struct {
	db *bbolt.DB
}

func OpenBoltKV(path string) (*BoltKV, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open record store %s", path)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(recordBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to create record bucket")
	}

	return &BoltKV{db: db}, nil
}

// DB exposes the underlying database so other stores can share the file.
func (b *BoltKV) DB() *bbolt.DB {
	return b.db
}

func (b *BoltKV) Close() error {
	return b.db.Close()
}

func recordKey(id uint16) []byte {
	k := make([]byte, 2)
	binary.BigEndian.PutUint16(k, id)
	return k
}

func (b *BoltKV) Read(id uint16) ([]byte, error) {
	var data []byte

	err := b.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(recordBucket).Get(recordKey(id))
		if v == nil {
			return &NotFoundError{id}
		}
		data = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return data, nil
}

func (b *BoltKV) Write(id uint16, data []byte) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(recordBucket).Put(recordKey(id), data)
	})
}

func (b *BoltKV) Delete(id uint16) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(recordBucket).Delete(recordKey(id))
	})
}
