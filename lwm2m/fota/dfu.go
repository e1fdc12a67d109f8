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

package fota

import (
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// DFU is the sink a firmware image is streamed into.
type DFU interface {
	// Begin prepares for an image of the given size; a negative size means
	// unknown.
	Begin(size int64) error
	Write(frag []byte) error

	// Verify checks the integrity of the complete image.
	Verify() error

	// Schedule marks the verified image to be applied on the next boot.
	Schedule() error

	Abort() error
}

// VersionUUID derives the stable identifier stored for a modem firmware
// version string.
func VersionUUID(version string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(version))
}

// FileDFU stages the image in a file next to its final path.
type FileDFU struct {
	Path    string
	MaxSize int64

	f       *os.File
	size    int64
	written int64
}

func NewFileDFU(path string) *FileDFU {
	return &FileDFU{
		Path: path,
	}
}

func (d *FileDFU) partPath() string {
	return d.Path + ".part"
}

func (d *FileDFU) Begin(size int64) error {
	if d.MaxSize > 0 && size > d.MaxSize {
		return &NoSpaceError{Size: size, Max: d.MaxSize}
	}

	if d.f != nil {
		d.f.Close()
	}

	f, err := os.Create(d.partPath())
	if err != nil {
		return errors.Wrap(err, "failed to create image file")
	}

	d.f = f
	d.size = size
	d.written = 0
	return nil
}

func (d *FileDFU) Write(frag []byte) error {
	if d.f == nil {
		return fmt.Errorf("no image in progress")
	}
	if d.MaxSize > 0 && d.written+int64(len(frag)) > d.MaxSize {
		return &NoSpaceError{Size: d.written + int64(len(frag)),
			Max: d.MaxSize}
	}

	n, err := d.f.Write(frag)
	d.written += int64(n)
	if err != nil {
		return errors.Wrap(err, "image write failed")
	}
	return nil
}

func (d *FileDFU) Verify() error {
	if d.f == nil {
		return fmt.Errorf("no image in progress")
	}
	if d.written == 0 {
		return fmt.Errorf("empty image")
	}
	if d.size >= 0 && d.written != d.size {
		return fmt.Errorf("image truncated; have=%d want=%d",
			d.written, d.size)
	}
	return d.f.Sync()
}

func (d *FileDFU) Schedule() error {
	if d.f == nil {
		return fmt.Errorf("no image in progress")
	}

	d.f.Close()
	d.f = nil

	if err := os.Rename(d.partPath(), d.Path); err != nil {
		return errors.Wrap(err, "failed to install image")
	}

	log.Infof("firmware image staged at %s (%d bytes)", d.Path, d.written)
	return nil
}

func (d *FileDFU) Abort() error {
	if d.f != nil {
		d.f.Close()
		d.f = nil
	}
	if err := os.Remove(d.partPath()); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// MemDFU collects the image in memory.
type MemDFU struct {
	MaxSize int64

	// Fails Verify when set.
	Corrupt bool

	mtx       sync.Mutex
	data      []byte
	scheduled bool
	aborted   bool
}

func (d *MemDFU) Begin(size int64) error {
	d.mtx.Lock()
	defer d.mtx.Unlock()

	if d.MaxSize > 0 && size > d.MaxSize {
		return &NoSpaceError{Size: size, Max: d.MaxSize}
	}
	d.data = nil
	d.scheduled = false
	d.aborted = false
	return nil
}

func (d *MemDFU) Write(frag []byte) error {
	d.mtx.Lock()
	defer d.mtx.Unlock()

	d.data = append(d.data, frag...)
	return nil
}

func (d *MemDFU) Verify() error {
	d.mtx.Lock()
	defer d.mtx.Unlock()

	if d.Corrupt || len(d.data) == 0 {
		return fmt.Errorf("image rejected")
	}
	return nil
}

func (d *MemDFU) Schedule() error {
	d.mtx.Lock()
	defer d.mtx.Unlock()

	d.scheduled = true
	return nil
}

func (d *MemDFU) Abort() error {
	d.mtx.Lock()
	defer d.mtx.Unlock()

	d.data = nil
	d.aborted = true
	return nil
}

func (d *MemDFU) Data() []byte {
	d.mtx.Lock()
	defer d.mtx.Unlock()

	return append([]byte(nil), d.data...)
}

func (d *MemDFU) Scheduled() bool {
	d.mtx.Lock()
	defer d.mtx.Unlock()

	return d.scheduled
}
