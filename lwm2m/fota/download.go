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
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"mynewt.apache.org/lwm2mclient/lwm2m/lwutil"
	"mynewt.apache.org/lwm2mclient/lwm2m/task"
)

const DefaultFragSize = 1024

// Update Result values of the firmware object.
type Result int

const (
	ResultInitial             Result = 0
	ResultSuccess             Result = 1
	ResultNoSpace             Result = 2
	ResultOutOfMemory         Result = 3
	ResultConnLost            Result = 4
	ResultIntegrity           Result = 5
	ResultUnsupportedType     Result = 6
	ResultInvalidURI          Result = 7
	ResultFailed              Result = 8
	ResultUnsupportedProtocol Result = 9
)

var resultNameMap = map[Result]string{
	ResultInitial:             "initial",
	ResultSuccess:             "success",
	ResultNoSpace:             "no_space",
	ResultOutOfMemory:         "out_of_memory",
	ResultConnLost:            "connection_lost",
	ResultIntegrity:           "integrity_failure",
	ResultUnsupportedType:     "unsupported_type",
	ResultInvalidURI:          "invalid_uri",
	ResultFailed:              "update_failed",
	ResultUnsupportedProtocol: "unsupported_protocol",
}

func (r Result) String() string {
	s := resultNameMap[r]
	if s == "" {
		return "???"
	}
	return s
}

// DownloadError carries the Update Result a failed download reports.
type DownloadError struct {
	Result Result
	Text   string
}

func (e *DownloadError) Error() string {
	return e.Text
}

func fmtDownloadError(r Result, format string,
	args ...interface{}) *DownloadError {

	return &DownloadError{
		Result: r,
		Text:   fmt.Sprintf(format, args...),
	}
}

// Indicates that an image does not fit the DFU area.
type NoSpaceError struct {
	Size int64
	Max  int64
}

func (e *NoSpaceError) Error() string {
	return fmt.Sprintf("image too large; size=%d max=%d", e.Size, e.Max)
}

// ResultFor maps a download or DFU error to the Update Result value.
func ResultFor(err error) Result {
	if err == nil {
		return ResultSuccess
	}

	switch e := errors.Cause(err).(type) {
	case *DownloadError:
		return e.Result
	case *NoSpaceError:
		return ResultNoSpace
	}

	switch lwutil.KindOf(err) {
	case lwutil.KindFirmwareIntegrity:
		return ResultIntegrity
	default:
		return ResultConnLost
	}
}

// CheckURI validates a Package URI.
func CheckURI(uri string) (*url.URL, error) {
	u, err := url.Parse(uri)
	if err != nil || u.Host == "" {
		return nil, fmtDownloadError(ResultInvalidURI,
			"invalid package URI \"%s\"", uri)
	}

	switch u.Scheme {
	case "http", "https":
		return u, nil
	default:
		return nil, fmtDownloadError(ResultUnsupportedProtocol,
			"unsupported package URI scheme \"%s\"", u.Scheme)
	}
}

// Progress reports the number of bytes received so far; total is negative
// when the server did not announce a length.
type Progress func(done int64, total int64)

// Downloader fetches firmware images over HTTP(S) on a task queue and
// streams them into a DFU sink in fixed-size fragments.
type Downloader struct {
	Client   *http.Client
	FragSize int

	q *task.TaskQueue

	mtx    sync.Mutex
	cancel context.CancelFunc
}

func NewDownloader(q *task.TaskQueue) *Downloader {
	return &Downloader{
		Client: &http.Client{
			Timeout: 10 * time.Minute,
		},
		FragSize: DefaultFragSize,
		q:        q,
	}
}

// Start queues a download.  done is called exactly once, on the task
// queue's goroutine, with the outcome.
func (d *Downloader) Start(uri string, dfu DFU, progress Progress,
	done func(err error)) error {

	if _, err := CheckURI(uri); err != nil {
		return err
	}

	_, err := d.q.TryEnqueue("fw-download", func(ctx context.Context) error {
		ctx, cancel := context.WithCancel(ctx)

		d.mtx.Lock()
		d.cancel = cancel
		d.mtx.Unlock()

		err := d.fetch(ctx, uri, dfu, progress)

		d.mtx.Lock()
		d.cancel = nil
		d.mtx.Unlock()
		cancel()

		if err != nil {
			dfu.Abort()
		}
		done(err)
		return err
	})
	if err != nil {
		return errors.Wrap(err, "failed to queue firmware download")
	}

	return nil
}

// Cancel aborts the running download, if any.
func (d *Downloader) Cancel() {
	d.mtx.Lock()
	defer d.mtx.Unlock()

	if d.cancel != nil {
		d.cancel()
	}
}

func (d *Downloader) fetch(ctx context.Context, uri string, dfu DFU,
	progress Progress) error {

	req, err := http.NewRequest("GET", uri, nil)
	if err != nil {
		return fmtDownloadError(ResultInvalidURI, "%s", err.Error())
	}
	req = req.WithContext(ctx)

	log.Infof("downloading firmware from %s", uri)
	rsp, err := d.Client.Do(req)
	if err != nil {
		return fmtDownloadError(ResultConnLost, "download failed: %s",
			err.Error())
	}
	defer rsp.Body.Close()

	switch {
	case rsp.StatusCode == http.StatusNotFound:
		return fmtDownloadError(ResultInvalidURI, "no image at %s", uri)
	case rsp.StatusCode != http.StatusOK:
		return fmtDownloadError(ResultConnLost,
			"unexpected HTTP status %d", rsp.StatusCode)
	}

	total := rsp.ContentLength
	if err := dfu.Begin(total); err != nil {
		return err
	}

	fragSize := d.FragSize
	if fragSize <= 0 {
		fragSize = DefaultFragSize
	}
	buf := make([]byte, fragSize)

	var got int64
	for {
		n, rerr := io.ReadFull(rsp.Body, buf)
		if n > 0 {
			if err := dfu.Write(buf[:n]); err != nil {
				if _, ok := errors.Cause(err).(*NoSpaceError); ok {
					return err
				}
				return lwutil.NewError(lwutil.KindFirmwareIntegrity,
					"fragment rejected: "+err.Error())
			}
			got += int64(n)
			if progress != nil {
				progress(got, total)
			}
		}

		if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
			break
		}
		if rerr != nil {
			return fmtDownloadError(ResultConnLost,
				"download interrupted after %d bytes: %s", got, rerr.Error())
		}
	}

	if total >= 0 && got != total {
		return fmtDownloadError(ResultConnLost,
			"download truncated; have=%d want=%d", got, total)
	}

	log.Infof("firmware download complete (%d bytes)", got)
	return nil
}
