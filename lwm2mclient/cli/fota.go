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
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/cheggaaa/pb.v1"

	"mynewt.apache.org/lwm2mclient/lwm2m/fota"
	"mynewt.apache.org/lwm2mclient/lwm2m/task"
	"mynewt.apache.org/newt/util"
)

// barProgress feeds download progress into a progress bar, creating it
// once the size is known.
type barProgress struct {
	bar *pb.ProgressBar
}

func (bp *barProgress) update(done int64, total int64) {
	if bp.bar == nil {
		if total < 0 {
			total = 0
		}
		bp.bar = pb.New64(total)
		bp.bar.SetUnits(pb.U_BYTES)
		bp.bar.ShowSpeed = true
		bp.bar.Start()
	}
	bp.bar.Set64(done)
}

func (bp *barProgress) finish() {
	if bp.bar != nil {
		bp.bar.Finish()
	}
}

// downloadImage fetches uri into dfu and verifies the result.
func downloadImage(uri string, dfu fota.DFU) error {
	q := task.NewTaskQueue("fota")
	if err := q.Start(1); err != nil {
		return err
	}
	defer q.StopNoWait(nil)

	bp := &barProgress{}
	doneCh := make(chan error, 1)

	dl := fota.NewDownloader(q)
	err := dl.Start(uri, dfu, bp.update, func(err error) {
		doneCh <- err
	})
	if err != nil {
		return err
	}

	err = <-doneCh
	bp.finish()
	if err != nil {
		return err
	}

	return dfu.Verify()
}

func fotaDownloadCmd(cmd *cobra.Command, args []string) {
	if len(args) < 2 {
		clUsage(cmd, nil)
	}

	uri := args[0]
	path := args[1]

	if _, err := fota.CheckURI(uri); err != nil {
		clUsage(cmd, util.ChildNewtError(err))
	}

	if err := downloadImage(uri, fota.NewFileDFU(path)); err != nil {
		clUsage(nil, util.ChildNewtError(err))
	}

	fmt.Printf("Done; image stored at %s\n", path)
}

func fotaCmd() *cobra.Command {
	fotaCmd := &cobra.Command{
		Use:   "fota",
		Short: "Manage firmware images",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.HelpFunc()(cmd, args)
		},
	}

	downloadCmd := &cobra.Command{
		Use:     "download <package-uri> <file>",
		Short:   "Download a firmware package into a file",
		Example: "  lwm2mclient fota download https://fw.example.com/mfw.bin fw.bin",
		Run:     fotaDownloadCmd,
	}
	fotaCmd.AddCommand(downloadCmd)

	return fotaCmd
}
