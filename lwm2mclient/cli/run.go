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
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"mynewt.apache.org/newt/util"
)

// runInstance runs a client until ctx ends or the client shuts down.
// extra, if not nil, runs alongside the client and stops it on return.
func runInstance(ctx context.Context, in *instance,
	extra func(ctx context.Context) error) error {

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := in.c.Run(ctx)
		cancel()
		if err == context.Canceled {
			return nil
		}
		return err
	})

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case ev := <-in.events:
				fmt.Printf("%s\n", eventColor(ev))
			}
		}
	})

	g.Go(func() error {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigCh)

		select {
		case <-ctx.Done():
		case s := <-sigCh:
			log.Infof("received %s; stopping", s)
			cancel()
		}
		return nil
	})

	if extra != nil {
		g.Go(func() error {
			defer cancel()
			return extra(ctx)
		})
	}

	return g.Wait()
}

func runRunCmd(cmd *cobra.Command, args []string) {
	in, err := buildClient()
	if err != nil {
		clUsage(nil, err)
	}
	defer in.Close()

	fmt.Printf("endpoint: %s (%s)\n", in.c.Endpoint(), in.c.Carrier())

	if err := runInstance(context.Background(), in, nil); err != nil {
		clUsage(nil, util.ChildNewtError(err))
	}

	fmt.Printf("client stopped in state %s\n", in.c.State())
}

func runCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the client until interrupted",
		Run:   runRunCmd,
	}

	return runCmd
}
