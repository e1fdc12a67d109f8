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

package task

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunSerial(t *testing.T) {
	q := NewTaskQueue("test")
	require.NoError(t, q.Start(4))
	defer q.Stop(fmt.Errorf("done"))

	var order []int
	for i := 0; i < 3; i++ {
		i := i
		err := q.Run("job", func(ctx context.Context) error {
			order = append(order, i)
			return nil
		})
		require.NoError(t, err)
	}
	assert.Equal(t, []int{0, 1, 2}, order)

	err := q.Run("fail", func(ctx context.Context) error {
		return fmt.Errorf("nope")
	})
	assert.EqualError(t, err, "nope")
}

func TestInactive(t *testing.T) {
	q := NewTaskQueue("idle")
	err := q.Run("job", func(ctx context.Context) error { return nil })
	assert.Equal(t, InactiveError, err)

	_, err = q.TryEnqueue("job", func(ctx context.Context) error { return nil })
	assert.Equal(t, InactiveError, err)
}

func TestStopCancelsRunningJob(t *testing.T) {
	q := NewTaskQueue("cancel")
	require.NoError(t, q.Start(1))

	started := make(chan struct{})
	ch := q.Enqueue("block", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	<-started

	require.NoError(t, q.Stop(fmt.Errorf("stopped")))
	assert.Equal(t, context.Canceled, <-ch)
	assert.False(t, q.Active())
	assert.Error(t, q.Stop(nil))
}
