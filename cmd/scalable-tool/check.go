// Copyright 2023 Matrix Origin
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/matrixorigin/scalable/pkg/common/moerr"
	"github.com/matrixorigin/scalable/pkg/objstore"
	"github.com/matrixorigin/scalable/pkg/scalable"
	"github.com/matrixorigin/scalable/pkg/txn/client"
	"github.com/spf13/cobra"
)

func checkCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check <map-id>",
		Short: "Verify the structure of a stored map",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return moerr.NewInvalidArgNoCtx("map-id", args[0])
			}
			e, err := newEnv(cmd)
			if err != nil {
				return err
			}
			defer func() {
				_ = e.close()
			}()

			m := scalable.Open(objstore.ID(id), e.mapOptions()...)
			var n int64
			if err := e.run(cmd.Context(), func(ctx context.Context, op client.TxnOperator) error {
				if err := m.Check(ctx, op); err != nil {
					return err
				}
				n, err = m.Len(ctx, op)
				return err
			}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "map %d ok, %d entries\n", id, n)
			return nil
		},
	}
}
