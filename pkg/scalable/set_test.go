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

package scalable

import (
	"context"
	"testing"

	"github.com/matrixorigin/scalable/pkg/objstore"
	"github.com/matrixorigin/scalable/pkg/txn/client"
	. "github.com/smartystreets/goconvey/convey"
)

func TestSet(t *testing.T) {
	Convey("Given a set with small leaves", t, func() {
		ctx := context.Background()
		c := client.NewTxnClient(objstore.NewMemEngine())
		defer c.Close()

		var s *Set
		So(c.Run(ctx, func(ctx context.Context, op client.TxnOperator) error {
			var err error
			s, err = NewSet(ctx, op, WithSplitThreshold(3), WithMinConcurrency(2))
			return err
		}), ShouldBeNil)

		run := func(fn func(op client.TxnOperator) error) {
			So(c.Run(ctx, func(ctx context.Context, op client.TxnOperator) error {
				return fn(op)
			}), ShouldBeNil)
		}

		Convey("Adding elements reports only new ones", func() {
			run(func(op client.TxnOperator) error {
				for i := 0; i < 40; i++ {
					added, err := s.Add(ctx, op, MustInline(i))
					So(err, ShouldBeNil)
					So(added, ShouldBeTrue)
				}
				added, err := s.Add(ctx, op, MustInline(7))
				So(err, ShouldBeNil)
				So(added, ShouldBeFalse)

				n, err := s.Len(ctx, op)
				So(err, ShouldBeNil)
				So(n, ShouldEqual, int64(40))
				return s.Check(ctx, op)
			})

			Convey("Contains sees every element", func() {
				run(func(op client.TxnOperator) error {
					for i := 0; i < 40; i++ {
						ok, err := s.Contains(ctx, op, MustInline(i))
						So(err, ShouldBeNil)
						So(ok, ShouldBeTrue)
					}
					ok, err := s.Contains(ctx, op, MustInline(40))
					So(err, ShouldBeNil)
					So(ok, ShouldBeFalse)
					return nil
				})
			})

			Convey("The iterator returns each element once", func() {
				run(func(op client.TxnOperator) error {
					it, err := s.Iterator(ctx, op)
					So(err, ShouldBeNil)
					seen := make(map[int]bool)
					for {
						ok, err := it.HasNext(ctx, op)
						So(err, ShouldBeNil)
						if !ok {
							break
						}
						key, err := it.Next(ctx, op)
						So(err, ShouldBeNil)
						var k int
						So(key.Decode(ctx, op, &k), ShouldBeNil)
						So(seen[k], ShouldBeFalse)
						seen[k] = true
					}
					So(len(seen), ShouldEqual, 40)
					return nil
				})
			})

			Convey("Removing elements shrinks the set", func() {
				run(func(op client.TxnOperator) error {
					for i := 0; i < 40; i++ {
						removed, err := s.Remove(ctx, op, MustInline(i))
						So(err, ShouldBeNil)
						So(removed, ShouldBeTrue)
					}
					removed, err := s.Remove(ctx, op, MustInline(0))
					So(err, ShouldBeNil)
					So(removed, ShouldBeFalse)

					empty, err := s.IsEmpty(ctx, op)
					So(err, ShouldBeNil)
					So(empty, ShouldBeTrue)
					return s.Check(ctx, op)
				})
			})
		})

		Convey("A reopened set sees the same elements", func() {
			run(func(op client.TxnOperator) error {
				_, err := s.Add(ctx, op, MustInline("x"))
				return err
			})
			other := OpenSet(s.ID())
			run(func(op client.TxnOperator) error {
				ok, err := other.Contains(ctx, op, MustInline("x"))
				So(err, ShouldBeNil)
				So(ok, ShouldBeTrue)
				return nil
			})
		})
	})
}
