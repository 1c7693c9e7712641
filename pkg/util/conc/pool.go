// Licensed to the LF AI & Data foundation under one
// or more contributor license agreements. See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership. The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package conc

import (
	"fmt"
	"runtime"

	"github.com/cockroachdb/errors"
	ants "github.com/panjf2000/ants/v2"
)

// Pool 是对 ants.Pool 的泛型封装，提交的任务返回 Future。
type Pool[T any] struct {
	inner *ants.Pool
	opt   *poolOption
}

// NewPool 创建一个容量为 cap 的协程池，cap <= 0 时使用 CPU 核数。
func NewPool[T any](cap int, opts ...PoolOption) *Pool[T] {
	if cap <= 0 {
		cap = runtime.GOMAXPROCS(0)
	}
	opt := defaultPoolOption()
	for _, o := range opts {
		o(opt)
	}

	pool, err := ants.NewPool(cap, opt.antsOptions()...)
	if err != nil {
		panic(err)
	}

	return &Pool[T]{
		inner: pool,
		opt:   opt,
	}
}

// Submit 提交一个任务，返回对应的 Future。
// 当池已关闭或非阻塞模式下池已满时，Future 直接携带提交错误。
func (pool *Pool[T]) Submit(method func() (T, error)) *Future[T] {
	future := newFuture[T]()
	err := pool.inner.Submit(func() {
		defer close(future.ch)
		defer func() {
			if x := recover(); x != nil {
				future.err = fmt.Errorf("panicked with error: %v", x)
				panic(x) // 交给 ants 的 panic handler 处理
			}
		}()
		res, err := method()
		if err != nil {
			future.err = err
		} else {
			future.value = res
		}
	})
	if err != nil {
		future.err = errors.Wrap(err, "submit task to pool")
		close(future.ch)
	}

	return future
}

// Cap 返回协程池容量。
func (pool *Pool[T]) Cap() int {
	return pool.inner.Cap()
}

// Running 返回正在运行的 worker 数量。
func (pool *Pool[T]) Running() int {
	return pool.inner.Running()
}

// Release 关闭协程池，已提交的任务会继续执行完。
func (pool *Pool[T]) Release() {
	pool.inner.Release()
}
