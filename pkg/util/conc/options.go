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
	ants "github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/lk2023060901/danmu-garden-matchmaking/pkg/log"
)

type poolOption struct {
	// name 出现在 panic 日志中，用于区分不同的池。
	name string
	// nonBlocking 为 true 时池满直接返回 ants.ErrPoolOverload。
	nonBlocking bool
	// concealPanic 为 true 时任务 panic 只记录日志。
	concealPanic bool
}

func (opt *poolOption) antsOptions() []ants.Option {
	return []ants.Option{
		ants.WithNonblocking(opt.nonBlocking),
		// ants 默认会 recover panic，但不会把错误返回给调用方。
		ants.WithPanicHandler(func(v any) {
			log.Error("conc pool panicked", zap.String("pool", opt.name), zap.Any("panic", v))
			if !opt.concealPanic {
				panic(v)
			}
		}),
	}
}

// PoolOption 用于配置协程池行为的选项函数。
type PoolOption func(opt *poolOption)

func defaultPoolOption() *poolOption {
	return &poolOption{name: "default"}
}

func WithName(name string) PoolOption {
	return func(opt *poolOption) {
		opt.name = name
	}
}

func WithNonBlocking(v bool) PoolOption {
	return func(opt *poolOption) {
		opt.nonBlocking = v
	}
}

func WithConcealPanic(v bool) PoolOption {
	return func(opt *poolOption) {
		opt.concealPanic = v
	}
}
