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

package metrics

import (
	// #nosec
	_ "net/http/pprof"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// matchmakingNamespace 是当前项目所有 Prometheus 指标使用的命名空间。
	matchmakingNamespace = "matchmaking"

	// 以下为当前使用的通用标签名。
	subsystemLabelName = "subsystem"
	opLabelName        = "op"
	outcomeLabelName   = "outcome"
	channelLabelName   = "channel"

	// outcome 取值
	OutcomeAccepted  = "accepted"
	OutcomeRejected  = "rejected"
	OutcomeSuccess   = "success"
	OutcomeFailure   = "failure"
	OutcomeSkipped   = "skipped"
	OutcomeDuplicate = "duplicate"
)

var (
	// buckets 为请求耗时直方图的桶划分，单位为毫秒。
	// 实际桶分布为：
	// [1 2 4 8 16 32 64 128 256 512 1024 2048 4096 8192 16384 32768 65536 1.31072e+05]
	buckets = prometheus.ExponentialBuckets(1, 2, 18)

	// SessionRequests 统计编排器发往 Provider 的请求，按操作和同步结果分类。
	SessionRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: matchmakingNamespace,
			Name:      "session_requests_total",
			Help:      "number of session requests issued to the online provider",
		}, []string{subsystemLabelName, opLabelName, outcomeLabelName})

	// SessionCompletions 统计 Provider 回调的完成结果。
	SessionCompletions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: matchmakingNamespace,
			Name:      "session_completions_total",
			Help:      "number of asynchronous completions received from the online provider",
		}, []string{subsystemLabelName, opLabelName, outcomeLabelName})

	// SessionRequestLatency 为请求发出到完成回调之间的耗时，单位毫秒。
	SessionRequestLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: matchmakingNamespace,
			Name:      "session_request_latency",
			Help:      "latency between a session request and its completion in milliseconds",
			Buckets:   buckets,
		}, []string{subsystemLabelName, opLabelName})

	// InFlightRequests 为当前已安装完成回调、尚未完成的请求数。
	InFlightRequests = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: matchmakingNamespace,
			Name:      "in_flight_requests",
			Help:      "number of session requests waiting for completion",
		}, []string{opLabelName})

	// Broadcasts 统计结果广播次数。
	Broadcasts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: matchmakingNamespace,
			Name:      "broadcasts_total",
			Help:      "number of results broadcast to callers",
		}, []string{channelLabelName})

	// DeferredRecreates 统计销毁完成后触发的延迟重建次数。
	DeferredRecreates = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: matchmakingNamespace,
			Name:      "deferred_recreates_total",
			Help:      "number of session creations replayed after a destroy completed",
		})

	// AdvertisedSessions 为 Provider 当前可见的公开会话数量。
	AdvertisedSessions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: matchmakingNamespace,
			Name:      "advertised_sessions",
			Help:      "number of sessions advertised by the provider",
		}, []string{subsystemLabelName})

	metricRegisterer prometheus.Registerer
)

// GetRegisterer 返回全局 Prometheus Registerer。
// 如果尚未通过 Register 显式设置，则返回 prometheus.DefaultRegisterer。
func GetRegisterer() prometheus.Registerer {
	if metricRegisterer == nil {
		return prometheus.DefaultRegisterer
	}
	return metricRegisterer
}

// Register 注册当前定义的所有指标。
func Register(r prometheus.Registerer) {
	r.MustRegister(SessionRequests)
	r.MustRegister(SessionCompletions)
	r.MustRegister(SessionRequestLatency)
	r.MustRegister(InFlightRequests)
	r.MustRegister(Broadcasts)
	r.MustRegister(DeferredRecreates)
	r.MustRegister(AdvertisedSessions)
	metricRegisterer = r
}
