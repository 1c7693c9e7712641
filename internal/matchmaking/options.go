package matchmaking

import "github.com/lk2023060901/danmu-garden-matchmaking/internal/online"

type options struct {
	buildUniqueID int32
	buildVersion  string
}

func defaultOptions() *options {
	return &options{
		buildUniqueID: online.DefaultBuildUniqueID,
	}
}

// Option 为编排器的可选配置。
type Option func(*options)

// WithBuildUniqueID 设置会话与搜索使用的构建标识。
func WithBuildUniqueID(id int32) Option {
	return func(o *options) {
		o.buildUniqueID = id
	}
}

// WithBuildVersion 设置创建会话时公布的构建版本。
func WithBuildVersion(version string) Option {
	return func(o *options) {
		o.buildVersion = version
	}
}
