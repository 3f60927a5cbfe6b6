// Package version exposes build metadata for the CLI and upstream requests.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Version/Commit 通过 -ldflags "-X" 注入；Commit 未注入时尝试读取 VCS 信息。
var (
	Version = "0.1.0"
	Commit  = ""
)

const name = "any-cache"

// Full 返回 CLI 打印用的完整版本串，例如 "any-cache 0.1.0 (abc1234, go1.25.0)"。
func Full() string {
	return fmt.Sprintf("%s %s (%s, %s)", name, Version, commit(), runtime.Version())
}

// UserAgent 是访问上游时携带的 User-Agent。
func UserAgent() string {
	return fmt.Sprintf("%s/%s", name, Version)
}

func commit() string {
	if Commit != "" {
		return Commit
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			if setting.Key == "vcs.revision" && len(setting.Value) >= 7 {
				return setting.Value[:7]
			}
		}
	}
	return "dev"
}
