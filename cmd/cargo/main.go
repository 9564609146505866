// Package main 是 cargo 命令行工具的入口点
// cargo 用于在本地回放调用脚本、运行开发接收端并跟踪进程事件流
package main

import (
	"os"

	"github.com/oriys/nimbus-cargo/cmd/cargo/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
