// Command clawd 是 ClawAgent 的守护进程与命令行入口。
package main

func main() {
	Execute()
}
