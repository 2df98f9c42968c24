// Package tools 定义工具目录，并把模型输出中的结构化动作解析为工具调用。
package tools
