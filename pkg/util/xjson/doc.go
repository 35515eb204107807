// Package xjson 提供命令行使用的 JSON 输出。
//
// 输出统一为两空格缩进，且不转义 HTML 字符，
// 以便 exec 作业参数中的 "&&"、"<" 等原样显示。
package xjson
