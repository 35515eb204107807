// Package jobs 提供作业模型与存储相关的子包。
//
// 子包列表：
//   - xjob: 作业记录、状态机、存储契约与等待函数
//   - xjobstore: 存储实现（内存、etcd、Redis、MongoDB）与熔断装饰器
package jobs
