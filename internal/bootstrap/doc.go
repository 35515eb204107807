// Package bootstrap 把配置文件装配成可运行的调度节点：
// 日志、观测、协调客户端、执行锁、作业存储与执行器注册表。
//
// 配置示例（YAML）：
//
//	node:
//	  id: node-a
//	  poll_interval: 5s
//	  retention: 168h
//	coordination:
//	  backend: etcd
//	  etcd:
//	    endpoints: ["127.0.0.1:2379"]
//	store:
//	  backend: mongo
//	  mongo:
//	    uri: mongodb://127.0.0.1:27017
//	  breaker:
//	    enabled: true
//	log:
//	  level: info
//	  format: json
//
// 配置文件变更时 log.level 与 node.poll_interval 无需重启即可生效，
// 其余字段需要重启节点。
package bootstrap
