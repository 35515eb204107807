package xsched

import "errors"

var (
	// ErrCoordinationUnavailable 启动时无法建立协调会话，节点不能启动。
	ErrCoordinationUnavailable = errors.New("xsched: coordination unavailable")

	// ErrStoreFailure 作业存储读写失败。
	ErrStoreFailure = errors.New("xsched: metadata store failure")

	// ErrJobNotOwned 作业不在本节点执行。
	ErrJobNotOwned = errors.New("xsched: job not owned by this node")

	// ErrNotStarted 节点未启动。
	ErrNotStarted = errors.New("xsched: node not started")

	// ErrAlreadyStarted 节点已启动或已关闭，节点实例不可复用。
	ErrAlreadyStarted = errors.New("xsched: node already started")

	// ErrInvalidNodeID 节点标识为空或包含 "/"。
	ErrInvalidNodeID = errors.New("xsched: invalid node id")

	// ErrNilDependency 必需依赖为 nil。
	ErrNilDependency = errors.New("xsched: nil dependency")

	// ErrInvalidOption 选项值不合法。
	ErrInvalidOption = errors.New("xsched: invalid option")

	// ErrUnknownJobType 没有为作业类型注册执行器。
	ErrUnknownJobType = errors.New("xsched: unknown job type")

	// ErrInvalidParam 作业参数缺失或格式错误。
	ErrInvalidParam = errors.New("xsched: invalid job parameter")
)

// 执行上下文的取消原因。
var (
	errStopRequested   = errors.New("xsched: job stopped externally")
	errLeaseLost       = errors.New("xsched: execution lock lost")
	errShutdown        = errors.New("xsched: node shutting down")
	errJobTimeout      = errors.New("xsched: job timed out")
	errOutcomeReported = errors.New("xsched: outcome reported")
)
