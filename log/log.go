package log

import (
	"sync/atomic"

	"github.com/hatlonely/aggx/log/logger"
	"github.com/hatlonely/aggx/ref"
	"github.com/pkg/errors"
)

// Logger 便于调用方只引用 log 包
type Logger = logger.Logger

var defaultLogger atomic.Value

func init() {
	ref.MustRegister(logger.Namespace, "SLog", logger.NewSLogWithOptions)

	// 默认向终端输出 text 格式日志
	l, err := logger.NewSLogWithOptions(&logger.SLogOptions{Level: "info", Format: "text"})
	if err != nil {
		panic("failed to initialize default logger: " + err.Error())
	}
	SetDefault(l)
}

func Default() Logger {
	return defaultLogger.Load().(*holder).l
}

// SetDefault 替换进程级默认日志器，nil 被忽略
func SetDefault(l Logger) {
	if l == nil {
		return
	}
	defaultLogger.Store(&holder{l: l})
}

// holder 让不同实现的 Logger 能存进同一个 atomic.Value
type holder struct {
	l Logger
}

// NewLoggerWithOptions 通过 ref 创建日志器，options 为 nil 时返回默认日志器
func NewLoggerWithOptions(options *ref.TypeOptions) (Logger, error) {
	if options == nil {
		return Default(), nil
	}

	namespace := options.Namespace
	if namespace == "" {
		namespace = logger.Namespace
	}
	obj, err := ref.New(namespace, options.Type, options.Options)
	if err != nil {
		return nil, errors.WithMessage(err, "ref.New failed")
	}
	l, ok := obj.(Logger)
	if !ok {
		return nil, errors.Errorf("%T does not implement Logger interface", obj)
	}
	return l, nil
}
