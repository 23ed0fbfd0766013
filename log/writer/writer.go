package writer

import (
	"io"

	"github.com/hatlonely/aggx/ref"
)

// Namespace 日志输出器在 ref 中的注册空间
const Namespace = "github.com/hatlonely/aggx/log/writer"

func init() {
	ref.MustRegister(Namespace, "ConsoleWriter", NewConsoleWriterWithOptions)
}

// Writer 日志输出器接口
type Writer interface {
	io.Writer
	io.Closer
}
