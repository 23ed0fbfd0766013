package uid

import (
	"github.com/hatlonely/aggx/ref"
	"github.com/pkg/errors"
)

// Namespace 生成器在 ref 中的注册空间
const Namespace = "github.com/hatlonely/aggx/uid"

func init() {
	ref.MustRegister(Namespace, "UUIDGenerator", NewUUIDGeneratorWithOptions)
}

// Generator 生成字符串 id，实现需要支持并发调用
type Generator interface {
	Generate() string
}

// NewGeneratorWithOptions 按配置创建生成器，options 为 nil 时使用 v4 UUID
func NewGeneratorWithOptions(options *ref.TypeOptions) (Generator, error) {
	if options == nil {
		options = &ref.TypeOptions{Type: "UUIDGenerator"}
	}
	namespace := options.Namespace
	if namespace == "" {
		namespace = Namespace
	}
	g, err := ref.NewT[Generator](&ref.TypeOptions{Namespace: namespace, Type: options.Type, Options: options.Options})
	if err != nil {
		return nil, errors.WithMessage(err, "ref.NewT failed")
	}
	return g, nil
}
