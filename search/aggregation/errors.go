package aggregation

import (
	"fmt"

	"github.com/hatlonely/aggx/search/fielddata"
	"github.com/pkg/errors"
)

// MaxBucketSize size/shardSize 的上限
const MaxBucketSize = 10000

var (
	// ErrConfiguration 聚合树配置错误，构造阶段返回，请求应被拒绝
	ErrConfiguration = errors.New("invalid aggregation configuration")
	// ErrDecode 分片结果无法解码，不能当作空结果处理
	ErrDecode = errors.New("failed to decode aggregation")
	// ErrUnknownType 未注册的类型标签
	ErrUnknownType = errors.Wrap(ErrDecode, "unknown aggregation type")
	// ErrReduce 参与合并的结果名字或类型不一致
	ErrReduce = errors.New("failed to reduce aggregation")
	// ErrTooManyBuckets 补空桶后的桶数超过 MaxBucketSize
	ErrTooManyBuckets = errors.New("too many buckets")
)

// ResolutionError 找不到满足类型要求的值来源
type ResolutionError struct {
	AggName  string
	Field    string
	Required fielddata.ValueType
	Actual   fielddata.ValueType
}

func (e *ResolutionError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("aggregation [%s]: field [%s] is %s, expected %s", e.AggName, e.Field, e.Actual, e.Required)
	}
	return fmt.Sprintf("aggregation [%s]: no %s values source found on the aggregation or its ancestors", e.AggName, e.Required)
}

func (e *ResolutionError) Unwrap() error {
	return ErrConfiguration
}

func configError(aggName string, format string, args ...interface{}) error {
	return errors.Wrapf(ErrConfiguration, "aggregation [%s]: %s", aggName, fmt.Sprintf(format, args...))
}
