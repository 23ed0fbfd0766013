package movavg

import (
	"sort"

	"github.com/hatlonely/aggx/cfg"
	"github.com/hatlonely/aggx/ref"
	"github.com/pkg/errors"
)

// Namespace 移动平均模型在 ref 中的注册空间
const Namespace = "github.com/hatlonely/aggx/search/aggregation/movavg"

func init() {
	ref.MustRegister(Namespace, "simple", NewSimpleModel)
	ref.MustRegister(Namespace, "linear", NewLinearModel)
	ref.MustRegister(Namespace, "ewma", NewEWMAModel)
	ref.MustRegister(Namespace, "holt", NewHoltModel)
	ref.MustRegister(Namespace, "median", NewMedianModel)
}

// Model 根据窗口内的值（从旧到新）计算移动平均，窗口为空时返回 0
type Model interface {
	Next(values []float64) float64
}

// NewModel 按名字创建模型，settings 中出现模型不认识的参数会返回错误
func NewModel(name string, settings map[string]interface{}) (Model, error) {
	return ref.NewT[Model](&ref.TypeOptions{Namespace: Namespace, Type: name, Options: settings})
}

// Models 已注册的模型名
func Models() []string {
	return ref.Registered(Namespace)
}

// decodeSettings 校验参数名后绑定到 options，再设置默认值并校验
func decodeSettings(model string, settings map[string]interface{}, options interface{}, allowed ...string) error {
	for k := range settings {
		found := false
		for _, a := range allowed {
			if k == a {
				found = true
				break
			}
		}
		if !found {
			return errors.Errorf("model [%s] does not accept parameter [%s]", model, k)
		}
	}
	if err := cfg.NewValue(settings).ConvertTo(options); err != nil {
		return errors.WithMessagef(err, "model [%s]", model)
	}
	if err := cfg.SetDefaults(options); err != nil {
		return errors.WithMessagef(err, "model [%s]", model)
	}
	if err := cfg.Validate(options); err != nil {
		return errors.WithMessagef(err, "model [%s]", model)
	}
	return nil
}

type SimpleModel struct{}

func NewSimpleModel(settings map[string]interface{}) (Model, error) {
	if err := decodeSettings("simple", settings, &struct{}{}); err != nil {
		return nil, err
	}
	return SimpleModel{}, nil
}

func (SimpleModel) Next(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// LinearModel 越新的值权重越大，权重依次为 1..n
type LinearModel struct{}

func NewLinearModel(settings map[string]interface{}) (Model, error) {
	if err := decodeSettings("linear", settings, &struct{}{}); err != nil {
		return nil, err
	}
	return LinearModel{}, nil
}

func (LinearModel) Next(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum, weights float64
	for i, v := range values {
		w := float64(i + 1)
		sum += v * w
		weights += w
	}
	return sum / weights
}

type EWMAOptions struct {
	Alpha float64 `cfg:"alpha" def:"0.3" validate:"gt=0,lte=1"`
}

// EWMAModel 指数加权：avg = alpha*v + (1-alpha)*avg，以第一个值为初值
type EWMAModel struct {
	alpha float64
}

func NewEWMAModel(settings map[string]interface{}) (Model, error) {
	var options EWMAOptions
	if err := decodeSettings("ewma", settings, &options, "alpha"); err != nil {
		return nil, err
	}
	return &EWMAModel{alpha: options.Alpha}, nil
}

func (m *EWMAModel) Next(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	avg := values[0]
	for _, v := range values[1:] {
		avg = m.alpha*v + (1-m.alpha)*avg
	}
	return avg
}

type HoltOptions struct {
	Alpha float64 `cfg:"alpha" def:"0.3" validate:"gt=0,lte=1"`
	Beta  float64 `cfg:"beta" def:"0.1" validate:"gt=0,lte=1"`
}

// HoltModel 双指数平滑，同时跟踪水平和趋势，返回下一步的预测 s+b
type HoltModel struct {
	alpha float64
	beta  float64
}

func NewHoltModel(settings map[string]interface{}) (Model, error) {
	var options HoltOptions
	if err := decodeSettings("holt", settings, &options, "alpha", "beta"); err != nil {
		return nil, err
	}
	return &HoltModel{alpha: options.Alpha, beta: options.Beta}, nil
}

func (m *HoltModel) Next(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	s, b := values[0], 0.0
	for _, v := range values[1:] {
		lastS := s
		s = m.alpha*v + (1-m.alpha)*(s+b)
		b = m.beta*(s-lastS) + (1-m.beta)*b
	}
	return s + b
}

// MedianModel 排序后取中位数，偶数个时取中间两个的平均
type MedianModel struct{}

func NewMedianModel(settings map[string]interface{}) (Model, error) {
	if err := decodeSettings("median", settings, &struct{}{}); err != nil {
		return nil, err
	}
	return MedianModel{}, nil
}

func (MedianModel) Next(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
