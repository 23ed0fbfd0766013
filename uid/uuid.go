package uid

import (
	"encoding/hex"

	"github.com/google/uuid"
	"github.com/hatlonely/aggx/cfg"
	"github.com/pkg/errors"
)

type UUIDOptions struct {
	Version string `cfg:"version" def:"v4" validate:"oneof=v1 v4 v6 v7"`
	// WithHyphens 输出 8-4-4-4-12 格式，否则输出 32 位十六进制
	WithHyphens bool `cfg:"withHyphens"`
}

type UUIDGenerator struct {
	newUUID     func() (uuid.UUID, error)
	withHyphens bool
}

func NewUUIDGeneratorWithOptions(options *UUIDOptions) (*UUIDGenerator, error) {
	if options == nil {
		options = &UUIDOptions{}
	}
	if err := cfg.SetDefaults(options); err != nil {
		return nil, errors.WithMessage(err, "cfg.SetDefaults failed")
	}
	if err := cfg.Validate(options); err != nil {
		return nil, errors.WithMessage(err, "cfg.Validate failed")
	}

	g := &UUIDGenerator{withHyphens: options.WithHyphens}
	switch options.Version {
	case "v1":
		g.newUUID = uuid.NewUUID
	case "v6":
		g.newUUID = uuid.NewV6
	case "v7":
		g.newUUID = uuid.NewV7
	default:
		g.newUUID = uuid.NewRandom
	}
	return g, nil
}

func (g *UUIDGenerator) Generate() string {
	u, err := g.newUUID()
	if err != nil {
		// 时钟或随机源不可用时退回 v4
		u = uuid.New()
	}
	if g.withHyphens {
		return u.String()
	}
	return hex.EncodeToString(u[:])
}
