package coordinator

import (
	"github.com/hatlonely/aggx/search/aggregation"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// 分片响应的字段号
const (
	fieldShardID protowire.Number = 1
	fieldPayload protowire.Number = 2
	fieldFailure protowire.Number = 3
)

// ShardResponse 一个分片发给协调节点的响应
//
// Payload 是 aggregation.Marshal 的结果；Failure 非空表示分片执行失败
type ShardResponse struct {
	ShardID string
	Payload []byte
	Failure string
}

// NewShardResponse 编码分片结果
func NewShardResponse(shardID string, aggs aggregation.InternalAggregations) (*ShardResponse, error) {
	payload, err := aggregation.Marshal(aggs)
	if err != nil {
		return nil, errors.WithMessagef(err, "shard [%s]", shardID)
	}
	return &ShardResponse{ShardID: shardID, Payload: payload}, nil
}

// MarshalEnvelope 按 protobuf 线格式编码，未知字段号在解码时跳过
func MarshalEnvelope(resp *ShardResponse) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldShardID, protowire.BytesType)
	b = protowire.AppendString(b, resp.ShardID)
	if resp.Payload != nil {
		b = protowire.AppendTag(b, fieldPayload, protowire.BytesType)
		b = protowire.AppendBytes(b, resp.Payload)
	}
	if resp.Failure != "" {
		b = protowire.AppendTag(b, fieldFailure, protowire.BytesType)
		b = protowire.AppendString(b, resp.Failure)
	}
	return b
}

func UnmarshalEnvelope(b []byte) (*ShardResponse, error) {
	resp := &ShardResponse{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, errors.Wrapf(aggregation.ErrDecode, "envelope tag: %v", protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldShardID && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, errors.Wrapf(aggregation.ErrDecode, "envelope shard id: %v", protowire.ParseError(n))
			}
			resp.ShardID = v
			b = b[n:]
		case num == fieldPayload && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, errors.Wrapf(aggregation.ErrDecode, "envelope payload: %v", protowire.ParseError(n))
			}
			resp.Payload = append([]byte{}, v...)
			b = b[n:]
		case num == fieldFailure && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, errors.Wrapf(aggregation.ErrDecode, "envelope failure: %v", protowire.ParseError(n))
			}
			resp.Failure = v
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, errors.Wrapf(aggregation.ErrDecode, "envelope field %d: %v", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	if resp.ShardID == "" {
		return nil, errors.Wrap(aggregation.ErrDecode, "envelope has no shard id")
	}
	return resp, nil
}

// Aggregations 解码分片结果，错误中带上分片 id
func (r *ShardResponse) Aggregations() (aggregation.InternalAggregations, error) {
	if r.Failure != "" {
		return nil, errors.Errorf("shard [%s] failed: %s", r.ShardID, r.Failure)
	}
	aggs, err := aggregation.Unmarshal(r.Payload)
	if err != nil {
		return nil, errors.WithMessagef(err, "shard [%s]", r.ShardID)
	}
	return aggs, nil
}
